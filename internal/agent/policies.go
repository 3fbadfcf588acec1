package agent

// VerifyPolicy controls automatic verification after a turn that
// changed the workspace.
type VerifyPolicy struct {
	AutoVerify bool     `json:"auto_verify"`
	Commands   []string `json:"commands"`
}

// DefaultVerifyPolicy runs the repo's test target after dirty turns.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{AutoVerify: true, Commands: []string{"make test"}}
}

// ApprovalPolicy decides which tool calls pause for a human.
type ApprovalPolicy struct {
	// RequireForKinds gates every tool of the listed kinds.
	RequireForKinds []string `json:"require_for_kinds"`
	// RequireForTools always gates the named tools, whatever their kind.
	RequireForTools []string `json:"require_for_tools"`
}

// DefaultApprovalPolicy gates all write and exec tools.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{RequireForKinds: []string{KindWrite, KindExec}}
}

// RequiresApproval applies the policy to a tool definition.
// AllowWithoutApproval opts a tool out entirely.
func (p ApprovalPolicy) RequiresApproval(def ToolDefinition) bool {
	if def.AllowWithoutApproval {
		return false
	}
	if def.RequiresApproval {
		return true
	}
	for _, kind := range p.RequireForKinds {
		if kind == def.Kind {
			return true
		}
	}
	for _, name := range p.RequireForTools {
		if name == def.Name {
			return true
		}
	}
	return false
}
