package agent

import (
	"strings"
	"testing"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
)

func TestNormalizeToolInput(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "{}"},
		{"   ", "{}"},
		{"null", "{}"},
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
		{`Sure, calling with {"path":"main.go"} now`, `{"path":"main.go"}`},
		{`first {"a":1} then {"b":2}`, `{"b":2}`},
		{"not json at all", "not json at all"},
	}
	for _, tc := range cases {
		if got := NormalizeToolInput(tc.in); got != tc.want {
			t.Errorf("NormalizeToolInput(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractLastJSONObjectNested(t *testing.T) {
	text := `prefix {"outer":{"inner":2}} suffix`
	if got := extractLastJSONObject(text); got != `{"outer":{"inner":2}}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
	if got := extractLastJSONObject("{broken"); got != "" {
		t.Fatalf("expected empty for unbalanced text, got %q", got)
	}
}

func TestToolCallKeyCanonicalizes(t *testing.T) {
	a := ToolCallKey("read_file", `{"path": "a.go", "start_line": 1}`)
	b := ToolCallKey("read_file", `{"start_line":1,"path":"a.go"}`)
	if a != b {
		t.Fatalf("equivalent inputs produced different keys: %q vs %q", a, b)
	}
	c := ToolCallKey("read_file", `{"path":"b.go"}`)
	if a == c {
		t.Fatal("different inputs must produce different keys")
	}
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), []string{"make test"})
	defs := r.Definitions()
	if len(defs) != 9 {
		t.Fatalf("expected 9 tools, got %d", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Fatalf("definitions not sorted: %s before %s", defs[i-1].Name, defs[i].Name)
		}
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Invoke(ToolCall{ID: "call_1", Name: "nope", Input: "{}"}, cancel.NewToken())
	if res.OK || res.Error != "unknown tool" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRegistryValidatesInput(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), nil)
	res := r.Invoke(ToolCall{ID: "call_1", Name: "read_file", Input: `{"path":123}`}, cancel.NewToken())
	if res.OK {
		t.Fatal("expected schema violation to fail the call")
	}
	if !strings.Contains(res.Error, "invalid input") {
		t.Fatalf("unexpected error: %s", res.Error)
	}
}

func TestKitDefinitionsFillEmptySchema(t *testing.T) {
	r := DefaultRegistry(t.TempDir(), nil)
	for _, def := range r.KitDefinitions() {
		if len(def.Parameters) == 0 {
			t.Fatalf("tool %s has no parameter schema", def.Name)
		}
	}
}

func TestApprovalPolicy(t *testing.T) {
	policy := DefaultApprovalPolicy()
	cases := []struct {
		def  ToolDefinition
		want bool
	}{
		{ToolDefinition{Name: "repo_tree", Kind: KindRead}, false},
		{ToolDefinition{Name: "shell", Kind: KindExec, RequiresApproval: true}, true},
		{ToolDefinition{Name: "verify", Kind: KindExec}, true},
		{ToolDefinition{Name: "apply_patch", Kind: KindWrite}, true},
		{ToolDefinition{Name: "write_spec", Kind: KindWrite, AllowWithoutApproval: true}, false},
	}
	for _, tc := range cases {
		if got := policy.RequiresApproval(tc.def); got != tc.want {
			t.Errorf("RequiresApproval(%s) = %t, want %t", tc.def.Name, got, tc.want)
		}
	}

	named := ApprovalPolicy{RequireForTools: []string{"repo_map"}}
	if !named.RequiresApproval(ToolDefinition{Name: "repo_map", Kind: KindRead}) {
		t.Fatal("named tool should require approval")
	}
}

func TestParsePlanFromText(t *testing.T) {
	plan, err := ParsePlanFromText("```json\n{\"steps\":[{\"title\":\"Run tests\",\"type\":\"command\",\"command\":\"make test\"}]}\n```")
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Command != "make test" {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	plan, err = ParsePlanFromText(`Here is the plan: {"steps":[{"title":"x","type":"note"}]} hope it helps`)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}

	if _, err := ParsePlanFromText(`{"steps":[]}`); err == nil {
		t.Fatal("expected error for empty steps")
	}
	if _, err := ParsePlanFromText("no json here"); err == nil {
		t.Fatal("expected error for non-JSON text")
	}
}

func TestPlanNormalize(t *testing.T) {
	plan := Plan{Steps: []PlanStep{{}}}
	plan.normalize()
	step := plan.Steps[0]
	if step.ID == "" || step.Type != "note" || step.Title != "note" {
		t.Fatalf("normalize did not fill defaults: %+v", step)
	}
}

func TestDefaultPlan(t *testing.T) {
	plan := DefaultPlan()
	if len(plan.Steps) != 2 {
		t.Fatalf("unexpected default plan: %+v", plan)
	}
	if plan.Steps[0].Command != "make test" || plan.Steps[1].Command != "make diagrams" {
		t.Fatalf("unexpected commands: %+v", plan.Steps)
	}
}
