package store

// Session lifecycle states.
const (
	SessionActive          = "active"
	SessionWaitingApproval = "waiting_approval"
	SessionCompleted       = "completed"
	SessionFailed          = "failed"
	SessionCanceled        = "canceled"
)

// Session modes.
const (
	ModeChat = "chat"
	ModeSpec = "spec"
)

// Turn lifecycle states.
const (
	TurnPending         = "pending"
	TurnRunning         = "running"
	TurnWaitingApproval = "waiting_approval"
	TurnSucceeded       = "succeeded"
	TurnFailed          = "failed"
)

// MessagePart is one block of a message: text, an attachment reference,
// a tool call, or a tool result.
type MessagePart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Ref        string `json:"ref,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  any    `json:"tool_input,omitempty"`
}

// Message is one entry in a session transcript.
type Message struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Parts      []MessagePart `json:"parts"`
	CreatedAt  string        `json:"created_at"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// Turn is one engine pass over a session.
type Turn struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SessionCost accumulates estimated model spend in USD.
type SessionCost struct {
	InputCostUSD  *float64 `json:"input_cost_usd,omitempty"`
	OutputCostUSD *float64 `json:"output_cost_usd,omitempty"`
	TotalCostUSD  *float64 `json:"total_cost_usd,omitempty"`
}

// Session is a persistent conversation bound to a workspace.
type Session struct {
	ID            string       `json:"id"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`
	Status        string       `json:"status"`
	Mode          string       `json:"mode,omitempty"`
	WorkspacePath string       `json:"workspace_path"`
	SystemPrompt  string       `json:"system_prompt,omitempty"`
	SpecPath      string       `json:"spec_path,omitempty"`
	LastTurnID    string       `json:"last_turn_id,omitempty"`
	Messages      []Message    `json:"messages,omitempty"`
	Turns         []Turn       `json:"turns,omitempty"`
	Cost          *SessionCost `json:"cost,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// SessionEvent is one line of a session's NDJSON event log.
type SessionEvent struct {
	TS        string         `json:"ts"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ApprovalDecision is a human verdict on a pending tool call.
type ApprovalDecision struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (s *Session) clone() *Session {
	out := *s
	if s.Messages != nil {
		out.Messages = append([]Message(nil), s.Messages...)
	}
	if s.Turns != nil {
		out.Turns = append([]Turn(nil), s.Turns...)
	}
	if s.Cost != nil {
		cost := *s.Cost
		out.Cost = &cost
	}
	return &out
}
