// Package store persists runs and sessions as JSON files under the
// data directory and fans out their event logs to live subscribers.
//
// Layout:
//
//	<data_dir>/runs/<run_id>/run.json
//	<data_dir>/runs/<run_id>/events.ndjson
//	<data_dir>/runs/<run_id>/artifacts/...
//	<data_dir>/sessions/<session_id>/session.json
//	<data_dir>/sessions/<session_id>/events.ndjson
//	<data_dir>/sessions/<session_id>/attachments/...
//	<data_dir>/sessions/<session_id>/artifacts/<turn_id>/...
package store

// Run lifecycle states.
const (
	RunQueued          = "queued"
	RunRunning         = "running"
	RunWaitingApproval = "waiting_approval"
	RunSucceeded       = "succeeded"
	RunFailed          = "failed"
	RunCanceled        = "canceled"
)

// Step lifecycle states.
const (
	StepPending         = "pending"
	StepRunning         = "running"
	StepWaitingApproval = "waiting_approval"
	StepSucceeded       = "succeeded"
	StepFailed          = "failed"
	StepSkipped         = "skipped"
)

// Step is one unit of a run's plan.
type Step struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Type          string `json:"type"`
	NeedsApproval bool   `json:"needs_approval"`
	Command       string `json:"command,omitempty"`
	Patch         string `json:"patch,omitempty"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// Run is one spec-driven execution against a workspace.
type Run struct {
	ID             string `json:"id"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	Status         string `json:"status"`
	WorkspacePath  string `json:"workspace_path"`
	SpecPath       string `json:"spec_path"`
	ModelCanonical string `json:"model_canonical,omitempty"`
	Steps          []Step `json:"steps,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Event is one line of a run's NDJSON event log.
type Event struct {
	TS      string         `json:"ts"`
	RunID   string         `json:"run_id"`
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func (r *Run) clone() *Run {
	out := *r
	if r.Steps != nil {
		out.Steps = append([]Step(nil), r.Steps...)
	}
	return &out
}
