package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Volpestyle/vuhlp-code/internal/ids"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
)

// PlanStep is one executable unit of a run plan.
type PlanStep struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Type          string `json:"type"`
	NeedsApproval bool   `json:"needs_approval"`
	Command       string `json:"command,omitempty"`
	Patch         string `json:"patch,omitempty"`
}

// Plan is an ordered list of steps derived from a spec.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// DefaultPlan is the conservative fallback when the model produces an
// unusable plan: run the tests, then try the diagrams.
func DefaultPlan() Plan {
	return Plan{Steps: []PlanStep{
		{ID: ids.NewStep(), Title: "Run tests", Type: "command", Command: "make test"},
		{ID: ids.NewStep(), Title: "Render diagrams (best effort)", Type: "command", Command: "make diagrams"},
	}}
}

// GeneratePlan asks the model for a plan over the spec and workspace
// context. Any parse failure falls back to DefaultPlan so a run can
// always proceed.
func GeneratePlan(ctx context.Context, k *kit.Kit, model kit.ModelRecord, specText string, bundle ContextBundle) (Plan, error) {
	if k == nil {
		return Plan{}, fmt.Errorf("kit is nil")
	}
	prompt := buildPlanningPrompt(specText, bundle)
	out, err := k.Generate(ctx, kit.GenerateInput{
		Provider: model.Provider,
		Model:    model.ProviderModelID,
		Messages: []kit.Message{{Role: "user", Content: []kit.ContentPart{{Type: "text", Text: prompt}}}},
	})
	if err != nil {
		return Plan{}, err
	}
	plan, err := ParsePlanFromText(out.Text)
	if err != nil {
		return DefaultPlan(), nil
	}
	plan.normalize()
	return plan, nil
}

// ParsePlanFromText extracts a plan from model output. Code fences and
// surrounding prose are tolerated; the first balanced JSON object is
// parsed.
func ParsePlanFromText(text string) (Plan, error) {
	value := strings.TrimSpace(text)
	value = strings.TrimPrefix(value, "```json")
	value = strings.TrimPrefix(value, "```")
	value = strings.TrimSuffix(value, "```")
	value = strings.TrimSpace(value)
	if start, end := strings.Index(value, "{"), strings.LastIndex(value, "}"); start >= 0 && end > start {
		value = value[start : end+1]
	}
	var plan Plan
	if err := json.Unmarshal([]byte(value), &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return Plan{}, fmt.Errorf("no steps in plan")
	}
	return plan, nil
}

func (p *Plan) normalize() {
	for i := range p.Steps {
		step := &p.Steps[i]
		if strings.TrimSpace(step.ID) == "" {
			step.ID = ids.NewStep()
		}
		if strings.TrimSpace(step.Type) == "" {
			step.Type = "note"
		}
		if strings.TrimSpace(step.Title) == "" {
			step.Title = step.Type
		}
	}
}

func buildPlanningPrompt(specText string, bundle ContextBundle) string {
	var sb strings.Builder
	sb.WriteString("You are an expert coding-agent planner.\n")
	sb.WriteString("Return JSON ONLY (no markdown, no code fences) with this exact schema:\n\n")
	sb.WriteString(`{"steps":[{"id":"step_...","title":"...","type":"command|patch|diagram|note","needs_approval":true|false,"command":"...","patch":"..."}]}` + "\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use needs_approval=true for any destructive command or infra change.\n")
	sb.WriteString("- Use type=patch with a unified diff in patch when you propose code edits.\n")
	sb.WriteString("- Keep the step list short and executable.\n\n")
	sb.WriteString("SPEC:\n")
	sb.WriteString(specText)
	sb.WriteString("\n\n")
	if bundle.AgentsMD != "" {
		sb.WriteString("AGENTS.md:\n" + bundle.AgentsMD + "\n\n")
	}
	if bundle.RepoMap != "" {
		sb.WriteString("REPO MAP (symbols):\n" + bundle.RepoMap + "\n\n")
	}
	if bundle.GitStatus != "" {
		sb.WriteString("GIT STATUS:\n" + bundle.GitStatus + "\n\n")
	}
	return sb.String()
}
