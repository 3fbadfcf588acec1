package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Volpestyle/vuhlp-code/internal/config"
	"github.com/Volpestyle/vuhlp-code/internal/kit"
)

// resolveModel picks the primary model for a policy. Shared by the
// engines and the spec generator.
func resolveModel(k *kit.Kit, policy config.ModelPolicy) (kit.ModelRecord, error) {
	if k == nil {
		return kit.ModelRecord{}, fmt.Errorf("kit is nil")
	}
	resolution, err := kit.Router{}.Resolve(k.ListModelRecords(), kit.ResolutionRequest{
		Constraints: kit.Constraints{
			RequireTools:  policy.RequireTools,
			RequireVision: policy.RequireVision,
			MaxCostUSD:    policy.MaxCostUSD,
		},
		PreferredModels: policy.PreferredModels,
	})
	if err != nil {
		return kit.ModelRecord{}, err
	}
	return resolution.Primary, nil
}

// SpecGenerator drafts spec.md content from a natural-language prompt.
type SpecGenerator struct {
	kit *kit.Kit

	mu     sync.Mutex
	policy config.ModelPolicy
}

// NewSpecGenerator returns a generator bound to the kit and policy.
func NewSpecGenerator(k *kit.Kit, policy config.ModelPolicy) *SpecGenerator {
	return &SpecGenerator{kit: k, policy: policy}
}

// SetPolicy swaps the model policy used for future generations.
func (g *SpecGenerator) SetPolicy(policy config.ModelPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
}

// GenerateSpec produces markdown spec content for specName from the
// user prompt, grounded on the workspace's AGENTS.md when present.
// Output missing a Goal heading is replaced by a deterministic
// fallback so the result always validates.
func (g *SpecGenerator) GenerateSpec(ctx context.Context, workspacePath, specName, prompt string) (string, error) {
	if g.kit == nil {
		return "", fmt.Errorf("kit is nil")
	}
	g.mu.Lock()
	policy := g.policy
	g.mu.Unlock()

	model, err := resolveModel(g.kit, policy)
	if err != nil {
		return "", err
	}

	agents := ""
	if raw, err := os.ReadFile(filepath.Join(workspacePath, "AGENTS.md")); err == nil {
		agents = string(raw)
	}

	out, err := g.kit.Generate(ctx, kit.GenerateInput{
		Provider: model.Provider,
		Model:    model.ProviderModelID,
		Messages: []kit.Message{{
			Role:    "user",
			Content: []kit.ContentPart{{Type: "text", Text: buildSpecPrompt(specName, prompt, agents)}},
		}},
	})
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(out.Text)
	if content == "" {
		return "", fmt.Errorf("model returned empty spec")
	}
	if !strings.Contains(content, "# Goal") {
		content = fallbackSpec(specName, prompt)
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content, nil
}

func buildSpecPrompt(name, prompt, agents string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert product/spec writer for a coding agent harness.\n")
	sb.WriteString("Return ONLY markdown (no code fences, no commentary).\n")
	sb.WriteString("Follow this exact structure:\n")
	sb.WriteString("---\n")
	sb.WriteString("name: " + name + "\n")
	sb.WriteString("owner: you\n")
	sb.WriteString("status: draft\n")
	sb.WriteString("---\n\n")
	sb.WriteString("# Goal\n\n")
	sb.WriteString("<one paragraph goal>\n\n")
	sb.WriteString("# Constraints / nuances\n\n")
	sb.WriteString("- <bullets>\n\n")
	sb.WriteString("# Acceptance tests\n\n")
	sb.WriteString("- <bulleted, runnable checks>\n\n")
	sb.WriteString("# Notes\n\n")
	sb.WriteString("- <optional>\n\n")
	sb.WriteString("USER PROMPT:\n" + prompt + "\n\n")
	if strings.TrimSpace(agents) != "" {
		sb.WriteString("AGENTS.md:\n" + agents + "\n\n")
	}
	return sb.String()
}

func fallbackSpec(name, prompt string) string {
	return "---\n" +
		"name: " + name + "\n" +
		"owner: you\n" +
		"status: draft\n" +
		"---\n\n" +
		"# Goal\n\n" +
		strings.TrimSpace(prompt) + "\n\n" +
		"# Constraints / nuances\n\n" +
		"- Follow repo conventions in AGENTS.md.\n\n" +
		"# Acceptance tests\n\n" +
		"- make test\n"
}
