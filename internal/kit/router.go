package kit

import "fmt"

// Constraints narrows the candidate model set during resolution.
type Constraints struct {
	RequireTools  bool    `json:"require_tools"`
	RequireVision bool    `json:"require_vision"`
	MaxCostUSD    float64 `json:"max_cost_usd"`
}

// ResolutionRequest asks the router to pick models for a task.
type ResolutionRequest struct {
	Constraints     Constraints
	PreferredModels []string
}

// Resolution is the router's answer: a primary model plus ordered
// fallbacks.
type Resolution struct {
	Primary   ModelRecord
	Fallbacks []ModelRecord
}

// Router selects models from a catalog under constraints.
type Router struct{}

// Nominal generation size for the max-cost check: one large turn of
// context plus a full-length reply.
const (
	nominalInputTokens  = 200_000
	nominalOutputTokens = 16_000
)

// nominalCostUSD prices one nominal generation for a record.
func nominalCostUSD(r ModelRecord) float64 {
	return float64(nominalInputTokens)/1e6*r.InputPerMTok +
		float64(nominalOutputTokens)/1e6*r.OutputPerMTok
}

// Resolve filters records by the request's constraints and orders the
// survivors: preferred models first (in preference order), then the
// rest in catalog order. The first survivor becomes the primary.
// MaxCostUSD drops priced models whose nominal generation exceeds the
// budget; records without pricing pass (absent pricing is unknown, not
// free, and cost accounting catches up at generation time).
func (Router) Resolve(records []ModelRecord, req ResolutionRequest) (*Resolution, error) {
	var candidates []ModelRecord
	for _, r := range records {
		if req.Constraints.RequireTools && !r.SupportsTools {
			continue
		}
		if req.Constraints.RequireVision && !r.SupportsVision {
			continue
		}
		if req.Constraints.MaxCostUSD > 0 && (r.InputPerMTok > 0 || r.OutputPerMTok > 0) {
			if nominalCostUSD(r) > req.Constraints.MaxCostUSD {
				continue
			}
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no model satisfies constraints")
	}

	var ordered []ModelRecord
	used := make(map[string]bool)
	for _, pref := range req.PreferredModels {
		for _, r := range candidates {
			if used[r.ID] {
				continue
			}
			if r.ID == pref || r.ProviderModelID == pref {
				ordered = append(ordered, r)
				used[r.ID] = true
			}
		}
	}
	for _, r := range candidates {
		if !used[r.ID] {
			ordered = append(ordered, r)
			used[r.ID] = true
		}
	}
	return &Resolution{Primary: ordered[0], Fallbacks: ordered[1:]}, nil
}
