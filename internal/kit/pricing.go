package kit

import "math"

// modelPrice is USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// Prices as of 2025. Unlisted models cost nil, not zero: callers must
// not treat missing pricing as free.
var pricingTable = map[string]map[string]modelPrice{
	"anthropic": {
		"claude-sonnet-4-20250514":   {input: 3.0, output: 15.0},
		"claude-opus-4-20250514":     {input: 15.0, output: 75.0},
		"claude-3-5-sonnet-20241022": {input: 3.0, output: 15.0},
		"claude-3-5-haiku-20241022":  {input: 0.8, output: 4.0},
		"claude-3-haiku-20240307":    {input: 0.25, output: 1.25},
	},
	"openai": {
		"gpt-4o":      {input: 2.5, output: 10.0},
		"gpt-4o-mini": {input: 0.15, output: 0.6},
		"gpt-4.1":     {input: 2.0, output: 8.0},
		"o4-mini":     {input: 1.1, output: 4.4},
	},
}

// EstimateCost converts usage into USD for a known provider/model pair.
// Returns nil when the model has no pricing entry.
func EstimateCost(provider, model string, usage Usage) *Cost {
	price, ok := pricingTable[provider][model]
	if !ok {
		return nil
	}
	in := round6(float64(usage.InputTokens) / 1e6 * price.input)
	out := round6(float64(usage.OutputTokens) / 1e6 * price.output)
	total := round6(in + out)
	return &Cost{InputCostUSD: &in, OutputCostUSD: &out, TotalCostUSD: &total}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
