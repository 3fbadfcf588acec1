package kit

import (
	"context"
	"fmt"
	"sort"
)

// Kit routes generation requests to registered providers.
type Kit struct {
	providers map[string]Provider
}

// New builds a kit from the given providers. Nil providers are skipped.
func New(providers ...Provider) *Kit {
	k := &Kit{providers: make(map[string]Provider)}
	for _, p := range providers {
		if p != nil {
			k.providers[p.Name()] = p
		}
	}
	return k
}

// HasProviders reports whether any backend is configured.
func (k *Kit) HasProviders() bool { return len(k.providers) > 0 }

// ListModelRecords returns the combined catalog of all providers,
// sorted by id for stable output.
func (k *Kit) ListModelRecords() []ModelRecord {
	var out []ModelRecord
	for _, p := range k.providers {
		out = append(out, p.Models()...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Generate dispatches the request to the named provider. When the
// output carries usage but no cost, the cost is estimated from the
// pricing table.
func (k *Kit) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	p, ok := k.providers[in.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", in.Provider)
	}
	out, err := p.Generate(ctx, in)
	if err != nil {
		return nil, err
	}
	if out.Cost == nil && out.Usage != nil {
		out.Cost = EstimateCost(in.Provider, in.Model, *out.Usage)
	}
	return out, nil
}
