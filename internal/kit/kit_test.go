package kit

import (
	"context"
	"testing"
)

type stubProvider struct {
	name   string
	models []ModelRecord
	out    *GenerateOutput
}

func (s *stubProvider) Name() string          { return s.name }
func (s *stubProvider) Models() []ModelRecord { return s.models }
func (s *stubProvider) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	return s.out, nil
}

func TestKitListAndGenerate(t *testing.T) {
	p := &stubProvider{
		name: "anthropic",
		models: []ModelRecord{
			{ID: "anthropic/claude-sonnet-4", Provider: "anthropic", ProviderModelID: "claude-sonnet-4-20250514", SupportsTools: true},
		},
		out: &GenerateOutput{Text: "hi", Usage: &Usage{InputTokens: 1000, OutputTokens: 500}},
	}
	k := New(p)
	if !k.HasProviders() {
		t.Fatal("expected providers")
	}
	if got := k.ListModelRecords(); len(got) != 1 {
		t.Fatalf("unexpected catalog: %+v", got)
	}
	out, err := k.Generate(context.Background(), GenerateInput{Provider: "anthropic", Model: "claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Cost == nil || out.Cost.TotalCostUSD == nil {
		t.Fatal("cost should be estimated from usage")
	}
}

func TestKitUnknownProvider(t *testing.T) {
	k := New()
	if _, err := k.Generate(context.Background(), GenerateInput{Provider: "nope"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRouterConstraintsAndPreference(t *testing.T) {
	records := []ModelRecord{
		{ID: "a/no-tools", Provider: "a", ProviderModelID: "no-tools"},
		{ID: "a/tools", Provider: "a", ProviderModelID: "tools-model", SupportsTools: true},
		{ID: "b/vision", Provider: "b", ProviderModelID: "vision-model", SupportsTools: true, SupportsVision: true},
	}
	var router Router

	res, err := router.Resolve(records, ResolutionRequest{
		Constraints: Constraints{RequireTools: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Primary.ID != "a/tools" {
		t.Fatalf("expected first tool-capable model, got %s", res.Primary.ID)
	}

	res, err = router.Resolve(records, ResolutionRequest{
		Constraints:     Constraints{RequireTools: true},
		PreferredModels: []string{"vision-model"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Primary.ID != "b/vision" {
		t.Fatalf("preference ignored, got %s", res.Primary.ID)
	}
	if len(res.Fallbacks) != 1 || res.Fallbacks[0].ID != "a/tools" {
		t.Fatalf("unexpected fallbacks: %+v", res.Fallbacks)
	}

	if _, err := router.Resolve(records, ResolutionRequest{
		Constraints: Constraints{RequireTools: true, RequireVision: true},
		PreferredModels: []string{"no-tools"},
	}); err != nil {
		t.Fatalf("vision model exists, should resolve: %v", err)
	}

	if _, err := router.Resolve(nil, ResolutionRequest{}); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestRouterMaxCostFiltersPricedModels(t *testing.T) {
	records := []ModelRecord{
		{ID: "a/opus", Provider: "a", ProviderModelID: "opus", SupportsTools: true, InputPerMTok: 15.0, OutputPerMTok: 75.0},
		{ID: "a/sonnet", Provider: "a", ProviderModelID: "sonnet", SupportsTools: true, InputPerMTok: 3.0, OutputPerMTok: 15.0},
		{ID: "a/unpriced", Provider: "a", ProviderModelID: "unpriced", SupportsTools: true},
	}
	var router Router

	// A tight budget drops the expensive model but keeps the cheap one
	// and the unpriced one.
	res, err := router.Resolve(records, ResolutionRequest{
		Constraints: Constraints{MaxCostUSD: 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Primary.ID != "a/sonnet" {
		t.Fatalf("expected cheap model as primary, got %s", res.Primary.ID)
	}
	for _, r := range append([]ModelRecord{res.Primary}, res.Fallbacks...) {
		if r.ID == "a/opus" {
			t.Fatal("over-budget model must not be routable")
		}
	}

	// The default budget keeps everything in the catalog routable.
	res, err = router.Resolve(records, ResolutionRequest{
		Constraints: Constraints{MaxCostUSD: 5.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fallbacks) != 2 {
		t.Fatalf("expected all models routable at default budget: %+v", res)
	}

	// Only over-budget priced models left: resolution fails.
	if _, err := router.Resolve(records[:1], ResolutionRequest{
		Constraints: Constraints{MaxCostUSD: 1.0},
	}); err == nil {
		t.Fatal("expected error when no model fits the budget")
	}
}

func TestEstimateCost(t *testing.T) {
	cost := EstimateCost("anthropic", "claude-sonnet-4-20250514", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if cost == nil {
		t.Fatal("expected cost for known model")
	}
	if *cost.InputCostUSD != 3.0 || *cost.OutputCostUSD != 15.0 || *cost.TotalCostUSD != 18.0 {
		t.Fatalf("unexpected cost: %+v", cost)
	}
	if EstimateCost("anthropic", "unknown-model", Usage{InputTokens: 10}) != nil {
		t.Fatal("unknown model must return nil, not zero cost")
	}
}
