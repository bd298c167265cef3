package llm

import "testing"

func TestUsageCostFourComponents(t *testing.T) {
	u := Usage{
		InputTokens:      1_000_000,
		CacheWriteTokens: 1_000_000,
		CacheReadTokens:  1_000_000,
		OutputTokens:     1_000_000,
	}

	got := u.Cost("claude-sonnet-4-20250514", DefaultPricing)
	want := 3.0 + 3.75 + 0.30 + 15.0

	if got != want {
		t.Errorf("Cost = %v, want %v", got, want)
	}
}

func TestUsageCostUnknownModelIsFree(t *testing.T) {
	u := Usage{InputTokens: 500, OutputTokens: 500}
	if got := u.Cost("some-local-model", DefaultPricing); got != 0 {
		t.Errorf("Cost for unpriced model = %v, want 0", got)
	}
}

func TestUsageCostZeroValue(t *testing.T) {
	var u Usage
	if got := u.Cost("claude-sonnet-4-20250514", DefaultPricing); got != 0 {
		t.Errorf("Cost of zero usage = %v, want 0", got)
	}
}

func TestDefaultPricingHasShippedModel(t *testing.T) {
	entry, ok := DefaultPricing["claude-sonnet-4-20250514"]
	if !ok {
		t.Fatal("expected default pricing entry for claude-sonnet-4-20250514")
	}
	if entry.InputPerMillion != 3.0 || entry.CacheWritePerMillion != 3.75 ||
		entry.CacheReadPerMillion != 0.30 || entry.OutputPerMillion != 15.0 {
		t.Errorf("unexpected pricing entry: %+v", entry)
	}
}
