package unifiedllm

import (
	"math"
	"testing"
)

func TestGetModelInfo(t *testing.T) {
	// By exact ID.
	info := GetModelInfo("claude-sonnet-4-20250514")
	if info == nil {
		t.Fatal("expected to find claude-sonnet-4-20250514")
	}
	if info.Provider != "anthropic" {
		t.Errorf("expected provider %q, got %q", "anthropic", info.Provider)
	}
	if info.ContextWindow != 200000 {
		t.Errorf("expected context window 200000, got %d", info.ContextWindow)
	}
	if !info.SupportsTools {
		t.Error("expected supports_tools = true")
	}

	// By alias.
	info = GetModelInfo("sonnet")
	if info == nil {
		t.Fatal("expected to find model by alias 'sonnet'")
	}
	if info.ID != DefaultModel {
		t.Errorf("expected id %q, got %q", DefaultModel, info.ID)
	}

	// Unknown model.
	info = GetModelInfo("nonexistent-model")
	if info != nil {
		t.Errorf("expected nil for unknown model, got %v", info)
	}
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultModel},
		{"haiku", "claude-3-5-haiku-20241022"},
		{"claude-opus-4-20250514", "claude-opus-4-20250514"},
		{"some-future-model", "some-future-model"},
	}
	for _, tt := range tests {
		if got := ResolveModel(tt.in); got != tt.want {
			t.Errorf("ResolveModel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetLatestModel(t *testing.T) {
	info := GetLatestModel("anthropic", "")
	if info == nil {
		t.Fatal("expected to find latest Anthropic model")
	}
	if info.ID != DefaultModel {
		t.Errorf("expected %q, got %q", DefaultModel, info.ID)
	}

	info = GetLatestModel("anthropic", "reasoning")
	if info == nil || !info.SupportsReasoning {
		t.Fatalf("expected a reasoning model, got %v", info)
	}

	info = GetLatestModel("nonexistent", "")
	if info != nil {
		t.Errorf("expected nil for nonexistent provider, got %v", info)
	}
}

func TestEstimateCost(t *testing.T) {
	cost, ok := EstimateCost(DefaultModel, Usage{InputTokens: 1_000_000, OutputTokens: 100_000})
	if !ok {
		t.Fatal("expected pricing for default model")
	}
	if math.Abs(cost-4.5) > 1e-9 {
		t.Errorf("expected cost 4.5, got %f", cost)
	}

	if _, ok := EstimateCost("unknown", Usage{}); ok {
		t.Error("expected no pricing for unknown model")
	}
}

func TestModelInfoFields(t *testing.T) {
	for _, m := range Models {
		if m.ID == "" {
			t.Error("model ID must not be empty")
		}
		if m.Provider == "" {
			t.Errorf("model %q: provider must not be empty", m.ID)
		}
		if m.DisplayName == "" {
			t.Errorf("model %q: display_name must not be empty", m.ID)
		}
		if m.ContextWindow <= 0 {
			t.Errorf("model %q: context_window must be positive", m.ID)
		}
	}
}
