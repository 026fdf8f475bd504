package unifiedllm

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	DisplayName          string   `json:"display_name"`
	ContextWindow        int      `json:"context_window"`
	MaxOutput            *int     `json:"max_output,omitempty"`
	SupportsTools        bool     `json:"supports_tools"`
	SupportsReasoning    bool     `json:"supports_reasoning"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
	Aliases              []string `json:"aliases,omitempty"`
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// DefaultModel is the model used when configuration names none.
const DefaultModel = "claude-sonnet-4-20250514"

// Models is the built-in model catalog. Echo routes the Anthropic family, so
// every entry here is reachable through both the "echo" and "anthropic"
// providers.
var Models = []ModelInfo{
	{
		ID: "claude-sonnet-4-20250514", Provider: "anthropic", DisplayName: "Claude Sonnet 4",
		ContextWindow: 200000, MaxOutput: intPtr(64000),
		SupportsTools: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
		Aliases: []string{"sonnet", "claude-sonnet", "claude-sonnet-4"},
	},
	{
		ID: "claude-opus-4-20250514", Provider: "anthropic", DisplayName: "Claude Opus 4",
		ContextWindow: 200000, MaxOutput: intPtr(32000),
		SupportsTools: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(15.0), OutputCostPerMillion: floatPtr(75.0),
		Aliases: []string{"opus", "claude-opus", "claude-opus-4"},
	},
	{
		ID: "claude-3-7-sonnet-20250219", Provider: "anthropic", DisplayName: "Claude Sonnet 3.7",
		ContextWindow: 200000, MaxOutput: intPtr(64000),
		SupportsTools: true, SupportsReasoning: true,
		InputCostPerMillion: floatPtr(3.0), OutputCostPerMillion: floatPtr(15.0),
	},
	{
		ID: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude Haiku 3.5",
		ContextWindow: 200000, MaxOutput: intPtr(8192),
		SupportsTools: true,
		InputCostPerMillion: floatPtr(0.80), OutputCostPerMillion: floatPtr(4.0),
		Aliases: []string{"haiku", "claude-haiku"},
	},
}

// GetModelInfo returns the catalog entry for a model, or nil if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// ResolveModel maps an alias to its canonical model ID. Unknown names are
// returned unchanged so providers can reject them.
func ResolveModel(name string) string {
	if name == "" {
		return DefaultModel
	}
	if info := GetModelInfo(name); info != nil {
		return info.ID
	}
	return name
}

// GetLatestModel returns the first (newest/best) model for a provider,
// optionally filtered by capability.
func GetLatestModel(provider string, capability string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider != provider {
			continue
		}
		switch capability {
		case "":
			return &Models[i]
		case "tools":
			if Models[i].SupportsTools {
				return &Models[i]
			}
		case "reasoning":
			if Models[i].SupportsReasoning {
				return &Models[i]
			}
		}
	}
	return nil
}

// EstimateCost returns the approximate USD cost of usage on the given model,
// or false when the catalog has no pricing for it.
func EstimateCost(modelID string, usage Usage) (float64, bool) {
	info := GetModelInfo(modelID)
	if info == nil || info.InputCostPerMillion == nil || info.OutputCostPerMillion == nil {
		return 0, false
	}
	in := float64(usage.InputTokens) / 1e6 * *info.InputCostPerMillion
	out := float64(usage.OutputTokens) / 1e6 * *info.OutputCostPerMillion
	return in + out, true
}
