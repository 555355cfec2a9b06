package ai

import (
	"sync"
)

// Tier is the capability band used by the router.
type Tier string

const (
	TierFast     Tier = "fast"
	TierCapable  Tier = "capable"
	TierAdvanced Tier = "advanced"
)

// ModelSpec describes one routable model with static per-million USD pricing.
// Local providers price zero.
type ModelSpec struct {
	Provider   string  `json:"provider"`
	Model      string  `json:"model"`
	Tier       Tier    `json:"tier"`
	InputPerM  float64 `json:"inputPerM"`
	OutputPerM float64 `json:"outputPerM"`
}

// CostUSD prices a call at this model's rates.
func (m ModelSpec) CostUSD(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)*m.InputPerM + float64(outputTokens)*m.OutputPerM) / 1e6
}

// defaultModels is the static catalog. Pricing is per million tokens.
var defaultModels = []ModelSpec{
	{Provider: "anthropic", Model: "claude-haiku-3-5-20241022", Tier: TierFast, InputPerM: 0.8, OutputPerM: 4},
	{Provider: "anthropic", Model: "claude-sonnet-4-20250514", Tier: TierCapable, InputPerM: 3, OutputPerM: 15},
	{Provider: "anthropic", Model: "claude-opus-4-1-20250805", Tier: TierAdvanced, InputPerM: 15, OutputPerM: 75},
	{Provider: "openai", Model: "gpt-4o-mini", Tier: TierFast, InputPerM: 0.15, OutputPerM: 0.6},
	{Provider: "openai", Model: "gpt-4o", Tier: TierCapable, InputPerM: 2.5, OutputPerM: 10},
	{Provider: "openai", Model: "o1", Tier: TierAdvanced, InputPerM: 15, OutputPerM: 60},
	{Provider: "deepseek", Model: "deepseek-chat", Tier: TierFast, InputPerM: 0.27, OutputPerM: 1.1},
	{Provider: "deepseek", Model: "deepseek-reasoner", Tier: TierAdvanced, InputPerM: 0.55, OutputPerM: 2.19},
	{Provider: "mistral", Model: "mistral-small-latest", Tier: TierFast, InputPerM: 0.2, OutputPerM: 0.6},
	{Provider: "mistral", Model: "mistral-large-latest", Tier: TierCapable, InputPerM: 2, OutputPerM: 6},
	{Provider: "grok", Model: "grok-3-mini", Tier: TierFast, InputPerM: 0.3, OutputPerM: 0.5},
	{Provider: "grok", Model: "grok-3", Tier: TierCapable, InputPerM: 3, OutputPerM: 15},
	{Provider: "gemini", Model: "gemini-2.0-flash", Tier: TierFast, InputPerM: 0.1, OutputPerM: 0.4},
	{Provider: "gemini", Model: "gemini-1.5-pro", Tier: TierCapable, InputPerM: 1.25, OutputPerM: 5},
	{Provider: "ollama", Model: "llama3.1", Tier: TierFast, InputPerM: 0, OutputPerM: 0},
}

// Catalog holds the model table filtered by which providers hold
// credentials.
type Catalog struct {
	mu        sync.RWMutex
	models    []ModelSpec
	available map[string]bool
}

// NewCatalog returns the default catalog. available maps provider name to
// whether credentials are configured.
func NewCatalog(available map[string]bool) *Catalog {
	return newCatalog(defaultModels, available)
}

// NewCatalogWithModels builds a catalog over an explicit model table.
func NewCatalogWithModels(models []ModelSpec, available map[string]bool) *Catalog {
	return newCatalog(models, available)
}

func newCatalog(models []ModelSpec, available map[string]bool) *Catalog {
	if available == nil {
		available = map[string]bool{}
	}
	cp := make([]ModelSpec, len(models))
	copy(cp, models)
	return &Catalog{models: cp, available: available}
}

// SetAvailable flips a provider's credential state at runtime.
func (c *Catalog) SetAvailable(provider string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[provider] = ok
}

// Available returns models whose provider holds credentials.
func (c *Catalog) Available() []ModelSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ModelSpec
	for _, m := range c.models {
		if c.available[m.Provider] {
			out = append(out, m)
		}
	}
	return out
}

// All returns the full model table regardless of credentials.
func (c *Catalog) All() []ModelSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ModelSpec, len(c.models))
	copy(out, c.models)
	return out
}

// Lookup finds a model by name.
func (c *Catalog) Lookup(model string) (ModelSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.Model == model {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// CostUSD prices a call on the named model; unknown models price zero.
func (c *Catalog) CostUSD(model string, inputTokens, outputTokens int64) float64 {
	spec, ok := c.Lookup(model)
	if !ok {
		return 0
	}
	return spec.CostUSD(inputTokens, outputTokens)
}
