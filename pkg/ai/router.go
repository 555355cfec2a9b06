package ai

import (
	"strings"
)

// TaskProfile is the router's reading of a prompt.
type TaskProfile struct {
	TaskType        string `json:"taskType"`
	Complexity      string `json:"complexity"`
	EstimatedTokens int64  `json:"estimatedTokens"`
}

// Alternative is a cheaper model the caller could have used.
type Alternative struct {
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd"`
	SavingsRatio     float64 `json:"savingsRatio"`
}

// RouteOptions narrow a routing decision.
type RouteOptions struct {
	AllowedModels []string `json:"allowedModels,omitempty"`
	TokenBudget   int64    `json:"tokenBudget,omitempty"`
}

// RouteDecision is the router's answer. An empty SelectedModel with zero
// confidence means no available model qualified.
type RouteDecision struct {
	SelectedModel      string       `json:"selectedModel"`
	Provider           string       `json:"provider,omitempty"`
	Tier               Tier         `json:"tier,omitempty"`
	Confidence         float64      `json:"confidence"`
	Profile            TaskProfile  `json:"profile"`
	EstimatedCostUSD   float64      `json:"estimatedCostUsd,omitempty"`
	CheaperAlternative *Alternative `json:"cheaperAlternative,omitempty"`
}

// Router picks the cheapest adequate model for a prompt.
type Router struct {
	catalog *Catalog
}

// NewRouter builds a router over the catalog.
func NewRouter(catalog *Catalog) *Router {
	return &Router{catalog: catalog}
}

// minSavingsRatio is how much cheaper an alternative must be to mention.
const minSavingsRatio = 1.2

// Route profiles the prompt, maps it to a tier, and picks the lowest-cost
// available model. When the target tier has no candidates the router settles
// for the next tier down at reduced confidence.
func (r *Router) Route(prompt, context string, opts RouteOptions) RouteDecision {
	profile := profileTask(prompt, context)
	tier := tierFor(profile.TaskType, profile.Complexity)

	inputTokens := profile.EstimatedTokens
	if opts.TokenBudget > 0 {
		inputTokens = opts.TokenBudget
	}
	outputTokens := inputTokens / 4

	allowed := func(model string) bool {
		if len(opts.AllowedModels) == 0 {
			return true
		}
		for _, m := range opts.AllowedModels {
			if m == model {
				return true
			}
		}
		return false
	}

	var candidates []ModelSpec
	for _, m := range r.catalog.Available() {
		if allowed(m.Model) {
			candidates = append(candidates, m)
		}
	}

	decision := RouteDecision{Profile: profile, Tier: tier}
	confidence := 0.9

	selected := pickCheapest(candidates, tier, inputTokens, outputTokens)
	selectedTier := tier
	for selected == nil && selectedTier != TierFast {
		selectedTier = lowerTier(selectedTier)
		confidence -= 0.25
		selected = pickCheapest(candidates, selectedTier, inputTokens, outputTokens)
	}
	if selected == nil {
		return RouteDecision{Profile: profile, Tier: tier, Confidence: 0}
	}

	decision.SelectedModel = selected.Model
	decision.Provider = selected.Provider
	decision.Tier = selectedTier
	decision.Confidence = confidence
	decision.EstimatedCostUSD = selected.CostUSD(inputTokens, outputTokens)

	// Cheapest allowed model overall, if meaningfully cheaper.
	var cheapest *ModelSpec
	for i := range candidates {
		if cheapest == nil || candidates[i].CostUSD(inputTokens, outputTokens) < cheapest.CostUSD(inputTokens, outputTokens) {
			cheapest = &candidates[i]
		}
	}
	if cheapest != nil && cheapest.Model != selected.Model {
		altCost := cheapest.CostUSD(inputTokens, outputTokens)
		if altCost > 0 && decision.EstimatedCostUSD/altCost >= minSavingsRatio {
			decision.CheaperAlternative = &Alternative{
				Model:            cheapest.Model,
				Provider:         cheapest.Provider,
				EstimatedCostUSD: altCost,
				SavingsRatio:     decision.EstimatedCostUSD / altCost,
			}
		}
	}
	return decision
}

// pickCheapest returns the lowest-cost candidate within the tier at the
// given token volume.
func pickCheapest(candidates []ModelSpec, tier Tier, inputTokens, outputTokens int64) *ModelSpec {
	var best *ModelSpec
	for i := range candidates {
		if candidates[i].Tier != tier {
			continue
		}
		if best == nil || candidates[i].CostUSD(inputTokens, outputTokens) < best.CostUSD(inputTokens, outputTokens) {
			best = &candidates[i]
		}
	}
	return best
}

func lowerTier(t Tier) Tier {
	switch t {
	case TierAdvanced:
		return TierCapable
	default:
		return TierFast
	}
}

// taskKeywords maps task types to their signals; first match wins in the
// listed order.
var taskKeywords = []struct {
	taskType string
	words    []string
}{
	{"summarize", []string{"summarize", "summary", "tldr", "condense"}},
	{"classify", []string{"classify", "categorize", "label", "tag this"}},
	{"extract", []string{"extract", "pull out", "list all", "parse out"}},
	{"code", []string{"implement", "code", "function", "algorithm", "refactor", "debug", "fix the bug"}},
	{"reason", []string{"reason", "prove", "analyze", "think through", "step by step", "edge case"}},
	{"plan", []string{"plan", "design", "architect", "roadmap", "strategy"}},
	{"qa", []string{"what ", "who ", "when ", "where ", "how ", "why ", "?"}},
}

// complexitySignals indicate compound or demanding prompts.
var complexitySignals = []string{
	"complex", "comprehensive", "detailed", "extensive", "thorough",
	"multi-step", "edge case", "trade-off", "in depth", "; ",
}

func profileTask(prompt, context string) TaskProfile {
	text := strings.ToLower(prompt)
	length := len(prompt) + len(context)

	taskType := "general"
	for _, tk := range taskKeywords {
		for _, w := range tk.words {
			if strings.Contains(text, w) {
				taskType = tk.taskType
				break
			}
		}
		if taskType != "general" {
			break
		}
	}

	signals := 0
	for _, s := range complexitySignals {
		if strings.Contains(text, s) {
			signals++
		}
	}

	complexity := "simple"
	switch {
	case length > 800 || signals >= 2:
		complexity = "complex"
	case length > 200 || signals == 1:
		complexity = "moderate"
	}

	return TaskProfile{
		TaskType:        taskType,
		Complexity:      complexity,
		EstimatedTokens: int64(length / 4),
	}
}

// tierFor maps the task profile to a capability band.
func tierFor(taskType, complexity string) Tier {
	if complexity == "complex" {
		return TierAdvanced
	}
	switch taskType {
	case "summarize", "classify", "extract":
		return TierFast
	case "code", "reason", "plan":
		return TierCapable
	case "qa", "general":
		if complexity == "moderate" {
			return TierCapable
		}
		return TierFast
	}
	return TierCapable
}
