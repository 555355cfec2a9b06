package ai

import (
	"context"
	"fmt"
)

// Recommendation is one cost-saving suggestion with an estimate derived
// from current daily spend.
type Recommendation struct {
	Type                     string  `json:"type"`
	Description              string  `json:"description"`
	EstimatedDailySavingsUSD float64 `json:"estimatedDailySavingsUsd"`
}

// Optimizer analyses the usage aggregates and suggests spend reductions.
type Optimizer struct {
	catalog *Catalog
	usage   *UsageTracker
}

// NewOptimizer builds an optimizer over the catalog and tracker.
func NewOptimizer(catalog *Catalog, usage *UsageTracker) *Optimizer {
	return &Optimizer{catalog: catalog, usage: usage}
}

// Recommendations inspects today's usage. No spend means no suggestions.
func (o *Optimizer) Recommendations(ctx context.Context) ([]Recommendation, error) {
	summary, err := o.usage.Summarize(ctx)
	if err != nil {
		return nil, err
	}
	if summary.CostUSDToday == 0 {
		return nil, nil
	}

	var recs []Recommendation

	// Expensive models doing volume that a cheaper tier could absorb.
	for model, usage := range summary.ByModel {
		spec, ok := o.catalog.Lookup(model)
		if !ok || usage.CostUSD == 0 || spec.Tier == TierFast {
			continue
		}
		cheaper := pickCheapest(o.catalog.Available(), TierFast, usage.InputTokens, usage.OutputTokens)
		if cheaper == nil || cheaper.Model == model {
			continue
		}
		saved := usage.CostUSD - cheaper.CostUSD(usage.InputTokens, usage.OutputTokens)
		if saved <= 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Type: "cheaper_model",
			Description: fmt.Sprintf("Route simple requests from %s to %s; %d calls today could move down a tier.",
				model, cheaper.Model, usage.Calls),
			EstimatedDailySavingsUSD: saved * 0.5,
		})
	}

	// Long prompts dominate input spend.
	if summary.TotalCalls > 0 {
		avgInput := float64(0)
		var totalInput int64
		for _, u := range summary.ByProvider {
			totalInput += u.InputTokens
		}
		avgInput = float64(totalInput) / float64(summary.TotalCalls)
		if avgInput > 2000 {
			recs = append(recs, Recommendation{
				Type: "prompt_length",
				Description: fmt.Sprintf("Average prompt is %.0f tokens; trimming context could cut input spend by a quarter.",
					avgInput),
				EstimatedDailySavingsUSD: summary.CostUSDToday * 0.25,
			})
		}
	}

	// Repeated system prompts benefit from provider-side caching.
	recs = append(recs, Recommendation{
		Type:                     "caching",
		Description:              "Enable prompt caching for repeated system prompts and tool schemas.",
		EstimatedDailySavingsUSD: summary.CostUSDToday * 0.15,
	})

	if summary.TotalCalls > 100 {
		recs = append(recs, Recommendation{
			Type:                     "batching",
			Description:              fmt.Sprintf("%d calls today; batching related requests reduces per-call overhead.", summary.TotalCalls),
			EstimatedDailySavingsUSD: summary.CostUSDToday * 0.1,
		})
	}
	return recs, nil
}
