package matching

import (
	"context"

	"github.com/bibliograph/bibliograph/pkg/metadata"
	"github.com/pkg/errors"
)

const searchLimit = 10

// Orchestrator runs the strategy chain over provider search results and
// returns the first sufficiently confident result.
type Orchestrator struct {
	provider      metadata.Provider
	strategies    []Strategy
	minConfidence float64
}

func NewOrchestrator(provider metadata.Provider, strategies []Strategy, minConfidence float64) *Orchestrator {
	return &Orchestrator{
		provider:      provider,
		strategies:    strategies,
		minConfidence: minConfidence,
	}
}

// Match searches the provider for the target and evaluates candidates
// through the strategy chain in order. It returns nil when no strategy
// produces a result at or above the configured minimum confidence; the
// caller routes such authors to "unmatched".
func (o *Orchestrator) Match(ctx context.Context, target Target) (*Result, error) {
	candidates, err := o.provider.SearchAuthors(ctx, target.Name, searchLimit)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, strategy := range o.strategies {
		var best *Result
		for _, candidate := range candidates {
			if !strategy.CanHandle(target, candidate) {
				continue
			}
			result := strategy.Match(target, candidate)
			if result == nil {
				continue
			}
			if best == nil || result.Confidence > best.Confidence {
				best = result
			}
		}
		if best != nil && best.Confidence >= o.minConfidence {
			return best, nil
		}
	}

	return nil, nil
}
