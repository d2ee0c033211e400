package providers

import (
	"context"
	"fmt"
	"strings"
)

// Strategy produces one candidate result for a fallback chain.
type Strategy[T any] func(ctx context.Context) (T, error)

// FirstValid tries strategies in order and returns the first result the
// valid predicate accepts. It is the same shape as endpoint failover:
// an ordered list tried in sequence, stopping at the first usable result.
// A nil predicate accepts any non-error result.
func FirstValid[T any](ctx context.Context, strategies []Strategy[T], valid func(T) bool) (T, error) {
	var zero T
	var failures []string
	var lastErr error

	for i, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := strategy(ctx)
		if err != nil {
			failures = append(failures, fmt.Sprintf("strategy %d: %v", i, err))
			lastErr = err
			continue
		}
		if valid != nil && !valid(result) {
			failures = append(failures, fmt.Sprintf("strategy %d: result rejected", i))
			lastErr = nil
			continue
		}
		return result, nil
	}

	if len(failures) == 0 {
		return zero, fmt.Errorf("no strategies provided")
	}
	// Wrap the final error so callers can still classify it, exhaustion
	// errors in particular.
	if lastErr != nil {
		if prior := failures[:len(failures)-1]; len(prior) > 0 {
			return zero, fmt.Errorf("all strategies failed: %s: %w",
				strings.Join(prior, "; "), lastErr)
		}
		return zero, fmt.Errorf("all strategies failed: %w", lastErr)
	}
	return zero, fmt.Errorf("all strategies failed: %s", strings.Join(failures, "; "))
}
