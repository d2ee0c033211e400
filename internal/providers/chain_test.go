package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstValidReturnsFirstSuccess(t *testing.T) {
	calls := 0
	strategies := []Strategy[string]{
		func(ctx context.Context) (string, error) {
			calls++
			return "primary", nil
		},
		func(ctx context.Context) (string, error) {
			t.Fatal("second strategy must not run")
			return "", nil
		},
	}

	out, err := FirstValid(context.Background(), strategies, nil)
	require.NoError(t, err)
	assert.Equal(t, "primary", out)
	assert.Equal(t, 1, calls)
}

func TestFirstValidFallsThroughErrors(t *testing.T) {
	strategies := []Strategy[string]{
		func(ctx context.Context) (string, error) {
			return "", fmt.Errorf("upstream down")
		},
		func(ctx context.Context) (string, error) {
			return "fallback", nil
		},
	}

	out, err := FirstValid(context.Background(), strategies, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestFirstValidRejectsByPredicate(t *testing.T) {
	strategies := []Strategy[int]{
		func(ctx context.Context) (int, error) { return 0, nil },
		func(ctx context.Context) (int, error) { return 7, nil },
	}

	out, err := FirstValid(context.Background(), strategies, func(v int) bool { return v > 0 })
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestFirstValidAllFail(t *testing.T) {
	strategies := []Strategy[string]{
		func(ctx context.Context) (string, error) { return "", fmt.Errorf("a broke") },
		func(ctx context.Context) (string, error) { return "", fmt.Errorf("b broke") },
	}

	_, err := FirstValid(context.Background(), strategies, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a broke")
	assert.Contains(t, err.Error(), "b broke")
}

func TestFirstValidPreservesLastErrorType(t *testing.T) {
	exhausted := &ExhaustionError{Capability: CapabilitySearch}
	strategies := []Strategy[string]{
		func(ctx context.Context) (string, error) { return "", fmt.Errorf("transient") },
		func(ctx context.Context) (string, error) { return "", exhausted },
	}

	_, err := FirstValid(context.Background(), strategies, nil)
	require.Error(t, err)

	var exErr *ExhaustionError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, CapabilitySearch, exErr.Capability)
}

func TestFirstValidNoStrategies(t *testing.T) {
	_, err := FirstValid[string](context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestFirstValidHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	strategies := []Strategy[string]{
		func(ctx context.Context) (string, error) {
			t.Fatal("strategy must not run after cancellation")
			return "", nil
		},
	}

	_, err := FirstValid(ctx, strategies, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
