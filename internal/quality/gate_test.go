package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func constant(v float64) CriterionFunc {
	return func(string) float64 { return v }
}

func TestEvaluateWeightedComposite(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	report := gate.Evaluate("draft",
		map[string]CriterionFunc{
			"coverage":  constant(0.9),
			"coherence": constant(0.6),
		},
		map[string]float64{
			"coverage":  3,
			"coherence": 1,
		},
		0.8,
	)

	// (0.9*3 + 0.6*1) / 4 = 0.825
	assert.InDelta(t, 0.825, report.Composite, 1e-9)
	assert.True(t, report.Approved)
}

func TestEvaluateRejectsBelowThreshold(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	report := gate.Evaluate("draft",
		map[string]CriterionFunc{"coverage": constant(0.5)},
		map[string]float64{"coverage": 1},
		0.8,
	)
	assert.False(t, report.Approved)
	assert.InDelta(t, 0.5, report.Composite, 1e-9)
}

func TestEvaluateClampsBadScores(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	report := gate.Evaluate("draft",
		map[string]CriterionFunc{
			"nan":      constant(math.NaN()),
			"negative": constant(-3),
			"huge":     constant(42),
		},
		map[string]float64{"nan": 1, "negative": 1, "huge": 1},
		0.5,
	)

	assert.Equal(t, 0.0, report.CriteriaScores["nan"])
	assert.Equal(t, 0.0, report.CriteriaScores["negative"])
	assert.Equal(t, 1.0, report.CriteriaScores["huge"])
	assert.InDelta(t, 1.0/3.0, report.Composite, 1e-9)
}

func TestEvaluateZeroTotalWeight(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	report := gate.Evaluate("draft",
		map[string]CriterionFunc{"a": constant(1)},
		map[string]float64{"a": 0},
		0.0,
	)
	assert.Equal(t, 0.0, report.Composite)
	assert.False(t, report.Approved, "zero total weight must never approve")
}

func TestEvaluateNegativeWeightTreatedAsZero(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))

	report := gate.Evaluate("draft",
		map[string]CriterionFunc{
			"good": constant(0.9),
			"bad":  constant(0.1),
		},
		map[string]float64{"good": 1, "bad": -5},
		0.8,
	)
	assert.InDelta(t, 0.9, report.Composite, 1e-9)
	assert.True(t, report.Approved)
}

func TestEvaluateDeterministic(t *testing.T) {
	gate := NewGate(zaptest.NewLogger(t))
	criteria := map[string]CriterionFunc{
		"a": constant(0.3),
		"b": constant(0.7),
		"c": constant(0.5),
	}
	weights := map[string]float64{"a": 1, "b": 2, "c": 3}

	first := gate.Evaluate("same input", criteria, weights, 0.5)
	for i := 0; i < 10; i++ {
		again := gate.Evaluate("same input", criteria, weights, 0.5)
		assert.Equal(t, first.Composite, again.Composite)
		assert.Equal(t, first.Approved, again.Approved)
	}
}
