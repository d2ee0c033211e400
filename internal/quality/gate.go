package quality

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/metrics"
)

// CriterionFunc scores content against one named criterion. Results are
// expected in [0,1]; anything else is clamped, never raised.
type CriterionFunc func(content string) float64

// Report is the outcome of one gate evaluation. Reports are created fresh
// per evaluation and never mutated afterwards.
type Report struct {
	CriteriaScores map[string]float64 `json:"criteria_scores"`
	Weights        map[string]float64 `json:"weights"`
	Composite      float64            `json:"composite"`
	Threshold      float64            `json:"threshold"`
	Approved       bool               `json:"approved"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Gate computes weighted composite quality scores. It is stateless and
// side-effect free apart from logging, so repeated evaluation of the same
// input is deterministic.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates a quality gate.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger}
}

// Evaluate scores content against every criterion and decides approval
// against the threshold. A malfunctioning scorer (NaN or out-of-range
// result) is clamped and logged as a data-quality warning; it must never
// abort the workflow.
func (g *Gate) Evaluate(content string, criteria map[string]CriterionFunc, weights map[string]float64, threshold float64) Report {
	scores := make(map[string]float64, len(criteria))
	for name, fn := range criteria {
		scores[name] = fn(content)
	}
	return g.Compose(scores, weights, threshold)
}

// Compose builds a report from externally produced criterion scores,
// for reviewers that score content in a single upstream call. The same
// clamping and weighting rules apply as for Evaluate.
func (g *Gate) Compose(scores map[string]float64, weights map[string]float64, threshold float64) Report {
	report := Report{
		CriteriaScores: make(map[string]float64, len(scores)),
		Weights:        make(map[string]float64, len(scores)),
		Threshold:      threshold,
		CreatedAt:      time.Now(),
	}

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var weightedSum, totalWeight float64
	for _, name := range names {
		score := scores[name]
		if clamped, ok := clampScore(score); ok {
			g.logger.Warn("Criterion returned out-of-range score, clamping",
				zap.String("criterion", name),
				zap.Float64("raw_score", score),
				zap.Float64("clamped", clamped),
			)
			score = clamped
		}

		weight := weights[name]
		if weight < 0 || math.IsNaN(weight) {
			g.logger.Warn("Criterion has invalid weight, treating as zero",
				zap.String("criterion", name),
				zap.Float64("weight", weight),
			)
			weight = 0
		}

		report.CriteriaScores[name] = score
		report.Weights[name] = weight
		weightedSum += score * weight
		totalWeight += weight
	}

	if totalWeight > 0 {
		report.Composite = weightedSum / totalWeight
		report.Approved = report.Composite >= threshold
	}

	metrics.QualityCompositeScore.Observe(report.Composite)
	return report
}

// clampScore returns the clamped value and whether clamping was needed.
func clampScore(score float64) (float64, bool) {
	switch {
	case math.IsNaN(score):
		return 0, true
	case score < 0:
		return 0, true
	case score > 1:
		return 1, true
	}
	return score, false
}
