package domain

import "math"

const (
	minScore = 1
	maxScore = 10

	// PlaceholderScore is the value models echo back from the prompt example
	// instead of scoring; it is never trusted on its own.
	PlaceholderScore = 7
	// OverrideThreshold is the largest tolerated gap between a model score
	// and the computed score.
	OverrideThreshold = 1.5
)

// ClampScore bounds score to [1, 10].
func ClampScore(score int) int {
	return min(max(score, minScore), maxScore)
}

// NormalizeScore clamps score, mapping a missing (zero) score to DefaultScore.
func NormalizeScore(score int) int {
	if score == 0 {
		return DefaultScore
	}
	return ClampScore(score)
}

// FinancialOverallScore weighs the four financial dimensions.
func FinancialOverallScore(f FinancialAnalysis) int {
	weighted := float64(f.Profitability.Score)*0.3 +
		float64(f.Solvency.Score)*0.25 +
		float64(f.Efficiency.Score)*0.25 +
		float64(f.Growth.Score)*0.2
	return ClampScore(int(math.Round(weighted)))
}

// OutlookGrowthScore maps an outlook rating onto the growth axis.
func OutlookGrowthScore(rating string) float64 {
	switch rating {
	case OutlookPositive:
		return 8
	case OutlookCautious:
		return 3
	default:
		return 5
	}
}

// riskHeadroom is full only when no key risk was identified.
func riskHeadroom(riskCount int) float64 {
	if riskCount > 0 {
		return 0
	}
	return 10
}

// ComputedOverallScore derives the overall score independently of the model:
// financial*0.4 + market*0.35 + growth*0.15 + riskHeadroom*0.1.
func ComputedOverallScore(financialScore, marketScore int, outlookRating string, riskCount int) float64 {
	return float64(financialScore)*0.4 +
		float64(marketScore)*0.35 +
		OutlookGrowthScore(outlookRating)*0.15 +
		riskHeadroom(riskCount)*0.1
}

// ReconcileScore decides which overall score is stored. The computed value
// wins when the model reported the placeholder or strays more than
// OverrideThreshold from it; otherwise the model value is kept, clamped.
func ReconcileScore(modelScore int, computed float64) int {
	computedScore := ClampScore(int(math.Round(computed)))
	if modelScore == PlaceholderScore || math.Abs(float64(modelScore)-computed) > OverrideThreshold {
		return computedScore
	}
	return ClampScore(modelScore)
}
