package usecases

import (
	"gonum.org/v1/gonum/stat"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// DangerRatio is the fraction of analysed points flagged as danger zones.
// total must be positive.
func DangerRatio(dangerCount, total int) float64 {
	return float64(dangerCount) / float64(total)
}

// Classify maps a danger ratio to a quality label.
func Classify(ratio float64) domain.QualityLabel {
	switch {
	case ratio > 0.5:
		return domain.QualityLow
	case ratio > 0.2:
		return domain.QualityMedium
	default:
		return domain.QualityHigh
	}
}

// AverageScore returns the arithmetic mean, or nil for no scores.
func AverageScore(scores []float64) *float64 {
	if len(scores) == 0 {
		return nil
	}
	mean := stat.Mean(scores, nil)
	return &mean
}

// BuildReport aggregates the flagged indices and collected weather scores.
func BuildReport(dangerIndices []int, total int, scores []float64) domain.RiskReport {
	ratio := DangerRatio(len(dangerIndices), total)
	return domain.RiskReport{
		DangerRatio:         ratio,
		Quality:             Classify(ratio),
		AverageWeatherScore: AverageScore(scores),
	}
}
