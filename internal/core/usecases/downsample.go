package usecases

import "github.com/samirrijal/gpsguard/internal/core/domain"

// Stride picks the downsampling step for a track of n points.
// The thresholds bound the number of external queries per track.
func Stride(n int, skip bool) int {
	switch {
	case skip, n <= 300:
		return 1
	case n <= 1000:
		return 3
	case n <= 3000:
		return 7
	default:
		return 12
	}
}

// Downsample returns every step-th point starting at index 0.
func Downsample(points []domain.TrackPoint, step int) []domain.TrackPoint {
	if step <= 1 {
		return points
	}
	out := make([]domain.TrackPoint, 0, (len(points)+step-1)/step)
	for i := 0; i < len(points); i += step {
		out = append(out, points[i])
	}
	return out
}

// resolveStride applies the explicit override unless downsampling is disabled.
func resolveStride(n int, params domain.AnalysisParams) int {
	if params.SkipDownsample {
		return 1
	}
	if params.Stride > 0 {
		return params.Stride
	}
	return Stride(n, false)
}
