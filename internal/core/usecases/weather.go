package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
	"github.com/samirrijal/gpsguard/internal/pkg/metrics"
)

// WeatherScore maps hourly conditions to a 0-100 satellite visibility score.
// Visibility is in kilometres and saturates at 10.
func WeatherScore(cloudCoverPct, precipitationMM, visibilityKM float64) float64 {
	penalty := cloudCoverPct*0.3 + precipitationMM*5 + (10-math.Min(visibilityKM, 10))*5
	return math.Max(0, math.Min(100, 100-penalty))
}

// ScoreSample returns the score of a sample, or nil when any field is missing.
func ScoreSample(s *domain.WeatherSample) *float64 {
	if s == nil || s.CloudCoverPct == nil || s.PrecipitationMM == nil || s.VisibilityKM == nil {
		return nil
	}
	score := WeatherScore(*s.CloudCoverPct, *s.PrecipitationMM, *s.VisibilityKM)
	return &score
}

// WeatherService fuses hourly weather conditions into the analysis.
type WeatherService struct {
	source   ports.WeatherSource
	cache    ports.CacheService
	cacheTTL int
}

// NewWeatherService creates a new WeatherService. cache may be nil.
func NewWeatherService(source ports.WeatherSource, cache ports.CacheService, cacheTTLSeconds int) *WeatherService {
	return &WeatherService{source: source, cache: cache, cacheTTL: cacheTTLSeconds}
}

// Assess returns the scored sample for the hour of p.Time.
// A point without a timestamp yields (nil, nil).
func (s *WeatherService) Assess(ctx context.Context, p domain.TrackPoint) (*domain.WeatherSample, error) {
	if p.Time == nil {
		return nil, nil
	}
	hour := p.Time.UTC().Truncate(time.Hour)

	cacheKey := fmt.Sprintf("weather:%.4f:%.4f:%s", p.Lat, p.Lon, hour.Format("2006-01-02T15"))
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var sample domain.WeatherSample
			if err := json.Unmarshal(data, &sample); err == nil {
				metrics.CacheHits.WithLabelValues("weather").Inc()
				sample.Score = ScoreSample(&sample)
				return &sample, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("weather").Inc()
	}

	sample, err := s.source.HourlyConditions(ctx, p.Lat, p.Lon, hour)
	if err != nil {
		return nil, err
	}
	if sample == nil {
		return nil, nil
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(sample); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}

	sample.Score = ScoreSample(sample)
	return sample, nil
}
