package ports

import (
	"context"
	"time"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// WeatherSource returns hourly conditions at a location.
type WeatherSource interface {
	// HourlyConditions returns the sample for the hour containing at.
	HourlyConditions(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishReport(ctx context.Context, analysis *domain.Analysis) error
	PublishJob(ctx context.Context, job *domain.AnalysisJob) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeJobs(ctx context.Context, handler func(ctx context.Context, job *domain.AnalysisJob) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
