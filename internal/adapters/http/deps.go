package http

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
)

// Pinger is a backing service that can report its connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Analysis  *usecases.AnalysisService
	Proximity *usecases.ProximityService
	Weather   *usecases.WeatherService
	// Defaults fills parameters a request leaves unset.
	Defaults domain.AnalysisParams
	// AnalysisTimeout bounds a synchronous analysis. Zero uses two minutes.
	AnalysisTimeout time.Duration
	NATS            *nats.Conn
	DB              Pinger
	Cache           Pinger
	Version         string
}

func (d *Dependencies) analysisTimeout() time.Duration {
	if d.AnalysisTimeout > 0 {
		return d.AnalysisTimeout
	}
	return 2 * time.Minute
}
