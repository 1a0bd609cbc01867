// Package app wires configuration into the analysis services shared by the
// binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	natsadapter "github.com/samirrijal/gpsguard/internal/adapters/nats"
	"github.com/samirrijal/gpsguard/internal/adapters/openmeteo"
	"github.com/samirrijal/gpsguard/internal/adapters/overpass"
	"github.com/samirrijal/gpsguard/internal/adapters/postgres"
	"github.com/samirrijal/gpsguard/internal/adapters/valkey"
	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
	"github.com/samirrijal/gpsguard/internal/pkg/config"
)

// Options selects which optional backends are connected.
type Options struct {
	// Broker connects the NATS publisher for reports and jobs.
	Broker bool
	// Cache connects Valkey for query and result caching.
	Cache bool
}

// Services holds the wired analysis stack and the connections behind it.
// Any of DB, Cache and Publisher may be nil.
type Services struct {
	Proximity *usecases.ProximityService
	Weather   *usecases.WeatherService
	Analysis  *usecases.AnalysisService
	Defaults  domain.AnalysisParams

	DB        *postgres.DB
	Cache     *valkey.Cache
	Publisher *natsadapter.Publisher

	closers []func()
}

// Build connects the configured backends and constructs the services.
// Only the postgres building source is fatal when unreachable.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Services, error) {
	s := &Services{Defaults: DefaultParams(cfg.Analysis)}

	var cache ports.CacheService
	if opts.Cache && cfg.Valkey.Addr != "" {
		c, err := valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable, caching disabled", "error", err)
		} else {
			s.Cache = c
			cache = c
			s.closers = append(s.closers, c.Close)
		}
	}

	var publisher ports.EventPublisher
	if opts.Broker && cfg.NATS.URL != "" {
		p, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			s.Publisher = p
			publisher = p
			s.closers = append(s.closers, p.Close)
		}
	}

	var source ports.BuildingSource
	switch cfg.Analysis.BuildingSource {
	case "postgres":
		db, err := postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("database: %w", err)
		}
		s.DB = db
		s.closers = append(s.closers, db.Close)
		source = postgres.NewBuildingRepo(db)
	default:
		source = overpass.New(cfg.Overpass.URL,
			overpass.WithTimeout(cfg.Overpass.TimeoutDuration()),
			overpass.WithRetries(cfg.Overpass.Retries),
		)
	}
	s.Proximity = usecases.NewProximityService(source, cache, cfg.Overpass.CacheTTL)

	if !cfg.Analysis.SkipWeather {
		weather := openmeteo.New(cfg.Weather.URL,
			openmeteo.WithTimeout(cfg.Weather.TimeoutDuration()),
			openmeteo.WithRetries(cfg.Weather.Retries),
		)
		s.Weather = usecases.NewWeatherService(weather, cache, cfg.Weather.CacheTTL)
	}

	s.Analysis = usecases.NewAnalysisService(s.Proximity, s.Weather, publisher, usecases.AnalysisOptions{
		PointDelay: cfg.Analysis.PointDelay(),
		Workers:    cfg.Analysis.Workers,
	})
	if cache != nil {
		s.Analysis.WithResultCache(cache, int((24 * time.Hour).Seconds()))
	}

	return s, nil
}

// DefaultParams converts the analysis section into request defaults.
func DefaultParams(a config.AnalysisConfig) domain.AnalysisParams {
	return domain.AnalysisParams{
		SearchRadiusM:  a.SearchRadiusM,
		MinHeightM:     a.MinHeightM,
		SkipDownsample: a.SkipDownsample,
		SkipWeather:    a.SkipWeather,
		AddRandomness:  a.AddRandomness,
	}
}

// Close releases connections in reverse order of opening.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
