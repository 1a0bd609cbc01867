package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/gpsguard/internal/adapters/nats"
	"github.com/samirrijal/gpsguard/internal/app"
	"github.com/samirrijal/gpsguard/internal/pkg/config"
	"github.com/samirrijal/gpsguard/internal/pkg/logging"
	"github.com/samirrijal/gpsguard/internal/pkg/telemetry"
)

// The worker consumes queued analysis jobs from JetStream and publishes
// each finished report back to the broker.
func main() {
	cfg, err := config.Load("gpsguard-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	svc, err := app.Build(ctx, cfg, app.Options{Broker: true, Cache: true})
	if err != nil {
		log.Fatalf("services: %v", err)
	}
	defer svc.Close()
	if svc.Publisher == nil {
		log.Fatalf("nats: worker requires a broker at %s", cfg.NATS.URL)
	}
	if svc.DB != nil {
		go svc.DB.ReportPoolStats(ctx, 15*time.Second)
	}

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL, "analysis-worker")
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	handler := app.JobHandler(svc.Analysis, time.Duration(cfg.Server.WriteTimeout)*time.Second)
	if err := sub.SubscribeJobs(ctx, handler); err != nil {
		log.Fatalf("subscribe jobs: %v", err)
	}

	slog.Info("analysis worker started",
		"subject", natsadapter.SubjectJobs,
		"building_source", cfg.Analysis.BuildingSource,
		"workers", cfg.Analysis.Workers,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received signal, shutting down worker", "signal", sig.String())
	cancel()
}
