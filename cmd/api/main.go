package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/gpsguard/internal/adapters/http"
	natsadapter "github.com/samirrijal/gpsguard/internal/adapters/nats"
	"github.com/samirrijal/gpsguard/internal/app"
	"github.com/samirrijal/gpsguard/internal/pkg/config"
	"github.com/samirrijal/gpsguard/internal/pkg/logging"
	"github.com/samirrijal/gpsguard/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load("gpsguard-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Services, cache, broker and (for the postgres source) database
	svc, err := app.Build(ctx, cfg, app.Options{Broker: true, Cache: true})
	if err != nil {
		log.Fatalf("services: %v", err)
	}
	defer svc.Close()

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		defer natsConn.Close()
	}

	deps := &http.Dependencies{
		Analysis:        svc.Analysis,
		Proximity:       svc.Proximity,
		Weather:         svc.Weather,
		Defaults:        svc.Defaults,
		AnalysisTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		NATS:            natsConn,
		Version:         version,
	}
	if svc.DB != nil {
		deps.DB = svc.DB
		go svc.DB.ReportPoolStats(ctx, 15*time.Second)
	}
	if svc.Cache != nil {
		deps.Cache = svc.Cache
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    int(cfg.Server.BodyLimit),
		AppName:      "gpsguard API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "building_source", cfg.Analysis.BuildingSource)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Analyses can run long; give them the write timeout to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
