package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/gpsguard/internal/app"
	"github.com/samirrijal/gpsguard/internal/pkg/config"
	"github.com/samirrijal/gpsguard/internal/pkg/logging"
	"github.com/samirrijal/gpsguard/internal/workflows"
)

// The orchestrator runs analyses as durable Temporal workflows, one
// activity per point.
func main() {
	cfg, err := config.Load("gpsguard-orchestrator")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()

	// Point pacing is a workflow timer here, not a sleep inside the service.
	cfg.Analysis.PointDelayMS = 0
	svc, err := app.Build(ctx, cfg, app.Options{Broker: true, Cache: true})
	if err != nil {
		log.Fatalf("services: %v", err)
	}
	defer svc.Close()

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    slog.Default(),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.AnalysisWorkflow)
	w.RegisterActivity(&workflows.AnalysisActivities{Service: svc.Analysis})

	slog.Info("orchestrator worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
