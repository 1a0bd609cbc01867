package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
	"github.com/samirrijal/gpsguard/internal/pkg/metrics"
)

// JobHandler runs queued jobs on svc. Jobs that can never succeed are
// acknowledged and dropped; other failures are returned for redelivery.
func JobHandler(svc *usecases.AnalysisService, timeout time.Duration) func(ctx context.Context, job *domain.AnalysisJob) error {
	return func(ctx context.Context, job *domain.AnalysisJob) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		log := slog.With("job_id", job.ID, "points", len(job.Track.Points))
		a, err := svc.RunJob(ctx, job)
		switch {
		case errors.Is(err, domain.ErrEmptyTrack), errors.Is(err, domain.ErrInvalidParams):
			metrics.JobsConsumed.WithLabelValues("rejected").Inc()
			log.Warn("rejecting job", "error", err)
			return nil
		case err != nil:
			metrics.JobsConsumed.WithLabelValues("failed").Inc()
			log.Error("job failed", "error", err)
			return err
		}

		metrics.JobsConsumed.WithLabelValues("done").Inc()
		log.Info("job finished",
			"danger_zones", len(a.Zones),
			"quality", a.Report.Quality,
			"warnings", len(a.Warnings),
		)
		return nil
	}
}
