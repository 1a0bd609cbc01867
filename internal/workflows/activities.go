package workflows

import (
	"context"
	"errors"
	"log/slog"

	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
)

// AnalysisActivities holds the activity implementations for the analysis workflow.
type AnalysisActivities struct {
	Service *usecases.AnalysisService
}

// Plan is the downsampled point sequence of a job.
type Plan struct {
	Points []domain.TrackPoint
	Stride int
}

// PointTask is the input of AnalyzePoint.
type PointTask struct {
	Index  int
	Point  domain.TrackPoint
	Params domain.AnalysisParams
}

// PlanAnalysis validates the job and downsamples its track. Invalid input
// is not retried.
func (a *AnalysisActivities) PlanAnalysis(ctx context.Context, input AnalysisInput) (Plan, error) {
	points, stride, err := a.Service.Plan(input.Track, input.Params)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyTrack) || errors.Is(err, domain.ErrInvalidParams) {
			return Plan{}, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidAnalysis", err)
		}
		return Plan{}, err
	}
	return Plan{Points: points, Stride: stride}, nil
}

// AnalyzePoint runs the building and weather stages for one point.
// Per-point failures come back as warnings, never as activity errors.
func (a *AnalysisActivities) AnalyzePoint(ctx context.Context, task PointTask) (usecases.PointOutcome, error) {
	return a.Service.AnalyzePoint(ctx, task.Index, task.Point, task.Params), nil
}

// PublishReport caches and broadcasts the finished analysis.
func (a *AnalysisActivities) PublishReport(ctx context.Context, analysis *domain.Analysis) error {
	a.Service.Publish(ctx, analysis)
	slog.InfoContext(ctx, "analysis report published",
		"analysis_id", analysis.ID,
		"danger_zones", len(analysis.Zones),
		"quality", analysis.Report.Quality,
	)
	return nil
}
