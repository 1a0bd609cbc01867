package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
)

// AnalysisInput is the input for the analysis workflow.
type AnalysisInput struct {
	JobID  string
	Track  domain.Track
	Params domain.AnalysisParams
	// PointDelay is a durable timer between points.
	PointDelay time.Duration
}

// AnalysisWorkflow plans the job, analyses each downsampled point as its own
// activity and publishes the assembled report. A point whose activity fails
// after retries is recorded as a network warning and the run continues.
func AnalysisWorkflow(ctx workflow.Context, input AnalysisInput) (*domain.Analysis, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting analysis workflow", "jobID", input.JobID, "points", len(input.Track.Points))
	started := workflow.Now(ctx).UTC()

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	// Step 1: Validate and downsample
	var plan Plan
	if err := workflow.ExecuteActivity(ctx, "PlanAnalysis", input).Get(ctx, &plan); err != nil {
		return nil, err
	}

	// Step 2: One activity per point, in index order
	outcomes := make([]usecases.PointOutcome, len(plan.Points))
	for i, p := range plan.Points {
		task := PointTask{Index: i, Point: p, Params: input.Params}
		if err := workflow.ExecuteActivity(ctx, "AnalyzePoint", task).Get(ctx, &outcomes[i]); err != nil {
			logger.Warn("point activity failed", "index", i, "error", err)
			outcomes[i] = usecases.PointOutcome{
				Index: i,
				Point: p,
				Warnings: []domain.Warning{{
					PointIndex: i,
					Stage:      domain.StageBuildings,
					Kind:       domain.ErrKindNetwork,
					Message:    err.Error(),
				}},
			}
		}
		if input.PointDelay > 0 && i < len(plan.Points)-1 {
			if err := workflow.Sleep(ctx, input.PointDelay); err != nil {
				return nil, err
			}
		}
	}

	// Step 3: Assemble
	analysis := usecases.Assemble(input.JobID, input.Params, plan.Stride, len(input.Track.Points), outcomes)
	analysis.StartedAt = started
	analysis.FinishedAt = workflow.Now(ctx).UTC()

	// Step 4: Publish. The analysis is returned even if publishing fails.
	if err := workflow.ExecuteActivity(ctx, "PublishReport", analysis).Get(ctx, nil); err != nil {
		logger.Warn("publish failed", "error", err)
	}

	logger.Info("Analysis finished", "dangerZones", len(analysis.Zones), "quality", analysis.Report.Quality)
	return analysis, nil
}
