package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
	"github.com/samirrijal/gpsguard/internal/pkg/metrics"
)

// Parameter bounds accepted by the analysis.
const (
	MinSearchRadiusM = 10.0
	MaxSearchRadiusM = 200.0
	MinHeightLowerM  = 5.0
	MinHeightUpperM  = 100.0
)

// DefaultParams returns the parameters used when a caller sets none.
func DefaultParams() domain.AnalysisParams {
	return domain.AnalysisParams{SearchRadiusM: 50, MinHeightM: 15}
}

// ValidateParams checks the configuration surface ranges. NaN fails every range.
func ValidateParams(p domain.AnalysisParams) error {
	if !(p.SearchRadiusM >= MinSearchRadiusM && p.SearchRadiusM <= MaxSearchRadiusM) {
		return fmt.Errorf("%w: search_radius_m must be %.0f-%.0f, got %v",
			domain.ErrInvalidParams, MinSearchRadiusM, MaxSearchRadiusM, p.SearchRadiusM)
	}
	if !(p.MinHeightM >= MinHeightLowerM && p.MinHeightM <= MinHeightUpperM) {
		return fmt.Errorf("%w: min_height_m must be %.0f-%.0f, got %v",
			domain.ErrInvalidParams, MinHeightLowerM, MinHeightUpperM, p.MinHeightM)
	}
	if p.Stride < 0 {
		return fmt.Errorf("%w: stride must not be negative", domain.ErrInvalidParams)
	}
	return nil
}

// AnalysisOptions tunes how points are scheduled.
type AnalysisOptions struct {
	// PointDelay is slept after each point to keep external services unloaded.
	PointDelay time.Duration
	// Workers bounds how many points are processed at once. 1 is sequential.
	Workers int
}

// PointOutcome is the result of analysing one downsampled point.
type PointOutcome struct {
	Index     int                   `json:"index"`
	Point     domain.TrackPoint     `json:"point"`
	Buildings []domain.Building     `json:"buildings,omitempty"`
	Weather   *domain.WeatherSample `json:"weather,omitempty"`
	Warnings  []domain.Warning      `json:"warnings,omitempty"`
}

// AnalysisService runs the GPS interference pipeline over a track.
type AnalysisService struct {
	proximity *ProximityService
	weather   *WeatherService
	publisher ports.EventPublisher
	opts      AnalysisOptions
	results   ports.CacheService
	resultTTL int
}

// NewAnalysisService creates a new AnalysisService. weather and publisher may be nil.
func NewAnalysisService(
	proximity *ProximityService,
	weather *WeatherService,
	publisher ports.EventPublisher,
	opts AnalysisOptions,
) *AnalysisService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &AnalysisService{proximity: proximity, weather: weather, publisher: publisher, opts: opts}
}

// WithResultCache keeps finished analyses in cache for ttlSeconds so they
// can be fetched by ID.
func (s *AnalysisService) WithResultCache(cache ports.CacheService, ttlSeconds int) *AnalysisService {
	s.results = cache
	s.resultTTL = ttlSeconds
	return s
}

// Plan validates the request and returns the downsampled points and stride.
func (s *AnalysisService) Plan(track domain.Track, params domain.AnalysisParams) ([]domain.TrackPoint, int, error) {
	if len(track.Points) == 0 {
		return nil, 0, domain.ErrEmptyTrack
	}
	if err := ValidateParams(params); err != nil {
		return nil, 0, err
	}
	stride := resolveStride(len(track.Points), params)
	return Downsample(track.Points, stride), stride, nil
}

// Analyze runs the pipeline and returns zones plus the aggregate report.
func (s *AnalysisService) Analyze(ctx context.Context, track domain.Track, params domain.AnalysisParams) (*domain.Analysis, error) {
	return s.run(ctx, uuid.NewString(), track, params)
}

// RunJob analyses an asynchronous job, keeping its ID.
func (s *AnalysisService) RunJob(ctx context.Context, job *domain.AnalysisJob) (*domain.Analysis, error) {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	return s.run(ctx, id, job.Track, job.Params)
}

func (s *AnalysisService) run(ctx context.Context, id string, track domain.Track, params domain.AnalysisParams) (*domain.Analysis, error) {
	started := time.Now().UTC()

	points, stride, err := s.Plan(track, params)
	if err != nil {
		return nil, err
	}
	if params.AddRandomness {
		slog.DebugContext(ctx, "add_randomness is set but has no effect", "analysis_id", id)
	}

	outcomes := make([]PointOutcome, len(points))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range points {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			outcomes[i] = s.AnalyzePoint(gctx, i, points[i], params)
			return sleepCtx(gctx, s.opts.PointDelay)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analysis %s interrupted: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analysis %s interrupted: %w", id, err)
	}

	analysis := Assemble(id, params, stride, len(track.Points), outcomes)
	analysis.StartedAt = started
	analysis.FinishedAt = time.Now().UTC()

	s.Publish(ctx, analysis)
	return analysis, nil
}

// AnalyzePoint runs the proximity stage and, unless disabled, the weather
// stage for one point. Failures are recorded as warnings on the outcome.
func (s *AnalysisService) AnalyzePoint(ctx context.Context, index int, p domain.TrackPoint, params domain.AnalysisParams) PointOutcome {
	out := PointOutcome{Index: index, Point: p}

	res, err := s.proximity.Query(ctx, p, params.SearchRadiusM)
	if err != nil {
		out.warn(ctx, domain.StageBuildings, err)
	} else {
		out.Buildings = FilterBuildings(p, res, params.SearchRadiusM, params.MinHeightM)
	}

	if !params.SkipWeather && s.weather != nil {
		sample, err := s.weather.Assess(ctx, p)
		if err != nil {
			out.warn(ctx, domain.StageWeather, err)
		} else {
			out.Weather = sample
		}
	}

	metrics.PointsAnalyzed.Inc()
	return out
}

// warn records a network failure. Parse and missing-data failures stay silent.
func (o *PointOutcome) warn(ctx context.Context, stage domain.Stage, err error) {
	kind := domain.KindOf(err)
	if kind != domain.ErrKindNetwork {
		return
	}
	o.Warnings = append(o.Warnings, domain.Warning{
		PointIndex: o.Index,
		Stage:      stage,
		Kind:       kind,
		Message:    err.Error(),
	})
	metrics.PointWarnings.WithLabelValues(string(stage), string(kind)).Inc()
	slog.WarnContext(ctx, "point analysis degraded",
		"point_index", o.Index,
		"stage", stage,
		"error", err,
	)
}

// Assemble folds per-point outcomes, ordered by index, into an Analysis.
func Assemble(id string, params domain.AnalysisParams, stride, total int, outcomes []PointOutcome) *domain.Analysis {
	a := &domain.Analysis{
		ID:             id,
		Params:         params,
		Stride:         stride,
		PointsTotal:    total,
		PointsAnalyzed: len(outcomes),
		DangerIndices:  []int{},
		Zones:          []domain.DangerZone{},
	}

	var scores []float64
	for _, o := range outcomes {
		a.Warnings = append(a.Warnings, o.Warnings...)
		if o.Weather != nil && o.Weather.Score != nil {
			scores = append(scores, *o.Weather.Score)
		}
		if len(o.Buildings) == 0 {
			continue
		}
		a.DangerIndices = append(a.DangerIndices, o.Index)
		a.Zones = append(a.Zones, domain.DangerZone{
			PointIndex: o.Index,
			Lat:        o.Point.Lat,
			Lon:        o.Point.Lon,
			Time:       o.Point.Time,
			Buildings:  o.Buildings,
			Weather:    o.Weather,
		})
	}

	if len(outcomes) > 0 {
		a.Report = BuildReport(a.DangerIndices, len(outcomes), scores)
	}
	return a
}

// Publish emits the finished analysis. Broker failures are logged only.
func (s *AnalysisService) Publish(ctx context.Context, a *domain.Analysis) {
	metrics.AnalysesTotal.WithLabelValues(string(a.Report.Quality)).Inc()
	metrics.DangerZonesFound.Add(float64(len(a.Zones)))

	if s.results != nil && s.resultTTL > 0 {
		if data, err := json.Marshal(a); err == nil {
			if err := s.results.Set(ctx, resultKey(a.ID), data, s.resultTTL); err != nil {
				slog.WarnContext(ctx, "cache analysis failed", "analysis_id", a.ID, "error", err)
			}
		}
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishReport(ctx, a); err != nil {
		slog.WarnContext(ctx, "publish report failed", "analysis_id", a.ID, "error", err)
	}
}

// Lookup returns a recently finished analysis from the result cache.
func (s *AnalysisService) Lookup(ctx context.Context, id string) (*domain.Analysis, error) {
	if s.results == nil {
		return nil, domain.ErrAnalysisNotFound
	}
	data, err := s.results.Get(ctx, resultKey(id))
	if err != nil {
		return nil, domain.ErrAnalysisNotFound
	}
	var a domain.Analysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode cached analysis %s: %w", id, err)
	}
	return &a, nil
}

func resultKey(id string) string {
	return "analysis:" + id
}

// Submit queues a track for asynchronous analysis and returns the job ID.
func (s *AnalysisService) Submit(ctx context.Context, track domain.Track, params domain.AnalysisParams) (string, error) {
	if s.publisher == nil {
		return "", domain.ErrBrokerUnavailable
	}
	if _, _, err := s.Plan(track, params); err != nil {
		return "", err
	}
	job := &domain.AnalysisJob{ID: uuid.NewString(), Track: track, Params: params}
	if err := s.publisher.PublishJob(ctx, job); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	return job.ID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
