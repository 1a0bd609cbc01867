package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
	"github.com/samirrijal/gpsguard/internal/report"
	"github.com/samirrijal/gpsguard/internal/track"
)

// AnalyzeHandler runs an analysis over an uploaded track, or queues it when
// async=true. The track is a multipart "track" file or the raw body, as GPX
// or JSON.
func AnalyzeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tr, err := readTrack(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		params, err := parseParams(c, deps.Defaults)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		ctx := c.UserContext()
		log := LoggerFromCtx(ctx)

		if c.QueryBool("async") {
			id, err := deps.Analysis.Submit(ctx, tr, params)
			if err != nil {
				return analysisError(c, err)
			}
			log.Info("analysis queued", "job_id", id, "points", len(tr.Points))
			c.Location("/v1/analyses/" + id)
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"job_id": id,
				"status": "queued",
				"result": "/v1/analyses/" + id,
			})
		}

		a, err := deps.Analysis.Analyze(ctx, tr, params)
		if err != nil {
			return analysisError(c, err)
		}
		log.Info("analysis finished",
			"analysis_id", a.ID,
			"points_analyzed", a.PointsAnalyzed,
			"danger_zones", len(a.Zones),
			"quality", a.Report.Quality,
		)
		return writeAnalysis(c, a)
	}
}

// GetAnalysisHandler returns a recently finished analysis by ID.
func GetAnalysisHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := deps.Analysis.Lookup(c.UserContext(), c.Params("id"))
		if errors.Is(err, domain.ErrAnalysisNotFound) {
			return errNotFound(c, "analysis not found or expired")
		}
		if err != nil {
			return errInternal(c, "failed to load analysis")
		}
		c.Set("Cache-Control", "private, max-age=60")
		return writeAnalysis(c, a)
	}
}

// NearbyBuildingsHandler runs the proximity stage for a single location.
func NearbyBuildingsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := parsePoint(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		params, err := parseParams(c, deps.Defaults)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		if err := usecases.ValidateParams(params); err != nil {
			return errBadRequest(c, err.Error())
		}

		res, err := deps.Proximity.Query(c.UserContext(), p, params.SearchRadiusM)
		if err != nil {
			return upstreamError(c, err)
		}
		buildings := usecases.FilterBuildings(p, res, params.SearchRadiusM, params.MinHeightM)
		if buildings == nil {
			buildings = []domain.Building{}
		}

		return c.JSON(fiber.Map{
			"bbox":           usecases.QueryBox(p, params.SearchRadiusM),
			"candidates":     len(res.Features),
			"search_radius":  params.SearchRadiusM,
			"min_height":     params.MinHeightM,
			"buildings":      buildings,
			"danger":         len(buildings) > 0,
			"building_count": len(buildings),
		})
	}
}

// WeatherHandler returns the hourly conditions and score for a location.
// time defaults to now.
func WeatherHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Weather == nil {
			return errUnavailable(c, "weather fusion is disabled")
		}
		p, err := parsePoint(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		at := time.Now().UTC()
		if raw := c.Query("time"); raw != "" {
			at, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				return errBadRequest(c, "time must be RFC 3339")
			}
		}
		p.Time = &at

		sample, err := deps.Weather.Assess(c.UserContext(), p)
		if err != nil {
			if domain.KindOf(err) == domain.ErrKindNetwork {
				return upstreamError(c, err)
			}
			sample = nil
		}
		return c.JSON(fiber.Map{
			"lat":     p.Lat,
			"lon":     p.Lon,
			"hour":    at.UTC().Truncate(time.Hour),
			"weather": sample,
		})
	}
}

func writeAnalysis(c *fiber.Ctx, a *domain.Analysis) error {
	if c.Query("format") == "geojson" {
		data, err := report.GeoJSON(a).MarshalJSON()
		if err != nil {
			return errInternal(c, "failed to encode GeoJSON")
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(data)
	}
	return c.JSON(a)
}

func analysisError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyTrack):
		return errUnprocessable(c, err.Error())
	case errors.Is(err, domain.ErrInvalidParams):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrBrokerUnavailable):
		return errUnavailable(c, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return errTimeout(c, "analysis did not finish in time")
	default:
		LoggerFromCtx(c.UserContext()).Error("analysis failed", "error", err)
		return errInternal(c, "analysis failed")
	}
}

func upstreamError(c *fiber.Ctx, err error) error {
	var qe *domain.QueryError
	if errors.As(err, &qe) {
		return newError(c, fiber.StatusBadGateway, "upstream_error", qe.Error())
	}
	return newError(c, fiber.StatusBadGateway, "upstream_error", err.Error())
}

// readTrack takes the multipart "track" file when present, else the body.
func readTrack(c *fiber.Ctx) (domain.Track, error) {
	if fh, err := c.FormFile("track"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return domain.Track{}, fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()
		tr, err := track.Parse(f)
		if err != nil {
			return domain.Track{}, err
		}
		if tr.Name == "" {
			tr.Name = fh.Filename
		}
		return tr, nil
	}

	body := c.Body()
	if len(bytes.TrimSpace(body)) == 0 {
		return domain.Track{}, errors.New("request has no track: send a GPX or JSON body or a multipart \"track\" file")
	}
	return track.Parse(bytes.NewReader(body))
}

// param reads a value from the query string or a multipart form field.
func param(c *fiber.Ctx, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return c.FormValue(key)
}

// parseParams overlays request values on defaults. Callers that skip the
// analysis service run usecases.ValidateParams themselves.
func parseParams(c *fiber.Ctx, defaults domain.AnalysisParams) (domain.AnalysisParams, error) {
	p := defaults
	floats := map[string]*float64{
		"radius":     &p.SearchRadiusM,
		"min_height": &p.MinHeightM,
	}
	for key, dst := range floats {
		if raw := param(c, key); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return p, fmt.Errorf("%s must be a number", key)
			}
			*dst = v
		}
	}
	bools := map[string]*bool{
		"skip_downsample": &p.SkipDownsample,
		"skip_weather":    &p.SkipWeather,
		"add_randomness":  &p.AddRandomness,
	}
	for key, dst := range bools {
		if raw := param(c, key); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return p, fmt.Errorf("%s must be a boolean", key)
			}
			*dst = v
		}
	}
	if raw := param(c, "stride"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return p, fmt.Errorf("stride must be a non-negative integer")
		}
		p.Stride = v
	}
	return p, nil
}

func parsePoint(c *fiber.Ctx) (domain.TrackPoint, error) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.TrackPoint{}, errors.New("lat must be a number in [-90, 90]")
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		return domain.TrackPoint{}, errors.New("lon must be a number in [-180, 180]")
	}
	return domain.TrackPoint{Lat: lat, Lon: lon}, nil
}
