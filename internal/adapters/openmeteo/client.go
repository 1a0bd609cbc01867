// Package openmeteo reads hourly weather conditions from the Open-Meteo forecast API.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/gpsguard/internal/adapters/httpx"
	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/pkg/telemetry"
)

const (
	DefaultURL  = "https://api.open-meteo.com/v1/forecast"
	serviceName = "open-meteo"
	hourLayout  = "2006-01-02T15:04"
)

// Client implements ports.WeatherSource.
type Client struct {
	url     string
	retrier *httpx.Retrier
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.retrier.Client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.retrier.Timeout = d }
}

// WithRetries sets how many extra attempts a rate-limited request gets.
func WithRetries(n int) Option {
	return func(c *Client) { c.retrier.Retries = n }
}

// WithBackoff sets the first wait between retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.retrier.InitialInterval = d }
}

// New creates a Client. An empty endpoint uses DefaultURL.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultURL
	}
	c := &Client{
		url: endpoint,
		retrier: &httpx.Retrier{
			Service: serviceName,
			Client:  &http.Client{},
			Timeout: 10 * time.Second,
			Retries: 2,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type forecast struct {
	HourlyUnits map[string]string `json:"hourly_units"`
	Hourly      struct {
		Time          []string   `json:"time"`
		CloudCover    []*float64 `json:"cloudcover"`
		Precipitation []*float64 `json:"precipitation"`
		Visibility    []*float64 `json:"visibility"`
	} `json:"hourly"`
}

// RequestURL builds the forecast URL for the hour containing at (UTC).
func (c *Client) RequestURL(lat, lon float64, at time.Time) string {
	hour := at.UTC().Truncate(time.Hour).Format(hourLayout)
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hourly", "cloudcover,precipitation,visibility")
	q.Set("start_hour", hour)
	q.Set("end_hour", hour)
	q.Set("timezone", "GMT")
	return c.url + "?" + q.Encode()
}

// HourlyConditions returns the conditions for the hour containing at.
// A missing hour yields a *domain.QueryError of kind missing_data.
func (c *Client) HourlyConditions(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "openmeteo.HourlyConditions")
	defer span.End()
	span.SetAttributes(
		attribute.Float64("geo.lat", lat),
		attribute.Float64("geo.lon", lon),
	)

	body, err := c.retrier.Get(ctx, c.RequestURL(lat, lon, at))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	return Decode(body, at)
}

// Decode extracts the sample for the hour containing at. Visibility is
// converted to kilometres using hourly_units; a missing unit is read as km.
func Decode(body []byte, at time.Time) (*domain.WeatherSample, error) {
	var f forecast
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, &domain.QueryError{Service: serviceName, Kind: domain.ErrKindParse, Err: err}
	}

	want := at.UTC().Truncate(time.Hour).Format(hourLayout)
	idx := -1
	for i, ts := range f.Hourly.Time {
		if ts == want {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &domain.QueryError{
			Service: serviceName,
			Kind:    domain.ErrKindMissingData,
			Err:     fmt.Errorf("no hourly bucket for %s", want),
		}
	}

	s := &domain.WeatherSample{
		CloudCoverPct:   valueAt(f.Hourly.CloudCover, idx),
		PrecipitationMM: valueAt(f.Hourly.Precipitation, idx),
		VisibilityKM:    valueAt(f.Hourly.Visibility, idx),
	}
	if s.VisibilityKM != nil {
		km, err := toKilometres(*s.VisibilityKM, f.HourlyUnits["visibility"])
		if err != nil {
			return nil, &domain.QueryError{Service: serviceName, Kind: domain.ErrKindParse, Err: err}
		}
		s.VisibilityKM = &km
	}
	return s, nil
}

func valueAt(vals []*float64, i int) *float64 {
	if i >= len(vals) || vals[i] == nil {
		return nil
	}
	v := *vals[i]
	return &v
}

var errUnknownUnit = errors.New("unknown visibility unit")

func toKilometres(v float64, unit string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "km":
		return v, nil
	case "m":
		return v / 1000, nil
	case "ft":
		return v * 0.0003048, nil
	default:
		return 0, fmt.Errorf("%w %q", errUnknownUnit, unit)
	}
}
