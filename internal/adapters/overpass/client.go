// Package overpass queries OpenStreetMap building data through the Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/gpsguard/internal/adapters/httpx"
	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/pkg/telemetry"
)

const (
	DefaultURL  = "https://overpass-api.de/api/interpreter"
	serviceName = "overpass"
)

// Client implements ports.BuildingSource against an Overpass endpoint.
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
			Timeout: 30 * time.Second,
			Retries: 2,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BuildQuery renders the Overpass QL for buildings with a height tag in b.
// The bbox order is south, west, north, east.
func BuildQuery(b domain.Bounds) string {
	return fmt.Sprintf("[out:json][timeout:25];\n(\n  way[\"building\"][\"height\"](%s,%s,%s,%s);\n);\nout center;",
		ff(b.MinLat), ff(b.MinLon), ff(b.MaxLat), ff(b.MaxLon))
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type response struct {
	Elements []element `json:"elements"`
}

type element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Tags   map[string]string `json:"tags"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
}

// QueryBuildings fetches every way tagged building and height inside b.
func (c *Client) QueryBuildings(ctx context.Context, b domain.Bounds) (*domain.QueryResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "overpass.QueryBuildings")
	defer span.End()

	u := c.url + "?" + url.Values{"data": {BuildQuery(b)}}.Encode()
	body, err := c.retrier.Get(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}

	res, err := Decode(body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("overpass.elements", len(res.Features)))
	return res, nil
}

// Decode parses an Overpass JSON answer. Malformed payloads yield a
// *domain.QueryError of kind parse.
func Decode(body []byte) (*domain.QueryResult, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &domain.QueryError{Service: serviceName, Kind: domain.ErrKindParse, Err: err}
	}
	res := &domain.QueryResult{Features: make([]domain.Feature, 0, len(r.Elements))}
	for _, e := range r.Elements {
		f := domain.Feature{ID: e.ID, Tags: e.Tags}
		if e.Center != nil {
			f.Center = &domain.GeoPoint{Lat: e.Center.Lat, Lon: e.Center.Lon}
		}
		res.Features = append(res.Features, f)
	}
	return res, nil
}
