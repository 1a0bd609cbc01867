package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/gpsguard/internal/adapters/http"
	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/usecases"
	"github.com/samirrijal/gpsguard/internal/pkg/geospatial"
)

// ---- Mock collaborators ----

type mockBuildingSource struct {
	queryFn func(ctx context.Context, box domain.Bounds) (*domain.QueryResult, error)
}

func (m *mockBuildingSource) QueryBuildings(ctx context.Context, box domain.Bounds) (*domain.QueryResult, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, box)
	}
	return &domain.QueryResult{}, nil
}

type mockWeatherSource struct {
	hourlyFn func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error)
}

func (m *mockWeatherSource) HourlyConditions(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
	if m.hourlyFn != nil {
		return m.hourlyFn(ctx, lat, lon, at)
	}
	return nil, nil
}

type mockPublisher struct {
	mu   sync.Mutex
	jobs []*domain.AnalysisJob
}

func (m *mockPublisher) PublishReport(ctx context.Context, a *domain.Analysis) error { return nil }
func (m *mockPublisher) PublishJob(ctx context.Context, job *domain.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, errors.New("valkey nil message")
}
func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
func (m *mockCache) Delete(ctx context.Context, key string) error { return nil }

type mockPinger struct{ err error }

func (m mockPinger) Ping(ctx context.Context) error { return m.err }

// ---- Test helpers ----

var trackStart = time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC)

// fivePoints returns five points ~200 m apart along a meridian.
func fivePoints() []domain.TrackPoint {
	var pts []domain.TrackPoint
	for i := 0; i < 5; i++ {
		ts := trackStart.Add(time.Duration(i) * time.Minute)
		pts = append(pts, domain.TrackPoint{Lat: 43.2600 + float64(i)*0.0018, Lon: -2.9350, Time: &ts})
	}
	return pts
}

func trackJSON(pts []domain.TrackPoint) string {
	b, _ := json.Marshal(domain.Track{Name: "test", Points: pts})
	return string(b)
}

// buildingsNear serves a single 20 m building 30 m east of target.
func buildingsNear(target domain.TrackPoint) *mockBuildingSource {
	bLat, bLon := geospatial.Destination(target.Lat, target.Lon, 90, 30)
	return &mockBuildingSource{
		queryFn: func(ctx context.Context, box domain.Bounds) (*domain.QueryResult, error) {
			lat, lon := (box.MinLat+box.MaxLat)/2, (box.MinLon+box.MaxLon)/2
			if geospatial.Distance(lat, lon, target.Lat, target.Lon) > 1 {
				return &domain.QueryResult{}, nil
			}
			return &domain.QueryResult{Features: []domain.Feature{{
				ID:     7,
				Tags:   map[string]string{"building": "yes", "height": "20"},
				Center: &domain.GeoPoint{Lat: bLat, Lon: bLon},
			}}}, nil
		},
	}
}

func f64(v float64) *float64 { return &v }

func fixedWeather(cloud, precip, vis float64) *mockWeatherSource {
	return &mockWeatherSource{
		hourlyFn: func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
			return &domain.WeatherSample{CloudCoverPct: f64(cloud), PrecipitationMM: f64(precip), VisibilityKM: f64(vis)}, nil
		},
	}
}

func setupApp(deps *handler.Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupRoutes(app, deps)
	return app
}

type depsConfig struct {
	source    *mockBuildingSource
	weather   *mockWeatherSource
	publisher *mockPublisher
	cache     *mockCache
}

func makeDeps(cfg depsConfig) *handler.Dependencies {
	if cfg.source == nil {
		cfg.source = &mockBuildingSource{}
	}
	prox := usecases.NewProximityService(cfg.source, nil, 0)
	var weather *usecases.WeatherService
	if cfg.weather != nil {
		weather = usecases.NewWeatherService(cfg.weather, nil, 0)
	}

	var svc *usecases.AnalysisService
	if cfg.publisher != nil {
		svc = usecases.NewAnalysisService(prox, weather, cfg.publisher, usecases.AnalysisOptions{})
	} else {
		svc = usecases.NewAnalysisService(prox, weather, nil, usecases.AnalysisOptions{})
	}
	if cfg.cache != nil {
		svc.WithResultCache(cfg.cache, 600)
	}

	return &handler.Dependencies{
		Analysis:  svc,
		Proximity: prox,
		Weather:   weather,
		Defaults:  usecases.DefaultParams(),
	}
}

func readBody(t *testing.T, body io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}

func postJSON(app *fiber.App, url, body string) (*httptestResponse, error) {
	req := httptest.NewRequest("POST", url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return &httptestResponse{Status: resp.StatusCode, Header: resp.Header.Get, Body: b}, nil
}

type httptestResponse struct {
	Status int
	Header func(string) string
	Body   []byte
}

// ---- Analysis handler tests ----

func TestAnalyze_JSONBody(t *testing.T) {
	pts := fivePoints()
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(pts[2])}))

	resp, err := postJSON(app, "/v1/analyses?radius=50&min_height=15&skip_weather=true", trackJSON(pts))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.Status, resp.Body)
	}

	var a domain.Analysis
	if err := json.Unmarshal(resp.Body, &a); err != nil {
		t.Fatal(err)
	}
	if len(a.DangerIndices) != 1 || a.DangerIndices[0] != 2 {
		t.Errorf("expected danger_indices [2], got %v", a.DangerIndices)
	}
	if a.Report.DangerRatio != 0.2 || a.Report.Quality != domain.QualityHigh {
		t.Errorf("expected ratio 0.2/High, got %+v", a.Report)
	}
	if len(a.Zones) != 1 || len(a.Zones[0].Buildings) != 1 || a.Zones[0].Buildings[0].HeightM != 20 {
		t.Errorf("unexpected zones: %+v", a.Zones)
	}
}

func TestAnalyze_WeatherScore(t *testing.T) {
	pts := fivePoints()
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(pts[2]), weather: fixedWeather(50, 0, 10)}))

	resp, err := postJSON(app, "/v1/analyses", trackJSON(pts))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.Status, resp.Body)
	}
	var a domain.Analysis
	json.Unmarshal(resp.Body, &a)
	if a.Report.AverageWeatherScore == nil || *a.Report.AverageWeatherScore != 85 {
		t.Fatalf("expected average weather score 85, got %v", a.Report.AverageWeatherScore)
	}
	if a.Zones[0].Weather == nil || a.Zones[0].Weather.Score == nil || *a.Zones[0].Weather.Score != 85 {
		t.Errorf("expected zone weather score 85, got %+v", a.Zones[0].Weather)
	}
}

func TestAnalyze_MultipartGPX(t *testing.T) {
	gpx := `<?xml version="1.0"?>
<gpx version="1.1" creator="test"><trk><trkseg>
<trkpt lat="43.2600" lon="-2.9350"/><trkpt lat="43.2618" lon="-2.9350"/><trkpt lat="43.2636" lon="-2.9350"/>
</trkseg></trk></gpx>`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("track", "ride.gpx")
	fw.Write([]byte(gpx))
	mw.WriteField("skip_weather", "true")
	mw.Close()

	target := domain.TrackPoint{Lat: 43.2636, Lon: -2.9350}
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(target)}))

	req := httptest.NewRequest("POST", "/v1/analyses", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp.Body))
	}
	var a domain.Analysis
	json.NewDecoder(resp.Body).Decode(&a)
	if a.PointsTotal != 3 || len(a.DangerIndices) != 1 || a.DangerIndices[0] != 2 {
		t.Errorf("expected 3 points with danger at 2, got total=%d indices=%v", a.PointsTotal, a.DangerIndices)
	}
	if a.Report.Quality != domain.QualityMedium {
		t.Errorf("1/3 danger ratio should be Medium, got %s", a.Report.Quality)
	}
}

func TestAnalyze_GeoJSON(t *testing.T) {
	pts := fivePoints()
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(pts[1])}))

	resp, err := postJSON(app, "/v1/analyses?format=geojson&skip_weather=true", trackJSON(pts))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.Status, resp.Body)
	}
	if ct := resp.Header("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected application/geo+json, got %q", ct)
	}

	var fc struct {
		Type     string `json:"type"`
		Quality  string `json:"quality"`
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(resp.Body, &fc); err != nil {
		t.Fatal(err)
	}
	if fc.Type != "FeatureCollection" || fc.Quality != "High" {
		t.Errorf("unexpected collection header: %s/%s", fc.Type, fc.Quality)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected zone + building features, got %d", len(fc.Features))
	}
	zone := fc.Features[0]
	if zone.Properties["kind"] != "zone" || zone.Properties["point_index"] != 1.0 {
		t.Errorf("unexpected zone properties: %v", zone.Properties)
	}
	if zone.Geometry.Coordinates[0] != pts[1].Lon || zone.Geometry.Coordinates[1] != pts[1].Lat {
		t.Errorf("zone coordinates should be lon/lat, got %v", zone.Geometry.Coordinates)
	}
	if fc.Features[1].Properties["kind"] != "building" || fc.Features[1].Properties["height_m"] != 20.0 {
		t.Errorf("unexpected building properties: %v", fc.Features[1].Properties)
	}
}

func TestAnalyze_EmptyTrack(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	resp, _ := postJSON(app, "/v1/analyses", `{"points":[]}`)
	if resp.Status != 422 {
		t.Fatalf("expected 422, got %d", resp.Status)
	}
	var apiErr handler.APIError
	json.Unmarshal(resp.Body, &apiErr)
	if apiErr.Code != "unprocessable_entity" {
		t.Errorf("expected unprocessable_entity code, got %q", apiErr.Code)
	}
}

func TestAnalyze_BadParams(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))
	body := trackJSON(fivePoints())

	for _, q := range []string{"radius=500", "radius=abc", "min_height=2", "skip_weather=maybe", "stride=-1"} {
		resp, _ := postJSON(app, "/v1/analyses?"+q, body)
		if resp.Status != 400 {
			t.Errorf("%s: expected 400, got %d", q, resp.Status)
		}
	}
}

func TestAnalyze_NoTrack(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	resp, _ := postJSON(app, "/v1/analyses", "")
	if resp.Status != 400 {
		t.Fatalf("expected 400, got %d", resp.Status)
	}
	resp, _ = postJSON(app, "/v1/analyses", "lat,lon\n1,2")
	if resp.Status != 400 {
		t.Fatalf("expected 400 for CSV, got %d", resp.Status)
	}
}

func TestAnalyze_AsyncWithoutBroker(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	resp, _ := postJSON(app, "/v1/analyses?async=true", trackJSON(fivePoints()))
	if resp.Status != 503 {
		t.Fatalf("expected 503, got %d", resp.Status)
	}
}

func TestAnalyze_AsyncQueued(t *testing.T) {
	pub := &mockPublisher{}
	app := setupApp(makeDeps(depsConfig{publisher: pub}))

	resp, _ := postJSON(app, "/v1/analyses?async=true&radius=80", trackJSON(fivePoints()))
	if resp.Status != 202 {
		t.Fatalf("expected 202, got %d: %s", resp.Status, resp.Body)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("expected one queued job, got %d", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.Params.SearchRadiusM != 80 || job.Params.MinHeightM != 15 {
		t.Errorf("request params not carried into job: %+v", job.Params)
	}
	if loc := resp.Header("Location"); loc != "/v1/analyses/"+job.ID {
		t.Errorf("expected Location for job %s, got %q", job.ID, loc)
	}
}

func TestGetAnalysis(t *testing.T) {
	cache := &mockCache{data: map[string][]byte{}}
	pts := fivePoints()
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(pts[0]), cache: cache}))

	resp, _ := postJSON(app, "/v1/analyses?skip_weather=true", trackJSON(pts))
	var a domain.Analysis
	json.Unmarshal(resp.Body, &a)

	req := httptest.NewRequest("GET", "/v1/analyses/"+a.ID, nil)
	got, _ := app.Test(req, -1)
	if got.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", got.StatusCode)
	}
	var fetched domain.Analysis
	json.NewDecoder(got.Body).Decode(&fetched)
	if fetched.ID != a.ID || len(fetched.Zones) != 1 {
		t.Errorf("fetched analysis mismatch: %+v", fetched)
	}
	if cc := got.Header.Get("Cache-Control"); cc != "private, max-age=60" {
		t.Errorf("expected handler Cache-Control to win, got %q", cc)
	}

	req = httptest.NewRequest("GET", "/v1/analyses/unknown", nil)
	missing, _ := app.Test(req, -1)
	if missing.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

// ---- Building & weather handler tests ----

func TestNearbyBuildings_Success(t *testing.T) {
	target := domain.TrackPoint{Lat: 43.26, Lon: -2.935}
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(target)}))

	req := httptest.NewRequest("GET", "/v1/buildings/nearby?lat=43.26&lon=-2.935", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Candidates int               `json:"candidates"`
		Danger     bool              `json:"danger"`
		Buildings  []domain.Building `json:"buildings"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Candidates != 1 || !result.Danger || len(result.Buildings) != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	if d := result.Buildings[0].DistanceM; d < 29.99 || d > 30.01 {
		t.Errorf("expected ~30 m distance, got %v", d)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("expected building Cache-Control, got %q", cc)
	}
}

func TestNearbyBuildings_HigherThreshold(t *testing.T) {
	target := domain.TrackPoint{Lat: 43.26, Lon: -2.935}
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(target)}))

	req := httptest.NewRequest("GET", "/v1/buildings/nearby?lat=43.26&lon=-2.935&min_height=25", nil)
	resp, _ := app.Test(req, -1)
	var result struct {
		Danger    bool              `json:"danger"`
		Buildings []domain.Building `json:"buildings"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if result.Danger || len(result.Buildings) != 0 {
		t.Errorf("20 m building should not pass a 25 m threshold: %+v", result)
	}
}

func TestNearbyBuildings_BadParams(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	for _, q := range []string{"", "lat=43", "lat=95&lon=0", "lat=abc&lon=1"} {
		req := httptest.NewRequest("GET", "/v1/buildings/nearby?"+q, nil)
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 400 {
			t.Errorf("%q: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestNearbyBuildings_OutOfRangeParams(t *testing.T) {
	queried := false
	src := &mockBuildingSource{queryFn: func(ctx context.Context, box domain.Bounds) (*domain.QueryResult, error) {
		queried = true
		return &domain.QueryResult{}, nil
	}}
	app := setupApp(makeDeps(depsConfig{source: src}))

	for _, q := range []string{"radius=1e6", "radius=5", "radius=NaN", "min_height=NaN", "min_height=500", "radius=Inf"} {
		req := httptest.NewRequest("GET", "/v1/buildings/nearby?lat=43.26&lon=-2.935&"+q, nil)
		resp, _ := app.Test(req, -1)
		if resp.StatusCode != 400 {
			t.Errorf("%q: expected 400, got %d", q, resp.StatusCode)
		}
	}
	if queried {
		t.Error("building source must not be queried with out-of-range params")
	}
}

func TestNearbyBuildings_UpstreamFailure(t *testing.T) {
	src := &mockBuildingSource{queryFn: func(ctx context.Context, box domain.Bounds) (*domain.QueryResult, error) {
		return nil, &domain.QueryError{Service: "overpass", Kind: domain.ErrKindNetwork, StatusCode: 504, Err: errors.New("gateway timeout")}
	}}
	app := setupApp(makeDeps(depsConfig{source: src}))

	req := httptest.NewRequest("GET", "/v1/buildings/nearby?lat=43.26&lon=-2.935", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 502 {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestWeather_Success(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{weather: fixedWeather(50, 0, 10)}))

	req := httptest.NewRequest("GET", "/v1/weather?lat=43.26&lon=-2.935&time=2024-06-01T09:15:00Z", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var result struct {
		Hour    time.Time             `json:"hour"`
		Weather *domain.WeatherSample `json:"weather"`
	}
	json.NewDecoder(resp.Body).Decode(&result)
	if !result.Hour.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("expected hour bucket 09:00, got %v", result.Hour)
	}
	if result.Weather == nil || result.Weather.Score == nil || *result.Weather.Score != 85 {
		t.Errorf("expected score 85, got %+v", result.Weather)
	}
}

func TestWeather_Disabled(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	req := httptest.NewRequest("GET", "/v1/weather?lat=43.26&lon=-2.935", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestWeather_BadTime(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{weather: fixedWeather(0, 0, 10)}))

	req := httptest.NewRequest("GET", "/v1/weather?lat=43.26&lon=-2.935&time=yesterday", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ---- GraphQL tests ----

func graphQL(t *testing.T, app *fiber.App, query string) map[string]interface{} {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"query": query})
	req := httptest.NewRequest("POST", "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if errs, ok := result["errors"]; ok {
		t.Fatalf("graphql errors: %v", errs)
	}
	return result["data"].(map[string]interface{})
}

func TestGraphQL_ScoreAndClassify(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	data := graphQL(t, app, `{
		weatherScore(cloud_cover: 50, precipitation: 0, visibility: 10)
		low: classify(danger_ratio: 0.5001)
		medium: classify(danger_ratio: 0.5)
		high: classify(danger_ratio: 0.2)
	}`)
	if data["weatherScore"] != 85.0 {
		t.Errorf("expected 85, got %v", data["weatherScore"])
	}
	if data["low"] != "Low" || data["medium"] != "Medium" || data["high"] != "High" {
		t.Errorf("unexpected labels: %v", data)
	}
}

func TestGraphQL_NearbyBuildingsRejectsRadius(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	body, _ := json.Marshal(map[string]string{"query": `{ nearbyBuildings(lat: 43.26, lon: -2.935, radius: 1000000) { height_m } }`})
	req := httptest.NewRequest("POST", "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0].Message, "search_radius_m") {
		t.Errorf("expected a search_radius_m error, got %+v", result.Errors)
	}
}

func TestGraphQL_AnalyzeTrack(t *testing.T) {
	pts := fivePoints()
	app := setupApp(makeDeps(depsConfig{source: buildingsNear(pts[2])}))

	var sb strings.Builder
	for i, p := range pts {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, `{lat: %v, lon: %v}`, p.Lat, p.Lon)
	}
	data := graphQL(t, app, `mutation { analyzeTrack(points: [`+sb.String()+`], skip_weather: true) {
		danger_indices
		report { danger_ratio quality_label }
		danger_zones { point_index nearby_buildings { height_m } }
	} }`)

	a := data["analyzeTrack"].(map[string]interface{})
	idx := a["danger_indices"].([]interface{})
	if len(idx) != 1 || idx[0] != 2.0 {
		t.Errorf("expected danger_indices [2], got %v", idx)
	}
	report := a["report"].(map[string]interface{})
	if report["quality_label"] != "High" || report["danger_ratio"] != 0.2 {
		t.Errorf("unexpected report: %v", report)
	}
}

// ---- Health handler tests ----

func TestHealth_Returns200(t *testing.T) {
	deps := makeDeps(depsConfig{})
	deps.Version = "1.2.3"
	app := setupApp(deps)

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	if result["status"] != "healthy" || result["version"] != "1.2.3" {
		t.Errorf("unexpected health payload: %v", result)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		deps   func() *handler.Dependencies
		status int
	}{
		{"no analysis service", func() *handler.Dependencies { return &handler.Dependencies{} }, 503},
		{"optional backends absent", func() *handler.Dependencies { return makeDeps(depsConfig{}) }, 200},
		{"database down", func() *handler.Dependencies {
			d := makeDeps(depsConfig{})
			d.DB = mockPinger{err: errors.New("connection refused")}
			return d
		}, 503},
		{"cache ok", func() *handler.Dependencies {
			d := makeDeps(depsConfig{})
			d.Cache = mockPinger{}
			return d
		}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := setupApp(tt.deps())
			req := httptest.NewRequest("GET", "/v1/ready", nil)
			resp, _ := app.Test(req, -1)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, resp.StatusCode, readBody(t, resp.Body))
			}
		})
	}
}

// ---- Middleware tests ----

func TestAPIVersionHeader(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	req := httptest.NewRequest("GET", "/v1/health", nil)
	resp, _ := app.Test(req, -1)
	if v := resp.Header.Get("X-API-Version"); v != "1.0.0" {
		t.Errorf("expected X-API-Version 1.0.0, got %q", v)
	}
}

func TestETag_NotModified(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	req := httptest.NewRequest("GET", "/v1/buildings/nearby?lat=43.26&lon=-2.935", nil)
	resp, _ := app.Test(req, -1)
	etag := resp.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req = httptest.NewRequest("GET", "/v1/buildings/nearby?lat=43.26&lon=-2.935", nil)
	req.Header.Set("If-None-Match", etag)
	resp, _ = app.Test(req, -1)
	if resp.StatusCode != 304 {
		t.Fatalf("expected 304, got %d", resp.StatusCode)
	}
}

func TestRequestIDInErrors(t *testing.T) {
	app := setupApp(makeDeps(depsConfig{}))

	resp, _ := postJSON(app, "/v1/analyses", "")
	var apiErr handler.APIError
	json.Unmarshal(resp.Body, &apiErr)
	if apiErr.RequestID == "" || apiErr.RequestID != resp.Header("X-Request-ID") {
		t.Errorf("expected request id %q in error body, got %q", resp.Header("X-Request-ID"), apiErr.RequestID)
	}
}

// TestAccessLogMiddleware verifies structured access logging is emitted.
func TestAccessLogMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(handler.AccessLogMiddleware())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ok") {
		t.Errorf("expected response body to contain 'ok', got %s", string(body))
	}
}
