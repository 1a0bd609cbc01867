package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

type fnWeather func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error)

func (f fnWeather) HourlyConditions(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
	return f(ctx, lat, lon, at)
}

func f64(v float64) *float64 { return &v }

func TestWeatherScore(t *testing.T) {
	cases := []struct {
		name               string
		cloud, precip, vis float64
		want               float64
	}{
		{"clear sky", 0, 0, 10, 100},
		{"half cloud", 50, 0, 10, 85},
		{"visibility above cap", 0, 0, 25, 100},
		{"poor visibility", 0, 0, 4, 70},
		{"heavy rain clamps to zero", 100, 25, 0, 0},
		{"negative visibility clamps", 0, 0, -100, 0},
		{"negative inputs clamp to hundred", -500, -10, 10, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WeatherScore(tc.cloud, tc.precip, tc.vis); got != tc.want {
				t.Errorf("WeatherScore(%v, %v, %v) = %v, want %v", tc.cloud, tc.precip, tc.vis, got, tc.want)
			}
		})
	}
}

func TestScoreSample_MissingField(t *testing.T) {
	if ScoreSample(&domain.WeatherSample{CloudCoverPct: f64(10), PrecipitationMM: f64(0)}) != nil {
		t.Error("expected nil score when visibility is missing")
	}
	if ScoreSample(nil) != nil {
		t.Error("expected nil score for nil sample")
	}
}

func TestWeatherService_Assess_NoTimestamp(t *testing.T) {
	called := false
	svc := NewWeatherService(fnWeather(func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
		called = true
		return nil, nil
	}), nil, 0)

	sample, err := svc.Assess(context.Background(), domain.TrackPoint{Lat: 1, Lon: 2})
	if err != nil || sample != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", sample, err)
	}
	if called {
		t.Error("weather source must not be queried without a timestamp")
	}
}

func TestWeatherService_Assess_TruncatesToHour(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 37, 12, 0, time.FixedZone("CEST", 2*3600))
	var gotAt time.Time
	svc := NewWeatherService(fnWeather(func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
		gotAt = at
		return &domain.WeatherSample{CloudCoverPct: f64(50), PrecipitationMM: f64(0), VisibilityKM: f64(10)}, nil
	}), nil, 0)

	sample, err := svc.Assess(context.Background(), domain.TrackPoint{Time: &ts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC); !gotAt.Equal(want) {
		t.Errorf("expected hour %v, got %v", want, gotAt)
	}
	if sample.Score == nil || *sample.Score != 85 {
		t.Errorf("expected score 85, got %v", sample.Score)
	}
}

func TestWeatherService_Assess_CachesSample(t *testing.T) {
	ts := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)
	calls := 0
	cache := &mapCache{data: map[string][]byte{}}
	svc := NewWeatherService(fnWeather(func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
		calls++
		return &domain.WeatherSample{CloudCoverPct: f64(0), PrecipitationMM: f64(1), VisibilityKM: f64(10)}, nil
	}), cache, 600)

	for i := 0; i < 2; i++ {
		sample, err := svc.Assess(context.Background(), domain.TrackPoint{Lat: 1, Lon: 1, Time: &ts})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sample.Score == nil || *sample.Score != 95 {
			t.Fatalf("expected score 95, got %v", sample.Score)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 source call, got %d", calls)
	}
}

func TestWeatherService_Assess_Error(t *testing.T) {
	ts := time.Now()
	svc := NewWeatherService(fnWeather(func(ctx context.Context, lat, lon float64, at time.Time) (*domain.WeatherSample, error) {
		return nil, errors.New("dial tcp: connection refused")
	}), nil, 0)
	sample, err := svc.Assess(context.Background(), domain.TrackPoint{Time: &ts})
	if err == nil || sample != nil {
		t.Fatalf("expected error and nil sample, got (%v, %v)", sample, err)
	}
}
