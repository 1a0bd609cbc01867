package domain

import (
	"time"
)

// TrackPoint is a single recorded position of the analysed route.
type TrackPoint struct {
	Lat  float64    `json:"lat"`
	Lon  float64    `json:"lon"`
	Time *time.Time `json:"time,omitempty"`
}

// Track is the ordered point sequence produced by ingestion.
type Track struct {
	Name   string       `json:"name,omitempty"`
	Points []TrackPoint `json:"points"`
}

// Feature is one raw element returned by a building source.
// Height is kept as the raw tag string; parsing happens in the proximity filter.
type Feature struct {
	ID     int64             `json:"id"`
	Tags   map[string]string `json:"tags,omitempty"`
	Center *GeoPoint         `json:"center,omitempty"`
}

// QueryResult is the raw answer of a building source for one bounding box.
type QueryResult struct {
	Features []Feature `json:"features"`
}

// Building is a structure that passed the height and distance filters.
type Building struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	HeightM   float64 `json:"height_m"`
	DistanceM float64 `json:"distance_m"`
}

// WeatherSample holds the hourly conditions at a point. Each field is nullable.
type WeatherSample struct {
	CloudCoverPct   *float64 `json:"cloud_cover_pct"`
	PrecipitationMM *float64 `json:"precipitation_mm"`
	VisibilityKM    *float64 `json:"visibility_km"`
	Score           *float64 `json:"score,omitempty"`
}

// DangerZone is a downsampled point with qualifying tall structures nearby.
// PointIndex is an index into the downsampled sequence, not the raw track.
type DangerZone struct {
	PointIndex int            `json:"point_index"`
	Lat        float64        `json:"lat"`
	Lon        float64        `json:"lon"`
	Time       *time.Time     `json:"time,omitempty"`
	Buildings  []Building     `json:"nearby_buildings"`
	Weather    *WeatherSample `json:"weather,omitempty"`
}

// QualityLabel is the discrete GPS quality classification.
type QualityLabel string

const (
	QualityHigh   QualityLabel = "High"
	QualityMedium QualityLabel = "Medium"
	QualityLow    QualityLabel = "Low"
)

// RiskReport is the aggregate outcome of an analysis.
type RiskReport struct {
	DangerRatio         float64      `json:"danger_ratio"`
	Quality             QualityLabel `json:"quality_label"`
	AverageWeatherScore *float64     `json:"average_weather_score,omitempty"`
}

// AnalysisParams is the recognised configuration surface of one run.
type AnalysisParams struct {
	SearchRadiusM  float64 `json:"search_radius_m"`
	MinHeightM     float64 `json:"min_height_m"`
	SkipDownsample bool    `json:"skip_downsample"`
	SkipWeather    bool    `json:"skip_weather"`
	// AddRandomness is accepted for compatibility and has no effect on scoring.
	AddRandomness bool `json:"add_randomness"`
	// Stride overrides the adaptive downsampling stride when > 0.
	Stride int `json:"stride,omitempty"`
}

// Warning reports a recovered per-point failure.
type Warning struct {
	PointIndex int       `json:"point_index"`
	Stage      Stage     `json:"stage"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
}

// Stage names the pipeline step a warning came from.
type Stage string

const (
	StageBuildings Stage = "buildings"
	StageWeather   Stage = "weather"
)

// Analysis is the full result of one pipeline run.
type Analysis struct {
	ID             string         `json:"id"`
	Params         AnalysisParams `json:"params"`
	Stride         int            `json:"stride"`
	PointsTotal    int            `json:"points_total"`
	PointsAnalyzed int            `json:"points_analyzed"`
	DangerIndices  []int          `json:"danger_indices"`
	Zones          []DangerZone   `json:"danger_zones"`
	Report         RiskReport     `json:"report"`
	Warnings       []Warning      `json:"warnings,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// AnalysisJob is an asynchronous analysis request carried over the broker.
type AnalysisJob struct {
	ID     string         `json:"id"`
	Track  Track          `json:"track"`
	Params AnalysisParams `json:"params"`
}
