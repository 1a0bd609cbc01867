// Package track reads recorded routes into domain tracks.
package track

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// ErrUnsupportedFormat is returned when the input is neither GPX nor JSON.
var ErrUnsupportedFormat = errors.New("unsupported track format")

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Time string  `xml:"time"`
}

// ParseGPX flattens every track and segment of a GPX document, in order.
func ParseGPX(r io.Reader) (domain.Track, error) {
	var doc gpxFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return domain.Track{}, fmt.Errorf("failed to parse GPX: %w", err)
	}

	var t domain.Track
	for _, trk := range doc.Tracks {
		if t.Name == "" {
			t.Name = strings.TrimSpace(trk.Name)
		}
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				tp, err := point(p.Lat, p.Lon, p.Time)
				if err != nil {
					return domain.Track{}, fmt.Errorf("point %d: %w", len(t.Points), err)
				}
				t.Points = append(t.Points, tp)
			}
		}
	}
	return t, nil
}

type jsonPoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Time string  `json:"time,omitempty"`
}

type jsonTrack struct {
	Name   string      `json:"name"`
	Points []jsonPoint `json:"points"`
}

// ParseJSON reads {"name": ..., "points": [{"lat","lon","time"}]} or a bare
// array of points.
func ParseJSON(r io.Reader) (domain.Track, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Track{}, err
	}
	var jt jsonTrack
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &jt.Points)
	} else {
		err = json.Unmarshal(data, &jt)
	}
	if err != nil {
		return domain.Track{}, fmt.Errorf("failed to parse track JSON: %w", err)
	}

	t := domain.Track{Name: jt.Name, Points: make([]domain.TrackPoint, 0, len(jt.Points))}
	for i, p := range jt.Points {
		tp, err := point(p.Lat, p.Lon, p.Time)
		if err != nil {
			return domain.Track{}, fmt.Errorf("point %d: %w", i, err)
		}
		t.Points = append(t.Points, tp)
	}
	return t, nil
}

// Parse sniffs the content and dispatches to ParseGPX or ParseJSON.
func Parse(r io.Reader) (domain.Track, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Track{}, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return domain.Track{}, ErrUnsupportedFormat
	}
	switch trimmed[0] {
	case '<':
		return ParseGPX(bytes.NewReader(trimmed))
	case '{', '[':
		return ParseJSON(bytes.NewReader(trimmed))
	default:
		return domain.Track{}, ErrUnsupportedFormat
	}
}

// ReadFile parses a track file from disk.
func ReadFile(path string) (domain.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Track{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return domain.Track{}, err
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return t, nil
}

func point(lat, lon float64, ts string) (domain.TrackPoint, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return domain.TrackPoint{}, fmt.Errorf("coordinate out of range: %v,%v", lat, lon)
	}
	tp := domain.TrackPoint{Lat: lat, Lon: lon}
	if ts = strings.TrimSpace(ts); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return domain.TrackPoint{}, fmt.Errorf("invalid time %q: %w", ts, err)
		}
		parsed = parsed.UTC()
		tp.Time = &parsed
	}
	return tp, nil
}
