package geospatial

import (
	"math"
	"testing"
)

func TestBoundingBox_WidthAndSymmetry(t *testing.T) {
	lat, lon := 43.2630, -2.9350
	for r := 10.0; r <= 200; r += 10 {
		minLat, minLon, maxLat, maxLon := BoundingBox(lat, lon, r)
		want := 2 * r / 111000
		if got := maxLat - minLat; math.Abs(got-want) > 1e-12 {
			t.Errorf("radius %.0f: lat span %v, want %v", r, got, want)
		}
		if got := maxLon - minLon; math.Abs(got-want) > 1e-12 {
			t.Errorf("radius %.0f: lon span %v, want %v", r, got, want)
		}
		if math.Abs((lat-minLat)-(maxLat-lat)) > 1e-12 {
			t.Errorf("radius %.0f: box not symmetric in latitude", r)
		}
		if math.Abs((lon-minLon)-(maxLon-lon)) > 1e-12 {
			t.Errorf("radius %.0f: box not symmetric in longitude", r)
		}
	}
}

func TestBound_MatchesBoundingBox(t *testing.T) {
	b := Bound(10, 20, 111)
	if math.Abs(b.Min.Lat()-9.999) > 1e-12 || math.Abs(b.Max.Lon()-20.001) > 1e-12 {
		t.Errorf("unexpected bound %+v", b)
	}
}

func TestDistance_OneDegreeAtEquator(t *testing.T) {
	// WGS84 meridian arc for one degree at the equator.
	d := Distance(0, 0, 1, 0)
	if math.Abs(d-110574.4) > 1 {
		t.Errorf("expected ~110574 m, got %.1f", d)
	}
}

func TestDistance_SamePoint(t *testing.T) {
	if d := Distance(43.26, -2.93, 43.26, -2.93); d != 0 {
		t.Errorf("expected 0, got %v", d)
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	lat, lon := Destination(43.26, -2.93, 45, 30)
	d := Distance(43.26, -2.93, lat, lon)
	if math.Abs(d-30) > 1e-6 {
		t.Errorf("expected 30 m, got %v", d)
	}
}
