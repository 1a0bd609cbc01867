package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/tidwall/geodesic"
)

// MetersPerDegree is the flat-earth conversion used to size query boxes.
// It ignores latitude, so boxes get narrower in true longitude away from the
// equator and the approximation only holds for short radii.
const MetersPerDegree = 111000.0

// Distance returns the geodesic distance in meters on the WGS84 ellipsoid.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(lat1, lon1, lat2, lon2, &s12, nil, nil)
	return s12
}

// Destination returns the point reached after travelling distM meters from
// (lat, lon) along the initial bearing azimuthDeg.
func Destination(lat, lon, azimuthDeg, distM float64) (float64, float64) {
	var lat2, lon2 float64
	geodesic.WGS84.Direct(lat, lon, azimuthDeg, distM, &lat2, &lon2, nil)
	return lat2, lon2
}

// BoundingBox returns a square box in degrees around a point with the given radius in meters.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	delta := radiusMeters / MetersPerDegree
	return lat - delta, lon - delta, lat + delta, lon + delta
}

// Bound is BoundingBox as an orb.Bound.
func Bound(lat, lon, radiusMeters float64) orb.Bound {
	minLat, minLon, maxLat, maxLon := BoundingBox(lat, lon, radiusMeters)
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}
