// Package report renders finished analyses for export.
package report

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// GeoJSON renders danger zones and their buildings as a
// FeatureCollection. Zone features carry kind=zone, building features
// kind=building with the owning point_index. Coordinates are lon/lat.
func GeoJSON(a *domain.Analysis) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"analysis_id":  a.ID,
		"stride":       a.Stride,
		"danger_ratio": a.Report.DangerRatio,
		"quality":      a.Report.Quality,
	}
	if a.Report.AverageWeatherScore != nil {
		fc.ExtraMembers["average_weather_score"] = *a.Report.AverageWeatherScore
	}

	for _, z := range a.Zones {
		zf := geojson.NewFeature(orb.Point{z.Lon, z.Lat})
		zf.Properties["kind"] = "zone"
		zf.Properties["point_index"] = z.PointIndex
		zf.Properties["num_buildings"] = len(z.Buildings)
		zf.Properties["max_height_m"] = maxHeight(z.Buildings)
		if z.Time != nil {
			zf.Properties["time"] = z.Time.UTC()
		}
		if z.Weather != nil && z.Weather.Score != nil {
			zf.Properties["weather_score"] = *z.Weather.Score
		}
		fc.Append(zf)

		for _, b := range z.Buildings {
			bf := geojson.NewFeature(orb.Point{b.Lon, b.Lat})
			bf.Properties["kind"] = "building"
			bf.Properties["point_index"] = z.PointIndex
			bf.Properties["height_m"] = b.HeightM
			bf.Properties["distance_m"] = b.DistanceM
			fc.Append(bf)
		}
	}
	return fc
}

func maxHeight(bs []domain.Building) float64 {
	var m float64
	for _, b := range bs {
		if b.HeightM > m {
			m = b.HeightM
		}
	}
	return m
}
