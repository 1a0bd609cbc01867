package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
	"github.com/samirrijal/gpsguard/internal/pkg/geospatial"
	"github.com/samirrijal/gpsguard/internal/pkg/metrics"
)

// ProximityService finds tall buildings around track points.
type ProximityService struct {
	source   ports.BuildingSource
	cache    ports.CacheService
	cacheTTL int
}

// NewProximityService creates a new ProximityService. cache may be nil.
func NewProximityService(source ports.BuildingSource, cache ports.CacheService, cacheTTLSeconds int) *ProximityService {
	return &ProximityService{source: source, cache: cache, cacheTTL: cacheTTLSeconds}
}

// QueryBox returns the search box for a point and radius.
func QueryBox(p domain.TrackPoint, radiusM float64) domain.Bounds {
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(p.Lat, p.Lon, radiusM)
	return domain.Bounds{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
}

// Query fetches the raw building candidates inside the box around p.
func (s *ProximityService) Query(ctx context.Context, p domain.TrackPoint, radiusM float64) (*domain.QueryResult, error) {
	box := QueryBox(p, radiusM)

	cacheKey := fmt.Sprintf("buildings:bbox:%.6f:%.6f:%.6f:%.6f", box.MinLat, box.MinLon, box.MaxLat, box.MaxLon)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var res domain.QueryResult
			if err := json.Unmarshal(data, &res); err == nil {
				metrics.CacheHits.WithLabelValues("buildings").Inc()
				return &res, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("buildings").Inc()
	}

	res, err := s.source.QueryBuildings(ctx, box)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := json.Marshal(res); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}

	return res, nil
}

// FilterBuildings keeps candidates at least minHeightM tall whose centre lies
// within radiusM (inclusive) of p. Features without a numeric height or a
// centre are skipped. Discovery order is preserved.
func FilterBuildings(p domain.TrackPoint, res *domain.QueryResult, radiusM, minHeightM float64) []domain.Building {
	if res == nil {
		return nil
	}
	var nearby []domain.Building
	for _, f := range res.Features {
		h, ok := parseHeight(f.Tags)
		if !ok || h < minHeightM {
			continue
		}
		if f.Center == nil {
			continue
		}
		dist := geospatial.Distance(p.Lat, p.Lon, f.Center.Lat, f.Center.Lon)
		if dist > radiusM {
			continue
		}
		nearby = append(nearby, domain.Building{
			Lat:       f.Center.Lat,
			Lon:       f.Center.Lon,
			HeightM:   h,
			DistanceM: dist,
		})
	}
	return nearby
}

func parseHeight(tags map[string]string) (float64, bool) {
	raw, ok := tags["height"]
	if !ok {
		return 0, false
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(h) {
		return 0, false
	}
	return h, true
}
