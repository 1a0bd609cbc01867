package ports

import (
	"context"

	"github.com/samirrijal/gpsguard/internal/core/domain"
)

// BuildingSource answers bounding-box queries for tall-building candidates.
type BuildingSource interface {
	// QueryBuildings returns every building feature with a height tag inside the box.
	QueryBuildings(ctx context.Context, box domain.Bounds) (*domain.QueryResult, error)
}

// BuildingRepository persists a local copy of building footprints.
type BuildingRepository interface {
	BuildingSource
	UpsertBatch(ctx context.Context, features []domain.Feature) error
	Count(ctx context.Context) (int, error)
}
