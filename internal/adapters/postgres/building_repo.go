package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
	"github.com/samirrijal/gpsguard/internal/pkg/telemetry"
)

const serviceName = "postgres"

// BuildingRepo implements ports.BuildingRepository on a PostGIS buildings table.
type BuildingRepo struct {
	db *DB
}

var _ ports.BuildingRepository = (*BuildingRepo)(nil)

// NewBuildingRepo creates a new BuildingRepo.
func NewBuildingRepo(db *DB) *BuildingRepo {
	return &BuildingRepo{db: db}
}

const upsertBuildingSQL = `
	INSERT INTO buildings (osm_id, height, tags, centroid)
	VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326))
	ON CONFLICT (osm_id) DO UPDATE
	SET height = EXCLUDED.height, tags = EXCLUDED.tags,
	    centroid = EXCLUDED.centroid, updated_at = NOW()
`

// UpsertBatch inserts or updates many buildings using pgx.Batch.
// Features without a center or a height tag are skipped.
func (r *BuildingRepo) UpsertBatch(ctx context.Context, features []domain.Feature) error {
	batch := &pgx.Batch{}
	for _, f := range features {
		if f.Center == nil {
			continue
		}
		height, ok := f.Tags["height"]
		if !ok {
			continue
		}
		batch.Queue(upsertBuildingSQL, f.ID, height, f.Tags, f.Center.Lon, f.Center.Lat)
	}
	if batch.Len() == 0 {
		return nil
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}
	return nil
}

// QueryBuildings returns the stored buildings whose centroid lies in b.
// Rows are shaped like an Overpass answer so the proximity filter treats
// both sources alike.
func (r *BuildingRepo) QueryBuildings(ctx context.Context, b domain.Bounds) (*domain.QueryResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "postgres.QueryBuildings",
		trace.WithAttributes(
			attribute.Float64("bbox.min_lat", b.MinLat),
			attribute.Float64("bbox.min_lon", b.MinLon),
			attribute.Float64("bbox.max_lat", b.MaxLat),
			attribute.Float64("bbox.max_lon", b.MaxLon),
		))
	defer span.End()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT osm_id, height, ST_Y(centroid) AS lat, ST_X(centroid) AS lon
		FROM buildings
		WHERE centroid && ST_MakeEnvelope($1, $2, $3, $4, 4326)
	`, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	if err != nil {
		span.RecordError(err)
		return nil, &domain.QueryError{Service: serviceName, Kind: domain.ErrKindNetwork, Err: err}
	}
	defer rows.Close()

	res := &domain.QueryResult{Features: []domain.Feature{}}
	for rows.Next() {
		var (
			id     int64
			height string
			center domain.GeoPoint
		)
		if err := rows.Scan(&id, &height, &center.Lat, &center.Lon); err != nil {
			return nil, &domain.QueryError{Service: serviceName, Kind: domain.ErrKindParse, Err: err}
		}
		res.Features = append(res.Features, domain.Feature{
			ID:     id,
			Tags:   map[string]string{"building": "yes", "height": height},
			Center: &center,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.QueryError{Service: serviceName, Kind: domain.ErrKindNetwork, Err: err}
	}
	span.SetAttributes(attribute.Int("buildings.count", len(res.Features)))
	return res, nil
}

// Count returns the number of stored buildings.
func (r *BuildingRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM buildings`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
