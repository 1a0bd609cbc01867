package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/samirrijal/gpsguard/internal/adapters/overpass"
	"github.com/samirrijal/gpsguard/internal/adapters/postgres"
	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/core/ports"
	"github.com/samirrijal/gpsguard/internal/pkg/config"
	"github.com/samirrijal/gpsguard/internal/pkg/logging"
)

// ---------------------------------------------------------------------------
// Manifest types
// ---------------------------------------------------------------------------

// Manifest lists the regions whose buildings are mirrored into PostGIS.
type Manifest struct {
	Source  string        `json:"source"`
	Regions []RegionEntry `json:"regions"`
}

// RegionEntry is either a live bounding box or an Overpass JSON export file.
type RegionEntry struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	// BBox is south, west, north, east in degrees.
	BBox []float64 `json:"bbox,omitempty"`
	File string    `json:"file,omitempty"`
}

// tileDeg bounds the side of one Overpass query.
const tileDeg = 0.05

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	cfg, err := config.Load("gpsguard-ingestor")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	repo := postgres.NewBuildingRepo(db)

	// Load manifest
	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	slog.Info("building ingestor", "regions", len(manifest.Regions), "source", manifest.Source)

	// Filter regions (optional CLI arg: slug list)
	slugFilter := map[string]bool{}
	if len(os.Args) > 2 {
		for _, s := range strings.Split(os.Args[2], ",") {
			slugFilter[strings.TrimSpace(s)] = true
		}
	}

	client := overpass.New(cfg.Overpass.URL,
		overpass.WithTimeout(cfg.Overpass.TimeoutDuration()),
		overpass.WithRetries(cfg.Overpass.Retries),
	)

	var wg sync.WaitGroup
	sem := make(chan struct{}, 2) // Overpass allows few concurrent slots per client

	for _, region := range manifest.Regions {
		if len(slugFilter) > 0 && !slugFilter[region.Slug] {
			continue
		}

		wg.Add(1)
		go func(r RegionEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := ingestRegion(ctx, repo, client, r); err != nil {
				slog.Error("region ingestion failed", "region", r.Slug, "error", err)
			}
		}(region)
	}

	wg.Wait()

	if n, err := repo.Count(ctx); err == nil {
		slog.Info("ingestion complete", "buildings", n)
	}
}

// ---------------------------------------------------------------------------
// Per-region ingestion
// ---------------------------------------------------------------------------

func ingestRegion(ctx context.Context, repo ports.BuildingRepository, client ports.BuildingSource, r RegionEntry) error {
	start := time.Now()

	if r.File != "" {
		data, err := os.ReadFile(r.File)
		if err != nil {
			return fmt.Errorf("read export: %w", err)
		}
		res, err := overpass.Decode(data)
		if err != nil {
			return err
		}
		if err := repo.UpsertBatch(ctx, res.Features); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		slog.Info("region loaded from export", "region", r.Slug, "features", len(res.Features), "took", time.Since(start))
		return nil
	}

	box, err := parseBBox(r.BBox)
	if err != nil {
		return err
	}

	total := 0
	for _, tile := range tiles(box, tileDeg) {
		res, err := client.QueryBuildings(ctx, tile)
		if err != nil {
			return fmt.Errorf("query tile %+v: %w", tile, err)
		}
		if err := repo.UpsertBatch(ctx, res.Features); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
		total += len(res.Features)
	}
	slog.Info("region ingested", "region", r.Slug, "features", total, "took", time.Since(start))
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func parseBBox(v []float64) (domain.Bounds, error) {
	if len(v) != 4 {
		return domain.Bounds{}, fmt.Errorf("bbox needs south, west, north, east; got %d values", len(v))
	}
	b := domain.Bounds{MinLat: v[0], MinLon: v[1], MaxLat: v[2], MaxLon: v[3]}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return domain.Bounds{}, fmt.Errorf("bbox %v is empty or inverted", v)
	}
	return b, nil
}

// tiles splits b into boxes no larger than step degrees on either side.
func tiles(b domain.Bounds, step float64) []domain.Bounds {
	rows := int(math.Ceil((b.MaxLat - b.MinLat) / step))
	cols := int(math.Ceil((b.MaxLon - b.MinLon) / step))
	out := make([]domain.Bounds, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, domain.Bounds{
				MinLat: b.MinLat + float64(i)*step,
				MinLon: b.MinLon + float64(j)*step,
				MaxLat: math.Min(b.MinLat+float64(i+1)*step, b.MaxLat),
				MaxLon: math.Min(b.MinLon+float64(j+1)*step, b.MaxLon),
			})
		}
	}
	return out
}
