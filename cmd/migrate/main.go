package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/gpsguard/internal/pkg/config"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|status|down>")
	}

	cfg, err := config.Load("gpsguard-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		log.Fatalf("schema_migrations: %v", err)
	}

	files, err := migrationFiles(migrationsDir)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}

	switch os.Args[1] {
	case "up":
		if err := up(ctx, pool, files); err != nil {
			log.Fatal(err)
		}
		log.Println("all migrations applied")
	case "status":
		applied, err := appliedVersions(ctx, pool)
		if err != nil {
			log.Fatal(err)
		}
		for _, f := range files {
			state := "pending"
			if applied[version(f)] {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, f)
		}
	case "down":
		// Only the data table is dropped; extensions stay installed.
		if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS buildings; TRUNCATE schema_migrations`); err != nil {
			log.Fatalf("down: %v", err)
		}
		log.Println("buildings table dropped")
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

// migrationFiles returns the .sql files in dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// version is the file name without directory or extension.
func version(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// up applies each pending file in its own transaction.
func up(ctx context.Context, pool *pgxpool.Pool, files []string) error {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	for _, f := range files {
		v := version(f)
		if applied[v] {
			fmt.Printf("SKIP %s\n", f)
			continue
		}

		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, v)
			return err
		})
		if err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}

		fmt.Printf("OK   %s\n", f)
	}
	return nil
}
