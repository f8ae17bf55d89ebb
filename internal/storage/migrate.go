package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	ensureMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version    TEXT PRIMARY KEY,
        filename   TEXT        NOT NULL,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`
	listAppliedMigrationsSQL = `SELECT version FROM schema_migrations;`
	recordMigrationSQL       = `INSERT INTO schema_migrations (version, filename) VALUES ($1, $2);`
)

// Migration is one embedded up-migration.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

// Migrations lists the embedded up-migrations in version order.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var out []Migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		body, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: migrationVersion(name), Filename: name, SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// migrationVersion extracts "0001" from "0001_init.up.sql".
func migrationVersion(filename string) string {
	if idx := strings.Index(filename, "_"); idx > 0 {
		return filename[:idx]
	}
	return strings.TrimSuffix(filename, ".up.sql")
}

// Migrate applies pending embedded migrations, each in its own transaction, and
// returns the filenames applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) ([]string, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	log := logger.With().Str("component", "migrator").Logger()

	if _, err := pool.Exec(ctx, ensureMigrationsTableSQL); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, listAppliedMigrationsSQL)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}

	migrations, err := Migrations()
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return done, fmt.Errorf("begin tx for %s: %w", m.Filename, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return done, fmt.Errorf("exec migration %s: %w", m.Filename, err)
		}
		if _, err := tx.Exec(ctx, recordMigrationSQL, m.Version, m.Filename); err != nil {
			_ = tx.Rollback(ctx)
			return done, fmt.Errorf("record migration %s: %w", m.Filename, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return done, fmt.Errorf("commit migration %s: %w", m.Filename, err)
		}
		log.Info().Str("migration", m.Filename).Msg("migration applied")
		done = append(done, m.Filename)
	}
	return done, nil
}
