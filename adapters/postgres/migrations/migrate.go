package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Migrator handles database schema migrations
type Migrator struct {
	db  *sql.DB
	fs  fs.FS
	log func(format string, args ...any)
}

// NewMigrator creates a migrator over the embedded migration files
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db, fs: files, log: func(string, ...any) {}}
}

// WithLogger sets a printf-style progress logger
func (m *Migrator) WithLogger(log func(format string, args ...any)) *Migrator {
	m.log = log
	return m
}

// MigrationFile represents a migration file
type MigrationFile struct {
	Version  string
	Name     string
	Checksum string
	SQL      string
}

// MigrationStatus reports one migration's state in the database
type MigrationStatus struct {
	Version string
	Name    string
	Applied bool
	// Drifted is set when the applied checksum differs from the file's
	Drifted bool
}

const createTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`

// Up executes all pending migrations. An applied migration whose file changed aborts the run.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrationFiles, err := m.findMigrationFiles()
	if err != nil {
		return fmt.Errorf("failed to find migration files: %w", err)
	}

	for _, file := range migrationFiles {
		if checksum, ok := applied[file.Version]; ok {
			if checksum != file.Checksum {
				return fmt.Errorf("migration %s was modified after it was applied", file.Version)
			}
			continue
		}

		if err := m.applyMigration(ctx, file); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file.Version, err)
		}
		m.log("applied migration %s_%s", file.Version, file.Name)
	}

	return nil
}

// Status returns the state of every known migration
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if _, err := m.db.ExecContext(ctx, createTable); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrationFiles, err := m.findMigrationFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to find migration files: %w", err)
	}

	out := make([]MigrationStatus, 0, len(migrationFiles))
	for _, file := range migrationFiles {
		checksum, ok := applied[file.Version]
		out = append(out, MigrationStatus{
			Version: file.Version,
			Name:    file.Name,
			Applied: ok,
			Drifted: ok && checksum != file.Checksum,
		})
	}
	return out, nil
}

// getAppliedMigrations returns applied versions and their checksums
func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		applied[version] = checksum
	}

	return applied, rows.Err()
}

// calculateChecksum computes SHA256 checksum of migration content
func calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// findMigrationFiles lists NNN_name.sql files sorted by version
func (m *Migrator) findMigrationFiles() ([]MigrationFile, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, err
	}

	var out []MigrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		parts := strings.SplitN(strings.TrimSuffix(e.Name(), ".sql"), "_", 2)
		if len(parts) < 2 {
			continue
		}
		data, err := fs.ReadFile(m.fs, e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, MigrationFile{
			Version:  parts[0],
			Name:     parts[1],
			Checksum: calculateChecksum(data),
			SQL:      string(data),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// applyMigration executes a single migration file
func (m *Migrator) applyMigration(ctx context.Context, file MigrationFile) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, file.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)", file.Version, file.Checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
