package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration represents a single migration.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

// MigrationStatus represents the status of a migration.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies versioned schema scripts and records them in a tracking
// table.
type Migrator struct {
	db         *SQLClient
	tableName  string
	migrations []Migration
}

// MigratorOption configures the migrator.
type MigratorOption func(*Migrator)

// WithTableName sets the migrations tracking table name.
func WithTableName(name string) MigratorOption {
	return func(m *Migrator) {
		m.tableName = name
	}
}

// NewMigrator creates a migrator with no migrations loaded.
func NewMigrator(db *SQLClient, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		db:        db,
		tableName: "schema_migrations",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSchemaMigrator returns a migrator loaded with the geofence schema.
func NewSchemaMigrator(db *SQLClient, opts ...MigratorOption) (*Migrator, error) {
	m := NewMigrator(db, opts...)
	if err := m.LoadFromFS(migrationFS, "migrations"); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadFromFS loads migrations named like 001_create_geofences.up.sql and
// 001_create_geofences.down.sql from dir.
func (m *Migrator) LoadFromFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}

		switch {
		case strings.HasSuffix(name, ".up.sql"):
			mig.UpScript = string(content)
			mig.Name = strings.TrimSuffix(rest, ".up.sql")
		case strings.HasSuffix(name, ".down.sql"):
			mig.DownScript = string(content)
		}
	}

	m.migrations = make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		m.migrations = append(m.migrations, *mig)
	}
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
	return nil
}

// Migrations returns the loaded migrations in version order.
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

// Initialize creates the migrations tracking table.
func (m *Migrator) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)`, m.tableName)

	if _, err := m.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Status returns the migration status.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at int64
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = time.Unix(0, at).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, len(m.migrations))
	for i, mig := range m.migrations {
		statuses[i] = MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := applied[mig.Version]; ok {
			statuses[i].Applied = true
			statuses[i].AppliedAt = &at
		}
	}
	return statuses, nil
}

// Up runs all pending migrations and returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i, status := range statuses {
		if status.Applied {
			continue
		}
		mig := m.migrations[i]
		if mig.UpScript == "" {
			return applied, fmt.Errorf("migration %d has no up script", mig.Version)
		}
		if err := m.run(ctx, mig, true); err != nil {
			return applied, fmt.Errorf("migration %d failed: %w", mig.Version, err)
		}
		applied++
	}
	return applied, nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}

	for i := len(statuses) - 1; i >= 0; i-- {
		if !statuses[i].Applied {
			continue
		}
		mig := m.migrations[i]
		if mig.DownScript == "" {
			return fmt.Errorf("migration %d has no down script", mig.Version)
		}
		return m.run(ctx, mig, false)
	}
	return nil
}

// Version returns the highest applied migration version, or 0.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, err
	}

	var version sql.NullInt64
	if err := m.db.QueryRow(ctx, fmt.Sprintf("SELECT MAX(version) FROM %s", m.tableName)).Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func (m *Migrator) run(ctx context.Context, mig Migration, up bool) error {
	script := mig.DownScript
	if up {
		script = mig.UpScript
	}

	return m.db.WithTransaction(ctx, func(tx *Transaction) error {
		for _, stmt := range splitStatements(script) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement: %w", err)
			}
		}

		if up {
			q := fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", m.tableName)
			if _, err := tx.Exec(ctx, q, mig.Version, mig.Name, time.Now().UnixNano()); err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}
			return nil
		}

		q := fmt.Sprintf("DELETE FROM %s WHERE version = ?", m.tableName)
		if _, err := tx.Exec(ctx, q, mig.Version); err != nil {
			return fmt.Errorf("failed to remove migration record: %w", err)
		}
		return nil
	})
}

// splitStatements splits a script on semicolons that end a line. Comment-only
// lines are dropped.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			statements = append(statements, s)
		}
		current.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if strings.HasSuffix(trimmed, ";") {
			current.WriteString(strings.TrimSuffix(trimmed, ";"))
			flush()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return statements
}
