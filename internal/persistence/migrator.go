package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migration is one versioned pair of SQL files,
// {version}_{name}.up.sql and the optional matching .down.sql.
type Migration struct {
	Version  string
	Name     string
	UpFile   string
	DownFile string
	Checksum string
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	Migration
	Applied bool
}

// ErrChecksumMismatch means an applied up file was edited afterwards.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// Migrator applies the event mirror's SQL migrations. Applied versions and
// the checksum of their up file are tracked in public.usdt_migrations.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, dir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: dir, logger: logger}
}

// Up applies every pending migration in version order, each in its own
// transaction. It refuses to run if an applied migration was modified.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, applied, err := m.load(ctx)
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		if sum, ok := applied[mig.Version]; ok {
			if sum != mig.Checksum {
				return fmt.Errorf("%w: %s", ErrChecksumMismatch, mig.UpFile)
			}
			continue
		}
		err := m.exec(ctx, mig.UpFile, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.usdt_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
				mig.Version, mig.Name, mig.Checksum)
			return err
		})
		if err != nil {
			return err
		}
		m.logger.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
	}
	return nil
}

// Down reverts the most recently applied migration. It is a no-op when
// nothing is applied.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	var version, name string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, name FROM public.usdt_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &name)
	if errors.Is(err, sql.ErrNoRows) {
		m.logger.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	downFile := version + "_" + name + ".down.sql"
	err = m.exec(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM public.usdt_migrations WHERE version = $1`, version)
		return err
	})
	if err != nil {
		return err
	}
	m.logger.Info().Str("version", version).Str("name", name).Msg("rolled back migration")
	return nil
}

// Status lists every migration found on disk with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	migrations, applied, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, 0, len(migrations))
	for _, mig := range migrations {
		_, ok := applied[mig.Version]
		out = append(out, MigrationState{Migration: mig, Applied: ok})
	}
	return out, nil
}

func (m *Migrator) load(ctx context.Context) ([]Migration, map[string]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, nil, err
	}
	migrations, err := ReadMigrations(m.dir)
	if err != nil {
		return nil, nil, err
	}
	applied, err := m.appliedChecksums(ctx)
	if err != nil {
		return nil, nil, err
	}
	return migrations, applied, nil
}

// exec runs file plus record in one transaction.
func (m *Migrator) exec(ctx context.Context, file string, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.usdt_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, checksum FROM public.usdt_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

// ReadMigrations scans dir for up files, sorted by version. Two up files
// sharing a version are rejected.
func ReadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names[e.Name()] = true
		}
	}

	var out []Migration
	seen := make(map[string]string)
	for file := range names {
		base, ok := strings.CutSuffix(file, ".up.sql")
		if !ok {
			continue
		}
		version, name, ok := strings.Cut(base, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: want {version}_{name}.up.sql", file)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %s used by %s and %s", version, prev, file)
		}
		seen[version] = file

		body, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		sum := sha256.Sum256(body)
		mig := Migration{Version: version, Name: name, UpFile: file, Checksum: hex.EncodeToString(sum[:])}
		if down := base + ".down.sql"; names[down] {
			mig.DownFile = down
		}
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
