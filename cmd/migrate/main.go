package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"quantlab/internal/logger"
)

const (
	cmdUp      = "up"
	cmdDown    = "down"
	cmdVersion = "version"
	cmdStatus  = "status"

	usage = "usage: go run ./cmd/migrate [up|down|version|status] [steps]"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var migrationName = regexp.MustCompile(`^migrations/([0-9]+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// db is the subset of *pgxpool.Pool the runner needs.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	loadEnvFunc = godotenv.Load
	openPool    = func(ctx context.Context, dsn string) (db, func(), error) {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
)

type migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

func main() {
	_ = loadEnvFunc()

	log, err := logger.New(logger.Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: "console",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(context.Background(), os.Args[1:], os.Getenv("DATABASE_URL"), log); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
}

func run(ctx context.Context, args []string, dsn string, log zerolog.Logger) error {
	if len(args) < 1 {
		return errors.New(usage)
	}
	switch args[0] {
	case cmdUp, cmdDown, cmdVersion, cmdStatus:
	default:
		return fmt.Errorf("unknown command %q. %s", args[0], usage)
	}

	steps := 1
	if args[0] == cmdDown && len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid down steps: %q", args[1])
		}
		steps = n
	}

	if strings.TrimSpace(dsn) == "" {
		return errors.New("DATABASE_URL is required")
	}

	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	pool, closePool, err := openPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer closePool()

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	switch args[0] {
	case cmdUp:
		applied, err := applyUp(ctx, pool, migrations)
		if err != nil {
			return fmt.Errorf("apply migrations up: %w", err)
		}
		log.Info().Int("applied", applied).Msg("migrations up complete")
	case cmdDown:
		rolledBack, err := applyDown(ctx, pool, migrations, steps)
		if err != nil {
			return fmt.Errorf("apply migrations down: %w", err)
		}
		log.Info().Int("rolled_back", rolledBack).Msg("migrations down complete")
	case cmdVersion:
		version, name, err := currentVersion(ctx, pool)
		if err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if version == 0 {
			log.Info().Msg("no migrations applied")
			return nil
		}
		log.Info().Int64("version", version).Str("name", name).Msg("current version")
	case cmdStatus:
		applied, err := loadAppliedVersions(ctx, pool)
		if err != nil {
			return fmt.Errorf("read applied versions: %w", err)
		}
		for _, m := range pending(migrations, applied) {
			log.Info().Int64("version", m.Version).Str("name", m.Name).Msg("pending")
		}
		log.Info().Int("applied", len(applied)).Int("total", len(migrations)).Msg("migration status")
	}
	return nil
}

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     BIGINT PRIMARY KEY,
    name        TEXT NOT NULL,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`
	// Serialises runners that race on startup; released at commit.
	lockSQL = `SELECT pg_advisory_xact_lock(7240912)`
)

func ensureMigrationTable(ctx context.Context, pool db) error {
	_, err := pool.Exec(ctx, createTableSQL)
	return err
}

// loadMigrations pairs NNN_name.up.sql with NNN_name.down.sql and returns
// the pairs ordered by version.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	paths, err := fs.Glob(fsys, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, p := range paths {
		m := migrationName.FindStringSubmatch(p)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename: %s", p)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: version: %w", p, err)
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		sqlText := strings.TrimSpace(string(body))
		if sqlText == "" {
			return nil, fmt.Errorf("%s: empty migration", p)
		}

		mig := byVersion[version]
		if mig == nil {
			mig = &migration{Version: version, Name: m[2]}
			byVersion[version] = mig
		}
		if mig.Name != m[2] {
			return nil, fmt.Errorf("version %d is named both %s and %s", version, mig.Name, m[2])
		}
		target := &mig.UpSQL
		if m[3] == "down" {
			target = &mig.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("version %d has two %s files", version, m[3])
		}
		*target = sqlText
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpSQL == "" || mig.DownSQL == "" {
			return nil, fmt.Errorf("version %d needs both up and down files", mig.Version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func pending(migrations []migration, applied map[int64]struct{}) []migration {
	var out []migration
	for _, m := range migrations {
		if _, ok := applied[m.Version]; !ok {
			out = append(out, m)
		}
	}
	return out
}

func appliedVersions(ctx context.Context, pool db, query string, args ...any) ([]int64, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func loadAppliedVersions(ctx context.Context, pool db) (map[int64]struct{}, error) {
	versions, err := appliedVersions(ctx, pool, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		set[v] = struct{}{}
	}
	return set, nil
}

// applyUp runs every pending migration in its own transaction and stops at
// the first failure. It returns how many were applied.
func applyUp(ctx context.Context, pool db, migrations []migration) (int, error) {
	applied, err := loadAppliedVersions(ctx, pool)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range pending(migrations, applied) {
		err := step(ctx, pool, m.UpSQL,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
		if err != nil {
			return n, fmt.Errorf("up %d_%s: %w", m.Version, m.Name, err)
		}
		n++
	}
	return n, nil
}

// applyDown reverts the newest steps applied migrations, newest first.
func applyDown(ctx context.Context, pool db, migrations []migration, steps int) (int, error) {
	if steps <= 0 {
		return 0, fmt.Errorf("steps must be > 0")
	}
	sources := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		sources[m.Version] = m
	}
	versions, err := appliedVersions(ctx, pool,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, v := range versions {
		m, ok := sources[v]
		if !ok {
			return n, fmt.Errorf("applied version %d has no migration source", v)
		}
		if err := step(ctx, pool, m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, m.Version); err != nil {
			return n, fmt.Errorf("down %d_%s: %w", m.Version, m.Name, err)
		}
		n++
	}
	return n, nil
}

// step runs one migration body and its bookkeeping statement atomically.
func step(ctx context.Context, pool db, body, record string, args ...any) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockSQL); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	if _, err := tx.Exec(ctx, body); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, record, args...); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit(ctx)
}

func currentVersion(ctx context.Context, pool db) (int64, string, error) {
	var version int64
	var name string
	err := pool.QueryRow(ctx, `SELECT version, name FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", nil
	}
	return version, name, err
}
