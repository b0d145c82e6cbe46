package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("unexpected error loading embedded migrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []string{"create_candles", "create_ml_model_versions", "create_ml_predictions"}
	for i, m := range migrations {
		if m.Version != int64(i+1) || m.Name != want[i] {
			t.Fatalf("migration %d: got version %d name %s", i, m.Version, m.Name)
		}
		if m.UpSQL == "" || m.DownSQL == "" {
			t.Fatalf("expected non-empty up/down sql for %s", m.Name)
		}
	}
	if !strings.Contains(migrations[2].UpSQL, "PRIMARY KEY (model_key, bar_time)") {
		t.Fatal("predictions table must be keyed by model and bar time")
	}
}

func TestLoadMigrationsRejectsBadSets(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"migrations/1_Create.up.sql": {Data: []byte("SELECT 1")},
		},
		"missing down": {
			"migrations/000001_a.up.sql": {Data: []byte("SELECT 1")},
		},
		"empty file": {
			"migrations/000001_a.up.sql":   {Data: []byte("  ")},
			"migrations/000001_a.down.sql": {Data: []byte("SELECT 1")},
		},
		"conflicting names": {
			"migrations/000001_a.up.sql":   {Data: []byte("SELECT 1")},
			"migrations/000001_b.down.sql": {Data: []byte("SELECT 1")},
		},
		"no files": {},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadMigrations(fsys); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunArgumentErrors(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	if err := run(ctx, nil, "postgres://x", log); err == nil {
		t.Fatal("expected usage error")
	}
	if err := run(ctx, []string{"sideways"}, "postgres://x", log); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := run(ctx, []string{"down", "zero"}, "postgres://x", log); err == nil {
		t.Fatal("expected invalid steps error")
	}
	if err := run(ctx, []string{"up"}, " ", log); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

type fakeTx struct {
	pgx.Tx
	db        *fakeDB
	committed bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if t.db.failOn != "" && strings.Contains(sql, t.db.failOn) {
		return pgconn.CommandTag{}, errors.New("boom")
	}
	t.db.execs = append(t.db.execs, sql)
	return pgconn.NewCommandTag("OK"), nil
}
func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.db.rollbacks++
	}
	return nil
}

type versionRows struct {
	versions []int64
	pos      int
}

func (r *versionRows) Close()                                       {}
func (r *versionRows) Err() error                                   { return nil }
func (r *versionRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *versionRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *versionRows) Values() ([]any, error)                       { return nil, nil }
func (r *versionRows) RawValues() [][]byte                          { return nil }
func (r *versionRows) Conn() *pgx.Conn                              { return nil }
func (r *versionRows) Next() bool {
	if r.pos >= len(r.versions) {
		return false
	}
	r.pos++
	return true
}
func (r *versionRows) Scan(dest ...any) error {
	*dest[0].(*int64) = r.versions[r.pos-1]
	return nil
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

type fakeDB struct {
	applied   []int64
	failOn    string
	execs     []string
	commits   int
	rollbacks int
}

func (d *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.execs = append(d.execs, sql)
	return pgconn.NewCommandTag("OK"), nil
}
func (d *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &versionRows{versions: d.applied}, nil
}
func (d *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return noRow{} }
func (d *fakeDB) Begin(context.Context) (pgx.Tx, error)            { return &fakeTx{db: d}, nil }

func TestApplyUpSkipsApplied(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDB{applied: []int64{1}}
	n, err := applyUp(context.Background(), d, migrations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 || d.commits != 2 || d.rollbacks != 0 {
		t.Fatalf("expected 2 applied and committed, got %d/%d (rollbacks %d)", n, d.commits, d.rollbacks)
	}
	if len(d.execs) == 0 || d.execs[0] != lockSQL {
		t.Fatalf("each step should take the migration lock first, got %v", d.execs)
	}
}

func TestApplyUpRollsBackOnFailure(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDB{failOn: "ml_predictions"}
	n, err := applyUp(context.Background(), d, migrations)
	if err == nil {
		t.Fatal("expected failure on third migration")
	}
	if n != 2 || d.rollbacks != 1 {
		t.Fatalf("expected 2 applied and 1 rollback, got %d/%d", n, d.rollbacks)
	}
}

func TestApplyDownUnknownVersion(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDB{applied: []int64{9}}
	if _, err := applyDown(context.Background(), d, migrations, 1); err == nil {
		t.Fatal("expected missing source error")
	}
}

func TestRunVersionWithFakePool(t *testing.T) {
	orig := openPool
	t.Cleanup(func() { openPool = orig })
	d := &fakeDB{}
	openPool = func(context.Context, string) (db, func(), error) { return d, func() {}, nil }

	if err := run(context.Background(), []string{"version"}, "postgres://x", zerolog.Nop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.execs) != 1 || !strings.Contains(d.execs[0], "schema_migrations") {
		t.Fatalf("expected schema_migrations bootstrap, got %v", d.execs)
	}
}

func TestPending(t *testing.T) {
	migrations := []migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := pending(migrations, map[int64]struct{}{2: {}})
	if len(got) != 2 || got[0].Version != 1 || got[1].Version != 3 {
		t.Fatalf("unexpected pending set: %+v", got)
	}
}
