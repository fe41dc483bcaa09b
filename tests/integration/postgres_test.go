//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tordrt/seedkit"
	"github.com/tordrt/seedkit/internal/db"
	"github.com/tordrt/seedkit/internal/importer"
	"github.com/tordrt/seedkit/internal/migrate"
)

const upSQL = `
CREATE TABLE practice_problems (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL,
	rule_id TEXT,
	tier1 JSONB
);
CREATE TABLE guided_practice (
	id SERIAL PRIMARY KEY,
	rule_id TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const downSQL = `
DROP TABLE guided_practice;
DROP TABLE practice_problems;
`

func writeMigrations(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "1_init.up.sql"), []byte(upSQL), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "1_init.down.sql"), []byte(downSQL), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestPostgresMigrateAndStore(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	out, err := migrate.Run(writeMigrations(t), dsn, migrate.Up, 0)
	if err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if out.Version != 1 || out.Dirty {
		t.Fatalf("Expected clean version 1, got %+v", out)
	}

	again, err := migrate.Run(writeMigrations(t), dsn, migrate.Up, 0)
	if err != nil {
		t.Fatalf("Failed to re-run migrations: %v", err)
	}
	if !again.NoChange {
		t.Errorf("Expected no change on second run, got %+v", again)
	}

	st, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer st.Close()

	ok, err := st.TableExists(ctx, "public.guided_practice")
	if err != nil || !ok {
		t.Fatalf("Expected guided_practice to exist (err=%v)", err)
	}

	cols, err := st.Columns(ctx, "guided_practice")
	if err != nil {
		t.Fatalf("Failed to read columns: %v", err)
	}
	verifyColumns(t, "guided_practice", cols, []string{"id", "rule_id", "created_at"})
	if c := findColumn(cols, "rule_id"); c == nil || !c.IsUnique {
		t.Errorf("Expected rule_id to be unique, got %+v", c)
	}
	if c := findColumn(cols, "id"); c == nil || !c.IsPrimaryKey {
		t.Errorf("Expected id to be the primary key, got %+v", c)
	}

	n, err := st.Insert(ctx, "practice_problems", []map[string]any{
		{"id": "p1", "subject": "math", "rule_id": "add-1", "tier1": map[string]any{"hint": "count up"}},
		{"id": "p2", "subject": "math", "rule_id": "add-2"},
		{"id": "p3", "subject": "reading"},
	})
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 rows inserted, got %d", n)
	}

	vals, err := st.FetchColumn(ctx, "practice_problems", "rule_id", 0, 10)
	if err != nil {
		t.Fatalf("Failed to fetch column: %v", err)
	}
	if len(vals) != 3 || vals[0] == nil || *vals[0] != "add-1" || vals[2] != nil {
		t.Errorf("Unexpected column values: %v", vals)
	}

	count, err := st.Count(ctx, "practice_problems", db.Predicate{Column: "subject", Value: "math"})
	if err != nil || count != 2 {
		t.Errorf("Expected 2 math rows, got %d (err=%v)", count, err)
	}

	deleted, err := st.Delete(ctx, "practice_problems", db.Predicate{Column: "rule_id", Value: nil})
	if err != nil || deleted != 1 {
		t.Errorf("Expected to delete 1 row with NULL rule_id, got %d (err=%v)", deleted, err)
	}

	down, err := migrate.Run(writeMigrations(t), dsn, migrate.Down, 1)
	if err != nil {
		t.Fatalf("Failed to migrate down: %v", err)
	}
	if down.Version != 0 {
		t.Errorf("Expected version 0 after down, got %+v", down)
	}
}

func TestPostgresImportIsolatesFailedBatches(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)
	if _, err := migrate.Run(writeMigrations(t), dsn, migrate.Up, 0); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	st, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer st.Close()

	if _, err := st.Insert(ctx, "guided_practice", []map[string]any{{"rule_id": "r-05"}}); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	rows := make([]map[string]any, 0, 12)
	for i := 0; i < 12; i++ {
		rows = append(rows, map[string]any{"rule_id": "r-" + string(rune('a'+i))})
	}
	// the second batch collides with the seeded row
	rows[5]["rule_id"] = "r-05"

	im, err := importer.New(st, 4, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := im.Import(ctx, "guided_practice", rows)

	if res.Batches != 3 {
		t.Errorf("Expected 3 batches, got %d", res.Batches)
	}
	if len(res.Failures) != 1 || res.Failures[0].Batch != 1 {
		t.Fatalf("Expected only batch 1 to fail, got %+v", res.Failures)
	}
	if res.Imported != 8 {
		t.Errorf("Expected 8 rows imported, got %d", res.Imported)
	}

	total, err := st.Count(ctx, "guided_practice")
	if err != nil || total != 9 {
		t.Errorf("Expected 9 rows in table, got %d (err=%v)", total, err)
	}

	rerun := im.WithConflict(db.NewConflict("rule_id", true)).Import(ctx, "guided_practice", rows)
	if !rerun.OK() {
		t.Fatalf("Expected the re-run to succeed, got %+v", rerun.Failures)
	}
	if rerun.Imported != 3 || rerun.Skipped != 9 {
		t.Errorf("Expected 3 imported and 9 skipped on re-run, got %d and %d", rerun.Imported, rerun.Skipped)
	}
}

func TestPostgresCheckCoverage(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)
	if _, err := migrate.Run(writeMigrations(t), dsn, migrate.Up, 0); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	st, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer st.Close()

	if err := st.Exec(ctx, `
INSERT INTO practice_problems (id, subject, rule_id)
SELECT 'p' || g, 'math', 'rule-' || (g % 25) FROM generate_series(1, 1000) g;
INSERT INTO guided_practice (rule_id)
SELECT 'rule-' || g FROM generate_series(0, 19) g;
`); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	rep, err := seedkit.CheckCoverage(ctx, dsn, seedkit.CoverageOptions{
		Expected: "practice_problems.rule_id",
		Present:  "guided_practice.rule_id",
		PageSize: 100,
	})
	if err != nil {
		t.Fatalf("Failed to check coverage: %v", err)
	}
	if rep.Expected.Pages != 10 {
		t.Errorf("Expected 10 page requests for 1000 rows, got %d", rep.Expected.Pages)
	}
	if rep.Result.TotalExpected != 25 || rep.Result.Missing.Len() != 5 || rep.Result.Percentage != 80 {
		t.Errorf("Unexpected coverage: total=%d missing=%d pct=%d",
			rep.Result.TotalExpected, rep.Result.Missing.Len(), rep.Result.Percentage)
	}
}
