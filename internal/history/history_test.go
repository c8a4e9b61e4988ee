package history

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &Record{
		Timestamp:    "20260823T120000Z",
		Target:       "riscv32_simple",
		Mode:         "simple",
		Returncode:   0,
		AllPassed:    true,
		SimInsts:     42000,
		ManifestPath: "workloads/results/20260823T120000Z/riscv32_simple_simple.json",
	}
	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("Insert should assign an ID")
	}
	if first.CreatedAt.IsZero() {
		t.Error("Insert should assign CreatedAt")
	}

	second := &Record{
		Timestamp:    "20260823T130000Z",
		Target:       "riscv64_smp",
		Mode:         "complex",
		Returncode:   124,
		Timeout:      true,
		SimInsts:     -1,
		ManifestPath: "workloads/results/20260823T130000Z/riscv64_smp_complex.json",
	}
	if err := s.Insert(ctx, second); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	recs, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Newest first.
	if recs[0].Target != "riscv64_smp" || recs[1].Target != "riscv32_simple" {
		t.Errorf("wrong order: %s, %s", recs[0].Target, recs[1].Target)
	}
	if !recs[0].Timeout || recs[0].Returncode != 124 {
		t.Errorf("timeout flags lost: %+v", recs[0])
	}
	if !recs[1].AllPassed || recs[1].SimInsts != 42000 {
		t.Errorf("pass flags lost: %+v", recs[1])
	}
}

func TestRecentTargetFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, target := range []string{"riscv32_simple", "riscv32_mixed", "riscv32_simple"} {
		rec := &Record{Timestamp: "ts", Target: target, Mode: "simple", SimInsts: -1, ManifestPath: "m.json"}
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.Recent(ctx, "riscv32_simple", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records for filter, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Target != "riscv32_simple" {
			t.Errorf("filter leaked target %s", r.Target)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := &Record{Timestamp: "ts", Target: "riscv32_simple", Mode: "simple", SimInsts: -1, ManifestPath: "m.json"}
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := s.Recent(ctx, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Errorf("got %d records, want 3", len(recs))
	}
}

func TestRecentEmpty(t *testing.T) {
	s := openTestStore(t)
	recs, err := s.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent on empty store failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("got %d records from empty store", len(recs))
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open with nested path failed: %v", err)
	}
	s.Close()
}
