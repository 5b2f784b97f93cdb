package vacuum

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/config"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/txn"
	"github.com/relicdb/relic/internal/types"
)

type nopLog struct{}

func (nopLog) AppendCommit(types.TxID) error { return nil }

func testRig(t *testing.T) (*Vacuum, *txn.Manager, *catalog.Table, *index.Index) {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelError, "[test]")
	cat := catalog.New(nil, log)
	mgr := txn.NewManager(log, nopLog{})

	tbl, err := cat.AddTable(&schema.Table{Name: "users", Columns: []schema.Column{
		{Name: "id", Type: types.KindInt, NotNull: true},
		{Name: "name", Type: types.KindString},
	}}, cat.AllocObject())
	if err != nil {
		t.Fatalf("add table: %v", err)
	}
	ix := index.New("users_id", cat.AllocObject(), "users", []int{0}, true)
	if err := cat.AddIndex(ix); err != nil {
		t.Fatalf("add index: %v", err)
	}

	v, err := New(cat, mgr, config.VacuumConfig{
		Interval:   time.Second,
		BatchSize:  4,
		RatePerSec: 0,
		Workers:    1,
	}, log)
	if err != nil {
		t.Fatalf("new vacuum: %v", err)
	}
	t.Cleanup(v.Stop)
	return v, mgr, tbl, ix
}

func userRow(id int64, name string) types.Row {
	return types.Row{types.NewInt(id), types.NewString(name)}
}

// insert writes a row and its index entry inside tx without committing.
func insert(t *testing.T, tbl *catalog.Table, ix *index.Index, tx *txn.Txn, row types.Row) types.Location {
	t.Helper()
	loc, _ := tbl.Store.Insert(tx.ID(), row)
	if _, err := ix.Insert(ix.KeyFor(row), loc, tx.ID(), tx, func(types.Location) bool { return true }); err != nil {
		t.Fatalf("index insert: %v", err)
	}
	return loc
}

func remove(t *testing.T, mgr *txn.Manager, tbl *catalog.Table, ix *index.Index, loc types.Location, key []byte) {
	t.Helper()
	tx := mgr.Begin()
	ver, err := tbl.Store.Heap().Head(loc)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	tx.RecordDelete(tbl.Object(), loc, ver)
	for _, e := range ix.Entries(key) {
		if e.Location() == loc {
			tx.RecordEntryRemoval(ix, e)
		}
	}
	if err := mgr.Commit(tx); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
}

func versionCount(tbl *catalog.Table, loc types.Location) int {
	vers, err := tbl.Store.Heap().Versions(loc)
	if err != nil {
		return 0
	}
	return len(vers)
}

func TestSweepDropsAbortedWork(t *testing.T) {
	v, mgr, tbl, ix := testRig(t)

	tx := mgr.Begin()
	loc := insert(t, tbl, ix, tx, userRow(1, "ana"))
	if err := mgr.Rollback(tx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	n, err := v.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// One heap version and one index entry.
	if n != 2 {
		t.Fatalf("want 2 reclaimed, got %d", n)
	}
	if versionCount(tbl, loc) != 0 {
		t.Fatal("aborted version must be gone")
	}
	if ix.KeyCount() != 0 {
		t.Fatal("aborted entry must be gone")
	}
}

func TestSweepDropsDeletesBehindHorizon(t *testing.T) {
	v, mgr, tbl, ix := testRig(t)

	tx := mgr.Begin()
	loc := insert(t, tbl, ix, tx, userRow(1, "ana"))
	if err := mgr.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	key := ix.KeyFor(userRow(1, "ana"))
	remove(t, mgr, tbl, ix, loc, key)

	// No snapshot is active, so the horizon clears the deletion.
	n, err := v.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 reclaimed, got %d", n)
	}
	if versionCount(tbl, loc) != 0 {
		t.Fatal("deleted version must be gone")
	}

	// Nothing left to do.
	n, err = v.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep: want 0, got %d (%v)", n, err)
	}
}

func TestSweepKeepsVersionsUnderActiveSnapshot(t *testing.T) {
	v, mgr, tbl, ix := testRig(t)

	tx := mgr.Begin()
	loc := insert(t, tbl, ix, tx, userRow(1, "ana"))
	if err := mgr.Commit(tx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// The reader's snapshot predates the deletion and pins the horizon.
	reader := mgr.Begin()
	key := ix.KeyFor(userRow(1, "ana"))
	remove(t, mgr, tbl, ix, loc, key)

	if n, err := v.Sweep(context.Background()); err != nil || n != 0 {
		t.Fatalf("sweep under active reader: want 0 reclaimed, got %d (%v)", n, err)
	}
	if row, _, ok, err := tbl.Store.VisibleRow(loc, reader); err != nil || !ok || row[1].Str != "ana" {
		t.Fatalf("reader lost its row: %v %v", row, err)
	}

	if err := mgr.Rollback(reader); err != nil {
		t.Fatalf("finish reader: %v", err)
	}
	if n, err := v.Sweep(context.Background()); err != nil || n != 2 {
		t.Fatalf("sweep after reader finished: want 2 reclaimed, got %d (%v)", n, err)
	}
}

func TestSweepSkipsFloorRaiseOnCancel(t *testing.T) {
	v, mgr, tbl, ix := testRig(t)

	tx := mgr.Begin()
	insert(t, tbl, ix, tx, userRow(1, "ana"))
	if err := mgr.Rollback(tx); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	aborted := tx.ID()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.Sweep(ctx); err == nil {
		t.Fatal("cancelled sweep must report the interruption")
	}
	if !mgr.Aborted(aborted) {
		t.Fatal("interrupted sweep must not raise the status floor")
	}

	if _, err := v.Sweep(context.Background()); err != nil {
		t.Fatalf("clean sweep: %v", err)
	}
	// The floor moved past the aborted id: its work is gone, and ids
	// below the floor read as committed history.
	if mgr.Aborted(aborted) {
		t.Fatal("clean sweep must prune the status map behind the horizon")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelError, "[test]")
	cat := catalog.New(nil, log)
	mgr := txn.NewManager(log, nopLog{})
	v, err := New(cat, mgr, config.VacuumConfig{
		Enabled:    true,
		Interval:   time.Millisecond,
		BatchSize:  4,
		RatePerSec: 0,
		Workers:    2,
	}, log)
	if err != nil {
		t.Fatalf("new vacuum: %v", err)
	}
	v.Start()
	time.Sleep(5 * time.Millisecond)
	v.Stop()
	v.Stop() // idempotent
}
