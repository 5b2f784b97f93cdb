package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/relicdb/relic/internal/config"
	"github.com/relicdb/relic/internal/engine"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/types"
)

func newBenchCmd() *cobra.Command {
	var (
		rows    int
		workers int
		fsync   bool
		outDB   string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent inserts then indexed lookups against a throwaway store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.OutOrStdout(), rows, workers, fsync, outDB)
		},
	}
	cmd.Flags().IntVar(&rows, "rows", 10000, "rows to insert")
	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent workers")
	cmd.Flags().BoolVar(&fsync, "fsync", false, "sync the WAL on every commit")
	cmd.Flags().StringVar(&outDB, "out", "", "sqlite file to append results to")
	return cmd
}

type benchPhase struct {
	name    string
	ops     int
	failed  int64
	elapsed time.Duration
}

func (p benchPhase) opsPerSec() float64 {
	secs := p.elapsed.Seconds()
	if secs == 0 {
		return 0
	}
	return float64(p.ops) / secs
}

func runBench(w io.Writer, rows, workers int, fsync bool, outDB string) error {
	dir, err := os.MkdirTemp("", "relic-bench-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.WAL.Fsync = fsync
	cfg.Vacuum.Enabled = false
	cfg.Log.Level = "error"

	eng, err := engine.Open(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	sch := &schema.Table{
		Name: "samples",
		Columns: []schema.Column{
			{Name: "id", Type: types.KindInt, NotNull: true},
			{Name: "label", Type: types.KindString, NotNull: true},
			{Name: "score", Type: types.KindFloat},
		},
	}
	if err := eng.CreateTable(sch); err != nil {
		return err
	}
	if err := eng.CreateIndex("samples_id", "samples", []string{"id"}, true); err != nil {
		return err
	}

	runID := uuid.NewString()
	fmt.Fprintf(w, "run %s: %d rows, %d workers, fsync=%v\n", runID, rows, workers, fsync)

	pool, err := ants.NewPool(workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	insert := runPhase("insert", rows, pool, func(i int) error {
		tx, err := eng.Begin()
		if err != nil {
			return err
		}
		row := types.Row{
			types.NewInt(int64(i)),
			types.NewString("row-" + strconv.Itoa(i)),
			types.NewFloat(float64(i%100) / 10),
		}
		if _, err := eng.Insert(tx, "samples", row); err != nil {
			eng.Rollback(tx)
			return err
		}
		return eng.Commit(tx)
	})

	lookup := runPhase("lookup", rows, pool, func(i int) error {
		raw := []byte(`{"index_scan":{"index":"samples_id","eq":[{"t":"int","v":` + strconv.Itoa(i) + `}]}}`)
		res, err := eng.Query(context.Background(), nil, raw)
		if err != nil {
			return err
		}
		if len(res.Rows) != 1 {
			return fmt.Errorf("lookup %d found %d rows", i, len(res.Rows))
		}
		return nil
	})

	phases := []benchPhase{insert, lookup}
	for _, ph := range phases {
		fmt.Fprintf(w, "%-8s %d ops in %s (%.0f ops/s, %d failed)\n",
			ph.name, ph.ops, ph.elapsed.Round(time.Millisecond), ph.opsPerSec(), ph.failed)
	}
	if outDB == "" {
		return nil
	}
	if err := saveResults(outDB, runID, workers, phases); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	fmt.Fprintf(w, "results appended to %s\n", outDB)
	return nil
}

func runPhase(name string, ops int, pool *ants.Pool, fn func(i int) error) benchPhase {
	var wg sync.WaitGroup
	var failed atomic.Int64
	start := time.Now()
	for i := 0; i < ops; i++ {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				failed.Add(1)
			}
		}); err != nil {
			wg.Done()
			failed.Add(1)
		}
	}
	wg.Wait()
	return benchPhase{name: name, ops: ops, failed: failed.Load(), elapsed: time.Since(start)}
}

func saveResults(path, runID string, workers int, phases []benchPhase) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	const ddl = `CREATE TABLE IF NOT EXISTS bench_runs (
		run_id      TEXT    NOT NULL,
		phase       TEXT    NOT NULL,
		ops         INTEGER NOT NULL,
		failed      INTEGER NOT NULL,
		workers     INTEGER NOT NULL,
		elapsed_ms  INTEGER NOT NULL,
		ops_per_sec REAL    NOT NULL,
		ran_at      TEXT    NOT NULL
	)`
	if _, err := db.Exec(ddl); err != nil {
		return err
	}

	ranAt := time.Now().UTC().Format(time.RFC3339)
	for _, ph := range phases {
		_, err := db.Exec(
			`INSERT INTO bench_runs (run_id, phase, ops, failed, workers, elapsed_ms, ops_per_sec, ran_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, ph.name, ph.ops, ph.failed, workers,
			ph.elapsed.Milliseconds(), ph.opsPerSec(), ranAt,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
