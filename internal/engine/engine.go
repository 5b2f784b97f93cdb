// Package engine ties the catalog, storage, transactions, WAL, planner and
// executor into one facade. Open replays the log and rebuilds indexes,
// Close stops background work; DDL, DML and queries all enter here.
//
// Commit ordering invariant: a transaction's DML records are appended
// before its commit marker, and the marker is flushed before any of its
// writes become visible. A marker on disk therefore guarantees every
// record it covers is on disk too, and a missing marker is a rollback.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/config"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/txn"
	"github.com/relicdb/relic/internal/vacuum"
	"github.com/relicdb/relic/internal/wal"
)

// activeSegment is the WAL file the writer appends to; rotated segments
// take numeric suffixes next to it.
const activeSegment = "relic.wal"

// Engine is one database instance.
type Engine struct {
	cfg *config.Config
	log *logger.Logger

	cache   *storage.RowCache
	cat     *catalog.Catalog
	wal     *wal.Writer
	mgr     *txn.Manager
	vac     *vacuum.Vacuum
	builder *plan.Builder

	// ddlMu serializes catalog changes; DML holds only mu.
	ddlMu  sync.Mutex
	mu     sync.RWMutex
	closed bool
}

// Open builds an engine from cfg: directories are created, the WAL is
// replayed into a fresh catalog, indexes are rebuilt from the recovered
// chain heads, and the background vacuum starts.
func Open(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := logger.New(os.Stderr, logger.ParseLevel(cfg.Log.Level), "[relic]")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	walDir := cfg.WAL.Dir
	if !filepath.IsAbs(walDir) {
		walDir = filepath.Join(cfg.DataDir, walDir)
	}
	if err := os.MkdirAll(walDir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	walPath := filepath.Join(walDir, activeSegment)

	cache, err := storage.NewRowCache(cfg.Cache.RowCacheMB)
	if err != nil {
		return nil, fmt.Errorf("row cache: %w", err)
	}

	e := &Engine{
		cfg:   cfg,
		log:   log,
		cache: cache,
	}
	e.cat = catalog.New(cache, log)
	e.wal = wal.NewWriter(walPath, uint64(cfg.WAL.MaxSegmentMB)<<20, cfg.WAL.Fsync, cfg.WAL.CompressRotated, log)
	e.mgr = txn.NewManager(log, e.wal)
	e.builder = plan.NewBuilder(e.cat)

	res, err := e.recover(walPath)
	if err != nil {
		cache.Close()
		return nil, err
	}

	if err := e.wal.Open(); err != nil {
		cache.Close()
		return nil, err
	}
	e.wal.SetLSN(res.LastLSN)

	vac, err := vacuum.New(e.cat, e.mgr, cfg.Vacuum, log)
	if err != nil {
		e.wal.Close()
		cache.Close()
		return nil, err
	}
	e.vac = vac
	e.vac.Start()

	log.Info("Opened engine: %s (tables=%d, wal records=%d, next tx=%d)",
		cfg.DataDir, len(e.cat.TableNames()), res.Records, res.MaxTxID+1)
	return e, nil
}

// Close stops the vacuum and closes the log. In-flight transactions are
// not waited for; anything uncommitted has no marker in the log and rolls
// back by omission at the next open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.vac != nil {
		e.vac.Stop()
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	e.cache.Close()
	e.log.Info("Closed engine: %s", e.cfg.DataDir)
	return nil
}

// Begin starts a transaction with a snapshot of everything committed so
// far.
func (e *Engine) Begin() (*txn.Txn, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, relerr.ErrEngineClosed
	}
	return e.mgr.Begin(), nil
}

// Commit makes tx's writes durable and visible. ErrTxnConflict means
// another transaction committed first; the caller retries with a fresh
// transaction.
func (e *Engine) Commit(tx *txn.Txn) error {
	return e.mgr.Commit(tx)
}

// Rollback abandons tx. Nothing is flushed.
func (e *Engine) Rollback(tx *txn.Txn) error {
	return e.mgr.Rollback(tx)
}

// Catalog exposes the table, index and view registry.
func (e *Engine) Catalog() *catalog.Catalog { return e.cat }

// SweepNow runs one vacuum pass synchronously and reports the number of
// versions reclaimed.
func (e *Engine) SweepNow(ctx context.Context) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, relerr.ErrEngineClosed
	}
	return e.vac.Sweep(ctx)
}
