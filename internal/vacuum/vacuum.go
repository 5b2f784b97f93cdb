// Package vacuum reclaims storage no snapshot can reach anymore: row
// versions whose creator aborted, and versions whose committed deletion
// lies behind every active transaction's horizon. Index entries follow
// the same rule. Sweeps run on a worker pool, paced by a rate limiter so
// foreground work keeps priority.
package vacuum

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/config"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/metrics"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/txn"
	"github.com/relicdb/relic/internal/types"
)

type Vacuum struct {
	cat *catalog.Catalog
	mgr *txn.Manager
	cfg config.VacuumConfig
	log *logger.Logger

	pool    *ants.Pool
	limiter *rate.Limiter

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

func New(cat *catalog.Catalog, mgr *txn.Manager, cfg config.VacuumConfig, log *logger.Logger) (*Vacuum, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(r any) {
		log.Error("Vacuum worker panic: %v", r)
	}))
	if err != nil {
		return nil, fmt.Errorf("vacuum pool: %w", err)
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Vacuum{
		cat:     cat,
		mgr:     mgr,
		cfg:     cfg,
		log:     log,
		pool:    pool,
		limiter: rate.NewLimiter(limit, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the periodic sweep loop. Disabled vacuums stay idle but
// can still be swept by hand.
func (v *Vacuum) Start() {
	if !v.cfg.Enabled || v.started {
		return
	}
	v.started = true
	go v.run()
}

func (v *Vacuum) run() {
	defer close(v.done)
	ticker := time.NewTicker(v.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
			n, err := v.Sweep(v.ctx)
			switch {
			case err != nil:
				v.log.Warn("Vacuum sweep interrupted: %v", err)
			case n > 0:
				v.log.Debug("Vacuum reclaimed %d versions", n)
			}
		}
	}
}

// Stop interrupts any running sweep and releases the pool.
func (v *Vacuum) Stop() {
	v.stopOnce.Do(func() {
		v.cancel()
		if v.started {
			<-v.done
		}
		v.pool.Release()
	})
}

// Sweep runs one full pass over every table and index. It returns the
// number of versions and entries reclaimed. The status floor only rises
// when the pass finishes whole: a partial sweep may leave aborted work
// in place, and the floor must never declare those ids committed.
func (v *Vacuum) Sweep(ctx context.Context) (int, error) {
	horizon := v.mgr.Horizon()

	var total atomic.Int64
	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error

	for _, name := range v.cat.TableNames() {
		tbl, err := v.cat.Table(name)
		if err != nil {
			continue // dropped since listing
		}
		wg.Add(1)
		job := func() {
			defer wg.Done()
			n, err := v.sweepTable(ctx, tbl, horizon)
			total.Add(int64(n))
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}
		if err := v.pool.Submit(job); err != nil {
			job()
		}
	}
	wg.Wait()

	if firstErr != nil {
		return int(total.Load()), firstErr
	}
	v.mgr.RaiseFloor(horizon)
	if n := total.Load(); n > 0 {
		metrics.VacuumReclaimed.Add(float64(n))
	}
	return int(total.Load()), nil
}

func (v *Vacuum) sweepTable(ctx context.Context, tbl *catalog.Table, horizon types.TxID) (int, error) {
	heap := tbl.Store.Heap()
	batch := v.cfg.BatchSize
	if batch <= 0 {
		batch = 256
	}

	reclaimed := 0
	n := heap.Len()
	for start := 0; start < n; start += batch {
		if err := v.limiter.Wait(ctx); err != nil {
			return reclaimed, err
		}
		end := start + batch
		if end > n {
			end = n
		}
		for loc := start; loc < end; loc++ {
			reclaimed += heap.Prune(types.Location(loc), func(ver *storage.Version) bool {
				return !v.dead(ver.Created(), ver.Deleted(), horizon)
			})
		}
	}

	for _, ix := range v.cat.TableIndexes(tbl.Schema.Name) {
		if err := v.limiter.Wait(ctx); err != nil {
			return reclaimed, err
		}
		reclaimed += ix.Sweep(func(e *index.Entry) bool {
			return v.dead(e.Created(), e.Deleted(), horizon)
		})
	}
	return reclaimed, nil
}

// dead reports whether a version or entry is unreachable by every present
// and future snapshot: its creator aborted, or its deletion committed
// behind the horizon.
func (v *Vacuum) dead(created, deleted, horizon types.TxID) bool {
	if v.mgr.Aborted(created) {
		return true
	}
	return deleted != 0 && deleted < horizon && v.mgr.Committed(deleted)
}
