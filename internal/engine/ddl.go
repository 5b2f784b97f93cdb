package engine

import (
	"encoding/json"
	"fmt"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/schema"
	"github.com/relicdb/relic/internal/types"
	"github.com/relicdb/relic/internal/wal"
)

// DDL runs under ddlMu in its own auto-committed transaction. The record
// hits the log before the catalog changes, so the log never carries DML
// for an object whose create record it lacks.

// CreateTable validates sch, logs it and registers it. Validation covers
// the definition itself and its CHECK expressions, so a table that cannot
// take writes is refused before anything durable happens.
func (e *Engine) CreateTable(sch *schema.Table) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return relerr.ErrEngineClosed
	}
	e.ddlMu.Lock()
	defer e.ddlMu.Unlock()

	if err := sch.Validate(); err != nil {
		return err
	}
	if _, err := schema.NewChecker(sch); err != nil {
		return err
	}
	if _, err := e.cat.Table(sch.Name); err == nil {
		return fmt.Errorf("%w: %s", relerr.ErrTableExists, sch.Name)
	}
	if _, err := e.cat.View(sch.Name); err == nil {
		return fmt.Errorf("%w: %s", relerr.ErrViewExists, sch.Name)
	}

	obj := e.cat.AllocObject()
	payload, err := json.Marshal(&tableManifest{Schema: sch, Fingerprint: sch.FingerprintHex()})
	if err != nil {
		return err
	}
	if err := e.logDDL(wal.OpCreateTable, obj, payload); err != nil {
		return fmt.Errorf("create table %s: %w", sch.Name, err)
	}
	_, err = e.cat.AddTable(sch, obj)
	return err
}

// DropTable removes a table and every index on it.
func (e *Engine) DropTable(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return relerr.ErrEngineClosed
	}
	e.ddlMu.Lock()
	defer e.ddlMu.Unlock()

	tbl, err := e.cat.Table(name)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&nameManifest{Name: name})
	if err != nil {
		return err
	}
	if err := e.logDDL(wal.OpDropTable, tbl.Object(), payload); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	_, err = e.cat.DropTable(name)
	return err
}

// CreateIndex builds an index over table's named columns and registers it.
// The backfill runs under its own snapshot with the index unpublished, so
// queries never see a half-built index; a duplicate key on a unique index
// fails the whole statement and leaves no trace.
func (e *Engine) CreateIndex(name, table string, columns []string, unique bool) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return relerr.ErrEngineClosed
	}
	e.ddlMu.Lock()
	defer e.ddlMu.Unlock()

	tbl, err := e.cat.Table(table)
	if err != nil {
		return err
	}
	if _, err := e.cat.Index(name); err == nil {
		return fmt.Errorf("%w: %s", relerr.ErrIndexExists, name)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: index %s has no columns", relerr.ErrBadSchema, name)
	}
	cols := make([]int, len(columns))
	for i, cn := range columns {
		pos, ok := tbl.Schema.ColumnIndex(cn)
		if !ok {
			return fmt.Errorf("%w: %s.%s", relerr.ErrColumnNotFound, table, cn)
		}
		cols[i] = pos
	}

	obj := e.cat.AllocObject()
	ix := index.New(name, obj, table, cols, unique)
	if err := e.backfill(ix, tbl); err != nil {
		return err
	}

	payload, err := json.Marshal(&indexManifest{Name: name, Table: table, Columns: cols, Unique: unique})
	if err != nil {
		return err
	}
	if err := e.logDDL(wal.OpCreateIndex, obj, payload); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return e.cat.AddIndex(ix)
}

// backfill loads every row visible to a fresh snapshot into ix. Entries
// keep each row's original creator so older snapshots resolve the index
// exactly as they resolve the heap.
func (e *Engine) backfill(ix *index.Index, tbl *catalog.Table) error {
	tx := e.mgr.Begin()
	defer e.mgr.Rollback(tx)

	it := tbl.Store.Scan(tx)
	for it.Next() {
		key := ix.KeyFor(it.Row())
		if ix.Unique() {
			for _, dup := range ix.Entries(key) {
				if dup.Location() != it.Location() {
					return fmt.Errorf("%w: index %s", relerr.ErrUniqueViolation, ix.Name())
				}
			}
		}
		ix.Apply(key, it.Location(), it.Version().Created())
	}
	return it.Err()
}

// DropIndex removes an index.
func (e *Engine) DropIndex(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return relerr.ErrEngineClosed
	}
	e.ddlMu.Lock()
	defer e.ddlMu.Unlock()

	ix, err := e.cat.Index(name)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(&nameManifest{Name: name})
	if err != nil {
		return err
	}
	if err := e.logDDL(wal.OpDropIndex, ix.Object(), payload); err != nil {
		return fmt.Errorf("drop index %s: %w", name, err)
	}
	_, err = e.cat.DropIndex(name)
	return err
}

// CreateView stores viewPlan under name after checking it builds against
// the current catalog, so a view that can never run is refused up front.
func (e *Engine) CreateView(name string, viewPlan json.RawMessage) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return relerr.ErrEngineClosed
	}
	e.ddlMu.Lock()
	defer e.ddlMu.Unlock()

	if _, err := e.cat.View(name); err == nil {
		return fmt.Errorf("%w: %s", relerr.ErrViewExists, name)
	}
	if _, err := e.cat.Table(name); err == nil {
		return fmt.Errorf("%w: %s", relerr.ErrTableExists, name)
	}
	if _, err := e.builder.Build(viewPlan); err != nil {
		return fmt.Errorf("view %s: %w", name, err)
	}

	payload, err := json.Marshal(&viewManifest{Name: name, Plan: viewPlan})
	if err != nil {
		return err
	}
	if err := e.logDDL(wal.OpCreateView, 0, payload); err != nil {
		return fmt.Errorf("create view %s: %w", name, err)
	}
	return e.cat.AddView(name, viewPlan)
}

// DropView removes a stored plan.
func (e *Engine) DropView(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return relerr.ErrEngineClosed
	}
	e.ddlMu.Lock()
	defer e.ddlMu.Unlock()

	if _, err := e.cat.View(name); err != nil {
		return err
	}
	payload, err := json.Marshal(&nameManifest{Name: name})
	if err != nil {
		return err
	}
	if err := e.logDDL(wal.OpDropView, 0, payload); err != nil {
		return fmt.Errorf("drop view %s: %w", name, err)
	}
	return e.cat.DropView(name)
}

// logDDL appends one DDL record under its own transaction and commits it,
// flushing the record and its marker together.
func (e *Engine) logDDL(op wal.Op, obj types.ObjectID, payload []byte) error {
	tx := e.mgr.Begin()
	rec := &wal.Record{TxID: tx.ID(), Op: op, Object: obj, Payload: payload}
	if err := e.wal.Append(rec); err != nil {
		e.mgr.Rollback(tx)
		return err
	}
	return e.mgr.Commit(tx)
}
