package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/relicdb/relic/internal/catalog"
	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/plan"
	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/txn"
	"github.com/relicdb/relic/internal/types"
	"github.com/relicdb/relic/internal/wal"
)

// Statement failures and I/O failures part ways here: a constraint
// violation annuls just the statement's work through intents and the
// transaction lives on, while a WAL append failure aborts the whole
// transaction, because a half-logged statement cannot be replayed
// consistently.

type addedEntry struct {
	ix    *index.Index
	key   []byte
	entry *index.Entry
}

// Insert writes one row into table under tx. The row is normalized
// (defaults, NOT NULL, types), checked, indexed and logged; it becomes
// visible to others at commit. Returns the row's location.
func (e *Engine) Insert(tx *txn.Txn, table string, row types.Row) (types.Location, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, relerr.ErrEngineClosed
	}
	tbl, err := e.cat.Table(table)
	if err != nil {
		return 0, err
	}
	norm, err := tbl.Schema.NormalizeRow(row)
	if err != nil {
		return 0, err
	}
	if err := tbl.Checker.CheckRow(tbl.Schema, tbl.Schema.RowContext(norm)); err != nil {
		return 0, err
	}

	loc, ver := tbl.Store.Insert(tx.ID(), norm)

	added, err := e.addEntries(tx, tbl, table, loc, norm)
	if err != nil {
		// The version was never logged; annulling it keeps commit clean.
		tx.RecordDelete(tbl.Object(), loc, ver)
		return 0, err
	}

	rec := &wal.Record{
		TxID:     tx.ID(),
		Op:       wal.OpInsert,
		Object:   tbl.Object(),
		Location: loc,
		Seq:      ver.Seq(),
		Payload:  storage.EncodeRow(norm),
	}
	if err := e.wal.Append(rec); err != nil {
		e.mgr.Rollback(tx)
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}

	for _, a := range added {
		if a.ix.Unique() {
			tx.RecordUnique(a.ix, a.key, loc)
		}
	}
	return loc, nil
}

// addEntries maintains every index of table for a new row version at loc.
// On a unique violation the entries already added are retired through
// intents and the violation returned; nothing else has happened yet.
func (e *Engine) addEntries(tx *txn.Txn, tbl *catalog.Table, table string, loc types.Location, row types.Row) ([]addedEntry, error) {
	live := func(l types.Location) bool {
		_, _, ok, err := tbl.Store.VisibleRow(l, tx)
		return err == nil && ok
	}
	var added []addedEntry
	for _, ix := range e.cat.TableIndexes(table) {
		key := ix.KeyFor(row)
		entry, err := ix.Insert(key, loc, tx.ID(), tx, live)
		if err != nil {
			for _, a := range added {
				tx.RecordEntryRemoval(a.ix, a.entry)
			}
			return nil, err
		}
		added = append(added, addedEntry{ix: ix, key: key, entry: entry})
	}
	return added, nil
}

// Update rewrites every row of table that filter selects, assigning the
// values in set by column name. Each matched row gets a new version on its
// chain; old versions stay for older snapshots. Returns the number of rows
// updated; on an error partway through, the count covers the rows already
// rewritten inside tx and the caller decides between commit and rollback.
func (e *Engine) Update(tx *txn.Txn, table string, filter json.RawMessage, set map[string]types.Value) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, relerr.ErrEngineClosed
	}
	tbl, err := e.cat.Table(table)
	if err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: update assigns no columns", relerr.ErrBadRequest)
	}

	type assign struct {
		pos int
		val types.Value
	}
	assigns := make([]assign, 0, len(set))
	for cn, v := range set {
		pos, ok := tbl.Schema.ColumnIndex(cn)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", relerr.ErrColumnNotFound, table, cn)
		}
		col := tbl.Schema.Columns[pos]
		if v.IsNull() {
			// Defaults are insert-time; an update stores the NULL it is given.
			if col.NotNull {
				return 0, fmt.Errorf("%w: column %s", relerr.ErrNotNullViolation, col.Name)
			}
		} else {
			if v.Kind == types.KindInt && col.Type == types.KindFloat {
				v = types.NewFloat(float64(v.Int))
			}
			if v.Kind != col.Type {
				return 0, fmt.Errorf("%w: column %s wants %s, got %s",
					relerr.ErrTypeMismatch, col.Name, col.Type, v.Kind)
			}
		}
		assigns = append(assigns, assign{pos: pos, val: v})
	}

	pred, err := e.builder.CompileFilter(table, filter)
	if err != nil {
		return 0, err
	}
	matches, err := e.matchRows(tx, tbl, pred)
	if err != nil {
		return 0, err
	}

	// Validate every new row before rewriting any, so a CHECK failure on
	// the third row does not leave the first two updated.
	newRows := make([]types.Row, len(matches))
	for i, m := range matches {
		nr := m.row.Clone()
		for _, a := range assigns {
			nr[a.pos] = a.val
		}
		if err := tbl.Checker.CheckRow(tbl.Schema, tbl.Schema.RowContext(nr)); err != nil {
			return 0, err
		}
		newRows[i] = nr
	}

	for i, m := range matches {
		if err := e.updateRow(tx, tbl, table, m, newRows[i]); err != nil {
			return i, err
		}
	}
	return len(matches), nil
}

// updateRow supersedes one row version and maintains indexes. Entries
// whose key did not change stay put: the entry's location now resolves to
// the new version, whose key still matches.
func (e *Engine) updateRow(tx *txn.Txn, tbl *catalog.Table, table string, m match, newRow types.Row) error {
	live := func(l types.Location) bool {
		_, _, ok, err := tbl.Store.VisibleRow(l, tx)
		return err == nil && ok
	}

	var added []addedEntry
	var removed []addedEntry
	undo := func() {
		for _, a := range added {
			tx.RecordEntryRemoval(a.ix, a.entry)
		}
	}
	for _, ix := range e.cat.TableIndexes(table) {
		oldKey := ix.KeyFor(m.row)
		newKey := ix.KeyFor(newRow)
		if bytes.Equal(oldKey, newKey) {
			continue
		}
		entry, err := ix.Insert(newKey, m.loc, tx.ID(), tx, live)
		if err != nil {
			undo()
			return err
		}
		added = append(added, addedEntry{ix: ix, key: newKey, entry: entry})
		for _, old := range ix.Entries(oldKey) {
			if old.Location() == m.loc && old.VisibleTo(tx) {
				removed = append(removed, addedEntry{ix: ix, entry: old})
				break
			}
		}
	}

	newVer, err := tbl.Store.Supersede(m.loc, tx.ID(), newRow)
	if err != nil {
		undo()
		return err
	}

	insRec := &wal.Record{
		TxID:     tx.ID(),
		Op:       wal.OpInsert,
		Object:   tbl.Object(),
		Location: m.loc,
		Seq:      newVer.Seq(),
		Payload:  storage.EncodeRow(newRow),
	}
	if err := e.wal.Append(insRec); err != nil {
		e.mgr.Rollback(tx)
		return fmt.Errorf("update %s: %w", table, err)
	}
	delRec := &wal.Record{
		TxID:     tx.ID(),
		Op:       wal.OpDelete,
		Object:   tbl.Object(),
		Location: m.loc,
		Seq:      m.ver.Seq(),
	}
	if err := e.wal.Append(delRec); err != nil {
		e.mgr.Rollback(tx)
		return fmt.Errorf("update %s: %w", table, err)
	}

	tx.RecordDelete(tbl.Object(), m.loc, m.ver)
	for _, r := range removed {
		tx.RecordEntryRemoval(r.ix, r.entry)
	}
	for _, a := range added {
		if a.ix.Unique() {
			tx.RecordUnique(a.ix, a.key, m.loc)
		}
	}
	return nil
}

// Delete removes every row of table that filter selects. Versions are
// stamped at commit, not unlinked; vacuum reclaims them once no snapshot
// can see them. Returns the number of rows deleted.
func (e *Engine) Delete(tx *txn.Txn, table string, filter json.RawMessage) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, relerr.ErrEngineClosed
	}
	tbl, err := e.cat.Table(table)
	if err != nil {
		return 0, err
	}
	pred, err := e.builder.CompileFilter(table, filter)
	if err != nil {
		return 0, err
	}
	matches, err := e.matchRows(tx, tbl, pred)
	if err != nil {
		return 0, err
	}

	indexes := e.cat.TableIndexes(table)
	for i, m := range matches {
		rec := &wal.Record{
			TxID:     tx.ID(),
			Op:       wal.OpDelete,
			Object:   tbl.Object(),
			Location: m.loc,
			Seq:      m.ver.Seq(),
		}
		if err := e.wal.Append(rec); err != nil {
			e.mgr.Rollback(tx)
			return i, fmt.Errorf("delete from %s: %w", table, err)
		}
		tx.RecordDelete(tbl.Object(), m.loc, m.ver)
		for _, ix := range indexes {
			key := ix.KeyFor(m.row)
			for _, en := range ix.Entries(key) {
				if en.Location() == m.loc && en.VisibleTo(tx) {
					tx.RecordEntryRemoval(ix, en)
					break
				}
			}
		}
	}
	return len(matches), nil
}

type match struct {
	loc types.Location
	row types.Row
	ver *storage.Version
}

// matchRows materializes the rows pred selects before any write happens,
// so an update cannot chase its own new versions down the heap.
func (e *Engine) matchRows(tx *txn.Txn, tbl *catalog.Table, pred plan.Expr) ([]match, error) {
	it := tbl.Store.Scan(tx)
	var out []match
	for it.Next() {
		if pred != nil && !plan.Keep(pred, it.Row()) {
			continue
		}
		out = append(out, match{loc: it.Location(), row: it.Row(), ver: it.Version()})
	}
	return out, it.Err()
}
