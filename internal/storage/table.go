package storage

import (
	"github.com/relicdb/relic/internal/types"
)

// Table binds a heap to the row codec and the shared row cache. The heap
// deals in bytes; Table is the row-typed surface the rest of the engine
// uses.
type Table struct {
	heap  *Heap
	cache *RowCache
}

func NewTable(obj types.ObjectID, cache *RowCache) *Table {
	return &Table{heap: NewHeap(obj), cache: cache}
}

func (t *Table) Heap() *Heap            { return t.heap }
func (t *Table) Object() types.ObjectID { return t.heap.Object() }

// Insert appends a new logical row created by tx.
func (t *Table) Insert(tx types.TxID, row types.Row) (types.Location, *Version) {
	return t.heap.Append(tx, EncodeRow(row))
}

// Supersede pushes a new version of the row at loc, for updates.
func (t *Table) Supersede(loc types.Location, tx types.TxID, row types.Row) (*Version, error) {
	return t.heap.Prepend(loc, tx, EncodeRow(row))
}

// Row decodes a version through the cache.
func (t *Table) Row(loc types.Location, v *Version) (types.Row, error) {
	obj := t.heap.Object()
	if row, ok := t.cache.Get(obj, loc, v.Seq()); ok {
		return row, nil
	}
	row, err := DecodeRow(v.Data())
	if err != nil {
		return nil, err
	}
	t.cache.Put(obj, loc, v.Seq(), row, len(v.Data()))
	return row, nil
}

// VisibleRow resolves loc to the row the snapshot sees, if any.
func (t *Table) VisibleRow(loc types.Location, snap types.Snapshot) (types.Row, *Version, bool, error) {
	v, ok, err := t.heap.Visible(loc, snap)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	row, err := t.Row(loc, v)
	if err != nil {
		return nil, nil, false, err
	}
	return row, v, true, nil
}

// Scan returns a lazy iterator over the rows visible to snap, in location
// order. The slot range is fixed when the scan starts; rows the owning
// transaction inserts while iterating are not picked up.
func (t *Table) Scan(snap types.Snapshot) *RowIterator {
	return &RowIterator{t: t, snap: snap, limit: t.heap.Len(), loc: -1}
}

// RowIterator is the pull-based scan over one table.
type RowIterator struct {
	t     *Table
	snap  types.Snapshot
	limit int
	loc   int

	row types.Row
	ver *Version
	err error
}

// Next advances to the next visible row. It returns false at the end of
// the heap or on the first error; Err distinguishes the two.
func (it *RowIterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.loc+1 < it.limit {
		it.loc++
		loc := types.Location(it.loc)
		head, err := it.t.heap.Head(loc)
		if err != nil {
			continue // hole
		}
		var vis *Version
		for v := head; v != nil; v = v.Next() {
			if v.VisibleTo(it.snap, it.t.heap.Object(), loc) {
				vis = v
				break
			}
		}
		if vis == nil {
			continue
		}
		row, err := it.t.Row(loc, vis)
		if err != nil {
			it.err = err
			return false
		}
		it.row = row
		it.ver = vis
		return true
	}
	return false
}

func (it *RowIterator) Row() types.Row           { return it.row }
func (it *RowIterator) Version() *Version        { return it.ver }
func (it *RowIterator) Location() types.Location { return types.Location(it.loc) }
func (it *RowIterator) Err() error               { return it.err }
