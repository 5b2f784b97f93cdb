package storage

import (
	"fmt"
	"sync"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// Heap is a table's row arena. A Location indexes the slot holding that
// logical row's version chain. Slots are append-only; a slot whose chain
// has been fully vacuumed stays as a hole and is never reused.
//
// The mutex guards the slot directory and chain relinking. Chain walks run
// without it: heads are swapped under the lock, next links are atomic, and
// deletion stamps are atomic.
type Heap struct {
	obj types.ObjectID

	mu   sync.RWMutex
	rows []*Version
}

func NewHeap(obj types.ObjectID) *Heap {
	return &Heap{obj: obj}
}

func (h *Heap) Object() types.ObjectID { return h.obj }

// Len returns the number of slots, holes included.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rows)
}

// Append creates a new logical row with a single version created by tx.
func (h *Heap) Append(tx types.TxID, data []byte) (types.Location, *Version) {
	v := newVersion(tx, 0, data, nil)
	h.mu.Lock()
	loc := types.Location(len(h.rows))
	h.rows = append(h.rows, v)
	h.mu.Unlock()
	return loc, v
}

// Prepend pushes a superseding version onto an existing chain. Updates use
// this so the logical row keeps its location and index entries keep
// pointing at it.
func (h *Heap) Prepend(loc types.Location, tx types.TxID, data []byte) (*Version, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	head, err := h.headLocked(loc)
	if err != nil {
		return nil, err
	}
	v := newVersion(tx, head.seq+1, data, head)
	h.rows[loc] = v
	return v, nil
}

// Head returns the newest version of the chain at loc.
func (h *Heap) Head(loc types.Location) (*Version, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.headLocked(loc)
}

func (h *Heap) headLocked(loc types.Location) (*Version, error) {
	if int(loc) >= len(h.rows) || h.rows[loc] == nil {
		return nil, fmt.Errorf("%w: slot %d", relerr.ErrLocationNotFound, loc)
	}
	return h.rows[loc], nil
}

// Visible walks the chain at loc newest-first and returns the first
// version the snapshot can see.
func (h *Heap) Visible(loc types.Location, snap types.Snapshot) (*Version, bool, error) {
	head, err := h.Head(loc)
	if err != nil {
		return nil, false, err
	}
	for v := head; v != nil; v = v.Next() {
		if v.VisibleTo(snap, h.obj, loc) {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// Versions returns the whole chain at loc, newest first. Debug and vacuum
// read it; visibility is not applied.
func (h *Heap) Versions(loc types.Location) ([]*Version, error) {
	head, err := h.Head(loc)
	if err != nil {
		return nil, err
	}
	var chain []*Version
	for v := head; v != nil; v = v.Next() {
		chain = append(chain, v)
	}
	return chain, nil
}

// ApplyVersion is the recovery path: it reproduces a logged insert at its
// recorded location and sequence, growing the directory with holes where
// uncommitted inserts occupied slots.
func (h *Heap) ApplyVersion(loc types.Location, seq uint32, tx types.TxID, data []byte) *Version {
	h.mu.Lock()
	defer h.mu.Unlock()
	for int(loc) >= len(h.rows) {
		h.rows = append(h.rows, nil)
	}
	v := newVersion(tx, seq, data, h.rows[loc])
	h.rows[loc] = v
	return v
}

// ApplyDelete is the recovery path for a logged deletion of (loc, seq).
func (h *Heap) ApplyDelete(loc types.Location, seq uint32, tx types.TxID) error {
	head, err := h.Head(loc)
	if err != nil {
		return err
	}
	for v := head; v != nil; v = v.Next() {
		if v.seq == seq {
			v.stampDeletedAt(tx)
			return nil
		}
	}
	return fmt.Errorf("%w: slot %d seq %d", relerr.ErrLocationNotFound, loc, seq)
}

// Prune drops the versions of the chain at loc that keep rejects,
// relinking the survivors in place so version identity is preserved for
// transactions holding them in write sets. An emptied slot becomes a
// permanent hole. Returns the number of versions dropped.
func (h *Heap) Prune(loc types.Location, keep func(*Version) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(loc) >= len(h.rows) || h.rows[loc] == nil {
		return 0
	}
	var kept []*Version
	total := 0
	for v := h.rows[loc]; v != nil; v = v.Next() {
		total++
		if keep(v) {
			kept = append(kept, v)
		}
	}
	removed := total - len(kept)
	if removed == 0 {
		return 0
	}
	for i, v := range kept {
		if i+1 < len(kept) {
			v.next.Store(kept[i+1])
		} else {
			v.next.Store(nil)
		}
	}
	if len(kept) == 0 {
		h.rows[loc] = nil
	} else {
		h.rows[loc] = kept[0]
	}
	return removed
}
