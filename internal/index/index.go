package index

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

// Index is an ordered mapping from encoded keys to row locations, with
// versioned entries so lookups under a snapshot see a consistent set.
type Index struct {
	name   string
	obj    types.ObjectID
	table  string
	cols   []int // column positions in the table
	unique bool

	mu   sync.RWMutex
	tree *btree
}

func New(name string, obj types.ObjectID, table string, cols []int, unique bool) *Index {
	return &Index{
		name:   name,
		obj:    obj,
		table:  table,
		cols:   cols,
		unique: unique,
		tree:   newBtree(),
	}
}

func (ix *Index) Name() string           { return ix.name }
func (ix *Index) Object() types.ObjectID { return ix.obj }
func (ix *Index) Table() string          { return ix.table }
func (ix *Index) Unique() bool           { return ix.unique }

// Columns returns the indexed column positions, leading column first.
func (ix *Index) Columns() []int {
	out := make([]int, len(ix.cols))
	copy(out, ix.cols)
	return out
}

// KeyFor extracts and encodes the index key from a full table row.
func (ix *Index) KeyFor(row types.Row) []byte {
	vals := make([]types.Value, len(ix.cols))
	for i, c := range ix.cols {
		vals[i] = row[c]
	}
	return EncodeKey(vals)
}

// Insert adds an entry for key created by tx. For unique indexes, live
// resolves whether a location holds a row the inserting snapshot can see;
// a visible conflicting entry whose row is live fails the insert. A row
// the transaction itself superseded is not live under its own snapshot, so
// replacing your own key passes.
//
// Concurrent inserts of the same key cannot see each other here; commit
// re-checks unique intents under the commit lock.
func (ix *Index) Insert(key []byte, loc types.Location, tx types.TxID, snap types.Snapshot, live func(types.Location) bool) (*Entry, error) {
	if ix.unique {
		for _, e := range ix.Entries(key) {
			if e.Location() == loc {
				continue
			}
			if e.VisibleTo(snap) && live(e.Location()) {
				return nil, fmt.Errorf("%w: index %s", relerr.ErrUniqueViolation, ix.name)
			}
		}
	}
	e := &Entry{loc: loc, created: tx}
	ix.mu.Lock()
	ix.tree.getOrCreate(key).add(e)
	ix.mu.Unlock()
	return e, nil
}

// Entries returns every physical entry for key, insertion-ordered.
// Commit-time unique re-checks read this.
func (ix *Index) Entries(key []byte) []*Entry {
	ix.mu.RLock()
	list := ix.tree.get(key)
	ix.mu.RUnlock()
	if list == nil {
		return nil
	}
	return list.snapshot()
}

// Apply is the recovery path: re-adds an entry with its recorded creator,
// skipping the unique pre-check. Rebuilds only ever see committed rows.
func (ix *Index) Apply(key []byte, loc types.Location, tx types.TxID) *Entry {
	e := &Entry{loc: loc, created: tx}
	ix.mu.Lock()
	ix.tree.getOrCreate(key).add(e)
	ix.mu.Unlock()
	return e
}

// Range bounds a lookup. A nil Low or High leaves that side open.
type Range struct {
	Low, High []byte
	LowInc    bool
	HighInc   bool
}

// EqRange is the single-key range.
func EqRange(key []byte) Range {
	return Range{Low: key, High: key, LowInc: true, HighInc: true}
}

// PrefixRange covers every composite key beginning with prefix, for
// equality on leading columns of a multi-column index.
func PrefixRange(prefix []byte) Range {
	return Range{Low: prefix, LowInc: true, High: prefixSuccessor(prefix)}
}

// prefixSuccessor returns the smallest key greater than every key with the
// given prefix, or nil when no such key exists.
func prefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			succ := make([]byte, i+1)
			copy(succ, prefix[:i+1])
			succ[i]++
			return succ
		}
	}
	return nil
}

// Lookup returns a lazy iterator over entries within rng visible to snap,
// in key order. Matching keys are pinned up front under the read lock;
// entry visibility and row resolution stay lazy.
func (ix *Index) Lookup(rng Range, snap types.Snapshot) *Iterator {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var leaf *node
	var i int
	if rng.Low != nil {
		leaf, i = ix.tree.seek(rng.Low)
	} else {
		leaf = ix.tree.first()
		i = 0
		for leaf != nil && i >= len(leaf.keys) {
			leaf = leaf.next
		}
	}

	var pairs []pair
	for leaf != nil {
		for ; i < len(leaf.keys); i++ {
			key := leaf.keys[i]
			if rng.Low != nil && !rng.LowInc && bytes.Equal(key, rng.Low) {
				continue
			}
			if rng.High != nil {
				c := bytes.Compare(key, rng.High)
				if c > 0 || (c == 0 && !rng.HighInc) {
					return &Iterator{pairs: pairs, snap: snap}
				}
			}
			pairs = append(pairs, pair{key: key, list: leaf.lists[i]})
		}
		leaf = leaf.next
		i = 0
	}
	return &Iterator{pairs: pairs, snap: snap}
}

// Sweep removes entries drop rejects and rebuilds the tree without the
// keys that emptied out. Vacuum calls this; lookups started earlier keep
// their pinned lists, which at worst yield entries whose rows are gone.
func (ix *Index) Sweep(drop func(*Entry) bool) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	rebuilt := newBtree()
	for leaf := ix.tree.first(); leaf != nil; leaf = leaf.next {
		for i, key := range leaf.keys {
			list := leaf.lists[i]
			removed += list.sweep(drop)
			if !list.empty() {
				rebuilt.put(key, list)
			}
		}
	}
	ix.tree = rebuilt
	return removed
}

// KeyCount returns the number of distinct keys, for stats and tests.
func (ix *Index) KeyCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.keyCount()
}
