package index

import (
	"sync"
	"sync/atomic"

	"github.com/relicdb/relic/internal/types"
)

// Entry points one key at one row location. Entries are versioned like row
// versions: created by the inserting transaction, stamped with the
// committed remover. Pending removals stay in the remover's write set, so
// an entry can be physically present yet logically gone; lookups always
// confirm against the row itself.
type Entry struct {
	loc     types.Location
	created types.TxID
	deleted atomic.Uint64 // TxID of committed remover, 0 while live
}

func (e *Entry) Location() types.Location { return e.loc }
func (e *Entry) Created() types.TxID      { return e.created }
func (e *Entry) Deleted() types.TxID      { return types.TxID(e.deleted.Load()) }

// StampDeleted marks the entry removed by tx at commit.
func (e *Entry) StampDeleted(tx types.TxID) {
	e.deleted.Store(uint64(tx))
}

// VisibleTo mirrors the row visibility rule at entry granularity. It is a
// prefilter: a visible entry may still point at a row the snapshot cannot
// see (self-superseded keys, removals that lost a conflict), which is why
// unique checks and index scans re-check the row.
func (e *Entry) VisibleTo(snap types.Snapshot) bool {
	if !snap.Sees(e.created) {
		return false
	}
	if d := e.Deleted(); d != 0 && snap.Sees(d) {
		return false
	}
	return true
}

// postingList is the per-key entry set, insertion-ordered.
type postingList struct {
	mu      sync.Mutex
	entries []*Entry
}

func (l *postingList) add(e *Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// snapshot copies the current entries so callers iterate without the lock.
func (l *postingList) snapshot() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// sweep drops entries the predicate rejects, returning how many went.
func (l *postingList) sweep(drop func(*Entry) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if drop(e) {
			removed++
		} else {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return removed
}

func (l *postingList) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries) == 0
}
