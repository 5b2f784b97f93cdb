package txn

import (
	"sync"

	"github.com/relicdb/relic/internal/index"
	"github.com/relicdb/relic/internal/storage"
	"github.com/relicdb/relic/internal/types"
)

type State int

const (
	TxnActive State = iota
	TxnCommitted
	TxnAborted
)

// Txn is one transaction. It carries its snapshot (fixed at begin) and its
// write set (applied at commit). A Txn is driven by one goroutine at a
// time; only state transitions are locked because the manager may finish a
// transaction from another goroutine on shutdown.
type Txn struct {
	id  types.TxID
	mgr *Manager

	// Snapshot: committed-at-begin is "id < tx.id, not in activeAtBegin,
	// and committed". xmin is the floor of activeAtBegin, used for the
	// vacuum horizon.
	activeAtBegin map[types.TxID]struct{}
	xmin          types.TxID

	mu    sync.Mutex
	state State

	// Write set. Deletions and index removals are intents until commit
	// stamps them; unique keys are re-checked under the commit lock.
	deletes  []deleteIntent
	delKeys  map[versionKey]struct{}
	removals []entryRemoval
	uniques  []uniqueIntent
}

type deleteIntent struct {
	obj types.ObjectID
	loc types.Location
	ver *storage.Version
}

type entryRemoval struct {
	ix    *index.Index
	entry *index.Entry
}

type uniqueIntent struct {
	ix  *index.Index
	key []byte
	loc types.Location
}

type versionKey struct {
	obj types.ObjectID
	loc types.Location
	seq uint32
}

func (tx *Txn) ID() types.TxID { return tx.id }

func (tx *Txn) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Self implements types.Snapshot.
func (tx *Txn) Self() types.TxID { return tx.id }

// Sees implements types.Snapshot: the transaction's own writes plus
// everything committed before it began.
func (tx *Txn) Sees(id types.TxID) bool {
	if id == tx.id {
		return true
	}
	if id >= tx.id {
		return false
	}
	if _, wasActive := tx.activeAtBegin[id]; wasActive {
		return false
	}
	return tx.mgr.statusOf(id) == TxnCommitted
}

// OwnDeleted implements types.Snapshot: versions this transaction has
// marked deleted but not yet committed.
func (tx *Txn) OwnDeleted(obj types.ObjectID, loc types.Location, seq uint32) bool {
	if len(tx.delKeys) == 0 {
		return false
	}
	_, ok := tx.delKeys[versionKey{obj, loc, seq}]
	return ok
}

// RecordDelete registers that this transaction deletes ver at (obj, loc).
// The stamp is applied at commit; until then the version is hidden from
// this transaction only, through OwnDeleted.
func (tx *Txn) RecordDelete(obj types.ObjectID, loc types.Location, ver *storage.Version) {
	k := versionKey{obj, loc, ver.Seq()}
	if tx.delKeys == nil {
		tx.delKeys = make(map[versionKey]struct{})
	}
	if _, dup := tx.delKeys[k]; dup {
		return
	}
	tx.delKeys[k] = struct{}{}
	tx.deletes = append(tx.deletes, deleteIntent{obj: obj, loc: loc, ver: ver})
}

// RecordEntryRemoval registers an index entry this transaction removes.
func (tx *Txn) RecordEntryRemoval(ix *index.Index, entry *index.Entry) {
	tx.removals = append(tx.removals, entryRemoval{ix: ix, entry: entry})
}

// RecordUnique registers a unique key this transaction claimed, for the
// commit-time re-check that resolves insert races.
func (tx *Txn) RecordUnique(ix *index.Index, key []byte, loc types.Location) {
	tx.uniques = append(tx.uniques, uniqueIntent{ix: ix, key: key, loc: loc})
}
