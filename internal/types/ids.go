package types

// TxID identifies a transaction. IDs are strictly increasing and never
// reused; 0 is reserved as "unset".
type TxID uint64

// ObjectID identifies a catalog object (table heap or index). IDs come from
// a single counter so heaps and indexes never collide.
type ObjectID uint32

// Location identifies a logical row inside a table heap: the arena slot
// whose version chain holds every version of that row. Locations are stable
// for the life of the table.
type Location uint64

// Snapshot is the read view a transaction scans under. Storage and index
// code only need membership checks, not the transaction itself.
//
// Sees reports whether the effects of txid are part of this view: true for
// the owning transaction (self-visibility) and for transactions that had
// committed when the snapshot was taken.
//
// OwnDeleted reports whether the owning transaction has itself marked the
// version (obj, loc, seq) deleted but not yet committed. Pending deletions
// are only stamped into the heap at commit, so the snapshot has to hide
// them from its own transaction.
type Snapshot interface {
	Self() TxID
	Sees(txid TxID) bool
	OwnDeleted(obj ObjectID, loc Location, seq uint32) bool
}
