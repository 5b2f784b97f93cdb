package storage

import (
	"sync/atomic"

	"github.com/relicdb/relic/internal/types"
)

// Version is one row version in a chain. Chains are singly linked
// newest-first. Version identity is stable: transactions hold *Version in
// their write sets, so vacuum relinks chains instead of copying survivors.
// The mutable fields are the deletion stamp, written once by the committing
// deleter, and the next link, rewritten only by vacuum under the heap lock.
type Version struct {
	created types.TxID
	deleted atomic.Uint64 // TxID of committed deleter, 0 while live
	seq     uint32
	data    []byte
	next    atomic.Pointer[Version]
}

func newVersion(tx types.TxID, seq uint32, data []byte, next *Version) *Version {
	v := &Version{created: tx, seq: seq, data: data}
	if next != nil {
		v.next.Store(next)
	}
	return v
}

func (v *Version) Created() types.TxID { return v.created }

// Deleted returns the committed deleter's id, or 0 while the version is
// live. Pending deletions are not stamped; they live in the deleting
// transaction's write set until commit.
func (v *Version) Deleted() types.TxID { return types.TxID(v.deleted.Load()) }

// Seq is the version's position counter within its chain. It increases by
// one per superseding version and is never reused, which lets WAL records
// and cache keys name a version exactly.
func (v *Version) Seq() uint32 { return v.seq }

func (v *Version) Data() []byte { return v.data }

// Next is the next older version, nil at the chain tail.
func (v *Version) Next() *Version { return v.next.Load() }

// StampDeleted marks the version deleted by tx. Only committing
// transactions stamp, under the commit lock, so a lost race means another
// transaction already committed a deletion of this version.
func (v *Version) StampDeleted(tx types.TxID) bool {
	return v.deleted.CompareAndSwap(0, uint64(tx))
}

// stampDeletedAt is the recovery path: replay applies committed deletions
// unconditionally.
func (v *Version) stampDeletedAt(tx types.TxID) {
	v.deleted.Store(uint64(tx))
}

// VisibleTo applies the snapshot visibility rule: the creator must be part
// of the snapshot, and no deleter visible to the snapshot (including the
// snapshot's own pending deletions) may have removed it.
func (v *Version) VisibleTo(snap types.Snapshot, obj types.ObjectID, loc types.Location) bool {
	if !snap.Sees(v.created) {
		return false
	}
	if snap.OwnDeleted(obj, loc, v.seq) {
		return false
	}
	if d := v.Deleted(); d != 0 && snap.Sees(d) {
		return false
	}
	return true
}
