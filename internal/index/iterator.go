package index

import "github.com/relicdb/relic/internal/types"

type pair struct {
	key  []byte
	list *postingList
}

// Iterator yields entries in key order, filtered by entry visibility.
// Within one key, entries come in insertion order.
type Iterator struct {
	pairs []pair
	snap  types.Snapshot

	pi      int
	entries []*Entry
	ei      int
	cur     *Entry
	curKey  []byte
}

// Next advances to the next visible entry; false when the range is done.
func (it *Iterator) Next() bool {
	for {
		for it.ei < len(it.entries) {
			e := it.entries[it.ei]
			it.ei++
			if e.VisibleTo(it.snap) {
				it.cur = e
				return true
			}
		}
		if it.pi >= len(it.pairs) {
			return false
		}
		p := it.pairs[it.pi]
		it.pi++
		it.entries = p.list.snapshot()
		it.ei = 0
		it.curKey = p.key
	}
}

func (it *Iterator) Entry() *Entry            { return it.cur }
func (it *Iterator) Key() []byte              { return it.curKey }
func (it *Iterator) Location() types.Location { return it.cur.Location() }
