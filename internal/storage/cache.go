package storage

import (
	"github.com/dgraph-io/ristretto/v2"

	"github.com/relicdb/relic/internal/metrics"
	"github.com/relicdb/relic/internal/types"
)

// RowCache holds decoded rows keyed by (object, location, seq). Versions
// are immutable, so entries never go stale; eviction is purely a memory
// concern. A zero budget disables caching and every method degrades to a
// no-op.
type RowCache struct {
	c *ristretto.Cache[string, types.Row]
}

func NewRowCache(budgetMB int) (*RowCache, error) {
	if budgetMB <= 0 {
		return &RowCache{}, nil
	}
	maxCost := int64(budgetMB) << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, types.Row]{
		// Rough count assuming ~64 byte rows, x10 for admission counters.
		NumCounters: maxCost / 64 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RowCache{c: c}, nil
}

func (rc *RowCache) Enabled() bool { return rc != nil && rc.c != nil }

func (rc *RowCache) Get(obj types.ObjectID, loc types.Location, seq uint32) (types.Row, bool) {
	if !rc.Enabled() {
		return nil, false
	}
	row, ok := rc.c.Get(cacheKey(obj, loc, seq))
	if ok {
		metrics.RowCacheEvents.WithLabelValues("hit").Inc()
	} else {
		metrics.RowCacheEvents.WithLabelValues("miss").Inc()
	}
	return row, ok
}

func (rc *RowCache) Put(obj types.ObjectID, loc types.Location, seq uint32, row types.Row, cost int) {
	if !rc.Enabled() {
		return
	}
	rc.c.Set(cacheKey(obj, loc, seq), row, int64(cost))
}

func (rc *RowCache) Close() {
	if rc.Enabled() {
		rc.c.Close()
	}
}

func cacheKey(obj types.ObjectID, loc types.Location, seq uint32) string {
	var b [16]byte
	byteOrder.PutUint32(b[0:4], uint32(obj))
	byteOrder.PutUint64(b[4:12], uint64(loc))
	byteOrder.PutUint32(b[12:16], seq)
	return string(b[:])
}
