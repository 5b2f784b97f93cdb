package wal

import (
	"fmt"
	"os"

	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/types"
)

// Recovery replays the WAL in two passes. Scan collects the committed set
// and sequence high-water marks; Replay then hands every record to the
// caller in LSN order, which applies the ones whose transaction is in the
// committed set.
//
// A torn tail on the active segment is truncated and recovery succeeds up
// to the last whole record. Corruption anywhere else fails recovery:
// rotated segments were synced before rename, so a bad record there is
// damage, not an interrupted write.
type Recovery struct {
	base string
	log  *logger.Logger
}

func NewRecovery(basePath string, log *logger.Logger) *Recovery {
	return &Recovery{base: basePath, log: log}
}

// ScanResult is what the first pass learned.
type ScanResult struct {
	Committed map[types.TxID]struct{}
	MaxTxID   types.TxID
	LastLSN   uint64
	Records   int
}

// Scan reads every segment, truncating a torn active tail, and reports
// the committed transaction set plus id and LSN high-water marks.
func (r *Recovery) Scan() (*ScanResult, error) {
	res := &ScanResult{Committed: make(map[types.TxID]struct{})}
	err := r.walk(func(rec *Record) error {
		res.Records++
		if rec.TxID > res.MaxTxID {
			res.MaxTxID = rec.TxID
		}
		if rec.LSN > res.LastLSN {
			res.LastLSN = rec.LSN
		}
		if rec.Op == OpCommit {
			res.Committed[rec.TxID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Replay hands every record to handler in order. Run Scan first: it
// truncates a torn tail so both passes see the same prefix.
func (r *Recovery) Replay(handler func(*Record) error) error {
	return r.walk(handler)
}

func (r *Recovery) walk(handler func(*Record) error) error {
	segs, err := listSegments(r.base)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}

	for i, seg := range segs {
		active := i == len(segs)-1 && seg.seq == 0
		if err := r.walkSegment(seg, active, handler); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recovery) walkSegment(seg segment, active bool, handler func(*Record) error) error {
	reader := NewReader(seg.path)
	if err := reader.Open(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", seg.path, err)
	}
	defer reader.Close()

	for {
		rec, err := reader.Next()
		if err != nil {
			if !active {
				return fmt.Errorf("replay %s: %w", seg.path, err)
			}
			// Torn tail: keep everything before it.
			offset := reader.ValidOffset()
			reader.Close()
			if terr := os.Truncate(seg.path, offset); terr != nil {
				r.log.Warn("Failed to truncate WAL tail of %s: %v", seg.path, terr)
			} else {
				r.log.Info("Truncated WAL %s to offset %d: %v", seg.path, offset, err)
			}
			return nil
		}
		if rec == nil {
			return nil
		}
		if err := handler(rec); err != nil {
			return err
		}
	}
}
