package wal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ulikunitz/xz"

	"github.com/relicdb/relic/internal/logger"
	"github.com/relicdb/relic/internal/metrics"
	"github.com/relicdb/relic/internal/types"
)

// Writer appends records to the active WAL segment.
//
// Plain appends are buffered by the OS; AppendCommit always syncs, so a
// commit marker on disk guarantees every earlier record of its transaction
// is on disk too. With fsync enabled every append syncs.
//
// Segments rotate at maxSize: the active file is renamed to the next
// numeric suffix and optionally xz-compressed, and a fresh active file
// takes its place.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     uint64
	maxSize  uint64
	fsync    bool
	compress bool
	lsn      uint64
	log      *logger.Logger
	closed   bool
}

// NewWriter prepares a writer for the active segment at path. maxSize 0
// disables rotation.
func NewWriter(path string, maxSize uint64, fsync, compress bool, log *logger.Logger) *Writer {
	return &Writer{
		path:     path,
		maxSize:  maxSize,
		fsync:    fsync,
		compress: compress,
		log:      log,
	}
}

func (w *Writer) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	w.file = file
	w.size = fileSize(file)
	w.closed = false
	return nil
}

func fileSize(file *os.File) uint64 {
	info, err := file.Stat()
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}

// SetLSN seeds the sequence after recovery; the next record gets last+1.
func (w *Writer) SetLSN(last uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lsn = last
}

// Append assigns the next LSN and writes rec to the active segment. The
// record is durable only once a later AppendCommit (or Sync) returns.
func (w *Writer) Append(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(rec, w.fsync)
}

// AppendCommit writes the commit marker for tx and syncs. When it
// returns nil the transaction is durable.
func (w *Writer) AppendCommit(tx types.TxID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(&Record{TxID: tx, Op: OpCommit}, true)
}

func (w *Writer) appendLocked(rec *Record, sync bool) error {
	if w.file == nil {
		return fmt.Errorf("wal writer not open")
	}

	w.lsn++
	rec.LSN = w.lsn

	buf, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("wal write: %w", err)
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal sync: %w", err)
		}
	}

	w.size += uint64(len(buf))
	metrics.WALRecords.WithLabelValues(rec.Op.String()).Inc()
	metrics.WALBytes.Add(float64(len(buf)))

	if w.maxSize > 0 && w.size >= w.maxSize {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) rotateLocked() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal close: %w", err)
	}
	w.file = nil

	seq, err := nextSegmentSeq(w.path)
	if err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%d", w.path, seq)
	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("rotate wal: %w", err)
	}
	w.log.Info("Rotated WAL segment: %s", rotated)

	if w.compress {
		// Best effort: a failed compression leaves the plain segment in
		// place, which recovery reads just as well.
		if err := compressSegment(rotated); err != nil {
			w.log.Warn("WAL segment compression failed for %s: %v", rotated, err)
		}
	}

	file, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	w.file = file
	w.size = 0
	return nil
}

// compressSegment replaces a rotated segment with its xz form. The source
// is removed only after the compressed file is synced.
func compressSegment(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + xzSuffix)
	if err != nil {
		return err
	}
	xw, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return err
	}
	if _, err := io.Copy(xw, src); err != nil {
		xw.Close()
		dst.Close()
		os.Remove(dst.Name())
		return err
	}
	if err := xw.Close(); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *Writer) Size() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil || w.closed {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil
	w.closed = true
	return nil
}
