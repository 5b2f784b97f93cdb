package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/relicdb/relic/internal/relerr"
)

const xzSuffix = ".xz"

// Reader walks one segment's records in file order. Not safe for
// concurrent use; one reader per segment.
type Reader struct {
	path  string
	file  *os.File
	src   io.Reader
	valid int64
}

func NewReader(path string) *Reader {
	return &Reader{path: path}
}

func (r *Reader) Open() error {
	file, err := os.Open(r.path)
	if err != nil {
		return err
	}
	r.file = file
	if strings.HasSuffix(r.path, xzSuffix) {
		xr, err := xz.NewReader(file)
		if err != nil {
			file.Close()
			r.file = nil
			return fmt.Errorf("open %s: %w", r.path, err)
		}
		r.src = xr
	} else {
		r.src = file
	}
	return nil
}

// Next returns the next record, or (nil, nil) at a clean end of segment.
// A short read mid-record is a torn tail and comes back as
// ErrCorruptRecord; the caller decides whether that is tolerable.
func (r *Reader) Next() (*Record, error) {
	if r.src == nil {
		return nil, fmt.Errorf("wal reader not open")
	}

	lenBuf := make([]byte, recordLenSize)
	if _, err := io.ReadFull(r.src, lenBuf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: short header", relerr.ErrCorruptRecord)
	}

	recordLen := byteOrder.Uint32(lenBuf)
	if recordLen < recordOverhead || recordLen > MaxPayloadSize+recordOverhead {
		return nil, fmt.Errorf("%w: record length %d", relerr.ErrCorruptRecord, recordLen)
	}

	buf := make([]byte, recordLen)
	copy(buf, lenBuf)
	if _, err := io.ReadFull(r.src, buf[recordLenSize:]); err != nil {
		return nil, fmt.Errorf("%w: short record", relerr.ErrCorruptRecord)
	}

	rec, err := DecodeRecord(buf)
	if err != nil {
		return nil, err
	}
	r.valid += int64(recordLen)
	return rec, nil
}

// ValidOffset is the byte offset just past the last good record, the
// truncation point for a torn tail.
func (r *Reader) ValidOffset() int64 { return r.valid }

func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.src = nil
	return err
}

// segment is one discovered WAL file. seq 0 is the active segment, which
// always sorts last.
type segment struct {
	path string
	seq  int
}

// listSegments finds every segment for basePath: rotated files named
// base.N or base.N.xz in ascending N, then the active file. When both a
// plain and a compressed file exist for the same N the plain one wins;
// compression removes its source only after the xz file is complete.
func listSegments(basePath string) ([]segment, error) {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list wal segments: %w", err)
	}

	bySeq := make(map[int]segment)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		seq, ok := segmentSeq(base, name)
		if !ok {
			continue
		}
		plain := !strings.HasSuffix(name, xzSuffix)
		if prev, dup := bySeq[seq]; dup {
			if !plain || !strings.HasSuffix(prev.path, xzSuffix) {
				continue
			}
		}
		bySeq[seq] = segment{path: filepath.Join(dir, name), seq: seq}
	}

	segs := make([]segment, 0, len(bySeq)+1)
	for _, s := range bySeq {
		segs = append(segs, s)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })

	if _, err := os.Stat(basePath); err == nil {
		segs = append(segs, segment{path: basePath, seq: 0})
	}
	return segs, nil
}

// segmentSeq parses "base.N" or "base.N.xz" into N.
func segmentSeq(base, name string) (int, bool) {
	if !strings.HasPrefix(name, base+".") {
		return 0, false
	}
	numStr := strings.TrimSuffix(name[len(base)+1:], xzSuffix)
	if numStr == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(numStr)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

func nextSegmentSeq(basePath string) (int, error) {
	segs, err := listSegments(basePath)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, s := range segs {
		if s.seq >= next {
			next = s.seq + 1
		}
	}
	return next, nil
}
