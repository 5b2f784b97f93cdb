package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

var byteOrder = binary.LittleEndian

// Row encoding is self-describing: a uvarint column count, then one kind
// byte per value followed by its payload. Versions store these bytes; the
// decoded form lives in the row cache.
//
//	null:   no payload
//	bool:   1 byte
//	int:    signed varint
//	float:  8 bytes, IEEE 754 bits
//	string: uvarint length + bytes

// EncodeRow serializes a row.
func EncodeRow(row types.Row) []byte {
	buf := make([]byte, 0, 16+8*len(row))
	buf = binary.AppendUvarint(buf, uint64(len(row)))
	for _, v := range row {
		buf = append(buf, byte(v.Kind))
		switch v.Kind {
		case types.KindNull:
		case types.KindBool:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case types.KindInt:
			buf = binary.AppendVarint(buf, v.Int)
		case types.KindFloat:
			buf = byteOrder.AppendUint64(buf, math.Float64bits(v.Float))
		case types.KindString:
			buf = binary.AppendUvarint(buf, uint64(len(v.Str)))
			buf = append(buf, v.Str...)
		}
	}
	return buf
}

// DecodeRow parses row bytes back into values.
func DecodeRow(data []byte) (types.Row, error) {
	n, off := binary.Uvarint(data)
	if off <= 0 {
		return nil, fmt.Errorf("%w: row header", relerr.ErrCorruptRecord)
	}
	row := make(types.Row, 0, n)
	for i := uint64(0); i < n; i++ {
		if off >= len(data) {
			return nil, fmt.Errorf("%w: truncated row", relerr.ErrCorruptRecord)
		}
		kind := types.Kind(data[off])
		off++
		switch kind {
		case types.KindNull:
			row = append(row, types.Null())
		case types.KindBool:
			if off >= len(data) {
				return nil, fmt.Errorf("%w: truncated bool", relerr.ErrCorruptRecord)
			}
			row = append(row, types.NewBool(data[off] != 0))
			off++
		case types.KindInt:
			v, k := binary.Varint(data[off:])
			if k <= 0 {
				return nil, fmt.Errorf("%w: bad int", relerr.ErrCorruptRecord)
			}
			row = append(row, types.NewInt(v))
			off += k
		case types.KindFloat:
			if off+8 > len(data) {
				return nil, fmt.Errorf("%w: truncated float", relerr.ErrCorruptRecord)
			}
			row = append(row, types.NewFloat(math.Float64frombits(byteOrder.Uint64(data[off:]))))
			off += 8
		case types.KindString:
			l, k := binary.Uvarint(data[off:])
			if k <= 0 {
				return nil, fmt.Errorf("%w: bad string length", relerr.ErrCorruptRecord)
			}
			off += k
			if off+int(l) > len(data) {
				return nil, fmt.Errorf("%w: truncated string", relerr.ErrCorruptRecord)
			}
			row = append(row, types.NewString(string(data[off:off+int(l)])))
			off += int(l)
		default:
			return nil, fmt.Errorf("%w: unknown kind %d", relerr.ErrCorruptRecord, kind)
		}
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", relerr.ErrCorruptRecord, len(data)-off)
	}
	return row, nil
}
