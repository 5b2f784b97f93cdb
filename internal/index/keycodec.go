package index

import (
	"encoding/binary"
	"math"

	"github.com/relicdb/relic/internal/types"
)

// Index keys are memcomparable: bytes.Compare on encoded keys agrees with
// value order, so the tree never decodes. Each value is a kind byte and a
// payload; composite keys concatenate. Columns are typed, so one indexed
// column never mixes kinds and the per-kind encodings only need to order
// against themselves, with NULL's tag placing it before everything.
const (
	tagNull   byte = 0x01
	tagBool   byte = 0x02
	tagInt    byte = 0x03
	tagFloat  byte = 0x04
	tagString byte = 0x05
)

// EncodeKey serializes vals as one composite key.
func EncodeKey(vals []types.Value) []byte {
	out := make([]byte, 0, 16*len(vals))
	for _, v := range vals {
		out = appendValue(out, v)
	}
	return out
}

// TupleRange converts typed bounds over the leading columns of an n-column
// key into a byte range. A partial tuple stands for the whole group of keys
// it prefixes: an inclusive high bound must reach past every key in the
// group, and an exclusive low bound must skip them all, so both sides move
// to the prefix successor.
func TupleRange(n int, low, high []types.Value, lowInc, highInc bool) Range {
	var rng Range
	if low != nil {
		enc := EncodeKey(low)
		if len(low) < n && !lowInc {
			rng.Low, rng.LowInc = prefixSuccessor(enc), true
		} else {
			rng.Low, rng.LowInc = enc, lowInc
		}
	}
	if high != nil {
		enc := EncodeKey(high)
		if len(high) < n && highInc {
			rng.High, rng.HighInc = prefixSuccessor(enc), false
		} else {
			rng.High, rng.HighInc = enc, highInc
		}
	}
	return rng
}

func appendValue(out []byte, v types.Value) []byte {
	switch v.Kind {
	case types.KindBool:
		out = append(out, tagBool)
		if v.Bool {
			return append(out, 1)
		}
		return append(out, 0)
	case types.KindInt:
		// Shift the sign bit so negative values sort below positive ones
		// as unsigned big-endian bytes.
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.Int)+(1<<63))
		out = append(out, tagInt)
		return append(out, buf[:]...)
	case types.KindFloat:
		// IEEE 754 bits: positives get the sign bit set, negatives flip
		// entirely, giving an unsigned total order.
		bits := math.Float64bits(v.Float)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		out = append(out, tagFloat)
		return append(out, buf[:]...)
	case types.KindString:
		out = append(out, tagString)
		out = appendEscaped(out, v.Str)
		return append(out, 0x00)
	default:
		return append(out, tagNull)
	}
}

// appendEscaped writes str so the 0x00 terminator cannot appear inside it:
// 0x00 -> 0x01 0x01, 0x01 -> 0x01 0x02. Escaping preserves byte order.
func appendEscaped(out []byte, str string) []byte {
	for i := 0; i < len(str); i++ {
		switch str[i] {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, str[i])
		}
	}
	return out
}
