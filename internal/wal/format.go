package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/relicdb/relic/internal/relerr"
	"github.com/relicdb/relic/internal/types"
)

var byteOrder = binary.LittleEndian

// Op is the record kind. DML records carry the physical placement of the
// change; OpCommit is the durability point for everything its transaction
// wrote before it.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpDelete
	OpCommit
	OpCreateTable
	OpDropTable
	OpCreateIndex
	OpDropIndex
	OpCreateView
	OpDropView
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpCommit:
		return "commit"
	case OpCreateTable:
		return "create_table"
	case OpDropTable:
		return "drop_table"
	case OpCreateIndex:
		return "create_index"
	case OpDropIndex:
		return "drop_index"
	case OpCreateView:
		return "create_view"
	case OpDropView:
		return "drop_view"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Record layout, all fields little-endian:
//
//	RecordLen | LSN | TxID | Op | Object | Location | Seq | PayloadLen | Payload | CRC
//
// RecordLen covers the whole record including itself and the CRC. Replay
// applies DML at the recorded Object/Location/Seq so chains come back at
// the exact positions they held, holes included.
const (
	recordLenSize  = 4
	lsnSize        = 8
	txIDSize       = 8
	opSize         = 1
	objectSize     = 4
	locationSize   = 8
	seqSize        = 4
	payloadLenSize = 4
	crcSize        = 4

	recordOverhead = recordLenSize + lsnSize + txIDSize + opSize +
		objectSize + locationSize + seqSize + payloadLenSize + crcSize

	// MaxPayloadSize bounds a single encoded row or DDL manifest.
	MaxPayloadSize = 16 << 20
)

// Record is one WAL entry.
type Record struct {
	LSN      uint64
	TxID     types.TxID
	Op       Op
	Object   types.ObjectID
	Location types.Location
	Seq      uint32
	Payload  []byte
}

// EncodeRecord serializes rec with a trailing CRC32 over everything
// before it.
func EncodeRecord(rec *Record) ([]byte, error) {
	if len(rec.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes", relerr.ErrCorruptRecord, len(rec.Payload))
	}

	total := recordOverhead + len(rec.Payload)
	buf := make([]byte, total)

	offset := 0
	byteOrder.PutUint32(buf[offset:], uint32(total))
	offset += recordLenSize

	byteOrder.PutUint64(buf[offset:], rec.LSN)
	offset += lsnSize

	byteOrder.PutUint64(buf[offset:], uint64(rec.TxID))
	offset += txIDSize

	buf[offset] = byte(rec.Op)
	offset += opSize

	byteOrder.PutUint32(buf[offset:], uint32(rec.Object))
	offset += objectSize

	byteOrder.PutUint64(buf[offset:], uint64(rec.Location))
	offset += locationSize

	byteOrder.PutUint32(buf[offset:], rec.Seq)
	offset += seqSize

	byteOrder.PutUint32(buf[offset:], uint32(len(rec.Payload)))
	offset += payloadLenSize

	copy(buf[offset:], rec.Payload)
	offset += len(rec.Payload)

	crc := crc32.ChecksumIEEE(buf[:offset])
	byteOrder.PutUint32(buf[offset:], crc)

	return buf, nil
}

// DecodeRecord parses one full record. Length and CRC failures come back
// as ErrCorruptRecord and ErrCRCMismatch so recovery can tell a torn tail
// from bit rot.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < recordOverhead {
		return nil, fmt.Errorf("%w: %d bytes", relerr.ErrCorruptRecord, len(data))
	}

	offset := 0
	recordLen := byteOrder.Uint32(data[offset:])
	offset += recordLenSize

	if int(recordLen) != len(data) {
		return nil, fmt.Errorf("%w: length %d for %d bytes", relerr.ErrCorruptRecord, recordLen, len(data))
	}

	storedCRC := byteOrder.Uint32(data[len(data)-crcSize:])
	computedCRC := crc32.ChecksumIEEE(data[:len(data)-crcSize])
	if storedCRC != computedCRC {
		return nil, relerr.ErrCRCMismatch
	}

	rec := &Record{}
	rec.LSN = byteOrder.Uint64(data[offset:])
	offset += lsnSize

	rec.TxID = types.TxID(byteOrder.Uint64(data[offset:]))
	offset += txIDSize

	rec.Op = Op(data[offset])
	offset += opSize

	rec.Object = types.ObjectID(byteOrder.Uint32(data[offset:]))
	offset += objectSize

	rec.Location = types.Location(byteOrder.Uint64(data[offset:]))
	offset += locationSize

	rec.Seq = byteOrder.Uint32(data[offset:])
	offset += seqSize

	payloadLen := byteOrder.Uint32(data[offset:])
	offset += payloadLenSize

	if int(payloadLen) != len(data)-offset-crcSize {
		return nil, fmt.Errorf("%w: payload length %d", relerr.ErrCorruptRecord, payloadLen)
	}
	if payloadLen > 0 {
		rec.Payload = make([]byte, payloadLen)
		copy(rec.Payload, data[offset:offset+int(payloadLen)])
	}

	return rec, nil
}
