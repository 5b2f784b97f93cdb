package schema

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the full definition. The catalog stores it and WAL
// DDL records carry it, so recovery can tell a replayed schema was not
// altered or truncated on disk. JSON of the definition struct is canonical
// here: field order is fixed and there are no maps.
func (t *Table) Fingerprint() [32]byte {
	b, err := json.Marshal(t)
	if err != nil {
		// Table is a plain data struct; Marshal cannot fail on it.
		panic(err)
	}
	return blake3.Sum256(b)
}

// FingerprintHex is the printable form used in logs and DDL payloads.
func (t *Table) FingerprintHex() string {
	sum := t.Fingerprint()
	return hex.EncodeToString(sum[:])
}
