// Package datahash implements a stable SHA-256 fingerprint over an
// ordered id list, used solely to detect drift between a loaded
// in-memory view and the durable header.
package datahash

import (
	"encoding/hex"
	"encoding/json"

	"github.com/minio/sha256-simd"
)

// Hash returns the hex-encoded SHA-256 digest of the canonical-JSON
// encoding of order. encoding/json already renders a []string
// deterministically (arrays preserve position, strings need no key
// sorting), so it already produces a canonical encoding without a
// dedicated canonicalization step.
func Hash(order []string) string {
	// json.Marshal never fails on []string.
	b, _ := json.Marshal(order)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
