package vehicles

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// DeriveIdentity computes the deterministic aggregate identity of a
// generated entity: SHA-256 over the RFC 8785 canonical JSON of its
// fields. The result is stable across process restarts and across
// implementations, which is what makes re-insertion of colliding
// synthetic values idempotent system-wide.
func DeriveIdentity(fields any) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
