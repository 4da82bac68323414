package misc

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short hex identifier of key material suitable for audit
// records. It never returns the key itself.
func Fingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	sum := blake2b.Sum256(key)
	return hex.EncodeToString(sum[:FingerprintSize])
}
