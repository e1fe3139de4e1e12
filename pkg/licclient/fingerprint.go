package licclient

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Fingerprint derives a stable device id from hardware identifiers such as
// the OS machine id, CPU id and system disk serial. Empty parts are kept so
// the position of each identifier stays fixed.
func Fingerprint(parts ...string) string {
	raw := strings.Join(parts, "|")
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
