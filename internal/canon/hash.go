package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep digests of different kinds of record apart. The
// version suffix allows the encoding to change later.
const (
	DomainConfig = "s3k/config/v1"
	DomainEvent  = "s3k/event/v1"
	DomainTrace  = "s3k/trace/v1"
)

// Hash returns SHA256(domain || 0x00 || canonical(v)) in hex.
func Hash(domain string, v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return HashBytes(domain, data), nil
}

// HashBytes digests already-canonical data under domain.
func HashBytes(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
