package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainPayload is the hash domain for payload fingerprints.
// The version suffix allows a future algorithm change.
const DomainPayload = "ferry/payload/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator removes any ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns a content hash of a payload submitted to collection.
//
// It is sent alongside the idempotency key so the remote side can detect a
// client that reuses a key for a different body.
func Fingerprint(collection string, payload json.RawMessage) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	data := make([]byte, 0, len(collection)+1+len(canonical))
	data = append(data, collection...)
	data = append(data, 0x00)
	data = append(data, canonical...)
	return hashWithDomain(DomainPayload, data), nil
}
