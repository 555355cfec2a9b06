// Package canonical produces deterministic JSON encodings for hashing.
// The audit chain depends on every process producing byte-identical
// encodings for the same logical entry, so all hashing goes through RFC 8785
// (JCS): UTF-8, lexicographically sorted keys, no insignificant whitespace,
// ES6 number serialization. Integer timestamps stay integers; any float that
// reaches metadata serializes deterministically rather than being rejected.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON returns the RFC 8785 canonical encoding of v.
func JSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the hex-encoded SHA-256 of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// String is JSON for callers that want a string, e.g. tool-argument
// fingerprints in the task loop guard.
func String(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
