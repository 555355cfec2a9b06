// Package audit implements the tamper-evident audit chain: a hash-linked,
// HMAC-signed, append-only sequence of security-relevant events with live
// verification. Every subsystem records here; nothing ever updates or
// deletes an entry.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/secureyeoman/secureyeoman/pkg/canonical"
)

// ZeroHash is the previous-hash sentinel for the first entry in a chain.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Level grades an entry's severity.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// Entry is one immutable element of the chain. Hash covers the canonical
// JSON of every field above it; Signature is HMAC-SHA256 of Hash under the
// process signing key.
type Entry struct {
	ID            string         `json:"id"`
	Sequence      uint64         `json:"sequence"`
	Timestamp     int64          `json:"timestamp"`
	Event         string         `json:"event"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	UserID        string         `json:"userId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PreviousHash  string         `json:"previousHash"`
	Hash          string         `json:"hash"`
	Signature     string         `json:"signature"`
}

// hashable is the view of an entry covered by Hash. Field set and JSON tags
// are part of the chain format; changing either breaks verification of
// existing chains.
type hashable struct {
	ID            string         `json:"id"`
	Sequence      uint64         `json:"sequence"`
	Timestamp     int64          `json:"timestamp"`
	Event         string         `json:"event"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	UserID        string         `json:"userId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PreviousHash  string         `json:"previousHash"`
}

// computeHash returns the hex SHA-256 over the entry's canonical form.
func computeHash(e *Entry) (string, error) {
	return canonical.Hash(hashable{
		ID:            e.ID,
		Sequence:      e.Sequence,
		Timestamp:     e.Timestamp,
		Event:         e.Event,
		Level:         e.Level,
		Message:       e.Message,
		UserID:        e.UserID,
		CorrelationID: e.CorrelationID,
		Metadata:      e.Metadata,
		PreviousHash:  e.PreviousHash,
	})
}

// sign returns the hex HMAC-SHA256 of hash under key.
func sign(hash string, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks sig against hash in constant time.
func verifySignature(hash, sig string, key []byte) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(hash))
	return hmac.Equal(mac.Sum(nil), want)
}

// clone returns a deep copy so callers can never mutate stored state.
func (e *Entry) clone() *Entry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
