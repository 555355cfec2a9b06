// Package ids generates the time-ordered identifiers used across all
// persisted entities. Lexicographic order of generated ids approximates
// creation order.
package ids

import "github.com/google/uuid"

// New returns a UUIDv7 string. UUIDv7 embeds a millisecond timestamp in the
// high bits, so ids sort by creation time. Falls back to a random UUIDv4 if
// the system entropy source fails, which keeps New total at the cost of
// ordering for that one id.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValid reports whether s parses as a UUID of any version.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
