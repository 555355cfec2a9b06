// Package auth verifies who is calling: admin password login, bearer
// tokens with refresh rotation, and API keys. Every outcome lands in the
// audit chain.
package auth

import "time"

// Method records how a principal proved itself.
type Method string

const (
	MethodPassword Method = "password"
	MethodToken    Method = "token"
	MethodAPIKey   Method = "api_key"
)

// AdminID is the principal id of the built-in administrator. The matching
// role is seeded by the rbac package under the same name.
const (
	AdminID   = "admin"
	AdminRole = "admin"
)

// Principal is an authenticated caller. Requests carry at most one role.
type Principal struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Method Method `json:"method"`
}

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresAt is the access token's expiry, unix millis.
	ExpiresAt int64 `json:"expiresAt"`
}

// APIKey is the stored view of a key. The plaintext secret exists only in
// the CreatedKey returned at creation time.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Role       string     `json:"role"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// CreatedKey carries the one-time plaintext alongside the stored record.
type CreatedKey struct {
	APIKey
	Key string `json:"key"`
}
