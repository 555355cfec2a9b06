package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

// HashPassword bcrypt-hashes a plaintext password for storage. Used by the
// init command to mint FRIDAY_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fault.New(fault.KindInvalidInput, "password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "hash password", err)
	}
	return string(hash), nil
}

// verifyPassword compares a candidate against a stored bcrypt hash.
// bcrypt comparison is constant-time by construction.
func verifyPassword(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}
