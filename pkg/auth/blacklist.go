package auth

import (
	"sync"
	"time"
)

// Blacklist holds revoked token nonces until their natural expiry. Bounded:
// entries leave on expiry, and when maxEntries is hit the sweep runs before
// any insert to make room.
type Blacklist struct {
	mu         sync.Mutex
	revoked    map[string]time.Time
	maxEntries int
	now        func() time.Time
}

// NewBlacklist returns a blacklist capped at maxEntries live entries.
func NewBlacklist(maxEntries int) *Blacklist {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Blacklist{
		revoked:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Revoke marks a nonce invalid until expiresAt.
func (b *Blacklist) Revoke(nonce string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.revoked) >= b.maxEntries {
		b.sweep()
	}
	// Still full after sweeping live entries: drop the soonest-to-expire
	// rather than refuse the revocation.
	if len(b.revoked) >= b.maxEntries {
		var (
			oldest    string
			oldestExp time.Time
		)
		for n, exp := range b.revoked {
			if oldest == "" || exp.Before(oldestExp) {
				oldest, oldestExp = n, exp
			}
		}
		delete(b.revoked, oldest)
	}
	b.revoked[nonce] = expiresAt
}

// Revoked reports whether the nonce is currently blacklisted.
func (b *Blacklist) Revoked(nonce string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	exp, ok := b.revoked[nonce]
	if !ok {
		return false
	}
	if exp.Before(b.now()) {
		delete(b.revoked, nonce)
		return false
	}
	return true
}

// sweep drops expired entries. Caller holds the lock.
func (b *Blacklist) sweep() {
	now := b.now()
	for n, exp := range b.revoked {
		if exp.Before(now) {
			delete(b.revoked, n)
		}
	}
}
