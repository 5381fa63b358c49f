package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"
)

// RevocationList rejects access tokens before their natural expiry.
type RevocationList interface {
	// Add blacklists the token value.
	Add(ctx context.Context, tokenValue string) error
	// Contains reports whether the token value has been blacklisted.
	Contains(ctx context.Context, tokenValue string) (bool, error)
}

// MemoryRevocationList keeps blacklisted token hashes in a mutex-guarded map.
// Entries older than the retention window are pruned on each mutation; access
// tokens are short-lived, so retention only needs to cover the access TTL.
type MemoryRevocationList struct {
	mutex     sync.Mutex
	entries   map[string]time.Time
	retention time.Duration
	clock     Clock
}

// NewMemoryRevocationList constructs a list retaining entries for the given window.
func NewMemoryRevocationList(retention time.Duration, clock Clock) *MemoryRevocationList {
	if clock == nil {
		clock = NewSystemClock()
	}
	return &MemoryRevocationList{
		entries:   make(map[string]time.Time),
		retention: retention,
		clock:     clock,
	}
}

// Add blacklists the token value.
func (list *MemoryRevocationList) Add(ctx context.Context, tokenValue string) error {
	list.mutex.Lock()
	defer list.mutex.Unlock()
	list.purgeExpiredLocked()
	list.entries[hashTokenValue(tokenValue)] = list.clock.Now()
	return nil
}

// Contains reports whether the token value has been blacklisted.
func (list *MemoryRevocationList) Contains(ctx context.Context, tokenValue string) (bool, error) {
	list.mutex.Lock()
	defer list.mutex.Unlock()
	list.purgeExpiredLocked()
	_, found := list.entries[hashTokenValue(tokenValue)]
	return found, nil
}

// Len reports the current number of retained entries.
func (list *MemoryRevocationList) Len() int {
	list.mutex.Lock()
	defer list.mutex.Unlock()
	return len(list.entries)
}

func (list *MemoryRevocationList) purgeExpiredLocked() {
	if len(list.entries) == 0 {
		return
	}
	cutoff := list.clock.Now().Add(-list.retention)
	for hash, insertedAt := range list.entries {
		if insertedAt.Before(cutoff) {
			delete(list.entries, hash)
		}
	}
}

func hashTokenValue(tokenValue string) string {
	sum := sha256.Sum256([]byte(tokenValue))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
