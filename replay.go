// replay.go: Client nonce replay tracking for the decrypt pipeline.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// NonceTracker records seen client nonces so the pipeline can reject
// replayed capsules. The check runs after AEAD verification; an attacker
// must not be able to burn nonces with forged capsules.
//
// Implementations must be safe for concurrent use.
type NonceTracker interface {
	// Seen records the nonce and reports whether it was already present.
	Seen(nonce ClientNonce) bool
}

// MemoryNonceTracker is an in-process NonceTracker with TTL expiry.
//
// Entries expire after twice the configured drift window, since a capsule
// older than the window is rejected before the replay check ever runs.
// Expired entries are pruned lazily on insert.
type MemoryNonceTracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[ClientNonce]time.Time
	lastPrune time.Time
}

// NewMemoryNonceTracker builds a tracker whose retention covers the given
// config's drift window.
func NewMemoryNonceTracker(config *Config) *MemoryNonceTracker {
	ttl := 2 * time.Duration(config.MaxTimestampDrift()) * time.Second
	if ttl <= 0 {
		ttl = time.Second
	}
	return &MemoryNonceTracker{
		ttl:       ttl,
		seen:      make(map[ClientNonce]time.Time),
		lastPrune: timecache.CachedTime(),
	}
}

// Seen records the nonce and reports whether it was already tracked and
// unexpired.
func (t *MemoryNonceTracker) Seen(nonce ClientNonce) bool {
	now := timecache.CachedTime()

	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastPrune) >= t.ttl {
		for n, expiry := range t.seen {
			if now.After(expiry) {
				delete(t.seen, n)
			}
		}
		t.lastPrune = now
	}

	if expiry, ok := t.seen[nonce]; ok && now.Before(expiry) {
		return true
	}
	t.seen[nonce] = now.Add(t.ttl)
	return false
}

// Len returns the number of tracked nonces, expired entries included.
func (t *MemoryNonceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
