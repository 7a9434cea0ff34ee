// secret.go: Zeroizing secret containers for protocol key material.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"crypto/cipher"
	"fmt"
	"sync"

	goerrors "github.com/agilira/go-errors"
)

// KeySize is the size in bytes of every symmetric key in the protocol
// (master, profile, and session keys). AES-256 requires exactly 32 bytes.
const KeySize = 32

// SecretKey owns fixed-size key material and zeroizes it deterministically.
//
// The bytes are reachable only through WithBytes, which lends a view of the
// storage for the duration of a single cryptographic call. No method returns
// an owned copy, and no formatting or serialization path can leak the bytes
// into logs.
//
// Destroy overwrites the storage with zeros; it is safe to call more than
// once. A SecretKey is safe for concurrent read access through WithBytes;
// Destroy must not race with in-flight accessors (callers destroy a key only
// after its last use, typically via defer).
type SecretKey struct {
	bytes     [KeySize]byte
	destroyed bool
}

// NewSecretKey wraps the given bytes in a zeroizing container. The input
// array is copied; callers should zeroize their own copy if it is long-lived.
func NewSecretKey(bytes [KeySize]byte) *SecretKey {
	k := &SecretKey{}
	copy(k.bytes[:], bytes[:])
	return k
}

// SecretKeyFromSlice wraps a byte slice of exactly KeySize bytes, then
// zeroizes the source slice so only the container holds the material.
func SecretKeyFromSlice(b []byte) (*SecretKey, error) {
	if len(b) != KeySize {
		richErr := goerrors.New(ErrCodeCipherInit, fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(b)))
		return nil, fmt.Errorf("%w: %w", ErrCipherInit, richErr)
	}
	k := &SecretKey{}
	copy(k.bytes[:], b)
	Zeroize(b)
	return k, nil
}

// WithBytes lends the key bytes to fn for the duration of the call. The
// slice aliases the container's storage and must not escape fn.
func (k *SecretKey) WithBytes(fn func(key []byte) error) error {
	if k.destroyed {
		richErr := goerrors.New(ErrCodeSecretDestroyed, "secret key accessed after destroy")
		return fmt.Errorf("%w: %w", ErrSecretDestroyed, richErr)
	}
	return fn(k.bytes[:])
}

// Destroy overwrites the key storage with zeros. Idempotent.
func (k *SecretKey) Destroy() {
	Zeroize(k.bytes[:])
	k.destroyed = true
}

// Destroyed reports whether the key material has been zeroized.
func (k *SecretKey) Destroyed() bool {
	return k.destroyed
}

// String implements fmt.Stringer without exposing key bytes.
func (k *SecretKey) String() string { return "SecretKey(REDACTED)" }

// GoString implements fmt.GoStringer without exposing key bytes.
func (k *SecretKey) GoString() string { return "SecretKey(REDACTED)" }

// MarshalJSON refuses to serialize secret material.
func (k *SecretKey) MarshalJSON() ([]byte, error) {
	richErr := goerrors.New(ErrCodeSecretDestroyed, "secret keys are not serializable")
	return nil, fmt.Errorf("%w: %w", ErrSecretDestroyed, richErr)
}

// MasterKey is the root secret. In production it is HSM/KMS-resident and
// only ever materialized inside hardware; the in-memory form exists for the
// in-memory provider and for tests.
type MasterKey struct{ secret *SecretKey }

// NewMasterKey wraps master key bytes in a zeroizing container.
func NewMasterKey(bytes [KeySize]byte) *MasterKey {
	return &MasterKey{secret: NewSecretKey(bytes)}
}

// WithBytes lends the master key bytes to fn; see SecretKey.WithBytes.
func (k *MasterKey) WithBytes(fn func(key []byte) error) error { return k.secret.WithBytes(fn) }

// Destroy zeroizes the master key storage.
func (k *MasterKey) Destroy() { k.secret.Destroy() }

// String implements fmt.Stringer without exposing key bytes.
func (k *MasterKey) String() string { return "MasterKey(REDACTED)" }

// ProfileKey is the host-scoped secret derived from the master key and a
// server environment hash. It is never persisted and is recomputed on demand.
type ProfileKey struct{ secret *SecretKey }

// ProfileKeyFromSlice wraps derived profile key bytes, zeroizing the source.
func ProfileKeyFromSlice(b []byte) (*ProfileKey, error) {
	s, err := SecretKeyFromSlice(b)
	if err != nil {
		return nil, err
	}
	return &ProfileKey{secret: s}, nil
}

// WithBytes lends the profile key bytes to fn; see SecretKey.WithBytes.
func (k *ProfileKey) WithBytes(fn func(key []byte) error) error { return k.secret.WithBytes(fn) }

// Destroy zeroizes the profile key storage.
func (k *ProfileKey) Destroy() { k.secret.Destroy() }

// String implements fmt.Stringer without exposing key bytes.
func (k *ProfileKey) String() string { return "ProfileKey(REDACTED)" }

// SessionKey is the ephemeral per-session secret used for AEAD. Discard with
// Destroy immediately after the capsule operation completes.
//
// The key owns its AEAD cipher: the cipher is built lazily on first use and
// lives exactly as long as the key, so destroying the key also drops the key
// schedule the cipher expanded from the secret bytes.
type SessionKey struct {
	secret *SecretKey

	mu   sync.Mutex
	aead cipher.AEAD
}

// SessionKeyFromSlice wraps derived session key bytes, zeroizing the source.
func SessionKeyFromSlice(b []byte) (*SessionKey, error) {
	s, err := SecretKeyFromSlice(b)
	if err != nil {
		return nil, err
	}
	return &SessionKey{secret: s}, nil
}

// WithBytes lends the session key bytes to fn; see SecretKey.WithBytes.
func (k *SessionKey) WithBytes(fn func(key []byte) error) error { return k.secret.WithBytes(fn) }

// Destroy releases the key's AEAD cipher and zeroizes the key storage.
func (k *SessionKey) Destroy() {
	k.mu.Lock()
	k.aead = nil
	k.mu.Unlock()
	k.secret.Destroy()
}

// String implements fmt.Stringer without exposing key bytes.
func (k *SessionKey) String() string { return "SessionKey(REDACTED)" }
