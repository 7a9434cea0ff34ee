// protocol.go: Wire-level value types shared across the IHP capsule protocol.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// ProtocolVersion identifies a capsule wire-format generation. For a fixed
// version the byte layout is frozen; any layout change requires a bump and
// golden-fixture regeneration.
type ProtocolVersion uint8

const (
	// VersionV1 is the initial capsule wire format.
	VersionV1 ProtocolVersion = 1
)

// DefaultProtocolVersion is the version new capsules are encoded with.
const DefaultProtocolVersion = VersionV1

// Known reports whether the version byte maps to a format this library can
// parse at all, independent of the per-config allow-list.
func (v ProtocolVersion) Known() bool {
	return v == VersionV1
}

const (
	// ClientNonceLen is the length of the protocol-level client nonce that
	// binds a session. It is a binding value, not the AEAD nonce.
	ClientNonceLen = 24

	// AeadNonceLen is the AES-GCM nonce length. A fresh AEAD nonce is
	// generated per encryption, distinct from the client nonce.
	AeadNonceLen = 12

	// TagLen is the AES-GCM authentication tag length.
	TagLen = 16

	// EnvHashLen is the length of a server environment hash digest.
	EnvHashLen = 32
)

// ServerProfileID is the stable identifier for a host's key-derivation
// context. Assigned at provisioning; rotated when the server environment
// profile changes materially.
type ServerProfileID uint64

// ClientNonce is client-supplied randomness that binds a session. Uniqueness
// is a caller (or nonce-tracker) responsibility; the library only checks the
// length and threads the value through session-key derivation and the AAD.
type ClientNonce [ClientNonceLen]byte

// ClientNonceFromSlice converts a slice into a ClientNonce, rejecting any
// length other than ClientNonceLen.
func ClientNonceFromSlice(b []byte) (ClientNonce, error) {
	var n ClientNonce
	if len(b) != ClientNonceLen {
		richErr := goerrors.New(ErrCodeNonceLength, fmt.Sprintf("client nonce must be %d bytes, got %d", ClientNonceLen, len(b)))
		return n, fmt.Errorf("%w: %w", ErrInvalidNonceLength, richErr)
	}
	copy(n[:], b)
	return n, nil
}

// NetworkContext is the coarse network fingerprint included in session-key
// derivation so sessions are bound to the network conditions they were
// established under.
type NetworkContext struct {
	// RTTBucket is the measured round-trip time mapped into a coarse bucket.
	RTTBucket uint8
	// PathHint is a small routing hint; zero is reserved and rejected.
	PathHint uint16
}

// Validate rejects reserved network context values before they reach any
// derivation or codec path.
func (c NetworkContext) Validate() error {
	if c.PathHint == 0 {
		richErr := goerrors.New(ErrCodeInvalidHeader, "path hint must be non-zero")
		return fmt.Errorf("%w: %w", ErrInvalidHeader, richErr)
	}
	return nil
}

// AeadAlgorithm selects the authenticated-encryption suite. The suite
// identifier participates in profile-key derivation so keys derived for
// different suites are unrelated.
type AeadAlgorithm uint8

const (
	// AeadAes256Gcm is AES-256-GCM, the only suite in protocol v1.
	AeadAes256Gcm AeadAlgorithm = 1
)

// String returns the wire-facing suite name.
func (a AeadAlgorithm) String() string {
	switch a {
	case AeadAes256Gcm:
		return "AES256GCM"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// suiteID returns the single-byte suite identifier mixed into HKDF info.
func (a AeadAlgorithm) suiteID() byte { return byte(a) }

// Domain-separation labels for the two HKDF stages and the capsule AAD.
// These byte strings are part of the v1 wire definition and never change
// without a version bump.
var (
	labelProfileKey = []byte("IHP_PROFILE_KEY:v1")
	labelSessionKey = []byte("IHP_SESSION_KEY:v1")
	aadDomain       = []byte("IHP_CAPSULE_AAD:v1")
)
