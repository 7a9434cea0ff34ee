// errors.go: Error taxonomy for the IHP capsule protocol.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"errors"
)

// Public standard errors for drop-in compatibility.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrConfig is returned when an IhpConfig bound is invalid at build time.
	// Configuration errors are fatal to startup and not recoverable at runtime.
	ErrConfig = errors.New("ihp: invalid configuration")

	// ErrProvider is returned when a key provider fails (HSM unavailable,
	// KMS timeout). Callers may retry with backoff; the library never
	// substitutes a weaker key.
	ErrProvider = errors.New("ihp: key provider failure")

	// ErrPayloadTooLarge is returned when a plaintext exceeds the configured
	// maximum payload length.
	ErrPayloadTooLarge = errors.New("ihp: payload too large")

	// ErrInvalidHeader is returned when a capsule header field fails its
	// structural bounds check before any cryptographic work runs.
	ErrInvalidHeader = errors.New("ihp: invalid capsule header")

	// ErrInvalidTimestamp is returned when a capsule timestamp is negative or
	// not representable.
	ErrInvalidTimestamp = errors.New("ihp: invalid timestamp")

	// ErrVersionRejected is returned when a capsule declares a protocol
	// version outside the configured allow-list. Surfaced distinctly so
	// operators can detect client/server skew.
	ErrVersionRejected = errors.New("ihp: protocol version rejected")

	// ErrHeaderMismatch is returned when the capsule's server environment
	// hash does not match the expected hash for the resolved profile.
	// Treated as a potential tampering signal.
	ErrHeaderMismatch = errors.New("ihp: server environment hash mismatch")

	// ErrDriftRejected is returned when a capsule timestamp falls outside the
	// allowed clock-skew window. Because the drift check runs before AEAD
	// verification, this outcome is provisional: the timestamp is only proven
	// authentic once the tag verifies, so callers must not treat a lone
	// ErrDriftRejected as a security signal.
	ErrDriftRejected = errors.New("ihp: timestamp outside allowed drift")

	// ErrAeadFailure is the single authoritative "this capsule is invalid"
	// outcome. It is deliberately opaque and never reports which byte or
	// field was wrong.
	ErrAeadFailure = errors.New("ihp: AEAD authentication failed")

	// ErrCipherInit is returned when cipher construction fails, typically
	// because the session key length does not match the algorithm.
	ErrCipherInit = errors.New("ihp: cipher initialization error")

	// ErrInvalidNonceLength is returned when a client nonce or AEAD nonce
	// slice has the wrong length.
	ErrInvalidNonceLength = errors.New("ihp: nonce length mismatch")

	// ErrNonceReplayed is returned by the decrypt pipeline when an injected
	// nonce tracker has already seen the capsule's client nonce.
	ErrNonceReplayed = errors.New("ihp: client nonce replayed")

	// ErrKeyDerivation is returned when an HKDF expansion fails.
	ErrKeyDerivation = errors.New("ihp: key derivation failed")

	// ErrSecretDestroyed is returned when secret material is accessed after
	// its storage has been zeroized.
	ErrSecretDestroyed = errors.New("ihp: secret already destroyed")

	// ErrFingerprintTooLong is returned when a server environment profile
	// field exceeds the configured fingerprint bound.
	ErrFingerprintTooLong = errors.New("ihp: server fingerprint too long")
)

// Error codes for rich error handling
const (
	ErrCodeConfig          = "IHP_CONFIG"
	ErrCodeProvider        = "IHP_PROVIDER"
	ErrCodePayloadTooLarge = "IHP_PAYLOAD_TOO_LARGE"
	ErrCodeInvalidHeader   = "IHP_INVALID_HEADER"
	ErrCodeInvalidTime     = "IHP_INVALID_TIMESTAMP"
	ErrCodeVersion         = "IHP_VERSION_REJECTED"
	ErrCodeHeaderMismatch  = "IHP_HEADER_MISMATCH"
	ErrCodeDrift           = "IHP_DRIFT_REJECTED"
	ErrCodeAead            = "IHP_AEAD_FAILURE"
	ErrCodeCipherInit      = "IHP_CIPHER_INIT"
	ErrCodeNonceLength     = "IHP_NONCE_LENGTH"
	ErrCodeNonceReplay     = "IHP_NONCE_REPLAY"
	ErrCodeKeyDerivation   = "IHP_KEY_DERIVATION"
	ErrCodeSecretDestroyed = "IHP_SECRET_DESTROYED"
	ErrCodeFingerprint     = "IHP_FINGERPRINT_TOO_LONG"
)

// Failure reason labels used by the observability surface. These are the only
// values that ever appear in the decrypt.failure/encrypt.failure counters.
const (
	ReasonVersionRejected = "version_rejected"
	ReasonInvalidHeader   = "invalid_header"
	ReasonHeaderMismatch  = "header_mismatch"
	ReasonDriftRejected   = "drift_rejected"
	ReasonAeadFailure     = "aead_failure"
	ReasonPayloadTooLarge = "payload_too_large"
	ReasonInvalidTime     = "invalid_timestamp"
	ReasonNonceReplayed   = "nonce_replayed"
	ReasonCipherInit      = "cipher_init"
)

// FailureReason maps a pipeline error to its observability label without
// revealing anything about the failing bytes. Unknown errors map to the
// opaque AEAD label so metrics never grow an unbounded label set.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrVersionRejected):
		return ReasonVersionRejected
	case errors.Is(err, ErrInvalidHeader), errors.Is(err, ErrInvalidNonceLength):
		return ReasonInvalidHeader
	case errors.Is(err, ErrHeaderMismatch):
		return ReasonHeaderMismatch
	case errors.Is(err, ErrDriftRejected):
		return ReasonDriftRejected
	case errors.Is(err, ErrPayloadTooLarge):
		return ReasonPayloadTooLarge
	case errors.Is(err, ErrInvalidTimestamp):
		return ReasonInvalidTime
	case errors.Is(err, ErrNonceReplayed):
		return ReasonNonceReplayed
	case errors.Is(err, ErrCipherInit):
		return ReasonCipherInit
	default:
		return ReasonAeadFailure
	}
}
