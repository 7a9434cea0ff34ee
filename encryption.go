// encryption.go: Capsule sealing and opening with AES-256-GCM.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
)

// gcm returns the key's AEAD cipher, building it on first use. The cipher
// avoids aes.NewCipher + cipher.NewGCM overhead when the same session key
// seals or opens more than one capsule, and it is scoped to the key so
// Destroy drops the expanded key schedule along with the key bytes.
func (k *SessionKey) gcm() (cipher.AEAD, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.aead != nil {
		return k.aead, nil
	}

	var gcm cipher.AEAD
	err := k.secret.WithBytes(func(keyBytes []byte) error {
		block, err := aes.NewCipher(keyBytes)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeCipherInit, "failed to create AES cipher")
			return fmt.Errorf("%w: %w", ErrCipherInit, richErr)
		}
		gcm, err = cipher.NewGCM(block)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodeCipherInit, "failed to create GCM cipher")
			return fmt.Errorf("%w: %w", ErrCipherInit, richErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	k.aead = gcm
	return gcm, nil
}

// CapsuleBuildInput carries the binding fields a caller supplies when sealing
// a capsule. The library fills in the protocol version and the AEAD nonce.
type CapsuleBuildInput struct {
	ProfileID   ServerProfileID
	EnvHash     ServerEnvHash
	ClientNonce ClientNonce
	NetCtx      NetworkContext
	// Timestamp is the sender's unix time in seconds.
	Timestamp int64
}

// EncryptCapsule seals a payload into a capsule under the given session key.
//
// A fresh random 12-byte AEAD nonce is generated for every call; it is
// distinct from the 24-byte client nonce, which only binds key derivation and
// the AAD. Sealing the same payload twice therefore yields different
// ciphertext. The plaintext slice is not modified.
func EncryptCapsule(config *Config, key *SessionKey, in CapsuleBuildInput, payload []byte) (*Capsule, error) {
	var nonce [AeadNonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeCipherInit, "failed to generate AEAD nonce")
		return nil, fmt.Errorf("%w: %w", ErrCipherInit, richErr)
	}
	return EncryptCapsuleWithNonce(config, key, in, payload, nonce)
}

// EncryptCapsuleWithNonce seals a payload with a caller-chosen AEAD nonce.
//
// This exists for fixture generation and interoperability tests, where the
// full capsule byte sequence must be reproducible. Production callers use
// EncryptCapsule; reusing an AEAD nonce under one key breaks GCM.
func EncryptCapsuleWithNonce(config *Config, key *SessionKey, in CapsuleBuildInput, payload []byte, nonce [AeadNonceLen]byte) (*Capsule, error) {
	if len(payload) > config.MaxPayloadBytes() {
		richErr := goerrors.New(ErrCodePayloadTooLarge, fmt.Sprintf("payload is %d bytes, bound is %d", len(payload), config.MaxPayloadBytes()))
		return nil, fmt.Errorf("%w: %w", ErrPayloadTooLarge, richErr)
	}

	header := CapsuleHeader{
		Version:     DefaultProtocolVersion,
		ProfileID:   in.ProfileID,
		EnvHash:     in.EnvHash,
		ClientNonce: in.ClientNonce,
		NetCtx:      in.NetCtx,
		Timestamp:   in.Timestamp,
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}
	if !config.IsVersionAllowed(header.Version) {
		richErr := goerrors.New(ErrCodeVersion, fmt.Sprintf("protocol version %d not in configured allow-list", header.Version))
		return nil, fmt.Errorf("%w: %w", ErrVersionRejected, richErr)
	}

	aadBuf := getDynamicBuffer()
	defer putDynamicBuffer(aadBuf)
	aad := header.appendAAD(aadBuf)

	gcm, err := key.gcm()
	if err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, nonce[:], payload, aad)

	// Seal appends the tag to the ciphertext; the wire keeps them separate.
	capsule := &Capsule{Header: header, AeadNonce: nonce}
	split := len(sealed) - TagLen
	capsule.Ciphertext = sealed[:split]
	copy(capsule.Tag[:], sealed[split:])
	return capsule, nil
}

// DecryptCapsule validates and opens a capsule, returning the plaintext.
//
// Checks run cheapest-first: version allow-list, header bounds, environment
// hash comparison (constant-time), timestamp drift, then AEAD verification.
// Every pre-AEAD rejection is provisional, since nothing about the header is
// proven authentic until the tag verifies. Only a nil error means the capsule
// is valid.
func DecryptCapsule(config *Config, key *SessionKey, capsule *Capsule, expectedEnvHash ServerEnvHash, now int64) ([]byte, error) {
	plaintext, _, err := decryptCapsuleMeasured(config, key, capsule, expectedEnvHash, now)
	return plaintext, err
}

// decryptCapsuleMeasured is DecryptCapsule plus the observed timestamp skew
// in seconds. The skew is reported whenever the decrypt reached the drift
// check, including on capsules rejected at or after it, so the observability
// surface sees drift distributions for traffic that fails the window.
// Failures before the drift check return a skew of -1; real skews are never
// negative.
func decryptCapsuleMeasured(config *Config, key *SessionKey, capsule *Capsule, expectedEnvHash ServerEnvHash, now int64) ([]byte, float64, error) {
	header := &capsule.Header
	if !config.IsVersionAllowed(header.Version) {
		richErr := goerrors.New(ErrCodeVersion, fmt.Sprintf("protocol version %d not in configured allow-list", header.Version))
		return nil, -1, fmt.Errorf("%w: %w", ErrVersionRejected, richErr)
	}
	if err := header.Validate(); err != nil {
		return nil, -1, err
	}
	if len(capsule.Ciphertext) > config.MaxPayloadBytes() {
		richErr := goerrors.New(ErrCodePayloadTooLarge, fmt.Sprintf("ciphertext is %d bytes, bound is %d", len(capsule.Ciphertext), config.MaxPayloadBytes()))
		return nil, -1, fmt.Errorf("%w: %w", ErrPayloadTooLarge, richErr)
	}

	if subtle.ConstantTimeCompare(header.EnvHash[:], expectedEnvHash[:]) != 1 {
		richErr := goerrors.New(ErrCodeHeaderMismatch, "capsule environment hash does not match expected profile")
		return nil, -1, fmt.Errorf("%w: %w", ErrHeaderMismatch, richErr)
	}

	skew := now - header.Timestamp
	if skew < 0 {
		skew = -skew
	}
	skewSeconds := float64(skew)
	if skew > config.MaxTimestampDrift() {
		richErr := goerrors.New(ErrCodeDrift, fmt.Sprintf("timestamp skew %d s exceeds allowed drift %d s", skew, config.MaxTimestampDrift()))
		return nil, skewSeconds, fmt.Errorf("%w: %w", ErrDriftRejected, richErr)
	}

	aadBuf := getDynamicBuffer()
	defer putDynamicBuffer(aadBuf)
	aad := header.appendAAD(aadBuf)

	sealed := make([]byte, 0, len(capsule.Ciphertext)+TagLen)
	sealed = append(sealed, capsule.Ciphertext...)
	sealed = append(sealed, capsule.Tag[:]...)

	gcm, err := key.gcm()
	if err != nil {
		return nil, skewSeconds, err
	}
	plaintext, err := gcm.Open(nil, capsule.AeadNonce[:], sealed, aad)
	if err != nil {
		// One opaque outcome for every authentication failure. The
		// underlying error never names the failing byte or field.
		richErr := goerrors.New(ErrCodeAead, "capsule authentication failed")
		return nil, skewSeconds, fmt.Errorf("%w: %w", ErrAeadFailure, richErr)
	}
	return plaintext, skewSeconds, nil
}
