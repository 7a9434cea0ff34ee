// keyutils.go: Key utilities for import/export, zeroization, and fingerprinting.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
)

// KeyToBase64 encodes key or digest bytes as a base64 string.
//
// Useful for carrying non-secret values (such as server environment hashes)
// in JSON transports and fixture files. Never call this on live secret
// material; secret containers refuse serialization by design.
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// KeyFromBase64 decodes a base64 string produced by KeyToBase64.
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, goerrors.Wrap(err, "IHP_BASE64_DECODE", "failed to decode base64 key")
	}
	return key, nil
}

// KeyToHex encodes key or digest bytes as a lowercase hexadecimal string.
func KeyToHex(key []byte) string {
	return hex.EncodeToString(key)
}

// KeyFromHex decodes a hexadecimal string produced by KeyToHex.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, goerrors.Wrap(err, "IHP_HEX_DECODE", "failed to decode hex key")
	}
	return key, nil
}

// Zeroize securely wipes a byte slice from memory.
//
// This function overwrites all bytes in the slice with zeros to prevent
// sensitive data from remaining in memory after use. It modifies the
// original slice in place and is the single zeroization primitive every
// secret container and pooled buffer in this library goes through.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GetKeyFingerprint generates a short non-cryptographic identifier for a key
// by hashing it with SHA-256 and keeping the first 8 bytes. The fingerprint
// is safe to log and lets operators correlate key usage without exposing key
// material.
func GetKeyFingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	hash := sha256.Sum256(key)
	return fmt.Sprintf("%016x", hash[:8])
}

// GenerateMasterKey generates a cryptographically secure random master key.
//
// Intended for tests and the in-memory provider. Production deployments
// provision master keys out-of-band inside an HSM/KMS and never call this.
func GenerateMasterKey() (*MasterKey, error) {
	var bytes [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, bytes[:]); err != nil {
		return nil, goerrors.Wrap(err, "IHP_KEY_GEN", "failed to generate master key")
	}
	key := NewMasterKey(bytes)
	Zeroize(bytes[:])
	return key, nil
}

// GenerateClientNonce generates a random protocol-level client nonce.
//
// Each session must use a fresh nonce; reuse detection is the caller's
// responsibility unless a NonceTracker is wired into the decrypt pipeline.
func GenerateClientNonce() (ClientNonce, error) {
	var n ClientNonce
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, goerrors.Wrap(err, "IHP_NONCE_GEN", "failed to generate client nonce")
	}
	return n, nil
}

// ValidateKeyLen checks that raw key material has the correct size for the
// configured AEAD suite before it is wrapped in a secret container.
func ValidateKeyLen(key []byte) error {
	if len(key) != KeySize {
		return goerrors.New(ErrCodeCipherInit, fmt.Sprintf("key size must be %d bytes for AES-256, got %d", KeySize, len(key)))
	}
	return nil
}
