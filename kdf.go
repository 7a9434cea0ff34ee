// kdf.go: Two-stage HKDF-SHA256 key derivation hierarchy.
//
// Stage one derives a host-scoped profile key from the master key and a
// server environment hash; stage two derives an ephemeral session key from
// the profile key, TLS exporter material, and per-session context. Both
// stages are pure functions with domain-separated labels, so identical
// inputs always produce identical keys and keys derived for different
// purposes are cryptographically unrelated.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	goerrors "github.com/agilira/go-errors"
	"golang.org/x/crypto/hkdf"
)

// hkdfDerive runs HKDF-SHA256 extract-and-expand (RFC 5869) and returns
// KeySize output bytes. Callers wrap the result in a secret container, which
// zeroizes the intermediate slice.
func hkdfDerive(salt, ikm, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	okm := make([]byte, KeySize)
	if _, err := io.ReadFull(r, okm); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeKeyDerivation, "hkdf expansion failed")
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, richErr)
	}
	return okm, nil
}

// profileInfo builds the stage-one context info: the profile domain label
// followed by the AEAD suite identifier.
func profileInfo(suite AeadAlgorithm) []byte {
	info := make([]byte, 0, len(labelProfileKey)+1)
	info = append(info, labelProfileKey...)
	info = append(info, suite.suiteID())
	return info
}

// sessionInfo builds the stage-two context info: the session domain label,
// the client nonce, the network context, and the server profile id, in fixed
// order with fixed-width little-endian integers.
func sessionInfo(nonce ClientNonce, netCtx NetworkContext, profileID ServerProfileID) []byte {
	info := make([]byte, 0, len(labelSessionKey)+ClientNonceLen+1+2+8)
	info = append(info, labelSessionKey...)
	info = append(info, nonce[:]...)
	info = append(info, netCtx.RTTBucket)
	info = binary.LittleEndian.AppendUint16(info, netCtx.PathHint)
	info = binary.LittleEndian.AppendUint64(info, uint64(profileID))
	return info
}

// DeriveProfileKey computes the host-scoped profile key.
//
// HKDF inputs: the master key as input keying material, the server
// environment hash as salt, and the profile domain label plus suite id as
// context info. The derivation is deterministic, which lets hosts sharing a
// master key and environment recompute the same profile key without any key
// distribution.
//
// The master key bytes are exposed only for the duration of the HKDF call
// through the container's scoped accessor.
func DeriveProfileKey(master *MasterKey, envHash ServerEnvHash, suite AeadAlgorithm) (*ProfileKey, error) {
	var out *ProfileKey
	err := master.WithBytes(func(ikm []byte) error {
		okm, err := hkdfDerive(envHash[:], ikm, profileInfo(suite))
		if err != nil {
			return err
		}
		out, err = ProfileKeyFromSlice(okm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveSessionKey computes the ephemeral per-session key.
//
// HKDF inputs: the TLS exporter material as input keying material, the
// profile key as salt, and context info binding the client nonce, network
// context, and server profile id. Two sessions therefore never share key
// material unless every input matches. The suite argument is validated
// against the supported AEAD suite; it selects the cipher the key will feed.
func DeriveSessionKey(profile *ProfileKey, exporter []byte, nonce ClientNonce, netCtx NetworkContext, profileID ServerProfileID, suite AeadAlgorithm) (*SessionKey, error) {
	if suite != AeadAes256Gcm {
		richErr := goerrors.New(ErrCodeCipherInit, fmt.Sprintf("unsupported AEAD suite %d", suite))
		return nil, fmt.Errorf("%w: %w", ErrCipherInit, richErr)
	}
	if len(exporter) == 0 {
		richErr := goerrors.New(ErrCodeKeyDerivation, "exporter material cannot be empty")
		return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, richErr)
	}
	if err := netCtx.Validate(); err != nil {
		return nil, err
	}

	var out *SessionKey
	err := profile.WithBytes(func(salt []byte) error {
		okm, err := hkdfDerive(salt, exporter, sessionInfo(nonce, netCtx, profileID))
		if err != nil {
			return err
		}
		out, err = SessionKeyFromSlice(okm)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
