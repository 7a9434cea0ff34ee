// fixture.go: Deterministic capsule generation for golden files.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package fixture produces the canonical deterministic capsule used by
// golden-file tests and the ihp-fixture tool. Every input is pinned,
// including the AEAD nonce, so the encoded bytes are stable until the wire
// format changes.
package fixture

import (
	"github.com/agilira/ihp"
)

// Pinned scenario inputs. Changing any of these invalidates existing golden
// files.
var (
	MasterKeyBytes = [ihp.KeySize]byte{
		0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
		0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
		0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
		0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
	}

	Exporter = []byte("tls exporter key material")

	AeadNonce = [ihp.AeadNonceLen]byte{
		0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5,
		0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xAB,
	}

	Payload = []byte("payload")
)

const (
	ProfileID ihp.ServerProfileID = 42
	RTTBucket uint8               = 7
	PathHint  uint16              = 120
	Timestamp int64               = 1_700_000_000
)

// ClientNonce returns the pinned client nonce (every byte 7).
func ClientNonce() ihp.ClientNonce {
	var n ihp.ClientNonce
	for i := range n {
		n[i] = 7
	}
	return n
}

// EnvHash returns the environment hash of the pinned fixture profile.
func EnvHash() (ihp.ServerEnvHash, error) {
	sep := &ihp.ServerEnvironmentProfile{
		CPUFingerprint:      "fixture-cpu",
		NICFingerprint:      "fixture-nic",
		OSFingerprint:       "fixture-os",
		AppBuildFingerprint: "fixture-build",
	}
	return ihp.ComputeServerEnvHash(sep)
}

// Generate seals the pinned scenario and returns the encoded wire capsule.
func Generate() ([]byte, error) {
	config := ihp.DefaultConfig()

	envHash, err := EnvHash()
	if err != nil {
		return nil, err
	}

	master := ihp.NewMasterKey(MasterKeyBytes)
	defer master.Destroy()
	profileKey, err := ihp.DeriveProfileKey(master, envHash, config.AeadAlgorithm())
	if err != nil {
		return nil, err
	}
	defer profileKey.Destroy()

	netCtx := ihp.NetworkContext{RTTBucket: RTTBucket, PathHint: PathHint}
	sessionKey, err := ihp.DeriveSessionKey(profileKey, Exporter, ClientNonce(), netCtx, ProfileID, config.AeadAlgorithm())
	if err != nil {
		return nil, err
	}
	defer sessionKey.Destroy()

	in := ihp.CapsuleBuildInput{
		ProfileID:   ProfileID,
		EnvHash:     envHash,
		ClientNonce: ClientNonce(),
		NetCtx:      netCtx,
		Timestamp:   Timestamp,
	}
	capsule, err := ihp.EncryptCapsuleWithNonce(config, sessionKey, in, Payload, AeadNonce)
	if err != nil {
		return nil, err
	}
	return capsule.Encode()
}

// Open decrypts an encoded fixture capsule, re-deriving keys from the pinned
// inputs, and returns the plaintext.
func Open(wire []byte) ([]byte, error) {
	config := ihp.DefaultConfig()

	envHash, err := EnvHash()
	if err != nil {
		return nil, err
	}
	capsule, err := ihp.DecodeCapsule(wire)
	if err != nil {
		return nil, err
	}

	master := ihp.NewMasterKey(MasterKeyBytes)
	defer master.Destroy()
	profileKey, err := ihp.DeriveProfileKey(master, envHash, config.AeadAlgorithm())
	if err != nil {
		return nil, err
	}
	defer profileKey.Destroy()

	sessionKey, err := ihp.DeriveSessionKey(profileKey, Exporter, capsule.Header.ClientNonce,
		capsule.Header.NetCtx, capsule.Header.ProfileID, config.AeadAlgorithm())
	if err != nil {
		return nil, err
	}
	defer sessionKey.Destroy()

	return ihp.DecryptCapsule(config, sessionKey, capsule, envHash, Timestamp)
}
