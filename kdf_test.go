// kdf_test.go: Test cases for the two-stage key derivation hierarchy.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/agilira/ihp"
)

func keyBytesOf(t *testing.T, key interface {
	WithBytes(func([]byte) error) error
}) []byte {
	t.Helper()
	var out []byte
	if err := key.WithBytes(func(b []byte) error {
		out = append([]byte(nil), b...)
		return nil
	}); err != nil {
		t.Fatalf("WithBytes failed: %v", err)
	}
	return out
}

func fixedMasterKey() *ihp.MasterKey {
	var b [ihp.KeySize]byte
	for i := range b {
		b[i] = 0x11
	}
	return ihp.NewMasterKey(b)
}

func fixedEnvHash(seed byte) ihp.ServerEnvHash {
	var h ihp.ServerEnvHash
	for i := range h {
		h[i] = seed
	}
	return h
}

func fixedClientNonce(seed byte) ihp.ClientNonce {
	var n ihp.ClientNonce
	for i := range n {
		n[i] = seed
	}
	return n
}

func TestDeriveProfileKey_Deterministic(t *testing.T) {
	master := fixedMasterKey()
	defer master.Destroy()
	envHash := fixedEnvHash(0x22)

	k1, err := ihp.DeriveProfileKey(master, envHash, ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer k1.Destroy()
	k2, err := ihp.DeriveProfileKey(master, envHash, ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer k2.Destroy()

	if !bytes.Equal(keyBytesOf(t, k1), keyBytesOf(t, k2)) {
		t.Error("identical inputs produced different profile keys")
	}
}

func TestDeriveProfileKey_EnvHashSensitivity(t *testing.T) {
	master := fixedMasterKey()
	defer master.Destroy()

	k1, err := ihp.DeriveProfileKey(master, fixedEnvHash(0x22), ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer k1.Destroy()
	k2, err := ihp.DeriveProfileKey(master, fixedEnvHash(0x23), ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer k2.Destroy()

	if bytes.Equal(keyBytesOf(t, k1), keyBytesOf(t, k2)) {
		t.Error("different environment hashes produced the same profile key")
	}
}

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	master := fixedMasterKey()
	defer master.Destroy()
	profile, err := ihp.DeriveProfileKey(master, fixedEnvHash(0x22), ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer profile.Destroy()

	exporter := []byte("tls exporter key material")
	nonce := fixedClientNonce(7)
	netCtx := ihp.NetworkContext{RTTBucket: 7, PathHint: 120}

	s1, err := ihp.DeriveSessionKey(profile, exporter, nonce, netCtx, 42, ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveSessionKey failed: %v", err)
	}
	defer s1.Destroy()
	s2, err := ihp.DeriveSessionKey(profile, exporter, nonce, netCtx, 42, ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveSessionKey failed: %v", err)
	}
	defer s2.Destroy()

	if !bytes.Equal(keyBytesOf(t, s1), keyBytesOf(t, s2)) {
		t.Error("identical inputs produced different session keys")
	}
}

func TestDeriveSessionKey_InputSensitivity(t *testing.T) {
	master := fixedMasterKey()
	defer master.Destroy()
	profile, err := ihp.DeriveProfileKey(master, fixedEnvHash(0x22), ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer profile.Destroy()

	baseExporter := []byte("tls exporter key material")
	baseNonce := fixedClientNonce(7)
	baseCtx := ihp.NetworkContext{RTTBucket: 7, PathHint: 120}
	baseProfileID := ihp.ServerProfileID(42)

	base, err := ihp.DeriveSessionKey(profile, baseExporter, baseNonce, baseCtx, baseProfileID, ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveSessionKey failed: %v", err)
	}
	defer base.Destroy()
	baseBytes := keyBytesOf(t, base)

	variants := []struct {
		name      string
		exporter  []byte
		nonce     ihp.ClientNonce
		netCtx    ihp.NetworkContext
		profileID ihp.ServerProfileID
	}{
		{"exporter", []byte("other exporter material"), baseNonce, baseCtx, baseProfileID},
		{"client nonce", baseExporter, fixedClientNonce(8), baseCtx, baseProfileID},
		{"rtt bucket", baseExporter, baseNonce, ihp.NetworkContext{RTTBucket: 8, PathHint: 120}, baseProfileID},
		{"path hint", baseExporter, baseNonce, ihp.NetworkContext{RTTBucket: 7, PathHint: 121}, baseProfileID},
		{"profile id", baseExporter, baseNonce, baseCtx, ihp.ServerProfileID(43)},
	}
	for _, tc := range variants {
		t.Run(tc.name, func(t *testing.T) {
			key, err := ihp.DeriveSessionKey(profile, tc.exporter, tc.nonce, tc.netCtx, tc.profileID, ihp.AeadAes256Gcm)
			if err != nil {
				t.Fatalf("DeriveSessionKey failed: %v", err)
			}
			defer key.Destroy()
			if bytes.Equal(baseBytes, keyBytesOf(t, key)) {
				t.Errorf("changing %s did not change the session key", tc.name)
			}
		})
	}
}

func TestDeriveSessionKey_Rejections(t *testing.T) {
	master := fixedMasterKey()
	defer master.Destroy()
	profile, err := ihp.DeriveProfileKey(master, fixedEnvHash(0x22), ihp.AeadAes256Gcm)
	if err != nil {
		t.Fatalf("DeriveProfileKey failed: %v", err)
	}
	defer profile.Destroy()

	nonce := fixedClientNonce(7)

	_, err = ihp.DeriveSessionKey(profile, nil, nonce, ihp.NetworkContext{PathHint: 120}, 42, ihp.AeadAes256Gcm)
	if !errors.Is(err, ihp.ErrKeyDerivation) {
		t.Errorf("empty exporter: expected ErrKeyDerivation, got %v", err)
	}

	_, err = ihp.DeriveSessionKey(profile, []byte("x"), nonce, ihp.NetworkContext{PathHint: 0}, 42, ihp.AeadAes256Gcm)
	if !errors.Is(err, ihp.ErrInvalidHeader) {
		t.Errorf("zero path hint: expected ErrInvalidHeader, got %v", err)
	}

	_, err = ihp.DeriveSessionKey(profile, []byte("x"), nonce, ihp.NetworkContext{PathHint: 120}, 42, ihp.AeadAlgorithm(9))
	if !errors.Is(err, ihp.ErrCipherInit) {
		t.Errorf("unknown suite: expected ErrCipherInit, got %v", err)
	}
}

func TestDeriveKeys_AfterDestroy(t *testing.T) {
	master := fixedMasterKey()
	master.Destroy()
	if _, err := ihp.DeriveProfileKey(master, fixedEnvHash(1), ihp.AeadAes256Gcm); !errors.Is(err, ihp.ErrSecretDestroyed) {
		t.Errorf("expected ErrSecretDestroyed, got %v", err)
	}
}
