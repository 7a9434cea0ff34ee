// keyutils_test.go: Test cases for key utilities.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilira/ihp"
)

func TestKeyBase64RoundTrip(t *testing.T) {
	raw := make([]byte, ihp.KeySize)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := ihp.KeyToBase64(raw)
	decoded, err := ihp.KeyFromBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = ihp.KeyFromBase64("not!base64!")
	assert.Error(t, err)
}

func TestKeyHexRoundTrip(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	encoded := ihp.KeyToHex(raw)
	assert.Equal(t, "deadbeef", encoded)

	decoded, err := ihp.KeyFromHex(encoded)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = ihp.KeyFromHex("zz")
	assert.Error(t, err)
}

func TestZeroize(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	ihp.Zeroize(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)

	// Zero-length and nil slices are no-ops.
	ihp.Zeroize(nil)
	ihp.Zeroize([]byte{})
}

func TestGetKeyFingerprint(t *testing.T) {
	key := make([]byte, ihp.KeySize)
	fp := ihp.GetKeyFingerprint(key)
	require.Len(t, fp, 16)
	assert.Equal(t, fp, ihp.GetKeyFingerprint(key), "fingerprint must be deterministic")

	key[0] = 1
	assert.NotEqual(t, fp, ihp.GetKeyFingerprint(key), "fingerprint must track key bytes")

	assert.Empty(t, ihp.GetKeyFingerprint(nil))
}

func TestGenerateClientNonce_Unique(t *testing.T) {
	n1, err := ihp.GenerateClientNonce()
	require.NoError(t, err)
	n2, err := ihp.GenerateClientNonce()
	require.NoError(t, err)
	assert.NotEqual(t, n1, n2, "two generated nonces collided")
}

func TestValidateKeyLen(t *testing.T) {
	assert.NoError(t, ihp.ValidateKeyLen(make([]byte, ihp.KeySize)))
	assert.Error(t, ihp.ValidateKeyLen(make([]byte, 16)))
	assert.Error(t, ihp.ValidateKeyLen(nil))
}
