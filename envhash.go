// envhash.go: Server environment profile hashing for profile-key binding.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"fmt"

	goerrors "github.com/agilira/go-errors"
	"lukechampine.com/blake3"
)

// ServerEnvironmentProfile captures the host/hardware fingerprint a profile
// key is bound to. It is captured once at boot or provisioning and is
// immutable for the lifetime of the process; a material change rotates the
// ServerProfileID.
type ServerEnvironmentProfile struct {
	CPUFingerprint      string `json:"cpu_fingerprint"`
	NICFingerprint      string `json:"nic_fingerprint"`
	OSFingerprint       string `json:"os_fingerprint"`
	AppBuildFingerprint string `json:"app_build_fingerprint"`
	TPMQuote            []byte `json:"tpm_quote,omitempty"`
}

// Validate checks every field against the configured fingerprint bound.
// Hashing must never run on an unvalidated profile.
func (p *ServerEnvironmentProfile) Validate(maxLen int) error {
	fields := map[string]int{
		"cpu_fingerprint":       len(p.CPUFingerprint),
		"nic_fingerprint":       len(p.NICFingerprint),
		"os_fingerprint":        len(p.OSFingerprint),
		"app_build_fingerprint": len(p.AppBuildFingerprint),
		"tpm_quote":             len(p.TPMQuote),
	}
	for name, n := range fields {
		if n > maxLen {
			richErr := goerrors.New(ErrCodeFingerprint, fmt.Sprintf("%s is %d bytes, bound is %d", name, n, maxLen))
			return fmt.Errorf("%w: %w", ErrFingerprintTooLong, richErr)
		}
	}
	return nil
}

// ServerEnvHash is the 32-byte BLAKE3 digest binding profile-key derivation
// to a specific host environment. It is not secret; it travels in capsule
// headers and in the /ihp/profile response.
type ServerEnvHash [EnvHashLen]byte

// ServerEnvHashFromSlice converts a slice into a ServerEnvHash, rejecting
// any length other than EnvHashLen.
func ServerEnvHashFromSlice(b []byte) (ServerEnvHash, error) {
	var h ServerEnvHash
	if len(b) != EnvHashLen {
		richErr := goerrors.New(ErrCodeInvalidHeader, fmt.Sprintf("env hash must be %d bytes, got %d", EnvHashLen, len(b)))
		return h, fmt.Errorf("%w: %w", ErrInvalidHeader, richErr)
	}
	copy(h[:], b)
	return h, nil
}

// ComputeServerEnvHash hashes a validated server environment profile with
// BLAKE3 using the default fingerprint bound.
//
// The framing is fixed: each string field is followed by a 0x00 separator,
// and the TPM quote is preceded by a presence byte (0x01 when set, 0x00 when
// absent). Shifting bytes between adjacent fields therefore always changes
// the digest.
func ComputeServerEnvHash(sep *ServerEnvironmentProfile) (ServerEnvHash, error) {
	return ComputeServerEnvHashWithLimit(sep, MaxFingerprintBytes)
}

// ComputeServerEnvHashForConfig hashes a profile using the bound from an
// explicit Config.
func ComputeServerEnvHashForConfig(sep *ServerEnvironmentProfile, config *Config) (ServerEnvHash, error) {
	return ComputeServerEnvHashWithLimit(sep, config.MaxFingerprintBytes())
}

// ComputeServerEnvHashWithLimit validates field lengths against maxLen and
// hashes the profile.
func ComputeServerEnvHashWithLimit(sep *ServerEnvironmentProfile, maxLen int) (ServerEnvHash, error) {
	var out ServerEnvHash
	if err := sep.Validate(maxLen); err != nil {
		return out, err
	}

	h := blake3.New(EnvHashLen, nil)
	sep00 := []byte{0}
	h.Write([]byte(sep.CPUFingerprint))
	h.Write(sep00)
	h.Write([]byte(sep.NICFingerprint))
	h.Write(sep00)
	h.Write([]byte(sep.OSFingerprint))
	h.Write(sep00)
	h.Write([]byte(sep.AppBuildFingerprint))
	h.Write(sep00)
	if sep.TPMQuote != nil {
		h.Write([]byte{1})
		h.Write(sep.TPMQuote)
	} else {
		h.Write(sep00)
	}

	copy(out[:], h.Sum(nil))
	return out, nil
}
