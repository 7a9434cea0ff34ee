// envhash_test.go: Test cases for server environment hashing.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/agilira/ihp"
)

func testProfile() *ihp.ServerEnvironmentProfile {
	return &ihp.ServerEnvironmentProfile{
		CPUFingerprint:      "cpu-model-x/cores=8/arch=amd64",
		NICFingerprint:      "aa:bb:cc:dd:ee:ff",
		OSFingerprint:       "linux/debian/12/kernel=6.1",
		AppBuildFingerprint: "build-abc123",
	}
}

func TestComputeServerEnvHash_Deterministic(t *testing.T) {
	h1, err := ihp.ComputeServerEnvHash(testProfile())
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}
	h2, err := ihp.ComputeServerEnvHash(testProfile())
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}
	if h1 != h2 {
		t.Error("identical profiles produced different hashes")
	}
}

func TestComputeServerEnvHash_FieldSensitivity(t *testing.T) {
	base, err := ihp.ComputeServerEnvHash(testProfile())
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}

	mutations := []struct {
		name   string
		mutate func(*ihp.ServerEnvironmentProfile)
	}{
		{"cpu", func(p *ihp.ServerEnvironmentProfile) { p.CPUFingerprint += "x" }},
		{"nic", func(p *ihp.ServerEnvironmentProfile) { p.NICFingerprint += "x" }},
		{"os", func(p *ihp.ServerEnvironmentProfile) { p.OSFingerprint += "x" }},
		{"build", func(p *ihp.ServerEnvironmentProfile) { p.AppBuildFingerprint += "x" }},
		{"tpm quote", func(p *ihp.ServerEnvironmentProfile) { p.TPMQuote = []byte{1, 2, 3} }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			p := testProfile()
			tc.mutate(p)
			h, err := ihp.ComputeServerEnvHash(p)
			if err != nil {
				t.Fatalf("ComputeServerEnvHash failed: %v", err)
			}
			if h == base {
				t.Errorf("mutating %s did not change the hash", tc.name)
			}
		})
	}
}

// Moving a byte across a field boundary must change the digest: the framing
// uses explicit separators, so "ab"+"c" and "a"+"bc" hash differently.
func TestComputeServerEnvHash_FieldBoundary(t *testing.T) {
	p1 := testProfile()
	p1.CPUFingerprint = "ab"
	p1.NICFingerprint = "c"

	p2 := testProfile()
	p2.CPUFingerprint = "a"
	p2.NICFingerprint = "bc"

	h1, err := ihp.ComputeServerEnvHash(p1)
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}
	h2, err := ihp.ComputeServerEnvHash(p2)
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}
	if h1 == h2 {
		t.Error("field boundary shift did not change the hash")
	}
}

// An absent TPM quote and an empty one are the same provisioning state and
// must hash identically; a one-byte quote must not.
func TestComputeServerEnvHash_TPMPresence(t *testing.T) {
	absent := testProfile()
	absent.TPMQuote = nil

	empty := testProfile()
	empty.TPMQuote = []byte{}

	hAbsent, err := ihp.ComputeServerEnvHash(absent)
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}
	hEmpty, err := ihp.ComputeServerEnvHash(empty)
	if err != nil {
		t.Fatalf("ComputeServerEnvHash failed: %v", err)
	}
	if hAbsent == hEmpty {
		t.Error("empty TPM quote should hash differently from an absent one")
	}
}

func TestComputeServerEnvHash_FingerprintBound(t *testing.T) {
	p := testProfile()
	p.NICFingerprint = strings.Repeat("a", ihp.MaxFingerprintBytes+1)

	if _, err := ihp.ComputeServerEnvHash(p); !errors.Is(err, ihp.ErrFingerprintTooLong) {
		t.Errorf("expected ErrFingerprintTooLong, got %v", err)
	}

	cfg, err := ihp.NewConfigBuilder().MaxFingerprintBytes(8).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	p2 := testProfile()
	if _, err := ihp.ComputeServerEnvHashForConfig(p2, cfg); !errors.Is(err, ihp.ErrFingerprintTooLong) {
		t.Errorf("expected ErrFingerprintTooLong under tight config, got %v", err)
	}
}

func TestServerEnvHashFromSlice(t *testing.T) {
	if _, err := ihp.ServerEnvHashFromSlice(make([]byte, 16)); !errors.Is(err, ihp.ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader for short slice, got %v", err)
	}
	h, err := ihp.ServerEnvHashFromSlice(make([]byte, ihp.EnvHashLen))
	if err != nil {
		t.Fatalf("ServerEnvHashFromSlice failed: %v", err)
	}
	var zero ihp.ServerEnvHash
	if h != zero {
		t.Error("zero slice should produce zero hash")
	}
}

func TestDetectEnvironmentProfile_Overrides(t *testing.T) {
	t.Setenv(ihp.EnvCPUFingerprint, "cpu-override")
	t.Setenv(ihp.EnvNICFingerprint, "nic-override")
	t.Setenv(ihp.EnvOSFingerprint, "os-override")
	t.Setenv(ihp.EnvBuildFingerprint, "build-override")

	sep, err := ihp.DetectEnvironmentProfile()
	if err != nil {
		t.Fatalf("DetectEnvironmentProfile failed: %v", err)
	}
	if sep.CPUFingerprint != "cpu-override" {
		t.Errorf("cpu fingerprint = %q, want override", sep.CPUFingerprint)
	}
	if sep.NICFingerprint != "nic-override" {
		t.Errorf("nic fingerprint = %q, want override", sep.NICFingerprint)
	}
	if sep.OSFingerprint != "os-override" {
		t.Errorf("os fingerprint = %q, want override", sep.OSFingerprint)
	}
	if sep.AppBuildFingerprint != "build-override" {
		t.Errorf("build fingerprint = %q, want override", sep.AppBuildFingerprint)
	}
}
