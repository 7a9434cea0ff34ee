// config.go: Immutable protocol configuration with validated bounds.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

const (
	// DefaultMaxTimestampDriftSeconds is the default allowed clock skew when
	// validating capsule timestamps.
	DefaultMaxTimestampDriftSeconds int64 = 300

	// MaxTimestampDriftCapSeconds is the hard ceiling for caller-configured
	// drift. No configuration can exceed it, guarding clocks against runaway
	// values.
	MaxTimestampDriftCapSeconds int64 = 7 * 86_400

	// MaxPayloadBytes is the largest plaintext the library ever accepts.
	MaxPayloadBytes = 64 * 1024

	// MaxFingerprintBytes bounds each server environment profile field to
	// guard against unbounded inputs.
	MaxFingerprintBytes = 4 * 1024
)

// Config is the immutable protocol policy shared read-only across requests.
//
// Build one with NewConfigBuilder (or take DefaultConfig) and pass it to the
// encrypt/decrypt entrypoints. All fields are validated once at build time;
// a built Config is safe for concurrent use without synchronization.
type Config struct {
	maxTimestampDrift   int64
	allowedVersions     map[ProtocolVersion]struct{}
	aeadAlgorithm       AeadAlgorithm
	maxPayloadBytes     int
	maxFingerprintBytes int
}

// DefaultConfig returns the policy used when no builder overrides apply:
// 300 s drift, protocol v1 only, AES-256-GCM, 64 KiB payloads, 4 KiB
// fingerprints.
func DefaultConfig() *Config {
	cfg, err := NewConfigBuilder().Build()
	if err != nil {
		// Defaults are compile-time constants inside every bound.
		panic(fmt.Sprintf("ihp: default config invalid: %v", err))
	}
	return cfg
}

// MaxTimestampDrift returns the allowed clock skew in seconds.
func (c *Config) MaxTimestampDrift() int64 { return c.maxTimestampDrift }

// AeadAlgorithm returns the configured AEAD suite.
func (c *Config) AeadAlgorithm() AeadAlgorithm { return c.aeadAlgorithm }

// MaxPayloadBytes returns the maximum accepted plaintext length.
func (c *Config) MaxPayloadBytes() int { return c.maxPayloadBytes }

// MaxFingerprintBytes returns the per-field bound for server environment
// profile fingerprints.
func (c *Config) MaxFingerprintBytes() int { return c.maxFingerprintBytes }

// IsVersionAllowed reports whether capsules of the given protocol version
// are accepted under this policy.
func (c *Config) IsVersionAllowed(v ProtocolVersion) bool {
	_, ok := c.allowedVersions[v]
	return ok
}

// AllowedVersions returns a copy of the version allow-list.
func (c *Config) AllowedVersions() []ProtocolVersion {
	out := make([]ProtocolVersion, 0, len(c.allowedVersions))
	for v := range c.allowedVersions {
		out = append(out, v)
	}
	return out
}

// ConfigBuilder assembles a Config. Zero values fall back to the defaults;
// Build validates every bound and fails with ErrConfig on the first
// violation.
type ConfigBuilder struct {
	maxTimestampDrift   *int64
	allowedVersions     []ProtocolVersion
	aeadAlgorithm       *AeadAlgorithm
	maxPayloadBytes     *int
	maxFingerprintBytes *int
}

// NewConfigBuilder returns a builder pre-loaded with library defaults.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// MaxTimestampDrift sets the allowed clock skew in seconds. Negative values
// and values above MaxTimestampDriftCapSeconds are rejected at Build.
func (b *ConfigBuilder) MaxTimestampDrift(seconds int64) *ConfigBuilder {
	b.maxTimestampDrift = &seconds
	return b
}

// AllowedVersions sets the protocol version allow-list. An empty list is
// rejected at Build.
func (b *ConfigBuilder) AllowedVersions(versions ...ProtocolVersion) *ConfigBuilder {
	b.allowedVersions = append([]ProtocolVersion(nil), versions...)
	return b
}

// AeadAlgorithm selects the authenticated-encryption suite.
func (b *ConfigBuilder) AeadAlgorithm(algorithm AeadAlgorithm) *ConfigBuilder {
	b.aeadAlgorithm = &algorithm
	return b
}

// MaxPayloadBytes sets the plaintext length bound (1..=MaxPayloadBytes).
func (b *ConfigBuilder) MaxPayloadBytes(n int) *ConfigBuilder {
	b.maxPayloadBytes = &n
	return b
}

// MaxFingerprintBytes sets the per-field fingerprint bound
// (1..=MaxFingerprintBytes).
func (b *ConfigBuilder) MaxFingerprintBytes(n int) *ConfigBuilder {
	b.maxFingerprintBytes = &n
	return b
}

// Build validates all bounds and returns the immutable Config.
func (b *ConfigBuilder) Build() (*Config, error) {
	cfg := &Config{
		maxTimestampDrift:   DefaultMaxTimestampDriftSeconds,
		allowedVersions:     map[ProtocolVersion]struct{}{DefaultProtocolVersion: {}},
		aeadAlgorithm:       AeadAes256Gcm,
		maxPayloadBytes:     MaxPayloadBytes,
		maxFingerprintBytes: MaxFingerprintBytes,
	}

	if b.maxTimestampDrift != nil {
		d := *b.maxTimestampDrift
		if d < 0 || d > MaxTimestampDriftCapSeconds {
			richErr := goerrors.New(ErrCodeConfig, fmt.Sprintf("timestamp drift %d outside [0, %d]", d, MaxTimestampDriftCapSeconds))
			return nil, fmt.Errorf("%w: %w", ErrConfig, richErr)
		}
		cfg.maxTimestampDrift = d
	}
	if b.allowedVersions != nil {
		if len(b.allowedVersions) == 0 {
			richErr := goerrors.New(ErrCodeConfig, "no protocol versions allowed")
			return nil, fmt.Errorf("%w: %w", ErrConfig, richErr)
		}
		versions := make(map[ProtocolVersion]struct{}, len(b.allowedVersions))
		for _, v := range b.allowedVersions {
			if !v.Known() {
				richErr := goerrors.New(ErrCodeConfig, fmt.Sprintf("unknown protocol version %d", v))
				return nil, fmt.Errorf("%w: %w", ErrConfig, richErr)
			}
			versions[v] = struct{}{}
		}
		cfg.allowedVersions = versions
	}
	if b.aeadAlgorithm != nil {
		if *b.aeadAlgorithm != AeadAes256Gcm {
			richErr := goerrors.New(ErrCodeConfig, fmt.Sprintf("unsupported AEAD algorithm %d", *b.aeadAlgorithm))
			return nil, fmt.Errorf("%w: %w", ErrConfig, richErr)
		}
		cfg.aeadAlgorithm = *b.aeadAlgorithm
	}
	if b.maxPayloadBytes != nil {
		n := *b.maxPayloadBytes
		if n <= 0 || n > MaxPayloadBytes {
			richErr := goerrors.New(ErrCodeConfig, fmt.Sprintf("payload bound %d outside (0, %d]", n, MaxPayloadBytes))
			return nil, fmt.Errorf("%w: %w", ErrConfig, richErr)
		}
		cfg.maxPayloadBytes = n
	}
	if b.maxFingerprintBytes != nil {
		n := *b.maxFingerprintBytes
		if n <= 0 || n > MaxFingerprintBytes {
			richErr := goerrors.New(ErrCodeConfig, fmt.Sprintf("fingerprint bound %d outside (0, %d]", n, MaxFingerprintBytes))
			return nil, fmt.Errorf("%w: %w", ErrConfig, richErr)
		}
		cfg.maxFingerprintBytes = n
	}

	return cfg, nil
}
