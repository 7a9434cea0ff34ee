// provider.go: Key provider abstraction over master key custody.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"context"
	"fmt"
	"sync"

	goerrors "github.com/agilira/go-errors"
)

// MasterKeyProvider resolves the master key for a server profile. The
// in-memory implementation below holds keys in process; the HSM provider in
// hsm.go keeps them hardware-resident.
//
// Provider failures surface as ErrProvider and are retryable; the library
// never falls back to a weaker or default key.
type MasterKeyProvider interface {
	// MasterKey returns the master key registered for profileID. The caller
	// must not Destroy the returned key; the provider owns its lifecycle.
	MasterKey(ctx context.Context, profileID ServerProfileID) (*MasterKey, error)

	// Close releases provider resources and zeroizes any in-process key
	// material. The provider is unusable afterwards.
	Close() error
}

// KeyProvider derives protocol keys without exposing the master key to
// callers. Both operations are deterministic for fixed inputs.
type KeyProvider interface {
	// ProfileKey derives the stage-one host-scoped key.
	ProfileKey(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash, suite AeadAlgorithm) (*ProfileKey, error)

	// SessionKey derives the stage-two ephemeral key. Callers own the result
	// and should Destroy it after the capsule operation.
	SessionKey(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash, suite AeadAlgorithm, exporter []byte, nonce ClientNonce, netCtx NetworkContext) (*SessionKey, error)
}

// InMemoryMasterKeyProvider keeps master keys in zeroizing containers inside
// the process. Intended for tests and single-node deployments without an
// HSM; Register and MasterKey are safe for concurrent use.
type InMemoryMasterKeyProvider struct {
	mu     sync.RWMutex
	keys   map[ServerProfileID]*MasterKey
	closed bool
}

// NewInMemoryMasterKeyProvider returns an empty provider.
func NewInMemoryMasterKeyProvider() *InMemoryMasterKeyProvider {
	return &InMemoryMasterKeyProvider{keys: make(map[ServerProfileID]*MasterKey)}
}

// Register binds a master key to a profile id. Re-registering a profile id
// destroys the previously held key.
func (p *InMemoryMasterKeyProvider) Register(profileID ServerProfileID, key *MasterKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		richErr := goerrors.New(ErrCodeProvider, "provider is closed")
		return fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	if old, ok := p.keys[profileID]; ok {
		old.Destroy()
	}
	p.keys[profileID] = key
	return nil
}

// MasterKey returns the key registered for profileID.
func (p *InMemoryMasterKeyProvider) MasterKey(ctx context.Context, profileID ServerProfileID) (*MasterKey, error) {
	if err := ctx.Err(); err != nil {
		richErr := goerrors.Wrap(err, ErrCodeProvider, "context cancelled")
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		richErr := goerrors.New(ErrCodeProvider, "provider is closed")
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	key, ok := p.keys[profileID]
	if !ok {
		richErr := goerrors.New(ErrCodeProvider, fmt.Sprintf("no master key registered for profile %d", profileID))
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	return key, nil
}

// Close destroys every registered key. Idempotent.
func (p *InMemoryMasterKeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	for _, key := range p.keys {
		key.Destroy()
	}
	p.keys = nil
	p.closed = true
	return nil
}

// HKDFKeyProvider implements KeyProvider by running both derivation stages
// in-process against a MasterKeyProvider. This is the software path; the HSM
// provider replaces only stage one.
type HKDFKeyProvider struct {
	master MasterKeyProvider
}

// NewHKDFKeyProvider wraps a master key provider.
func NewHKDFKeyProvider(master MasterKeyProvider) *HKDFKeyProvider {
	return &HKDFKeyProvider{master: master}
}

// ProfileKey derives the stage-one key from the provider's master key.
func (p *HKDFKeyProvider) ProfileKey(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash, suite AeadAlgorithm) (*ProfileKey, error) {
	master, err := p.master.MasterKey(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return DeriveProfileKey(master, envHash, suite)
}

// SessionKey derives both stages and returns the ephemeral session key. The
// intermediate profile key is destroyed before returning.
func (p *HKDFKeyProvider) SessionKey(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash, suite AeadAlgorithm, exporter []byte, nonce ClientNonce, netCtx NetworkContext) (*SessionKey, error) {
	profileKey, err := p.ProfileKey(ctx, profileID, envHash, suite)
	if err != nil {
		return nil, err
	}
	defer profileKey.Destroy()
	return DeriveSessionKey(profileKey, exporter, nonce, netCtx, profileID, suite)
}
