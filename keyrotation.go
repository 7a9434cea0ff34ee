// keyrotation.go: Profile generation rotation for environment changes.
//
// A server environment change (hardware swap, OS upgrade, rebuild) produces a
// new environment hash and with it a new profile id. Rotation is zero
// downtime: the previous generation stays decryptable for a grace window so
// in-flight capsules sealed against the old environment still open.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Profile generation status constants.
const (
	StatusActive     = "active"     // Generation used for new sessions
	StatusPending    = "pending"    // Generation prepared but not yet validated
	StatusValidating = "validating" // Generation passed derivation checks, awaiting commit
	StatusDeprecated = "deprecated" // Previous generation, decrypt-only
	StatusRevoked    = "revoked"    // Unusable generation
)

// Error codes for profile rotation.
const (
	ErrCodeProfileNotFound   = "IHP_PROFILE_NOT_FOUND"
	ErrCodeProfileRotation   = "IHP_PROFILE_ROTATION"
	ErrCodeProfileValidation = "IHP_PROFILE_VALIDATION"
)

// ProfileGeneration is one (profile id, environment hash) binding with its
// lifecycle status. It carries no key material; keys are derived on demand
// through the KeyProvider.
type ProfileGeneration struct {
	ProfileID ServerProfileID `json:"profile_id"`
	EnvHash   ServerEnvHash   `json:"env_hash"`
	CreatedAt time.Time       `json:"created_at"`
	Status    string          `json:"status"`
}

// ProfileKeyManager tracks the active and previous profile generations for
// one server. New capsules always bind the active generation; the decrypt
// path may resolve either the active or the previous generation so rollover
// never rejects valid traffic.
//
// Safe for concurrent use.
type ProfileKeyManager struct {
	mu       sync.RWMutex
	provider KeyProvider
	config   *Config
	active   *ProfileGeneration
	pending  *ProfileGeneration
	previous *ProfileGeneration
}

// NewProfileKeyManager builds a manager over a key provider and protocol
// config. The config's suite selects which profile keys are derived.
func NewProfileKeyManager(provider KeyProvider, config *Config) *ProfileKeyManager {
	return &ProfileKeyManager{provider: provider, config: config}
}

// Activate installs the initial generation. Fails if a generation is already
// active; later changes go through the rotation phases.
func (m *ProfileKeyManager) Activate(profileID ServerProfileID, envHash ServerEnvHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		richErr := goerrors.New(ErrCodeProfileRotation, "a generation is already active, use rotation")
		return fmt.Errorf("activation refused: %w", richErr)
	}
	m.active = &ProfileGeneration{
		ProfileID: profileID,
		EnvHash:   envHash,
		CreatedAt: timecache.CachedTime().UTC(),
		Status:    StatusActive,
	}
	return nil
}

// PrepareRotation stages a new generation without touching the active one.
// Phase 1 of the zero-downtime sequence.
func (m *ProfileKeyManager) PrepareRotation(profileID ServerProfileID, envHash ServerEnvHash) (*ProfileGeneration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		richErr := goerrors.New(ErrCodeProfileRotation, "rotation already in progress")
		return nil, fmt.Errorf("rotation in progress: %w", richErr)
	}
	if m.active != nil && m.active.ProfileID == profileID {
		richErr := goerrors.New(ErrCodeProfileRotation, fmt.Sprintf("profile %d is already active", profileID))
		return nil, fmt.Errorf("rotation refused: %w", richErr)
	}

	m.pending = &ProfileGeneration{
		ProfileID: profileID,
		EnvHash:   envHash,
		CreatedAt: timecache.CachedTime().UTC(),
		Status:    StatusPending,
	}
	return m.pending, nil
}

// ValidateRotation proves the pending generation can derive working keys.
// Phase 2: a session key is derived through the provider and exercised with
// a seal/open round trip before any traffic depends on it.
func (m *ProfileKeyManager) ValidateRotation(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		richErr := goerrors.New(ErrCodeProfileRotation, "no pending generation to validate")
		return fmt.Errorf("no pending generation: %w", richErr)
	}

	testExporter := []byte("rotation-validation-exporter")
	testPayload := []byte("rotation-validation-payload")
	var testNonce ClientNonce
	testCtx := NetworkContext{RTTBucket: 0, PathHint: 1}

	sessionKey, err := m.provider.SessionKey(ctx, m.pending.ProfileID, m.pending.EnvHash, m.config.AeadAlgorithm(), testExporter, testNonce, testCtx)
	if err != nil {
		m.pending.Status = StatusRevoked
		richErr := goerrors.Wrap(err, ErrCodeProfileValidation, "failed to derive validation session key")
		return fmt.Errorf("rotation validation failed: %w", richErr)
	}
	defer sessionKey.Destroy()

	now := timecache.CachedTime().Unix()
	in := CapsuleBuildInput{
		ProfileID:   m.pending.ProfileID,
		EnvHash:     m.pending.EnvHash,
		ClientNonce: testNonce,
		NetCtx:      testCtx,
		Timestamp:   now,
	}
	capsule, err := EncryptCapsule(m.config, sessionKey, in, testPayload)
	if err != nil {
		m.pending.Status = StatusRevoked
		richErr := goerrors.Wrap(err, ErrCodeProfileValidation, "failed to seal validation capsule")
		return fmt.Errorf("rotation validation failed: %w", richErr)
	}
	plaintext, err := DecryptCapsule(m.config, sessionKey, capsule, m.pending.EnvHash, now)
	if err != nil {
		m.pending.Status = StatusRevoked
		richErr := goerrors.Wrap(err, ErrCodeProfileValidation, "failed to open validation capsule")
		return fmt.Errorf("rotation validation failed: %w", richErr)
	}
	if !bytes.Equal(plaintext, testPayload) {
		m.pending.Status = StatusRevoked
		richErr := goerrors.New(ErrCodeProfileValidation, "validation round trip mismatch")
		return fmt.Errorf("rotation validation failed: %w", richErr)
	}
	Zeroize(plaintext)

	m.pending.Status = StatusValidating
	return nil
}

// CommitRotation promotes the validated generation to active and demotes the
// old active generation to decrypt-only. Phase 3.
func (m *ProfileKeyManager) CommitRotation() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.Status != StatusValidating {
		richErr := goerrors.New(ErrCodeProfileRotation, "no validated generation to commit")
		return fmt.Errorf("no validated generation: %w", richErr)
	}

	if m.active != nil {
		m.active.Status = StatusDeprecated
		m.previous = m.active
	}
	m.pending.Status = StatusActive
	m.active = m.pending
	m.pending = nil
	return nil
}

// RollbackRotation abandons an in-progress rotation. Fails when no rotation
// is staged, so concurrent rollbacks cannot both report success.
func (m *ProfileKeyManager) RollbackRotation() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		richErr := goerrors.New(ErrCodeProfileRotation, "no rotation in progress to rollback")
		return fmt.Errorf("no rotation to rollback: %w", richErr)
	}
	m.pending.Status = StatusRevoked
	m.pending = nil
	return nil
}

// RotateZeroDowntime runs prepare, validate, and commit with automatic
// rollback on failure.
func (m *ProfileKeyManager) RotateZeroDowntime(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash) (*ProfileGeneration, error) {
	gen, err := m.PrepareRotation(profileID, envHash)
	if err != nil {
		return nil, fmt.Errorf("preparation failed: %w", err)
	}
	if err := m.ValidateRotation(ctx); err != nil {
		_ = m.RollbackRotation()
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := m.CommitRotation(); err != nil {
		_ = m.RollbackRotation()
		return nil, fmt.Errorf("commit failed: %w", err)
	}
	return gen, nil
}

// Active returns the current generation.
func (m *ProfileKeyManager) Active() (*ProfileGeneration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == nil {
		richErr := goerrors.New(ErrCodeProfileNotFound, "no active generation")
		return nil, fmt.Errorf("no active generation: %w", richErr)
	}
	return m.active, nil
}

// ResolveEnvHash returns the expected environment hash for a capsule's
// profile id, accepting the active generation and, during rollover, the
// deprecated previous one.
func (m *ProfileKeyManager) ResolveEnvHash(profileID ServerProfileID) (ServerEnvHash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active != nil && m.active.ProfileID == profileID {
		return m.active.EnvHash, nil
	}
	if m.previous != nil && m.previous.ProfileID == profileID && m.previous.Status == StatusDeprecated {
		return m.previous.EnvHash, nil
	}
	var zero ServerEnvHash
	richErr := goerrors.New(ErrCodeProfileNotFound, fmt.Sprintf("profile %d is not active or in rollover", profileID))
	return zero, fmt.Errorf("unknown profile: %w", richErr)
}

// Generations returns copies of the tracked generations for diagnostics.
func (m *ProfileKeyManager) Generations() []ProfileGeneration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProfileGeneration, 0, 3)
	for _, gen := range []*ProfileGeneration{m.active, m.previous, m.pending} {
		if gen != nil {
			out = append(out, *gen)
		}
	}
	return out
}
