// hsm.go: HSM-backed master key custody for profile-key derivation.
//
// This module provides a plugin-based architecture powered by
// github.com/agilira/go-plugins for keeping master keys hardware-resident.
// Stage-one derivation (master key to profile key) runs inside the HSM, so
// master key bytes never enter process memory; stage-two derivation stays in
// software because session keys are ephemeral by design.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	goplugins "github.com/agilira/go-plugins"
)

// HSMCapability represents specific HSM capabilities relevant to capsule
// key custody.
type HSMCapability string

const (
	CapabilityKeyDerivation    HSMCapability = "key_derivation"     // HKDF inside the module
	CapabilityRandomGeneration HSMCapability = "random_generation"  // Hardware RNG
	CapabilitySecureKeyStorage HSMCapability = "secure_key_storage" // Hardware-backed master keys
	CapabilityTamperEvidence   HSMCapability = "tamper_evidence"    // Tamper detection
)

// HSMKeyRef identifies a master key slot inside an HSM. The mapping from
// server profile id to key slot is provisioning-time configuration.
type HSMKeyRef struct {
	ProviderName string `json:"provider_name"` // HSM provider (e.g., "pkcs11", "aws-cloudhsm")
	KeyID        string `json:"key_id"`        // Key identifier inside the HSM
	Label        string `json:"label"`         // Human-readable label
}

// HSMProvider is the contract every HSM plugin implements for capsule key
// custody. Derivation output is the only key material that ever leaves the
// module.
type HSMProvider interface {
	// Provider Information
	Name() string
	Version() string
	Capabilities() []HSMCapability

	// Lifecycle Management
	Initialize(ctx context.Context, config map[string]interface{}) error
	Close() error
	IsHealthy() bool

	// DeriveProfileKey runs HKDF-SHA256 inside the module with the resident
	// master key as input keying material and returns KeySize output bytes.
	DeriveProfileKey(ctx context.Context, keyID string, salt []byte, info []byte) ([]byte, error)

	// GenerateRandom returns hardware-generated random bytes.
	GenerateRandom(ctx context.Context, length int) ([]byte, error)
}

// HSMRequest represents a request to an HSM provider plugin.
type HSMRequest struct {
	Operation  string                 `json:"operation"`  // Operation type (derive_profile_key, random)
	KeyID      string                 `json:"key_id"`     // Key identifier for the operation
	Salt       []byte                 `json:"salt"`       // HKDF salt (environment hash)
	Info       []byte                 `json:"info"`       // HKDF context info
	Length     int                    `json:"length"`     // Requested output length
	Parameters map[string]interface{} `json:"parameters"` // Provider-specific parameters
}

// HSMResponse represents a response from an HSM provider plugin.
type HSMResponse struct {
	Success  bool                   `json:"success"`  // Operation success status
	Data     []byte                 `json:"data"`     // Derived or generated bytes
	Error    string                 `json:"error"`    // Error message (if any)
	Metadata map[string]interface{} `json:"metadata"` // Response metadata
}

// HSMManagerConfig provides configuration for the HSM manager.
type HSMManagerConfig struct {
	DefaultProvider     string                            `json:"default_provider"`      // Default HSM provider to use
	ProviderConfigs     map[string]map[string]interface{} `json:"provider_configs"`      // Per-provider configurations
	KeyRefs             map[ServerProfileID]HSMKeyRef     `json:"key_refs"`              // Profile id to key slot mapping
	HealthCheckInterval time.Duration                     `json:"health_check_interval"` // Health check frequency
	OperationTimeout    time.Duration                     `json:"operation_timeout"`     // Default operation timeout
}

// Common HSM errors with proper error codes for auditing.
var (
	ErrHSMNotInitialized    = goerrors.New("IHP_HSM_001", "HSM provider not initialized")
	ErrHSMKeyNotFound       = goerrors.New("IHP_HSM_002", "key not found in HSM")
	ErrHSMOperationFailed   = goerrors.New("IHP_HSM_003", "HSM operation failed")
	ErrHSMProviderNotFound  = goerrors.New("IHP_HSM_004", "HSM provider not found")
	ErrHSMHealthCheckFailed = goerrors.New("IHP_HSM_005", "HSM health check failed")
	ErrHSMBadDerivation     = goerrors.New("IHP_HSM_006", "HSM returned malformed derivation output")
)

// HSMManager manages HSM providers using the go-plugins framework.
type HSMManager struct {
	mu              sync.RWMutex
	pluginManager   *goplugins.Manager[HSMRequest, HSMResponse] // Plugin manager for HSM providers
	activeProviders map[string]HSMProvider                      // Active HSM provider instances
	defaultProvider string                                      // Default provider name
	config          *HSMManagerConfig                           // Manager configuration
}

// NewHSMManager creates a new HSM manager with plugin support.
func NewHSMManager(config *HSMManagerConfig, pluginManager *goplugins.Manager[HSMRequest, HSMResponse]) (*HSMManager, error) {
	if config == nil {
		config = &HSMManagerConfig{
			HealthCheckInterval: 30 * time.Second,
			OperationTimeout:    10 * time.Second,
		}
	}
	return &HSMManager{
		pluginManager:   pluginManager,
		activeProviders: make(map[string]HSMProvider),
		config:          config,
	}, nil
}

// RegisterProvider initializes and registers an HSM provider.
func (h *HSMManager) RegisterProvider(name string, provider HSMProvider) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	ctx := context.Background()
	if timeout := h.config.OperationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	providerConfig := h.config.ProviderConfigs[name]
	if err := provider.Initialize(ctx, providerConfig); err != nil {
		return fmt.Errorf("failed to initialize HSM provider %s: %w", name, err)
	}

	h.activeProviders[name] = provider

	if h.defaultProvider == "" || h.config.DefaultProvider == name {
		h.defaultProvider = name
	}
	return nil
}

// GetProvider returns a healthy HSM provider by name, or the default when
// name is empty.
func (h *HSMManager) GetProvider(name string) (HSMProvider, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if name == "" {
		name = h.defaultProvider
	}
	provider, exists := h.activeProviders[name]
	if !exists {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMProviderNotFound, name)
	}
	if !provider.IsHealthy() {
		return nil, fmt.Errorf("%w: provider %s", ErrHSMHealthCheckFailed, name)
	}
	return provider, nil
}

// KeyRef resolves the key slot configured for a server profile.
func (h *HSMManager) KeyRef(profileID ServerProfileID) (HSMKeyRef, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ref, ok := h.config.KeyRefs[profileID]
	if !ok {
		return HSMKeyRef{}, fmt.Errorf("%w: no key slot for profile %d", ErrHSMKeyNotFound, profileID)
	}
	return ref, nil
}

// Close shuts down all HSM providers.
func (h *HSMManager) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, provider := range h.activeProviders {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close HSM provider %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close some HSM providers: %v", errs)
	}
	return nil
}

// HSMKeyProvider implements KeyProvider with stage-one derivation inside the
// HSM. The master key never materializes in process memory; only the derived
// profile key crosses the module boundary, already scoped to one host
// environment.
type HSMKeyProvider struct {
	manager *HSMManager
}

// NewHSMKeyProvider wraps an HSM manager as a KeyProvider.
func NewHSMKeyProvider(manager *HSMManager) *HSMKeyProvider {
	return &HSMKeyProvider{manager: manager}
}

// ProfileKey derives the stage-one key inside the HSM.
func (p *HSMKeyProvider) ProfileKey(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash, suite AeadAlgorithm) (*ProfileKey, error) {
	ref, err := p.manager.KeyRef(profileID)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeProvider, "key slot lookup failed")
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	provider, err := p.manager.GetProvider(ref.ProviderName)
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeProvider, "HSM provider unavailable")
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}

	okm, err := provider.DeriveProfileKey(ctx, ref.KeyID, envHash[:], profileInfo(suite))
	if err != nil {
		richErr := goerrors.Wrap(err, ErrCodeProvider, "HSM derivation failed")
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	if len(okm) != KeySize {
		Zeroize(okm)
		richErr := goerrors.Wrap(ErrHSMBadDerivation, ErrCodeProvider, fmt.Sprintf("expected %d bytes, got %d", KeySize, len(okm)))
		return nil, fmt.Errorf("%w: %w", ErrProvider, richErr)
	}
	return ProfileKeyFromSlice(okm)
}

// SessionKey derives stage one in the HSM and stage two in software. The
// intermediate profile key is destroyed before returning.
func (p *HSMKeyProvider) SessionKey(ctx context.Context, profileID ServerProfileID, envHash ServerEnvHash, suite AeadAlgorithm, exporter []byte, nonce ClientNonce, netCtx NetworkContext) (*SessionKey, error) {
	profileKey, err := p.ProfileKey(ctx, profileID, envHash, suite)
	if err != nil {
		return nil, err
	}
	defer profileKey.Destroy()
	return DeriveSessionKey(profileKey, exporter, nonce, netCtx, profileID, suite)
}
