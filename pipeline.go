// pipeline.go: End-to-end capsule seal/open pipeline.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

import (
	"context"
	"fmt"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// EnvHashResolver maps a capsule's profile id to the environment hash the
// receiver expects for it. ProfileKeyManager.ResolveEnvHash satisfies this
// signature; a closure over a fixed hash works for single-profile setups.
type EnvHashResolver func(profileID ServerProfileID) (ServerEnvHash, error)

// FixedEnvHash returns a resolver that accepts exactly one profile binding.
func FixedEnvHash(profileID ServerProfileID, envHash ServerEnvHash) EnvHashResolver {
	return func(id ServerProfileID) (ServerEnvHash, error) {
		if id != profileID {
			richErr := goerrors.New(ErrCodeHeaderMismatch, fmt.Sprintf("capsule profile %d, expected %d", id, profileID))
			return ServerEnvHash{}, fmt.Errorf("%w: %w", ErrHeaderMismatch, richErr)
		}
		return envHash, nil
	}
}

// Pipeline bundles the protocol config, key provider, and optional
// observability and replay hooks into the two wire-facing operations: Seal
// and Open. A Pipeline is immutable after construction and safe for
// concurrent use.
type Pipeline struct {
	config   *Config
	provider KeyProvider
	observer Observer
	tracker  NonceTracker
	resolver EnvHashResolver
}

// PipelineOption customizes a Pipeline at construction.
type PipelineOption func(*Pipeline)

// WithObserver wires an observability sink into the pipeline.
func WithObserver(observer Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = observer }
}

// WithNonceTracker enables replay rejection. The tracker is consulted only
// after AEAD verification succeeds, so forged capsules cannot burn nonces.
func WithNonceTracker(tracker NonceTracker) PipelineOption {
	return func(p *Pipeline) { p.tracker = tracker }
}

// NewPipeline builds a pipeline. The resolver decides which environment hash
// each incoming profile id must carry.
func NewPipeline(config *Config, provider KeyProvider, resolver EnvHashResolver, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		config:   config,
		provider: provider,
		observer: NopObserver{},
		resolver: resolver,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SealRequest carries everything Seal needs beyond the payload.
type SealRequest struct {
	ProfileID   ServerProfileID
	EnvHash     ServerEnvHash
	ClientNonce ClientNonce
	NetCtx      NetworkContext
	// Exporter is the TLS exporter material binding the session to its
	// transport channel.
	Exporter []byte
}

// Seal derives the session key, encrypts the payload into a capsule, and
// returns the encoded wire bytes. The capsule timestamp is the current time;
// the session key is destroyed before returning.
func (p *Pipeline) Seal(ctx context.Context, req SealRequest, payload []byte) ([]byte, error) {
	out, err := p.seal(ctx, req, payload)
	if err != nil {
		p.observer.EncryptFailure(FailureReason(err))
		return nil, err
	}
	p.observer.EncryptSuccess()
	return out, nil
}

func (p *Pipeline) seal(ctx context.Context, req SealRequest, payload []byte) ([]byte, error) {
	sessionKey, err := p.provider.SessionKey(ctx, req.ProfileID, req.EnvHash, p.config.AeadAlgorithm(), req.Exporter, req.ClientNonce, req.NetCtx)
	if err != nil {
		return nil, err
	}
	defer sessionKey.Destroy()

	in := CapsuleBuildInput{
		ProfileID:   req.ProfileID,
		EnvHash:     req.EnvHash,
		ClientNonce: req.ClientNonce,
		NetCtx:      req.NetCtx,
		Timestamp:   timecache.CachedTime().Unix(),
	}
	capsule, err := EncryptCapsule(p.config, sessionKey, in, payload)
	if err != nil {
		return nil, err
	}
	return capsule.Encode()
}

// Session is the outcome of a successful OpenSession: the decrypted payload,
// the authenticated capsule header, and the session key the capsule verified
// under. The caller owns the key and destroys it when the session ends.
type Session struct {
	Plaintext  []byte
	Header     CapsuleHeader
	SessionKey *SessionKey
}

// Open decodes, validates, and decrypts a wire capsule, returning the
// plaintext payload. The session key is derived and destroyed internally;
// callers that need the key or the authenticated header use OpenSession.
//
// The validation order is fixed: decode bounds, version allow-list,
// environment hash resolution and comparison, timestamp drift, AEAD
// verification, then replay tracking. Replay runs last so only authentic
// capsules can mark a nonce as seen.
func (p *Pipeline) Open(ctx context.Context, data []byte, exporter []byte) ([]byte, error) {
	sess, err := p.OpenSession(ctx, data, exporter)
	if err != nil {
		return nil, err
	}
	sess.SessionKey.Destroy()
	return sess.Plaintext, nil
}

// OpenSession is Open but keeps the derived session key alive for the caller,
// who uses it for follow-up work bound to the session (token derivation,
// response sealing) and must Destroy it afterwards. The returned header has
// passed AEAD verification and may be trusted.
func (p *Pipeline) OpenSession(ctx context.Context, data []byte, exporter []byte) (*Session, error) {
	sess, err := p.openSession(ctx, data, exporter)
	if err != nil {
		p.observer.DecryptFailure(FailureReason(err))
		return nil, err
	}
	p.observer.DecryptSuccess()
	return sess, nil
}

func (p *Pipeline) openSession(ctx context.Context, data []byte, exporter []byte) (*Session, error) {
	capsule, err := DecodeCapsule(data)
	if err != nil {
		return nil, err
	}
	header := &capsule.Header

	expectedHash, err := p.resolver(header.ProfileID)
	if err != nil {
		return nil, err
	}

	sessionKey, err := p.provider.SessionKey(ctx, header.ProfileID, expectedHash, p.config.AeadAlgorithm(), exporter, header.ClientNonce, header.NetCtx)
	if err != nil {
		return nil, err
	}

	now := timecache.CachedTime().Unix()
	plaintext, skew, err := decryptCapsuleMeasured(p.config, sessionKey, capsule, expectedHash, now)
	if skew >= 0 {
		p.observer.TimestampSkew(skew)
	}
	if err != nil {
		sessionKey.Destroy()
		return nil, err
	}

	if p.tracker != nil && p.tracker.Seen(header.ClientNonce) {
		sessionKey.Destroy()
		Zeroize(plaintext)
		richErr := goerrors.New(ErrCodeNonceReplay, "client nonce already consumed")
		return nil, fmt.Errorf("%w: %w", ErrNonceReplayed, richErr)
	}
	return &Session{Plaintext: plaintext, Header: *header, SessionKey: sessionKey}, nil
}
