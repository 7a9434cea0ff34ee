// client.go: Client-side helpers for the capsule auth flow.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package ihpclient fetches a server's profile binding, measures the network
// context, and builds authentication capsules against it.
package ihpclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agilira/go-timecache"

	"github.com/agilira/ihp"
)

const (
	// rttSamples is how many profile round trips feed one RTT measurement.
	rttSamples = 4

	// rttBucketWidth maps measured round-trip time into coarse buckets.
	rttBucketWidth = 5 * time.Millisecond
)

// ServerProfile is the parsed GET /ihp/profile response.
type ServerProfile struct {
	Version         ihp.ProtocolVersion
	ProfileID       ihp.ServerProfileID
	EnvHash         ihp.ServerEnvHash
	SupportedAead   []string
	MaxPayloadBytes int
}

// Client talks to one IHP server.
type Client struct {
	baseURL  string
	http     *http.Client
	config   *ihp.Config
	provider ihp.KeyProvider
}

// New builds a client. httpClient nil means http.DefaultClient. The provider
// derives session keys on the client side; for the common case where the
// client holds the master key directly, wrap it with
// ihp.NewHKDFKeyProvider(ihp.NewInMemoryMasterKeyProvider()).
func New(baseURL string, httpClient *http.Client, config *ihp.Config, provider ihp.KeyProvider) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient, config: config, provider: provider}
}

// FetchProfile retrieves and parses the server's profile binding.
func (c *Client) FetchProfile(ctx context.Context) (*ServerProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ihp/profile", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed: status %d", resp.StatusCode)
	}

	var body struct {
		Version          uint8    `json:"version"`
		ServerProfileID  string   `json:"server_profile_id"`
		ServerEnvHashB64 string   `json:"server_env_hash_b64"`
		SupportedAead    []string `json:"supported_aead"`
		MaxPayloadBytes  int      `json:"max_payload_bytes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("profile response malformed: %w", err)
	}

	profileID, err := strconv.ParseUint(body.ServerProfileID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("profile id malformed: %w", err)
	}
	hashBytes, err := ihp.KeyFromBase64(body.ServerEnvHashB64)
	if err != nil {
		return nil, fmt.Errorf("env hash malformed: %w", err)
	}
	envHash, err := ihp.ServerEnvHashFromSlice(hashBytes)
	if err != nil {
		return nil, err
	}

	return &ServerProfile{
		Version:         ihp.ProtocolVersion(body.Version),
		ProfileID:       ihp.ServerProfileID(profileID),
		EnvHash:         envHash,
		SupportedAead:   body.SupportedAead,
		MaxPayloadBytes: body.MaxPayloadBytes,
	}, nil
}

// MeasureRTTBucket samples the profile endpoint and maps the mean round-trip
// time into a bucket (5 ms per bucket, clamped to [0, 255]).
func (c *Client) MeasureRTTBucket(ctx context.Context) (uint8, error) {
	var total time.Duration
	for i := 0; i < rttSamples; i++ {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ihp/profile", nil)
		if err != nil {
			return 0, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("rtt sample failed: %w", err)
		}
		resp.Body.Close()
		total += time.Since(start)
	}

	mean := total / rttSamples
	bucket := int64(mean / rttBucketWidth)
	if bucket > 255 {
		bucket = 255
	}
	return uint8(bucket), nil
}

// CapsuleBuildOptions tunes capsule construction. The zero value measures
// nothing and must at least set PathHint.
type CapsuleBuildOptions struct {
	// RTTBucket overrides measurement when RTTBucketSet is true.
	RTTBucket    uint8
	RTTBucketSet bool

	// PathHint is required; zero is a reserved value the protocol rejects.
	PathHint uint16

	// Timestamp overrides the current time when non-zero. Fixture use.
	Timestamp int64

	// ClientNonce overrides random generation when set. Fixture use.
	ClientNonce    ihp.ClientNonce
	ClientNonceSet bool
}

// BuildCapsule derives a session key against the server profile and seals
// the payload into encoded wire bytes.
func (c *Client) BuildCapsule(ctx context.Context, profile *ServerProfile, exporter []byte, payload []byte, opts CapsuleBuildOptions) ([]byte, error) {
	nonce := opts.ClientNonce
	if !opts.ClientNonceSet {
		generated, err := ihp.GenerateClientNonce()
		if err != nil {
			return nil, err
		}
		nonce = generated
	}

	rttBucket := opts.RTTBucket
	if !opts.RTTBucketSet {
		measured, err := c.MeasureRTTBucket(ctx)
		if err != nil {
			return nil, err
		}
		rttBucket = measured
	}

	netCtx := ihp.NetworkContext{RTTBucket: rttBucket, PathHint: opts.PathHint}
	sessionKey, err := c.provider.SessionKey(ctx, profile.ProfileID, profile.EnvHash,
		c.config.AeadAlgorithm(), exporter, nonce, netCtx)
	if err != nil {
		return nil, err
	}
	defer sessionKey.Destroy()

	timestamp := opts.Timestamp
	if timestamp == 0 {
		timestamp = timecache.CachedTime().Unix()
	}
	in := ihp.CapsuleBuildInput{
		ProfileID:   profile.ProfileID,
		EnvHash:     profile.EnvHash,
		ClientNonce: nonce,
		NetCtx:      netCtx,
		Timestamp:   timestamp,
	}
	capsule, err := ihp.EncryptCapsule(c.config, sessionKey, in, payload)
	if err != nil {
		return nil, err
	}
	return capsule.Encode()
}

// Authenticate builds a capsule for the payload and posts it to /ihp/auth,
// returning the issued session token.
func (c *Client) Authenticate(ctx context.Context, profile *ServerProfile, exporter []byte, payload []byte, opts CapsuleBuildOptions) (string, error) {
	wire, err := c.BuildCapsule(ctx, profile, exporter, payload, opts)
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(map[string]string{
		"capsule_b64": base64.StdEncoding.EncodeToString(wire),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ihp/auth", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status       string `json:"status"`
		SessionToken string `json:"session_token"`
		Reason       string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("auth response malformed: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		return "", fmt.Errorf("authentication rejected: %s", body.Reason)
	}
	return body.SessionToken, nil
}
