// server_test.go: Test cases for the HTTP auth surface.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihpserver_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/agilira/go-timecache"
	"github.com/sirupsen/logrus"

	"github.com/agilira/ihp"
	"github.com/agilira/ihp/ihpserver"
)

func nowUnix() int64 { return timecache.CachedTime().Unix() }

const testProfileID ihp.ServerProfileID = 42

var testExporter = []byte("tls exporter key material")

func testEnvironment() *ihp.ServerEnvironmentProfile {
	return &ihp.ServerEnvironmentProfile{
		CPUFingerprint:      "test-cpu",
		NICFingerprint:      "test-nic",
		OSFingerprint:       "test-os",
		AppBuildFingerprint: "test-build",
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testMasterKey() *ihp.MasterKey {
	var b [ihp.KeySize]byte
	for i := range b {
		b[i] = 0x11
	}
	return ihp.NewMasterKey(b)
}

func bootstrapServer(t *testing.T, replayProtection bool) (*ihpserver.Server, ihp.KeyProvider) {
	t.Helper()
	masterProvider := ihp.NewInMemoryMasterKeyProvider()
	t.Cleanup(func() { _ = masterProvider.Close() })
	if err := masterProvider.Register(testProfileID, testMasterKey()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	provider := ihp.NewHKDFKeyProvider(masterProvider)

	server, err := ihpserver.Bootstrap(ihpserver.Options{
		Config:           ihp.DefaultConfig(),
		Provider:         provider,
		ProfileID:        testProfileID,
		Environment:      testEnvironment(),
		Exporter:         ihpserver.StaticExporterSource(testExporter),
		Logger:           quietLogger(),
		ReplayProtection: replayProtection,
	})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return server, provider
}

func fetchProfile(t *testing.T, ts *httptest.Server) ihpserver.ProfileResponse {
	t.Helper()
	resp, err := http.Get(ts.URL + "/ihp/profile")
	if err != nil {
		t.Fatalf("profile request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d", resp.StatusCode)
	}
	var body ihpserver.ProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("profile body malformed: %v", err)
	}
	return body
}

// buildAuthCapsule seals a capsule bound to the advertised profile, using the
// same exporter material the test server is configured with.
func buildAuthCapsule(t *testing.T, provider ihp.KeyProvider, profile ihpserver.ProfileResponse, exporter []byte, nonceSeed byte) []byte {
	t.Helper()
	profileID, err := strconv.ParseUint(profile.ServerProfileID, 10, 64)
	if err != nil {
		t.Fatalf("profile id malformed: %v", err)
	}
	hashBytes, err := ihp.KeyFromBase64(profile.ServerEnvHashB64)
	if err != nil {
		t.Fatalf("env hash malformed: %v", err)
	}
	envHash, err := ihp.ServerEnvHashFromSlice(hashBytes)
	if err != nil {
		t.Fatalf("env hash malformed: %v", err)
	}

	var nonce ihp.ClientNonce
	for i := range nonce {
		nonce[i] = nonceSeed
	}
	netCtx := ihp.NetworkContext{RTTBucket: 3, PathHint: 120}
	cfg := ihp.DefaultConfig()

	sessionKey, err := provider.SessionKey(context.Background(), ihp.ServerProfileID(profileID),
		envHash, cfg.AeadAlgorithm(), exporter, nonce, netCtx)
	if err != nil {
		t.Fatalf("SessionKey failed: %v", err)
	}
	defer sessionKey.Destroy()

	in := ihp.CapsuleBuildInput{
		ProfileID:   ihp.ServerProfileID(profileID),
		EnvHash:     envHash,
		ClientNonce: nonce,
		NetCtx:      netCtx,
		Timestamp:   nowUnix(),
	}
	capsule, err := ihp.EncryptCapsule(cfg, sessionKey, in, []byte("auth payload"))
	if err != nil {
		t.Fatalf("EncryptCapsule failed: %v", err)
	}
	wire, err := capsule.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return wire
}

func postAuth(t *testing.T, ts *httptest.Server, wire []byte) (*http.Response, ihpserver.AuthResponse) {
	t.Helper()
	reqBody, _ := json.Marshal(ihpserver.AuthRequest{
		CapsuleB64: base64.StdEncoding.EncodeToString(wire),
	})
	resp, err := http.Post(ts.URL+"/ihp/auth", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("auth request failed: %v", err)
	}
	defer resp.Body.Close()
	var body ihpserver.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("auth body malformed: %v", err)
	}
	return resp, body
}

func TestServer_ProfileEndpoint(t *testing.T) {
	server, _ := bootstrapServer(t, false)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	profile := fetchProfile(t, ts)
	if profile.Version != 1 {
		t.Errorf("version = %d, want 1", profile.Version)
	}
	if profile.ServerProfileID != "42" {
		t.Errorf("profile id = %q, want 42", profile.ServerProfileID)
	}
	if hashBytes, err := ihp.KeyFromBase64(profile.ServerEnvHashB64); err != nil || len(hashBytes) != ihp.EnvHashLen {
		t.Errorf("env hash malformed: %v (%d bytes)", err, len(hashBytes))
	}
	if len(profile.SupportedAead) != 1 || profile.SupportedAead[0] != "AES256GCM" {
		t.Errorf("supported aead = %v", profile.SupportedAead)
	}
	if profile.MaxPayloadBytes != ihp.MaxPayloadBytes {
		t.Errorf("max payload = %d, want %d", profile.MaxPayloadBytes, ihp.MaxPayloadBytes)
	}
}

func TestServer_ProfileMethodNotAllowed(t *testing.T) {
	server, _ := bootstrapServer(t, false)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ihp/profile", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_AuthSuccess(t *testing.T) {
	server, provider := bootstrapServer(t, false)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	profile := fetchProfile(t, ts)
	wire := buildAuthCapsule(t, provider, profile, testExporter, 7)

	resp, body := postAuth(t, ts, wire)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auth status = %d, reason %q", resp.StatusCode, body.Reason)
	}
	if body.Status != "ok" || body.SessionToken == "" {
		t.Errorf("auth body = %+v", body)
	}
	if _, err := base64.RawURLEncoding.DecodeString(body.SessionToken); err != nil {
		t.Errorf("session token is not raw-url base64: %v", err)
	}
}

// Every rejection collapses to the same opaque 401 body regardless of cause.
func TestServer_AuthOpaqueFailures(t *testing.T) {
	server, provider := bootstrapServer(t, false)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()
	profile := fetchProfile(t, ts)

	goodWire := buildAuthCapsule(t, provider, profile, testExporter, 7)
	tamperedWire := append([]byte(nil), goodWire...)
	tamperedWire[len(tamperedWire)-1] ^= 0x01
	wrongExporterWire := buildAuthCapsule(t, provider, profile, []byte("not the exporter"), 8)

	cases := []struct {
		name string
		wire []byte
	}{
		{"tampered capsule", tamperedWire},
		{"wrong exporter", wrongExporterWire},
		{"garbage wire", []byte("not a capsule")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := postAuth(t, ts, tc.wire)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
			if body.Status != "error" || body.Reason != "invalid_credentials" {
				t.Errorf("body = %+v, want opaque invalid_credentials", body)
			}
			if body.SessionToken != "" {
				t.Error("rejection carried a session token")
			}
		})
	}
}

func TestServer_AuthMalformedBody(t *testing.T) {
	server, _ := bootstrapServer(t, false)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/ihp/auth", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestServer_AuthReplayRejected(t *testing.T) {
	server, provider := bootstrapServer(t, true)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	profile := fetchProfile(t, ts)
	wire := buildAuthCapsule(t, provider, profile, testExporter, 7)

	resp, _ := postAuth(t, ts, wire)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first auth status = %d", resp.StatusCode)
	}
	resp, body := postAuth(t, ts, wire)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("replayed auth status = %d, want 401", resp.StatusCode)
	}
	if body.Reason != "invalid_credentials" {
		t.Errorf("replay reason = %q, want opaque invalid_credentials", body.Reason)
	}
}

// derivationCountingProvider wraps a KeyProvider and counts session key
// derivations.
type derivationCountingProvider struct {
	inner       ihp.KeyProvider
	mu          sync.Mutex
	derivations int
}

func (p *derivationCountingProvider) ProfileKey(ctx context.Context, profileID ihp.ServerProfileID, envHash ihp.ServerEnvHash, suite ihp.AeadAlgorithm) (*ihp.ProfileKey, error) {
	return p.inner.ProfileKey(ctx, profileID, envHash, suite)
}

func (p *derivationCountingProvider) SessionKey(ctx context.Context, profileID ihp.ServerProfileID, envHash ihp.ServerEnvHash, suite ihp.AeadAlgorithm, exporter []byte, nonce ihp.ClientNonce, netCtx ihp.NetworkContext) (*ihp.SessionKey, error) {
	p.mu.Lock()
	p.derivations++
	p.mu.Unlock()
	return p.inner.SessionKey(ctx, profileID, envHash, suite, exporter, nonce, netCtx)
}

func (p *derivationCountingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.derivations
}

// A successful auth derives the session key exactly once; the token is bound
// to the same key that opened the capsule.
func TestServer_AuthSingleDerivation(t *testing.T) {
	masterProvider := ihp.NewInMemoryMasterKeyProvider()
	t.Cleanup(func() { _ = masterProvider.Close() })
	if err := masterProvider.Register(testProfileID, testMasterKey()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	counting := &derivationCountingProvider{inner: ihp.NewHKDFKeyProvider(masterProvider)}

	server, err := ihpserver.Bootstrap(ihpserver.Options{
		Config:      ihp.DefaultConfig(),
		Provider:    counting,
		ProfileID:   testProfileID,
		Environment: testEnvironment(),
		Exporter:    ihpserver.StaticExporterSource(testExporter),
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	profile := fetchProfile(t, ts)
	wire := buildAuthCapsule(t, counting, profile, testExporter, 7)
	sealDerivations := counting.count()

	resp, body := postAuth(t, ts, wire)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("auth status = %d, reason %q", resp.StatusCode, body.Reason)
	}
	if body.SessionToken == "" {
		t.Fatal("auth succeeded without a session token")
	}
	if got := counting.count() - sealDerivations; got != 1 {
		t.Errorf("auth derived the session key %d times, want 1", got)
	}
}

func TestSessionToken_Properties(t *testing.T) {
	raw := make([]byte, ihp.KeySize)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	key, err := ihp.SessionKeyFromSlice(raw)
	if err != nil {
		t.Fatalf("SessionKeyFromSlice failed: %v", err)
	}
	defer key.Destroy()

	var nonce ihp.ClientNonce
	for i := range nonce {
		nonce[i] = 7
	}

	t1, err := ihpserver.SessionToken(key, nonce, 1_700_000_000)
	if err != nil {
		t.Fatalf("SessionToken failed: %v", err)
	}
	t2, err := ihpserver.SessionToken(key, nonce, 1_700_000_000)
	if err != nil {
		t.Fatalf("SessionToken failed: %v", err)
	}
	if t1 != t2 {
		t.Error("token derivation is not deterministic")
	}

	t3, err := ihpserver.SessionToken(key, nonce, 1_700_000_001)
	if err != nil {
		t.Fatalf("SessionToken failed: %v", err)
	}
	if t1 == t3 {
		t.Error("timestamp change did not change the token")
	}

	var otherNonce ihp.ClientNonce
	otherNonce[0] = 1
	t4, err := ihpserver.SessionToken(key, otherNonce, 1_700_000_000)
	if err != nil {
		t.Fatalf("SessionToken failed: %v", err)
	}
	if t1 == t4 {
		t.Error("nonce change did not change the token")
	}
}

func TestBootstrap_RequiresConfigAndProvider(t *testing.T) {
	if _, err := ihpserver.Bootstrap(ihpserver.Options{}); err == nil {
		t.Error("Bootstrap should fail without config and provider")
	}
}
