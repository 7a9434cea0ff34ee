// server.go: HTTP collaborator exposing the capsule auth surface.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package ihpserver exposes the two protocol endpoints over HTTP:
// GET /ihp/profile advertises the server's profile binding, and
// POST /ihp/auth opens a capsule and answers with a session token.
package ihpserver

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"

	"github.com/agilira/ihp"
)

// tokenLabel is the HKDF domain label for session tokens. Part of the v1
// protocol definition.
var tokenLabel = []byte("IHP_SESSION_TOKEN:v1")

// ExporterSource supplies the TLS exporter material binding a request's
// session to its transport channel.
type ExporterSource interface {
	Exporter(r *http.Request) ([]byte, error)
}

// TLSExporterSource extracts RFC 5705 exporter material from the request's
// TLS connection. The only production source.
type TLSExporterSource struct {
	// Label is the exporter label; empty means "EXPORTER-IHP-v1".
	Label string
}

func (s TLSExporterSource) Exporter(r *http.Request) ([]byte, error) {
	if r.TLS == nil {
		return nil, fmt.Errorf("request is not over TLS")
	}
	label := s.Label
	if label == "" {
		label = "EXPORTER-IHP-v1"
	}
	return r.TLS.ExportKeyingMaterial(label, nil, ihp.KeySize)
}

// StaticExporterSource returns fixed exporter material for every request.
// Development and test use only; it does not bind sessions to a channel.
type StaticExporterSource []byte

func (s StaticExporterSource) Exporter(*http.Request) ([]byte, error) {
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

// RandomExporterSource generates fresh random material per request. Useful
// only to exercise the failure path in development; no client can match it.
type RandomExporterSource struct{}

func (RandomExporterSource) Exporter(*http.Request) ([]byte, error) {
	out := make([]byte, ihp.KeySize)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Options configures a Server. Config, Provider, and ProfileID are required;
// everything else has a working default.
type Options struct {
	Config    *ihp.Config
	Provider  ihp.KeyProvider
	ProfileID ihp.ServerProfileID

	// Environment is the server environment profile to bind. Nil means
	// detect from the running host.
	Environment *ihp.ServerEnvironmentProfile

	// Exporter supplies per-request TLS exporter material. Nil means
	// TLSExporterSource{}.
	Exporter ExporterSource

	Logger   *logrus.Logger
	Observer ihp.Observer

	// ReplayProtection enables the in-memory nonce tracker on the auth
	// endpoint.
	ReplayProtection bool
}

// Server holds the bootstrapped protocol state behind the HTTP handlers.
type Server struct {
	config   *ihp.Config
	profiles *ihp.ProfileKeyManager
	pipeline *ihp.Pipeline
	exporter ExporterSource
	log      *logrus.Logger

	profileID ihp.ServerProfileID
	envHash   ihp.ServerEnvHash
}

// Bootstrap detects (or accepts) the server environment, computes its hash,
// activates the initial profile generation, and wires the capsule pipeline.
func Bootstrap(opts Options) (*Server, error) {
	if opts.Config == nil || opts.Provider == nil {
		return nil, fmt.Errorf("%w: server requires a config and a key provider", ihp.ErrConfig)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Exporter == nil {
		opts.Exporter = TLSExporterSource{}
	}

	sep := opts.Environment
	if sep == nil {
		detected, err := ihp.DetectEnvironmentProfile()
		if err != nil {
			return nil, fmt.Errorf("environment detection failed: %w", err)
		}
		sep = detected
	}
	envHash, err := ihp.ComputeServerEnvHashForConfig(sep, opts.Config)
	if err != nil {
		return nil, fmt.Errorf("environment hash failed: %w", err)
	}

	profiles := ihp.NewProfileKeyManager(opts.Provider, opts.Config)
	if err := profiles.Activate(opts.ProfileID, envHash); err != nil {
		return nil, err
	}

	pipelineOpts := []ihp.PipelineOption{}
	if opts.Observer != nil {
		pipelineOpts = append(pipelineOpts, ihp.WithObserver(opts.Observer))
	}
	if opts.ReplayProtection {
		pipelineOpts = append(pipelineOpts, ihp.WithNonceTracker(ihp.NewMemoryNonceTracker(opts.Config)))
	}
	pipeline := ihp.NewPipeline(opts.Config, opts.Provider, profiles.ResolveEnvHash, pipelineOpts...)

	opts.Logger.WithFields(logrus.Fields{
		"profile_id": uint64(opts.ProfileID),
		"env_hash":   ihp.KeyToBase64(envHash[:]),
	}).Info("ihp server bootstrapped")

	return &Server{
		config:    opts.Config,
		profiles:  profiles,
		pipeline:  pipeline,
		exporter:  opts.Exporter,
		log:       opts.Logger,
		profileID: opts.ProfileID,
		envHash:   envHash,
	}, nil
}

// Profiles exposes the generation manager for operational rotation.
func (s *Server) Profiles() *ihp.ProfileKeyManager { return s.profiles }

// Router returns an http.Handler with the protocol routes installed.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ihp/profile", s.handleProfile)
	mux.HandleFunc("/ihp/auth", s.handleAuth)
	return mux
}

// ProfileResponse is the JSON body of GET /ihp/profile.
type ProfileResponse struct {
	Version            uint8    `json:"version"`
	ServerProfileID    string   `json:"server_profile_id"`
	ServerEnvHashB64   string   `json:"server_env_hash_b64"`
	ExpectedRTTBuckets [2]uint8 `json:"expected_rtt_buckets"`
	SupportedAead      []string `json:"supported_aead"`
	MaxPayloadBytes    int      `json:"max_payload_bytes"`
}

// AuthRequest is the JSON body of POST /ihp/auth. The capsule is the full
// encoded wire format, base64 standard encoding.
type AuthRequest struct {
	CapsuleB64 string `json:"capsule_b64"`
}

// AuthResponse is the JSON body of POST /ihp/auth.
type AuthResponse struct {
	Status       string `json:"status"`
	SessionToken string `json:"session_token,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	gen, err := s.profiles.Active()
	if err != nil {
		http.Error(w, "profile unavailable", http.StatusServiceUnavailable)
		return
	}
	resp := ProfileResponse{
		Version:            uint8(ihp.DefaultProtocolVersion),
		ServerProfileID:    strconv.FormatUint(uint64(gen.ProfileID), 10),
		ServerEnvHashB64:   ihp.KeyToBase64(gen.EnvHash[:]),
		ExpectedRTTBuckets: [2]uint8{0, 255},
		SupportedAead:      []string{s.config.AeadAlgorithm().String()},
		MaxPayloadBytes:    s.config.MaxPayloadBytes(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuth opens the posted capsule and answers with a session token.
//
// Every failure collapses to one opaque "invalid_credentials" response; the
// precise reason goes to logs and metrics, never to the peer.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	requestID := uuid.NewString()
	log := s.log.WithField("request_id", requestID)

	var req AuthRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(s.config.MaxPayloadBytes())+4096)).Decode(&req); err != nil {
		log.WithError(err).Warn("auth request body rejected")
		s.denyAuth(w)
		return
	}
	wire, err := base64.StdEncoding.DecodeString(req.CapsuleB64)
	if err != nil {
		log.WithError(err).Warn("auth capsule base64 rejected")
		s.denyAuth(w)
		return
	}

	exporter, err := s.exporter.Exporter(r)
	if err != nil {
		log.WithError(err).Error("exporter material unavailable")
		s.denyAuth(w)
		return
	}

	sess, err := s.pipeline.OpenSession(r.Context(), wire, exporter)
	if err != nil {
		log.WithField("reason", ihp.FailureReason(err)).Warn("capsule rejected")
		s.denyAuth(w)
		return
	}
	defer sess.SessionKey.Destroy()
	ihp.Zeroize(sess.Plaintext)

	token, err := SessionToken(sess.SessionKey, sess.Header.ClientNonce, sess.Header.Timestamp)
	if err != nil {
		log.WithError(err).Error("token derivation failed")
		s.denyAuth(w)
		return
	}

	log.WithField("profile_id", uint64(sess.Header.ProfileID)).Info("auth success")
	writeJSON(w, http.StatusOK, AuthResponse{Status: "ok", SessionToken: token})
}

func (s *Server) denyAuth(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, AuthResponse{Status: "error", Reason: "invalid_credentials"})
}

// SessionToken derives a URL-safe token cryptographically bound to the
// session: HKDF-SHA256 with the session key as input keying material and the
// client nonce plus capsule timestamp as context info. Without the session
// key the token cannot be predicted or reforged.
func SessionToken(sessionKey *ihp.SessionKey, nonce ihp.ClientNonce, timestamp int64) (string, error) {
	info := make([]byte, 0, len(tokenLabel)+ihp.ClientNonceLen+8)
	info = append(info, tokenLabel...)
	info = append(info, nonce[:]...)
	info = binary.LittleEndian.AppendUint64(info, uint64(timestamp))

	var token string
	err := sessionKey.WithBytes(func(ikm []byte) error {
		tokenBytes := make([]byte, ihp.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, nil, info), tokenBytes); err != nil {
			return err
		}
		token = base64.RawURLEncoding.EncodeToString(tokenBytes)
		ihp.Zeroize(tokenBytes)
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
