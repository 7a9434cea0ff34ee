// Package ihp implements the Integrity-Hardened Protocol (IHP): a secure
// session and capsule layer that binds encrypted payloads to a server's
// hardware environment, its network context, and a transport channel.
//
// This package offers the full protocol surface:
//   - Two-stage HKDF-SHA256 key hierarchy (master key -> profile key ->
//     session key) with domain-separated labels
//   - AES-256-GCM capsule sealing and opening with every header field
//     authenticated as additional data
//   - BLAKE3 server environment hashing over CPU, NIC, OS, and build
//     fingerprints, with optional TPM quote
//   - Zeroizing secret containers with scoped byte access and redacted
//     formatting
//   - Pluggable master key custody: in-memory for tests, HSM-resident via
//     the go-plugins architecture for production
//   - Zero-downtime profile generation rotation for environment changes
//   - Optional replay tracking and observability hooks on the pipeline
//
// # Quick Start
//
// Sealing and opening a capsule with an in-memory master key:
//
//	master, err := ihp.GenerateMasterKey()
//	if err != nil {
//		log.Fatal(err)
//	}
//	provider := ihp.NewInMemoryMasterKeyProvider()
//	provider.Register(42, master)
//	defer provider.Close()
//
//	sep, err := ihp.DetectEnvironmentProfile()
//	if err != nil {
//		log.Fatal(err)
//	}
//	envHash, err := ihp.ComputeServerEnvHash(sep)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	config := ihp.DefaultConfig()
//	pipeline := ihp.NewPipeline(config, ihp.NewHKDFKeyProvider(provider),
//		ihp.FixedEnvHash(42, envHash))
//
//	nonce, _ := ihp.GenerateClientNonce()
//	req := ihp.SealRequest{
//		ProfileID:   42,
//		EnvHash:     envHash,
//		ClientNonce: nonce,
//		NetCtx:      ihp.NetworkContext{RTTBucket: 2, PathHint: 120},
//		Exporter:    exporterMaterial,
//	}
//	wire, err := pipeline.Seal(ctx, req, []byte("payload"))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	plaintext, err := pipeline.Open(ctx, wire, exporterMaterial)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Error Handling
//
// All functions return standard Go errors usable with errors.Is. Rich error
// details are attached through github.com/agilira/go-errors. The decrypt
// pipeline surfaces distinct sentinels (ErrVersionRejected, ErrHeaderMismatch,
// ErrDriftRejected, ErrAeadFailure, ...) for observability, but only
// ErrAeadFailure is authoritative: every rejection before tag verification is
// based on unauthenticated header bytes.
//
// # Security Considerations
//
//   - Session keys are ephemeral; destroy them with Destroy immediately after
//     the capsule operation (the Pipeline does this automatically)
//   - A fresh random AEAD nonce is generated per encryption and is distinct
//     from the protocol-level client nonce
//   - Secret containers zeroize on Destroy, redact in formatting, and refuse
//     JSON serialization
//   - The environment hash comparison is constant-time
//   - Replay rejection, when enabled, runs only after AEAD verification so
//     forged capsules cannot burn nonces
//
// Subpackages provide the HTTP collaborators (ihpserver, ihpclient), a
// Prometheus observer (ihpmetrics), and a golden-fixture generator
// (cmd/ihp-fixture).
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package ihp
