// observe.go: Observability hooks for capsule operations.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package ihp

// Observer receives counters and measurements from the capsule pipeline.
// Failure reasons are always one of the Reason* label constants, so metric
// label sets stay bounded. Implementations must be safe for concurrent use.
//
// The ihpmetrics package provides a Prometheus-backed implementation.
type Observer interface {
	EncryptSuccess()
	EncryptFailure(reason string)
	DecryptSuccess()
	DecryptFailure(reason string)

	// TimestampSkew records the absolute sender/receiver clock difference in
	// seconds, observed on every decrypt whose header parsed, including
	// rejected capsules.
	TimestampSkew(seconds float64)
}

// NopObserver discards every observation. It is the default when no observer
// is wired into a pipeline.
type NopObserver struct{}

func (NopObserver) EncryptSuccess()       {}
func (NopObserver) EncryptFailure(string) {}
func (NopObserver) DecryptSuccess()       {}
func (NopObserver) DecryptFailure(string) {}
func (NopObserver) TimestampSkew(float64) {}
