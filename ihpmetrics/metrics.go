// metrics.go: Prometheus-backed observer for the capsule pipeline.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package ihpmetrics exports capsule pipeline counters and the timestamp
// skew distribution to Prometheus. Wire it into a pipeline with
// ihp.WithObserver(ihpmetrics.NewObserver(registerer)).
package ihpmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer implements ihp.Observer on top of Prometheus collectors.
//
// Failure counters are pre-initialized for every reason label the pipeline
// can emit, so dashboards see explicit zeroes instead of absent series.
type Observer struct {
	encryptSuccess prometheus.Counter
	encryptFailure *prometheus.CounterVec
	decryptSuccess prometheus.Counter
	decryptFailure *prometheus.CounterVec
	timestampSkew  prometheus.Histogram
}

// failureReasons mirrors the ihp.Reason* label constants. Duplicated here as
// plain strings to keep collector registration free of package cycles.
var failureReasons = []string{
	"version_rejected",
	"invalid_header",
	"header_mismatch",
	"drift_rejected",
	"aead_failure",
	"payload_too_large",
	"invalid_timestamp",
	"nonce_replayed",
	"cipher_init",
}

// NewObserver registers the capsule collectors against reg and returns the
// observer. Pass prometheus.DefaultRegisterer for the process-global
// registry; tests pass a fresh prometheus.NewRegistry().
func NewObserver(reg prometheus.Registerer) *Observer {
	factory := promauto.With(reg)

	o := &Observer{
		encryptSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "ihp_encrypt_success_total",
			Help: "Capsules sealed successfully.",
		}),
		encryptFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ihp_encrypt_failure_total",
			Help: "Capsule seal failures by reason.",
		}, []string{"reason"}),
		decryptSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "ihp_decrypt_success_total",
			Help: "Capsules opened successfully.",
		}),
		decryptFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ihp_decrypt_failure_total",
			Help: "Capsule open failures by reason.",
		}, []string{"reason"}),
		timestampSkew: factory.NewHistogram(prometheus.HistogramOpts{
			Name: "ihp_timestamp_skew_seconds",
			Help: "Absolute sender/receiver clock skew observed per capsule.",
			// Sub-second to a week: the drift cap ceiling.
			Buckets: prometheus.ExponentialBuckets(0.5, 4, 11),
		}),
	}

	for _, reason := range failureReasons {
		o.encryptFailure.WithLabelValues(reason)
		o.decryptFailure.WithLabelValues(reason)
	}
	return o
}

func (o *Observer) EncryptSuccess() { o.encryptSuccess.Inc() }

func (o *Observer) EncryptFailure(reason string) {
	o.encryptFailure.WithLabelValues(reason).Inc()
}

func (o *Observer) DecryptSuccess() { o.decryptSuccess.Inc() }

func (o *Observer) DecryptFailure(reason string) {
	o.decryptFailure.WithLabelValues(reason).Inc()
}

func (o *Observer) TimestampSkew(seconds float64) {
	o.timestampSkew.Observe(seconds)
}
