// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PublicDesk Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/publicdesk/identity/internal/auth"
)

// Metrics holds the identity service counters. It implements auth.Recorder.
type Metrics struct {
	OperationsTotal           *prometheus.CounterVec
	OTPVerificationsTotal     *prometheus.CounterVec
	OTPPurgedTotal            prometheus.Counter
	NotificationFailuresTotal *prometheus.CounterVec
}

var _ auth.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers the identity metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_auth_operations_total",
				Help: "Total number of account operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		OTPVerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_otp_verifications_total",
				Help: "Total number of one-time code verifications by outcome",
			},
			[]string{"outcome"},
		),
		OTPPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "identity_otp_purged_total",
				Help: "Total number of expired one-time codes deleted",
			},
		),
		NotificationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_notification_failures_total",
				Help: "Total number of failed code deliveries by channel",
			},
			[]string{"channel"},
		),
	}

	reg.MustRegister(
		m.OperationsTotal,
		m.OTPVerificationsTotal,
		m.OTPPurgedTotal,
		m.NotificationFailuresTotal,
	)
	return m
}

// RecordOperation implements auth.Recorder.
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordOTPVerification implements auth.Recorder.
func (m *Metrics) RecordOTPVerification(outcome string) {
	m.OTPVerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordOTPPurged implements auth.Recorder.
func (m *Metrics) RecordOTPPurged(n int64) {
	if n > 0 {
		m.OTPPurgedTotal.Add(float64(n))
	}
}

// RecordNotificationFailure implements auth.Recorder.
func (m *Metrics) RecordNotificationFailure(channel string) {
	m.NotificationFailuresTotal.WithLabelValues(channel).Inc()
}
