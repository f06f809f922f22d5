// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes the Highway engine's Prometheus
// instrumentation: per-component gauges and counters registered
// against a shared Registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges one engine instance reports.
type Metrics struct {
	unitsProduced      prometheus.Counter
	unitsAccepted      prometheus.Counter
	equivocations      prometheus.Counter
	endorsementsSent   prometheus.Counter
	blocksFinalized    prometheus.Counter
	finalizedHeight    prometheus.Gauge
	roundExponent      prometheus.Gauge
	pendingValidations prometheus.Gauge
}

// New builds and registers a Metrics instance against registerer,
// namespacing every series under "highway_".
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		unitsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_units_produced",
			Help: "Number of units this validator has signed and emitted.",
		}),
		unitsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_units_accepted",
			Help: "Number of units accepted into protocol state.",
		}),
		equivocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_equivocations_detected",
			Help: "Number of distinct validators proved to equivocate.",
		}),
		endorsementsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_endorsements_sent",
			Help: "Number of endorsements this validator has signed.",
		}),
		blocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_blocks_finalized",
			Help: "Number of blocks the finality detector has finalized.",
		}),
		finalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highway_finalized_height",
			Help: "Height of the most recently finalized block.",
		}),
		roundExponent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highway_round_exponent",
			Help: "This validator's current round exponent.",
		}),
		pendingValidations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highway_pending_block_validations",
			Help: "Number of outstanding block-validation requests.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.unitsProduced, m.unitsAccepted, m.equivocations,
		m.endorsementsSent, m.blocksFinalized, m.finalizedHeight,
		m.roundExponent, m.pendingValidations,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UnitProduced records that this validator signed and emitted a unit.
func (m *Metrics) UnitProduced() { m.unitsProduced.Inc() }

// UnitAccepted records that a unit (ours or a peer's) was accepted.
func (m *Metrics) UnitAccepted() { m.unitsAccepted.Inc() }

// EquivocationDetected records a newly proved equivocator.
func (m *Metrics) EquivocationDetected() { m.equivocations.Inc() }

// EndorsementSent records that this validator signed an endorsement.
func (m *Metrics) EndorsementSent() { m.endorsementsSent.Inc() }

// BlockFinalized records a newly finalized block at height.
func (m *Metrics) BlockFinalized(height uint64) {
	m.blocksFinalized.Inc()
	m.finalizedHeight.Set(float64(height))
}

// SetRoundExponent updates the current round exponent gauge.
func (m *Metrics) SetRoundExponent(exp uint8) { m.roundExponent.Set(float64(exp)) }

// SetPendingValidations updates the outstanding block-validation gauge.
func (m *Metrics) SetPendingValidations(n int) { m.pendingValidations.Set(float64(n)) }
