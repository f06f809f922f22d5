// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package highwaytest builds deterministic, in-memory validator sets
// and protocol states for tests, wiring a no-op logger and registerer
// into a fresh component under test.
package highwaytest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

// Harness bundles a deterministic validator set, each validator's
// secret key, and a fresh protocol state built over them.
type Harness struct {
	Validators *validators.Set
	Secrets    []*bls.SecretKey
	State      *highway.State
	Params     config.Parameters
	InstanceID uint64
}

// NewHarness builds a Harness with one validator per entry of weights,
// each assigned a freshly generated BLS key and a deterministic test
// node ID, using params for the resulting State.
func NewHarness(weights []uint64, params config.Parameters) (*Harness, error) {
	secrets := make([]*bls.SecretKey, len(weights))
	vs := make([]validators.Validator, len(weights))
	for i, w := range weights {
		sk, err := bls.NewSecretKey()
		if err != nil {
			return nil, err
		}
		secrets[i] = sk
		vs[i] = validators.Validator{
			NodeID:    ids.GenerateTestNodeID(),
			PublicKey: sk.PublicKey(),
			Weight:    w,
		}
	}
	set, err := validators.NewSet(vs)
	if err != nil {
		return nil, err
	}
	const instanceID = 1
	state := highway.NewState(set, instanceID, params, NewNoOpLogger())
	return &Harness{
		Validators: set,
		Secrets:    secrets,
		State:      state,
		Params:     params,
		InstanceID: instanceID,
	}, nil
}

// NewNoOpLogger returns a logger that discards everything, for tests
// that don't care about log output.
func NewNoOpLogger() log.Logger { return log.NewNoOpLogger() }

// NewNoOpRegisterer returns a fresh prometheus.Registry: a real
// Registerer that accepts any collector, isolated per test so parallel
// tests never collide over global metric names.
func NewNoOpRegisterer() prometheus.Registerer { return prometheus.NewRegistry() }
