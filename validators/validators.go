// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package validators holds the era-scoped, immutable validator set the
// Highway engine runs over: a dense index space, per-validator weight
// and public key, and deterministic weighted leader selection.
package validators

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

// ErrEmptySet is returned by NewSet when given no validators.
var ErrEmptySet = errors.New("validator set must not be empty")

// ErrZeroWeight is returned by NewSet when a validator carries zero weight.
var ErrZeroWeight = errors.New("validator weight must be > 0")

// Index is a dense index into the era's validator set, in [0, N).
type Index uint16

// Validator is one era participant: a public key and an integer weight.
type Validator struct {
	NodeID    ids.NodeID
	PublicKey *bls.PublicKey
	Weight    uint64
}

// Set is the immutable, era-scoped validator set. It is safe for
// concurrent read-only use once constructed.
type Set struct {
	validators  []Validator
	totalWeight uint64
	// cumWeight[i] is the sum of validators[0..i].Weight inclusive; used
	// for deterministic leader selection.
	cumWeight []uint64
}

// NewSet builds a validator set from a slice of validators in index order:
// the i-th element of vs becomes validator Index(i).
func NewSet(vs []Validator) (*Set, error) {
	if len(vs) == 0 {
		return nil, ErrEmptySet
	}
	cum := make([]uint64, len(vs))
	var total uint64
	for i, v := range vs {
		if v.Weight == 0 {
			return nil, ErrZeroWeight
		}
		total += v.Weight
		cum[i] = total
	}
	out := make([]Validator, len(vs))
	copy(out, vs)
	return &Set{validators: out, totalWeight: total, cumWeight: cum}, nil
}

// Len returns the number of validators, N.
func (s *Set) Len() int { return len(s.validators) }

// TotalWeight returns the sum of all validator weights.
func (s *Set) TotalWeight() uint64 { return s.totalWeight }

// Weight returns the weight of the validator at idx.
func (s *Set) Weight(idx Index) uint64 { return s.validators[int(idx)].Weight }

// Get returns the validator at idx.
func (s *Set) Get(idx Index) Validator { return s.validators[int(idx)] }

// Leader deterministically picks a validator index, weighted by stake,
// from a 64-bit seed. Given the same seed and validator set, every node
// computes the same leader: a cumulative-weight walk over the sorted
// weight table, keyed by `seed` rather than an RNG draw, so that
// leader(round) is reproducible without shared randomness.
func (s *Set) Leader(seed uint64) Index {
	if s.totalWeight == 0 {
		return 0
	}
	target := seed % s.totalWeight
	// First cumulative weight strictly greater than target owns this slot.
	lo, hi := 0, len(s.cumWeight)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if s.cumWeight[mid] > target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return Index(lo)
}

// LeaderSeed derives the deterministic 64-bit seed used by Leader from
// an era instance id and a round id, folding the two fields with
// FNV-1a. Every validator must derive the same seed from the same
// inputs for leader selection to agree across the network.
func LeaderSeed(instanceID uint64, roundID uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], instanceID)
	binary.LittleEndian.PutUint64(buf[8:16], roundID)
	for _, b := range buf {
		h ^= uint64(b)
		h *= prime64
	}
	return h
}
