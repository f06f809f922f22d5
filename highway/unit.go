// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/validators"
)

// WireUnit is a unit's content, everything that is signed over.
type WireUnit struct {
	Creator    validators.Index
	InstanceID uint64
	SeqNumber  uint64
	Timestamp  uint64
	RoundExp   uint8
	Panorama   Panorama
	// Endorsed is the set of unit hashes this unit asserts are endorsed,
	// computed from State.SeenEndorsed(Panorama) at creation time.
	Endorsed []ids.ID
	// HasValue and Value together model the optional consensus value:
	// present only on a proposal unit, the first unit of a round cast by
	// its leader.
	HasValue bool
	Value    []byte
}

// SignedUnit is an immutable, signed WireUnit together with its cached
// canonical hash.
type SignedUnit struct {
	WireUnit
	Signature *bls.Signature

	hash    ids.ID
	hashSet bool
}

// NewSignedUnit signs w with secret and returns the resulting unit. The
// same RNG/nonce discipline secret.Sign applies is relied on by callers
// to guarantee the same unit is never signed twice with distinct
// signatures, which would self-frame the signer as an equivocator on
// retry.
func NewSignedUnit(w WireUnit, secret *bls.SecretKey) (*SignedUnit, error) {
	h := HashWireUnit(w)
	sig, err := secret.Sign(h[:])
	if err != nil {
		return nil, err
	}
	return &SignedUnit{WireUnit: w, Signature: sig, hash: h, hashSet: true}, nil
}

// Hash returns the canonical content hash, binding everything except
// the signature.
func (u *SignedUnit) Hash() ids.ID {
	if !u.hashSet {
		u.hash = HashWireUnit(u.WireUnit)
		u.hashSet = true
	}
	return u.hash
}

// VerifySignature checks the unit's signature against the creator's
// public key.
func (u *SignedUnit) VerifySignature(pk *bls.PublicKey) bool {
	h := u.Hash()
	return bls.Verify(pk, u.Signature, h[:])
}

// Unit is the protocol-state's internal record of an accepted unit: the
// signed wire content plus derived bookkeeping used by fork choice and
// panorama algebra.
type Unit struct {
	SignedUnit

	roundID  uint64
	roundLen uint64

	// cachedLatestBlock memoizes latestBlockOf for fork-choice weight
	// accounting; ids.Empty + latestBlockSet==false means "not yet
	// computed", ids.Empty + latestBlockSet==true means "no block yet".
	cachedLatestBlock ids.ID
	latestBlockSet    bool
}

func newUnit(su SignedUnit) *Unit {
	return &Unit{
		SignedUnit: su,
		roundID:    RoundID(su.Timestamp, su.RoundExp),
		roundLen:   RoundLen(su.RoundExp),
	}
}

// RoundID returns the id of the round this unit was cast in.
func (u *Unit) RoundID() uint64 { return u.roundID }

// RoundLen returns the length, in milliseconds, of the round this unit
// was cast in.
func (u *Unit) RoundLen() uint64 { return u.roundLen }

// Previous returns the hash of the creator's immediately preceding unit,
// if any (panorama[creator] for this unit).
func (u *Unit) Previous() (ids.ID, bool) {
	return u.Panorama.Get(u.Creator).Correct()
}

// NewHashObs reports whether this unit's panorama observes, for the
// first time relative to the creator's own previous unit, a unit by
// vidx: i.e. whether the creator of this unit just learned something new
// about vidx's fork. Used both to decide whether to endorse a unit (it
// proves its creator witnessed a specific side of an equivocation) and,
// symmetrically, to find which already-known units newly observe a
// perpetrator once their evidence arrives.
func (u *Unit) NewHashObs(s *State, vidx validators.Index) bool {
	obs := u.Panorama.Get(vidx)
	h, ok := obs.Correct()
	if !ok {
		return false
	}
	prevHash, hasPrev := u.Previous()
	if !hasPrev {
		return true
	}
	prevUnit, ok := s.unit(prevHash)
	if !ok {
		return true
	}
	prevObs := prevUnit.Panorama.Get(vidx)
	prevH, wasCorrect := prevObs.Correct()
	if !wasCorrect {
		return true
	}
	return prevH != h
}

// IsProposal reports whether this unit carries a consensus value.
func (u *Unit) IsProposal() bool { return u.HasValue }
