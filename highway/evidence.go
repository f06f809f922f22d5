// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"github.com/luxfi/highway/validators"
)

// Evidence is proof of equivocation: two units signed by the same
// creator at the same sequence number, with different hashes, both
// signatures valid.
type Evidence struct {
	Unit1 *SignedUnit
	Unit2 *SignedUnit
}

// Perpetrator returns the equivocating validator's index.
func (e *Evidence) Perpetrator() validators.Index {
	return e.Unit1.Creator
}

// Valid checks the structural shape of the evidence: same creator, same
// sequence number, different hashes. Signature validity is checked by
// the caller (State.AddEvidence), which has access to the validator
// set's public keys.
func (e *Evidence) Valid() bool {
	if e.Unit1 == nil || e.Unit2 == nil {
		return false
	}
	if e.Unit1.Creator != e.Unit2.Creator {
		return false
	}
	if e.Unit1.SeqNumber != e.Unit2.SeqNumber {
		return false
	}
	return e.Unit1.Hash() != e.Unit2.Hash()
}
