// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/validators"
)

// Endorsement is a declaration that Endorser has observed UnitHash. Many
// endorsements of the same unit accumulate into an aggregated tally in
// State; this is the unsigned content that gets hashed and signed.
type Endorsement struct {
	UnitHash ids.ID
	Endorser validators.Index
}

// Hash returns the content hash an endorsement signature binds.
func (e Endorsement) Hash() ids.ID {
	return HashEndorsement(e)
}

// SignedEndorsement pairs an Endorsement with its endorser's signature.
type SignedEndorsement struct {
	Endorsement
	Signature *bls.Signature
}

// NewSignedEndorsement signs an endorsement of unitHash by endorser.
func NewSignedEndorsement(unitHash ids.ID, endorser validators.Index, secret *bls.SecretKey) (*SignedEndorsement, error) {
	e := Endorsement{UnitHash: unitHash, Endorser: endorser}
	h := e.Hash()
	sig, err := secret.Sign(h[:])
	if err != nil {
		return nil, err
	}
	return &SignedEndorsement{Endorsement: e, Signature: sig}, nil
}

// VerifySignature checks the endorsement's signature against the
// endorser's public key.
func (se *SignedEndorsement) VerifySignature(pk *bls.PublicKey) bool {
	h := se.Hash()
	return bls.Verify(pk, se.Signature, h[:])
}

// Endorsements is a batch of signed endorsements, possibly of different
// units and endorsers, as carried by a single Endorsements vertex.
type Endorsements []*SignedEndorsement
