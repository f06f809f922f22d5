// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package engine

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

// AnnouncementKind discriminates the three observer-facing events an
// Engine reports.
type AnnouncementKind int

const (
	// AnnounceProposed reports that a new proposal unit was accepted.
	AnnounceProposed AnnouncementKind = iota
	// AnnounceFinalized reports that a block became irrevocable.
	AnnounceFinalized
	// AnnounceFault reports that a validator was proved to equivocate.
	AnnounceFault
)

// Announcement is the payload of an EffectAnnounce effect. Exactly the
// fields relevant to Kind are populated.
type Announcement struct {
	Kind        AnnouncementKind
	BlockHash   ids.ID
	Height      uint64
	Timestamp   uint64
	EraEnd      *highway.EraEnd
	Perpetrator validators.Index
	Evidence    *highway.Evidence
}

// CandidateBlock is a proposal's payload awaiting host-side execution
// validation before the engine will treat its unit as acceptable.
type CandidateBlock struct {
	Hash      ids.ID
	Value     []byte
	Timestamp uint64
}

// BlockValidationRequest is the payload of an EffectRequestBlockValidation
// effect: the host must validate Candidate's value out of band (e.g. by
// executing it against the current ledger state) and report the result
// back through Engine.BlockValidated.
type BlockValidationRequest struct {
	Candidate CandidateBlock
}
