// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import "errors"

// AddUnitReason enumerates the structural failure kinds AddUnit can
// report: callers can switch on Reason without parsing
// strings, and the host may use it to decide whether to penalize the
// sender.
type AddUnitReason uint8

const (
	ReasonNone AddUnitReason = iota
	ReasonBadSignature
	ReasonMalformedPanorama
	ReasonSeqNumberMismatch
	ReasonTimestampNotMonotonic
	ReasonUnknownCreator
	ReasonUnknownPanoramaReference
)

func (r AddUnitReason) String() string {
	switch r {
	case ReasonBadSignature:
		return "bad signature"
	case ReasonMalformedPanorama:
		return "malformed panorama"
	case ReasonSeqNumberMismatch:
		return "sequence number mismatch"
	case ReasonTimestampNotMonotonic:
		return "timestamp precedes predecessor"
	case ReasonUnknownCreator:
		return "unknown creator index"
	case ReasonUnknownPanoramaReference:
		return "panorama references unknown unit"
	default:
		return "none"
	}
}

// AddUnitError is returned by State.AddUnit when a unit fails structural
// validation; the vertex is rejected, never added to state.
type AddUnitError struct {
	Reason AddUnitReason
}

func (e *AddUnitError) Error() string {
	return "rejected unit: " + e.Reason.String()
}

// ErrEvidenceInvalid is returned by AddEvidence for structurally invalid
// evidence (mismatched creator/seq, identical hashes, or bad signatures).
var ErrEvidenceInvalid = errors.New("invalid evidence")
