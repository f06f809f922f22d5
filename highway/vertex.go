// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

// VertexKind discriminates the three wire message shapes the engine
// produces and consumes.
type VertexKind uint8

const (
	VertexKindUnit VertexKind = iota
	VertexKindEvidence
	VertexKindEndorsements
)

// Vertex is the sum type of everything the engine gossips: a signed
// unit, a piece of equivocation evidence, or a batch of endorsements.
// Exactly one of Unit/Evidence/Endorsements is populated, matching Kind.
type Vertex struct {
	Kind         VertexKind
	Unit         *SignedUnit
	Evidence     *Evidence
	Endorsements Endorsements
}

// UnitVertex wraps a signed unit as a Vertex.
func UnitVertex(u *SignedUnit) Vertex {
	return Vertex{Kind: VertexKindUnit, Unit: u}
}

// EvidenceVertex wraps evidence as a Vertex.
func EvidenceVertex(e *Evidence) Vertex {
	return Vertex{Kind: VertexKindEvidence, Evidence: e}
}

// EndorsementsVertex wraps an endorsement batch as a Vertex.
func EndorsementsVertex(es Endorsements) Vertex {
	return Vertex{Kind: VertexKindEndorsements, Endorsements: es}
}

// ValidVertex marks a Vertex that has already passed structural
// validation (signature, shape) and is safe to hand to State.
type ValidVertex struct {
	Vertex
}
