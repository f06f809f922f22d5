// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/validators"
)

// ObsKind is the kind of observation a Panorama slot carries for one
// validator: whether we have never seen a unit from them, have seen one
// and consider them honest, or have proved them an equivocator.
type ObsKind uint8

const (
	// ObsNull means no unit has been seen from this validator.
	ObsNull ObsKind = iota
	// ObsCorrect means the latest seen unit from this validator is Hash.
	ObsCorrect
	// ObsFaulty means this validator has been proved to equivocate.
	ObsFaulty
)

// Observation is one slot of a Panorama.
type Observation struct {
	Kind ObsKind
	Hash ids.ID // meaningful only when Kind == ObsCorrect
}

// Correct returns the cited hash and true if this observation is Correct.
func (o Observation) Correct() (ids.ID, bool) {
	if o.Kind == ObsCorrect {
		return o.Hash, true
	}
	return ids.Empty, false
}

// IsFaulty reports whether this observation marks the validator faulty.
func (o Observation) IsFaulty() bool { return o.Kind == ObsFaulty }

// Panorama is a per-validator view vector: one Observation per era
// validator index, cited by every unit.
type Panorama []Observation

// NewPanorama returns an all-Null panorama sized for n validators.
func NewPanorama(n int) Panorama {
	return make(Panorama, n)
}

// Get returns the observation for validator idx.
func (p Panorama) Get(idx validators.Index) Observation {
	return p[int(idx)]
}

// Set returns a copy of the panorama with the observation for validator
// idx replaced (the receiver is never mutated in place, since Panoramas are shared
// between units and the State's own bookkeeping).
func (p Panorama) Set(idx validators.Index, obs Observation) Panorama {
	out := p.Clone()
	out[int(idx)] = obs
	return out
}

// Clone returns an independent copy.
func (p Panorama) Clone() Panorama {
	out := make(Panorama, len(p))
	copy(out, p)
	return out
}

// HasCorrect reports whether any slot is Correct. Witness units are only
// emitted over panoramas that see at least one unit (the validator's own
// latest unit counts).
func (p Panorama) HasCorrect() bool {
	for _, o := range p {
		if o.Kind == ObsCorrect {
			return true
		}
	}
	return false
}

// Equal reports whether two panoramas carry identical observations.
func (p Panorama) Equal(q Panorama) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// NextSeqNum returns the sequence number a new unit by validator v would
// carry given this panorama: 0 if Null, else the cited unit's seq number
// + 1.
func (p Panorama) NextSeqNum(s *State, v validators.Index) uint64 {
	obs := p.Get(v)
	h, ok := obs.Correct()
	if !ok {
		return 0
	}
	u, ok := s.unit(h)
	if !ok {
		return 0
	}
	return u.SeqNumber + 1
}

// Cutoff replaces every Correct(h) entry with the latest ancestor of h
// (walking the creator's own predecessor chain) whose timestamp is <= t;
// an entry may become Null if even the earliest unit from that validator
// postdates t.
func (p Panorama) Cutoff(s *State, t uint64) Panorama {
	out := p.Clone()
	for i, obs := range p {
		h, ok := obs.Correct()
		if !ok {
			continue
		}
		cur, found := s.unit(h)
		for found && cur.Timestamp > t {
			prevHash, hasPrev := cur.Previous()
			if !hasPrev {
				found = false
				break
			}
			cur, found = s.unit(prevHash)
		}
		if !found {
			out[i] = Observation{Kind: ObsNull}
		} else {
			out[i] = Observation{Kind: ObsCorrect, Hash: cur.Hash()}
		}
	}
	return out
}

// SeesCorrect reports whether some Correct entry of this panorama
// transitively cites hash h without ever crossing a Faulty observation
// of h's creator: i.e. following predecessor links from the cited tip,
// we reach h while that validator's slot in the panorama of every unit
// visited along the way still names a correct chain.
func (p Panorama) SeesCorrect(s *State, h ids.ID) bool {
	target, ok := s.unit(h)
	if !ok {
		return false
	}
	creator := target.Creator
	for _, obs := range p {
		tipHash, ok := obs.Correct()
		if !ok {
			continue
		}
		cur, found := s.unit(tipHash)
		for found {
			if cur.Hash() == h {
				return true
			}
			// Only descendants of h by the same creator chain, or units
			// that cite h transitively through their own panorama, count.
			if cur.Creator == creator {
				prevHash, hasPrev := cur.Previous()
				if !hasPrev {
					break
				}
				cur, found = s.unit(prevHash)
				continue
			}
			citedObs := cur.Panorama.Get(creator)
			citedHash, ok := citedObs.Correct()
			if !ok {
				break
			}
			if citedHash == h {
				return true
			}
			cur, found = s.unit(citedHash)
		}
	}
	return false
}

// Enumerate calls fn for every validator index and its observation,
// stopping early if fn returns false.
func (p Panorama) Enumerate(fn func(idx validators.Index, obs Observation) bool) {
	for i, obs := range p {
		if !fn(validators.Index(i), obs) {
			return
		}
	}
}
