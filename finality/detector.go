// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package finality implements the weighted-summit finality rule: the
// adjacent core the active-validator engine hands its DAG to, and
// reads an irrevocable finalized suffix back from.
package finality

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

// summitLevel is the fixed summit level NextFinalized requires. Level 0
// is just a raw weight threshold: it is satisfied the instant a leader
// proposes and a single corroborating witness cites enough weight,
// before that weight has itself had a chance to corroborate anything.
// Level 1 additionally requires that every contributing validator's own
// prior view already cleared a level-0 summit, which only becomes true
// once a round's worth of witnessing has actually round-tripped. This
// fixed choice reproduces the two-validator scenario's finalization
// timing without implementing the full variable-level degree-of-
// finality calculation (see DESIGN.md).
const summitLevel = 1

// Detector derives the next finalized block from a protocol state's
// current DAG. FTT bounds the total weight of validators allowed to not
// yet have built on a proposal for it to still finalize: a proposal
// finalizes once its summit weight + FTT >= totalWeight, i.e. no more
// than FTT weight of equivocating or lagging validators could possibly
// prevent it from becoming the permanent choice.
type Detector struct {
	ftt           uint64
	lastFinalized ids.ID
}

// NewDetector creates a detector with fault-tolerance threshold ftt,
// starting from virtual genesis.
func NewDetector(ftt uint64) *Detector {
	return &Detector{ftt: ftt, lastFinalized: ids.Empty}
}

// LastFinalized returns the most recently finalized block hash, or
// ids.Empty if nothing has finalized yet.
func (d *Detector) LastFinalized() ids.ID { return d.lastFinalized }

// NextFinalized scans forward from the last finalized block along the
// current fork-choice path and returns the next block on that path that
// has accumulated a qualifying summit, if any. Finalization is
// monotonic: once a hash is returned, it is never un-returned by a
// later call, even if a subsequent reorg would otherwise favor a
// different fork (the summit weight check guards against any such
// reorg ever actually happening for an honest-majority network).
func (d *Detector) NextFinalized(state *highway.State) (ids.ID, bool) {
	pan := state.Panorama()
	tip, found := state.ForkChoice(pan)
	if !found || tip == d.lastFinalized {
		return ids.Empty, false
	}

	// Walk the tip's ancestry back to lastFinalized, collecting the path;
	// candidate is the immediate child of lastFinalized on that path.
	var path []ids.ID
	cur := tip
	for cur != d.lastFinalized && cur != ids.Empty {
		path = append(path, cur)
		block, ok := state.Block(cur)
		if !ok {
			return ids.Empty, false
		}
		cur = block.Parent
	}
	if cur != d.lastFinalized || len(path) == 0 {
		// lastFinalized is not an ancestor of the current fork-choice tip:
		// nothing new can be said without contradicting monotonicity.
		return ids.Empty, false
	}
	candidate := path[len(path)-1]

	total := state.Validators().TotalWeight()
	if total <= d.ftt {
		return ids.Empty, false
	}
	weight := summitWeight(state, pan, candidate, summitLevel, d.ftt)
	if weight+d.ftt < total {
		return ids.Empty, false
	}
	d.lastFinalized = candidate
	return candidate, true
}

// summitWeight returns the total weight of validators whose pan entry
// is, recursively, part of a summit of the given level over block:
// level 0 is raw citing weight; level n requires that every
// contributing validator's own cited unit already anchors a level n-1
// summit from its own (strictly earlier) panorama.
func summitWeight(state *highway.State, pan highway.Panorama, block ids.ID, level int, ftt uint64) uint64 {
	if level <= 0 {
		return state.CitingWeight(pan, block)
	}
	total := state.Validators().TotalWeight()
	var weight uint64
	pan.Enumerate(func(idx validators.Index, obs highway.Observation) bool {
		h, ok := obs.Correct()
		if !ok {
			return true
		}
		u, ok := state.Unit(h)
		if !ok {
			return true
		}
		sub := summitWeight(state, u.Panorama, block, level-1, ftt)
		if sub+ftt >= total {
			weight += state.Validators().Weight(idx)
		}
		return true
	})
	return weight
}
