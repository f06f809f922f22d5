// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"sync"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/validators"
)

// RoundID returns the id (start timestamp, ms) of the round containing
// t at the given round exponent.
func RoundID(t uint64, roundExp uint8) uint64 { return config.RoundID(t, roundExp) }

// RoundLen returns the round length in milliseconds for a round
// exponent: 1 << roundExp.
func RoundLen(roundExp uint8) uint64 { return config.RoundLen(roundExp) }

// WitnessOffset returns the offset into a round, in ms, at which
// witness units are due: floor(round_len * 2 / 3).
func WitnessOffset(roundLen uint64) uint64 { return config.WitnessOffset(roundLen) }

// State is the append-only DAG of accepted vertices for one era: units
// keyed by content hash, per-validator panoramas, equivocation evidence,
// endorsement tallies and the block tree used for fork choice. It is
// the single point of truth for the era; ActiveValidator reads it but
// never mutates it directly.
type State struct {
	mu sync.RWMutex

	validators *validators.Set
	instanceID uint64
	params     config.Parameters
	log        log.Logger

	units            map[ids.ID]*Unit
	unitByCreatorSeq map[validators.Index]map[uint64]ids.ID

	panorama Panorama
	evidence map[validators.Index]*Evidence

	// endorsementWeight[h] is the total weight of distinct endorsers of
	// unit h seen so far; endorsers[h] dedups per-endorser contributions.
	endorsementWeight map[ids.ID]uint64
	endorsers         map[ids.ID]map[validators.Index]bool

	blocks     map[ids.ID]*Block
	children   map[ids.ID][]ids.ID // parent hash (ids.Empty = genesis) -> child block hashes
	terminal   map[ids.ID]bool
}

// NewState creates an empty protocol state for one era.
func NewState(vs *validators.Set, instanceID uint64, params config.Parameters, logger log.Logger) *State {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &State{
		validators:        vs,
		instanceID:        instanceID,
		params:            params,
		log:               logger,
		units:             make(map[ids.ID]*Unit),
		unitByCreatorSeq:  make(map[validators.Index]map[uint64]ids.ID),
		panorama:          NewPanorama(vs.Len()),
		evidence:          make(map[validators.Index]*Evidence),
		endorsementWeight: make(map[ids.ID]uint64),
		endorsers:         make(map[ids.ID]map[validators.Index]bool),
		blocks:            make(map[ids.ID]*Block),
		children:          make(map[ids.ID][]ids.ID),
		terminal:          make(map[ids.ID]bool),
	}
}

// Validators returns the era's immutable validator set.
func (s *State) Validators() *validators.Set { return s.validators }

// InstanceID returns the era's domain-separating instance id.
func (s *State) InstanceID() uint64 { return s.instanceID }

func (s *State) unit(h ids.ID) (*Unit, bool) {
	u, ok := s.units[h]
	return u, ok
}

// Unit returns the accepted unit with hash h, or false if unknown.
func (s *State) Unit(h ids.ID) (*Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unit(h)
}

// Block returns the block built by unit hash h, or false if h is not a
// block (has no value), or unknown.
func (s *State) Block(h ids.ID) (*Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[h]
	return b, ok
}

// Panorama returns the globally-known latest panorama: the state's own
// view of the latest unit (or fault) for every validator.
func (s *State) Panorama() Panorama {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panorama.Clone()
}

// CitablePanorama returns the panorama a locally-produced unit may cite.
// It is a defensive snapshot of Panorama(): AddUnit never lets a unit's
// declared predecessor diverge from the state's own record of that
// creator's latest unit, so citing this panorama can never manufacture
// a self-equivocation (open question (d), see DESIGN.md).
func (s *State) CitablePanorama() Panorama {
	return s.Panorama()
}

// IsFaulty reports whether idx has been proved to equivocate.
func (s *State) IsFaulty(idx validators.Index) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.panorama.Get(idx).IsFaulty()
}

// OptEvidence returns the stored evidence against idx, if any.
func (s *State) OptEvidence(idx validators.Index) (*Evidence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evidence[idx]
	return e, ok
}

// Leader deterministically returns the weighted-random leader of the
// round starting at roundID.
func (s *State) Leader(roundID uint64) validators.Index {
	seed := validators.LeaderSeed(s.instanceID, roundID)
	return s.validators.Leader(seed)
}

// IterCorrectHashes calls fn for the hash of every unit currently known
// to be the latest correct unit of some validator (i.e. every slot the
// global panorama marks Correct).
func (s *State) IterCorrectHashes(fn func(h ids.ID) bool) {
	s.mu.RLock()
	hashes := make([]ids.ID, 0, len(s.panorama))
	for _, obs := range s.panorama {
		if h, ok := obs.Correct(); ok {
			hashes = append(hashes, h)
		}
	}
	s.mu.RUnlock()
	for _, h := range hashes {
		if !fn(h) {
			return
		}
	}
}

// MarkTerminal records that block h is a switch block: the stop
// condition the host observed externally (e.g. an era-length or
// upgrade marker) makes it the last block of its era. A proposal built
// on a terminal block's fork-choice tip carries no value: the era has
// ended and a new one must be started before any more values propose.
func (s *State) MarkTerminal(h ids.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminal[h] = true
}

// IsTerminalBlock reports whether h was marked terminal.
func (s *State) IsTerminalBlock(h ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminal[h]
}

// SeenEndorsed returns the set of unit hashes that are endorsed by more
// than half the era's total weight and are visible (transitively cited)
// from panorama pan.
func (s *State) SeenEndorsed(pan Panorama) []ids.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threshold := s.validators.TotalWeight()/2 + 1
	var out []ids.ID
	for h, w := range s.endorsementWeight {
		if w < threshold {
			continue
		}
		u, ok := s.units[h]
		if !ok {
			continue
		}
		if pan.SeesCorrect(s, u.Hash()) {
			out = append(out, h)
		}
	}
	return out
}

// ConfirmationPanorama returns the minimal panorama a confirmation unit
// by ownIdx over proposalHash needs: one that proves we saw the
// proposal and our own tip, without pulling in every other observation
// we might have.
func (s *State) ConfirmationPanorama(ownIdx validators.Index, proposalHash ids.ID) Panorama {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := NewPanorama(s.validators.Len())
	if u, ok := s.units[proposalHash]; ok {
		out[int(u.Creator)] = Observation{Kind: ObsCorrect, Hash: proposalHash}
	}
	out[int(ownIdx)] = s.panorama.Get(ownIdx)
	return out
}

// latestBlockOf returns the block that u implicitly votes for: itself,
// if u carries a value, otherwise whatever block u's own cited
// panorama would have picked by fork choice at the moment u was cast.
// Since a unit's panorama only ever cites strictly earlier units, this
// recursion always terminates; the result is memoized on u. Returns
// (ids.Empty, false) if no block is visible from u at all.
func (s *State) latestBlockOf(u *Unit) (ids.ID, bool) {
	if u.latestBlockSet {
		if u.cachedLatestBlock == ids.Empty {
			return ids.Empty, false
		}
		return u.cachedLatestBlock, true
	}
	if u.HasValue {
		h := u.Hash()
		u.cachedLatestBlock = h
		u.latestBlockSet = true
		return h, true
	}
	lb, ok := s.forkChoiceLocked(u.Panorama)
	if !ok {
		lb = ids.Empty
	}
	u.cachedLatestBlock = lb
	u.latestBlockSet = true
	return lb, ok
}

// blockTips returns, for panorama pan, the weight each validator's
// current tip contributes to the latest block it descends from.
func (s *State) blockTips(pan Panorama) map[ids.ID]uint64 {
	tips := make(map[ids.ID]uint64)
	for i, obs := range pan {
		h, ok := obs.Correct()
		if !ok {
			continue
		}
		u, ok := s.unit(h)
		if !ok {
			continue
		}
		lb, ok := s.latestBlockOf(u)
		if !ok {
			continue
		}
		tips[lb] += s.validators.Weight(validators.Index(i))
	}
	return tips
}

func (s *State) subtreeWeight(block ids.ID, tips map[ids.ID]uint64) uint64 {
	w := tips[block]
	for _, c := range s.children[block] {
		w += s.subtreeWeight(c, tips)
	}
	return w
}

// ForkChoice greedily walks the block tree from virtual genesis,
// selecting at each step the child with the greatest total citing
// weight among units visible in pan; ties break on the smaller block
// hash (open question (a), see DESIGN.md). Returns (ids.Empty, false)
// if no block is visible yet.
func (s *State) ForkChoice(pan Panorama) (ids.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forkChoiceLocked(pan)
}

func (s *State) forkChoiceLocked(pan Panorama) (ids.ID, bool) {
	tips := s.blockTips(pan)
	current := ids.Empty
	found := false
	for {
		kids := s.children[current]
		if len(kids) == 0 {
			break
		}
		var best ids.ID
		var bestWeight uint64
		bestFound := false
		for _, c := range kids {
			w := s.subtreeWeight(c, tips)
			if w == 0 {
				continue
			}
			if !bestFound || w > bestWeight || (w == bestWeight && idLess(c, best)) {
				best, bestWeight, bestFound = c, w, true
			}
		}
		if !bestFound {
			break
		}
		current, found = best, true
	}
	return current, found
}

func idLess(a, b ids.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CitingWeight returns the total validator weight, as observed by pan,
// whose implicit vote (per latestBlockOf) is block or a descendant of
// it. The finality detector uses this to test whether a proposal has
// accumulated a qualifying summit of support.
func (s *State) CitingWeight(pan Panorama, block ids.ID) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tips := s.blockTips(pan)
	var total uint64
	for tip, w := range tips {
		if s.isDescendantOrSelfLocked(tip, block) {
			total += w
		}
	}
	return total
}

func (s *State) isDescendantOrSelfLocked(h, ancestor ids.ID) bool {
	for {
		if h == ancestor {
			return true
		}
		if h == ids.Empty {
			return false
		}
		b, ok := s.blocks[h]
		if !ok {
			return false
		}
		h = b.Parent
	}
}

// IsCorrectProposal reports whether h names a known unit that carries a
// value and whose creator has not been proved to equivocate.
func (s *State) IsCorrectProposal(h ids.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[h]
	if !ok || !u.HasValue {
		return false
	}
	return !s.panorama.Get(u.Creator).IsFaulty()
}

// AddUnit validates and appends su to the DAG. A resend of a
// previously-accepted unit (identical hash at the same creator/seq) is
// idempotent and returns the existing hash with no error. A unit that
// conflicts with one already on file for the same (creator, seq) is
// itself accepted (it is validly signed) and simultaneously produces
// Evidence against its creator, flipping that validator's panorama slot
// to Faulty: equivocation is detected after the fact, never prevented.
func (s *State) AddUnit(su *SignedUnit) (ids.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(su.Creator) >= s.validators.Len() {
		return ids.Empty, &AddUnitError{Reason: ReasonUnknownCreator}
	}
	if su.InstanceID != s.instanceID {
		return ids.Empty, &AddUnitError{Reason: ReasonUnknownCreator}
	}
	if len(su.Panorama) != s.validators.Len() {
		return ids.Empty, &AddUnitError{Reason: ReasonMalformedPanorama}
	}

	creator := s.validators.Get(su.Creator)
	if !su.VerifySignature(creator.PublicKey) {
		return ids.Empty, &AddUnitError{Reason: ReasonBadSignature}
	}

	for _, obs := range su.Panorama {
		if h, ok := obs.Correct(); ok {
			if _, known := s.units[h]; !known {
				return ids.Empty, &AddUnitError{Reason: ReasonUnknownPanoramaReference}
			}
		}
	}

	if prevHash, hasPrev := su.Previous(); hasPrev {
		prevUnit, ok := s.unit(prevHash)
		if !ok {
			return ids.Empty, &AddUnitError{Reason: ReasonUnknownPanoramaReference}
		}
		if su.Timestamp < prevUnit.Timestamp {
			return ids.Empty, &AddUnitError{Reason: ReasonTimestampNotMonotonic}
		}
	}

	hash := su.Hash()
	if existing, ok := s.unitByCreatorSeq[su.Creator][su.SeqNumber]; ok {
		if existing == hash {
			return hash, nil
		}
		existingUnit := s.units[existing]
		ev := &Evidence{Unit1: &existingUnit.SignedUnit, Unit2: su}
		if !ev.Valid() {
			return ids.Empty, &AddUnitError{Reason: ReasonSeqNumberMismatch}
		}
		u := newUnit(*su)
		s.units[hash] = u
		s.indexUnitLocked(u)
		s.recordEvidenceLocked(ev)
		return hash, nil
	}

	if su.SeqNumber != su.Panorama.NextSeqNum(s, su.Creator) {
		return ids.Empty, &AddUnitError{Reason: ReasonSeqNumberMismatch}
	}

	u := newUnit(*su)
	s.units[hash] = u
	s.indexUnitLocked(u)
	s.updatePanoramaLocked(u)
	if u.HasValue {
		s.registerBlockLocked(u)
	}
	return hash, nil
}

func (s *State) indexUnitLocked(u *Unit) {
	bySeq, ok := s.unitByCreatorSeq[u.Creator]
	if !ok {
		bySeq = make(map[uint64]ids.ID)
		s.unitByCreatorSeq[u.Creator] = bySeq
	}
	bySeq[u.SeqNumber] = u.Hash()
}

// updatePanoramaLocked advances the state's global panorama to cite u,
// unless u's creator has already been proved Faulty: that slot never
// reverts to Correct once evidence lands against it.
func (s *State) updatePanoramaLocked(u *Unit) {
	if s.panorama.Get(u.Creator).IsFaulty() {
		return
	}
	s.panorama[int(u.Creator)] = Observation{Kind: ObsCorrect, Hash: u.Hash()}
}

// recordEvidenceLocked stores the first evidence seen against a
// validator and permanently marks its panorama slot Faulty. Later
// evidence against an already-faulty validator is redundant and
// dropped: one proof is enough.
func (s *State) recordEvidenceLocked(ev *Evidence) {
	perp := ev.Perpetrator()
	if _, exists := s.evidence[perp]; exists {
		return
	}
	s.evidence[perp] = ev
	s.panorama[int(perp)] = Observation{Kind: ObsFaulty}
}

// registerBlockLocked builds the Block a freshly-accepted proposal unit
// represents, chaining it onto the parent its own cited panorama's fork
// choice selects.
func (s *State) registerBlockLocked(u *Unit) {
	parent, found := s.forkChoiceLocked(u.Panorama)
	if !found {
		parent = ids.Empty
	}
	height := uint64(0)
	if parentBlock, ok := s.blocks[parent]; ok {
		height = parentBlock.Height + 1
	}
	hash := u.Hash()
	s.blocks[hash] = &Block{Hash: hash, Parent: parent, Height: height, Value: u.Value}
	s.children[parent] = append(s.children[parent], hash)
}

// AddEvidence validates and records standalone equivocation evidence
// (e.g. received directly over the wire as an Evidence vertex, rather
// than inferred locally by AddUnit). Returns whether it was newly
// recorded; resubmitting evidence against an already-faulty validator
// is a no-op, not an error.
func (s *State) AddEvidence(ev *Evidence) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ev.Valid() {
		return false, ErrEvidenceInvalid
	}
	perp := ev.Perpetrator()
	if int(perp) >= s.validators.Len() {
		return false, ErrEvidenceInvalid
	}
	pk := s.validators.Get(perp).PublicKey
	if !ev.Unit1.VerifySignature(pk) || !ev.Unit2.VerifySignature(pk) {
		return false, ErrEvidenceInvalid
	}
	if _, exists := s.evidence[perp]; exists {
		return false, nil
	}
	s.recordEvidenceLocked(ev)
	return true, nil
}

// AddEndorsements validates and tallies a batch of signed endorsements,
// deduping per (unit, endorser) and capping tracked endorsers per unit
// at EndorsementEvidenceCap. Endorsements of a unit this state has not
// seen yet are silently skipped rather than rejecting the whole batch:
// the unit vertex may simply not have arrived yet. Returns the number
// of endorsements newly counted toward their unit's tally.
func (s *State) AddEndorsements(es Endorsements) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, se := range es {
		if int(se.Endorser) >= s.validators.Len() {
			return added, &AddUnitError{Reason: ReasonUnknownCreator}
		}
		pk := s.validators.Get(se.Endorser).PublicKey
		if !se.VerifySignature(pk) {
			return added, &AddUnitError{Reason: ReasonBadSignature}
		}
		if s.panorama.Get(se.Endorser).IsFaulty() {
			continue
		}
		if _, ok := s.units[se.UnitHash]; !ok {
			continue
		}
		set, ok := s.endorsers[se.UnitHash]
		if !ok {
			set = make(map[validators.Index]bool)
			s.endorsers[se.UnitHash] = set
		}
		if set[se.Endorser] {
			continue
		}
		if len(set) >= s.params.EndorsementEvidenceCap {
			continue
		}
		set[se.Endorser] = true
		s.endorsementWeight[se.UnitHash] += s.validators.Weight(se.Endorser)
		added++
	}
	return added, nil
}
