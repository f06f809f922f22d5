// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package activevalidator implements the Highway schedule: the state
// machine that decides, for one validator, when to cast a proposal,
// confirmation, witness, or endorsement unit. It never touches
// highway.State directly; every decision is returned as an Effect for
// the host (the engine package) to apply.
package activevalidator

import (
	"go.uber.org/zap"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

// EffectKind discriminates the four actions HandleTimer/OnNewUnit/
// OnNewEvidence/RequestNewBlock may ask the host to take.
type EffectKind int

const (
	// EffectNewVertex asks the host to gossip Vertex and add it to state.
	EffectNewVertex EffectKind = iota
	// EffectScheduleTimer asks the host to call HandleTimer again at Timer.
	EffectScheduleTimer
	// EffectRequestNewBlock asks the host to supply a consensus value for
	// BlockContext, to be handed back via Propose.
	EffectRequestNewBlock
	// EffectWeEquivocated reports that this validator itself produced
	// conflicting units; the host should deactivate it.
	EffectWeEquivocated
)

// BlockContext names the timestamp and parent height a requested
// consensus value must be built on top of.
type BlockContext struct {
	Timestamp uint64
	Height    uint64
}

// Effect is the sum type returned by every ActiveValidator entry point.
// Exactly the field matching Kind is populated.
type Effect struct {
	Kind         EffectKind
	Vertex       highway.Vertex
	Timer        uint64
	BlockContext BlockContext
	Evidence     *highway.Evidence
}

func newVertexEffect(v highway.Vertex) Effect { return Effect{Kind: EffectNewVertex, Vertex: v} }
func scheduleTimerEffect(t uint64) Effect     { return Effect{Kind: EffectScheduleTimer, Timer: t} }
func weEquivocatedEffect(e *highway.Evidence) Effect {
	return Effect{Kind: EffectWeEquivocated, Evidence: e}
}

// pendingProposal remembers the panorama and timestamp a RequestNewBlock
// call committed to, so the eventual Propose call can resume from it.
type pendingProposal struct {
	timestamp uint64
	panorama  highway.Panorama
}

// ActiveValidator runs the Highway schedule for one validator in one
// era: in the beginning of a round its leader sends a proposal unit;
// everyone else answers with a confirmation citing just the proposal
// and their own tip; at a fixed offset into the round everyone sends an
// unconditional witness citing everything they have seen. Enough
// confirmations plus witnesses citing them form a summit that finalizes
// the proposal (see the finality package).
type ActiveValidator struct {
	vidx   validators.Index
	secret *bls.SecretKey
	log    log.Logger

	// nextRoundExp is our own next round's length exponent: the round
	// will last 1 << nextRoundExp milliseconds.
	nextRoundExp uint8
	// nextTimer is the latest timer we have scheduled.
	nextTimer uint64
	// nextProposal is set between a RequestNewBlock effect and the
	// matching Propose call.
	nextProposal *pendingProposal
}

// New creates an ActiveValidator and the ScheduleTimer effect for its
// first call.
func New(vidx validators.Index, secret *bls.SecretKey, startTime uint64, state *highway.State, params config.Parameters, logger log.Logger) (*ActiveValidator, []Effect) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	av := &ActiveValidator{
		vidx:         vidx,
		secret:       secret,
		log:          logger,
		nextRoundExp: params.InitRoundExp,
	}
	return av, av.scheduleTimer(startTime, state)
}

// SetRoundExp changes the round exponent this validator will use for
// its own next round.
func (av *ActiveValidator) SetRoundExp(newRoundExp uint8) { av.nextRoundExp = newRoundExp }

// HandleTimer returns the actions this validator needs to take at
// timestamp: casting a proposal if it leads the round, a witness unit
// at the round's witness offset, or nothing but rescheduling.
func (av *ActiveValidator) HandleTimer(timestamp uint64, state *highway.State, instanceID uint64) []Effect {
	if av.isFaulty(state) {
		av.log.Warn("creator knows it's faulty, won't create a message")
		return nil
	}
	effects := av.scheduleTimer(timestamp, state)
	if av.earliestUnitTime(state) > timestamp {
		av.log.Warn("skipping outdated timer event", zap.Uint64("timestamp", timestamp))
		return effects
	}
	rExp := av.roundExp(state, timestamp)
	rID := highway.RoundID(timestamp, rExp)
	rLen := highway.RoundLen(rExp)
	switch {
	case timestamp == rID && state.Leader(rID) == av.vidx:
		if eff, ok := av.requestNewBlock(state, instanceID, timestamp); ok {
			effects = append(effects, eff)
		}
	case timestamp == rID+highway.WitnessOffset(rLen):
		pan := state.CitablePanorama().Cutoff(state, timestamp)
		if pan.HasCorrect() {
			if wu, ok := av.newUnit(pan, timestamp, nil, state, instanceID); ok {
				effects = append(effects, newVertexEffect(highway.UnitVertex(wu)))
			}
		}
	}
	return effects
}

// OnNewUnit returns the actions to take upon learning of vhash: a
// confirmation if it is a proposal we have not yet confirmed, and/or an
// endorsement if it newly vouches for a known equivocator's unit.
func (av *ActiveValidator) OnNewUnit(vhash ids.ID, now uint64, state *highway.State, instanceID uint64) []Effect {
	if ev, ok := state.OptEvidence(av.vidx); ok {
		return []Effect{weEquivocatedEffect(ev)}
	}
	var effects []Effect
	if av.shouldSendConfirmation(vhash, now, state) {
		pan := state.ConfirmationPanorama(av.vidx, vhash)
		if pan.HasCorrect() {
			if wu, ok := av.newUnit(pan, now, nil, state, instanceID); ok {
				effects = append(effects, newVertexEffect(highway.UnitVertex(wu)))
			}
		}
	}
	if av.shouldEndorse(vhash, state) {
		if v, ok := av.endorse(vhash); ok {
			effects = append(effects, newVertexEffect(v))
		}
	}
	return effects
}

// OnNewEvidence endorses every latest unit by an honest validator that
// cites ev's perpetrator as correct and newly observes a message by
// them: such units prove their creator has not yet learned of the
// equivocation, which is itself useful evidence of honest timing.
func (av *ActiveValidator) OnNewEvidence(ev *highway.Evidence, state *highway.State) []Effect {
	vidx := ev.Perpetrator()
	var effects []Effect
	state.IterCorrectHashes(func(h ids.ID) bool {
		u, ok := state.Unit(h)
		if ok && u.NewHashObs(state, vidx) {
			if v, ok := av.endorse(h); ok {
				effects = append(effects, newVertexEffect(v))
			}
		}
		return true
	})
	return effects
}

// RequestNewBlock is the public entry point the engine uses to force a
// proposal attempt outside of HandleTimer's own leader check. It is
// refused (returns false) while an earlier request still awaits Propose.
func (av *ActiveValidator) RequestNewBlock(state *highway.State, instanceID uint64, timestamp uint64) (Effect, bool) {
	return av.requestNewBlock(state, instanceID, timestamp)
}

// requestNewBlock asks for a consensus value for a new proposal. If we
// are already waiting on one, nothing happens. If the fork-choice
// parent is a terminal (switch) block, the proposal is cast immediately
// with no value instead.
func (av *ActiveValidator) requestNewBlock(state *highway.State, instanceID uint64, timestamp uint64) (Effect, bool) {
	if av.nextProposal != nil {
		av.log.Warn("skipping proposal, still waiting for a value",
			zap.Uint64("pending", av.nextProposal.timestamp))
		return Effect{}, false
	}
	pan := state.CitablePanorama().Cutoff(state, timestamp)
	parentHash, found := state.ForkChoice(pan)
	if found && state.IsTerminalBlock(parentHash) {
		wu, ok := av.newUnit(pan, timestamp, nil, state, instanceID)
		if !ok {
			return Effect{}, false
		}
		return newVertexEffect(highway.UnitVertex(wu)), true
	}
	var height uint64
	if found {
		if b, ok := state.Block(parentHash); ok {
			height = b.Height
		}
	}
	av.nextProposal = &pendingProposal{timestamp: timestamp, panorama: pan}
	return Effect{Kind: EffectRequestNewBlock, BlockContext: BlockContext{Timestamp: timestamp, Height: height}}, true
}

// Propose resumes a pending RequestNewBlock with the host-supplied
// consensus value, producing the signed proposal unit.
func (av *ActiveValidator) Propose(value []byte, bc BlockContext, state *highway.State, instanceID uint64) []Effect {
	timestamp := bc.Timestamp
	pending := av.nextProposal
	av.nextProposal = nil
	if av.earliestUnitTime(state) > timestamp {
		av.log.Warn("skipping outdated proposal", zap.Uint64("timestamp", timestamp))
		return nil
	}
	if av.isFaulty(state) {
		av.log.Warn("creator knows it's faulty, won't create a message")
		return nil
	}
	if pending == nil {
		av.log.Warn("unexpected proposal value")
		return nil
	}
	if pending.timestamp != timestamp {
		av.log.Warn("unexpected proposal timestamp",
			zap.Uint64("got", timestamp), zap.Uint64("want", pending.timestamp))
		return nil
	}
	wu, ok := av.newUnit(pending.panorama, timestamp, value, state, instanceID)
	if !ok {
		return nil
	}
	return []Effect{newVertexEffect(highway.UnitVertex(wu))}
}

// shouldSendConfirmation reports whether vhash is a proposal we have
// not yet confirmed, cast in the round we are currently in.
func (av *ActiveValidator) shouldSendConfirmation(vhash ids.ID, timestamp uint64, state *highway.State) bool {
	eut := av.earliestUnitTime(state)
	if timestamp < eut {
		av.log.Warn("earliest unit time is after current timestamp",
			zap.Uint64("earliestUnitTime", eut), zap.Uint64("timestamp", timestamp))
		return false
	}
	unit, ok := state.Unit(vhash)
	if !ok {
		return false
	}
	if unit.Timestamp > timestamp {
		av.log.Error("added a unit with a future timestamp, should never happen",
			zap.Uint64("unitTimestamp", unit.Timestamp), zap.Uint64("timestamp", timestamp))
		return false
	}
	if unit.Creator == av.vidx || av.isFaulty(state) || !state.IsCorrectProposal(vhash) {
		return false
	}
	if latest := av.latestUnit(state); latest != nil {
		if latest.Panorama.SeesCorrect(state, vhash) {
			av.log.Error("called on_new_unit with already confirmed proposal", zap.Stringer("unit", vhash))
			return false
		}
	}
	rID := highway.RoundID(timestamp, av.roundExp(state, timestamp))
	return unit.Timestamp == rID
}

// shouldEndorse reports whether vhash is by an honest validator and
// newly vouches for some already-known equivocator.
func (av *ActiveValidator) shouldEndorse(vhash ids.ID, state *highway.State) bool {
	unit, ok := state.Unit(vhash)
	if !ok || state.IsFaulty(unit.Creator) {
		return false
	}
	found := false
	unit.Panorama.Enumerate(func(vidx validators.Index, _ highway.Observation) bool {
		if state.IsFaulty(vidx) && unit.NewHashObs(state, vidx) {
			found = true
			return false
		}
		return true
	})
	return found
}

// newUnit builds and signs a unit with the correct sequence number,
// endorsed set, and round exponent. If pan's own slot for us has
// drifted from the state's record of our last unit, pan is replaced by
// the full citable panorama rather than risk self-equivocation.
func (av *ActiveValidator) newUnit(pan highway.Panorama, timestamp uint64, value []byte, state *highway.State, instanceID uint64) (*highway.SignedUnit, bool) {
	if av.nextProposal != nil {
		av.log.Warn("canceling pending proposal due to new unit", zap.Uint64("pending", av.nextProposal.timestamp))
		av.nextProposal = nil
	}
	if pan.Get(av.vidx) != state.Panorama().Get(av.vidx) {
		av.log.Error("replacing unit panorama to avoid equivocation")
		pan = state.CitablePanorama()
	}
	w := highway.WireUnit{
		Creator:    av.vidx,
		InstanceID: instanceID,
		SeqNumber:  pan.NextSeqNum(state, av.vidx),
		Timestamp:  timestamp,
		RoundExp:   av.roundExp(state, timestamp),
		Panorama:   pan,
		Endorsed:   state.SeenEndorsed(pan),
		HasValue:   value != nil,
		Value:      value,
	}
	su, err := highway.NewSignedUnit(w, av.secret)
	if err != nil {
		av.log.Error("failed to sign unit", zap.Error(err))
		return nil, false
	}
	return su, true
}

// scheduleTimer computes and returns the ScheduleTimer effect for the
// next time we must be woken: the current round's witness offset if
// that has not passed yet, otherwise the next round's leader slot (if
// we lead it) or its own witness offset.
func (av *ActiveValidator) scheduleTimer(timestamp uint64, state *highway.State) []Effect {
	if av.nextTimer > timestamp {
		return nil
	}
	rExp := av.roundExp(state, timestamp)
	rID := highway.RoundID(timestamp, rExp)
	rLen := highway.RoundLen(rExp)
	witnessAt := rID + highway.WitnessOffset(rLen)
	if timestamp < witnessAt {
		av.nextTimer = witnessAt
	} else {
		nextRID := rID + rLen
		if state.Leader(nextRID) == av.vidx {
			av.nextTimer = nextRID
		} else {
			nextRExp := av.roundExp(state, nextRID)
			av.nextTimer = nextRID + highway.WitnessOffset(highway.RoundLen(nextRExp))
		}
	}
	return []Effect{scheduleTimerEffect(av.nextTimer)}
}

// earliestUnitTime returns the earliest timestamp at which we may cast
// our next unit: never before our previous unit, and never a third unit
// within a single round.
func (av *ActiveValidator) earliestUnitTime(state *highway.State) uint64 {
	unit := av.latestUnit(state)
	if unit == nil {
		return 0
	}
	prevHash, ok := unit.Previous()
	if !ok {
		return unit.Timestamp
	}
	prev, ok := state.Unit(prevHash)
	if !ok {
		return unit.Timestamp
	}
	bound := prev.RoundID() + prev.RoundLen()
	if unit.Timestamp > bound {
		return unit.Timestamp
	}
	return bound
}

// latestUnit returns our own most recent accepted unit, if any.
func (av *ActiveValidator) latestUnit(state *highway.State) *highway.Unit {
	h, ok := state.Panorama().Get(av.vidx).Correct()
	if !ok {
		return nil
	}
	u, ok := state.Unit(h)
	if !ok {
		return nil
	}
	return u
}

func (av *ActiveValidator) isFaulty(state *highway.State) bool { return state.IsFaulty(av.vidx) }

// roundExp returns the round exponent of the round containing
// timestamp: nextRoundExp if that's already valid for a unit cast at
// timestamp, otherwise our latest unit's own round exponent. This keeps
// a validator signing at its old (larger) exponent until its round
// actually transitions, rather than jumping mid-round (see DESIGN.md).
func (av *ActiveValidator) roundExp(state *highway.State, timestamp uint64) uint8 {
	unit := av.latestUnit(state)
	if unit == nil {
		return av.nextRoundExp
	}
	maxRE := av.nextRoundExp
	if unit.RoundExp > maxRE {
		maxRE = unit.RoundExp
	}
	if unit.Timestamp < highway.RoundID(timestamp, maxRE) {
		return av.nextRoundExp
	}
	return unit.RoundExp
}

// endorse builds and signs an Endorsements vertex with a single
// endorsement of vhash.
func (av *ActiveValidator) endorse(vhash ids.ID) (highway.Vertex, bool) {
	se, err := highway.NewSignedEndorsement(vhash, av.vidx, av.secret)
	if err != nil {
		av.log.Error("failed to sign endorsement", zap.Error(err))
		return highway.Vertex{}, false
	}
	return highway.EndorsementsVertex(highway.Endorsements{se}), true
}
