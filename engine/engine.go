// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package engine wires one era's highway.State, activevalidator.ActiveValidator
// and finality.Detector together into the single entry point a host
// runtime drives: inbound Timer/Vertex/ConsensusValue/BlockValidated
// events in, outbound NewVertex/ScheduleTimer/RequestNewBlock/
// WeEquivocated/Announce/RequestBlockValidation effects out. An Engine
// is a single-threaded state machine: the host must serialize calls
// into it, never calling it concurrently from more than one goroutine.
package engine

import (
	"slices"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/highway/activevalidator"
	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/finality"
	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/metrics"
	"github.com/luxfi/highway/validators"
)

// EffectKind discriminates the effects an Engine returns to its host.
type EffectKind int

const (
	EffectNewVertex EffectKind = iota
	EffectScheduleTimer
	EffectRequestNewBlock
	EffectWeEquivocated
	EffectAnnounce
	EffectRequestBlockValidation
)

// Effect is the sum type every Engine entry point returns. Exactly the
// field matching Kind is populated.
type Effect struct {
	Kind         EffectKind
	Vertex       highway.Vertex
	Timer        uint64
	BlockContext activevalidator.BlockContext
	Evidence     *highway.Evidence
	Announcement Announcement
	Validation   BlockValidationRequest
}

// Context bundles the host-provided services an Engine needs.
type Context struct {
	Log        log.Logger
	Registerer prometheus.Registerer
}

// Engine runs one era of the Highway protocol for a single local
// validator: a highway.State DAG, the ActiveValidator schedule that
// decides when this validator signs, and the finality.Detector that
// reads a finalized suffix back out of the DAG.
type Engine struct {
	ctx    Context
	cfg    config.EraConfig
	state  *highway.State
	av     *activevalidator.ActiveValidator
	fd     *finality.Detector
	m      *metrics.Metrics
	ownIdx validators.Index

	deactivated bool

	// pendingValidation/pendingVertices hold a received proposal unit
	// between the RequestBlockValidation effect asking the host to
	// execute its value and the matching BlockValidated call reporting
	// the result.
	pendingValidation map[ids.ID]CandidateBlock
	pendingVertices   map[ids.ID]*highway.SignedUnit
}

// NewEra constructs an Engine for one era: a fresh State seeded from vs
// and cfg, a fresh ActiveValidator for ownIdx, and a fresh finality
// Detector. Returns the initial ScheduleTimer effect(s).
func NewEra(cfg config.EraConfig, vs *validators.Set, ownIdx validators.Index, secret *bls.SecretKey, ctx Context) (*Engine, []Effect, error) {
	if ctx.Log == nil {
		ctx.Log = log.NewNoOpLogger()
	}
	state := highway.NewState(vs, cfg.InstanceID, cfg.Params, ctx.Log)
	av, avEffects := activevalidator.New(ownIdx, secret, cfg.StartTime, state, cfg.Params, ctx.Log)

	var m *metrics.Metrics
	if ctx.Registerer != nil {
		var err error
		m, err = metrics.New(ctx.Registerer)
		if err != nil {
			return nil, nil, err
		}
	}

	e := &Engine{
		ctx:               ctx,
		cfg:               cfg,
		state:             state,
		av:                av,
		fd:                finality.NewDetector(cfg.Params.FTT),
		m:                 m,
		ownIdx:            ownIdx,
		pendingValidation: make(map[ids.ID]CandidateBlock),
		pendingVertices:   make(map[ids.ID]*highway.SignedUnit),
	}
	if e.m != nil {
		e.m.SetRoundExponent(cfg.Params.InitRoundExp)
	}
	return e, e.translate(avEffects), nil
}

// State returns the era's protocol state, for read-only inspection by
// the host (e.g. serving a status RPC).
func (e *Engine) State() *highway.State { return e.state }

// Deactivated reports whether this validator has proved its own
// equivocation and stopped producing units.
func (e *Engine) Deactivated() bool { return e.deactivated }

// PendingValidations returns the hashes of proposal units currently
// awaiting a BlockValidated response from the host.
func (e *Engine) PendingValidations() []ids.ID {
	return slices.Collect(maps.Keys(e.pendingValidation))
}

// HandleTimer advances the protocol's internal clock to timestamp,
// returning whatever proposal/witness/rescheduling effects fall due.
func (e *Engine) HandleTimer(timestamp uint64) []Effect {
	if e.deactivated {
		return nil
	}
	return e.translate(e.av.HandleTimer(timestamp, e.state, e.cfg.InstanceID))
}

// HandleVertex processes an inbound Vertex received from a peer (or
// replayed from local storage). A proposal-carrying unit from another
// validator is held back behind an EffectRequestBlockValidation effect
// until BlockValidated reports on it; everything else is applied to
// state immediately.
func (e *Engine) HandleVertex(v highway.Vertex, now uint64) []Effect {
	if v.Kind == highway.VertexKindUnit && v.Unit.HasValue && v.Unit.Creator != e.ownIdx {
		hash := v.Unit.Hash()
		cand := CandidateBlock{Hash: hash, Value: v.Unit.Value, Timestamp: v.Unit.Timestamp}
		e.pendingValidation[hash] = cand
		e.pendingVertices[hash] = v.Unit
		if e.m != nil {
			e.m.SetPendingValidations(len(e.pendingValidation))
		}
		return []Effect{{Kind: EffectRequestBlockValidation, Validation: BlockValidationRequest{Candidate: cand}}}
	}
	return e.acceptVertex(v, now)
}

// BlockValidated reports the host's verdict on a candidate previously
// requested via an EffectRequestBlockValidation effect. An invalid
// candidate's unit is discarded without ever entering state: an invalid
// value is not itself proof of equivocation, just an unusable proposal.
func (e *Engine) BlockValidated(hash ids.ID, valid bool, now uint64) []Effect {
	_, known := e.pendingValidation[hash]
	su := e.pendingVertices[hash]
	delete(e.pendingValidation, hash)
	delete(e.pendingVertices, hash)
	if e.m != nil {
		e.m.SetPendingValidations(len(e.pendingValidation))
	}
	if !known || su == nil {
		return nil
	}
	if !valid {
		e.ctx.Log.Warn("discarding proposal with invalid value", zap.Stringer("hash", hash))
		return nil
	}
	return e.acceptVertex(highway.UnitVertex(su), now)
}

// RequestNewBlock asks the local ActiveValidator to start a new
// proposal attempt at timestamp, outside of its own leader-slot timer
// check. It returns no effects while an earlier request is still
// awaiting its Propose call.
func (e *Engine) RequestNewBlock(timestamp uint64) []Effect {
	if e.deactivated {
		return nil
	}
	eff, ok := e.av.RequestNewBlock(e.state, e.cfg.InstanceID, timestamp)
	if !ok {
		return nil
	}
	return e.translate([]activevalidator.Effect{eff})
}

// Propose supplies the consensus value the host produced in answer to a
// prior EffectRequestNewBlock effect, completing the pending proposal.
func (e *Engine) Propose(value []byte, bc activevalidator.BlockContext) []Effect {
	if e.deactivated {
		return nil
	}
	return e.translate(e.av.Propose(value, bc, e.state, e.cfg.InstanceID))
}

// MarkTerminal records that block h is the era's switch block: the
// host observed the external stop condition (era length, upgrade
// marker) that ends this era after h. A proposal cast on top of a
// terminal block carries no value.
func (e *Engine) MarkTerminal(h ids.ID) { e.state.MarkTerminal(h) }

// acceptVertex applies v to state, relaying any ActiveValidator and
// finality-detector reactions it triggers.
func (e *Engine) acceptVertex(v highway.Vertex, now uint64) []Effect {
	var out []Effect
	switch v.Kind {
	case highway.VertexKindUnit:
		wasFaulty := e.state.IsFaulty(v.Unit.Creator)
		hash, err := e.state.AddUnit(v.Unit)
		if err != nil {
			e.ctx.Log.Warn("rejected unit vertex", zap.Error(err))
			return nil
		}
		if e.m != nil {
			e.m.UnitAccepted()
		}
		if v.Unit.HasValue {
			out = append(out, e.announce(Announcement{
				Kind: AnnounceProposed, BlockHash: hash,
				Height: e.blockHeight(hash), Timestamp: v.Unit.Timestamp,
			}))
		}
		if !wasFaulty {
			if ev, ok := e.state.OptEvidence(v.Unit.Creator); ok {
				out = append(out, e.onFault(ev)...)
			}
		}
		out = append(out, e.translate(e.av.OnNewUnit(hash, now, e.state, e.cfg.InstanceID))...)

	case highway.VertexKindEvidence:
		newly, err := e.state.AddEvidence(v.Evidence)
		if err != nil {
			e.ctx.Log.Warn("rejected evidence vertex", zap.Error(err))
			return nil
		}
		if newly {
			out = append(out, e.onFault(v.Evidence)...)
			out = append(out, e.translate(e.av.OnNewEvidence(v.Evidence, e.state))...)
		}

	case highway.VertexKindEndorsements:
		if _, err := e.state.AddEndorsements(v.Endorsements); err != nil {
			e.ctx.Log.Warn("rejected endorsements vertex", zap.Error(err))
			return nil
		}
	}
	out = append(out, e.checkFinality()...)
	return out
}

// translate converts ActiveValidator effects into Engine effects,
// applying any produced vertex to this engine's own state before it is
// handed to the host for gossip — matching the Highway paper's
// single-threaded "effects are applied locally, then broadcast" loop.
func (e *Engine) translate(avEffects []activevalidator.Effect) []Effect {
	var out []Effect
	for _, eff := range avEffects {
		switch eff.Kind {
		case activevalidator.EffectNewVertex:
			if e.m != nil {
				if eff.Vertex.Kind == highway.VertexKindUnit {
					e.m.UnitProduced()
				} else if eff.Vertex.Kind == highway.VertexKindEndorsements {
					e.m.EndorsementSent()
				}
			}
			out = append(out, e.acceptVertex(eff.Vertex, e.vertexTimestamp(eff.Vertex))...)
			out = append(out, Effect{Kind: EffectNewVertex, Vertex: eff.Vertex})
		case activevalidator.EffectScheduleTimer:
			out = append(out, Effect{Kind: EffectScheduleTimer, Timer: eff.Timer})
		case activevalidator.EffectRequestNewBlock:
			out = append(out, Effect{Kind: EffectRequestNewBlock, BlockContext: eff.BlockContext})
		case activevalidator.EffectWeEquivocated:
			// The Fault announcement for our own evidence was already
			// made when AddUnit or AddEvidence recorded it.
			if e.deactivated {
				continue
			}
			e.deactivated = true
			out = append(out, Effect{Kind: EffectWeEquivocated, Evidence: eff.Evidence})
		}
	}
	return out
}

func (e *Engine) vertexTimestamp(v highway.Vertex) uint64 {
	if v.Kind == highway.VertexKindUnit {
		return v.Unit.Timestamp
	}
	return 0
}

func (e *Engine) onFault(ev *highway.Evidence) []Effect {
	if e.m != nil {
		e.m.EquivocationDetected()
	}
	return []Effect{e.announce(Announcement{
		Kind: AnnounceFault, Perpetrator: ev.Perpetrator(), Evidence: ev,
	})}
}

func (e *Engine) announce(a Announcement) Effect {
	return Effect{Kind: EffectAnnounce, Announcement: a}
}

func (e *Engine) blockHeight(h ids.ID) uint64 {
	if b, ok := e.state.Block(h); ok {
		return b.Height
	}
	return 0
}

// checkFinality drains every block the finality detector now considers
// irrevocable, in order, announcing each. A terminal block's
// announcement carries the era's accumulated equivocators so the host
// can roll them out of the next era's validator set.
func (e *Engine) checkFinality() []Effect {
	var out []Effect
	for {
		h, ok := e.fd.NextFinalized(e.state)
		if !ok {
			break
		}
		b, ok := e.state.Block(h)
		if !ok {
			break
		}
		ann := Announcement{Kind: AnnounceFinalized, BlockHash: h, Height: b.Height}
		if e.state.IsTerminalBlock(h) {
			ann.EraEnd = &highway.EraEnd{Equivocators: e.equivocators()}
		}
		if e.m != nil {
			e.m.BlockFinalized(b.Height)
		}
		out = append(out, e.announce(ann))
	}
	return out
}

func (e *Engine) equivocators() []validators.Index {
	var out []validators.Index
	for i := 0; i < e.state.Validators().Len(); i++ {
		idx := validators.Index(i)
		if e.state.IsFaulty(idx) {
			out = append(out, idx)
		}
	}
	return out
}
