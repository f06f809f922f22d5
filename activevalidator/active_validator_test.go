// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package activevalidator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

const instanceID = 1

func buildState(t *testing.T, weights []uint64) (*highway.State, []*bls.SecretKey, *validators.Set) {
	t.Helper()
	secrets := make([]*bls.SecretKey, len(weights))
	vs := make([]validators.Validator, len(weights))
	for i, w := range weights {
		sk, err := bls.NewSecretKey()
		require.NoError(t, err)
		secrets[i] = sk
		vs[i] = validators.Validator{NodeID: ids.GenerateTestNodeID(), PublicKey: sk.PublicKey(), Weight: w}
	}
	set, err := validators.NewSet(vs)
	require.NoError(t, err)
	return highway.NewState(set, instanceID, config.Local(), log.NewNoOpLogger()), secrets, set
}

func vertexEffects(effects []Effect) []Effect {
	var out []Effect
	for _, e := range effects {
		if e.Kind == EffectNewVertex {
			out = append(out, e)
		}
	}
	return out
}

func TestStaleTimerYieldsNoEffects(t *testing.T) {
	require := require.New(t)
	state, secrets, _ := buildState(t, []uint64{3, 4})

	av, initEffects := New(0, secrets[0], 0, state, config.Local(), log.NewNoOpLogger())
	require.Len(initEffects, 1)
	require.Equal(EffectScheduleTimer, initEffects[0].Kind)
	require.Equal(uint64(10), initEffects[0].Timer) // witness offset of round [0,16)

	// 5 falls strictly between the round start and its witness offset,
	// and the timer has already been coalesced ahead to 10: nothing
	// should fire.
	effects := av.HandleTimer(5, state, instanceID)
	require.Empty(effects)
}

func TestFaultySelfTimerYieldsNoEffects(t *testing.T) {
	require := require.New(t)
	state, secrets, _ := buildState(t, []uint64{3, 4})

	// Manufacture evidence against validator 0 directly, without routing
	// it through AddUnit's sequence bookkeeping.
	pan := highway.NewPanorama(2)
	u1 := mustSign(t, highway.WireUnit{Creator: 0, InstanceID: instanceID, SeqNumber: 0, Timestamp: 0, RoundExp: 4, Panorama: pan, HasValue: true, Value: []byte("A")}, secrets[0])
	u2 := mustSign(t, highway.WireUnit{Creator: 0, InstanceID: instanceID, SeqNumber: 0, Timestamp: 0, RoundExp: 4, Panorama: pan, HasValue: true, Value: []byte("B")}, secrets[0])
	newly, err := state.AddEvidence(&highway.Evidence{Unit1: u1, Unit2: u2})
	require.NoError(err)
	require.True(newly)
	require.True(state.IsFaulty(0))

	av, _ := New(0, secrets[0], 0, state, config.Local(), log.NewNoOpLogger())
	effects := av.HandleTimer(16, state, instanceID)
	require.Empty(effects, "a self-proved equivocator must stop producing any effect")
}

func TestLateProposeMismatchIsDropped(t *testing.T) {
	require := require.New(t)
	state, secrets, _ := buildState(t, []uint64{3, 4})

	av, _ := New(0, secrets[0], 0, state, config.Local(), log.NewNoOpLogger())

	eff, ok := av.RequestNewBlock(state, instanceID, 0)
	require.True(ok)
	require.Equal(EffectRequestNewBlock, eff.Kind)

	mismatched := eff.BlockContext
	mismatched.Timestamp++
	out := av.Propose([]byte("value"), mismatched, state, instanceID)
	require.Empty(out, "a stale or mismatched consensus-value reply must be dropped silently")
}

func TestProposeWithoutPendingRequestIsDropped(t *testing.T) {
	require := require.New(t)
	state, secrets, _ := buildState(t, []uint64{3, 4})
	av, _ := New(0, secrets[0], 0, state, config.Local(), log.NewNoOpLogger())

	out := av.Propose([]byte("value"), BlockContext{Timestamp: 0}, state, instanceID)
	require.Empty(out)
}

func TestRequestNewBlockRefusesSecondCallWhilePending(t *testing.T) {
	require := require.New(t)
	state, secrets, _ := buildState(t, []uint64{3, 4})
	av, _ := New(0, secrets[0], 0, state, config.Local(), log.NewNoOpLogger())

	_, ok := av.RequestNewBlock(state, instanceID, 0)
	require.True(ok)

	_, ok = av.RequestNewBlock(state, instanceID, 16)
	require.False(ok, "a second request while one is outstanding must be refused")
}

// TestHappyPathRoundGainsFullCitingWeight drives one full Highway round
// across two validators by hand (proposal, confirmation, both witnesses)
// and checks that fork choice picks the proposal with the full validator
// weight citing it.
func TestHappyPathRoundGainsFullCitingWeight(t *testing.T) {
	require := require.New(t)
	state, secrets, set := buildState(t, []uint64{3, 4})
	params := config.Local()

	const roundID = uint64(0)
	leader := state.Leader(roundID)
	other := validators.Index(1 - leader)
	require.NotEqual(leader, other)

	avLeader, _ := New(leader, secrets[leader], 0, state, params, log.NewNoOpLogger())

	roundStartEffects := avLeader.HandleTimer(roundID, state, instanceID)
	require.Empty(vertexEffects(roundStartEffects), "the leader's round-start tick requests a value, it does not yet emit a unit")

	var reqEffect Effect
	found := false
	for _, e := range roundStartEffects {
		if e.Kind == EffectRequestNewBlock {
			reqEffect = e
			found = true
		}
	}
	require.True(found, "leader must request a new block at its own round's start")

	proposeEffects := avLeader.Propose([]byte("block-1"), reqEffect.BlockContext, state, instanceID)
	require.Len(vertexEffects(proposeEffects), 1)
	propVertex := vertexEffects(proposeEffects)[0].Vertex
	require.Equal(highway.VertexKindUnit, propVertex.Kind)
	require.True(propVertex.Unit.HasValue)
	require.Equal([]byte("block-1"), propVertex.Unit.Value)

	propHash, err := state.AddUnit(propVertex.Unit)
	require.NoError(err)

	avOther, _ := New(other, secrets[other], 0, state, params, log.NewNoOpLogger())
	confEffects := vertexEffects(avOther.OnNewUnit(propHash, 1, state, instanceID))
	require.Len(confEffects, 1, "the non-leader must confirm a correct proposal exactly once")
	confVertex := confEffects[0].Vertex
	require.False(confVertex.Unit.HasValue)
	confHash, err := state.AddUnit(confVertex.Unit)
	require.NoError(err)

	const witnessAt = roundID + 10 // witness offset of a 16ms round

	leaderWitness := vertexEffects(avLeader.HandleTimer(witnessAt, state, instanceID))
	require.Len(leaderWitness, 1)
	require.False(leaderWitness[0].Vertex.Unit.HasValue)
	_, err = state.AddUnit(leaderWitness[0].Vertex.Unit)
	require.NoError(err)

	otherWitness := vertexEffects(avOther.HandleTimer(witnessAt, state, instanceID))
	require.Len(otherWitness, 1)
	require.False(otherWitness[0].Vertex.Unit.HasValue)
	_, err = state.AddUnit(otherWitness[0].Vertex.Unit)
	require.NoError(err)

	require.False(state.IsFaulty(leader))
	require.False(state.IsFaulty(other))

	// Both validators have now cast a witness unit that sees the proposal:
	// fork choice must see the proposal as the sole, fully-weighted tip.
	tip, ok := state.ForkChoice(state.Panorama())
	require.True(ok)
	require.Equal(propHash, tip)
	require.Equal(set.TotalWeight(), state.CitingWeight(state.Panorama(), propHash))
	_ = confHash
}

// TestOnNewEvidenceEndorsesUnitsThatNewlyObserveThePerpetrator: once
// evidence lands against a validator, every already-known correct unit
// that newly cites the perpetrator earns an endorsement from the
// tested validator.
func TestOnNewEvidenceEndorsesUnitsThatNewlyObserveThePerpetrator(t *testing.T) {
	require := require.New(t)
	state, secrets, _ := buildState(t, []uint64{3, 4, 5})
	const perpetrator, witness, tested = validators.Index(0), validators.Index(1), validators.Index(2)

	u0 := mustSign(t, highway.WireUnit{Creator: perpetrator, InstanceID: instanceID, SeqNumber: 0, Timestamp: 0, RoundExp: 4, Panorama: highway.NewPanorama(3)}, secrets[perpetrator])
	h0, err := state.AddUnit(u0)
	require.NoError(err)

	citing := highway.NewPanorama(3).Set(perpetrator, highway.Observation{Kind: highway.ObsCorrect, Hash: h0})
	u1 := mustSign(t, highway.WireUnit{Creator: witness, InstanceID: instanceID, SeqNumber: 0, Timestamp: 1, RoundExp: 4, Panorama: citing}, secrets[witness])
	h1, err := state.AddUnit(u1)
	require.NoError(err)

	u0b := mustSign(t, highway.WireUnit{Creator: perpetrator, InstanceID: instanceID, SeqNumber: 0, Timestamp: 0, RoundExp: 4, Panorama: highway.NewPanorama(3), HasValue: true, Value: []byte("other-fork")}, secrets[perpetrator])
	newly, err := state.AddEvidence(&highway.Evidence{Unit1: u0, Unit2: u0b})
	require.NoError(err)
	require.True(newly)

	avTested, _ := New(tested, secrets[tested], 0, state, config.Local(), log.NewNoOpLogger())
	effects := vertexEffects(avTested.OnNewEvidence(&highway.Evidence{Unit1: u0, Unit2: u0b}, state))
	require.Len(effects, 1)
	require.Equal(highway.VertexKindEndorsements, effects[0].Vertex.Kind)
	require.Len(effects[0].Vertex.Endorsements, 1)
	require.Equal(h1, effects[0].Vertex.Endorsements[0].UnitHash)
	require.Equal(tested, effects[0].Vertex.Endorsements[0].Endorser)
}

func mustSign(t *testing.T, w highway.WireUnit, sk *bls.SecretKey) *highway.SignedUnit {
	t.Helper()
	su, err := highway.NewSignedUnit(w, sk)
	require.NoError(t, err)
	return su
}
