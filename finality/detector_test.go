// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

// buildTwoValidatorState wires Alice (weight 3) and Bob (weight 4) over a
// fresh state.
func buildTwoValidatorState(t *testing.T) (st *highway.State, secrets []*bls.SecretKey, alice, bob validators.Index) {
	t.Helper()
	weights := []uint64{3, 4}
	secrets = make([]*bls.SecretKey, len(weights))
	vs := make([]validators.Validator, len(weights))
	for i, w := range weights {
		sk, err := bls.NewSecretKey()
		require.NoError(t, err)
		secrets[i] = sk
		vs[i] = validators.Validator{NodeID: ids.GenerateTestNodeID(), PublicKey: sk.PublicKey(), Weight: w}
	}
	set, err := validators.NewSet(vs)
	require.NoError(t, err)
	st = highway.NewState(set, 1, config.Local(), nil)
	return st, secrets, 0, 1
}

func signUnit(t *testing.T, w highway.WireUnit, sk *bls.SecretKey) *highway.SignedUnit {
	t.Helper()
	su, err := highway.NewSignedUnit(w, sk)
	require.NoError(t, err)
	return su
}

// TestNextFinalizedRequiresAFullWitnessRoundTrip builds the proposal,
// confirmation, and witness units of a single Highway round by hand and
// checks that the proposal only finalizes once both validators' witness
// units have landed: a lone proposal+confirmation never forms the
// level-1 summit this detector requires (see DESIGN.md open question e).
func TestNextFinalizedRequiresAFullWitnessRoundTrip(t *testing.T) {
	require := require.New(t)
	st, secrets, alice, bob := buildTwoValidatorState(t)
	det := NewDetector(0) // FTT = 0: summit must cover the entire weight.

	proposal := signUnit(t, highway.WireUnit{
		Creator: alice, InstanceID: 1, SeqNumber: 0, Timestamp: 0, RoundExp: 4,
		Panorama: highway.NewPanorama(2), HasValue: true, Value: []byte("block-1"),
	}, secrets[alice])
	propHash, err := st.AddUnit(proposal)
	require.NoError(err)

	_, ok := det.NextFinalized(st)
	require.False(ok, "a bare proposal cannot finalize")

	confPan := highway.NewPanorama(2).Set(alice, highway.Observation{Kind: highway.ObsCorrect, Hash: propHash})
	confirmation := signUnit(t, highway.WireUnit{
		Creator: bob, InstanceID: 1, SeqNumber: 0, Timestamp: 1, RoundExp: 4, Panorama: confPan,
	}, secrets[bob])
	confHash, err := st.AddUnit(confirmation)
	require.NoError(err)

	_, ok = det.NextFinalized(st)
	require.False(ok, "proposal + single confirmation is not yet a level-1 summit")

	witnessAPan := highway.NewPanorama(2)
	witnessAPan = witnessAPan.Set(alice, highway.Observation{Kind: highway.ObsCorrect, Hash: propHash})
	witnessAPan = witnessAPan.Set(bob, highway.Observation{Kind: highway.ObsCorrect, Hash: confHash})
	witnessA := signUnit(t, highway.WireUnit{
		Creator: alice, InstanceID: 1, SeqNumber: 1, Timestamp: 100, RoundExp: 4, Panorama: witnessAPan,
	}, secrets[alice])
	witnessAHash, err := st.AddUnit(witnessA)
	require.NoError(err)

	_, ok = det.NextFinalized(st)
	require.False(ok, "only one witness has landed so far")

	witnessBPan := highway.NewPanorama(2)
	witnessBPan = witnessBPan.Set(alice, highway.Observation{Kind: highway.ObsCorrect, Hash: witnessAHash})
	witnessBPan = witnessBPan.Set(bob, highway.Observation{Kind: highway.ObsCorrect, Hash: confHash})
	witnessB := signUnit(t, highway.WireUnit{
		Creator: bob, InstanceID: 1, SeqNumber: 1, Timestamp: 101, RoundExp: 4, Panorama: witnessBPan,
	}, secrets[bob])
	_, err = st.AddUnit(witnessB)
	require.NoError(err)

	finalized, ok := det.NextFinalized(st)
	require.True(ok, "both validators have now witnessed the round; the summit is complete")
	require.Equal(propHash, finalized)
	require.Equal(finalized, det.LastFinalized())

	_, ok = det.NextFinalized(st)
	require.False(ok, "finalization is monotonic: nothing new to report without a later proposal")
}

func TestNextFinalizedNoopOnEmptyState(t *testing.T) {
	require := require.New(t)
	st, _, _, _ := buildTwoValidatorState(t)
	det := NewDetector(0)
	_, ok := det.NextFinalized(st)
	require.False(ok)
	require.Equal(ids.Empty, det.LastFinalized())
}
