// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validators

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

func newTestValidator(t *testing.T, weight uint64) Validator {
	t.Helper()
	sk, err := bls.NewSecretKey()
	require.NoError(t, err)
	return Validator{
		NodeID:    ids.GenerateTestNodeID(),
		PublicKey: sk.PublicKey(),
		Weight:    weight,
	}
}

func TestNewSetRejectsEmpty(t *testing.T) {
	_, err := NewSet(nil)
	require.ErrorIs(t, err, ErrEmptySet)
}

func TestNewSetRejectsZeroWeight(t *testing.T) {
	v := newTestValidator(t, 0)
	_, err := NewSet([]Validator{v})
	require.ErrorIs(t, err, ErrZeroWeight)
}

func TestSetBasics(t *testing.T) {
	require := require.New(t)
	alice := newTestValidator(t, 3)
	bob := newTestValidator(t, 4)

	set, err := NewSet([]Validator{alice, bob})
	require.NoError(err)
	require.Equal(2, set.Len())
	require.Equal(uint64(7), set.TotalWeight())
	require.Equal(uint64(3), set.Weight(0))
	require.Equal(uint64(4), set.Weight(1))
	require.Equal(alice.NodeID, set.Get(0).NodeID)
	require.Equal(bob.NodeID, set.Get(1).NodeID)
}

func TestLeaderIsDeterministicAndInRange(t *testing.T) {
	require := require.New(t)
	alice := newTestValidator(t, 3)
	bob := newTestValidator(t, 4)
	set, err := NewSet([]Validator{alice, bob})
	require.NoError(err)

	for _, seed := range []uint64{0, 1, 7, 12345, 1 << 40} {
		first := set.Leader(seed)
		second := set.Leader(seed)
		require.Equal(first, second, "leader must be a pure function of the seed")
		require.Less(int(first), set.Len())
	}
}

func TestLeaderCoversEveryValidator(t *testing.T) {
	require := require.New(t)
	alice := newTestValidator(t, 3)
	bob := newTestValidator(t, 4)
	set, err := NewSet([]Validator{alice, bob})
	require.NoError(err)

	seen := map[Index]bool{}
	for seed := uint64(0); seed < 100; seed++ {
		seen[set.Leader(seed)] = true
	}
	require.Len(seen, 2, "both validators should lead some seed across a wide enough sample")
}

func TestLeaderSeedDeterministic(t *testing.T) {
	require := require.New(t)
	require.Equal(LeaderSeed(1, 416), LeaderSeed(1, 416))
	require.NotEqual(LeaderSeed(1, 416), LeaderSeed(1, 432))
	require.NotEqual(LeaderSeed(1, 416), LeaderSeed(2, 416))
}
