// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/validators"
)

// twoValidatorFixture builds Alice (weight 3) and Bob (weight 4) over a
// fresh State, the two-validator shape most of this package's tests
// build on.
func twoValidatorFixture(t *testing.T) (st *State, secrets []*bls.SecretKey, alice, bob validators.Index) {
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
	st = NewState(set, 1, config.Local(), nil)
	return st, secrets, 0, 1
}

func sign(t *testing.T, w WireUnit, sk *bls.SecretKey) *SignedUnit {
	t.Helper()
	su, err := NewSignedUnit(w, sk)
	require.NoError(t, err)
	return su
}
