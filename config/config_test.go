// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundArithmetic(t *testing.T) {
	require := require.New(t)

	require.Equal(uint64(16), RoundLen(4))
	require.Equal(uint64(10), WitnessOffset(RoundLen(4))) // floor(16*2/3)
	require.Equal(uint64(400), RoundID(410, 4))
	require.Equal(uint64(416), RoundID(425, 4))
	require.Equal(uint64(416), RoundID(416, 4))
}

func TestParametersValidate(t *testing.T) {
	require := require.New(t)

	p := Default()
	require.NoError(p.Validate())

	bad := p
	bad.MinRoundExp, bad.MaxRoundExp = 10, 5
	require.ErrorIs(bad.Validate(), ErrInvalidRoundExpRange)

	bad = p
	bad.InitRoundExp = p.MaxRoundExp + 1
	require.ErrorIs(bad.Validate(), ErrInvalidInitRoundExp)

	bad = p
	bad.EndorsementEvidenceCap = 0
	require.ErrorIs(bad.Validate(), ErrEndorsementCapTooLow)
}

func TestLocalParametersDisableFTT(t *testing.T) {
	require := require.New(t)
	p := Local()
	require.NoError(p.Validate())
	require.Equal(uint64(0), p.FTT)
}
