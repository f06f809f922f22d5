// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunable parameters of the Highway
// active-validator engine.
package config

import (
	"errors"
	"time"
)

// Error variables for parameter validation.
var (
	ErrParametersInvalid    = errors.New("invalid highway parameters")
	ErrInvalidRoundExpRange = errors.New("min round exponent must be <= max round exponent")
	ErrInvalidInitRoundExp  = errors.New("init round exponent must be within [min, max] round exponent")
	ErrFTTTooLow            = errors.New("finality fault tolerance threshold must be > 0")
	ErrEndorsementCapTooLow = errors.New("endorsement evidence cap must be >= 1")
)

// Parameters defines the consensus parameters of a Highway era.
//
// Round length is always a power of two number of milliseconds:
// 1 << RoundExp. MinRoundExp/MaxRoundExp bound the adaptive round
// exponent a validator may pick; InitRoundExp seeds a freshly
// constructed ActiveValidator.
type Parameters struct {
	// MinRoundExp is the smallest round exponent a validator may use.
	MinRoundExp uint8
	// MaxRoundExp is the largest round exponent a validator may use.
	MaxRoundExp uint8
	// InitRoundExp is the round exponent a fresh ActiveValidator starts at.
	InitRoundExp uint8
	// EndorsementEvidenceCap bounds how many endorsements are tracked per unit.
	EndorsementEvidenceCap int
	// FTT is the fault-tolerance threshold weight used by the finality
	// detector: a proposal finalizes once its summit weight plus FTT
	// reaches the total validator weight, so FTT 0 needs the full weight.
	FTT uint64
}

// Default returns sane defaults for a long-running network.
func Default() Parameters {
	return Parameters{
		MinRoundExp:            4,  // 16ms
		MaxRoundExp:            19, // ~500s
		InitRoundExp:           4,
		EndorsementEvidenceCap: 1024,
		FTT:                    1,
	}
}

// Testnet returns parameters tuned for a small, fast test network.
func Testnet() Parameters {
	p := Default()
	p.MinRoundExp = 2 // 4ms
	p.InitRoundExp = 2
	p.MaxRoundExp = 14
	return p
}

// Local returns parameters for single-process simulation and unit tests.
func Local() Parameters {
	p := Default()
	p.MinRoundExp = 4
	p.InitRoundExp = 4
	p.MaxRoundExp = 10
	p.FTT = 0
	return p
}

// Validate checks internal consistency of the parameters.
func (p Parameters) Validate() error {
	if p.MinRoundExp > p.MaxRoundExp {
		return ErrInvalidRoundExpRange
	}
	if p.InitRoundExp < p.MinRoundExp || p.InitRoundExp > p.MaxRoundExp {
		return ErrInvalidInitRoundExp
	}
	if p.EndorsementEvidenceCap < 1 {
		return ErrEndorsementCapTooLow
	}
	return nil
}

// RoundLen returns the round length in milliseconds for a round exponent.
func RoundLen(roundExp uint8) uint64 {
	return uint64(1) << roundExp
}

// WitnessOffset returns the offset into a round, in milliseconds, at
// which witness units are due: floor(round_len * 2 / 3).
func WitnessOffset(roundLen uint64) uint64 {
	return roundLen * 2 / 3
}

// RoundID returns the id (start timestamp) of the round containing t,
// given a round exponent.
func RoundID(t uint64, roundExp uint8) uint64 {
	roundLen := RoundLen(roundExp)
	return (t / roundLen) * roundLen
}

// EraConfig parameterizes one era: the domain-separating instance id,
// the consensus parameters and the era's start time. The validator set
// is passed to engine.NewEra separately, and the switch-block stop
// condition is recorded later through Engine.MarkTerminal. Era rotation spawns
// a fresh State/ActiveValidator pair from a fresh EraConfig; rotation
// logic itself (deciding *when* to roll to a new EraConfig) is out of
// scope for this engine.
type EraConfig struct {
	// InstanceID domain-separates signed messages and leader selection
	// seeds across eras.
	InstanceID uint64
	// Params are the consensus parameters in effect for this era.
	Params Parameters
	// StartTime is the wall-clock time (ms) the era's first round begins.
	StartTime uint64
}

// RoundDuration returns the wall-clock duration of one round at the
// given round exponent, as a time.Duration, for display/logging only
// (the engine itself operates on raw millisecond Timestamps).
func RoundDuration(roundExp uint8) time.Duration {
	return time.Duration(RoundLen(roundExp)) * time.Millisecond
}
