// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Command highwaysim drives a minimal two-validator Highway era by hand,
// relaying the NewVertex effects each engine produces the way a host's
// gossip layer would, and prints each round's outcome. It exercises the
// proposal/confirmation/witness/finality round trip end to end,
// optionally injecting a self-equivocation to show the fault path.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/config"
	"github.com/luxfi/highway/engine"
	"github.com/luxfi/highway/highway"
	"github.com/luxfi/highway/validators"
)

var logger = slog.Default().With("module", "highwaysim")

func main() {
	rounds := flag.Int("rounds", 3, "number of rounds to simulate")
	weightA := flag.Uint64("weight-a", 3, "voting weight of validator A")
	weightB := flag.Uint64("weight-b", 4, "voting weight of validator B")
	byzantineRound := flag.Int("byzantine-round", -1, "round at which that round's leader equivocates (-1 disables)")
	verbose := flag.Bool("verbose", false, "print every relayed vertex, not just round summaries")
	flag.Parse()

	secretA, err := bls.NewSecretKey()
	if err != nil {
		logger.Error("generating validator A key", "error", err)
		os.Exit(1)
	}
	secretB, err := bls.NewSecretKey()
	if err != nil {
		logger.Error("generating validator B key", "error", err)
		os.Exit(1)
	}
	set, err := validators.NewSet([]validators.Validator{
		{NodeID: ids.GenerateTestNodeID(), PublicKey: secretA.PublicKey(), Weight: *weightA},
		{NodeID: ids.GenerateTestNodeID(), PublicKey: secretB.PublicKey(), Weight: *weightB},
	})
	if err != nil {
		logger.Error("building validator set", "error", err)
		os.Exit(1)
	}

	params := config.Local()
	cfg := config.EraConfig{InstanceID: 1, Params: params, StartTime: 0}

	engA, _, err := engine.NewEra(cfg, set, 0, secretA, engine.Context{})
	if err != nil {
		logger.Error("starting validator A's engine", "error", err)
		os.Exit(1)
	}
	engB, _, err := engine.NewEra(cfg, set, 1, secretB, engine.Context{})
	if err != nil {
		logger.Error("starting validator B's engine", "error", err)
		os.Exit(1)
	}
	secrets := map[validators.Index]*bls.SecretKey{0: secretA, 1: secretB}
	engines := map[validators.Index]*engine.Engine{0: engA, 1: engB}

	fmt.Printf("\n=== Highway Active-Validator Simulator ===\n")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Rounds:              %d\n", *rounds)
	fmt.Printf("  Validator weights:   A=%d, B=%d (total %d)\n", *weightA, *weightB, set.TotalWeight())
	fmt.Printf("  Round length:        %dms (witness offset %dms)\n",
		config.RoundLen(params.InitRoundExp), config.WitnessOffset(config.RoundLen(params.InitRoundExp)))
	if *byzantineRound >= 0 {
		fmt.Printf("  Byzantine round:     %d (the round's leader equivocates)\n", *byzantineRound)
	}

	start := time.Now()
	finalizedCount := 0
	roundLen := config.RoundLen(params.InitRoundExp)
	witnessOffset := config.WitnessOffset(roundLen)

	for round := 0; round < *rounds; round++ {
		roundID := uint64(round) * roundLen
		finalized, err := runRound(engines, secrets, roundID, witnessOffset, round, *byzantineRound, *verbose)
		if err != nil {
			logger.Error("round failed", "round", round, "error", err)
			os.Exit(1)
		}
		if finalized {
			finalizedCount++
		}
	}

	fmt.Printf("\n=== Results ===\n")
	fmt.Printf("Rounds simulated:     %d\n", *rounds)
	fmt.Printf("Rounds finalized:     %d\n", finalizedCount)
	fmt.Printf("Elapsed:              %s\n", time.Since(start))
}

// runRound drives one full Highway round (proposal, confirmation, both
// witness units) between the two engines and reports whether the
// proposal finalized.
func runRound(engines map[validators.Index]*engine.Engine, secrets map[validators.Index]*bls.SecretKey, roundID, witnessOffset uint64, round, byzantineRound int, verbose bool) (bool, error) {
	leader := engines[0].State().Leader(roundID)
	other := validators.Index(1 - leader)
	leaderEng, otherEng := engines[leader], engines[other]

	if verbose {
		fmt.Printf("\n--- Round %d (id=%d), leader=%d ---\n", round, roundID, leader)
	}

	tickEffs := leaderEng.HandleTimer(roundID)
	reqEff, ok := findKind(tickEffs, engine.EffectRequestNewBlock)
	if !ok {
		return false, fmt.Errorf("leader %d did not request a value at round %d", leader, round)
	}

	proposeEffs := leaderEng.Propose([]byte(fmt.Sprintf("block-%d", round)), reqEff.BlockContext)
	propVertex, ok := vertexOf(proposeEffs)
	if !ok {
		return false, fmt.Errorf("leader %d produced no proposal at round %d", leader, round)
	}
	propHash := propVertex.Unit.Hash()
	logVertex(verbose, "proposal", leader, propHash)

	recvPropEffs := otherEng.HandleVertex(propVertex, roundID)
	var announced []engine.Announcement
	announced = append(announced, announcementsOf(recvPropEffs)...)

	valReq, ok := findKind(recvPropEffs, engine.EffectRequestBlockValidation)
	if !ok {
		return false, fmt.Errorf("validator %d did not request validation of the proposal", other)
	}
	validatedEffs := otherEng.BlockValidated(valReq.Validation.Candidate.Hash, true, roundID)
	announced = append(announced, announcementsOf(validatedEffs)...)

	confVertex, ok := vertexOf(validatedEffs)
	if !ok {
		return false, fmt.Errorf("validator %d produced no confirmation at round %d", other, round)
	}
	logVertex(verbose, "confirmation", other, confVertex.Unit.Hash())

	announced = append(announced, announcementsOf(leaderEng.HandleVertex(confVertex, roundID))...)

	witnessAt := roundID + witnessOffset

	leaderWitnessEffs := leaderEng.HandleTimer(witnessAt)
	witnessA, ok := vertexOf(leaderWitnessEffs)
	if !ok {
		return false, fmt.Errorf("leader %d cast no witness at round %d", leader, round)
	}
	logVertex(verbose, "witness", leader, witnessA.Unit.Hash())
	announced = append(announced, announcementsOf(otherEng.HandleVertex(witnessA, witnessAt))...)

	otherWitnessEffs := otherEng.HandleTimer(witnessAt)
	witnessB, ok := vertexOf(otherWitnessEffs)
	if !ok {
		return false, fmt.Errorf("validator %d cast no witness at round %d", other, round)
	}
	logVertex(verbose, "witness", other, witnessB.Unit.Hash())
	announced = append(announced, announcementsOf(leaderEng.HandleVertex(witnessB, witnessAt))...)

	finalized := false
	for _, ann := range announced {
		switch ann.Kind {
		case engine.AnnounceFinalized:
			if ann.BlockHash == propHash {
				finalized = true
			}
			fmt.Printf("round %d: finalized block %s (height %d)\n", round, ann.BlockHash, ann.Height)
		case engine.AnnounceFault:
			fmt.Printf("round %d: validator %d proved faulty\n", round, ann.Perpetrator)
		}
	}
	if !finalized && verbose {
		fmt.Printf("round %d: not yet finalized\n", round)
	}

	if round == byzantineRound {
		// Demonstrate the fault path atop the round just finalized above,
		// rather than racing it: forge a second, conflicting unit at the
		// proposal's own (creator, seq) and deliver it to both engines.
		faults, err := injectEquivocation(engines, secrets, leader, propVertex.Unit.WireUnit, witnessAt+1)
		if err != nil {
			return finalized, err
		}
		for _, ann := range faults {
			if ann.Kind == engine.AnnounceFault {
				fmt.Printf("round %d: validator %d proved faulty\n", round, ann.Perpetrator)
			}
		}
	}
	return finalized, nil
}

// injectEquivocation crafts a second, conflicting unit at the same
// (creator, seq) as the proposal already accepted by both engines and
// delivers it to both, exercising the evidence/fault path without
// racing the round's own proposal/confirmation/witness delivery.
func injectEquivocation(engines map[validators.Index]*engine.Engine, secrets map[validators.Index]*bls.SecretKey, leader validators.Index, original highway.WireUnit, timestamp uint64) ([]engine.Announcement, error) {
	forged := original
	forged.Timestamp = timestamp
	forged.Value = []byte("forged-fork")
	su, err := highway.NewSignedUnit(forged, secrets[leader])
	if err != nil {
		return nil, fmt.Errorf("signing forged unit: %w", err)
	}
	var announced []engine.Announcement
	for _, e := range engines {
		effs := e.HandleVertex(highway.UnitVertex(su), timestamp)
		announced = append(announced, announcementsOf(effs)...)
		// A value-carrying unit from a peer is held for validation;
		// answer it so the engine actually records the second unit and
		// detects the equivocation against the first.
		if valReq, ok := findKind(effs, engine.EffectRequestBlockValidation); ok {
			validated := e.BlockValidated(valReq.Validation.Candidate.Hash, true, timestamp)
			announced = append(announced, announcementsOf(validated)...)
		}
	}
	return announced, nil
}

func vertexOf(effs []engine.Effect) (highway.Vertex, bool) {
	for _, e := range effs {
		if e.Kind == engine.EffectNewVertex {
			return e.Vertex, true
		}
	}
	return highway.Vertex{}, false
}

func findKind(effs []engine.Effect, kind engine.EffectKind) (engine.Effect, bool) {
	for _, e := range effs {
		if e.Kind == kind {
			return e, true
		}
	}
	return engine.Effect{}, false
}

func announcementsOf(effs []engine.Effect) []engine.Announcement {
	var out []engine.Announcement
	for _, e := range effs {
		if e.Kind == engine.EffectAnnounce {
			out = append(out, e.Announcement)
		}
	}
	return out
}

func logVertex(verbose bool, kind string, creator validators.Index, hash ids.ID) {
	if verbose {
		fmt.Printf("  %s by validator %d: %s\n", kind, creator, hash)
	}
}
