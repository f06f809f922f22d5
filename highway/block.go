// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package highway

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/highway/validators"
)

// EraEnd records that a block closes out an era: the validators proved
// faulty during this era, to be slashed/excluded by the next era's
// validator-set rotation. Rotation itself is the host's
// responsibility; this engine only reports who to exclude.
type EraEnd struct {
	Equivocators []validators.Index
}

// Block is a unit that carries a consensus value. Parent is the
// deterministically-chosen proposal cited through the fork-choice walk
// from the unit's own panorama at creation time.
type Block struct {
	Hash   ids.ID
	Parent ids.ID // ids.Empty for a height-0 block (child of virtual genesis)
	Height uint64
	Value  []byte
	EraEnd *EraEnd
}
