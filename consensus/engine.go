package consensus

import "math/big"

// Engine is the pluggable consensus capability set every regime (PoW, PoS,
// PoA) implements: a capability set, not an inheritance hierarchy. The
// chain manager is parametric over one Engine instance.
type Engine interface {
	// PrepareBlock finalizes producer-side fields on draft before it is
	// signed and broadcast: PoW solves Nonce, PoS attaches a stake proof,
	// PoA verifies the producer's turn. state is the pre-state the draft
	// will be applied against (read-only; Engine must not mutate it).
	PrepareBlock(draft *Block, state *AccountState) error

	// ValidateBlock checks every invariant this regime requires to admit
	// block, given parentHeader (the chain tip it extends) and the
	// pre-state it will be applied against.
	ValidateBlock(block *Block, parentHeader *BlockHeader, state *AccountState) error

	// ForkChoiceScore returns a monotone chain-quality metric over the
	// ordered list of headers from genesis to tip. Higher wins among
	// candidates at or above the finalized floor.
	ForkChoiceScore(headers []BlockHeader) *big.Int

	// Name identifies the regime for logging/config.
	Name() string
}

// BlockObserver is an optional capability an Engine implements when it needs
// to react to every block the chain manager accepts, independent of whether
// that engine validated it as the extending tip or as part of a winning
// reorg branch. PoSEngine uses this to mix each block's hash into the live
// RANDAO seed; PoW/PoA have no use for it and implement neither method.
type BlockObserver interface {
	OnBlockAccepted(hash [32]byte, height uint64)
}
