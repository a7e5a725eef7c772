package consensus

import (
	"bytes"
	"context"
	"math/big"
)

// PowLimit is the easiest allowed target (all-0xff bytes): difficulty 0.
var PowLimit = [32]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// PoWEngine implements Engine for proof-of-work
// Difficulty is tracked as an integer "bits of leading-zero work"; Target is
// derived as PowLimit right-shifted by Difficulty bits, and
// ForkChoiceScore sums 2^difficulty across the chain (cumulative work), not
// chain length.
type PoWEngine struct {
	Difficulty          uint
	AdjustmentInterval  uint64
	TargetBlockInterval uint64 // seconds
	TimestampsByHeight  func(fromHeight, count uint64) ([]uint64, error)
	CancelCheck         func(ctx context.Context) bool
}

func NewPoWEngine(initialDifficulty uint) *PoWEngine {
	return &PoWEngine{
		Difficulty:          initialDifficulty,
		AdjustmentInterval:  PowAdjustmentInterval,
		TargetBlockInterval: 10,
	}
}

func (e *PoWEngine) Name() string { return "pow" }

// Target returns PowLimit >> difficulty as a 32-byte big-endian value.
func Target(difficulty uint) [32]byte {
	limit := new(big.Int).SetBytes(PowLimit[:])
	t := new(big.Int).Rsh(limit, difficulty)
	var out [32]byte
	b := t.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func (e *PoWEngine) PrepareBlock(draft *Block, state *AccountState) error {
	target := Target(e.Difficulty)
	draft.Header.Nonce = 0
	for {
		hash := draft.Header.Hash()
		if bytes.Compare(hash[:], target[:]) <= 0 {
			return nil
		}
		if e.CancelCheck != nil {
			ctx := context.Background()
			if e.CancelCheck(ctx) {
				return newErr(ErrPowInvalid, "pow: mining cancelled")
			}
		}
		draft.Header.Nonce++
	}
}

func (e *PoWEngine) ValidateBlock(block *Block, parentHeader *BlockHeader, state *AccountState) error {
	target := Target(e.Difficulty)
	hash := block.Header.Hash()
	if bytes.Compare(hash[:], target[:]) > 0 {
		return newErr(ErrPowInvalid, "pow: hash does not meet target")
	}
	return nil
}

// ForkChoiceScore counts 2^Difficulty for every header, using the engine's
// current Difficulty for all of them. Difficulty is not stored per header,
// so blocks mined before a retarget are not weighted by the difficulty they
// were mined at.
func (e *PoWEngine) ForkChoiceScore(headers []BlockHeader) *big.Int {
	work := new(big.Int).Lsh(big.NewInt(1), e.Difficulty)
	total := new(big.Int)
	for range headers {
		total.Add(total, work)
	}
	return total
}

// Retarget adjusts Difficulty every AdjustmentInterval blocks by comparing
// the wall-clock span of the window against the expected span:
// span < expected/2 -> difficulty+1; span > expected*2 ->
// difficulty = max(1, difficulty-1); otherwise unchanged.
func (e *PoWEngine) Retarget(windowStartTimestamp, windowEndTimestamp uint64) {
	expected := e.TargetBlockInterval * e.AdjustmentInterval
	var span uint64
	if windowEndTimestamp > windowStartTimestamp {
		span = windowEndTimestamp - windowStartTimestamp
	}
	switch {
	case span < expected/2:
		e.Difficulty++
	case span > expected*2:
		if e.Difficulty > 1 {
			e.Difficulty--
		}
	}
}
