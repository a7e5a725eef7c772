package consensus

import "testing"

func TestTargetDecreasesAsDifficultyIncreases(t *testing.T) {
	easy := Target(1)
	hard := Target(10)
	if bytesGreaterOrEqual(hard[:], easy[:]) {
		t.Fatalf("higher difficulty must produce a smaller (stricter) target")
	}
}

func bytesGreaterOrEqual(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return true
}

func TestPrepareBlockFindsValidNonce(t *testing.T) {
	e := NewPoWEngine(1) // low difficulty keeps the search fast in tests
	state := NewAccountState()
	draft := &Block{Header: BlockHeader{Index: 1, ChainID: 1337, PreviousHash: zeroHash}}

	if err := e.PrepareBlock(draft, state); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := e.ValidateBlock(draft, nil, state); err != nil {
		t.Fatalf("mined block failed its own engine's validation: %v", err)
	}
}

func TestValidateBlockRejectsHashAboveTarget(t *testing.T) {
	e := NewPoWEngine(200) // an unreachably strict target
	state := NewAccountState()
	block := &Block{Header: BlockHeader{Index: 1, ChainID: 1337, PreviousHash: zeroHash, Nonce: 0}}

	if err := e.ValidateBlock(block, nil, state); errCode(err) != ErrPowInvalid {
		t.Fatalf("expected ErrPowInvalid, got %v", err)
	}
}

func TestRetargetIncreasesDifficultyWhenBlocksComeFast(t *testing.T) {
	e := NewPoWEngine(5)
	e.TargetBlockInterval = 10
	e.AdjustmentInterval = 100
	e.Retarget(0, 10) // span far below expected 1000
	if e.Difficulty != 6 {
		t.Fatalf("expected difficulty to increase to 6, got %d", e.Difficulty)
	}
}

func TestRetargetDecreasesDifficultyWhenBlocksComeSlow(t *testing.T) {
	e := NewPoWEngine(5)
	e.TargetBlockInterval = 10
	e.AdjustmentInterval = 100
	e.Retarget(0, 1_000_000) // span far above expected 1000
	if e.Difficulty != 4 {
		t.Fatalf("expected difficulty to decrease to 4, got %d", e.Difficulty)
	}
}

func TestRetargetNeverDropsBelowOne(t *testing.T) {
	e := NewPoWEngine(1)
	e.TargetBlockInterval = 10
	e.AdjustmentInterval = 100
	e.Retarget(0, 1_000_000)
	if e.Difficulty != 1 {
		t.Fatalf("expected difficulty floor of 1, got %d", e.Difficulty)
	}
}

func TestForkChoiceScoreSumsCumulativeWork(t *testing.T) {
	e := NewPoWEngine(3)
	headers := make([]BlockHeader, 4)
	score := e.ForkChoiceScore(headers)
	want := int64(1 << 3 * 4)
	if score.Int64() != want {
		t.Fatalf("expected cumulative work %d, got %s", want, score.String())
	}
}
