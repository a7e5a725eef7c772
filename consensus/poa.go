package consensus

import "math/big"

// PoAEngine implements Engine for the round-robin proof-of-authority
// variant. AuthoritySet order is fixed at construction;
// the producer for height h must be AuthoritySet[h % len(AuthoritySet)].
type PoAEngine struct {
	AuthoritySet [][32]byte
	Sign         func(digest [32]byte) []byte // local signer, nil if this node is not a producer
	LocalAddr    [32]byte
}

func NewPoAEngine(authoritySet [][32]byte) *PoAEngine {
	return &PoAEngine{AuthoritySet: authoritySet}
}

func (e *PoAEngine) Name() string { return "poa" }

func (e *PoAEngine) positionFor(height uint64) (int, bool) {
	if len(e.AuthoritySet) == 0 {
		return 0, false
	}
	return int(height % uint64(len(e.AuthoritySet))), true
}

func (e *PoAEngine) producerAt(height uint64) ([32]byte, bool) {
	pos, ok := e.positionFor(height)
	if !ok {
		return zeroHash, false
	}
	return e.AuthoritySet[pos], true
}

func (e *PoAEngine) PrepareBlock(draft *Block, state *AccountState) error {
	expected, ok := e.producerAt(draft.Header.Index)
	if !ok || expected != e.LocalAddr {
		return newErr(ErrNotSlotLeader, "poa: local node is not the authorized producer at this height")
	}
	draft.Header.Producer = e.LocalAddr
	draft.Header.Nonce = 0
	if e.Sign != nil {
		draft.Signature = e.Sign(draft.Header.Hash())
	}
	return nil
}

func (e *PoAEngine) ValidateBlock(block *Block, parentHeader *BlockHeader, state *AccountState) error {
	expected, ok := e.producerAt(block.Header.Index)
	if !ok {
		return newErr(ErrNotAuthorized, "poa: empty authority set")
	}
	if block.Header.Producer != expected {
		return newErrf(ErrNotAuthorized, "poa: producer is not the authorized signer at height %d", block.Header.Index)
	}
	if !block.VerifyHeaderSignature() {
		return newErr(ErrInvalidSignature, "poa: header signature does not verify")
	}
	return nil
}

// ForkChoiceScore is chain length.
func (e *PoAEngine) ForkChoiceScore(headers []BlockHeader) *big.Int {
	return big.NewInt(int64(len(headers)))
}
