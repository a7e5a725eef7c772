package consensus

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	"github.com/budlum/core/crypto"
)

type producerIndexKey struct {
	producer [32]byte
	index    uint64
}

// PoSEngine implements Engine for the RANDAO-seeded, stake-weighted PoS
// variant. It owns the live/epoch-snapshotted RANDAO seed, double-sign
// detection state, and the slashing evidence pool;
// BLS finality voting is handled by the companion FinalityAggregator
// (finality.go), reachable via the Finality field.
type PoSEngine struct {
	mu sync.Mutex

	EpochLength uint64

	// seenBlocks records the first hash observed at each (producer, index),
	// used to detect double-proposals.
	seenBlocks map[producerIndexKey][32]byte
	evidence   []SlashingEvidence

	// epochSeedSnapshot is the value elections within the current epoch use.
	// It is only updated at an epoch boundary from the live, in-epoch seed.
	epochSeedSnapshot [32]byte
	// liveSeed is mutated on every accepted block via RANDAO XOR-mixing;
	// only epochSeedSnapshot (copied from liveSeed at epoch boundaries)
	// is ever consulted by elections.
	liveSeed [32]byte

	// stakeCache records each validator's effective stake as last observed
	// in ValidateBlock, letting ForkChoiceScore weigh a header by its
	// producer's stake without needing the full state for chains it did
	// not itself validate end-to-end.
	stakeCache map[[32]byte]uint64

	LocalAddr [32]byte
	Sign      func(digest [32]byte) []byte // nil if this node is not a validator

	Finality *FinalityAggregator
}

func NewPoSEngine(genesisSeed [32]byte) *PoSEngine {
	return &PoSEngine{
		EpochLength:       EpochLengthBlocks,
		seenBlocks:        make(map[producerIndexKey][32]byte),
		epochSeedSnapshot: genesisSeed,
		liveSeed:          genesisSeed,
		stakeCache:        make(map[[32]byte]uint64),
	}
}

func (e *PoSEngine) Name() string { return "pos" }

// activeValidatorsSorted returns the validator set in deterministic
// ascending-address order, the order the leader-election walk consumes.
func activeValidatorsSorted(state *AccountState) []*Validator {
	addrs := make([][32]byte, 0, len(state.Validators))
	for a := range state.Validators {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	out := make([]*Validator, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, state.Validators[a])
	}
	return out
}

// ElectLeader draws H(epochSeed ‖ slot_le) mod total_active_stake and walks
// the validator set in deterministic order accumulating effective stake;
// the first validator whose running sum exceeds the draw is the leader.
// Returns false if there is no active stake.
func ElectLeader(epochSeed [32]byte, slot uint64, validators []*Validator) ([32]byte, bool) {
	var total uint64
	for _, v := range validators {
		total += v.EffectiveStake()
	}
	if total == 0 {
		return zeroHash, false
	}

	buf := make([]byte, 0, 40)
	buf = append(buf, epochSeed[:]...)
	buf = crypto.AppendU64(buf, slot)
	drawHash := crypto.Tagged(crypto.DomainRandao, buf)
	draw := new(big.Int).Mod(new(big.Int).SetBytes(drawHash[:]), new(big.Int).SetUint64(total))

	running := new(big.Int)
	for _, v := range validators {
		stake := v.EffectiveStake()
		if stake == 0 {
			continue
		}
		running.Add(running, new(big.Int).SetUint64(stake))
		if running.Cmp(draw) > 0 {
			return v.Address, true
		}
	}
	return zeroHash, false
}

func (e *PoSEngine) currentEpochSeed() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epochSeedSnapshot
}

func (e *PoSEngine) PrepareBlock(draft *Block, state *AccountState) error {
	leader, ok := ElectLeader(e.currentEpochSeed(), draft.Header.Index, activeValidatorsSorted(state))
	if !ok || leader != e.LocalAddr {
		return newErr(ErrNotSlotLeader, "pos: local validator is not elected for this slot")
	}
	draft.Header.Producer = e.LocalAddr
	pending := e.drainEvidence()
	draft.Header.SlashingEvidence = pending
	if e.Sign != nil {
		draft.Signature = e.Sign(draft.Header.Hash())
	}
	return nil
}

func (e *PoSEngine) ValidateBlock(block *Block, parentHeader *BlockHeader, state *AccountState) error {
	leader, ok := ElectLeader(e.currentEpochSeed(), block.Header.Index, activeValidatorsSorted(state))
	if !ok {
		return newErr(ErrNotAuthorized, "pos: no active stake to elect a leader")
	}
	if block.Header.Producer != leader {
		return newErrf(ErrNotSlotLeader, "pos: producer is not the elected leader at height %d", block.Header.Index)
	}
	v, exists := state.Validators[block.Header.Producer]
	if !exists || v.Jailed || v.Slashed || !v.Active {
		return newErr(ErrJailed, "pos: producer is not an active validator")
	}
	if !block.VerifyHeaderSignature() {
		return newErr(ErrInvalidSignature, "pos: header signature does not verify")
	}
	e.observeBlock(block.Header.Producer, block.Header.Index, block.Header.Hash(), block.Signature)
	e.mu.Lock()
	e.stakeCache[block.Header.Producer] = v.EffectiveStake()
	e.mu.Unlock()
	return nil
}

// observeBlock records (producer, index) -> hash and, if a different hash
// was already recorded for the same key, constructs SlashingEvidence and
// queues it for inclusion in the next locally-produced block.
func (e *PoSEngine) observeBlock(producer [32]byte, index uint64, hash [32]byte, sig []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := producerIndexKey{producer, index}
	prior, ok := e.seenBlocks[key]
	if !ok {
		e.seenBlocks[key] = hash
		return
	}
	if prior == hash {
		return
	}
	e.evidence = append(e.evidence, SlashingEvidence{
		Producer:   producer,
		Index:      index,
		Header1:    prior,
		Header2:    hash,
		Signature2: append([]byte(nil), sig...),
	})
}

func (e *PoSEngine) drainEvidence() []SlashingEvidence {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.evidence) == 0 {
		return nil
	}
	out := e.evidence
	e.evidence = nil
	return out
}

// OnBlockAccepted mixes the accepted block's hash into the live RANDAO
// seed: epoch_seed <- epoch_seed XOR H(block.hash). This only affects
// elections in the *next* epoch; the current epoch keeps using its
// snapshot.
func (e *PoSEngine) OnBlockAccepted(blockHash [32]byte, height uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	contribution := crypto.Tagged(crypto.DomainRandao, blockHash[:])
	e.liveSeed = xor32(e.liveSeed, contribution)
	if e.EpochLength != 0 && (height+1)%e.EpochLength == 0 {
		e.epochSeedSnapshot = e.liveSeed
	}
}

func xor32(a, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// ForkChoiceScore is cumulative active stake over all blocks: each header
// contributes its producer's last-observed effective stake (falling back to
// 1 for a producer this engine has never validated directly, e.g. headers
// inherited from a peer's chain). Ties are not broken by tip hash: the chain
// manager switches tips only on a strictly higher score.
func (e *PoSEngine) ForkChoiceScore(headers []BlockHeader) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := new(big.Int)
	for _, h := range headers {
		stake, ok := e.stakeCache[h.Producer]
		if !ok || stake == 0 {
			stake = 1
		}
		total.Add(total, new(big.Int).SetUint64(stake))
	}
	return total
}
