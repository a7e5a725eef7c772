package consensus

import (
	"bytes"
	"sort"
	"sync"

	"github.com/budlum/core/crypto"
)

// Phase identifies which round of the finality gadget a vote belongs to.
type Phase byte

const (
	PhasePrevote Phase = iota
	PhasePrecommit
)

func (p Phase) label() string {
	if p == PhasePrevote {
		return "prevote"
	}
	return "precommit"
}

// FinalityCert is the aggregate proof that >=2/3 of active stake precommitted
// a checkpoint within an epoch. set_hash pins the exact validator set (and
// therefore the bit ordering of Bitmap) the aggregate signature was checked
// against, so a cert remains verifiable even after later validator-set churn.
type FinalityCert struct {
	Epoch            uint64
	CheckpointHeight uint64
	CheckpointHash   [32]byte
	AggSig           []byte
	Bitmap           []byte
	SetHash          [32]byte
}

// VoteDigest is the exact message every validator's BLS key signs for a
// given phase: H("BDLM_VOTE_V1" ‖ phase_label ‖ epoch_le ‖
// checkpoint_height_le ‖ checkpoint_hash).
func VoteDigest(phase Phase, epoch, checkpointHeight uint64, checkpointHash [32]byte) [32]byte {
	buf := make([]byte, 0, 16+8+8+32)
	buf = append(buf, phase.label()...)
	buf = crypto.AppendU64(buf, epoch)
	buf = crypto.AppendU64(buf, checkpointHeight)
	buf = append(buf, checkpointHash[:]...)
	return crypto.Tagged(crypto.DomainVote, buf)
}

// setHashOf domain-separates the ordered validator set a cert is checked
// against, so a cert can never be replayed against a different epoch's set.
func setHashOf(validators []*Validator) [32]byte {
	buf := make([]byte, 0, len(validators)*88)
	for _, v := range validators {
		buf = append(buf, v.Address[:]...)
		buf = crypto.AppendBytes(buf, v.BLSPubKey)
		buf = crypto.AppendU64(buf, v.Stake)
	}
	return crypto.Tagged(crypto.DomainValidators, buf)
}

type phaseVotes struct {
	checkpointHeight uint64
	checkpointHash   [32]byte
	sigs             map[int][]byte // validator index -> signature
	votedStake       uint64
	done             bool
}

type epochRound struct {
	validators []*Validator // snapshot, sorted ascending by address
	setHash    [32]byte
	totalStake uint64
	prevote    phaseVotes
	precommit  phaseVotes
}

// FinalityAggregator collects BLS prevotes and precommits per epoch and
// emits a FinalityCert on precommit quorum. One instance runs per node;
// every validator observes the same votes over gossip and reaches the same
// quorum decision independently (no leader is needed for finality).
type FinalityAggregator struct {
	mu     sync.Mutex
	rounds map[uint64]*epochRound

	// OnFinalityCert is invoked, with the aggregator's lock held, whenever
	// precommit quorum is reached; the chain manager wires this to advance
	// finalized_height.
	OnFinalityCert func(cert FinalityCert)

	// OnDoubleVote is invoked for slashing evidence discovered while
	// processing a vote: a validator signing two different checkpoints in
	// the same epoch and phase.
	OnDoubleVote func(evidence SlashingEvidence)
}

func NewFinalityAggregator() *FinalityAggregator {
	return &FinalityAggregator{rounds: make(map[uint64]*epochRound)}
}

func (a *FinalityAggregator) roundFor(epoch uint64, validators []*Validator) *epochRound {
	r, ok := a.rounds[epoch]
	if ok {
		return r
	}
	snapshot := make([]*Validator, len(validators))
	copy(snapshot, validators)
	sort.Slice(snapshot, func(i, j int) bool {
		return bytes.Compare(snapshot[i].Address[:], snapshot[j].Address[:]) < 0
	})
	var total uint64
	for _, v := range snapshot {
		total += v.EffectiveStake()
	}
	r = &epochRound{
		validators: snapshot,
		setHash:    setHashOf(snapshot),
		totalStake: total,
		prevote:    phaseVotes{sigs: make(map[int][]byte)},
		precommit:  phaseVotes{sigs: make(map[int][]byte)},
	}
	a.rounds[epoch] = r
	return r
}

func indexOf(validators []*Validator, addr [32]byte) int {
	for i, v := range validators {
		if v.Address == addr {
			return i
		}
	}
	return -1
}

// SubmitVote validates and records one validator's BLS vote for (epoch,
// checkpointHeight, checkpointHash) in the given phase. validators is the
// active set as of the epoch's start (callers pass the same set on every
// call for a given epoch; the first call snapshots it). On reaching >=2/3
// stake for the precommit phase, SubmitVote returns the resulting
// FinalityCert; every other call returns a nil cert.
func (a *FinalityAggregator) SubmitVote(phase Phase, epoch, checkpointHeight uint64, checkpointHash [32]byte, validatorAddr [32]byte, sig []byte, validators []*Validator) (*FinalityCert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	round := a.roundFor(epoch, validators)
	idx := indexOf(round.validators, validatorAddr)
	if idx < 0 {
		return nil, newErr(ErrUnknownVoter, "finality: vote from address outside the active validator set")
	}
	v := round.validators[idx]
	if len(v.BLSPubKey) == 0 {
		return nil, newErr(ErrUnknownVoter, "finality: validator has no registered bls key")
	}

	digest := VoteDigest(phase, epoch, checkpointHeight, checkpointHash)
	if !crypto.VerifyBLS(v.BLSPubKey, digest[:], sig) {
		return nil, newErr(ErrInvalidBLSSignature, "finality: bls signature does not verify")
	}

	pv := &round.prevote
	if phase == PhasePrecommit {
		pv = &round.precommit
	}
	if pv.done {
		return nil, newErr(ErrCertAlreadyFinal, "finality: phase already reached quorum")
	}

	if existing, ok := pv.sigs[idx]; ok {
		if pv.checkpointHash != checkpointHash && a.OnDoubleVote != nil {
			a.OnDoubleVote(SlashingEvidence{
				Producer:   validatorAddr,
				Index:      epoch,
				Header1:    pv.checkpointHash,
				Header2:    checkpointHash,
				Signature1: append([]byte(nil), existing...),
				Signature2: append([]byte(nil), sig...),
			})
		}
		return nil, nil
	}
	if len(pv.sigs) == 0 {
		pv.checkpointHeight = checkpointHeight
		pv.checkpointHash = checkpointHash
	} else if pv.checkpointHash != checkpointHash {
		// A different checkpoint in the same phase/epoch from this
		// validator would already have been caught above; a vote from a
		// *different* validator for a competing checkpoint is legitimate
		// (the network hasn't converged yet) and is simply not counted
		// toward this checkpoint's quorum.
		return nil, nil
	}

	pv.sigs[idx] = append([]byte(nil), sig...)
	pv.votedStake += v.EffectiveStake()

	if round.totalStake == 0 || pv.votedStake*FinalityQuorumDen < round.totalStake*FinalityQuorumNum {
		return nil, nil
	}
	pv.done = true

	if phase == PhasePrevote {
		return nil, nil
	}

	cert := buildCert(epoch, pv, round)
	if a.OnFinalityCert != nil {
		a.OnFinalityCert(cert)
	}
	return &cert, nil
}

func buildCert(epoch uint64, pv *phaseVotes, round *epochRound) FinalityCert {
	indices := make([]int, 0, len(pv.sigs))
	for i := range pv.sigs {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	sigs := make([][]byte, 0, len(indices))
	bitmap := make([]byte, (len(round.validators)+7)/8)
	for _, i := range indices {
		sigs = append(sigs, pv.sigs[i])
		bitmap[i/8] |= 1 << uint(i%8)
	}
	aggSig, err := crypto.AggregateBLS(sigs)
	if err != nil {
		aggSig = nil
	}
	return FinalityCert{
		Epoch:            epoch,
		CheckpointHeight: pv.checkpointHeight,
		CheckpointHash:   pv.checkpointHash,
		AggSig:           aggSig,
		Bitmap:           bitmap,
		SetHash:          round.setHash,
	}
}

// VerifyFinalityCert checks cert.AggSig against the BLS public keys of every
// validator whose bit is set in cert.Bitmap, over the precommit digest, and
// confirms their combined stake reaches quorum and that SetHash matches the
// given validator set. This is the check a peer receiving a FinalityCert
// message (rather than individual votes) performs.
func VerifyFinalityCert(cert FinalityCert, validators []*Validator) bool {
	snapshot := make([]*Validator, len(validators))
	copy(snapshot, validators)
	sort.Slice(snapshot, func(i, j int) bool {
		return bytes.Compare(snapshot[i].Address[:], snapshot[j].Address[:]) < 0
	})
	if setHashOf(snapshot) != cert.SetHash {
		return false
	}

	var total, voted uint64
	pubkeys := make([][]byte, 0, len(snapshot))
	for i, v := range snapshot {
		total += v.EffectiveStake()
		if i/8 >= len(cert.Bitmap) {
			continue
		}
		if cert.Bitmap[i/8]&(1<<uint(i%8)) == 0 {
			continue
		}
		voted += v.EffectiveStake()
		pubkeys = append(pubkeys, v.BLSPubKey)
	}
	if total == 0 || voted*FinalityQuorumDen < total*FinalityQuorumNum {
		return false
	}

	digest := VoteDigest(PhasePrecommit, cert.Epoch, cert.CheckpointHeight, cert.CheckpointHash)
	return crypto.VerifyBLSAggregate(pubkeys, digest[:], cert.AggSig)
}
