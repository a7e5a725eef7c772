package consensus

import (
	"bytes"
	"sort"

	"github.com/budlum/core/crypto"
)

// AccountState is the account-based world state: balances/nonces plus the
// validator registry. EpochIndex and EpochSeed are carried through Clone;
// nothing in this package updates them, since the PoS engine keeps its own
// live RANDAO seed and per-epoch snapshot (see pos.go).
type AccountState struct {
	Accounts   map[[32]byte]*Account
	Validators map[[32]byte]*Validator
	EpochIndex uint64
	EpochSeed  [32]byte
}

func NewAccountState() *AccountState {
	return &AccountState{
		Accounts:   make(map[[32]byte]*Account),
		Validators: make(map[[32]byte]*Validator),
	}
}

// account lazily creates the account on first lookup (balance 0, nonce 0
// on first incoming transfer).
func (s *AccountState) account(addr [32]byte) *Account {
	a, ok := s.Accounts[addr]
	if !ok {
		a = &Account{PublicKey: addr}
		s.Accounts[addr] = a
	}
	return a
}

func (s *AccountState) NonceOf(addr [32]byte) uint64 {
	if a, ok := s.Accounts[addr]; ok {
		return a.Nonce
	}
	return 0
}

func (s *AccountState) BalanceOf(addr [32]byte) uint64 {
	if a, ok := s.Accounts[addr]; ok {
		return a.Balance
	}
	return 0
}

// Clone deep-copies the state, used by the chain manager to try a candidate
// block/branch without mutating the committed tip until it is accepted.
func (s *AccountState) Clone() *AccountState {
	out := NewAccountState()
	for k, v := range s.Accounts {
		cp := *v
		out.Accounts[k] = &cp
	}
	for k, v := range s.Validators {
		cp := *v
		out.Validators[k] = &cp
	}
	out.EpochIndex = s.EpochIndex
	out.EpochSeed = s.EpochSeed
	return out
}

// Root computes the state root: a Merkle root over accounts and validators
// serialized in ascending-address order, domain-separated with
// "BDLM_STATE_V1".
func (s *AccountState) Root() ([32]byte, error) {
	addrs := make([][32]byte, 0, len(s.Accounts))
	for a := range s.Accounts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	vaddrs := make([][32]byte, 0, len(s.Validators))
	for a := range s.Validators {
		vaddrs = append(vaddrs, a)
	}
	sort.Slice(vaddrs, func(i, j int) bool { return bytes.Compare(vaddrs[i][:], vaddrs[j][:]) < 0 })

	leaves := make([][32]byte, 0, len(addrs)+len(vaddrs))
	for _, addr := range addrs {
		a := s.Accounts[addr]
		buf := make([]byte, 0, 48)
		buf = append(buf, a.PublicKey[:]...)
		buf = crypto.AppendU64(buf, a.Balance)
		buf = crypto.AppendU64(buf, a.Nonce)
		leaves = append(leaves, crypto.Tagged(crypto.DomainState, buf))
	}
	for _, addr := range vaddrs {
		v := s.Validators[addr]
		buf := make([]byte, 0, 64)
		buf = append(buf, v.Address[:]...)
		buf = crypto.AppendU64(buf, v.Stake)
		buf = appendBool(buf, v.Active)
		buf = appendBool(buf, v.Slashed)
		buf = appendBool(buf, v.Jailed)
		buf = crypto.AppendU64(buf, v.JailUntil)
		buf = crypto.AppendU64(buf, v.LastProposed)
		leaves = append(leaves, crypto.Tagged(crypto.DomainState, buf))
	}
	return MerkleRoot(leaves), nil
}

func appendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, 1)
	}
	return append(dst, 0)
}

// ApplyBlock verifies block.Header.TxRoot against the transactions actually
// carried in the body, then executes every transaction in order against pre
// (a clone is the caller's responsibility if pre must survive a failed
// apply), applies the block reward, burns/jails slashed validators, and
// requires the resulting state root match block.Header.StateRoot. Any
// failing step rejects the whole block, but the receiver is mutated in
// place and may be left partly changed; the chain manager applies to a
// clone so a rejected block never touches committed state.
func (s *AccountState) ApplyBlock(block *Block) error {
	if root := MerkleRoot(block.TxHashes()); root != block.Header.TxRoot {
		return newErrf(ErrMerkleMismatch, "tx root mismatch at height %d", block.Header.Index)
	}

	var feeTotal uint64
	for i := range block.Txs {
		fee, err := s.applyTx(&block.Txs[i], block.Header.ChainID)
		if err != nil {
			return err
		}
		feeTotal += fee
	}

	if block.Header.Producer != zeroHash {
		producer := s.account(block.Header.Producer)
		producer.Balance += BlockReward + feeTotal
	}

	for _, ev := range block.Header.SlashingEvidence {
		v, ok := s.Validators[ev.Producer]
		if !ok || v.Slashed {
			continue
		}
		s.slash(v, block.Header.Index)
	}

	root, err := s.Root()
	if err != nil {
		return err
	}
	if root != block.Header.StateRoot {
		return newErrf(ErrStateRootMismatch, "state root mismatch at height %d", block.Header.Index)
	}
	return nil
}

// slash burns SlashRatio of the validator's stake (saturating at zero),
// marks it permanently expelled, and jails it for JailPeriod blocks. Applied
// to each SlashingEvidence entry a block header carries.
func (s *AccountState) slash(v *Validator, currentHeight uint64) {
	burn := uint64(float64(v.Stake) * SlashRatio)
	if burn > v.Stake {
		burn = v.Stake
	}
	v.Stake -= burn
	v.Slashed = true
	v.Active = false
	v.Jailed = true
	v.JailUntil = currentHeight + JailPeriod
}

// applyTx executes one transaction's state transition and returns the fee
// collected for the block producer.
func (s *AccountState) applyTx(tx *Transaction, blockChainID uint64) (uint64, error) {
	if !tx.VerifySignature() {
		return 0, newErr(ErrInvalidSignature, "tx signature does not verify")
	}
	if tx.ChainID != blockChainID {
		return 0, newErr(ErrWrongChain, "tx chain_id does not match block")
	}
	if tx.From == genesisSentinel {
		return 0, newErr(ErrInvalidSignature, "tx from genesis sentinel is forbidden")
	}

	sender := s.account(tx.From)
	if tx.Nonce != sender.Nonce {
		return 0, newErrf(ErrBadNonce, "expected nonce %d, got %d", sender.Nonce, tx.Nonce)
	}
	total := tx.Amount + tx.Fee
	if sender.Balance < total {
		return 0, newErrf(ErrInsufficientBalance, "balance %d < required %d", sender.Balance, total)
	}

	sender.Balance -= total
	sender.Nonce++

	switch tx.Type {
	case TxTransfer:
		recipient := s.account(tx.To)
		recipient.Balance += tx.Amount
	case TxStake:
		v, ok := s.Validators[tx.From]
		if !ok {
			v = &Validator{Address: tx.From}
			s.Validators[tx.From] = v
		}
		v.Stake += tx.Amount
		if v.Stake < MinStake {
			return 0, newErrf(ErrBelowMinStake, "stake %d below minimum %d", v.Stake, MinStake)
		}
		v.Active = true
	case TxUnstake:
		v, ok := s.Validators[tx.From]
		if !ok {
			return 0, newErr(ErrJailed, "unstake: no such validator")
		}
		if v.Jailed {
			return 0, newErr(ErrJailed, "unstake: validator is jailed")
		}
		if tx.Amount > v.Stake {
			return 0, newErrf(ErrInsufficientBalance, "unstake %d exceeds stake %d", tx.Amount, v.Stake)
		}
		v.Stake -= tx.Amount
		if v.Stake < MinStake {
			v.Active = false
		}
	case TxVote:
		// Governance counters are out of scope beyond the nonce/balance
		// effects already applied above.
	default:
		return 0, newErrf(ErrBadAmount, "unknown tx type %d", tx.Type)
	}
	return tx.Fee, nil
}

// genesisSentinel is the reserved "genesis" sender address that ordinary
// transactions may never use; only Genesis() may mint from it.
var genesisSentinel [32]byte
