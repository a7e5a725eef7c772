package consensus

import (
	"bytes"
	"sort"

	"github.com/budlum/core/crypto"
)

// StateSnapshot is the periodic, full-state checkpoint the chain manager
// persists every SnapshotInterval blocks so pruning can discard old block
// bodies without losing the ability to resync from a safe point.
type StateSnapshot struct {
	Height          uint64
	StateRoot       [32]byte
	ChainID         uint64
	Accounts        []Account   // sorted by PublicKey
	Validators      []Validator // sorted by Address
	FinalizedHeight uint64
	FinalizedHash   [32]byte
}

// Snapshot captures s into a StateSnapshot at the given height, recomputing
// and embedding the state root so a snapshot is self-verifying against
// Root().
func (s *AccountState) Snapshot(height, chainID, finalizedHeight uint64, finalizedHash [32]byte) (*StateSnapshot, error) {
	root, err := s.Root()
	if err != nil {
		return nil, err
	}

	addrs := make([][32]byte, 0, len(s.Accounts))
	for a := range s.Accounts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	accounts := make([]Account, 0, len(addrs))
	for _, a := range addrs {
		accounts = append(accounts, *s.Accounts[a])
	}

	vaddrs := make([][32]byte, 0, len(s.Validators))
	for a := range s.Validators {
		vaddrs = append(vaddrs, a)
	}
	sort.Slice(vaddrs, func(i, j int) bool { return bytes.Compare(vaddrs[i][:], vaddrs[j][:]) < 0 })
	validators := make([]Validator, 0, len(vaddrs))
	for _, a := range vaddrs {
		validators = append(validators, *s.Validators[a])
	}

	return &StateSnapshot{
		Height:          height,
		StateRoot:       root,
		ChainID:         chainID,
		Accounts:        accounts,
		Validators:      validators,
		FinalizedHeight: finalizedHeight,
		FinalizedHash:   finalizedHash,
	}, nil
}

// ToState rebuilds a live AccountState from a snapshot. EpochSeed/EpochIndex
// are not part of the snapshot layout and are left zero; callers that need
// RANDAO continuity across a snapshot-load restore it separately from the
// last accepted block, the same way OnBlockAccepted would have driven it
// forward live.
func (snap *StateSnapshot) ToState() *AccountState {
	s := NewAccountState()
	for i := range snap.Accounts {
		a := snap.Accounts[i]
		s.Accounts[a.PublicKey] = &a
	}
	for i := range snap.Validators {
		v := snap.Validators[i]
		s.Validators[v.Address] = &v
	}
	return s
}

// Encode produces the canonical snapshot encoding used for storage.
func (snap *StateSnapshot) Encode() []byte {
	buf := make([]byte, 0, 256+len(snap.Accounts)*48+len(snap.Validators)*64)
	buf = crypto.AppendU64(buf, snap.Height)
	buf = append(buf, snap.StateRoot[:]...)
	buf = crypto.AppendU64(buf, snap.ChainID)
	buf = crypto.AppendU32(buf, uint32(len(snap.Accounts)))
	for _, a := range snap.Accounts {
		buf = append(buf, a.PublicKey[:]...)
		buf = crypto.AppendU64(buf, a.Balance)
		buf = crypto.AppendU64(buf, a.Nonce)
	}
	buf = crypto.AppendU32(buf, uint32(len(snap.Validators)))
	for _, v := range snap.Validators {
		buf = append(buf, v.Address[:]...)
		buf = crypto.AppendBytes(buf, v.BLSPubKey)
		buf = crypto.AppendU64(buf, v.Stake)
		buf = appendBool(buf, v.Active)
		buf = appendBool(buf, v.Slashed)
		buf = appendBool(buf, v.Jailed)
		buf = crypto.AppendU64(buf, v.JailUntil)
		buf = crypto.AppendU64(buf, v.LastProposed)
		buf = appendBool(buf, v.HasProposed)
	}
	buf = crypto.AppendU64(buf, snap.FinalizedHeight)
	buf = append(buf, snap.FinalizedHash[:]...)
	return buf
}

// DecodeStateSnapshot parses Encode()'s layout.
func DecodeStateSnapshot(b []byte) (*StateSnapshot, error) {
	const headLen = 8 + 32 + 8 + 4
	if len(b) < headLen {
		return nil, newErr(ErrHashMismatch, "snapshot: truncated header")
	}
	snap := &StateSnapshot{}
	off := 0
	snap.Height = leU64(b[off:])
	off += 8
	copy(snap.StateRoot[:], b[off:off+32])
	off += 32
	snap.ChainID = leU64(b[off:])
	off += 8
	accCount := int(leU32(b[off:]))
	off += 4

	for i := 0; i < accCount; i++ {
		if off+48 > len(b) {
			return nil, newErr(ErrHashMismatch, "snapshot: truncated account")
		}
		var a Account
		copy(a.PublicKey[:], b[off:off+32])
		off += 32
		a.Balance = leU64(b[off:])
		off += 8
		a.Nonce = leU64(b[off:])
		off += 8
		snap.Accounts = append(snap.Accounts, a)
	}

	if off+4 > len(b) {
		return nil, newErr(ErrHashMismatch, "snapshot: truncated validator count")
	}
	valCount := int(leU32(b[off:]))
	off += 4
	for i := 0; i < valCount; i++ {
		if off+32+4 > len(b) {
			return nil, newErr(ErrHashMismatch, "snapshot: truncated validator")
		}
		var v Validator
		copy(v.Address[:], b[off:off+32])
		off += 32
		pkLen := int(leU32(b[off:]))
		off += 4
		if off+pkLen > len(b) {
			return nil, newErr(ErrHashMismatch, "snapshot: bls pubkey overruns buffer")
		}
		v.BLSPubKey = append([]byte(nil), b[off:off+pkLen]...)
		off += pkLen
		if off+8+1+1+1+8+8+1 > len(b) {
			return nil, newErr(ErrHashMismatch, "snapshot: truncated validator tail")
		}
		v.Stake = leU64(b[off:])
		off += 8
		v.Active = b[off] != 0
		off++
		v.Slashed = b[off] != 0
		off++
		v.Jailed = b[off] != 0
		off++
		v.JailUntil = leU64(b[off:])
		off += 8
		v.LastProposed = leU64(b[off:])
		off += 8
		if off >= len(b) {
			return nil, newErr(ErrHashMismatch, "snapshot: truncated validator has_proposed flag")
		}
		v.HasProposed = b[off] != 0
		off++
		snap.Validators = append(snap.Validators, v)
	}

	if off+8+32 > len(b) {
		return nil, newErr(ErrHashMismatch, "snapshot: truncated finality tail")
	}
	snap.FinalizedHeight = leU64(b[off:])
	off += 8
	copy(snap.FinalizedHash[:], b[off:off+32])
	return snap, nil
}
