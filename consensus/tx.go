package consensus

import (
	"bytes"

	"github.com/budlum/core/crypto"
)

// TxType dispatches the state-transition behavior of a Transaction.
type TxType uint8

const (
	TxTransfer TxType = iota
	TxStake
	TxUnstake
	TxVote
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxStake:
		return "stake"
	case TxUnstake:
		return "unstake"
	case TxVote:
		return "vote"
	default:
		return "unknown"
	}
}

// Transaction is the account-model transaction carrying a transfer, stake,
// unstake, or vote action. From/To are raw Ed25519 public keys (32 bytes);
// callers that need the hex
// form for logging/wire use hex.EncodeToString.
type Transaction struct {
	From      [32]byte
	To        [32]byte
	Amount    uint64
	Fee       uint64
	Nonce     uint64
	Data      []byte
	Timestamp uint64 // millisecond wall clock
	ChainID   uint64
	Type      TxType

	Hash      [32]byte
	Signature []byte // 64-byte Ed25519 signature
}

// SigningDigest computes H("BDLM_TX_V1" ‖ from ‖ to ‖ amount_le ‖ fee_le ‖
// nonce_le ‖ data ‖ chain_id_le), the payload Transaction.Signature is over.
func (tx *Transaction) SigningDigest() [32]byte {
	buf := make([]byte, 0, 32+32+8+8+8+len(tx.Data)+8)
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = crypto.AppendU64(buf, tx.Amount)
	buf = crypto.AppendU64(buf, tx.Fee)
	buf = crypto.AppendU64(buf, tx.Nonce)
	buf = append(buf, tx.Data...)
	buf = crypto.AppendU64(buf, tx.ChainID)
	return crypto.Tagged(crypto.DomainTx, buf)
}

// Encode produces the canonical byte encoding used both for hashing (with
// Signature populated) and for wire transmission.
func (tx *Transaction) Encode() []byte {
	buf := make([]byte, 0, 128+len(tx.Data)+len(tx.Signature))
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = crypto.AppendU64(buf, tx.Amount)
	buf = crypto.AppendU64(buf, tx.Fee)
	buf = crypto.AppendU64(buf, tx.Nonce)
	buf = crypto.AppendBytes(buf, tx.Data)
	buf = crypto.AppendU64(buf, tx.Timestamp)
	buf = crypto.AppendU64(buf, tx.ChainID)
	buf = append(buf, byte(tx.Type))
	buf = crypto.AppendBytes(buf, tx.Signature)
	return buf
}

// ComputeHash sets and returns tx.Hash = H("BDLM_TX_V1" ‖ full canonical
// encoding including Signature).
func (tx *Transaction) ComputeHash() [32]byte {
	tx.Hash = crypto.Tagged(crypto.DomainTx, tx.Encode())
	return tx.Hash
}

// Sign signs the SigningDigest with priv and sets tx.Signature and tx.Hash.
func (tx *Transaction) Sign(priv []byte) {
	digest := tx.SigningDigest()
	tx.Signature = crypto.SignEd25519(priv, digest)
	tx.ComputeHash()
}

// VerifySignature checks tx.Signature against tx.From over the signing
// digest. It does not check tx.Hash — callers that parsed tx off the wire
// should also re-derive and compare the hash.
func (tx *Transaction) VerifySignature() bool {
	return crypto.VerifyEd25519(tx.From[:], tx.SigningDigest(), tx.Signature)
}

// ValidateShape checks the structural invariants that do not require chain
// state: positive amount for Transfer, non-empty recipient for
// Transfer, minimum stake for Stake. Nonce/balance/signature/chain/timestamp
// checks live in the mempool and state machine where committed state and
// wall-clock are available.
func (tx *Transaction) ValidateShape() error {
	switch tx.Type {
	case TxTransfer:
		if tx.Amount == 0 {
			return newErr(ErrBadAmount, "transfer amount must be > 0")
		}
		if tx.To == ([32]byte{}) {
			return newErr(ErrBadAmount, "transfer requires non-empty recipient")
		}
	case TxStake:
		if tx.Amount < MinStake {
			return newErrf(ErrBelowMinStake, "stake amount %d below minimum %d", tx.Amount, MinStake)
		}
	case TxUnstake, TxVote:
		// No shape-level invariant beyond the common ones below.
	default:
		return newErrf(ErrBadAmount, "unknown tx type %d", tx.Type)
	}
	return nil
}

// Equal reports byte-for-byte equality, used by round-trip tests.
func (tx *Transaction) Equal(other *Transaction) bool {
	if tx == nil || other == nil {
		return tx == other
	}
	return tx.From == other.From &&
		tx.To == other.To &&
		tx.Amount == other.Amount &&
		tx.Fee == other.Fee &&
		tx.Nonce == other.Nonce &&
		bytes.Equal(tx.Data, other.Data) &&
		tx.Timestamp == other.Timestamp &&
		tx.ChainID == other.ChainID &&
		tx.Type == other.Type &&
		tx.Hash == other.Hash &&
		bytes.Equal(tx.Signature, other.Signature)
}

// DecodeTransaction parses the canonical Encode() layout back into a
// Transaction and recomputes Hash from the decoded fields. It does not verify
// the signature; callers that need that call VerifySignature.
func DecodeTransaction(b []byte) (*Transaction, int, error) {
	const minLen = 32 + 32 + 8 + 8 + 8 + 4 + 8 + 8 + 1 + 4
	if len(b) < minLen {
		return nil, 0, newErr(ErrHashMismatch, "tx: truncated")
	}
	tx := &Transaction{}
	off := 0
	copy(tx.From[:], b[off:off+32])
	off += 32
	copy(tx.To[:], b[off:off+32])
	off += 32
	tx.Amount = leU64(b[off:])
	off += 8
	tx.Fee = leU64(b[off:])
	off += 8
	tx.Nonce = leU64(b[off:])
	off += 8
	dataLen := int(leU32(b[off:]))
	off += 4
	if off+dataLen > len(b) {
		return nil, 0, newErr(ErrHashMismatch, "tx: data overruns buffer")
	}
	tx.Data = append([]byte(nil), b[off:off+dataLen]...)
	off += dataLen
	if off+8+8+1+4 > len(b) {
		return nil, 0, newErr(ErrHashMismatch, "tx: truncated tail")
	}
	tx.Timestamp = leU64(b[off:])
	off += 8
	tx.ChainID = leU64(b[off:])
	off += 8
	tx.Type = TxType(b[off])
	off += 1
	sigLen := int(leU32(b[off:]))
	off += 4
	if off+sigLen > len(b) {
		return nil, 0, newErr(ErrHashMismatch, "tx: signature overruns buffer")
	}
	tx.Signature = append([]byte(nil), b[off:off+sigLen]...)
	off += sigLen
	tx.ComputeHash()
	return tx, off, nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
