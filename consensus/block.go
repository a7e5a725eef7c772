package consensus

import "github.com/budlum/core/crypto"

// SlashingEvidence proves a validator double-signed two different block
// headers at the same (producer, index).
type SlashingEvidence struct {
	Producer   [32]byte
	Index      uint64
	Header1    [32]byte // hash of the first header seen
	Header2    [32]byte // hash of the conflicting header
	Signature1 []byte
	Signature2 []byte
}

func (e SlashingEvidence) encode() []byte {
	buf := make([]byte, 0, 32+8+32+32+4+len(e.Signature1)+4+len(e.Signature2))
	buf = append(buf, e.Producer[:]...)
	buf = crypto.AppendU64(buf, e.Index)
	buf = append(buf, e.Header1[:]...)
	buf = append(buf, e.Header2[:]...)
	buf = crypto.AppendBytes(buf, e.Signature1)
	buf = crypto.AppendBytes(buf, e.Signature2)
	return buf
}

func encodeEvidenceList(evidence []SlashingEvidence) []byte {
	buf := make([]byte, 0, 8+len(evidence)*160)
	buf = crypto.AppendU32(buf, uint32(len(evidence)))
	for _, e := range evidence {
		buf = crypto.AppendBytes(buf, e.encode())
	}
	return buf
}

func decodeEvidence(b []byte) (SlashingEvidence, int, error) {
	const minLen = 32 + 8 + 32 + 32 + 4 + 4
	if len(b) < minLen {
		return SlashingEvidence{}, 0, newErr(ErrHashMismatch, "evidence: truncated")
	}
	var e SlashingEvidence
	off := 0
	copy(e.Producer[:], b[off:off+32])
	off += 32
	e.Index = leU64(b[off:])
	off += 8
	copy(e.Header1[:], b[off:off+32])
	off += 32
	copy(e.Header2[:], b[off:off+32])
	off += 32
	sig1Len := int(leU32(b[off:]))
	off += 4
	if off+sig1Len > len(b) {
		return SlashingEvidence{}, 0, newErr(ErrHashMismatch, "evidence: signature1 overruns buffer")
	}
	e.Signature1 = append([]byte(nil), b[off:off+sig1Len]...)
	off += sig1Len
	if off+4 > len(b) {
		return SlashingEvidence{}, 0, newErr(ErrHashMismatch, "evidence: truncated signature2 length")
	}
	sig2Len := int(leU32(b[off:]))
	off += 4
	if off+sig2Len > len(b) {
		return SlashingEvidence{}, 0, newErr(ErrHashMismatch, "evidence: signature2 overruns buffer")
	}
	e.Signature2 = append([]byte(nil), b[off:off+sig2Len]...)
	off += sig2Len
	return e, off, nil
}

func decodeEvidenceList(b []byte) ([]SlashingEvidence, int, error) {
	if len(b) < 4 {
		return nil, 0, newErr(ErrHashMismatch, "evidence list: truncated count")
	}
	count := int(leU32(b))
	off := 4
	out := make([]SlashingEvidence, 0, count)
	for i := 0; i < count; i++ {
		if off >= len(b) {
			return nil, 0, newErr(ErrHashMismatch, "evidence list: truncated entry")
		}
		e, n, err := decodeEvidence(b[off:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
		off += n
	}
	return out, off, nil
}

// BlockHeader carries every field that participates in the block hash.
// Producer is set by the PoS and PoA engines' PrepareBlock; the PoW engine
// never sets it, since PoW blocks have no producer identity requirement.
type BlockHeader struct {
	Index            uint64
	Timestamp        uint64
	PreviousHash     [32]byte
	Producer         [32]byte
	ChainID          uint64
	StateRoot        [32]byte
	TxRoot           [32]byte
	SlashingEvidence []SlashingEvidence
	Nonce            uint64
}

// Block is a header plus body: the ordered transaction list, the producer's
// signature over the header hash, and an optional PoS leader proof.
type Block struct {
	Header     BlockHeader
	Txs        []Transaction
	Signature  []byte // Ed25519, over Hash()
	StakeProof []byte // optional PoS VRF/leader proof, opaque to the chain manager
}

// HashPreimage returns the exact byte sequence BlockHash hashes, so miners
// can vary Nonce cheaply without re-deriving the rest of the header.
func (h *BlockHeader) HashPreimage() []byte {
	buf := make([]byte, 0, 200+len(h.SlashingEvidence)*160)
	buf = crypto.AppendU64(buf, h.Index)
	buf = crypto.AppendU64(buf, h.Timestamp)
	buf = append(buf, h.PreviousHash[:]...)
	buf = append(buf, h.TxRoot[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.Producer[:]...)
	buf = crypto.AppendU64(buf, h.ChainID)
	buf = crypto.AppendU64(buf, h.Nonce)
	buf = append(buf, encodeEvidenceList(h.SlashingEvidence)...)
	return buf
}

// Hash computes the block hash:
// H("BDLM_BLOCK_V2" ‖ index_le ‖ timestamp_le ‖ previous_hash ‖ tx_root ‖
// state_root ‖ producer_bytes ‖ chain_id_le ‖ nonce_le ‖ encoded_evidence).
func (h *BlockHeader) Hash() [32]byte {
	return crypto.Tagged(crypto.DomainBlock, h.HashPreimage())
}

// TxHashes returns the ordered list of transaction hashes used to compute
// TxRoot; transactions must already have Hash populated (ComputeHash called).
func (b *Block) TxHashes() [][32]byte {
	out := make([][32]byte, len(b.Txs))
	for i := range b.Txs {
		out[i] = b.Txs[i].Hash
	}
	return out
}

// SignHeader signs the block's header hash and sets b.Signature.
func (b *Block) SignHeader(priv []byte) {
	digest := b.Header.Hash()
	b.Signature = crypto.SignEd25519(priv, digest)
}

// VerifyHeaderSignature checks b.Signature against b.Header.Producer over
// the header hash.
func (b *Block) VerifyHeaderSignature() bool {
	digest := b.Header.Hash()
	return crypto.VerifyEd25519(b.Header.Producer[:], digest, b.Signature)
}

var zeroHash [32]byte

// Genesis synthesizes the fixed, network-known genesis block for chainID
// from a deterministic allocation table. The map's iteration order does not
// matter: AccountState.Root sorts accounts by address, so the block depends
// only on chainID, alloc and timestamp.
func Genesis(chainID uint64, alloc map[[32]byte]uint64, timestamp uint64) (*Block, [32]byte, error) {
	state := NewAccountState()
	for addr, bal := range alloc {
		state.Accounts[addr] = &Account{PublicKey: addr, Balance: bal}
	}
	root, err := state.Root()
	if err != nil {
		return nil, zeroHash, err
	}
	header := BlockHeader{
		Index:        0,
		Timestamp:    timestamp,
		PreviousHash: zeroHash,
		ChainID:      chainID,
		StateRoot:    root,
		TxRoot:       zeroHash,
	}
	block := &Block{Header: header}
	return block, header.Hash(), nil
}

// decodeHeader parses HashPreimage's layout back into a BlockHeader.
func decodeHeader(b []byte) (BlockHeader, int, error) {
	const minLen = 8 + 8 + 32 + 32 + 32 + 32 + 8 + 8
	if len(b) < minLen {
		return BlockHeader{}, 0, newErr(ErrHashMismatch, "header: truncated")
	}
	var h BlockHeader
	off := 0
	h.Index = leU64(b[off:])
	off += 8
	h.Timestamp = leU64(b[off:])
	off += 8
	copy(h.PreviousHash[:], b[off:off+32])
	off += 32
	copy(h.TxRoot[:], b[off:off+32])
	off += 32
	copy(h.StateRoot[:], b[off:off+32])
	off += 32
	copy(h.Producer[:], b[off:off+32])
	off += 32
	h.ChainID = leU64(b[off:])
	off += 8
	h.Nonce = leU64(b[off:])
	off += 8
	evidence, n, err := decodeEvidenceList(b[off:])
	if err != nil {
		return BlockHeader{}, 0, err
	}
	h.SlashingEvidence = evidence
	off += n
	return h, off, nil
}

// Encode produces the canonical wire/storage encoding of a full block:
// header (HashPreimage layout) ‖ tx count ‖ each tx's Encode() ‖ signature
// ‖ stake proof.
func (b *Block) Encode() []byte {
	buf := make([]byte, 0, 256+len(b.Txs)*128)
	buf = append(buf, b.Header.HashPreimage()...)
	buf = crypto.AppendU32(buf, uint32(len(b.Txs)))
	for i := range b.Txs {
		buf = crypto.AppendBytes(buf, b.Txs[i].Encode())
	}
	buf = crypto.AppendBytes(buf, b.Signature)
	buf = crypto.AppendBytes(buf, b.StakeProof)
	return buf
}

// DecodeBlock parses Encode()'s layout back into a Block. Every transaction
// has its Hash recomputed by DecodeTransaction; the header hash is not
// separately stored and must be recomputed by the caller via Header.Hash().
func DecodeBlock(b []byte) (*Block, error) {
	header, off, err := decodeHeader(b)
	if err != nil {
		return nil, err
	}
	if off+4 > len(b) {
		return nil, newErr(ErrHashMismatch, "block: truncated tx count")
	}
	txCount := int(leU32(b[off:]))
	off += 4
	txs := make([]Transaction, 0, txCount)
	for i := 0; i < txCount; i++ {
		if off+4 > len(b) {
			return nil, newErr(ErrHashMismatch, "block: truncated tx length")
		}
		txLen := int(leU32(b[off:]))
		off += 4
		if off+txLen > len(b) {
			return nil, newErr(ErrHashMismatch, "block: tx overruns buffer")
		}
		tx, _, err := DecodeTransaction(b[off : off+txLen])
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
		off += txLen
	}
	if off+4 > len(b) {
		return nil, newErr(ErrHashMismatch, "block: truncated signature length")
	}
	sigLen := int(leU32(b[off:]))
	off += 4
	if off+sigLen > len(b) {
		return nil, newErr(ErrHashMismatch, "block: signature overruns buffer")
	}
	signature := append([]byte(nil), b[off:off+sigLen]...)
	off += sigLen
	if off+4 > len(b) {
		return nil, newErr(ErrHashMismatch, "block: truncated stake proof length")
	}
	proofLen := int(leU32(b[off:]))
	off += 4
	if off+proofLen > len(b) {
		return nil, newErr(ErrHashMismatch, "block: stake proof overruns buffer")
	}
	stakeProof := append([]byte(nil), b[off:off+proofLen]...)

	return &Block{Header: header, Txs: txs, Signature: signature, StakeProof: stakeProof}, nil
}
