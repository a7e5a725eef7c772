package consensus

import "testing"

func TestGenesisDeterministic(t *testing.T) {
	alice := newTestKey(t)
	bob := newTestKey(t)
	alloc := map[[32]byte]uint64{
		alice.Addr: 1000,
		bob.Addr:   500,
	}

	b1, hash1, err := Genesis(1337, alloc, 1_700_000_000)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	b2, hash2, err := Genesis(1337, alloc, 1_700_000_000)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if hash1 != hash2 {
		t.Fatalf("genesis hash not deterministic across calls with the same allocation")
	}
	if b1.Header.StateRoot != b2.Header.StateRoot {
		t.Fatalf("genesis state root not deterministic")
	}
}

func TestGenesisChainIDChangesHash(t *testing.T) {
	alice := newTestKey(t)
	alloc := map[[32]byte]uint64{alice.Addr: 1000}

	_, h1, err := Genesis(1, alloc, 1000)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	_, h2, err := Genesis(2, alloc, 1000)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("genesis hash must depend on chain id")
	}
}

func TestBlockHeaderSignVerify(t *testing.T) {
	producer := newTestKey(t)
	b := &Block{Header: BlockHeader{
		Index:        1,
		Timestamp:    1000,
		PreviousHash: zeroHash,
		Producer:     producer.Addr,
		ChainID:      1337,
	}}
	b.SignHeader(producer.Priv)
	if !b.VerifyHeaderSignature() {
		t.Fatalf("header signature does not verify")
	}
}

func TestBlockHeaderVerifyRejectsTamperedIndex(t *testing.T) {
	producer := newTestKey(t)
	b := &Block{Header: BlockHeader{
		Index:        1,
		Timestamp:    1000,
		PreviousHash: zeroHash,
		Producer:     producer.Addr,
		ChainID:      1337,
	}}
	b.SignHeader(producer.Priv)
	b.Header.Index = 2
	if b.VerifyHeaderSignature() {
		t.Fatalf("signature verified after header was tampered with")
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	producer := newTestKey(t)
	alice := newTestKey(t)
	bob := newTestKey(t)
	tx := signedTransfer(t, alice, bob.Addr, 25, 1, 0, 1337, 1000)

	b := &Block{
		Header: BlockHeader{
			Index:        1,
			Timestamp:    1000,
			PreviousHash: zeroHash,
			Producer:     producer.Addr,
			ChainID:      1337,
			TxRoot:       MerkleRoot([][32]byte{tx.Hash}),
		},
		Txs:        []Transaction{tx},
		StakeProof: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	b.SignHeader(producer.Priv)

	decoded, err := DecodeBlock(b.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Header.Hash() != b.Header.Hash() {
		t.Fatalf("decoded header hash mismatch")
	}
	if len(decoded.Txs) != 1 || !decoded.Txs[0].Equal(&b.Txs[0]) {
		t.Fatalf("decoded tx mismatch")
	}
	if !decoded.VerifyHeaderSignature() {
		t.Fatalf("decoded block signature does not verify")
	}
}

func TestBlockEncodeDecodeWithSlashingEvidence(t *testing.T) {
	producer := newTestKey(t)
	evidence := SlashingEvidence{
		Producer:   producer.Addr,
		Index:      5,
		Header1:    leaf(1),
		Header2:    leaf(2),
		Signature1: []byte{1, 2, 3},
		Signature2: []byte{4, 5, 6},
	}
	b := &Block{Header: BlockHeader{
		Index:            6,
		Timestamp:        2000,
		PreviousHash:     leaf(9),
		ChainID:          1337,
		SlashingEvidence: []SlashingEvidence{evidence},
	}}
	b.SignHeader(producer.Priv)
	b.Header.Producer = producer.Addr
	b.SignHeader(producer.Priv)

	decoded, err := DecodeBlock(b.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Header.SlashingEvidence) != 1 {
		t.Fatalf("expected one evidence entry, got %d", len(decoded.Header.SlashingEvidence))
	}
	got := decoded.Header.SlashingEvidence[0]
	if got.Producer != evidence.Producer || got.Index != evidence.Index ||
		got.Header1 != evidence.Header1 || got.Header2 != evidence.Header2 {
		t.Fatalf("decoded evidence mismatch: %+v", got)
	}
}

func TestBlockHashChangesWithNonce(t *testing.T) {
	h1 := BlockHeader{Index: 1, ChainID: 1337, PreviousHash: zeroHash, Nonce: 1}
	h2 := h1
	h2.Nonce = 2
	if h1.Hash() == h2.Hash() {
		t.Fatalf("block hash must depend on nonce")
	}
}
