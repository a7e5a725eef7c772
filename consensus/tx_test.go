package consensus

import "testing"

func TestTxSignVerifyRoundTrip(t *testing.T) {
	alice := newTestKey(t)
	bob := newTestKey(t)
	tx := signedTransfer(t, alice, bob.Addr, 10, 1, 0, 1337, 1000)
	if !tx.VerifySignature() {
		t.Fatalf("signature does not verify")
	}
}

func TestTxEncodeDecodeRoundTrip(t *testing.T) {
	alice := newTestKey(t)
	bob := newTestKey(t)
	tx := signedTransfer(t, alice, bob.Addr, 10, 1, 0, 1337, 1000)

	decoded, n, err := DecodeTransaction(tx.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(tx.Encode()) {
		t.Fatalf("decode consumed %d bytes, want %d", n, len(tx.Encode()))
	}
	if !tx.Equal(decoded) {
		t.Fatalf("decode(encode(tx)) != tx")
	}
}

func TestTxHashCoversSignature(t *testing.T) {
	alice := newTestKey(t)
	bob := newTestKey(t)
	tx := signedTransfer(t, alice, bob.Addr, 10, 1, 0, 1337, 1000)
	originalHash := tx.Hash

	tampered := tx
	tampered.Signature = append([]byte(nil), tx.Signature...)
	tampered.Signature[0] ^= 0xff
	tampered.ComputeHash()

	if tampered.Hash == originalHash {
		t.Fatalf("hash did not change when signature was tampered with")
	}
}

func TestTxValidateShapeTransferRequiresPositiveAmount(t *testing.T) {
	alice := newTestKey(t)
	bob := newTestKey(t)
	tx := signedTransfer(t, alice, bob.Addr, 0, 1, 0, 1337, 1000)
	if err := tx.ValidateShape(); err == nil {
		t.Fatalf("expected error for zero-amount transfer")
	}
}

func TestTxValidateShapeTransferRequiresRecipient(t *testing.T) {
	alice := newTestKey(t)
	tx := signedTransfer(t, alice, [32]byte{}, 10, 1, 0, 1337, 1000)
	if err := tx.ValidateShape(); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

func TestTxValidateShapeStakeRequiresMinimum(t *testing.T) {
	alice := newTestKey(t)
	tx := signedStake(t, alice, MinStake-1, 0, 0, 1337, 1000)
	if err := tx.ValidateShape(); err == nil {
		t.Fatalf("expected error for below-minimum stake")
	}
}

func TestTxValidateShapeStakeAcceptsMinimum(t *testing.T) {
	alice := newTestKey(t)
	tx := signedStake(t, alice, MinStake, 0, 0, 1337, 1000)
	if err := tx.ValidateShape(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
