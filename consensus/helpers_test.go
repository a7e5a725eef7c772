package consensus

import (
	"testing"

	"github.com/budlum/core/crypto"
)

// testKey bundles an address and signing key pair for use across consensus
// package tests.
type testKey struct {
	Addr [32]byte
	Priv []byte
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	pub, priv, err := crypto.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [32]byte
	copy(addr[:], pub)
	return testKey{Addr: addr, Priv: priv}
}

func signedTransfer(t *testing.T, from testKey, to [32]byte, amount, fee, nonce, chainID, timestamp uint64) Transaction {
	t.Helper()
	tx := Transaction{
		From:      from.Addr,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: timestamp,
		ChainID:   chainID,
		Type:      TxTransfer,
	}
	tx.Sign(from.Priv)
	return tx
}

func signedStake(t *testing.T, from testKey, amount, fee, nonce, chainID, timestamp uint64) Transaction {
	t.Helper()
	tx := Transaction{
		From:      from.Addr,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: timestamp,
		ChainID:   chainID,
		Type:      TxStake,
	}
	tx.Sign(from.Priv)
	return tx
}
