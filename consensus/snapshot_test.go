package consensus

import "testing"

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	state := NewAccountState()
	a, b := leaf(1), leaf(2)
	state.Accounts[a] = &Account{PublicKey: a, Balance: 100, Nonce: 1}
	state.Accounts[b] = &Account{PublicKey: b, Balance: 200, Nonce: 2}
	state.Validators[a] = &Validator{Address: a, Stake: 50_000, Active: true, BLSPubKey: []byte{1, 2, 3}}

	snap, err := state.Snapshot(10, 1337, 5, leaf(9))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	decoded, err := DecodeStateSnapshot(snap.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Height != 10 || decoded.ChainID != 1337 || decoded.FinalizedHeight != 5 {
		t.Fatalf("decoded header mismatch: %+v", decoded)
	}
	if decoded.StateRoot != snap.StateRoot {
		t.Fatalf("decoded state root mismatch")
	}
	if len(decoded.Accounts) != 2 || len(decoded.Validators) != 1 {
		t.Fatalf("decoded counts mismatch: %d accounts, %d validators", len(decoded.Accounts), len(decoded.Validators))
	}
}

func TestSnapshotToStatePreservesBalancesAndStakes(t *testing.T) {
	state := NewAccountState()
	a := leaf(1)
	state.Accounts[a] = &Account{PublicKey: a, Balance: 500, Nonce: 3}
	state.Validators[a] = &Validator{Address: a, Stake: 20_000, Active: true}

	snap, err := state.Snapshot(1, 1, 0, zeroHash)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	restored := snap.ToState()
	if restored.BalanceOf(a) != 500 || restored.NonceOf(a) != 3 {
		t.Fatalf("restored account mismatch")
	}
	if restored.Validators[a].Stake != 20_000 {
		t.Fatalf("restored validator stake mismatch")
	}
}

func TestSnapshotIsSelfVerifyingAgainstRoot(t *testing.T) {
	state := NewAccountState()
	a := leaf(1)
	state.Accounts[a] = &Account{PublicKey: a, Balance: 1}

	snap, err := state.Snapshot(1, 1, 0, zeroHash)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	restored := snap.ToState()
	root, err := restored.Root()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if root != snap.StateRoot {
		t.Fatalf("restored state root does not match snapshot's recorded root")
	}
}
