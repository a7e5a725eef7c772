package store

import "testing"

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir, "0000000000000539")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenUninitializedChainHasNoManifest(t *testing.T) {
	db := openTestDB(t)
	if db.Manifest() != nil {
		t.Fatalf("expected nil manifest on a freshly-opened chain dir")
	}
}

func TestSetAndGetManifestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "0000000000000539")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m := &Manifest{SchemaVersion: SchemaVersionV1, ChainIDHex: "0000000000000539", TipHeight: 5, TipHashHex: "ab"}
	if err := db.SetManifest(m); err != nil {
		t.Fatalf("set manifest: %v", err)
	}
	_ = db.Close()

	reopened, err := Open(dir, "0000000000000539")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got := reopened.Manifest()
	if got == nil || got.TipHeight != 5 || got.TipHashHex != "ab" {
		t.Fatalf("expected manifest to survive reopen, got %+v", got)
	}
}

func TestPutBlockIndexesHeightAndTxHashes(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 1
	var tx1, tx2 [32]byte
	tx1[0] = 0xA
	tx2[0] = 0xB
	blockBytes := []byte("fake-block-bytes")

	if err := db.PutBlock(hash, 7, blockBytes, [][32]byte{tx1, tx2}); err != nil {
		t.Fatalf("put block: %v", err)
	}

	got, found, err := db.GetBlockBytes(hash)
	if err != nil || !found {
		t.Fatalf("expected block bytes found, err=%v", err)
	}
	if string(got) != string(blockBytes) {
		t.Fatalf("expected round-tripped block bytes to match")
	}

	hashByHeight, found, err := db.GetHashByHeight(7)
	if err != nil || !found || hashByHeight != hash {
		t.Fatalf("expected height index to resolve to block hash")
	}

	blockHash, found, err := db.GetBlockHashByTx(tx1)
	if err != nil || !found || blockHash != hash {
		t.Fatalf("expected tx index to resolve tx1 to block hash")
	}
	blockHash, found, err = db.GetBlockHashByTx(tx2)
	if err != nil || !found || blockHash != hash {
		t.Fatalf("expected tx index to resolve tx2 to block hash")
	}
}

func TestGetBlockBytesMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 0xFF
	_, found, err := db.GetBlockBytes(hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected not found for a hash never stored")
	}
}

func TestDeleteHeightRemovesHeightIndexButKeepsBlock(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 2
	if err := db.PutBlock(hash, 3, []byte("body"), nil); err != nil {
		t.Fatalf("put block: %v", err)
	}
	if err := db.DeleteHeight(3); err != nil {
		t.Fatalf("delete height: %v", err)
	}
	_, found, err := db.GetHashByHeight(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected height index removed")
	}
	_, found, err = db.GetBlockBytes(hash)
	if err != nil || !found {
		t.Fatalf("expected block body to remain reachable by hash after height delete")
	}
}

func TestSetLastAndGetLastRoundTrip(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 9
	if err := db.SetLast(hash); err != nil {
		t.Fatalf("set last: %v", err)
	}
	got, found, err := db.GetLast()
	if err != nil || !found || got != hash {
		t.Fatalf("expected last hash round trip, found=%v err=%v", found, err)
	}
}

func TestSetFinalAndGetFinalRoundTrip(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 0x42
	if err := db.SetFinal(hash); err != nil {
		t.Fatalf("set final: %v", err)
	}
	got, found, err := db.GetFinal()
	if err != nil || !found || got != hash {
		t.Fatalf("expected final hash round trip, found=%v err=%v", found, err)
	}
}

func TestGetLastUnsetReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	_, found, err := db.GetLast()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected not found before SetLast is ever called")
	}
}

func TestPutSnapshotAndGetSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)
	payload := []byte("snapshot-bytes")
	if err := db.PutSnapshot(42, payload); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	got, found, err := db.GetSnapshot(42)
	if err != nil || !found {
		t.Fatalf("expected snapshot found, err=%v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected round-tripped snapshot bytes to match")
	}
}

func TestPruneBlockDeletesBlockBody(t *testing.T) {
	db := openTestDB(t)
	var hash [32]byte
	hash[0] = 5
	if err := db.PutBlock(hash, 1, []byte("body"), nil); err != nil {
		t.Fatalf("put block: %v", err)
	}
	if err := db.PruneBlock(hash); err != nil {
		t.Fatalf("prune block: %v", err)
	}
	_, found, err := db.GetBlockBytes(hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected block body gone after pruning")
	}
}
