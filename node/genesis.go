package node

import (
	"encoding/hex"
	"fmt"

	"github.com/budlum/core/consensus"
	"github.com/budlum/core/node/store"
)

// Alloc is a single genesis balance grant.
type Alloc struct {
	Address hex32Addr `json:"address"`
	Balance uint64    `json:"balance"`
}

// hex32Addr marshals a [32]byte as a hex string in genesis files.
type hex32Addr string

func (a hex32Addr) Decode() ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(string(a))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("address must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// InitGenesis builds the network's genesis block from alloc, applies it to
// a fresh AccountState, and persists both the block and the manifest commit
// point in a single call. It refuses to run against a datadir that already
// has a manifest, mirroring the teacher pattern of treating InitGenesis as
// a one-time, idempotency-checked bootstrap rather than an upsert.
func InitGenesis(db *store.DB, cfg Config, allocs []Alloc, timestamp uint64) error {
	if db.Manifest() != nil {
		return fmt.Errorf("node: chain already initialized (manifest exists)")
	}

	alloc := make(map[[32]byte]uint64, len(allocs))
	for _, a := range allocs {
		addr, err := a.Address.Decode()
		if err != nil {
			return fmt.Errorf("genesis alloc %q: %w", a.Address, err)
		}
		alloc[addr] = a.Balance
	}

	block, hash, err := consensus.Genesis(cfg.ChainID, alloc, timestamp)
	if err != nil {
		return fmt.Errorf("build genesis block: %w", err)
	}

	blockBytes := block.Encode()
	if err := db.PutBlock(hash, 0, blockBytes, nil); err != nil {
		return fmt.Errorf("persist genesis block: %w", err)
	}
	if err := db.SetLast(hash); err != nil {
		return err
	}
	if err := db.SetFinal(hash); err != nil {
		return err
	}

	// The genesis block's header only carries the state root, not the
	// account balances that produced it, so a restart can't recover the
	// allocation table by decoding the block. A height-0 snapshot is the
	// only place that data survives; the chain manager's load path
	// always looks for it first.
	genesisState := consensus.NewAccountState()
	for addr, bal := range alloc {
		genesisState.Accounts[addr] = &consensus.Account{PublicKey: addr, Balance: bal}
	}
	snap, err := genesisState.Snapshot(0, cfg.ChainID, 0, hash)
	if err != nil {
		return fmt.Errorf("build genesis snapshot: %w", err)
	}
	if err := db.PutSnapshot(0, snap.Encode()); err != nil {
		return fmt.Errorf("persist genesis snapshot: %w", err)
	}

	m := &store.Manifest{
		SchemaVersion:    store.SchemaVersionV1,
		ChainIDHex:       fmt.Sprintf("%016x", cfg.ChainID),
		TipHashHex:       hex.EncodeToString(hash[:]),
		TipHeight:        0,
		TipScoreDec:      "0",
		FinalizedHashHex: hex.EncodeToString(hash[:]),
		FinalizedHeight:  0,
	}
	return db.SetManifest(m)
}
