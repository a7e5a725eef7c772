package node

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/budlum/core/consensus"
	"github.com/budlum/core/node/store"
)

// ChainManager owns the canonical chain: the tip, the finality floor, the
// post-apply account state needed to extend or reorganize it, and the
// buffered blocks still waiting on a parent. Locking order is always
// chain -> state -> mempool; nothing here ever calls back into the mempool
// while holding mu except RemoveApplied/Admit, which take no lock of their
// own beyond the mempool's.
type ChainManager struct {
	mu sync.Mutex

	db      *store.DB
	Engine  consensus.Engine
	Mempool *consensus.Mempool
	ChainID uint64

	tipHash   [32]byte
	tipHeight uint64
	tipScore  *big.Int
	tipState  *consensus.AccountState

	finalizedHash   [32]byte
	finalizedHeight uint64

	// stateAt caches the post-apply state for every block still above the
	// finalized floor, keyed by block hash, so a reorg within
	// MaxReorgDepth switches tips by reading the candidate's cached state
	// instead of replaying blocks. Entries strictly below finalizedHeight
	// are dropped once a block finalizes; the finalized block's own entry
	// is kept so branches built on it can still resolve their parent state.
	stateAt map[[32]byte]*consensus.AccountState

	// pendingByParent buffers blocks whose parent hasn't arrived yet,
	// keyed by the missing parent's hash.
	pendingByParent map[[32]byte][]*consensus.Block

	MaxReorgDepth    uint64
	SnapshotInterval uint64

	// OnFinalize is invoked after finalizedHeight advances, past the
	// pruning the chain manager already performed; nil is fine.
	OnFinalize func(height uint64, hash [32]byte)
}

// NewChainManager wires a freshly-initialized genesis chain (db.Manifest()
// must already exist, e.g. via InitGenesis) into a running ChainManager.
func NewChainManager(db *store.DB, engine consensus.Engine, mempool *consensus.Mempool, chainID uint64) (*ChainManager, error) {
	m := db.Manifest()
	if m == nil {
		return nil, fmt.Errorf("node: chain manager requires an initialized manifest")
	}

	cm := &ChainManager{
		db:               db,
		Engine:           engine,
		Mempool:          mempool,
		ChainID:          chainID,
		stateAt:          make(map[[32]byte]*consensus.AccountState),
		pendingByParent:  make(map[[32]byte][]*consensus.Block),
		MaxReorgDepth:    consensus.MaxReorgDepth,
		SnapshotInterval: consensus.SnapshotInterval,
	}

	if err := cm.loadFromManifest(m); err != nil {
		return nil, err
	}
	return cm, nil
}

// loadFromManifest reconstructs tipState by replaying from the most recent
// snapshot at or below the tip (falling back to genesis if none exists)
// forward to the manifest's recorded tip. This is the bootstrap path used
// every time the node restarts.
func (cm *ChainManager) loadFromManifest(m *store.Manifest) error {
	tipHashBytes, err := hex.DecodeString(m.TipHashHex)
	if err != nil || len(tipHashBytes) != 32 {
		return fmt.Errorf("manifest tip_hash invalid")
	}
	var tipHash [32]byte
	copy(tipHash[:], tipHashBytes)

	finalHashBytes, err := hex.DecodeString(m.FinalizedHashHex)
	if err != nil || len(finalHashBytes) != 32 {
		return fmt.Errorf("manifest finalized_hash invalid")
	}
	var finalHash [32]byte
	copy(finalHash[:], finalHashBytes)

	startHeight := uint64(0)
	state := consensus.NewAccountState()
	if snapHeight, ok, err := cm.latestSnapshotAtOrBelow(m.TipHeight); err != nil {
		return err
	} else if ok {
		raw, found, err := cm.db.GetSnapshot(snapHeight)
		if err != nil {
			return err
		}
		if found {
			snap, err := consensus.DecodeStateSnapshot(raw)
			if err != nil {
				return fmt.Errorf("decode snapshot at height %d: %w", snapHeight, err)
			}
			state = snap.ToState()
			startHeight = snapHeight + 1
			if snapHash, ok, err := cm.db.GetHashByHeight(snapHeight); err == nil && ok {
				cm.stateAt[snapHash] = state.Clone()
			}
		}
	}

	for h := startHeight; h <= m.TipHeight; h++ {
		hash, ok, err := cm.db.GetHashByHeight(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("missing block at height %d during replay", h)
		}
		raw, found, err := cm.db.GetBlockBytes(hash)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("missing block body for height %d during replay", h)
		}
		block, err := consensus.DecodeBlock(raw)
		if err != nil {
			return err
		}
		if h > 0 {
			if err := state.ApplyBlock(block); err != nil {
				return fmt.Errorf("replay block %d: %w", h, err)
			}
		}
		cm.stateAt[hash] = state.Clone()
	}

	cm.tipHash = tipHash
	cm.tipHeight = m.TipHeight
	cm.tipState = state
	cm.finalizedHash = finalHash
	cm.finalizedHeight = m.FinalizedHeight
	score, ok := new(big.Int).SetString(m.TipScoreDec, 10)
	if !ok {
		score = new(big.Int)
	}
	cm.tipScore = score

	cm.pruneCacheBelow(cm.finalizedHeight)
	return nil
}

func (cm *ChainManager) latestSnapshotAtOrBelow(height uint64) (uint64, bool, error) {
	for h := (height / cm.SnapshotInterval) * cm.SnapshotInterval; ; h -= cm.SnapshotInterval {
		_, found, err := cm.db.GetSnapshot(h)
		if err != nil {
			return 0, false, err
		}
		if found {
			return h, true, nil
		}
		if h == 0 {
			return 0, false, nil
		}
	}
}

// TipHeight/TipHash/FinalizedHeight/FinalizedHash are read under lock since
// block acceptance and finality updates both mutate them concurrently with
// RPC/p2p readers.
func (cm *ChainManager) TipHeight() uint64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.tipHeight
}

func (cm *ChainManager) TipHash() [32]byte {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.tipHash
}

func (cm *ChainManager) FinalizedHeight() uint64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.finalizedHeight
}

// State returns a clone of the current tip state, safe for read-only use by
// callers such as RPC handlers that must not see future mutations.
func (cm *ChainManager) State() *consensus.AccountState {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.tipState.Clone()
}

// ValidateAndAddBlock is the single entry point for admitting a block,
// whether it was locally produced or received from a peer. It is idempotent
// against re-delivery of a block already on the active chain.
func (cm *ChainManager) ValidateAndAddBlock(block *consensus.Block) error {
	hash := block.Header.Hash()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, known, err := cm.db.GetBlockBytes(hash); err != nil {
		return err
	} else if known {
		if existingHash, ok, _ := cm.db.GetHashByHeight(block.Header.Index); ok && existingHash == hash {
			return nil // already canonical; re-delivery is a no-op
		}
	}

	if block.Header.Index <= cm.finalizedHeight {
		if block.Header.Index == cm.finalizedHeight && hash == cm.finalizedHash {
			return nil
		}
		return newErrBelowFinality(block.Header.Index, cm.finalizedHeight)
	}

	parentState, parentHeader, ok, err := cm.resolveParent(block.Header.PreviousHash)
	if err != nil {
		return err
	}
	if !ok {
		cm.pendingByParent[block.Header.PreviousHash] = append(cm.pendingByParent[block.Header.PreviousHash], block)
		return consensus.ErrUnknownParentSentinel
	}

	if err := cm.admitValidated(block, hash, parentState, parentHeader); err != nil {
		return err
	}

	cm.drainPending(hash)
	return nil
}

// resolveParent finds the post-apply state and header a candidate block
// extends, either from the live cache (the common case) or by decoding the
// stored block if the parent is the current tip or an ancestor still on
// disk but evicted from the cache.
func (cm *ChainManager) resolveParent(parentHash [32]byte) (*consensus.AccountState, *consensus.BlockHeader, bool, error) {
	if state, ok := cm.stateAt[parentHash]; ok {
		raw, found, err := cm.db.GetBlockBytes(parentHash)
		if err != nil {
			return nil, nil, false, err
		}
		if !found {
			return nil, nil, false, nil
		}
		parentBlock, err := consensus.DecodeBlock(raw)
		if err != nil {
			return nil, nil, false, err
		}
		return state, &parentBlock.Header, true, nil
	}

	raw, found, err := cm.db.GetBlockBytes(parentHash)
	if err != nil {
		return nil, nil, false, err
	}
	if !found {
		return nil, nil, false, nil
	}
	parentBlock, err := consensus.DecodeBlock(raw)
	if err != nil {
		return nil, nil, false, err
	}
	if parentHash == cm.tipHash {
		return cm.tipState, &parentBlock.Header, true, nil
	}
	return nil, nil, false, nil
}

// admitValidated checks the block-level invariants that hold regardless of
// consensus regime (chain_id, index linkage) before running engine + state
// validation against a resolved parent, persists the block, and reconsiders
// the fork-choice winner.
func (cm *ChainManager) admitValidated(block *consensus.Block, hash [32]byte, parentState *consensus.AccountState, parentHeader *consensus.BlockHeader) error {
	if block.Header.ChainID != cm.ChainID {
		return newErr(consensus.ErrWrongChain, fmt.Sprintf("block chain_id %d does not match local chain_id %d", block.Header.ChainID, cm.ChainID))
	}
	if block.Header.Index != parentHeader.Index+1 {
		return newErr(consensus.ErrLinkageInvalid, fmt.Sprintf("block index %d does not follow parent index %d", block.Header.Index, parentHeader.Index))
	}

	if err := cm.Engine.ValidateBlock(block, parentHeader, parentState); err != nil {
		return err
	}

	candidate := parentState.Clone()
	if err := candidate.ApplyBlock(block); err != nil {
		return err
	}

	if err := cm.db.PutBlock(hash, block.Header.Index, block.Encode(), block.TxHashes()); err != nil {
		return err
	}
	cm.stateAt[hash] = candidate

	if obs, ok := cm.Engine.(consensus.BlockObserver); ok {
		obs.OnBlockAccepted(hash, block.Header.Index)
	}

	extendsTip := block.Header.PreviousHash == cm.tipHash
	if extendsTip {
		if err := cm.advanceTip(hash, block.Header.Index, candidate); err != nil {
			return err
		}
	} else {
		if err := cm.maybeReorg(hash, block.Header.Index); err != nil {
			return err
		}
	}

	cm.Mempool.RemoveApplied(block)

	if block.Header.Index%cm.SnapshotInterval == 0 {
		if err := cm.writeSnapshot(block.Header.Index, candidate); err != nil {
			return err
		}
	}
	return nil
}

func (cm *ChainManager) advanceTip(hash [32]byte, height uint64, state *consensus.AccountState) error {
	headers, err := cm.headersFromGenesis(hash, height)
	if err != nil {
		return err
	}
	score := cm.Engine.ForkChoiceScore(headers)

	cm.tipHash = hash
	cm.tipHeight = height
	cm.tipScore = score
	cm.tipState = state
	return cm.persistManifest()
}

// maybeReorg compares a non-extending candidate's fork-choice score against
// the current tip's, and if it wins, switches the tip to the candidate using
// its cached post-apply state. Depth is capped at MaxReorgDepth and a
// candidate whose common ancestor lies below finalizedHeight is rejected.
func (cm *ChainManager) maybeReorg(candidateHash [32]byte, candidateHeight uint64) error {
	candidateHeaders, err := cm.headersFromGenesis(candidateHash, candidateHeight)
	if err != nil {
		return err
	}
	candidateScore := cm.Engine.ForkChoiceScore(candidateHeaders)
	if candidateScore.Cmp(cm.tipScore) <= 0 {
		return nil // does not overtake the active tip; kept only as a buffered side branch
	}

	ancestor, depth, err := cm.commonAncestor(candidateHash, candidateHeight)
	if err != nil {
		return err
	}
	if depth > cm.MaxReorgDepth {
		return newErr(consensus.ErrReorgTooDeep, fmt.Sprintf("reorg depth %d exceeds max %d", depth, cm.MaxReorgDepth))
	}
	if ancestor.height < cm.finalizedHeight {
		return newErr(consensus.ErrBelowFinality, "reorg would cross the finalized checkpoint")
	}

	cm.tipHash = candidateHash
	cm.tipHeight = candidateHeight
	cm.tipScore = candidateScore
	cm.tipState = cm.stateAt[candidateHash]
	return cm.persistManifest()
}

type ancestorRef struct {
	hash   [32]byte
	height uint64
}

// commonAncestor walks both the current tip and the candidate branch back
// to their first shared block, returning that block plus the candidate's
// distance from it (the reorg depth).
func (cm *ChainManager) commonAncestor(candidateHash [32]byte, candidateHeight uint64) (ancestorRef, uint64, error) {
	curHash, curHeight := cm.tipHash, cm.tipHeight
	candHash, candHeight := candidateHash, candidateHeight
	depth := uint64(0)

	for curHeight > candHeight {
		h, err := cm.headerAt(curHash)
		if err != nil {
			return ancestorRef{}, 0, err
		}
		curHash = h.PreviousHash
		curHeight--
	}
	for candHeight > curHeight {
		h, err := cm.headerAt(candHash)
		if err != nil {
			return ancestorRef{}, 0, err
		}
		candHash = h.PreviousHash
		candHeight--
		depth++
	}
	for curHash != candHash {
		hc, err := cm.headerAt(curHash)
		if err != nil {
			return ancestorRef{}, 0, err
		}
		hd, err := cm.headerAt(candHash)
		if err != nil {
			return ancestorRef{}, 0, err
		}
		curHash = hc.PreviousHash
		candHash = hd.PreviousHash
		curHeight--
		candHeight--
		depth++
	}
	return ancestorRef{hash: curHash, height: curHeight}, depth, nil
}

func (cm *ChainManager) headerAt(hash [32]byte) (*consensus.BlockHeader, error) {
	raw, found, err := cm.db.GetBlockBytes(hash)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("header lookup: block %x not found", hash)
	}
	block, err := consensus.DecodeBlock(raw)
	if err != nil {
		return nil, err
	}
	return &block.Header, nil
}

// headersFromGenesis rebuilds the ordered header chain ending at hash, for
// ForkChoiceScore. Only the active path's height range is walked since the
// PoS/PoA engines only need Producer per header, not the full body.
func (cm *ChainManager) headersFromGenesis(hash [32]byte, height uint64) ([]consensus.BlockHeader, error) {
	out := make([]consensus.BlockHeader, height+1)
	cur := hash
	for i := int64(height); i >= 0; i-- {
		h, err := cm.headerAt(cur)
		if err != nil {
			return nil, err
		}
		out[i] = *h
		cur = h.PreviousHash
	}
	return out, nil
}

func (cm *ChainManager) drainPending(parentHash [32]byte) {
	queued := cm.pendingByParent[parentHash]
	delete(cm.pendingByParent, parentHash)
	for _, b := range queued {
		h := b.Header.Hash()
		state, header, ok, err := cm.resolveParent(b.Header.PreviousHash)
		if err != nil || !ok {
			continue
		}
		if err := cm.admitValidated(b, h, state, header); err == nil {
			cm.drainPending(h)
		}
	}
}

// OnFinalityCert advances the finalized checkpoint once a quorum
// certificate is independently verified, then prunes block bodies that
// have fallen more than SnapshotSafetyMargin behind it. finalizedHeight
// only ever moves forward: a cert for a height at or below the current
// floor is accepted as a no-op, never rolled back.
func (cm *ChainManager) OnFinalityCert(cert consensus.FinalityCert, validators []*consensus.Validator) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !consensus.VerifyFinalityCert(cert, validators) {
		return fmt.Errorf("finality cert failed independent verification")
	}
	if cert.CheckpointHeight <= cm.finalizedHeight {
		return nil
	}
	if _, found, err := cm.db.GetBlockBytes(cert.CheckpointHash); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("finality cert checkpoint block not known locally")
	}

	cm.finalizedHeight = cert.CheckpointHeight
	cm.finalizedHash = cert.CheckpointHash

	if err := cm.persistManifest(); err != nil {
		return err
	}
	cm.pruneBelow(cm.finalizedHeight)
	cm.pruneCacheBelow(cm.finalizedHeight)

	if cm.OnFinalize != nil {
		cm.OnFinalize(cm.finalizedHeight, cm.finalizedHash)
	}
	return nil
}

// pruneBelow deletes block bodies whose height has fallen more than
// SnapshotSafetyMargin behind the finalized floor; the HEIGHT index and
// meta pointers are untouched so height lookups for still-safe blocks keep
// working.
func (cm *ChainManager) pruneBelow(finalizedHeight uint64) {
	if finalizedHeight < consensus.SnapshotSafetyMargin {
		return
	}
	cutoff := finalizedHeight - consensus.SnapshotSafetyMargin
	for h := uint64(0); h < cutoff; h++ {
		hash, ok, err := cm.db.GetHashByHeight(h)
		if err != nil || !ok {
			continue
		}
		_ = cm.db.PruneBlock(hash)
	}
}

func (cm *ChainManager) pruneCacheBelow(finalizedHeight uint64) {
	for hash := range cm.stateAt {
		h, err := cm.headerAt(hash)
		if err != nil || h.Index < finalizedHeight {
			delete(cm.stateAt, hash)
		}
	}
}

func (cm *ChainManager) writeSnapshot(height uint64, state *consensus.AccountState) error {
	snap, err := state.Snapshot(height, cm.ChainID, cm.finalizedHeight, cm.finalizedHash)
	if err != nil {
		return err
	}
	return cm.db.PutSnapshot(height, snap.Encode())
}

func (cm *ChainManager) persistManifest() error {
	m := &store.Manifest{
		SchemaVersion:    store.SchemaVersionV1,
		ChainIDHex:       fmt.Sprintf("%016x", cm.ChainID),
		TipHashHex:       hex.EncodeToString(cm.tipHash[:]),
		TipHeight:        cm.tipHeight,
		TipScoreDec:      cm.tipScore.String(),
		FinalizedHashHex: hex.EncodeToString(cm.finalizedHash[:]),
		FinalizedHeight:  cm.finalizedHeight,
	}
	return cm.db.SetManifest(m)
}

// sortedValidators is a small helper RPC/producer code reuses to get a
// deterministic validator ordering out of the state's map.
func sortedValidators(state *consensus.AccountState) []*consensus.Validator {
	addrs := make([][32]byte, 0, len(state.Validators))
	for a := range state.Validators {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})
	out := make([]*consensus.Validator, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, state.Validators[a])
	}
	return out
}

func newErr(code consensus.ErrorCode, msg string) error {
	return &consensus.Error{Code: code, Msg: msg}
}

func newErrBelowFinality(height, finalizedHeight uint64) error {
	return &consensus.Error{Code: consensus.ErrBelowFinality, Msg: fmt.Sprintf("block height %d at or below finalized height %d", height, finalizedHeight)}
}
