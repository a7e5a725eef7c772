package node

import "github.com/budlum/core/consensus"

// MaxSyncBatch bounds a single GetBlocksByHeight request, matching the
// teacher's compact-block/header-sync plumbing (node/p2p/headers.go,
// compactblock.go): a peer catching up asks for bounded windows instead of
// the whole chain in one frame.
const MaxSyncBatch = 256

// BlocksByHeight returns up to count decoded blocks starting at from,
// in ascending height order, for serving a peer's header-first sync
// request. count is clamped to MaxSyncBatch; the scan stops early at the
// current tip or the first missing height (a gap should never occur on the
// active chain, but a caller mid-reorg should not see a partial, inconsistent
// batch beyond what is actually canonical).
func (cm *ChainManager) BlocksByHeight(from uint64, count int) ([]*consensus.Block, error) {
	if count <= 0 {
		return nil, nil
	}
	if count > MaxSyncBatch {
		count = MaxSyncBatch
	}

	cm.mu.Lock()
	tip := cm.tipHeight
	cm.mu.Unlock()

	out := make([]*consensus.Block, 0, count)
	for h := from; h < from+uint64(count) && h <= tip; h++ {
		hash, ok, err := cm.db.GetHashByHeight(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		raw, found, err := cm.db.GetBlockBytes(hash)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		block, err := consensus.DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

// GetBlocksByHeight is the peer-facing request shape: a starting height and
// a requested count, matching the teacher's bounded header-sync request
// struct.
type GetBlocksByHeight struct {
	From  uint64
	Count int
}

// Serve answers a GetBlocksByHeight request against cm, applying the same
// MaxSyncBatch clamp BlocksByHeight enforces internally.
func (req GetBlocksByHeight) Serve(cm *ChainManager) ([]*consensus.Block, error) {
	return cm.BlocksByHeight(req.From, req.Count)
}
