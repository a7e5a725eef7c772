package consensus

import (
	"sort"
	"sync"
)

// MempoolEntry wraps a pending transaction with pool bookkeeping.
type MempoolEntry struct {
	Tx         Transaction
	ReceivedAt uint64 // millisecond wall clock
	Size       int
}

type senderNonce struct {
	sender [32]byte
	nonce  uint64
}

// StateReader is the narrow read view the mempool needs from committed
// state: current nonce and balance per sender. The chain manager's
// AccountState satisfies this directly.
type StateReader interface {
	NonceOf(addr [32]byte) uint64
	BalanceOf(addr [32]byte) uint64
}

// Mempool is the fee-ranked, nonce-ordered, TTL-bounded pending pool with
// replace-by-fee. A single mutex protects all three maps (entries by hash,
// entries by sender+nonce, per-sender counts) since they must stay coherent;
// fee order is computed on demand by Select.
type Mempool struct {
	mu sync.Mutex

	byHash   map[[32]byte]*MempoolEntry
	bySender map[senderNonce]*MempoolEntry
	perSender map[[32]byte]int

	ttlSeconds uint64
}

func NewMempool() *Mempool {
	return &Mempool{
		byHash:    make(map[[32]byte]*MempoolEntry),
		bySender:  make(map[senderNonce]*MempoolEntry),
		perSender: make(map[[32]byte]int),
		ttlSeconds: MempoolTTLSeconds,
	}
}

// Admit validates and inserts tx into the pool, applying the pool's
// admission rules, and applies RBF when an entry already exists at the
// same (sender, nonce).
func (m *Mempool) Admit(tx Transaction, state StateReader, now uint64) error {
	if !tx.VerifySignature() {
		return newErr(ErrInvalidSignature, "mempool: admit")
	}
	if err := tx.ValidateShape(); err != nil {
		return err
	}
	if tx.Timestamp > now+TxMaxClockSkewMillis || tx.Timestamp+TxMaxClockSkewMillis < now {
		return newErr(ErrBadTimestamp, "mempool: tx timestamp outside +/-15s window")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[tx.Hash]; exists {
		return newErr(ErrDuplicate, "mempool: duplicate tx hash")
	}

	currentNonce := state.NonceOf(tx.From)
	if tx.Nonce < currentNonce {
		return newErr(ErrBadNonce, "mempool: nonce already applied")
	}
	if state.BalanceOf(tx.From) < tx.Amount+tx.Fee {
		return newErr(ErrInsufficientBalance, "mempool: admit")
	}

	key := senderNonce{tx.From, tx.Nonce}
	if existing, ok := m.bySender[key]; ok {
		minFee := existing.Tx.Fee * MempoolRBFBumpNum / MempoolRBFBumpDen
		if tx.Fee < minFee {
			return newErr(ErrFeeTooLow, "mempool: rbf requires fee >= old_fee * 1.10")
		}
		m.removeLocked(existing.Tx.Hash)
	} else if m.perSender[tx.From] >= MempoolSenderQuota {
		return newErr(ErrSenderQuotaExceeded, "mempool: sender quota exceeded")
	}

	if len(m.byHash) >= MempoolMaxEntries {
		lowest := m.lowestFeeEntryLocked()
		if lowest == nil || tx.Fee <= lowest.Tx.Fee {
			return newErr(ErrPoolFull, "mempool: pool full and fee does not exceed lowest entry")
		}
		m.removeLocked(lowest.Tx.Hash)
	}

	entry := &MempoolEntry{Tx: tx, ReceivedAt: now, Size: len(tx.Encode())}
	m.byHash[tx.Hash] = entry
	m.bySender[key] = entry
	m.perSender[tx.From]++
	return nil
}

func (m *Mempool) lowestFeeEntryLocked() *MempoolEntry {
	var lowest *MempoolEntry
	for _, e := range m.byHash {
		if lowest == nil || e.Tx.Fee < lowest.Tx.Fee {
			lowest = e
		}
	}
	return lowest
}

// removeLocked deletes an entry from all three indices. Caller holds m.mu.
func (m *Mempool) removeLocked(hash [32]byte) {
	e, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	delete(m.bySender, senderNonce{e.Tx.From, e.Tx.Nonce})
	m.perSender[e.Tx.From]--
	if m.perSender[e.Tx.From] <= 0 {
		delete(m.perSender, e.Tx.From)
	}
}

// Select walks entries in descending-fee order, skipping any transaction
// whose nonce would create a gap relative to committed state, and stops at
// maxCount; an entry that would push the total past maxBytes is skipped and
// the walk continues. It additionally tracks per-sender selected count so
// the selection never exceeds MempoolSenderQuota post-inclusion.
func (m *Mempool) Select(state StateReader, maxCount int, maxBytes int) []Transaction {
	m.mu.Lock()
	entries := make([]*MempoolEntry, 0, len(m.byHash))
	for _, e := range m.byHash {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tx.Fee != entries[j].Tx.Fee {
			return entries[i].Tx.Fee > entries[j].Tx.Fee
		}
		// Deterministic tiebreak given identical fee.
		return lessHash(entries[i].Tx.Hash, entries[j].Tx.Hash)
	})

	nextNonce := make(map[[32]byte]uint64)
	selectedPerSender := make(map[[32]byte]int)
	out := make([]Transaction, 0, maxCount)
	totalBytes := 0

	for _, e := range entries {
		if len(out) >= maxCount {
			break
		}
		if totalBytes+e.Size > maxBytes {
			continue
		}
		want, seen := nextNonce[e.Tx.From]
		if !seen {
			want = state.NonceOf(e.Tx.From)
		}
		if e.Tx.Nonce != want {
			continue
		}
		if selectedPerSender[e.Tx.From] >= MempoolSenderQuota {
			continue
		}
		out = append(out, e.Tx)
		totalBytes += e.Size
		nextNonce[e.Tx.From] = e.Tx.Nonce + 1
		selectedPerSender[e.Tx.From]++
	}
	return out
}

func lessHash(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// RemoveApplied deletes every entry included in block, plus any entry for
// the same sender whose nonce is now stale.
func (m *Mempool) RemoveApplied(block *Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxNonceBySender := make(map[[32]byte]uint64)
	for _, tx := range block.Txs {
		m.removeLocked(tx.Hash)
		if n, ok := maxNonceBySender[tx.From]; !ok || tx.Nonce > n {
			maxNonceBySender[tx.From] = tx.Nonce
		}
	}
	for key, entry := range m.byHash {
		maxNonce, ok := maxNonceBySender[entry.Tx.From]
		if ok && entry.Tx.Nonce <= maxNonce {
			m.removeLocked(key)
		}
	}
}

// GC evicts entries whose ReceivedAt+ttl has elapsed. Infallible: an expired
// entry is simply dropped, never reported as an error.
func (m *Mempool) GC(now uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, e := range m.byHash {
		if e.ReceivedAt+m.ttlSeconds*1000 < now {
			m.removeLocked(hash)
		}
	}
}

// Len reports the current pool size, mainly for tests and metrics.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}
