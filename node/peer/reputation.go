// Package peer implements the reputation scoring and gossip rate limiting
// that gate traffic from a connected peer before it ever reaches block or
// transaction admission. None of this is consensus: two honest nodes may
// legitimately disagree about a peer's score, and that disagreement has no
// bearing on chain validity.
package peer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/budlum/core/consensus"
)

// ID identifies a connected peer. The transport layer mints one per
// connection (independent of any on-chain address the peer's operator may
// also control).
type ID = uuid.UUID

// RateClass is one of the three gossip classes a peer's traffic is bucketed
// into, matching the wire topics (blocks fold into generic, vote and blob
// have their own budget so a flood of one class cannot starve another).
type RateClass int

const (
	ClassGeneric RateClass = iota
	ClassVote
	ClassBlob
)

// Score deltas and thresholds. A peer that sends five invalid blocks hits
// the ban floor; earning the same amount of trust back takes a hundred
// cooperative messages.
const (
	BanThreshold        int32 = -100
	ScoreMax            int32 = 100
	ScoreMin            int32 = -100
	InvalidBlockPenalty int32 = -20
	InvalidTxPenalty    int32 = -5
	GoodDelta           int32 = 1

	BanDurationMillis uint64 = 3600 * 1000
)

// Bucket is a token bucket: capacity tokens refilled continuously at
// refillRate tokens/sec, consumed one at a time. Fields are plain floats
// rather than an opaque limiter type so a peer's remaining budget can be
// reported directly for diagnostics.
type Bucket struct {
	Tokens     float64
	Capacity   float64
	RefillRate float64 // tokens per second
	LastRefill uint64  // millisecond wall clock
}

// NewBucket returns a bucket starting full.
func NewBucket(capacity, refillRate float64, now uint64) Bucket {
	return Bucket{Tokens: capacity, Capacity: capacity, RefillRate: refillRate, LastRefill: now}
}

// Take refills the bucket for elapsed time and consumes one token if
// available, reporting whether the request is allowed.
func (b *Bucket) Take(now uint64) bool {
	if now > b.LastRefill {
		elapsedSec := float64(now-b.LastRefill) / 1000.0
		b.Tokens += elapsedSec * b.RefillRate
		if b.Tokens > b.Capacity {
			b.Tokens = b.Capacity
		}
	}
	b.LastRefill = now
	if b.Tokens < 1 {
		return false
	}
	b.Tokens--
	return true
}

// defaultBuckets returns the three class buckets at their protocol
// defaults, shared with the consensus package's constants so a node's rate
// limits can't drift from the values it reports in config/diagnostics.
func defaultBuckets(now uint64) [3]Bucket {
	return [3]Bucket{
		ClassGeneric: NewBucket(consensus.GenericBucketCapacity, consensus.GenericBucketRefillPS, now),
		ClassVote:    NewBucket(consensus.VoteBucketCapacity, consensus.VoteBucketRefillPS, now),
		ClassBlob:    NewBucket(consensus.BlobBucketCapacity, consensus.BlobBucketRefillPS, now),
	}
}

// Reputation is the full per-peer state: score, handshake gate, ban
// expiry, and the three rate-limit buckets.
type Reputation struct {
	Score         int32
	BannedUntil   uint64 // millisecond wall clock; 0 or past means not banned
	InvalidBlocks uint32
	InvalidTxs    uint32
	Handshaked    bool
	ConnectedAt   uint64

	buckets [3]Bucket
}

func newReputation(now uint64) *Reputation {
	return &Reputation{ConnectedAt: now, buckets: defaultBuckets(now)}
}

func (r *Reputation) clamp() {
	if r.Score > ScoreMax {
		r.Score = ScoreMax
	}
	if r.Score < ScoreMin {
		r.Score = ScoreMin
	}
}

// IsBanned reports whether the peer's ban has not yet elapsed as of now.
func (r *Reputation) IsBanned(now uint64) bool {
	return r.BannedUntil > now
}

// Table owns every connected peer's Reputation behind one lock, kept
// separate from the chain/state/mempool locks so transport ingest never
// contends with block application (see the chain manager's lock-ordering
// note).
type Table struct {
	mu    sync.Mutex
	peers map[ID]*Reputation
}

func NewTable() *Table {
	return &Table{peers: make(map[ID]*Reputation)}
}

// OnConnect registers a freshly-connected peer with handshaked=false; all
// non-handshake frames from it are dropped by CheckHandshake until a valid
// Handshake/HandshakeAck exchange completes.
func (t *Table) OnConnect(id ID, now uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; ok {
		return
	}
	t.peers[id] = newReputation(now)
}

// OnDisconnect forgets a peer entirely; a reconnecting peer starts fresh,
// matching the teacher pack's ban-score-is-per-connection posture rather
// than tracking identity across reconnects (the core has no stable peer
// identity below the handshake's validator_set_hash, which is not itself
// an identity key).
func (t *Table) OnDisconnect(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

func (t *Table) get(id ID) (*Reputation, bool) {
	r, ok := t.peers[id]
	return r, ok
}

// MarkHandshaked records that id completed a valid Handshake/HandshakeAck
// exchange; until this is called, CheckHandshake rejects every frame but
// Handshake/HandshakeAck themselves.
func (t *Table) MarkHandshaked(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.peers[id]; ok {
		r.Handshaked = true
	}
}

// CheckHandshake reports whether id may send a non-handshake frame: it must
// be known, not banned, and have completed the handshake gate.
func (t *Table) CheckHandshake(id ID, now uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[id]
	if !ok {
		return false
	}
	if r.IsBanned(now) {
		return false
	}
	return r.Handshaked
}

// CheckRate refills and consumes from the given class's bucket, penalizing
// nothing on its own: callers that want a penalty for abuse call
// ReportInvalidTx/ReportInvalidBlock or apply their own delta. Returns
// false (request denied) if id is unknown.
func (t *Table) CheckRate(id ID, class RateClass, now uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[id]
	if !ok {
		return false
	}
	return r.buckets[class].Take(now)
}

// IsBanned reports whether id is currently banned. An unknown peer is
// treated as not banned (it simply is not in the table yet).
func (t *Table) IsBanned(id ID, now uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[id]
	if !ok {
		return false
	}
	return r.IsBanned(now)
}

// applyDelta adjusts id's score by delta, clamped to [ScoreMin, ScoreMax],
// and bans the peer for BanDurationMillis if the score reaches
// BanThreshold. Caller holds t.mu.
func (t *Table) applyDelta(id ID, delta int32, now uint64) {
	r, ok := t.peers[id]
	if !ok {
		return
	}
	r.Score += delta
	r.clamp()
	if r.Score <= BanThreshold {
		r.BannedUntil = now + BanDurationMillis
	}
}

// ReportInvalidBlock penalizes id for gossiping a block that failed
// validation.
func (t *Table) ReportInvalidBlock(id ID, now uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.peers[id]; ok {
		r.InvalidBlocks++
	}
	t.applyDelta(id, InvalidBlockPenalty, now)
}

// ReportInvalidTx penalizes id for gossiping a transaction that failed
// admission.
func (t *Table) ReportInvalidTx(id ID, now uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.peers[id]; ok {
		r.InvalidTxs++
	}
	t.applyDelta(id, InvalidTxPenalty, now)
}

// ReportGood rewards id for a cooperative message (a block or transaction
// that was admitted cleanly). Earning maximum trust from zero takes 100
// calls, by design symmetric with losing it taking 5 invalid blocks.
func (t *Table) ReportGood(id ID, now uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyDelta(id, GoodDelta, now)
}

// Score returns id's current score, or 0 if id is unknown.
func (t *Table) Score(id ID) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[id]
	if !ok {
		return 0
	}
	return r.Score
}

// CleanupExpiredBans drops the ban on every peer entry whose banned_until
// has elapsed, so a still-tracked peer that served its ban is treated as
// un-banned rather than permanently excluded. The score itself is left
// untouched; such a peer does not get a clean slate, only a chance to earn
// its way back above the ban threshold. (A peer that disconnects is removed
// by OnDisconnect and starts fresh when it reconnects.) This keeps
// the entry (and its score history) and clears only BannedUntil rather than
// removing the entry outright — see DESIGN.md's Open Questions for why.
func (t *Table) CleanupExpiredBans(now uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared := 0
	for _, r := range t.peers {
		if r.BannedUntil != 0 && r.BannedUntil <= now {
			r.BannedUntil = 0
			cleared++
		}
	}
	return cleared
}

// Len reports the number of tracked peers, mainly for tests and metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// FrameSizeOK enforces the wire-level consensus rule that no frame may
// exceed consensus.MaxFrameBytes, checked before a frame is even decoded.
func FrameSizeOK(frameLen int) bool {
	return frameLen <= consensus.MaxFrameBytes
}
