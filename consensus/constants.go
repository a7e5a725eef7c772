package consensus

// Economic and protocol constants. Named after the quantities the protocol
// defines rather than after any single consensus regime, since PoW/PoS/PoA
// all share the account/mempool/chain-manager machinery below.
const (
	MinStake     uint64 = 10_000
	SlashRatio          = 0.10 // fraction of stake burned on provable misbehavior
	JailPeriod   uint64 = 1_000 // blocks a jailed validator must wait before re-activation is possible
	BlockReward  uint64 = 50

	MaxFrameBytes = 1 << 20 // 1 MiB, the maximum size of any wire frame

	// Mempool.
	MempoolTTLSeconds      = 3 * 60 * 60
	MempoolSenderQuota     = 16
	MempoolMaxEntries      = 50_000
	MempoolRBFBumpNum      = 110
	MempoolRBFBumpDen      = 100
	MempoolGCIntervalSec   = 30
	TxMaxClockSkewMillis   = 15_000

	// PoW.
	PowAdjustmentInterval = 100

	// PoS / finality.
	EpochLengthBlocks  = 100
	FinalityInterval   = 100
	FinalityQuorumNum  = 2
	FinalityQuorumDen  = 3

	// Chain manager.
	MaxReorgDepth       = 100
	SnapshotInterval    = 1_000
	SnapshotSafetyMargin = 100

	// Peer reputation.
	BanThreshold        = -100
	InvalidBlockPenalty = -20
	InvalidTxPenalty    = -5
	GoodBehaviorReward  = 1
	BanDurationSeconds  = 3_600

	GenericBucketCapacity  = 20.0
	GenericBucketRefillPS  = 5.0
	VoteBucketCapacity     = 40.0
	VoteBucketRefillPS     = 10.0
	BlobBucketCapacity     = 4.0
	BlobBucketRefillPS     = 1.0
)
