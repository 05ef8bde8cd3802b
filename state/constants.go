package state

import "time"

const (
	// RankInfinite marks an unknown or unreachable rank.
	RankInfinite Rank = 0xffff
	// RankMax is the largest rank that is not infinite.
	RankMax = RankInfinite - 1

	// EdcDivisor is one wakeup interval expressed in rank units.
	EdcDivisor = 128
)

var (
	DefaultFilterBits            = 512
	DefaultFilterHashes          = 3
	DefaultEdcWeight             = Rank(64)
	DefaultPrrThreshold          = 50 // percent
	DefaultMinBroadcasts         = 4
	DefaultRankMaxChange         = Rank(2 * EdcDivisor)
	DefaultBlacklistSize         = 16
	DefaultAckedDownSize         = 32
	DefaultBroadcastJitterCycles = 4
	DefaultFreezeRankAfter       = 2 * time.Minute
	DefaultRoutingSetWarmup      = 3 * time.Minute

	// MaxFilterBits bounds the filter so bit positions fit in the 16-bit hash window.
	MaxFilterBits = 1 << 16

	// mesh defaults
	DefaultMeshPrefix           = "fd00::/64"
	DefaultChannelCheckInterval = 125 * time.Millisecond
	DefaultTrickleImin          = 4 * time.Second
	DefaultTrickleDoublings     = 8
	DefaultTrafficInterval      = 30 * time.Second
	DefaultTrafficStart         = 2 * time.Minute

	// SlowDispatchThreshold is the wall-clock time after which a scheduled task is reported as slow.
	SlowDispatchThreshold = 4 * time.Millisecond
)
