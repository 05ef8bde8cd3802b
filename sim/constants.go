package sim

import "time"

var (
	MaxHops         = 64
	MaxRetries      = 3
	MetricsInterval = time.Second
	RealtimeTick    = 10 * time.Millisecond
	DedupCapacity   = uint64(4096)
	// traffic generation stops this long before the end of a run, so in-flight packets can land
	TrafficTail = 10 * time.Second
	PanId       = uint16(0xabcd)
)
