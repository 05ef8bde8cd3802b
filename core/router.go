package core

import (
	"fmt"
	"time"
)

type RouterEvent int

// trace events

const (
	RankUpdated RouterEvent = iota
	HopByHopUpdated
	DioTimerReset
	ParentRankUpdated
	NeighborInserted
	RoutingSetSwapped
	RoutingSetMerged
	BroadcastRequested
	BroadcastSent
	AnycastAccepted
	AnycastRejected
	RecoveryAccepted
	SeqnoBlacklisted
	ForwardedDown
	DownwardFailed
	PacketDelivered
)

// warn events

const (
	BadBroadcast RouterEvent = iota + 1000
	UnknownSender
	BroadcastCollision
	UnreachableDestination
)

var eventNames = map[RouterEvent]string{
	RankUpdated:            "RankUpdated",
	HopByHopUpdated:        "HopByHopUpdated",
	DioTimerReset:          "DioTimerReset",
	ParentRankUpdated:      "ParentRankUpdated",
	NeighborInserted:       "NeighborInserted",
	RoutingSetSwapped:      "RoutingSetSwapped",
	RoutingSetMerged:       "RoutingSetMerged",
	BroadcastRequested:     "BroadcastRequested",
	BroadcastSent:          "BroadcastSent",
	AnycastAccepted:        "AnycastAccepted",
	AnycastRejected:        "AnycastRejected",
	RecoveryAccepted:       "RecoveryAccepted",
	SeqnoBlacklisted:       "SeqnoBlacklisted",
	ForwardedDown:          "ForwardedDown",
	DownwardFailed:         "DownwardFailed",
	PacketDelivered:        "PacketDelivered",
	BadBroadcast:           "BadBroadcast",
	UnknownSender:          "UnknownSender",
	BroadcastCollision:     "BroadcastCollision",
	UnreachableDestination: "UnreachableDestination",
}

func (e RouterEvent) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("RouterEvent(%d)", int(e))
}

// IsWarning reports whether the event indicates a protocol problem rather than normal operation.
func (e RouterEvent) IsWarning() bool {
	return e >= 1000
}

// Router is an interface that defines the operations the routing engine needs from the dag and mac layers
type Router interface {
	// ResetDioTimer restarts dag advertisement at its fastest rate.
	ResetDioTimer()
	// SendBroadcast transmits a routing set broadcast to every neighbour.
	SendBroadcast(pkt []byte)
	// ChannelCheckInterval is the radio wakeup period.
	ChannelCheckInterval() time.Duration
	Log(event RouterEvent, desc string, args ...any)
}
