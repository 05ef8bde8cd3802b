package core

import (
	"net/netip"
	"slices"
	"time"

	"github.com/encodeous/orpl/perf"
	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
)

// Engine is the routing engine module. It owns the Router of the node.
type Engine struct {
	router Router
}

func (e *Engine) Init(s *state.State) error {
	RecomputeRank(s, e.router)
	return nil
}

func (e *Engine) Cleanup(s *state.State) error {
	s.Log.Debug("orpl stopped",
		"rank", s.Rank.EndToEnd,
		"anycast_in", s.Counters.AnycastIncoming,
		"anycast_acked", s.Counters.AnycastAcked,
		"merged", s.Counters.RoutingSetMerged,
		"broadcasts", s.Counters.BroadcastsSent,
		"recoveries", s.Counters.Recoveries)
	return nil
}

// Node is the entry point used by the dag and mac layers. Every method holds the node lock.
type Node struct {
	env   *state.Env
	state *state.State
}

func (n *Node) exec(fun func(s *state.State, r Router)) {
	_, _ = n.env.DispatchWait(func(s *state.State) (any, error) {
		fun(s, Get[*Engine](s).router)
		return nil, nil
	})
}

func (n *Node) Id() state.NodeId {
	return n.env.Id
}

func (n *Node) IsSink() bool {
	return n.env.Sink
}

func (n *Node) LinkAddr() state.LinkAddr {
	return n.state.LinkAddr
}

func (n *Node) Addr() netip.Addr {
	return n.state.IpAddr
}

func (n *Node) Env() *state.Env {
	return n.env
}

// AckDecision is the outcome of ParseAnycastIrq, plus the rank we advertise in the ack.
type AckDecision struct {
	Flags protocol.Flags
	Rank  state.Rank
}

// AckDecision runs the acknowledgment-time decision on a received frame, stamping the
// frame buffer when it is accepted.
func (n *Node) AckDecision(frame []byte) AckDecision {
	start := time.Now()
	var d AckDecision
	n.exec(func(s *state.State, r Router) {
		d.Flags = ParseAnycastIrq(s, frame)
		d.Rank = s.Rank.EndToEnd
	})
	perf.AckDecisionLatency.Add(float64(time.Since(start).Nanoseconds()))
	if d.Flags.Has(protocol.FlagIsAnycast) {
		perf.AnycastPerSecond.Add(1)
		if d.Flags.Has(protocol.FlagDoAck) {
			perf.AnycastAckedPerSecond.Add(1)
		}
	}
	return d
}

// FrameReceived learns the rank a neighbour embedded in the anycast address of a frame we took.
func (n *Node) FrameReceived(sender state.LinkAddr, senderRank state.Rank) {
	n.exec(func(s *state.State, r Router) {
		SetNeighborRank(s, r, sender, senderRank)
	})
}

// Forward decides how to continue with a packet we originated or accepted.
func (n *Node) Forward(dst netip.Addr, seqno uint32, arrived protocol.Direction) protocol.Direction {
	var dir protocol.Direction
	n.exec(func(s *state.State, r Router) {
		dir = NextDirection(s, r, dst, seqno, arrived)
	})
	return dir
}

// DownFailed is called by the mac when a downward transmission ran out of retries. It returns
// the direction to retry the packet with, DirectionNone to drop it.
func (n *Node) DownFailed(dst netip.Addr, seqno uint32, arrived protocol.Direction) protocol.Direction {
	var dir protocol.Direction
	n.exec(func(s *state.State, r Router) {
		dir = HandleDownFailed(s, r, dst, seqno, arrived)
	})
	return dir
}

// Rank is our current end-to-end rank.
func (n *Node) Rank() state.Rank {
	var rank state.Rank
	n.exec(func(s *state.State, r Router) {
		rank = s.Rank.EndToEnd
	})
	return rank
}

// TxDone feeds back the strobe cost of a transmission, state.RankInfinite if it was never acked.
func (n *Node) TxDone(cost state.Rank, goingUp bool) {
	n.exec(func(s *state.State, r Router) {
		UpdateHopByHop(s, r, cost, goingUp)
	})
}

// FrameAcked runs on the sender once a neighbour acknowledged an anycast frame.
func (n *Node) FrameAcked(acker state.LinkAddr, ackRank state.Rank, dir protocol.Direction, seqno uint32) {
	n.exec(func(s *state.State, r Router) {
		SetNeighborRank(s, r, acker, ackRank)
		if dir != protocol.DirectionDown {
			return
		}
		if id, ok := acker.NodeId(); ok {
			HandleForwardedDown(s, r, seqno, id)
		}
	})
}

func (n *Node) BroadcastAcked(neigh state.LinkAddr) {
	n.exec(func(s *state.State, r Router) {
		HandleBroadcastAcked(s, neigh)
	})
}

func (n *Node) BroadcastDone() {
	n.exec(func(s *state.State, r Router) {
		HandleBroadcastDone(s)
	})
}

func (n *Node) BroadcastSent(collided bool) {
	n.exec(func(s *state.State, r Router) {
		HandleBroadcastSent(s, r, collided)
	})
}

// BroadcastReceived queues a routing set broadcast for merging. The merge runs after the
// link layer is done with the broadcast.
func (n *Node) BroadcastReceived(sender state.LinkAddr, pkt []byte) {
	n.env.Dispatch(func(s *state.State) error {
		HandleBroadcast(s, Get[*Engine](s).router, sender, pkt)
		return nil
	})
}

// TrickleTick is called by the dag layer whenever its advertisement timer fires.
func (n *Node) TrickleTick() {
	n.exec(func(s *state.State, r Router) {
		TrickleTick(s, r)
	})
}

func (n *Node) AddParent(id state.NodeId) {
	n.exec(func(s *state.State, r Router) {
		s.AddParent(id)
	})
}

func (n *Node) RemoveParent(id state.NodeId) {
	n.exec(func(s *state.State, r Router) {
		s.RemoveParent(id)
		RecomputeRank(s, r)
	})
}

// InRoutingSet reports whether dst is in the active routing set.
func (n *Node) InRoutingSet(dst netip.Addr) bool {
	var ok bool
	n.exec(func(s *state.State, r Router) {
		ok = s.RoutingSet.Contains(dst)
	})
	return ok
}

// NodeSnapshot is a consistent copy of the routing state of a node.
type NodeSnapshot struct {
	Id             state.NodeId
	Sink           bool
	Rank           state.Rank
	HopByHop       uint32
	Forwarders     []state.NodeId
	NeighborSet    int
	Parents        []state.Parent
	BroadcastCount uint16
	RoutingSetBits int
	Blacklisted    int
	Counters       state.Counters
}

func (n *Node) Snapshot() NodeSnapshot {
	var snap NodeSnapshot
	n.exec(func(s *state.State, r Router) {
		snap = snapshot(s)
	})
	return snap
}

// RepeatSnapshot hands fn a snapshot every interval until the node stops.
func (n *Node) RepeatSnapshot(interval time.Duration, fn func(NodeSnapshot)) {
	n.env.RepeatTask(func(s *state.State) error {
		fn(snapshot(s))
		return nil
	}, interval)
}

func snapshot(s *state.State) NodeSnapshot {
	snap := NodeSnapshot{
		Id:             s.Id,
		Sink:           s.IsSink,
		Rank:           s.Rank.EndToEnd,
		HopByHop:       s.Rank.HopByHop,
		Forwarders:     s.Rank.ForwarderSet.ToSlice(),
		NeighborSet:    s.Rank.NeighborSetSize,
		BroadcastCount: s.BroadcastCount,
		RoutingSetBits: s.RoutingSet.CountBits(),
		Blacklisted:    s.Blacklist.Len(),
		Counters:       s.Counters,
	}
	slices.Sort(snap.Forwarders)
	for _, p := range s.Parents {
		snap.Parents = append(snap.Parents, *p)
	}
	return snap
}

func (n *Node) Stop() {
	n.exec(func(s *state.State, r Router) {
		Stop(s)
	})
}
