package core

import (
	"net/netip"

	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
)

// ParseAnycastIrq decides, while the sender is still waiting for a link-layer ack, whether
// this node takes the frame. It must not block. On acceptance of an anycast frame the
// destination address in the buffer is replaced by our own link address.
func ParseAnycastIrq(s *state.State, frame []byte) protocol.Flags {
	if protocol.CheckHeader(frame) != nil || !protocol.FrameAckRequested(frame) {
		return 0
	}
	dst := protocol.FrameDst(frame)
	info, ok := protocol.DecodeAnycast(dst)
	if !ok {
		if dst == s.LinkAddr {
			return protocol.FlagDoAck
		}
		return 0
	}

	s.Counters.AnycastIncoming++
	flags := protocol.FlagIsAnycast
	switch info.Direction {
	case protocol.DirectionUp:
		flags |= protocol.FlagFromSubtree
	case protocol.DirectionRecover:
		flags |= protocol.FlagIsRecovery
	}

	dstIp := state.AddrFromInterfaceId(s.MeshPrefix(), protocol.FrameDstIid(frame))
	if acceptAnycast(s, frame, info, dstIp) {
		flags |= protocol.FlagDoAck
		s.Counters.AnycastAcked++
		protocol.StampDst(frame, s.LinkAddr)
	}
	return flags
}

func acceptAnycast(s *state.State, frame []byte, info protocol.AnycastInfo, dst netip.Addr) bool {
	if dst == s.IpAddr {
		return true
	}
	w := uint32(s.EdcWeight)
	local := uint32(s.Rank.EndToEnd)
	neigh := uint32(info.Rank)

	switch info.Direction {
	case protocol.DirectionUp:
		if neigh > w && local < neigh-w {
			return true
		}
		return s.CheckFilterOnUp && !s.Blacklist.Contains(info.Seqno) && s.RoutingSet.Contains(dst)
	case protocol.DirectionDown:
		return !s.Blacklist.Contains(info.Seqno) &&
			local > w && local-w > neigh &&
			s.RoutingSet.Contains(dst)
	case protocol.DirectionRecover:
		sender, ok := protocol.FrameSrc(frame).NodeId()
		return ok && s.AckedDown.Take(info.Seqno, sender)
	default:
		// neighbour-cast frames are only taken by their destination
		return false
	}
}

// SetNeighborRank records a rank heard from a neighbour, either embedded in an anycast
// address or carried in an ack. Unknown ranks are ignored.
func SetNeighborRank(s *state.State, r Router, addr state.LinkAddr, rank state.Rank) {
	if !rank.Known() {
		return
	}
	p := s.GetParentByAddr(addr)
	if p == nil || p.Rank == rank {
		return
	}
	r.Log(ParentRankUpdated, "neighbour rank updated", "neighbour", p.Id, "from", p.Rank, "to", rank)
	p.Rank = rank
}

// IsReachableNeighbor reports whether dst belongs to a neighbour with a reliable link.
func IsReachableNeighbor(s *state.State, dst netip.Addr) bool {
	id, ok := s.Deployment.IdOf(dst)
	if !ok {
		return false
	}
	p := s.GetParent(id)
	return p != nil && linkReliable(s, p.AckCount)
}

// NextDirection picks how to forward a packet for dst that arrived with the given direction,
// or was originated locally when arrived is DirectionNone. DirectionNone as a result means the
// packet ends here: either delivered, or dropped at the sink.
func NextDirection(s *state.State, r Router, dst netip.Addr, seqno uint32, arrived protocol.Direction) protocol.Direction {
	if dst == s.IpAddr {
		r.Log(PacketDelivered, "packet reached its destination", "seqno", seqno)
		return protocol.DirectionNone
	}
	if arrived == protocol.DirectionRecover {
		HandleRecovered(s, r, seqno)
	}
	if IsReachableNeighbor(s, dst) {
		return protocol.DirectionNeighbor
	}
	if !s.Blacklist.Contains(seqno) && s.RoutingSet.Contains(dst) {
		return protocol.DirectionDown
	}
	if arrived == protocol.DirectionDown {
		// we were selected through a routing set false positive, hand the packet back
		HandleRecovered(s, r, seqno)
		s.Counters.Recoveries++
		return protocol.DirectionRecover
	}
	if s.IsSink {
		r.Log(UnreachableDestination, "no route down for destination", "dst", dst, "seqno", seqno)
		return protocol.DirectionNone
	}
	return protocol.DirectionUp
}

// HandleForwardedDown remembers which neighbour took a downward packet, so it can later
// hand the packet back with a recovery frame.
func HandleForwardedDown(s *state.State, r Router, seqno uint32, acker state.NodeId) {
	s.AckedDown.Insert(seqno, acker)
	r.Log(ForwardedDown, "packet acked downwards", "seqno", seqno, "acker", acker)
}

// HandleRecovered blacklists a packet that went down a false positive, so it is not routed
// down through the routing set again.
func HandleRecovered(s *state.State, r Router, seqno uint32) {
	if s.Blacklist.Contains(seqno) {
		return
	}
	s.Blacklist.Insert(seqno)
	r.Log(SeqnoBlacklisted, "seqno blacklisted", "seqno", seqno)
}

// HandleDownFailed runs when no child acknowledged a packet we sent down, so the routing set
// entry that selected the route was a false positive. The seqno is blacklisted. A packet that
// reached us from above goes back to the node that sent it down; any other packet is routed
// again without the routing set.
func HandleDownFailed(s *state.State, r Router, dst netip.Addr, seqno uint32, arrived protocol.Direction) protocol.Direction {
	r.Log(DownwardFailed, "no child took the packet", "dst", dst, "seqno", seqno)
	HandleRecovered(s, r, seqno)
	if arrived == protocol.DirectionDown {
		s.Counters.Recoveries++
		return protocol.DirectionRecover
	}
	return NextDirection(s, r, dst, seqno, protocol.DirectionNone)
}
