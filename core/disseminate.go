package core

import (
	"time"

	"github.com/encodeous/orpl/perf"
	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
)

// linkReliable is the packet reception test applied to a neighbour's broadcast ack count.
func linkReliable(s *state.State, count uint16) bool {
	if s.FreezeRoutingSet && s.Elapsed() <= s.RoutingSetWarmup {
		return false
	}
	bc := int(s.BroadcastCount)
	if bc < s.MinBroadcasts {
		return false
	}
	return 100*int(count)/bc >= s.PrrThreshold
}

// CheckNeighbors inserts every reliable neighbour that is further from the sink than us.
func CheckNeighbors(s *state.State, r Router) {
	if s.UpOnly {
		return
	}
	local := uint32(s.Rank.EndToEnd)
	for _, p := range s.Parents {
		if !p.Rank.Known() {
			continue
		}
		if !s.AllNeighborsInSet && uint32(p.Rank) <= local+uint32(s.EdcWeight) {
			continue
		}
		if !linkReliable(s, p.AckCount) {
			continue
		}
		before := s.RoutingSet.CountBits()
		s.RoutingSet.Insert(s.AddrOfParent(p))
		r.Log(NeighborInserted, "neighbour inserted into routing set",
			"neighbour", p.Id, "rank", p.Rank, "acks", p.AckCount, "broadcasts", s.BroadcastCount,
			"bits_before", before, "bits_after", s.RoutingSet.CountBits())
	}
}

// TrickleTick runs on every dag advertisement: refresh the routing set, age it,
// schedule a broadcast, then recompute the rank.
func TrickleTick(s *state.State, r Router) {
	if !s.UpOnly {
		CheckNeighbors(s, r)
		if !s.FreezeRoutingSet {
			s.RoutingSet.Swap()
			r.Log(RoutingSetSwapped, "routing set swapped", "bits", s.RoutingSet.CountBits())
		}
	}
	RequestBroadcast(s, r)
	RecomputeRank(s, r)
}

// RequestBroadcast schedules a routing set broadcast after a random delay of a few wakeup
// intervals. Requests made while one is pending are coalesced.
func RequestBroadcast(s *state.State, r Router) {
	if s.BroadcastPending {
		return
	}
	s.BroadcastPending = true
	window := time.Duration(s.BroadcastJitterCycles) * r.ChannelCheckInterval()
	delay := time.Duration(0)
	if window > 0 {
		delay = time.Duration(s.Rand.Int64N(int64(window)))
	}
	r.Log(BroadcastRequested, "routing set broadcast requested", "delay", delay)
	s.ScheduleTask(func(s *state.State) error {
		DoBroadcast(s, r)
		return nil
	}, delay)
}

// DoBroadcast sends {rank, active routing set} to every neighbour.
func DoBroadcast(s *state.State, r Router) {
	s.BroadcastPending = false
	s.Rank.LastBroadcast = s.Rank.EndToEnd
	pkt := protocol.RoutingSetBroadcast{
		Rank:   s.Rank.EndToEnd,
		Filter: s.RoutingSet.Active(),
	}
	s.Counters.BroadcastsSent++
	perf.BroadcastsPerSecond.Add(1)
	r.Log(BroadcastSent, "routing set broadcast", "rank", s.Rank.EndToEnd, "bits", s.RoutingSet.CountBits())
	r.SendBroadcast(pkt.Marshal())
}

// HandleBroadcast processes a routing set broadcast from a neighbour.
func HandleBroadcast(s *state.State, r Router, sender state.LinkAddr, pkt []byte) {
	bc, err := protocol.ParseRoutingSetBroadcast(pkt, s.RoutingSet.SizeBytes())
	if err != nil {
		r.Log(BadBroadcast, "dropping routing set broadcast", "sender", sender, "error", err)
		return
	}
	id, ok := sender.NodeId()
	if !ok {
		r.Log(UnknownSender, "routing set broadcast from a non-deployment address", "sender", sender)
		return
	}

	SetNeighborRank(s, r, sender, bc.Rank)
	RecomputeRank(s, r)

	p := s.GetParent(id)
	if p == nil || s.UpOnly {
		return
	}

	w := uint32(s.EdcWeight)
	neigh := uint32(bc.Rank)
	if bc.Rank.Known() && neigh > w && neigh-w > uint32(s.Rank.EndToEnd) && linkReliable(s, p.AckCount) {
		before := s.RoutingSet.CountBits()
		s.RoutingSet.Insert(s.AddrOfParent(p))
		if err := s.RoutingSet.Merge(bc.Filter); err != nil {
			r.Log(BadBroadcast, "failed to merge routing set", "sender", id, "error", err)
			return
		}
		s.Counters.RoutingSetMerged++
		after := s.RoutingSet.CountBits()
		r.Log(RoutingSetMerged, "merged routing set", "sender", id, "bits_before", before, "bits_after", after)
		if after != before {
			RequestBroadcast(s, r)
		}
	}
}

// HandleBroadcastAcked counts an acknowledgement of our broadcast by a neighbour.
func HandleBroadcastAcked(s *state.State, neigh state.LinkAddr) {
	p := s.GetParentByAddr(neigh)
	if p == nil {
		return
	}
	p.AckCount = uint16(min(uint32(p.AckCount)+1, uint32(s.BroadcastCount)+1))
}

// HandleBroadcastDone counts a completed broadcast, whether or not anyone acked it.
func HandleBroadcastDone(s *state.State) {
	if s.BroadcastCount < ^uint16(0)-1 {
		s.BroadcastCount++
	}
}

// HandleBroadcastSent runs once the mac gave up on or finished a broadcast.
func HandleBroadcastSent(s *state.State, r Router, collided bool) {
	if collided {
		r.Log(BroadcastCollision, "routing set broadcast collided, retrying")
		RequestBroadcast(s, r)
	}
	CheckNeighbors(s, r)
}
