package core

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/encodeous/orpl/state"
)

// EDC smoothing constants
const (
	edcScale = 100
	edcAlpha = 90
)

func rankFrozen(s *state.State) bool {
	return s.FreezeRank && s.Elapsed() > s.FreezeRankAfter
}

// UpdateHopByHop folds the strobe cost of one upward transmission into the hop-by-hop EDC.
// cost is state.RankInfinite when nobody acknowledged the frame.
func UpdateHopByHop(s *state.State, r Router, cost state.Rank, goingUp bool) {
	if !goingUp || rankFrozen(s) {
		return
	}
	fs := uint32(max(s.Rank.ForwarderSetSize, 1))
	old := s.Rank.HopByHop
	hbh := old
	if cost == state.RankInfinite {
		// noack, use a more aggressive alpha of 50%
		w := state.EdcDivisor * 2 * fs
		hbh = (hbh*(edcScale/2) + w*(edcScale/2)) / edcScale
	} else {
		w := uint32(cost) * fs
		hbh = (hbh*edcAlpha + w*(edcScale-edcAlpha)) / edcScale
	}
	s.Rank.HopByHop = min(hbh, uint32(state.RankMax))
	r.Log(HopByHopUpdated, "hop-by-hop edc updated", "from", old, "to", s.Rank.HopByHop, "cost", cost)
	RecomputeRank(s, r)
}

// RecomputeRank selects the forwarder set minimising the end-to-end EDC. Parents are
// considered in increasing rank order and one joins the set when it lowers the estimate.
func RecomputeRank(s *state.State, r Router) {
	if rankFrozen(s) {
		return
	}
	prev := s.Rank.EndToEnd
	fwd := mapset.NewThreadUnsafeSet[state.NodeId]()
	neighbors := 0

	if s.IsSink {
		s.Rank.EndToEnd = 0
	} else {
		s.Rank.EndToEnd = state.RankInfinite

		candidates := make([]state.Pair[state.Rank, int], 0, len(s.Parents))
		for i, p := range s.Parents {
			if p.Rank.Known() && p.AckCount != 0 {
				candidates = append(candidates, state.Pair[state.Rank, int]{V1: p.Rank, V2: i})
			}
		}
		state.SortPairs(candidates)

		total := uint64(max(s.BroadcastCount, 1))
		// products of ack counts and ranks overflow 32 bits
		var ackSum, ackRankSum uint64
		for _, c := range candidates {
			p := s.Parents[c.V2]
			neighbors++
			ack := min(uint64(p.AckCount), total)
			ackSum += ack
			ackRankSum += ack * uint64(p.Rank)

			a := uint64(s.Rank.HopByHop) * total / ackSum
			b := ackRankSum / ackSum
			tentative := min(a+b+uint64(s.EdcWeight), uint64(state.RankMax))
			if tentative < uint64(s.Rank.EndToEnd) {
				s.Rank.EndToEnd = state.Rank(tentative)
				fwd.Add(p.Id)
			}
		}
	}

	s.Rank.ForwarderSet = fwd
	s.Rank.ForwarderSetSize = fwd.Cardinality()
	s.Rank.NeighborSetSize = neighbors

	cur := s.Rank.EndToEnd
	if cur != prev {
		r.Log(RankUpdated, "rank changed", "from", prev, "to", cur, "forwarders", s.Rank.ForwarderSetSize)
	}

	last := s.Rank.LastBroadcast
	if last != state.RankInfinite && rankDiff(last, cur) > uint32(s.RankMaxChange) {
		s.Rank.LastBroadcast = cur
		r.Log(DioTimerReset, "rank changed significantly, resetting dio timer", "from", last, "to", cur)
		r.ResetDioTimer()
	}
}
