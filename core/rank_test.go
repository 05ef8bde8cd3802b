package core

import (
	"testing"
	"time"

	"github.com/encodeous/orpl/state"
	"github.com/stretchr/testify/assert"
)

func TestSinkRankIsZero(t *testing.T) {
	s := MakeState(t, 1, true, state.DefaultOrplCfg(), 2)
	h := &RouterHarness{}
	AddParent(s, 2, 300, 4)
	s.BroadcastCount = 4

	RecomputeRank(s, h)
	assert.Equal(t, state.Rank(0), s.Rank.EndToEnd)
	assert.Equal(t, 0, s.Rank.ForwarderSetSize)
}

func TestRankWithoutParentsIsInfinite(t *testing.T) {
	s := MakeState(t, 2, false, state.DefaultOrplCfg())
	h := &RouterHarness{}
	RecomputeRank(s, h)
	assert.Equal(t, state.RankInfinite, s.Rank.EndToEnd)
	assert.Equal(t, 0, s.Rank.ForwarderSetSize)
}

func TestRankSingleParent(t *testing.T) {
	s := MakeState(t, 2, false, state.DefaultOrplCfg(), 1)
	h := &RouterHarness{}
	s.BroadcastCount = 10
	AddParent(s, 1, 100, 10)

	RecomputeRank(s, h)
	// hbh 128 * 10/10 + 100 + W
	assert.Equal(t, state.Rank(128+100+64), s.Rank.EndToEnd)
	assert.Greater(t, s.Rank.EndToEnd, state.Rank(0))
	assert.True(t, s.Rank.EndToEnd.Known())
	assert.Equal(t, 1, s.Rank.ForwarderSetSize)
	assert.True(t, s.Rank.ForwarderSet.Contains(1))
	h.GetEvents().AssertContains(t, "LOG", RankUpdated)
}

func TestGreedyForwarderSet(t *testing.T) {
	s := MakeState(t, 9, false, state.DefaultOrplCfg(), 1, 2, 3, 4)
	h := &RouterHarness{}
	s.BroadcastCount = 10
	// table order deliberately differs from rank order
	AddParent(s, 4, 30, 10)
	AddParent(s, 2, 20, 10)
	AddParent(s, 1, 10, 10)
	AddParent(s, 3, 20, 10)

	RecomputeRank(s, h)

	bestSingle := state.Rank(128 + 10 + 64)
	assert.GreaterOrEqual(t, s.Rank.EndToEnd, state.Rank(10)+s.EdcWeight)
	assert.LessOrEqual(t, s.Rank.EndToEnd, bestSingle)
	// 202 -> 143 -> 122 -> 116
	assert.Equal(t, state.Rank(116), s.Rank.EndToEnd)
	assert.Equal(t, 4, s.Rank.ForwarderSetSize)
	assert.Equal(t, 4, s.Rank.NeighborSetSize)
}

func TestGreedyStopsAddingWorseParents(t *testing.T) {
	s := MakeState(t, 9, false, state.DefaultOrplCfg(), 1, 2, 3, 4)
	h := &RouterHarness{}
	s.BroadcastCount = 10
	AddParent(s, 1, 100, 10)
	AddParent(s, 2, 1000, 1)
	AddParent(s, 3, 50, 0)                  // never acked a broadcast
	AddParent(s, 4, state.RankInfinite, 10) // unknown rank

	RecomputeRank(s, h)
	assert.Equal(t, state.Rank(292), s.Rank.EndToEnd)
	assert.Equal(t, 1, s.Rank.ForwarderSetSize)
	assert.Equal(t, 2, s.Rank.NeighborSetSize)
	assert.False(t, s.Rank.ForwarderSet.Contains(2))
}

func TestAckCountClampedToBroadcasts(t *testing.T) {
	s := MakeState(t, 2, false, state.DefaultOrplCfg(), 1)
	h := &RouterHarness{}
	// no broadcasts yet, an ack count still yields a finite rank
	AddParent(s, 1, 100, 1)
	RecomputeRank(s, h)
	assert.Equal(t, state.Rank(292), s.Rank.EndToEnd)
}

func TestRankLargeAckRankProducts(t *testing.T) {
	s := MakeState(t, 9, false, state.DefaultOrplCfg(), 1, 2, 3)
	h := &RouterHarness{}
	s.BroadcastCount = 60000
	for _, id := range []state.NodeId{1, 2, 3} {
		AddParent(s, id, 60000, 60000)
	}

	RecomputeRank(s, h)
	// 60192 -> 60128 -> 60106
	assert.Equal(t, state.Rank(60106), s.Rank.EndToEnd)
	assert.Equal(t, 3, s.Rank.ForwarderSetSize)
}

func TestUpdateHopByHop(t *testing.T) {
	s := MakeState(t, 2, false, state.DefaultOrplCfg(), 1)
	h := &RouterHarness{}
	s.BroadcastCount = 10
	AddParent(s, 1, 100, 10)
	RecomputeRank(s, h)

	UpdateHopByHop(s, h, state.RankInfinite, true)
	assert.Equal(t, uint32(192), s.Rank.HopByHop)
	assert.Equal(t, state.Rank(192+100+64), s.Rank.EndToEnd)

	UpdateHopByHop(s, h, 0, true)
	assert.Equal(t, uint32(172), s.Rank.HopByHop)

	UpdateHopByHop(s, h, 1000, false)
	assert.Equal(t, uint32(172), s.Rank.HopByHop, "downward traffic must not change the metric")

	UpdateHopByHop(s, h, 1000, true)
	assert.Equal(t, uint32(254), s.Rank.HopByHop)
}

func TestRankChangeResetsDio(t *testing.T) {
	s := MakeState(t, 2, false, state.DefaultOrplCfg(), 1)
	h := &RouterHarness{}
	s.BroadcastCount = 10
	AddParent(s, 1, 100, 10)

	// nothing advertised yet
	RecomputeRank(s, h)
	h.GetActions().AssertNotContains(t, "RESET_DIO")

	s.Rank.LastBroadcast = 292 + 200
	RecomputeRank(s, h)
	h.GetActions().AssertNotContains(t, "RESET_DIO")

	s.Rank.LastBroadcast = 1000
	RecomputeRank(s, h)
	h.GetActions().AssertContains(t, "RESET_DIO")
	assert.Equal(t, state.Rank(292), s.Rank.LastBroadcast)
}

func TestFreezeRank(t *testing.T) {
	cfg := state.DefaultOrplCfg()
	cfg.FreezeRank = true
	cfg.FreezeRankAfter = time.Minute
	s := MakeState(t, 2, false, cfg, 1)
	h := &RouterHarness{}
	s.BroadcastCount = 10
	AddParent(s, 1, 100, 10)

	RecomputeRank(s, h)
	assert.Equal(t, state.Rank(292), s.Rank.EndToEnd)

	s.Sched.Advance(2 * time.Minute)
	s.Parents[0].Rank = 500
	RecomputeRank(s, h)
	UpdateHopByHop(s, h, state.RankInfinite, true)
	assert.Equal(t, state.Rank(292), s.Rank.EndToEnd)
	assert.Equal(t, uint32(state.EdcDivisor), s.Rank.HopByHop)
}
