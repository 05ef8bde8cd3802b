package sim

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/orpl/perf"
	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lineTopology = `
seed: 3
duration: 6m
nodes:
  - id: 1
    sink: true
  - id: 2
  - id: 3
  - id: 4
links:
  - a: 1
    b: 2
    prr: 1
  - a: 2
    b: 3
    prr: 1
  - a: 3
    b: 4
    prr: 1
traffic:
  pattern: up
  interval: 30s
  start: 2m
`

func makeNetwork(t *testing.T, topology string, metrics *perf.NodeMetrics, edit ...func(cfg *state.TopologyCfg)) *Network {
	cfg, err := state.ParseTopology([]byte(topology))
	require.NoError(t, err)
	for _, e := range edit {
		e(cfg)
	}
	n, err := New(context.Background(), cfg, nil, metrics)
	require.NoError(t, err)
	t.Cleanup(n.Stop)
	return n
}

// noTraffic keeps the generators silent for the whole run.
func noTraffic(cfg *state.TopologyCfg) {
	cfg.Traffic.Start = cfg.Duration
}

func TestRanksConverge(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, noTraffic)
	n.RunFor(3 * time.Minute)

	prev := state.Rank(0)
	for i, node := range n.Nodes() {
		rank := node.Rank()
		if i == 0 {
			assert.Equal(t, state.Rank(0), rank, "sink")
			continue
		}
		assert.True(t, rank.Known(), "node %s has no rank", node.Id())
		assert.Greater(t, rank, prev, "ranks grow away from the sink")
		prev = rank
	}

	// direct children are always in their parent's routing set
	assert.True(t, n.Node(1).InRoutingSet(n.Deployment.AddrOf(2)))
	assert.True(t, n.Node(2).InRoutingSet(n.Deployment.AddrOf(3)))
	assert.True(t, n.Node(3).InRoutingSet(n.Deployment.AddrOf(4)))
}

func TestUpwardDelivery(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil)
	n.Run()

	st := n.Stats()
	assert.GreaterOrEqual(t, st.Sent, uint64(15))
	assert.GreaterOrEqual(t, st.DeliveryRatio(), 0.9)
	assert.Zero(t, st.Duplicates, "acks are never lost on perfect links")
	assert.GreaterOrEqual(t, st.MeanHops(), 1.0)
	assert.LessOrEqual(t, st.Delivered+st.Dropped, st.Sent)
}

func TestDownwardDelivery(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, func(cfg *state.TopologyCfg) {
		cfg.Traffic.Pattern = state.TrafficDown
	})
	n.Run()
	st := n.Stats()
	assert.Greater(t, st.Sent, uint64(0))
	// node 2 is a reliable neighbour of the sink and is always reachable
	assert.Greater(t, st.Delivered, uint64(0))
	assert.Greater(t, st.MeanHops(), 1.0, "deeper nodes are reached through the routing sets")
	assert.LessOrEqual(t, st.Delivered+st.Dropped, st.Sent)
}

func TestMultiHopDownwardDelivery(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, noTraffic)
	dst := n.Deployment.AddrOf(4)
	n.RunFor(3 * time.Minute)
	for i := 0; i < 60 && !n.Node(1).InRoutingSet(dst); i++ {
		n.RunFor(time.Second)
	}
	require.True(t, n.Node(1).InRoutingSet(dst), "node 4 reached the sink's routing set")

	seqno, err := n.Send(1, 4)
	require.NoError(t, err)
	n.RunFor(5 * time.Second)

	st := n.Stats()
	assert.True(t, n.seen.Has(seqno))
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Zero(t, st.Recoveries)
	assert.GreaterOrEqual(t, st.MeanHops(), 3.0)
}

// blacklisted reports whether a node has blacklisted seqno.
func blacklisted(t *testing.T, n *Network, id state.NodeId, seqno uint32) bool {
	res, err := n.Node(id).Env().DispatchWait(func(s *state.State) (any, error) {
		return s.Blacklist.Contains(seqno), nil
	})
	require.NoError(t, err)
	return res.(bool)
}

func TestFalsePositiveRecovery(t *testing.T) {
	// node 5 has no links
	topology := strings.Replace(lineTopology, "  - id: 4\n", "  - id: 4\n  - id: 5\n", 1)
	n := makeNetwork(t, topology, nil, noTraffic)
	n.RunFor(3 * time.Minute)

	// node 5 shows up in the routing sets above node 3 without being reachable
	lost := n.Deployment.AddrOf(5)
	for _, id := range []state.NodeId{1, 2} {
		_, err := n.Node(id).Env().DispatchWait(func(s *state.State) (any, error) {
			s.RoutingSet.Insert(lost)
			return nil, nil
		})
		require.NoError(t, err)
	}

	seqno, err := n.Send(1, 5)
	require.NoError(t, err)
	n.RunFor(5 * time.Second)

	st := n.Stats()
	assert.Positive(t, st.Recoveries)
	assert.Zero(t, st.Delivered)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.True(t, blacklisted(t, n, 2, seqno), "the node that could not go down")
	assert.True(t, blacklisted(t, n, 1, seqno), "the node that took the recovery")
	assert.Positive(t, n.Node(2).Snapshot().Counters.Recoveries)

	// a blacklisted seqno is not sent down again
	assert.NotEqual(t, protocol.DirectionDown, n.Node(1).Forward(lost, seqno, protocol.DirectionNone))
}

func TestKillNode(t *testing.T) {
	m := perf.NewNodeMetrics()
	n := makeNetwork(t, lineTopology, m)
	n.RunFor(3 * time.Minute)
	require.NoError(t, n.Kill(4))

	assert.Nil(t, n.Node(4))
	assert.Len(t, n.Nodes(), 3)
	_, ok := n.Deployment.IdOf(n.Deployment.AddrOf(4))
	assert.False(t, ok)
	_, err := n.Send(1, 4)
	assert.Error(t, err)
	_, err = n.Send(4, 1)
	assert.Error(t, err)
	for _, p := range n.Node(3).Snapshot().Parents {
		assert.NotEqual(t, state.NodeId(4), p.Id)
	}

	assert.Error(t, n.Kill(1), "the sink stays")
	assert.Error(t, n.Kill(9))
	assert.Error(t, n.Kill(4), "already gone")

	n.Run()
	assert.Equal(t, 6*time.Minute, n.Now())
	assert.Greater(t, n.Stats().Delivered, uint64(0), "the rest of the line keeps delivering")
	assert.Equal(t, 3, testutil.CollectAndCount(m.Rank))
}

func TestKillAt(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, noTraffic)
	require.NoError(t, n.KillAt(3, 2*time.Minute))
	assert.Error(t, n.KillAt(1, time.Minute))
	assert.Error(t, n.KillAt(9, time.Minute))

	n.RunFor(time.Minute)
	assert.NotNil(t, n.Node(3))
	n.RunFor(2 * time.Minute)
	assert.Nil(t, n.Node(3))
	// node 3 was the only neighbour of node 4
	assert.Empty(t, n.Node(4).Snapshot().Parents)
	for _, p := range n.Node(2).Snapshot().Parents {
		assert.NotEqual(t, state.NodeId(3), p.Id)
	}
}

func TestDedupCapacity(t *testing.T) {
	cfg, err := state.ParseTopology([]byte(lineTopology))
	require.NoError(t, err)
	// 4 nodes each sending every 30s from 2m to 6m
	assert.Equal(t, DedupCapacity+4*9, dedupCapacity(cfg))

	noTraffic(cfg)
	assert.Equal(t, DedupCapacity, dedupCapacity(cfg))
}

func TestSendToSelfIsDelivered(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, noTraffic)
	seqno, err := n.Send(3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seqno)
	assert.Equal(t, uint64(1), n.Stats().Delivered)
	assert.Zero(t, n.Stats().Hops)
}

func TestSendUnknownNode(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil)
	_, err := n.Send(9, 1)
	assert.Error(t, err)
	_, err = n.Send(1, 9)
	assert.Error(t, err)
	assert.Zero(t, n.Stats().Sent)
}

func TestNeighborDelivery(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, noTraffic)
	n.RunFor(3 * time.Minute)

	// the sink reaches its reliable neighbour directly
	assert.Equal(t, protocol.DirectionNeighbor, n.Node(1).Forward(n.Deployment.AddrOf(2), 1000, protocol.DirectionNone))

	seqno, err := n.Send(1, 2)
	require.NoError(t, err)
	n.RunFor(time.Second)
	assert.True(t, n.seen.Has(seqno))
	assert.Equal(t, uint64(1), n.Stats().Delivered)
	assert.Equal(t, 1.0, n.Stats().MeanHops())
}

func TestMetricsExported(t *testing.T) {
	m := perf.NewNodeMetrics()
	n := makeNetwork(t, lineTopology, m, noTraffic)
	n.RunFor(3*time.Minute + MetricsInterval)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Rank.WithLabelValues("1")))
	assert.Equal(t, float64(n.Node(2).Rank()), testutil.ToFloat64(m.Rank.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwarderSetSize.WithLabelValues("4")))
	assert.Positive(t, testutil.ToFloat64(m.RoutingSetBits.WithLabelValues("1")))
}

func TestReport(t *testing.T) {
	n := makeNetwork(t, lineTopology, nil, noTraffic)
	n.RunFor(time.Minute)

	buf := &bytes.Buffer{}
	require.NoError(t, n.Report(buf))
	out := buf.String()
	assert.Contains(t, out, "sent 0")
	assert.Contains(t, out, "SET BITS")
}

func TestDeterministicRuns(t *testing.T) {
	a := makeNetwork(t, lineTopology, nil)
	b := makeNetwork(t, lineTopology, nil)
	a.RunFor(4 * time.Minute)
	b.RunFor(4 * time.Minute)
	assert.Equal(t, a.Stats(), b.Stats())
	for _, id := range []state.NodeId{1, 2, 3, 4} {
		assert.Equal(t, a.Node(id).Snapshot(), b.Node(id).Snapshot())
	}
}

func TestLossyLinks(t *testing.T) {
	topology := `
seed: 11
duration: 8m
nodes:
  - id: 1
    sink: true
  - id: 2
  - id: 3
  - id: 4
  - id: 5
links:
  - {a: 1, b: 2, prr: 0.8}
  - {a: 1, b: 3, prr: 0.7}
  - {a: 2, b: 3, prr: 0.9}
  - {a: 2, b: 4, prr: 0.8}
  - {a: 3, b: 5, prr: 0.6}
  - {a: 4, b: 5, prr: 0.9}
traffic:
  pattern: any
  interval: 20s
`
	n := makeNetwork(t, topology, nil)
	n.Run()
	st := n.Stats()
	assert.Greater(t, st.Sent, uint64(0))
	assert.Greater(t, st.Delivered, uint64(0))
	assert.LessOrEqual(t, st.Delivered, st.Sent)
	assert.Equal(t, 8*time.Minute, n.Now())
}
