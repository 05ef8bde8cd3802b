package sim

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/encodeous/orpl/state"
	"github.com/jellydator/ttlcache/v3"
	"github.com/olekukonko/tablewriter"
)

// Stats are the end-to-end counters of a run.
type Stats struct {
	Sent       uint64
	Delivered  uint64
	Dropped    uint64
	Duplicates uint64
	Recoveries uint64
	Hops       uint64        // summed over first deliveries
	Latency    time.Duration // summed over first deliveries
}

func (s Stats) DeliveryRatio() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Delivered) / float64(s.Sent)
}

func (s Stats) MeanHops() float64 {
	if s.Delivered == 0 {
		return 0
	}
	return float64(s.Hops) / float64(s.Delivered)
}

func (s Stats) MeanLatency() time.Duration {
	if s.Delivered == 0 {
		return 0
	}
	return s.Latency / time.Duration(s.Delivered)
}

func (n *Network) Stats() Stats {
	return n.stats
}

// dedupCapacity holds every packet the generators can send in a run, plus DedupCapacity for
// packets sent by hand. An evicted seqno would count a late duplicate as a delivery.
func dedupCapacity(cfg *state.TopologyCfg) uint64 {
	tc := cfg.Traffic
	if tc.Interval <= 0 || cfg.Duration <= tc.Start {
		return DedupCapacity
	}
	perNode := uint64((cfg.Duration-tc.Start)/tc.Interval) + 1
	return DedupCapacity + perNode*uint64(len(cfg.Nodes))
}

func (n *Network) delivered(at *simNode, p packet) {
	if n.seen.Has(p.seqno) {
		n.stats.Duplicates++
		at.log.Debug("duplicate delivery", "seqno", p.seqno, "src", p.src)
		return
	}
	latency := n.Sched.Now() - p.sentAt
	n.seen.Set(p.seqno, latency, ttlcache.NoTTL)
	n.stats.Delivered++
	n.stats.Hops += uint64(p.hops)
	n.stats.Latency += latency
	at.log.Debug("packet delivered", "seqno", p.seqno, "src", p.src, "hops", p.hops, "latency", latency)
	if n.Metrics != nil {
		n.Metrics.Delivered.WithLabelValues(at.id.String()).Inc()
	}
}

func (n *Network) dropped(at *simNode, p packet) {
	n.stats.Dropped++
	at.log.Debug("packet dropped", "seqno", p.seqno, "src", p.src, "dst", p.dst, "hops", p.hops)
	if n.Metrics != nil {
		n.Metrics.Dropped.WithLabelValues(at.id.String()).Inc()
	}
}

func (n *Network) recovered(at *simNode) {
	n.stats.Recoveries++
	if n.Metrics != nil {
		n.Metrics.Recoveries.WithLabelValues(at.id.String()).Inc()
	}
}

// Report prints the end-to-end counters and a per-node table.
func (n *Network) Report(w io.Writer) error {
	st := n.stats
	_, err := fmt.Fprintf(w, "t=%s sent %d, delivered %d (%.1f%%), dropped %d, duplicates %d, recoveries %d, mean hops %.2f, mean latency %s\n",
		n.Sched.Now(), st.Sent, st.Delivered, 100*st.DeliveryRatio(), st.Dropped, st.Duplicates, st.Recoveries,
		st.MeanHops(), st.MeanLatency())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Node", "Sink", "Rank", "Forwarders", "Neighbours", "Set Bits", "Broadcasts", "Anycast In", "Acked", "Merged", "Recoveries"})
	for _, sn := range n.nodes {
		snap := sn.node.Snapshot()
		table.Append([]string{
			snap.Id.String(),
			strconv.FormatBool(snap.Sink),
			snap.Rank.String(),
			fmt.Sprint(snap.Forwarders),
			strconv.Itoa(len(snap.Parents)),
			strconv.Itoa(snap.RoutingSetBits),
			strconv.Itoa(int(snap.BroadcastCount)),
			strconv.FormatUint(snap.Counters.AnycastIncoming, 10),
			strconv.FormatUint(snap.Counters.AnycastAcked, 10),
			strconv.FormatUint(snap.Counters.RoutingSetMerged, 10),
			strconv.FormatUint(snap.Counters.Recoveries, 10),
		})
	}
	table.Render()
	return nil
}
