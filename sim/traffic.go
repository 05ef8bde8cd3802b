package sim

import (
	"fmt"
	"time"

	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
)

// Send originates a packet from src to dst and returns its sequence number.
func (n *Network) Send(src, dst state.NodeId) (uint32, error) {
	from, ok := n.byId[src]
	if !ok {
		return 0, fmt.Errorf("unknown source node %s", src)
	}
	dstAddr := n.Deployment.AddrOf(dst)
	if id, ok := n.Deployment.IdOf(dstAddr); !ok || id != dst {
		return 0, fmt.Errorf("unknown destination node %s", dst)
	}
	n.seqno++
	p := packet{
		seqno:   n.seqno,
		src:     src,
		dst:     dst,
		dstAddr: dstAddr,
		sentAt:  n.Sched.Now(),
	}
	n.stats.Sent++
	from.log.Debug("originating packet", "seqno", p.seqno, "dst", dst)
	from.route(p, protocol.DirectionNone)
	return p.seqno, nil
}

func (n *Network) scheduleTraffic() {
	tc := n.Cfg.Traffic
	if tc.Interval <= 0 || n.sink == nil {
		return
	}
	for _, sn := range n.nodes {
		if sn == n.sink {
			continue
		}
		var pick func() (state.NodeId, state.NodeId)
		switch tc.Pattern {
		case state.TrafficUp:
			pick = func() (state.NodeId, state.NodeId) {
				return sn.id, n.sink.id
			}
		case state.TrafficDown:
			pick = func() (state.NodeId, state.NodeId) {
				return n.sink.id, sn.id
			}
		case state.TrafficAny:
			pick = func() (state.NodeId, state.NodeId) {
				dst := n.nodes[n.rand.IntN(len(n.nodes))]
				for dst == sn && len(n.nodes) > 1 {
					dst = n.nodes[n.rand.IntN(len(n.nodes))]
				}
				return sn.id, dst.id
			}
		default:
			return
		}
		offset := time.Duration(n.rand.Int64N(int64(tc.Interval)))
		n.Sched.After(tc.Start+offset, func() {
			n.generate(pick, tc.Interval)
		})
	}
}

func (n *Network) generate(pick func() (state.NodeId, state.NodeId), interval time.Duration) {
	if n.done() || n.Sched.Now() > n.Cfg.Duration-TrafficTail {
		return
	}
	src, dst := pick()
	if _, err := n.Send(src, dst); err != nil {
		// one of the endpoints was killed
		n.Log.Debug("traffic generator stopped", "src", src, "dst", dst, "error", err)
		return
	}
	n.Sched.After(interval, func() {
		n.generate(pick, interval)
	})
}
