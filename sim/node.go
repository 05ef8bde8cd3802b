package sim

import (
	"log/slog"
	"slices"
	"time"

	"github.com/encodeous/orpl/core"
	"github.com/encodeous/orpl/state"
)

// simNode is the dag and mac glue of one engine. It implements core.Router.
type simNode struct {
	id        state.NodeId
	lladdr    state.LinkAddr
	net       *Network
	node      *core.Node
	log       *slog.Logger
	neighbors []neighbor

	trickleInterval time.Duration
	trickleGen      uint64
	killed          bool
}

// gone reports whether the node no longer takes part in the run.
func (n *simNode) gone() bool {
	return n.killed || n.net.done()
}

func (n *simNode) ResetDioTimer() {
	if n.trickleInterval == n.net.Cfg.TrickleImin {
		return
	}
	n.startTrickle()
}

func (n *simNode) SendBroadcast(pkt []byte) {
	pkt = slices.Clone(pkt)
	// a broadcast strobes for a whole wakeup period so every neighbour hears it once
	n.net.Sched.After(n.ChannelCheckInterval(), func() {
		if n.gone() {
			return
		}
		n.deliverBroadcast(pkt)
	})
}

func (n *simNode) ChannelCheckInterval() time.Duration {
	return n.net.Cfg.ChannelCheckInterval
}

func (n *simNode) Log(event core.RouterEvent, desc string, args ...any) {
	core.LogEvent(n.log, event, desc, args...)
}

// startTrickle restarts the dio timer at Imin. Timers from earlier generations are ignored
// when they fire.
func (n *simNode) startTrickle() {
	n.trickleGen++
	n.trickleInterval = n.net.Cfg.TrickleImin
	n.scheduleTrickle(n.trickleGen)
}

func (n *simNode) scheduleTrickle(gen uint64) {
	interval := n.trickleInterval
	half := interval / 2
	fire := half + time.Duration(n.net.rand.Int64N(int64(max(half, 1))))
	n.net.Sched.After(fire, func() {
		if gen != n.trickleGen || n.gone() {
			return
		}
		n.sendDio()
	})
	n.net.Sched.After(interval, func() {
		if gen != n.trickleGen || n.gone() {
			return
		}
		n.trickleInterval = min(interval*2, n.net.Cfg.TrickleImax())
		n.scheduleTrickle(gen)
	})
}

// sendDio advertises our rank to the neighbours that hear it, then lets the engine refresh
// and age its routing set.
func (n *simNode) sendDio() {
	rank := n.node.Rank()
	for _, nb := range n.neighbors {
		if !n.net.hear(nb.prr) {
			continue
		}
		nb.node.node.AddParent(n.id)
		nb.node.node.FrameReceived(n.lladdr, rank)
	}
	n.node.TrickleTick()
}

func (n *simNode) deliverBroadcast(pkt []byte) {
	for _, nb := range n.shuffledNeighbors() {
		if !n.net.hear(nb.prr) {
			continue
		}
		nb.node.node.BroadcastReceived(n.lladdr, slices.Clone(pkt))
		if n.net.hear(nb.prr) {
			n.node.BroadcastAcked(nb.node.lladdr)
		}
	}
	n.node.BroadcastDone()
	n.node.BroadcastSent(false)
}

func (n *simNode) shuffledNeighbors() []neighbor {
	nbs := slices.Clone(n.neighbors)
	n.net.rand.Shuffle(len(nbs), func(i, j int) {
		nbs[i], nbs[j] = nbs[j], nbs[i]
	})
	return nbs
}
