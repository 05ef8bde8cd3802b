package sim

import (
	"cmp"
	"encoding/binary"
	"net/netip"
	"slices"
	"time"

	"github.com/encodeous/orpl/protocol"
	"github.com/encodeous/orpl/state"
)

type packet struct {
	seqno   uint32
	src     state.NodeId
	dst     state.NodeId
	dstAddr netip.Addr
	hops    int
	sentAt  time.Duration
	arrived protocol.Direction // how the current holder received it
}

type wakeup struct {
	nb    neighbor
	phase time.Duration
}

// transmit strobes an anycast frame for up to one wakeup period. Neighbours wake up at a
// random phase and run the acknowledgment decision; the first one whose ack makes it back
// ends the strobe. A receiver that acked but whose ack was lost still forwards its copy.
func (n *simNode) transmit(p packet, dir protocol.Direction, attempt int) {
	if p.hops >= MaxHops {
		n.log.Debug("hop limit reached", "seqno", p.seqno, "dst", p.dst)
		n.net.dropped(n, p)
		return
	}
	cci := n.ChannelCheckInterval()
	rank := n.node.Rank()
	f := protocol.Frame{
		Seq:        uint8(p.seqno),
		Pan:        PanId,
		AckRequest: true,
		Dst:        protocol.EncodeAnycast(dir, rank, p.seqno),
		Src:        n.lladdr,
		DstIid:     iidOf(p.dstAddr),
		Payload:    binary.BigEndian.AppendUint32(nil, p.seqno),
	}
	frame := f.Marshal()

	wakeups := make([]wakeup, 0, len(n.neighbors))
	for _, nb := range n.neighbors {
		wakeups = append(wakeups, wakeup{nb: nb, phase: time.Duration(n.net.rand.Int64N(int64(cci)))})
	}
	slices.SortFunc(wakeups, func(a, b wakeup) int {
		return cmp.Compare(a.phase, b.phase)
	})

	goingUp := dir == protocol.DirectionUp
	for _, w := range wakeups {
		if !n.net.hear(w.nb.prr) {
			continue
		}
		d := w.nb.node.node.AckDecision(slices.Clone(frame))
		if !d.Flags.Has(protocol.FlagDoAck) {
			continue
		}
		receiver := w.nb.node
		acked := n.net.hear(w.nb.prr)
		if acked {
			// the sender learns about the ack before the receiver can hand the frame back
			cost := state.Rank(int64(state.EdcDivisor) * int64(w.phase) / int64(cci))
			n.net.Sched.After(w.phase, func() {
				n.node.FrameAcked(receiver.lladdr, d.Rank, dir, p.seqno)
				n.node.TxDone(cost, goingUp)
			})
		}
		next := p
		next.hops++
		n.net.Sched.After(w.phase, func() {
			receiver.receive(next, frame)
		})
		if acked {
			return
		}
		// lost ack, keep strobing
	}

	n.net.Sched.After(cci, func() {
		if n.gone() {
			return
		}
		n.node.TxDone(state.RankInfinite, goingUp)
		if attempt+1 < MaxRetries {
			n.transmit(p, dir, attempt+1)
			return
		}
		n.log.Debug("no forwarder acknowledged", "seqno", p.seqno, "dst", p.dst, "dir", dir)
		if dir == protocol.DirectionDown {
			n.downFailed(p)
			return
		}
		n.net.dropped(n, p)
	})
}

// downFailed hands a packet nobody took downwards back to the engine, which either sends it
// back up with a recovery frame or routes it again without the routing set.
func (n *simNode) downFailed(p packet) {
	dir := n.node.DownFailed(p.dstAddr, p.seqno, p.arrived)
	if dir == protocol.DirectionNone {
		n.net.dropped(n, p)
		return
	}
	if dir == protocol.DirectionRecover {
		n.net.recovered(n)
	}
	n.transmit(p, dir, 0)
}

// receive handles a frame we acknowledged: learn the sender's rank from the anycast address,
// then deliver or forward.
func (n *simNode) receive(p packet, raw []byte) {
	if n.gone() {
		if !n.net.done() {
			n.net.dropped(n, p)
		}
		return
	}
	f, err := protocol.ParseFrame(raw)
	if err != nil {
		n.log.Warn("dropping undecodable frame", "seqno", p.seqno, "error", err)
		n.net.dropped(n, p)
		return
	}
	info, ok := protocol.DecodeAnycast(f.Dst)
	if !ok || len(f.Payload) < 4 || binary.BigEndian.Uint32(f.Payload) != info.Seqno {
		n.log.Warn("dropping frame with a bad anycast header", "seqno", p.seqno, "dst", f.Dst)
		n.net.dropped(n, p)
		return
	}
	n.node.FrameReceived(f.Src, info.Rank)
	n.route(p, info.Direction)
}

func (n *simNode) route(p packet, arrived protocol.Direction) {
	p.arrived = arrived
	dir := n.node.Forward(p.dstAddr, p.seqno, arrived)
	switch {
	case dir != protocol.DirectionNone:
		if dir == protocol.DirectionRecover {
			n.net.recovered(n)
		}
		n.transmit(p, dir, 0)
	case p.dst == n.id:
		n.net.delivered(n, p)
	default:
		n.net.dropped(n, p)
	}
}

func iidOf(addr netip.Addr) [8]byte {
	b := addr.As16()
	return [8]byte(b[8:])
}
