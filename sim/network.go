package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/orpl/core"
	"github.com/encodeous/orpl/perf"
	"github.com/encodeous/orpl/state"
	"github.com/jellydator/ttlcache/v3"
)

// Network is a simulated duty-cycled radio mesh. Every node runs the routing engine on a
// shared virtual clock, so a run is reproducible from the topology seed.
type Network struct {
	Cfg        *state.TopologyCfg
	Deployment *state.Deployment
	Sched      *state.Scheduler
	Log        *slog.Logger
	Metrics    *perf.NodeMetrics

	ctx    context.Context
	cancel context.CancelCauseFunc
	rand   *rand.Rand
	nodes  []*simNode
	byId   map[state.NodeId]*simNode
	sink   *simNode
	seqno  uint32
	seen   *ttlcache.Cache[uint32, time.Duration]
	stats  Stats
}

type neighbor struct {
	node *simNode
	prr  float64
}

// New builds and starts every node of the topology. metrics may be nil.
func New(ctx context.Context, cfg *state.TopologyCfg, log *slog.Logger, metrics *perf.NodeMetrics) (*Network, error) {
	if err := state.TopologyConfigValidator(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	n := &Network{
		Cfg:        cfg,
		Deployment: state.NewDeployment(cfg.Prefix),
		Sched:      state.NewScheduler(),
		Log:        log,
		Metrics:    metrics,
		rand:       rand.New(rand.NewPCG(cfg.Seed, 0)),
		byId:       make(map[state.NodeId]*simNode),
		seen: ttlcache.New[uint32, time.Duration](
			ttlcache.WithCapacity[uint32, time.Duration](dedupCapacity(cfg)),
		),
	}
	n.ctx, n.cancel = context.WithCancelCause(ctx)

	for _, nc := range cfg.Nodes {
		n.Deployment.Add(nc.Id)
	}
	for _, nc := range cfg.Nodes {
		sn := &simNode{
			id:     nc.Id,
			net:    n,
			log:    log.With("node", nc.Id),
			lladdr: nc.Id.LinkAddr(),
		}
		nodeCtx, nodeCancel := context.WithCancelCause(n.ctx)
		node, err := core.Start(&state.Env{
			OrplCfg:    cfg.Orpl,
			NodeCfg:    nc,
			Deployment: n.Deployment,
			Sched:      n.Sched,
			Rand:       rand.New(rand.NewPCG(cfg.Seed, uint64(nc.Id))),
			Context:    nodeCtx,
			Cancel:     nodeCancel,
			Log:        sn.log,
		}, sn)
		if err != nil {
			n.Stop()
			return nil, fmt.Errorf("failed to start node %s: %w", nc.Id, err)
		}
		sn.node = node
		n.nodes = append(n.nodes, sn)
		n.byId[nc.Id] = sn
		if nc.Sink {
			n.sink = sn
		}
	}
	for _, l := range cfg.Links {
		a, b := n.byId[l.A], n.byId[l.B]
		a.neighbors = append(a.neighbors, neighbor{node: b, prr: l.Prr})
		b.neighbors = append(b.neighbors, neighbor{node: a, prr: l.Prr})
	}

	for _, sn := range n.nodes {
		sn.startTrickle()
	}
	n.scheduleTraffic()
	if n.Metrics != nil {
		for _, sn := range n.nodes {
			sn.node.RepeatSnapshot(MetricsInterval, n.exportMetrics)
		}
	}
	log.Info("simulated network started", "nodes", len(n.nodes), "links", len(cfg.Links), "seed", cfg.Seed)
	return n, nil
}

func (n *Network) done() bool {
	return n.ctx.Err() != nil
}

// hear draws whether a single frame crosses a link.
func (n *Network) hear(prr float64) bool {
	return n.rand.Float64() < prr
}

// Run simulates the remainder of the configured duration.
func (n *Network) Run() {
	n.Sched.RunUntil(n.Cfg.Duration)
}

// RunFor simulates d of virtual time.
func (n *Network) RunFor(d time.Duration) {
	n.Sched.Advance(d)
}

// RunRealtime paces the simulation against clk until the configured duration has passed
// or ctx ends.
func (n *Network) RunRealtime(ctx context.Context, clk clock.Clock) error {
	ctx, cancel := clk.WithTimeout(ctx, n.Cfg.Duration-n.Sched.Now())
	defer cancel()
	err := n.Sched.RunRealtime(ctx, clk, RealtimeTick)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (n *Network) Stop() {
	for _, sn := range n.nodes {
		sn.node.Stop()
	}
	n.cancel(context.Canceled)
	n.seen.DeleteAll()
}

func (n *Network) Node(id state.NodeId) *core.Node {
	sn, ok := n.byId[id]
	if !ok {
		return nil
	}
	return sn.node
}

// Nodes returns the engines in topology order.
func (n *Network) Nodes() []*core.Node {
	nodes := make([]*core.Node, 0, len(n.nodes))
	for _, sn := range n.nodes {
		nodes = append(nodes, sn.node)
	}
	return nodes
}

func (n *Network) Now() time.Duration {
	return n.Sched.Now()
}

func (n *Network) exportMetrics(snap core.NodeSnapshot) {
	label := snap.Id.String()
	n.Metrics.Rank.WithLabelValues(label).Set(float64(snap.Rank))
	n.Metrics.ForwarderSetSize.WithLabelValues(label).Set(float64(len(snap.Forwarders)))
	n.Metrics.RoutingSetBits.WithLabelValues(label).Set(float64(snap.RoutingSetBits))
}

// Kill takes a node out of the run: its engine stops, its address leaves the deployment and
// its neighbours forget it. The sink cannot be killed.
func (n *Network) Kill(id state.NodeId) error {
	sn, ok := n.byId[id]
	if !ok {
		return fmt.Errorf("unknown node %s", id)
	}
	if sn == n.sink {
		return fmt.Errorf("node %s is the sink and cannot be killed", id)
	}
	sn.killed = true
	sn.trickleGen++
	sn.node.Stop()
	n.Deployment.Remove(id)
	for _, nb := range sn.neighbors {
		peer := nb.node
		peer.neighbors = slices.DeleteFunc(peer.neighbors, func(x neighbor) bool {
			return x.node == sn
		})
		peer.node.RemoveParent(id)
	}
	sn.neighbors = nil
	delete(n.byId, id)
	n.nodes = slices.DeleteFunc(n.nodes, func(x *simNode) bool {
		return x == sn
	})
	if n.Metrics != nil {
		label := id.String()
		n.Metrics.Rank.DeleteLabelValues(label)
		n.Metrics.ForwarderSetSize.DeleteLabelValues(label)
		n.Metrics.RoutingSetBits.DeleteLabelValues(label)
	}
	n.Log.Info("node killed", "node", id, "at", n.Sched.Now())
	return nil
}

// KillAt schedules Kill at virtual time at.
func (n *Network) KillAt(id state.NodeId, at time.Duration) error {
	sn, ok := n.byId[id]
	if !ok {
		return fmt.Errorf("unknown node %s", id)
	}
	if sn == n.sink {
		return fmt.Errorf("node %s is the sink and cannot be killed", id)
	}
	n.Sched.After(max(at-n.Sched.Now(), 0), func() {
		if n.done() {
			return
		}
		if err := n.Kill(id); err != nil {
			n.Log.Warn("scheduled kill failed", "node", id, "error", err)
		}
	})
	return nil
}
