package state

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

type NyModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// Parent is a neighbour entry owned by the dag layer. The routing engine
// only updates Rank and AckCount.
type Parent struct {
	Id       NodeId
	Addr     LinkAddr
	Rank     Rank
	AckCount uint16 // acknowledgements of our routing set broadcasts
}

type RankState struct {
	HopByHop         uint32 // smoothed single-hop cost
	EndToEnd         Rank
	LastBroadcast    Rank
	ForwarderSetSize int
	NeighborSetSize  int
	ForwarderSet     mapset.Set[NodeId]
}

type Counters struct {
	AnycastIncoming  uint64
	AnycastAcked     uint64
	RoutingSetMerged uint64
	BroadcastsSent   uint64
	Recoveries       uint64
}

// State must only be accessed while holding the node lock, see Env.DispatchWait.
type State struct {
	*Env
	Id       NodeId
	IsSink   bool
	LinkAddr LinkAddr
	IpAddr   netip.Addr

	Rank           RankState
	RoutingSet     *RoutingSet
	Blacklist      *Blacklist
	AckedDown      *AckedDownHistory
	Parents        []*Parent
	BroadcastCount uint16
	Counters       Counters

	// BroadcastPending is set while a routing set broadcast is waiting for its jitter to expire.
	BroadcastPending bool
	StartedAt        time.Duration
	Modules          map[string]NyModule
}

// Env can be read from any Goroutine
type Env struct {
	OrplCfg
	NodeCfg
	Deployment *Deployment
	Sched      *Scheduler
	Rand       *rand.Rand
	Context    context.Context
	Cancel     context.CancelCauseFunc
	Log        *slog.Logger

	mu    sync.Mutex
	state *State
}

// NewState builds the per-node context. The routing set geometry must already be validated.
func NewState(env *Env) (*State, error) {
	rs, err := NewRoutingSet(env.FilterBits, env.FilterHashes)
	if err != nil {
		return nil, err
	}
	s := &State{
		Env:        env,
		Id:         env.Id,
		IsSink:     env.Sink,
		LinkAddr:   env.Id.LinkAddr(),
		RoutingSet: rs,
		Blacklist:  NewBlacklist(env.BlacklistSize),
		AckedDown:  NewAckedDownHistory(env.AckedDownSize),
		Rank: RankState{
			HopByHop:      EdcDivisor,
			EndToEnd:      RankInfinite,
			LastBroadcast: RankInfinite,
			ForwarderSet:  mapset.NewThreadUnsafeSet[NodeId](),
		},
		Modules: make(map[string]NyModule),
	}
	if env.Rand == nil {
		env.Rand = rand.New(rand.NewPCG(uint64(env.Id), 0))
	}
	if env.Deployment == nil {
		env.Deployment = NewDeployment(netip.MustParsePrefix(DefaultMeshPrefix))
	}
	s.IpAddr = env.Deployment.AddrOf(env.Id)
	if env.Sched != nil {
		s.StartedAt = env.Sched.Now()
	}
	env.state = s
	return s, nil
}

// Elapsed is the virtual time since the node started.
func (s *State) Elapsed() time.Duration {
	return s.Sched.Now() - s.StartedAt
}

func (s *State) GetParent(id NodeId) *Parent {
	idx := slices.IndexFunc(s.Parents, func(p *Parent) bool {
		return p.Id == id
	})
	if idx == -1 {
		return nil
	}
	return s.Parents[idx]
}

func (s *State) GetParentByAddr(addr LinkAddr) *Parent {
	idx := slices.IndexFunc(s.Parents, func(p *Parent) bool {
		return p.Addr == addr
	})
	if idx == -1 {
		return nil
	}
	return s.Parents[idx]
}

// AddParent inserts a neighbour with unknown rank, or returns the existing entry.
func (s *State) AddParent(id NodeId) *Parent {
	if p := s.GetParent(id); p != nil {
		return p
	}
	p := &Parent{
		Id:   id,
		Addr: id.LinkAddr(),
		Rank: RankInfinite,
	}
	s.Parents = append(s.Parents, p)
	return p
}

func (s *State) RemoveParent(id NodeId) {
	s.Parents = slices.DeleteFunc(s.Parents, func(p *Parent) bool {
		return p.Id == id
	})
	s.Rank.ForwarderSet.Remove(id)
}

// MeshPrefix is the /64 shared by every node of the deployment.
func (s *State) MeshPrefix() netip.Prefix {
	return s.Deployment.Prefix
}

// AddrOfParent is the mesh address of a neighbour.
func (s *State) AddrOfParent(p *Parent) netip.Addr {
	return s.Deployment.AddrOfLink(p.Addr)
}
