package state

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

// OrplCfg holds the tunables of the routing engine. Each node in a topology shares one copy.
type OrplCfg struct {
	FilterBits            int           `yaml:"filter_bits,omitempty"`             // routing set size in bits
	FilterHashes          int           `yaml:"filter_hashes,omitempty"`           // positions per element
	EdcWeight             Rank          `yaml:"edc_weight,omitempty"`              // forwarding cost W added per hop
	PrrThreshold          int           `yaml:"prr_threshold,omitempty"`           // minimum broadcast ack ratio, percent
	MinBroadcasts         int           `yaml:"min_broadcasts,omitempty"`          // broadcasts needed before a link is trusted
	RankMaxChange         Rank          `yaml:"rank_max_change,omitempty"`         // rank drift that resets the dio timer
	CheckFilterOnUp       bool          `yaml:"check_filter_on_up"`                // accept upward frames for destinations in our routing set
	AllNeighborsInSet     bool          `yaml:"all_neighbors_in_set,omitempty"`    // insert every good neighbour, not just the ones further from the sink
	UpOnly                bool          `yaml:"up_only,omitempty"`                 // disable routing set maintenance
	FreezeRank            bool          `yaml:"freeze_rank,omitempty"`             // stop updating the rank after FreezeRankAfter
	FreezeRankAfter       time.Duration `yaml:"freeze_rank_after,omitempty"`       // elapsed time after which the rank freezes
	FreezeRoutingSet      bool          `yaml:"freeze_routing_set,omitempty"`      // never age the routing set
	RoutingSetWarmup      time.Duration `yaml:"routing_set_warmup,omitempty"`      // with FreezeRoutingSet, no neighbour is inserted before this
	BlacklistSize         int           `yaml:"blacklist_size,omitempty"`          // remembered false-positive seqnos
	AckedDownSize         int           `yaml:"acked_down_size,omitempty"`         // remembered downward acknowledgements
	BroadcastJitterCycles int           `yaml:"broadcast_jitter_cycles,omitempty"` // routing set broadcast jitter, in channel check intervals
}

func DefaultOrplCfg() OrplCfg {
	return OrplCfg{
		FilterBits:            DefaultFilterBits,
		FilterHashes:          DefaultFilterHashes,
		EdcWeight:             DefaultEdcWeight,
		PrrThreshold:          DefaultPrrThreshold,
		MinBroadcasts:         DefaultMinBroadcasts,
		RankMaxChange:         DefaultRankMaxChange,
		CheckFilterOnUp:       true,
		FreezeRankAfter:       DefaultFreezeRankAfter,
		RoutingSetWarmup:      DefaultRoutingSetWarmup,
		BlacklistSize:         DefaultBlacklistSize,
		AckedDownSize:         DefaultAckedDownSize,
		BroadcastJitterCycles: DefaultBroadcastJitterCycles,
	}
}

type NodeCfg struct {
	Id   NodeId
	Sink bool `yaml:",omitempty"`
}

type LinkCfg struct {
	A   NodeId
	B   NodeId
	Prr float64 // packet reception ratio in both directions
}

type TrafficPattern string

const (
	TrafficUp   TrafficPattern = "up"   // every node to the sink
	TrafficDown TrafficPattern = "down" // the sink to every node
	TrafficAny  TrafficPattern = "any"  // random node pairs
)

type TrafficCfg struct {
	Pattern  TrafficPattern `yaml:",omitempty"`
	Interval time.Duration  `yaml:",omitempty"` // per-source packet interval
	Start    time.Duration  `yaml:",omitempty"` // traffic starts after the network had time to converge
}

// TopologyCfg describes a simulated deployment.
type TopologyCfg struct {
	Prefix               netip.Prefix  `yaml:",omitempty"`
	Seed                 uint64        `yaml:",omitempty"`
	Duration             time.Duration `yaml:",omitempty"`
	ChannelCheckInterval time.Duration `yaml:"channel_check_interval,omitempty"`
	TrickleImin          time.Duration `yaml:"trickle_imin,omitempty"`
	TrickleDoublings     int           `yaml:"trickle_doublings,omitempty"`
	Nodes                []NodeCfg
	Links                []LinkCfg
	Traffic              TrafficCfg `yaml:",omitempty"`
	Orpl                 OrplCfg    `yaml:",omitempty"`
}

func DefaultTopologyCfg() TopologyCfg {
	return TopologyCfg{
		Prefix:               netip.MustParsePrefix(DefaultMeshPrefix),
		Seed:                 1,
		Duration:             10 * time.Minute,
		ChannelCheckInterval: DefaultChannelCheckInterval,
		TrickleImin:          DefaultTrickleImin,
		TrickleDoublings:     DefaultTrickleDoublings,
		Traffic: TrafficCfg{
			Pattern:  TrafficUp,
			Interval: DefaultTrafficInterval,
			Start:    DefaultTrafficStart,
		},
		Orpl: DefaultOrplCfg(),
	}
}

// ParseTopology decodes a topology on top of the defaults and validates it.
func ParseTopology(data []byte) (*TopologyCfg, error) {
	cfg := DefaultTopologyCfg()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := TopologyConfigValidator(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadTopology(path string) (*TopologyCfg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTopology(data)
}

func (c *TopologyCfg) Sink() (NodeCfg, bool) {
	idx := slices.IndexFunc(c.Nodes, func(n NodeCfg) bool {
		return n.Sink
	})
	if idx == -1 {
		return NodeCfg{}, false
	}
	return c.Nodes[idx], true
}

func (c *TopologyCfg) GetNode(id NodeId) (NodeCfg, bool) {
	idx := slices.IndexFunc(c.Nodes, func(n NodeCfg) bool {
		return n.Id == id
	})
	if idx == -1 {
		return NodeCfg{}, false
	}
	return c.Nodes[idx], true
}

// TrickleImax is the longest dio interval.
func (c *TopologyCfg) TrickleImax() time.Duration {
	return c.TrickleImin << c.TrickleDoublings
}
