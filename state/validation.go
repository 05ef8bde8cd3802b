package state

import (
	"fmt"

	"go.uber.org/multierr"
)

func OrplConfigValidator(cfg *OrplCfg) error {
	var err error
	err = multierr.Append(err, ValidateFilter(cfg.FilterBits, cfg.FilterHashes))
	if cfg.EdcWeight < 1 || cfg.EdcWeight >= RankInfinite {
		err = multierr.Append(err, fmt.Errorf("edc_weight %d is out of range", cfg.EdcWeight))
	}
	if cfg.PrrThreshold < 0 || cfg.PrrThreshold > 100 {
		err = multierr.Append(err, fmt.Errorf("prr_threshold %d must be a percentage", cfg.PrrThreshold))
	}
	if cfg.MinBroadcasts < 1 {
		err = multierr.Append(err, fmt.Errorf("min_broadcasts must be at least 1, got %d", cfg.MinBroadcasts))
	}
	if cfg.BlacklistSize < 1 {
		err = multierr.Append(err, fmt.Errorf("blacklist_size must be at least 1, got %d", cfg.BlacklistSize))
	}
	if cfg.AckedDownSize < 1 {
		err = multierr.Append(err, fmt.Errorf("acked_down_size must be at least 1, got %d", cfg.AckedDownSize))
	}
	if cfg.BroadcastJitterCycles < 1 {
		err = multierr.Append(err, fmt.Errorf("broadcast_jitter_cycles must be at least 1, got %d", cfg.BroadcastJitterCycles))
	}
	if cfg.FreezeRankAfter < 0 || cfg.RoutingSetWarmup < 0 {
		err = multierr.Append(err, fmt.Errorf("freeze thresholds must not be negative"))
	}
	return err
}

func LinkValidator(link LinkCfg, nodes map[NodeId]bool) error {
	var err error
	if !nodes[link.A] {
		err = multierr.Append(err, fmt.Errorf("link %d-%d references unknown node %d", link.A, link.B, link.A))
	}
	if !nodes[link.B] {
		err = multierr.Append(err, fmt.Errorf("link %d-%d references unknown node %d", link.A, link.B, link.B))
	}
	if link.A == link.B {
		err = multierr.Append(err, fmt.Errorf("link %d-%d is a self loop", link.A, link.B))
	}
	if link.Prr <= 0 || link.Prr > 1 {
		err = multierr.Append(err, fmt.Errorf("link %d-%d has prr %v outside (0, 1]", link.A, link.B, link.Prr))
	}
	return err
}

func TopologyConfigValidator(cfg *TopologyCfg) error {
	var err error
	if !cfg.Prefix.IsValid() || !cfg.Prefix.Addr().Is6() || cfg.Prefix.Bits() > 64 {
		err = multierr.Append(err, fmt.Errorf("prefix %s must be an ipv6 prefix of at most /64", cfg.Prefix))
	}
	if cfg.ChannelCheckInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("channel_check_interval must be positive"))
	}
	if cfg.TrickleImin <= 0 || cfg.TrickleDoublings < 0 || cfg.TrickleDoublings > 16 {
		err = multierr.Append(err, fmt.Errorf("trickle_imin must be positive and trickle_doublings within [0, 16]"))
	}
	if cfg.Duration <= 0 {
		err = multierr.Append(err, fmt.Errorf("duration must be positive"))
	}

	nodes := make(map[NodeId]bool)
	sinks := 0
	for _, n := range cfg.Nodes {
		if nodes[n.Id] {
			err = multierr.Append(err, fmt.Errorf("duplicate node %d", n.Id))
		}
		if n.Id == 0 {
			err = multierr.Append(err, fmt.Errorf("node id 0 is reserved"))
		}
		nodes[n.Id] = true
		if n.Sink {
			sinks++
		}
	}
	if sinks != 1 {
		err = multierr.Append(err, fmt.Errorf("topology must have exactly one sink, found %d", sinks))
	}
	for _, l := range cfg.Links {
		err = multierr.Append(err, LinkValidator(l, nodes))
	}

	switch cfg.Traffic.Pattern {
	case TrafficUp, TrafficDown, TrafficAny:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown traffic pattern %q", cfg.Traffic.Pattern))
	}
	if cfg.Traffic.Interval <= 0 {
		err = multierr.Append(err, fmt.Errorf("traffic interval must be positive"))
	}

	err = multierr.Append(err, OrplConfigValidator(&cfg.Orpl))
	return err
}
