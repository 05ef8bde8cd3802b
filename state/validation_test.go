package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestOrplConfigValidator_Valid(t *testing.T) {
	cfg := DefaultOrplCfg()
	assert.NoError(t, OrplConfigValidator(&cfg))

	cfg.FilterBits = 1 << 16
	cfg.FilterHashes = 4
	cfg.PrrThreshold = 0
	assert.NoError(t, OrplConfigValidator(&cfg))
}

func TestOrplConfigValidator_Invalid(t *testing.T) {
	for name, edit := range map[string]func(cfg *OrplCfg){
		"filter not byte aligned": func(cfg *OrplCfg) { cfg.FilterBits = 100 },
		"filter too large":        func(cfg *OrplCfg) { cfg.FilterBits = 1<<16 + 8 },
		"too many hashes":         func(cfg *OrplCfg) { cfg.FilterHashes = 8 },
		"no hashes":               func(cfg *OrplCfg) { cfg.FilterHashes = 0 },
		"zero weight":             func(cfg *OrplCfg) { cfg.EdcWeight = 0 },
		"infinite weight":         func(cfg *OrplCfg) { cfg.EdcWeight = RankInfinite },
		"prr above 100":           func(cfg *OrplCfg) { cfg.PrrThreshold = 101 },
		"no broadcasts":           func(cfg *OrplCfg) { cfg.MinBroadcasts = 0 },
		"empty blacklist":         func(cfg *OrplCfg) { cfg.BlacklistSize = 0 },
		"empty acked down":        func(cfg *OrplCfg) { cfg.AckedDownSize = 0 },
		"no jitter":               func(cfg *OrplCfg) { cfg.BroadcastJitterCycles = 0 },
		"negative warmup":         func(cfg *OrplCfg) { cfg.RoutingSetWarmup = -1 },
	} {
		cfg := DefaultOrplCfg()
		edit(&cfg)
		assert.Error(t, OrplConfigValidator(&cfg), name)
	}
}

func TestLinkValidator(t *testing.T) {
	nodes := map[NodeId]bool{1: true, 2: true}
	assert.NoError(t, LinkValidator(LinkCfg{A: 1, B: 2, Prr: 1}, nodes))
	assert.Error(t, LinkValidator(LinkCfg{A: 1, B: 2, Prr: 0}, nodes))
	assert.Error(t, LinkValidator(LinkCfg{A: 1, B: 1, Prr: 0.5}, nodes))
	assert.ErrorContains(t, LinkValidator(LinkCfg{A: 3, B: 2, Prr: 0.5}, nodes), "unknown node 3")
}

func TestTopologyConfigValidator_Prefix(t *testing.T) {
	cfg := DefaultTopologyCfg()
	cfg.Nodes = []NodeCfg{{Id: 1, Sink: true}}

	cfg.Prefix = netip.MustParsePrefix("10.0.0.0/8")
	assert.Error(t, TopologyConfigValidator(&cfg))
	cfg.Prefix = netip.MustParsePrefix("fd00::/96")
	assert.Error(t, TopologyConfigValidator(&cfg))
	cfg.Prefix = netip.MustParsePrefix("fd00::/48")
	assert.NoError(t, TopologyConfigValidator(&cfg))
}

func TestTopologyConfigValidator_CollectsAllErrors(t *testing.T) {
	cfg := DefaultTopologyCfg()
	cfg.Nodes = []NodeCfg{{Id: 1}, {Id: 1}, {Id: 2}}
	cfg.Links = []LinkCfg{{A: 1, B: 9, Prr: 0.5}, {A: 2, B: 2, Prr: 2}}
	cfg.Orpl.FilterBits = 100

	err := TopologyConfigValidator(&cfg)
	require.Error(t, err)
	errs := multierr.Errors(err)
	// duplicate node, no sink, unknown node, self loop, bad prr, bad filter
	assert.Len(t, errs, 6)
	assert.ErrorContains(t, err, "exactly one sink")
	assert.ErrorContains(t, err, "unknown node 9")
}
