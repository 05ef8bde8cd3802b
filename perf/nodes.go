package perf

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NodeMetrics exports per-node routing state, labelled by node id.
type NodeMetrics struct {
	Registry         *prometheus.Registry
	Rank             *prometheus.GaugeVec
	ForwarderSetSize *prometheus.GaugeVec
	RoutingSetBits   *prometheus.GaugeVec
	Delivered        *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	Recoveries       *prometheus.CounterVec
}

func NewNodeMetrics() *NodeMetrics {
	m := &NodeMetrics{
		Registry: prometheus.NewRegistry(),
		Rank: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orpl",
			Name:      "rank",
			Help:      "End-to-end EDC rank of the node.",
		}, []string{"node"}),
		ForwarderSetSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orpl",
			Name:      "forwarder_set_size",
			Help:      "Number of neighbours in the forwarder set.",
		}, []string{"node"}),
		RoutingSetBits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orpl",
			Name:      "routing_set_bits",
			Help:      "Bits set in the active routing set buffer.",
		}, []string{"node"}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orpl",
			Name:      "delivered_total",
			Help:      "Packets delivered to their destination, by destination.",
		}, []string{"node"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orpl",
			Name:      "dropped_total",
			Help:      "Packets dropped, by the node that dropped them.",
		}, []string{"node"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orpl",
			Name:      "recoveries_total",
			Help:      "Routing set false positives recovered, by the node that detected them.",
		}, []string{"node"}),
	}
	m.Registry.MustRegister(m.Rank, m.ForwarderSetSize, m.RoutingSetBits, m.Delivered, m.Dropped, m.Recoveries)
	return m
}

func (m *NodeMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
