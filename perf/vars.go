package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency       = metric.NewHistogram("1m1s")
	AckDecisionLatency    = metric.NewHistogram("1m1s")
	AnycastPerSecond      = metric.NewCounter("10s1s")
	AnycastAckedPerSecond = metric.NewCounter("10s1s")
	BroadcastsPerSecond   = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("orpl:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("orpl:AckDecisionLatency (ns)", AckDecisionLatency)
	expvar.Publish("orpl:Anycast/s", AnycastPerSecond)
	expvar.Publish("orpl:AnycastAcked/s", AnycastAckedPerSecond)
	expvar.Publish("orpl:Broadcasts/s", BroadcastsPerSecond)
}
