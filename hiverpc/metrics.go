package hiverpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	calls     *prometheus.CounterVec
	failovers prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "snapengine_rpc_calls_total",
			Help: "counter of RPC calls by method",
		}, []string{"method"}),
		failovers: factory.NewCounter(prometheus.CounterOpts{
			Name: "snapengine_rpc_failovers_total",
			Help: "counter of endpoint failovers",
		}),
	}
}
