package chain

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	appendLatency  prometheus.Histogram
	blocksAppended prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		appendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "append_latency_seconds",
			Help:      "Latency of chain Append calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		blocksAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "chain",
			Name:      "blocks_appended_total",
			Help:      "Total number of blocks successfully appended.",
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) {
	reg.MustRegister(m.appendLatency, m.blocksAppended)
}
