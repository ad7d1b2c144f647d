package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "howdy"

type metrics struct {
	liveWorkers  prometheus.Gauge
	accepted     prometheus.Counter
	dropped      prometheus.Counter
	panics       prometheus.Counter
	responses    *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		liveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "live_workers",
			Help:      "Number of connections currently being handled.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Connections returned by the listener.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_dropped_total",
			Help:      "Connections closed unserved because the worker limit was reached.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_panics_total",
			Help:      "Panics recovered in connection workers.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Responses written, by status code.",
		}, []string{"code"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Requests rejected by the decoder, by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.liveWorkers, m.accepted, m.dropped, m.panics, m.responses, m.decodeErrors)
	return m
}
