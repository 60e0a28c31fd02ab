package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stampbuy/internal/purchase"
)

type metricsRegistry struct {
	registry       *prometheus.Registry
	purchasesTotal prometheus.Counter
	submitsTotal   *prometheus.CounterVec
	replaysTotal   prometheus.Counter
}

func newMetricsRegistry(purchases *purchase.Manager) *metricsRegistry {
	opened := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stampbuy_purchases_opened_total",
		Help: "Total number of purchase sessions opened",
	})

	submits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stampbuy_submits_total",
		Help: "Purchase submissions by outcome",
	}, []string{"outcome"})

	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stampbuy_submit_replays_total",
		Help: "Submit responses served from the idempotency store",
	})

	open := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "stampbuy_open_purchases",
		Help: "Number of purchase sessions currently open",
	}, func() float64 {
		if purchases == nil {
			return 0
		}
		return float64(purchases.Len())
	})

	r := prometheus.NewRegistry()
	r.MustRegister(opened, submits, replays, open)

	return &metricsRegistry{
		registry:       r,
		purchasesTotal: opened,
		submitsTotal:   submits,
		replaysTotal:   replays,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incOpened() {
	m.purchasesTotal.Inc()
}

func (m *metricsRegistry) incSubmit(outcome purchase.Outcome) {
	m.submitsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *metricsRegistry) incReplay() {
	m.replaysTotal.Inc()
}
