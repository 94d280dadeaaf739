// internal/metrics/collector.go
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rovshanmuradov/spot-trading-bot/internal/events"
)

const namespace = "spotbot"

// Collector owns the bot's metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	positionsOpened  *prometheus.CounterVec
	positionsSold    *prometheus.CounterVec
	realizedProfit   *prometheus.GaugeVec
	monitorsActive   prometheus.Gauge
	monitorsDegraded prometheus.Counter
	rebuys           *prometheus.CounterVec
	fallbacks        prometheus.Counter
	exchangeCalls    *prometheus.CounterVec
	exchangeLatency  *prometheus.HistogramVec

	subs []events.Subscription
}

// NewCollector creates and registers every metric.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		positionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Buys that opened or added to a position, by source",
		}, []string{"source"}),
		positionsSold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_sold_total",
			Help:      "Sells by reason",
		}, []string{"reason"}),
		realizedProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_profit",
			Help:      "Realized profit in quote currency since start, by user",
		}, []string{"user_id"}),
		monitorsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitors_active",
			Help:      "Running per-symbol monitors",
		}),
		monitorsDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitors_degraded_total",
			Help:      "Monitors that crossed the consecutive failure threshold",
		}),
		rebuys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebuys_total",
			Help:      "Rebuys by signal",
		}, []string{"signal"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Trending symbol fallback buys",
		}),
		exchangeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_requests_total",
			Help:      "Exchange calls by operation and status",
		}, []string{"op", "status"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_request_duration_seconds",
			Help:      "Exchange call latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"op"}),
	}

	c.registry.MustRegister(
		c.positionsOpened,
		c.positionsSold,
		c.realizedProfit,
		c.monitorsActive,
		c.monitorsDegraded,
		c.rebuys,
		c.fallbacks,
		c.exchangeCalls,
		c.exchangeLatency,
		collectors.NewGoCollector(),
	)
	return c
}

// Registry exposes the registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WatchBus exports the bus counters as gauges.
func (c *Collector) WatchBus(bus *events.Bus) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_bus_pending",
			Help:      "Events waiting for delivery",
		}, func() float64 { return float64(bus.Stats().Pending) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_bus_dropped_total",
			Help:      "Events dropped because the queue was full",
		}, func() float64 { return float64(bus.Stats().Dropped) }),
	)
	c.subs = append(c.subs, bus.Subscribe(events.Any, events.HandlerFunc(c.Handle)))
}

// Handle implements events.Handler.
func (c *Collector) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.PositionOpenedEvent:
		c.positionsOpened.WithLabelValues(e.Source).Inc()
	case events.PositionSoldEvent:
		c.positionsSold.WithLabelValues(e.Reason).Inc()
		c.realizedProfit.WithLabelValues(e.UserID).Add(e.Realized.InexactFloat64())
	case events.MonitorStartedEvent:
		c.monitorsActive.Inc()
	case events.MonitorStoppedEvent:
		c.monitorsActive.Dec()
	case events.MonitorDegradedEvent:
		c.monitorsDegraded.Inc()
	case events.RebuyExecutedEvent:
		c.rebuys.WithLabelValues(e.Signal).Inc()
	case events.FallbackExecutedEvent:
		c.fallbacks.Inc()
	}
	return nil
}

// RecordRequest records one exchange call.
func (c *Collector) RecordRequest(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.exchangeCalls.WithLabelValues(op, status).Inc()
	c.exchangeLatency.WithLabelValues(op).Observe(duration.Seconds())
}
