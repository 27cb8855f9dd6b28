package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TradesTotal       *prometheus.CounterVec
	TradeDuration     *prometheus.HistogramVec
	TradedValue       *prometheus.CounterVec
	BalanceLookups    *prometheus.CounterVec
	EventPublishTotal *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_trades_total",
				Help: "Total trades by side and outcome code.",
			},
			[]string{"side", "result"},
		),
		TradeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trading_trade_duration_seconds",
				Help:    "Trade execution duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"side"},
		),
		TradedValue: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_traded_value_total",
				Help: "Cash moved by completed trades.",
			},
			[]string{"side"},
		),
		BalanceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_balance_lookups_total",
				Help: "Total balance lookups.",
			},
			[]string{"status"},
		),
		EventPublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trading_event_publish_total",
				Help: "Trade event publish attempts.",
			},
			[]string{"status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.TradesTotal,
			m.TradeDuration,
			m.TradedValue,
			m.BalanceLookups,
			m.EventPublishTotal,
		)
	}
	return m
}

func (m *Metrics) ObserveTrade(side, result string, amount float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(side, result).Inc()
	m.TradeDuration.WithLabelValues(side).Observe(duration.Seconds())
	if result == "ok" {
		m.TradedValue.WithLabelValues(side).Add(amount)
	}
}

func (m *Metrics) IncBalanceLookup(status string) {
	if m == nil {
		return
	}
	m.BalanceLookups.WithLabelValues(status).Inc()
}

func (m *Metrics) IncEventPublish(status string) {
	if m == nil {
		return
	}
	m.EventPublishTotal.WithLabelValues(status).Inc()
}
