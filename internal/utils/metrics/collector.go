// internal/utils/metrics/collector.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricType identifies a collector inside the registry map.
type MetricType string

const (
	PoolConnectionsType MetricType = "pool_connections"
	PoolAttemptsType    MetricType = "pool_attempts"
	PoolEvictionsType   MetricType = "pool_evictions"
	TradesType          MetricType = "trades"
	BalanceType         MetricType = "balance"
	ValidationsType     MetricType = "price_validations"
)

const namespace = "paper_trader"

// Collector owns the prometheus collectors of the trader. A nil *Collector is
// valid and records nothing, so components can run without metrics.
type Collector struct {
	metrics sync.Map

	poolConnections *prometheus.GaugeVec
	poolAttempts    *prometheus.CounterVec
	poolEvictions   prometheus.Counter
	trades          *prometheus.CounterVec
	balance         prometheus.Gauge
	validations     *prometheus.CounterVec
}

// NewCollector creates the collectors and registers them on reg.
// Passing nil registers on prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		poolConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_connections",
				Help:      "Number of pooled datastore connections by state",
			},
			[]string{"state"},
		),
		poolAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_attempts_total",
				Help:      "Retried query attempts by outcome",
			},
			[]string{"outcome"},
		),
		poolEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_evictions_total",
				Help:      "Connections evicted after a connection-class failure",
			},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Simulated trades by side and status",
			},
			[]string{"side", "status"},
		),
		balance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "virtual_balance_sol",
				Help:      "Most recent virtual SOL balance",
			},
		),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "price_validations_total",
				Help:      "Price validations by result and reason",
			},
			[]string{"result", "reason"},
		),
	}

	metricsMap := map[MetricType]prometheus.Collector{
		PoolConnectionsType: c.poolConnections,
		PoolAttemptsType:    c.poolAttempts,
		PoolEvictionsType:   c.poolEvictions,
		TradesType:          c.trades,
		BalanceType:         c.balance,
		ValidationsType:     c.validations,
	}

	for metricType, metric := range metricsMap {
		c.metrics.Store(metricType, metric)
		reg.MustRegister(metric)
	}

	return c
}

// Reset clears all vector metrics (useful in tests).
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.metrics.Range(func(_, value interface{}) bool {
		switch m := value.(type) {
		case *prometheus.CounterVec:
			m.Reset()
		case *prometheus.GaugeVec:
			m.Reset()
		}
		return true
	})
}
