// internal/utils/metrics/metrics.go
package metrics

import (
	"github.com/shopspring/decimal"
)

// SetPoolConnections publishes the pool bookkeeping counts.
func (c *Collector) SetPoolConnections(idle, inUse int) {
	if c == nil {
		return
	}
	c.poolConnections.WithLabelValues("idle").Set(float64(idle))
	c.poolConnections.WithLabelValues("in_use").Set(float64(inUse))
}

// RecordAttempt counts one retried query attempt. outcome is "success",
// "failure" or "timeout".
func (c *Collector) RecordAttempt(outcome string) {
	if c == nil {
		return
	}
	c.poolAttempts.WithLabelValues(outcome).Inc()
}

// RecordEviction counts an evicted connection.
func (c *Collector) RecordEviction() {
	if c == nil {
		return
	}
	c.poolEvictions.Inc()
}

// RecordTrade counts a ledger mutation. side is "buy" or "sell", status is
// "committed", "failed" or "rejected".
func (c *Collector) RecordTrade(side, status string) {
	if c == nil {
		return
	}
	c.trades.WithLabelValues(side, status).Inc()
}

// SetBalance publishes the latest virtual balance.
func (c *Collector) SetBalance(balance decimal.Decimal) {
	if c == nil {
		return
	}
	c.balance.Set(balance.InexactFloat64())
}

// RecordValidation counts a price validation verdict.
func (c *Collector) RecordValidation(valid bool, reason string) {
	if c == nil {
		return
	}
	result := "accepted"
	if !valid {
		result = "rejected"
	}
	c.validations.WithLabelValues(result, reason).Inc()
}
