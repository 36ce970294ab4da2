// internal/storage/models/base.go
package models

// All monetary and quantity columns are TEXT holding a decimal string and all
// timestamps are INTEGER unix milliseconds.

// All returns every model managed by the ledger, in migration order.
func All() []interface{} {
	return []interface{}{
		&VirtualBalance{},
		&SimulatedTrade{},
		&TokenTracking{},
	}
}
