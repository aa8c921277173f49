// Package feature synthesizes the numeric feature matrix the detector trains on.
package feature

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chainwatch/internal/model"
)

// Columns is the fixed feature column order. The detector, the threshold
// profile, and persisted artifacts all depend on this order.
var Columns = []string{"value", "gas", "gasPrice", "value_per_gas", "total_gas_cost"}

// Matrix holds one feature row per input record, in input order.
type Matrix struct {
	Rows [][]float64
}

// Len returns the number of rows.
func (m *Matrix) Len() int {
	return len(m.Rows)
}

// Column extracts a single feature column by index.
func (m *Matrix) Column(idx int) []float64 {
	col := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		col[i] = row[idx]
	}
	return col
}

// Build converts records into a feature matrix. Records are already typed and
// coerced, so this is a pure transform; empty input yields an empty matrix
// with a warning rather than an error.
func Build(records []model.TransactionRecord) *Matrix {
	if len(records) == 0 {
		logrus.Warn("Cannot build features: no records")
		return &Matrix{}
	}

	rows := make([][]float64, len(records))
	for i, r := range records {
		rows[i] = []float64{
			r.Value,
			r.Gas,
			r.GasPrice,
			r.ValuePerGas(),
			r.TotalGasCost(),
		}
	}
	return &Matrix{Rows: rows}
}
