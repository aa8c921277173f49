package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yourorg/chainwatch/internal/model"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		records  []model.TransactionRecord
		wantRows int
	}{
		{
			name:     "empty input",
			records:  nil,
			wantRows: 0,
		},
		{
			name: "single record",
			records: []model.TransactionRecord{
				{Hash: "0x1", Value: 1e18, Gas: 21000, GasPrice: 5e10},
			},
			wantRows: 1,
		},
		{
			name: "row count matches input count",
			records: []model.TransactionRecord{
				{Value: 1, Gas: 2, GasPrice: 3},
				{Value: 4, Gas: 5, GasPrice: 6},
				{Value: 7, Gas: 8, GasPrice: 9},
			},
			wantRows: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Build(tt.records)
			assert.Equal(t, tt.wantRows, m.Len())
			for _, row := range m.Rows {
				assert.Len(t, row, len(Columns))
			}
		})
	}
}

func TestBuildDerivedColumns(t *testing.T) {
	m := Build([]model.TransactionRecord{
		{Value: 1e18, Gas: 21000, GasPrice: 5e10},
	})

	row := m.Rows[0]
	assert.Equal(t, 1e18, row[0])
	assert.Equal(t, 21000.0, row[1])
	assert.Equal(t, 5e10, row[2])
	assert.Equal(t, 1e18/21000, row[3])
	assert.Equal(t, 21000*5e10, row[4])
}

func TestBuildZeroGas(t *testing.T) {
	m := Build([]model.TransactionRecord{
		{Value: 1e18, Gas: 0, GasPrice: 5e10},
	})

	// No division fault: value_per_gas is 0 when gas is 0
	assert.Equal(t, 0.0, m.Rows[0][3])
	assert.Equal(t, 0.0, m.Rows[0][4])
}

func TestColumn(t *testing.T) {
	m := Build([]model.TransactionRecord{
		{Value: 1, Gas: 10, GasPrice: 100},
		{Value: 2, Gas: 20, GasPrice: 200},
	})

	assert.Equal(t, []float64{1, 2}, m.Column(0))
	assert.Equal(t, []float64{10, 20}, m.Column(1))
	assert.Equal(t, []float64{100, 200}, m.Column(2))
}
