package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chainwatch/internal/feature"
	"github.com/yourorg/chainwatch/internal/model"
)

func TestComputeProfile(t *testing.T) {
	records := make([]model.TransactionRecord, 100)
	for i := range records {
		records[i] = model.TransactionRecord{
			Value:    float64(i + 1),
			Gas:      float64((i + 1) * 10),
			GasPrice: float64((i + 1) * 100),
		}
	}

	p := ComputeProfile(feature.Build(records))
	assert.InDelta(t, 95.05, p.Value, 1e-9)
	assert.InDelta(t, 950.5, p.Gas, 1e-9)
	assert.InDelta(t, 9505.0, p.GasPrice, 1e-9)
	// value_per_gas is constant 0.1 across all rows
	assert.InDelta(t, 0.1, p.ValuePerGas, 1e-9)
}

func TestClassify(t *testing.T) {
	profile := Profile{Value: 100, Gas: 50, GasPrice: 10, ValuePerGas: 5}

	tests := []struct {
		name      string
		record    model.TransactionRecord
		wantTypes []string
	}{
		{
			name:      "nothing triggers",
			record:    model.TransactionRecord{Value: 100, Gas: 50, GasPrice: 10},
			wantTypes: []string{model.TypeNormal},
		},
		{
			name:      "high value only",
			record:    model.TransactionRecord{Value: 101, Gas: 40, GasPrice: 1},
			wantTypes: []string{model.TypeHighValue},
		},
		{
			name:      "high gas only",
			record:    model.TransactionRecord{Value: 50, Gas: 60, GasPrice: 1},
			wantTypes: []string{model.TypeHighGas},
		},
		{
			name:      "high gas price only",
			record:    model.TransactionRecord{Value: 1, Gas: 1, GasPrice: 11},
			wantTypes: []string{model.TypeHighGasPrice},
		},
		{
			name:      "unusual ratio only",
			record:    model.TransactionRecord{Value: 60, Gas: 10, GasPrice: 1},
			wantTypes: []string{model.TypeUnusualRatio},
		},
		{
			name:   "all rules match in fixed order",
			record: model.TransactionRecord{Value: 1000, Gas: 100, GasPrice: 100},
			wantTypes: []string{
				model.TypeHighValue,
				model.TypeHighGas,
				model.TypeHighGasPrice,
				model.TypeUnusualRatio,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.record, profile)
			require.NotEmpty(t, got)

			types := make([]string, len(got))
			for i, a := range got {
				types[i] = a.Type
			}
			assert.Equal(t, tt.wantTypes, types)
		})
	}
}

func TestClassifySeverities(t *testing.T) {
	profile := Profile{Value: 1, Gas: 1, GasPrice: 1, ValuePerGas: 1}
	got := Classify(model.TransactionRecord{Value: 10, Gas: 2, GasPrice: 2}, profile)

	require.Len(t, got, 4)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.Equal(t, model.SeverityMedium, got[1].Severity)
	assert.Equal(t, model.SeverityMedium, got[2].Severity)
	assert.Equal(t, model.SeverityLow, got[3].Severity)
}

func TestClassifyNormalEntry(t *testing.T) {
	got := Classify(model.TransactionRecord{}, Profile{Value: 1, Gas: 1, GasPrice: 1, ValuePerGas: 1})
	require.Len(t, got, 1)
	assert.Equal(t, model.TypeNormal, got[0].Type)
	assert.Equal(t, model.SeverityNone, got[0].Severity)
}
