package detector

import (
	"fmt"

	"github.com/yourorg/chainwatch/internal/feature"
	"github.com/yourorg/chainwatch/internal/model"
)

// Profile holds the per-feature 95th-percentile cutoffs computed from the raw
// (un-normalized) training features. It explains why a transaction looks
// unusual; it never decides the binary anomaly flag.
type Profile struct {
	Value       float64 `json:"value"`
	Gas         float64 `json:"gas"`
	GasPrice    float64 `json:"gasPrice"`
	ValuePerGas float64 `json:"value_per_gas"`
}

// thresholdPercentile is where the typing cutoffs sit in the training
// distribution.
const thresholdPercentile = 95

// ComputeProfile derives typing cutoffs from a training feature matrix.
func ComputeProfile(m *feature.Matrix) Profile {
	return Profile{
		Value:       percentile(m.Column(0), thresholdPercentile),
		Gas:         percentile(m.Column(1), thresholdPercentile),
		GasPrice:    percentile(m.Column(2), thresholdPercentile),
		ValuePerGas: percentile(m.Column(3), thresholdPercentile),
	}
}

// Classify evaluates the typing rules against a record, in fixed order. Rules
// are not mutually exclusive; every match is included. When nothing matches
// the result is exactly one "normal" entry, so the list is never empty.
//
// Classification is independent of the ensemble decision: a row the forest
// flags can still classify as normal and vice versa.
func Classify(r model.TransactionRecord, p Profile) []model.AnomalyType {
	var types []model.AnomalyType

	if r.Value > p.Value {
		types = append(types, model.AnomalyType{
			Type:     model.TypeHighValue,
			Severity: model.SeverityHigh,
			Details:  fmt.Sprintf("Transaction value (%g) exceeds threshold (%g)", r.Value, p.Value),
		})
	}
	if r.Gas > p.Gas {
		types = append(types, model.AnomalyType{
			Type:     model.TypeHighGas,
			Severity: model.SeverityMedium,
			Details:  fmt.Sprintf("Gas usage (%g) exceeds threshold (%g)", r.Gas, p.Gas),
		})
	}
	if r.GasPrice > p.GasPrice {
		types = append(types, model.AnomalyType{
			Type:     model.TypeHighGasPrice,
			Severity: model.SeverityMedium,
			Details:  fmt.Sprintf("Gas price (%g) exceeds threshold (%g)", r.GasPrice, p.GasPrice),
		})
	}
	if r.ValuePerGas() > p.ValuePerGas {
		types = append(types, model.AnomalyType{
			Type:     model.TypeUnusualRatio,
			Severity: model.SeverityLow,
			Details:  fmt.Sprintf("Value/gas ratio (%g) is unusually high", r.ValuePerGas()),
		})
	}

	if len(types) == 0 {
		return []model.AnomalyType{model.NormalType()}
	}
	return types
}
