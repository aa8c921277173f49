// Package model defines the core data structures for chainwatch.
package model

import "strconv"

// TransactionRecord is a single on-chain transaction after ingestion.
// All numeric fields are already coerced; a record is immutable once built.
type TransactionRecord struct {
	// Hash is the canonical 0x-prefixed transaction hash
	Hash string `json:"hash"`

	// TimeStamp is the block timestamp in Unix seconds (0 when unknown)
	TimeStamp int64 `json:"timeStamp"`

	// Value is the transferred amount in wei
	Value float64 `json:"value"`

	// Gas is the gas limit of the transaction
	Gas float64 `json:"gas"`

	// GasPrice is the gas price in wei
	GasPrice float64 `json:"gasPrice"`
}

// ValuePerGas returns the value transferred per unit of gas.
// Zero gas yields zero rather than a division fault.
func (r TransactionRecord) ValuePerGas() float64 {
	if r.Gas > 0 {
		return r.Value / r.Gas
	}
	return 0
}

// TotalGasCost returns the maximum fee the sender committed to.
func (r TransactionRecord) TotalGasCost() float64 {
	return r.Gas * r.GasPrice
}

// TimestampString renders the record timestamp the way results carry it.
func (r TransactionRecord) TimestampString() string {
	if r.TimeStamp == 0 {
		return "N/A"
	}
	return strconv.FormatInt(r.TimeStamp, 10)
}

// Severity levels for anomaly types
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
	SeverityNone   = "none"
)

// Anomaly type identifiers
const (
	TypeHighValue    = "high_value_transaction"
	TypeHighGas      = "high_gas_consumption"
	TypeHighGasPrice = "high_gas_price"
	TypeUnusualRatio = "unusual_value_gas_ratio"
	TypeNormal       = "normal"
)

// AnomalyType describes one reason a transaction looks unusual.
type AnomalyType struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
}

// NormalType returns the entry used when no typing rule triggers.
func NormalType() AnomalyType {
	return AnomalyType{
		Type:     TypeNormal,
		Severity: SeverityNone,
		Details:  "No anomalies detected",
	}
}

// TransactionDetails is the snapshot of input fields echoed back with a result.
type TransactionDetails struct {
	Value     float64 `json:"value"`
	Gas       float64 `json:"gas"`
	GasPrice  float64 `json:"gasPrice"`
	Timestamp string  `json:"timestamp"`
}

// DetectionResult is the per-transaction output of the detection engine.
// AnomalyTypes is never empty; a clean row carries a single "normal" entry.
type DetectionResult struct {
	TransactionHash    string             `json:"transaction_hash"`
	IsAnomaly          bool               `json:"is_anomaly"`
	AnomalyTypes       []AnomalyType      `json:"anomaly_types"`
	TransactionDetails TransactionDetails `json:"transaction_details"`
}
