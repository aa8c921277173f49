// Package ingest converts raw explorer transaction objects into typed records.
// It is the single boundary where untrusted fields are validated and coerced;
// everything downstream works on model.TransactionRecord only.
package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chainwatch/internal/model"
)

// requiredFields must be present somewhere in the batch for feature synthesis
// to be meaningful.
var requiredFields = []string{"value", "gas", "gasPrice"}

// SchemaError reports required fields absent from an entire batch.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// Records validates and coerces a batch of raw transaction objects.
//
// A required field counts as present when at least one row carries it; rows
// with unparseable numeric values coerce to 0 rather than fail. Duplicate
// hashes are dropped, keeping the first occurrence.
func Records(raw []map[string]any) ([]model.TransactionRecord, error) {
	if missing := missingFields(raw); len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	records := make([]model.TransactionRecord, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	dropped := 0

	for _, tx := range raw {
		rec := model.TransactionRecord{
			Hash:      canonicalHash(asString(tx["hash"])),
			TimeStamp: asInt64(tx["timeStamp"]),
			Value:     asFloat(tx["value"]),
			Gas:       asFloat(tx["gas"]),
			GasPrice:  asFloat(tx["gasPrice"]),
		}

		if rec.Hash != "" {
			if _, dup := seen[rec.Hash]; dup {
				dropped++
				continue
			}
			seen[rec.Hash] = struct{}{}
		}
		records = append(records, rec)
	}

	if dropped > 0 {
		logrus.Debugf("Dropped %d duplicate transactions during ingestion", dropped)
	}
	return records, nil
}

// missingFields returns required fields that no row in the batch carries.
func missingFields(raw []map[string]any) []string {
	if len(raw) == 0 {
		return nil
	}

	var missing []string
	for _, field := range requiredFields {
		found := false
		for _, tx := range raw {
			if _, ok := tx[field]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, field)
		}
	}
	return missing
}

// canonicalHash normalizes full-length transaction hashes to their checksum
// form. Anything that is not a 32-byte hex string passes through unchanged so
// callers can still correlate results with their own identifiers.
func canonicalHash(h string) string {
	if b, err := hexutil.Decode(h); err == nil && len(b) == common.HashLength {
		return common.BytesToHash(b).Hex()
	}
	return h
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

// asFloat coerces explorer values to float64, defaulting to 0 on anything
// unparseable. Explorer APIs return numerics as decimal strings. ParseFloat
// accepts "NaN" and "Inf" spellings, but non-finite values would poison the
// scaler's column statistics, so they coerce to 0 like any other junk input.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return finite(f)
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return finite(f)
		}
	}
	return 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(finite(n))
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int64(finite(f))
		}
	}
	return 0
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
