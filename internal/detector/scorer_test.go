package detector

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/chainwatch/internal/model"
)

func testScorer() *Scorer {
	return NewScorer(WithForestOptions(
		WithTrees(50),
		WithSampleSize(64),
		WithContamination(0.01),
		WithSeed(42),
	))
}

// uniformBatch builds records with near-identical values plus optional
// variation so scores are distinct.
func uniformBatch(n int) []model.TransactionRecord {
	records := make([]model.TransactionRecord, n)
	for i := range records {
		records[i] = model.TransactionRecord{
			Hash:     fmt.Sprintf("0x%064x", i+1),
			Value:    1e18 * (1 + float64(i)*0.001),
			Gas:      21000,
			GasPrice: 5e10,
		}
	}
	return records
}

func TestScorerSequencing(t *testing.T) {
	s := testScorer()

	assert.ErrorIs(t, s.Prepare(nil), ErrEmptyInput)
	assert.ErrorIs(t, s.Train(), ErrNotPrepared)

	_, err := s.Predict()
	assert.ErrorIs(t, err, ErrNotTrained)

	require.NoError(t, s.Prepare(uniformBatch(10)))
	_, err = s.Predict()
	assert.ErrorIs(t, err, ErrNotTrained)

	require.NoError(t, s.Train())
	assert.True(t, s.Trained())

	preds, err := s.Predict()
	require.NoError(t, err)
	assert.Len(t, preds, 10)
}

func TestScorerSingleTransaction(t *testing.T) {
	// A model trained on one point cannot isolate outliers meaningfully
	s := testScorer()
	require.NoError(t, s.Prepare([]model.TransactionRecord{
		{Hash: "0xabc", Value: 1e18, Gas: 21000, GasPrice: 5e10},
	}))
	require.NoError(t, s.Train())

	preds, err := s.Predict()
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.False(t, preds[0].IsAnomaly)

	types := Classify(preds[0].Record, s.Thresholds)
	require.Len(t, types, 1)
	assert.Equal(t, model.TypeNormal, types[0].Type)
}

func TestScorerFlagsExtremeValue(t *testing.T) {
	records := uniformBatch(100)
	extreme := model.TransactionRecord{
		Hash:     "0xfff",
		Value:    1e23,
		Gas:      21000,
		GasPrice: 5e10,
	}
	records = append(records, extreme)

	s := testScorer()
	require.NoError(t, s.Prepare(records))
	require.NoError(t, s.Train())

	preds, err := s.Predict()
	require.NoError(t, err)
	require.Len(t, preds, 101)

	last := preds[100]
	assert.True(t, last.IsAnomaly, "extreme value row should be flagged")

	types := Classify(last.Record, s.Thresholds)
	found := false
	for _, a := range types {
		if a.Type == model.TypeHighValue {
			found = true
		}
	}
	assert.True(t, found, "high_value_transaction should be among anomaly types")
}

func TestScorerDeterministicTraining(t *testing.T) {
	records := uniformBatch(100)

	a := testScorer()
	require.NoError(t, a.Prepare(records))
	require.NoError(t, a.Train())

	b := testScorer()
	require.NoError(t, b.Prepare(records))
	require.NoError(t, b.Train())

	assert.Equal(t, a.Thresholds, b.Thresholds)
	assert.Equal(t, a.Forest.Cutoff, b.Forest.Cutoff)

	predsA, err := a.Predict()
	require.NoError(t, err)
	predsB, err := b.Predict()
	require.NoError(t, err)
	require.Len(t, predsB, len(predsA))
	for i := range predsA {
		assert.Equal(t, predsA[i].Score, predsB[i].Score)
		assert.Equal(t, predsA[i].IsAnomaly, predsB[i].IsAnomaly)
	}
}

func TestScorerPrepareOnTrainedReusesScaler(t *testing.T) {
	s := testScorer()
	require.NoError(t, s.Prepare(uniformBatch(50)))
	require.NoError(t, s.Train())

	means := append([]float64(nil), s.Scaler.Means...)

	// Preparing a new batch on a trained scorer must not refit the scaler
	require.NoError(t, s.Prepare(uniformBatch(10)))
	assert.Equal(t, means, s.Scaler.Means)
}
