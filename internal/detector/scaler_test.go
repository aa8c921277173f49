package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardScaler(t *testing.T) {
	s := &StandardScaler{}
	rows := [][]float64{
		{1, 10},
		{2, 20},
		{3, 30},
	}

	scaled, err := s.FitTransform(rows)
	require.NoError(t, err)
	require.Len(t, scaled, 3)

	// Each column is zero-mean, unit-variance
	for j := 0; j < 2; j++ {
		var mean, variance float64
		for _, row := range scaled {
			mean += row[j]
		}
		mean /= 3
		for _, row := range scaled {
			variance += (row[j] - mean) * (row[j] - mean)
		}
		variance /= 3

		assert.InDelta(t, 0, mean, 1e-12)
		assert.InDelta(t, 1, variance, 1e-12)
	}
}

func TestStandardScalerConstantColumn(t *testing.T) {
	s := &StandardScaler{}
	scaled, err := s.FitTransform([][]float64{
		{5, 1},
		{5, 2},
	})
	require.NoError(t, err)

	// Constant column centers to zero without dividing by zero
	for _, row := range scaled {
		assert.False(t, math.IsNaN(row[0]))
		assert.Equal(t, 0.0, row[0])
	}
}

func TestStandardScalerErrors(t *testing.T) {
	s := &StandardScaler{}
	assert.ErrorIs(t, s.Fit(nil), ErrEmptyInput)

	_, err := s.Transform([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotPrepared)

	require.NoError(t, s.Fit([][]float64{{1, 2}}))
	_, err = s.Transform([][]float64{{1, 2, 3}})
	assert.Error(t, err)
}

func TestStandardScalerReapplies(t *testing.T) {
	s := &StandardScaler{}
	require.NoError(t, s.Fit([][]float64{{0}, {10}}))

	// Transform on new data reuses the fitted parameters
	out, err := s.Transform([][]float64{{5}, {20}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[0][0])
	assert.Equal(t, 3.0, out[1][0])
}
