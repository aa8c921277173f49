package detector

import (
	"fmt"
	"math"
)

// StandardScaler rescales each feature column to zero mean and unit variance.
// It is fitted once on training data and reapplied identically at inference.
type StandardScaler struct {
	Means   []float64
	Scales  []float64
	Columns int
}

// Fit computes per-column mean and standard deviation.
func (s *StandardScaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return ErrEmptyInput
	}

	s.Columns = len(rows[0])
	s.Means = make([]float64, s.Columns)
	s.Scales = make([]float64, s.Columns)

	n := float64(len(rows))
	for _, row := range rows {
		for j, v := range row {
			s.Means[j] += v
		}
	}
	for j := range s.Means {
		s.Means[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - s.Means[j]
			s.Scales[j] += d * d
		}
	}
	for j := range s.Scales {
		s.Scales[j] = math.Sqrt(s.Scales[j] / n)
		// Constant columns pass through unscaled instead of dividing by zero
		if s.Scales[j] == 0 {
			s.Scales[j] = 1
		}
	}

	return nil
}

// Transform applies the fitted rescaling to rows, returning a new matrix.
func (s *StandardScaler) Transform(rows [][]float64) ([][]float64, error) {
	if s.Columns == 0 {
		return nil, ErrNotPrepared
	}

	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != s.Columns {
			return nil, fmt.Errorf("detector: row has %d columns, scaler fitted on %d", len(row), s.Columns)
		}
		scaled := make([]float64, s.Columns)
		for j, v := range row {
			scaled[j] = (v - s.Means[j]) / s.Scales[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// FitTransform fits the scaler and transforms the same rows.
func (s *StandardScaler) FitTransform(rows [][]float64) ([][]float64, error) {
	if err := s.Fit(rows); err != nil {
		return nil, err
	}
	return s.Transform(rows)
}
