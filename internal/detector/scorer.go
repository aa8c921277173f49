package detector

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/chainwatch/internal/feature"
	"github.com/yourorg/chainwatch/internal/model"
)

// Scorer owns the isolation forest, the feature scaler, and the threshold
// profile as a single unit. A scorer is either fully trained or fully
// untrained; Prepare/Train/Predict enforce that sequencing.
type Scorer struct {
	Forest     *Forest
	Scaler     *StandardScaler
	Thresholds Profile

	records  []model.TransactionRecord
	features *feature.Matrix
	scaled   [][]float64
	trained  bool
}

// ScorerOption configures a new Scorer.
type ScorerOption func(*Scorer)

// WithForestOptions forwards configuration to the underlying forest.
func WithForestOptions(opts ...ForestOption) ScorerOption {
	return func(s *Scorer) {
		for _, opt := range opts {
			opt(s.Forest)
		}
	}
}

// NewScorer creates an untrained scorer.
func NewScorer(opts ...ScorerOption) *Scorer {
	s := &Scorer{
		Forest: NewForest(),
		Scaler: &StandardScaler{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore reassembles a trained scorer from persisted artifacts.
func Restore(forest *Forest, scaler *StandardScaler, thresholds Profile) *Scorer {
	forest.MarkTrained()
	return &Scorer{
		Forest:     forest,
		Scaler:     scaler,
		Thresholds: thresholds,
		trained:    true,
	}
}

// Prepare builds the feature matrix for a batch and stores its normalized
// form. On an untrained scorer the scaler is fitted to the batch; a trained
// scorer reuses its fitted normalizer unchanged.
func (s *Scorer) Prepare(records []model.TransactionRecord) error {
	if len(records) == 0 {
		return ErrEmptyInput
	}

	s.records = records
	s.features = feature.Build(records)

	var err error
	if s.trained {
		s.scaled, err = s.Scaler.Transform(s.features.Rows)
	} else {
		s.scaled, err = s.Scaler.FitTransform(s.features.Rows)
	}
	if err != nil {
		return err
	}

	logrus.Debugf("Prepared %d feature rows", s.features.Len())
	return nil
}

// Train fits the forest on the prepared normalized features and freezes the
// threshold profile from the raw feature values.
func (s *Scorer) Train() error {
	if len(s.scaled) == 0 {
		return ErrNotPrepared
	}

	logrus.Info("Training isolation forest")
	if err := s.Forest.Fit(s.scaled); err != nil {
		return err
	}

	s.Thresholds = ComputeProfile(s.features)
	s.trained = true
	logrus.WithFields(logrus.Fields{
		"trees":  s.Forest.TreeCount,
		"rows":   len(s.scaled),
		"cutoff": s.Forest.Cutoff,
	}).Info("Model training completed")
	return nil
}

// Prediction is the scorer output for one prepared record.
type Prediction struct {
	Record    model.TransactionRecord
	Score     float64
	IsAnomaly bool
}

// Predict applies the trained forest to the prepared batch.
func (s *Scorer) Predict() ([]Prediction, error) {
	if !s.trained {
		return nil, ErrNotTrained
	}
	if len(s.scaled) == 0 {
		return nil, ErrNotPrepared
	}

	scores, err := s.Forest.Score(s.scaled)
	if err != nil {
		return nil, err
	}

	preds := make([]Prediction, len(scores))
	anomalies := 0
	for i, score := range scores {
		preds[i] = Prediction{
			Record:    s.records[i],
			Score:     score,
			IsAnomaly: s.Forest.IsAnomalous(score),
		}
		if preds[i].IsAnomaly {
			anomalies++
		}
	}

	logrus.Infof("Detected %d anomalous transactions out of %d total", anomalies, len(preds))
	return preds, nil
}

// Trained reports whether the scorer holds a fitted model.
func (s *Scorer) Trained() bool {
	return s.trained
}
