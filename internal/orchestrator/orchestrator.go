// Package orchestrator coordinates model lifecycle and result assembly: load
// the active model, cold-start train when none exists, purge and retrain when
// artifacts are corrupt, and score the request batch.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/chainwatch/internal/config"
	"github.com/yourorg/chainwatch/internal/detector"
	"github.com/yourorg/chainwatch/internal/ingest"
	"github.com/yourorg/chainwatch/internal/model"
	"github.com/yourorg/chainwatch/internal/otel"
	"github.com/yourorg/chainwatch/internal/store"
)

// TransactionSource supplies raw transactions for training when the caller
// provides none.
type TransactionSource interface {
	GetTransactions(ctx context.Context, address string) ([]map[string]any, error)
}

// Orchestrator owns the single logical "current model" slot per model
// directory. A per-directory mutex enforces the single-writer discipline so
// two concurrent cold starts cannot overwrite each other's artifacts.
type Orchestrator struct {
	cfg    config.Config
	source TransactionSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an orchestrator. source may be nil when live fetching is not
// configured; training then requires caller data or an input file.
func New(cfg config.Config, source TransactionSource) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		source: source,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Detect scores a batch of transactions against the model persisted under
// dir. The model used is determined entirely by filesystem state observed at
// call start: a valid snapshot is reused, no snapshot triggers a cold-start
// train on this batch, and corrupt or incomplete artifacts are purged and
// replaced the same way. Corruption is never surfaced to the caller unless
// the retrain itself fails.
func (o *Orchestrator) Detect(ctx context.Context, records []model.TransactionRecord, dir string) ([]model.DetectionResult, error) {
	ctx, span := otel.Tracer().Start(ctx, "orchestrator.Detect")
	defer span.End()
	span.SetAttributes(attribute.Int("transactions", len(records)))

	lock := o.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	scorer, err := o.loadOrTrain(ctx, records, dir)
	if err != nil {
		logrus.Errorf("Detection failed for %s: %v", dir, err)
		return nil, err
	}

	preds, err := scorer.Predict()
	if err != nil {
		logrus.Errorf("Prediction failed: %v", err)
		return nil, err
	}

	return assembleResults(preds, scorer.Thresholds), nil
}

// loadOrTrain resolves the current-model slot for one request.
func (o *Orchestrator) loadOrTrain(ctx context.Context, records []model.TransactionRecord, dir string) (*detector.Scorer, error) {
	scorer, err := store.Load(dir)
	switch {
	case err == nil:
		// Loaded: reuse the trained ensemble, normalizer, and thresholds;
		// only the batch features are rebuilt.
		if err := scorer.Prepare(records); err != nil {
			return nil, err
		}
		return scorer, nil

	case errors.Is(err, store.ErrNoModel):
		logrus.Infof("No model in %s, training on current batch", dir)
		return o.coldStart(records, dir)

	default:
		// Incomplete or corrupt artifacts: recoverable locally. Purge the
		// stale state and fall through to a cold start.
		logrus.Warnf("Could not load model: %v", err)
		if purgeErr := store.Purge(dir); purgeErr != nil {
			logrus.Warnf("Could not purge stale artifacts: %v", purgeErr)
		}
		return o.coldStart(records, dir)
	}
}

// coldStart trains a fresh scorer on the request batch and persists it.
// Persistence failure is logged but does not fail the request; the caller
// still gets results from the freshly trained model.
func (o *Orchestrator) coldStart(records []model.TransactionRecord, dir string) (*detector.Scorer, error) {
	scorer := o.newScorer()
	if err := scorer.Prepare(records); err != nil {
		return nil, err
	}
	if err := scorer.Train(); err != nil {
		return nil, err
	}
	if err := store.Save(scorer, dir); err != nil {
		logrus.Warnf("Model trained but could not be saved: %v", err)
	}
	return scorer, nil
}

// TrainOptions selects the training data source. Exactly one source is used,
// in priority order: Records, InputFile, then a live fetch for Address.
type TrainOptions struct {
	Records   []model.TransactionRecord
	InputFile string
	Address   string
	ModelDir  string
}

// Train builds and persists a fresh model from the first available source.
func (o *Orchestrator) Train(ctx context.Context, opts TrainOptions) (*detector.Scorer, error) {
	ctx, span := otel.Tracer().Start(ctx, "orchestrator.Train")
	defer span.End()

	dir := opts.ModelDir
	if dir == "" {
		dir = o.cfg.ModelDir
	}

	records, err := o.trainingRecords(ctx, opts)
	if err != nil {
		logrus.Errorf("Training failed: %v", err)
		return nil, err
	}

	lock := o.dirLock(dir)
	lock.Lock()
	defer lock.Unlock()

	scorer := o.newScorer()
	if err := scorer.Prepare(records); err != nil {
		logrus.Errorf("Training failed: %v", err)
		return nil, err
	}
	if err := scorer.Train(); err != nil {
		logrus.Errorf("Training failed: %v", err)
		return nil, err
	}
	if err := store.Save(scorer, dir); err != nil {
		logrus.Warnf("Model trained but could not be saved: %v", err)
	}
	return scorer, nil
}

// trainingRecords resolves the training data source; no merging occurs.
func (o *Orchestrator) trainingRecords(ctx context.Context, opts TrainOptions) ([]model.TransactionRecord, error) {
	if len(opts.Records) > 0 {
		return opts.Records, nil
	}

	if opts.InputFile != "" {
		logrus.Infof("Loading transactions from %s for training", opts.InputFile)
		return LoadInputFile(opts.InputFile)
	}

	address := opts.Address
	if address == "" {
		address = o.cfg.EtherscanAddress
	}
	if o.source == nil || address == "" {
		return nil, fmt.Errorf("orchestrator: no training data: no records, input file, or fetch address configured")
	}

	logrus.Infof("Fetching training transactions for %s", address)
	raw, err := o.source.GetTransactions(ctx, address)
	if err != nil {
		return nil, err
	}
	return ingest.Records(raw)
}

// LoadInputFile reads a {"transactions": [...]} JSON file into typed records.
func LoadInputFile(path string) ([]model.TransactionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reading %s: %w", path, err)
	}

	var payload struct {
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("orchestrator: parsing %s: %w", path, err)
	}
	if len(payload.Transactions) == 0 {
		return nil, fmt.Errorf("orchestrator: no transactions found in %s", path)
	}

	return ingest.Records(payload.Transactions)
}

func (o *Orchestrator) newScorer() *detector.Scorer {
	return detector.NewScorer(detector.WithForestOptions(
		detector.WithTrees(o.cfg.TreeCount),
		detector.WithSampleSize(o.cfg.SampleSize),
		detector.WithContamination(o.cfg.Contamination),
		detector.WithSeed(o.cfg.RandomSeed),
	))
}

// dirLock returns the single-writer mutex for a model directory.
func (o *Orchestrator) dirLock(dir string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[dir]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[dir] = lock
	}
	return lock
}

// assembleResults pairs every prediction with its threshold classification.
// Typing never feeds back into the anomaly flag.
func assembleResults(preds []detector.Prediction, profile detector.Profile) []model.DetectionResult {
	results := make([]model.DetectionResult, len(preds))
	for i, p := range preds {
		hash := p.Record.Hash
		if hash == "" {
			hash = "N/A"
		}
		results[i] = model.DetectionResult{
			TransactionHash: hash,
			IsAnomaly:       p.IsAnomaly,
			AnomalyTypes:    detector.Classify(p.Record, profile),
			TransactionDetails: model.TransactionDetails{
				Value:     p.Record.Value,
				Gas:       p.Record.Gas,
				GasPrice:  p.Record.GasPrice,
				Timestamp: p.Record.TimestampString(),
			},
		}
	}
	return results
}
