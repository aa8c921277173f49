// Package detector implements the isolation-forest scoring engine and the
// threshold-based anomaly typing built on top of it.
package detector

import (
	"errors"
	"math"
	"math/rand"
)

// Sentinel errors for scorer sequencing. Hitting one of these is a caller
// bug, not a data condition.
var (
	ErrEmptyInput  = errors.New("detector: no input records")
	ErrNotPrepared = errors.New("detector: features not prepared, call Prepare first")
	ErrNotTrained  = errors.New("detector: model not trained, call Train first")
)

// Forest is an ensemble of randomized isolation trees. Points isolated in
// fewer random splits score closer to 1 and are considered more anomalous.
//
// All persisted state is in exported fields so the whole struct round-trips
// through gob.
type Forest struct {
	// TreeCount is the number of trees in the ensemble
	TreeCount int

	// SampleSize is the subsample drawn per tree
	SampleSize int

	// Contamination is the expected anomaly fraction in the training set
	Contamination float64

	// Cutoff is the score above which a point is anomalous, set during Fit
	// from the training score distribution
	Cutoff float64

	// RefPathLength is c(SampleSize), the normalization constant for scores
	RefPathLength float64

	// Trees holds the fitted ensemble
	Trees []*Tree

	rng     *rand.Rand
	trained bool
}

// Tree is a single isolation tree.
type Tree struct {
	Root *TreeNode
}

// TreeNode is one split (or leaf) of an isolation tree. Leaves have nil
// children and record how many training samples reached them.
type TreeNode struct {
	SplitFeature int
	SplitValue   float64
	Left         *TreeNode
	Right        *TreeNode
	Size         int
}

// ForestOption configures a Forest.
type ForestOption func(*Forest)

// WithTrees sets the ensemble size. Non-positive values keep the default.
func WithTrees(n int) ForestOption {
	return func(f *Forest) {
		if n > 0 {
			f.TreeCount = n
		}
	}
}

// WithSampleSize sets the per-tree subsample size. Non-positive values keep
// the default.
func WithSampleSize(n int) ForestOption {
	return func(f *Forest) {
		if n > 0 {
			f.SampleSize = n
		}
	}
}

// WithContamination sets the expected anomaly fraction. Values outside (0, 1)
// keep the default.
func WithContamination(c float64) ForestOption {
	return func(f *Forest) {
		if c > 0 && c < 1 {
			f.Contamination = c
		}
	}
}

// WithSeed fixes the random source so repeated training on identical input
// yields an identical ensemble.
func WithSeed(seed int64) ForestOption {
	return func(f *Forest) { f.rng = rand.New(rand.NewSource(seed)) }
}

// NewForest creates an untrained Forest with the given options.
func NewForest(opts ...ForestOption) *Forest {
	f := &Forest{
		TreeCount:     100,
		SampleSize:    256,
		Contamination: 0.01,
		rng:           rand.New(rand.NewSource(42)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit trains the ensemble on the given samples and derives the decision
// cutoff so the expected training outlier rate equals Contamination.
func (f *Forest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}

	nSamples := len(data)
	nFeatures := len(data[0])

	sampleSize := f.SampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f.Trees = make([]*Tree, f.TreeCount)
	for i := 0; i < f.TreeCount; i++ {
		indices := f.rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		f.Trees[i] = &Tree{Root: f.grow(sample, nFeatures, 0, maxDepth)}
	}

	f.RefPathLength = unsuccessfulSearchLength(float64(sampleSize))
	f.trained = true

	scores := f.scoreAll(data)
	f.Cutoff = percentile(scores, 100*(1-f.Contamination))

	return nil
}

// grow recursively builds one isolation tree over a subsample.
func (f *Forest) grow(data [][]float64, nFeatures, depth, maxDepth int) *TreeNode {
	n := len(data)
	if depth >= maxDepth || n <= 1 {
		return &TreeNode{Size: n}
	}

	split := f.rng.Intn(nFeatures)

	minVal, maxVal := data[0][split], data[0][split]
	for _, row := range data[1:] {
		if row[split] < minVal {
			minVal = row[split]
		}
		if row[split] > maxVal {
			maxVal = row[split]
		}
	}
	if minVal == maxVal {
		return &TreeNode{Size: n}
	}

	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range data {
		if row[split] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &TreeNode{
		SplitFeature: split,
		SplitValue:   splitValue,
		Left:         f.grow(left, nFeatures, depth+1, maxDepth),
		Right:        f.grow(right, nFeatures, depth+1, maxDepth),
	}
}

// Score returns anomaly scores in (0, 1] for the given samples.
func (f *Forest) Score(data [][]float64) ([]float64, error) {
	if !f.trained {
		return nil, ErrNotTrained
	}
	return f.scoreAll(data), nil
}

// ScoreOne returns the anomaly score for a single sample.
func (f *Forest) ScoreOne(sample []float64) (float64, error) {
	if !f.trained {
		return 0, ErrNotTrained
	}
	return f.scoreOne(sample), nil
}

// IsAnomalous reports whether a score falls past the fitted cutoff. The
// comparison is strict so a degenerate single-point training set never flags
// its own point.
func (f *Forest) IsAnomalous(score float64) bool {
	return score > f.Cutoff
}

func (f *Forest) scoreAll(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.scoreOne(sample)
	}
	return scores
}

func (f *Forest) scoreOne(sample []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(sample, tree.Root, 0)
	}
	avgPath := total / float64(len(f.Trees))

	// Degenerate ensemble (single training point): no path can isolate
	// anything, so every sample gets the indifferent score.
	if f.RefPathLength <= 0 {
		return 0.5
	}

	// s = 2^(-E(h)/c(n)); shorter isolation paths give scores near 1
	return math.Pow(2, -avgPath/f.RefPathLength)
}

// Trained reports whether Fit completed.
func (f *Forest) Trained() bool {
	return f.trained
}

// MarkTrained restores the trained flag after deserialization.
func (f *Forest) MarkTrained() {
	f.trained = true
}

// pathLength walks a sample down one tree, adding the expected remaining
// depth at the leaf it lands in.
func pathLength(sample []float64, n *TreeNode, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + unsuccessfulSearchLength(float64(n.Size))
	}
	if sample[n.SplitFeature] < n.SplitValue {
		return pathLength(sample, n.Left, depth+1)
	}
	return pathLength(sample, n.Right, depth+1)
}

// unsuccessfulSearchLength is c(n), the average path length of an
// unsuccessful BST search, used to normalize isolation depths.
func unsuccessfulSearchLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	const eulerMascheroni = 0.5772156649
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}
