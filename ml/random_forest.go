package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RandomForest is a bagged ensemble of gini decision trees. Each tree gets
// its own seed drawn up front from Seed, so training is reproducible no
// matter how the trees are scheduled across workers.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int // 0 means sqrt(features)
	Seed            int64
	Workers         int

	trees       []*DecisionTree
	numClasses  int
	numFeatures int
}

type forestFile struct {
	NEstimators     int          `json:"n_estimators"`
	MaxDepth        int          `json:"max_depth"`
	MinSamplesSplit int          `json:"min_samples_split"`
	MaxFeatures     int          `json:"max_features"`
	Seed            int64        `json:"seed"`
	NumClasses      int          `json:"num_classes"`
	NumFeatures     int          `json:"num_features"`
	Trees           [][]TreeNode `json:"trees"`
}

func NewRandomForest(nEstimators int, seed int64) *RandomForest {
	return &RandomForest{
		NEstimators:     nEstimators,
		MinSamplesSplit: 2,
		Seed:            seed,
	}
}

func (rf *RandomForest) Train(features [][]float64, labels []int) error {
	numClasses, err := validateTrainingData(features, labels)
	if err != nil {
		return err
	}
	if rf.NEstimators <= 0 {
		rf.NEstimators = 100
	}
	numFeatures := len(features[0])
	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(numFeatures)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}
	workers := rf.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	master := rand.New(rand.NewSource(rf.Seed))
	seeds := make([]int64, rf.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*DecisionTree, rf.NEstimators)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			tree := &DecisionTree{
				MaxDepth:        rf.MaxDepth,
				MinSamplesSplit: rf.MinSamplesSplit,
				MaxFeatures:     maxFeatures,
				Seed:            seeds[i],
			}
			if err := tree.fit(features, labels, bootstrap(len(features), rng), numClasses, rng); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.trees = trees
	rf.numClasses = numClasses
	rf.numFeatures = numFeatures
	return nil
}

func bootstrap(n int, rng *rand.Rand) []int {
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.Intn(n)
	}
	return sample
}

// Predict returns the class with the highest mean tree probability and
// that probability. Ties go to the lowest code.
func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	proba, err := rf.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(proba)
	return label, proba[label], nil
}

func (rf *RandomForest) PredictProba(features []float64) ([]float64, error) {
	if len(rf.trees) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(features) != rf.numFeatures {
		return nil, fmt.Errorf("expected %d features, got %d", rf.numFeatures, len(features))
	}
	proba := make([]float64, rf.numClasses)
	for _, tree := range rf.trees {
		leaf, err := tree.leaf(features)
		if err != nil {
			return nil, err
		}
		for c, p := range leaf.Distribution {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(rf.trees))
	}
	return proba, nil
}

func (rf *RandomForest) PredictBatch(features [][]float64) ([]int, error) {
	labels := make([]int, len(features))
	for i, row := range features {
		label, _, err := rf.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		labels[i] = label
	}
	return labels, nil
}

func (rf *RandomForest) NumTrees() int {
	return len(rf.trees)
}

func (rf *RandomForest) NumClasses() int {
	return rf.numClasses
}

func (rf *RandomForest) Save(path string) error {
	if len(rf.trees) == 0 {
		return errors.New("model not trained")
	}
	file := forestFile{
		NEstimators:     rf.NEstimators,
		MaxDepth:        rf.MaxDepth,
		MinSamplesSplit: rf.MinSamplesSplit,
		MaxFeatures:     rf.MaxFeatures,
		Seed:            rf.Seed,
		NumClasses:      rf.numClasses,
		NumFeatures:     rf.numFeatures,
		Trees:           make([][]TreeNode, len(rf.trees)),
	}
	for i, tree := range rf.trees {
		file.Trees[i] = tree.nodes
	}
	payload, err := json.Marshal(file)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (rf *RandomForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file forestFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return err
	}
	if len(file.Trees) == 0 {
		return errors.New("model file has no trees")
	}

	trees := make([]*DecisionTree, len(file.Trees))
	for i, nodes := range file.Trees {
		tree := &DecisionTree{
			MaxDepth:        file.MaxDepth,
			MinSamplesSplit: file.MinSamplesSplit,
			MaxFeatures:     file.MaxFeatures,
		}
		if err := tree.setNodes(nodes); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
		if tree.numClasses != file.NumClasses {
			return fmt.Errorf("tree %d: has %d classes, forest has %d", i, tree.numClasses, file.NumClasses)
		}
		trees[i] = tree
	}

	rf.NEstimators = file.NEstimators
	rf.MaxDepth = file.MaxDepth
	rf.MinSamplesSplit = file.MinSamplesSplit
	rf.MaxFeatures = file.MaxFeatures
	rf.Seed = file.Seed
	rf.trees = trees
	rf.numClasses = file.NumClasses
	rf.numFeatures = file.NumFeatures
	return nil
}
