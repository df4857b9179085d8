package ml

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
	"sort"
)

type DecisionTree struct {
	MaxDepth        int   `json:"max_depth"` // 0 means unlimited
	MinSamplesSplit int   `json:"min_samples_split"`
	MaxFeatures     int   `json:"max_features"` // features tried per split, 0 means all
	Seed            int64 `json:"seed"`

	nodes      []TreeNode
	numClasses int
}

type TreeNode struct {
	FeatureIdx   int       `json:"feature_idx"`
	Threshold    float64   `json:"threshold"`
	LeftChild    int       `json:"left_child"`
	RightChild   int       `json:"right_child"`
	ClassLabel   int       `json:"class_label"`
	IsLeaf       bool      `json:"is_leaf"`
	Distribution []float64 `json:"distribution"`
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
}

func (dt *DecisionTree) Train(features [][]float64, labels []int) error {
	numClasses, err := validateTrainingData(features, labels)
	if err != nil {
		return err
	}
	sample := make([]int, len(features))
	for i := range sample {
		sample[i] = i
	}
	return dt.fit(features, labels, sample, numClasses, rand.New(rand.NewSource(dt.Seed)))
}

func (dt *DecisionTree) fit(features [][]float64, labels []int, sample []int, numClasses int, rng *rand.Rand) error {
	if len(sample) == 0 {
		return errors.New("empty sample")
	}
	if dt.MinSamplesSplit < 2 {
		dt.MinSamplesSplit = 2
	}
	dt.nodes = nil
	dt.numClasses = numClasses
	dt.buildNode(features, labels, sample, 0, rng)
	return nil
}

func (dt *DecisionTree) Predict(features []float64) (int, float64, error) {
	dist, err := dt.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}
	label := argmax(dist)
	return label, dist[label], nil
}

// PredictProba returns the class distribution of the leaf features fall into.
func (dt *DecisionTree) PredictProba(features []float64) ([]float64, error) {
	leaf, err := dt.leaf(features)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), leaf.Distribution...), nil
}

func (dt *DecisionTree) leaf(features []float64) (*TreeNode, error) {
	if len(dt.nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := &dt.nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return nil, errors.New("feature index out of range")
		}
		// NaN compares false and goes right, as in training
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

func (dt *DecisionTree) NumClasses() int {
	return dt.numClasses
}

func (dt *DecisionTree) Depth() int {
	if len(dt.nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return 0
		}
		l, r := walk(node.LeftChild), walk(node.RightChild)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return walk(0)
}

func (dt *DecisionTree) Save(path string) error {
	if len(dt.nodes) == 0 {
		return errors.New("model not trained")
	}
	payload, err := json.Marshal(dt.nodes)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var nodes []TreeNode
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return err
	}
	return dt.setNodes(nodes)
}

func (dt *DecisionTree) setNodes(nodes []TreeNode) error {
	if len(nodes) == 0 {
		return errors.New("empty tree")
	}
	dt.nodes = nodes
	dt.numClasses = len(nodes[0].Distribution)
	return nil
}

// buildNode appends the subtree for sample and returns its root index.
func (dt *DecisionTree) buildNode(features [][]float64, labels []int, sample []int, depth int, rng *rand.Rand) int {
	counts := classCounts(labels, sample, dt.numClasses)
	idx := len(dt.nodes)
	dt.nodes = append(dt.nodes, TreeNode{
		FeatureIdx:   -1,
		LeftChild:    -1,
		RightChild:   -1,
		ClassLabel:   majorityLabel(counts),
		IsLeaf:       true,
		Distribution: distribution(counts, len(sample)),
	})

	if (dt.MaxDepth > 0 && depth >= dt.MaxDepth) || len(sample) < dt.MinSamplesSplit || isPure(counts) {
		return idx
	}

	best, ok := dt.findBestSplit(features, labels, sample, rng)
	if !ok {
		return idx
	}

	left, right := splitSample(features, sample, best.feature, best.threshold)
	if len(left) == 0 || len(right) == 0 {
		return idx
	}

	leftIdx := dt.buildNode(features, labels, left, depth+1, rng)
	rightIdx := dt.buildNode(features, labels, right, depth+1, rng)

	node := &dt.nodes[idx]
	node.FeatureIdx = best.feature
	node.Threshold = best.threshold
	node.LeftChild = leftIdx
	node.RightChild = rightIdx
	node.IsLeaf = false
	return idx
}

// findBestSplit tries features in random order and keeps going past
// MaxFeatures until at least one valid split is found.
func (dt *DecisionTree) findBestSplit(features [][]float64, labels []int, sample []int, rng *rand.Rand) (split, bool) {
	featureCount := len(features[sample[0]])
	maxFeatures := dt.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > featureCount {
		maxFeatures = featureCount
	}

	best := split{feature: -1, impurity: math.MaxFloat64}
	for visited, featureIdx := range rng.Perm(featureCount) {
		if visited >= maxFeatures && best.feature >= 0 {
			break
		}
		candidate, ok := bestThreshold(features, labels, sample, featureIdx, dt.numClasses)
		if ok && candidate.impurity < best.impurity {
			best = candidate
		}
	}
	return best, best.feature >= 0
}

type valueLabel struct {
	value float64
	label int
}

// bestThreshold scans the sorted values of one feature, moving samples
// from right to left and scoring every boundary between distinct values.
func bestThreshold(features [][]float64, labels []int, sample []int, featureIdx, numClasses int) (split, bool) {
	pairs := make([]valueLabel, 0, len(sample))
	right := make([]int, numClasses)
	for _, i := range sample {
		right[labels[i]]++
		v := features[i][featureIdx]
		if math.IsNaN(v) {
			continue
		}
		pairs = append(pairs, valueLabel{value: v, label: labels[i]})
	}
	if len(pairs) < 2 {
		return split{}, false
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].value < pairs[b].value })

	left := make([]int, numClasses)
	total := len(sample)
	best := split{feature: -1, impurity: math.MaxFloat64}
	for i := 0; i < len(pairs)-1; i++ {
		left[pairs[i].label]++
		right[pairs[i].label]--
		if pairs[i].value == pairs[i+1].value {
			continue
		}
		nLeft := i + 1
		nRight := total - nLeft
		impurity := (float64(nLeft)*gini(left, nLeft) + float64(nRight)*gini(right, nRight)) / float64(total)
		if impurity < best.impurity {
			threshold := pairs[i].value/2 + pairs[i+1].value/2
			if threshold >= pairs[i+1].value || math.IsInf(threshold, 0) {
				threshold = pairs[i].value
			}
			best = split{feature: featureIdx, threshold: threshold, impurity: impurity}
		}
	}
	return best, best.feature >= 0
}

func splitSample(features [][]float64, sample []int, featureIdx int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(sample))
	right := make([]int, 0, len(sample))
	for _, i := range sample {
		if features[i][featureIdx] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, count := range counts {
		prob := float64(count) / float64(n)
		impurity -= prob * prob
	}
	return impurity
}

func classCounts(labels []int, sample []int, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, i := range sample {
		counts[labels[i]]++
	}
	return counts
}

func distribution(counts []int, n int) []float64 {
	dist := make([]float64, len(counts))
	if n == 0 {
		return dist
	}
	for i, c := range counts {
		dist[i] = float64(c) / float64(n)
	}
	return dist
}

func majorityLabel(counts []int) int {
	best := 0
	for label, count := range counts {
		if count > counts[best] {
			best = label
		}
	}
	return best
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func validateTrainingData(features [][]float64, labels []int) (int, error) {
	if len(features) == 0 || len(labels) == 0 {
		return 0, errors.New("features or labels empty")
	}
	if len(features) != len(labels) {
		return 0, errors.New("features and labels size mismatch")
	}
	width := len(features[0])
	if width == 0 {
		return 0, errors.New("features have no columns")
	}
	maxLabel := 0
	for i, row := range features {
		if len(row) != width {
			return 0, errors.New("ragged feature matrix")
		}
		if labels[i] < 0 {
			return 0, errors.New("labels must be non-negative codes")
		}
		if labels[i] > maxLabel {
			maxLabel = labels[i]
		}
	}
	return maxLabel + 1, nil
}
