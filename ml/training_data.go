package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var ErrEmptyPartition = errors.New("train or test partition is empty")

// TrainTestSplit shuffles row indexes with seed and holds out
// ceil(testRatio*n) of them.
func TrainTestSplit(n int, testRatio float64, seed int64) (train, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	nTest := int(math.Ceil(testRatio * float64(n)))
	nTrain := n - nTest
	if nTest <= 0 || nTrain <= 0 {
		return nil, nil, fmt.Errorf("%w: %d rows, test ratio %v", ErrEmptyPartition, n, testRatio)
	}

	rnd := rand.New(rand.NewSource(seed))
	idx := rnd.Perm(n)
	return idx[nTest:], idx[:nTest], nil
}

// Subset picks rows by index.
func Subset(features [][]float64, labels []int, idx []int) ([][]float64, []int) {
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, j := range idx {
		x[i] = features[j]
		y[i] = labels[j]
	}
	return x, y
}
