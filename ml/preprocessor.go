package ml

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/guregu/null.v3"

	"ocdprep/table"
)

var (
	ErrMissingTarget = errors.New("target column not found")
	ErrEmptyTable    = errors.New("table has no rows")
	ErrNoFeatures    = errors.New("no feature columns")
)

// EncodedTable is a table with every column as float64 values. Text
// columns are label-encoded, the encodings are kept by column name.
type EncodedTable struct {
	Columns   []string
	Values    [][]float64
	Encodings map[string]*LabelEncoding
}

// Dataset is the feature matrix and encoded target ready for training.
type Dataset struct {
	FeatureNames []string
	X            [][]float64
	Y            []int
	Target       *LabelEncoding
	Encodings    map[string]*LabelEncoding
}

// EncodeTable label-encodes text columns. A column is text when any present
// value is not a number. Missing numeric values become NaN.
func EncodeTable(t *table.Table) (*EncodedTable, error) {
	if t.Len() == 0 {
		return nil, ErrEmptyTable
	}

	encoded := &EncodedTable{
		Columns:   t.ColumnNames(),
		Values:    make([][]float64, t.Len()),
		Encodings: make(map[string]*LabelEncoding),
	}
	for i := range encoded.Values {
		encoded.Values[i] = make([]float64, t.Width())
	}

	for j, col := range t.Columns {
		cells := t.Column(j)
		numbers, ok := parseNumeric(cells)
		if ok {
			for i, v := range numbers {
				encoded.Values[i][j] = v
			}
			continue
		}

		enc := FitLabelEncoding(cells)
		codes, err := enc.EncodeAll(cells)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", col.Name, err)
		}
		for i, code := range codes {
			encoded.Values[i][j] = float64(code)
		}
		encoded.Encodings[col.Name] = enc
	}
	return encoded, nil
}

// BuildDataset encodes t and splits it into features (every column but
// target) and the target, which gets its own encoding.
func BuildDataset(t *table.Table, target string) (*Dataset, error) {
	targetIdx := t.ColumnIndex(target)
	if targetIdx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrMissingTarget, target)
	}
	if t.Width() < 2 {
		return nil, ErrNoFeatures
	}

	encoded, err := EncodeTable(t)
	if err != nil {
		return nil, err
	}

	targetCells := t.Column(targetIdx)
	targetEnc := FitLabelEncoding(targetCells)
	labels, err := targetEnc.EncodeAll(targetCells)
	if err != nil {
		return nil, fmt.Errorf("encode target: %w", err)
	}

	names := make([]string, 0, t.Width()-1)
	for j, name := range encoded.Columns {
		if j != targetIdx {
			names = append(names, name)
		}
	}
	features := make([][]float64, len(encoded.Values))
	for i, row := range encoded.Values {
		vector := make([]float64, 0, len(names))
		for j, v := range row {
			if j != targetIdx {
				vector = append(vector, v)
			}
		}
		features[i] = vector
	}

	encodings := make(map[string]*LabelEncoding, len(encoded.Encodings))
	for name, enc := range encoded.Encodings {
		if name != target {
			encodings[name] = enc
		}
	}

	return &Dataset{
		FeatureNames: names,
		X:            features,
		Y:            labels,
		Target:       targetEnc,
		Encodings:    encodings,
	}, nil
}

func parseNumeric(cells []null.String) ([]float64, bool) {
	values := make([]float64, len(cells))
	present := 0
	for i, cell := range cells {
		if !cell.Valid || strings.TrimSpace(cell.String) == "" {
			values[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cell.String), 64)
		if err != nil {
			return nil, false
		}
		values[i] = v
		present++
	}
	return values, present > 0
}
