package ml

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/guregu/null.v3"
)

var (
	ErrUnknownLabel = errors.New("unknown label")
	ErrUnknownCode  = errors.New("unknown code")
)

// LabelEncoding is a reversible mapping between distinct text values and
// integer codes 0..n-1, codes assigned in sorted value order.
type LabelEncoding struct {
	Classes []string `json:"classes"`
	index   map[string]int
}

// FitLabelEncoding builds the mapping from values. Missing cells are
// treated as the empty string. When every value is numeric the classes are
// ordered numerically.
func FitLabelEncoding(values []null.String) *LabelEncoding {
	seen := make(map[string]struct{})
	for _, v := range values {
		seen[cellText(v)] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sortClasses(classes)
	return NewLabelEncoding(classes)
}

func NewLabelEncoding(classes []string) *LabelEncoding {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &LabelEncoding{Classes: classes, index: index}
}

func (e *LabelEncoding) Len() int {
	return len(e.Classes)
}

func (e *LabelEncoding) Encode(value string) (int, error) {
	if e.index == nil {
		e.index = make(map[string]int, len(e.Classes))
		for i, c := range e.Classes {
			e.index[c] = i
		}
	}
	code, ok := e.index[value]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, value)
	}
	return code, nil
}

func (e *LabelEncoding) EncodeAll(values []null.String) ([]int, error) {
	codes := make([]int, len(values))
	for i, v := range values {
		code, err := e.Encode(cellText(v))
		if err != nil {
			return nil, err
		}
		codes[i] = code
	}
	return codes, nil
}

func (e *LabelEncoding) Decode(code int) (string, error) {
	if code < 0 || code >= len(e.Classes) {
		return "", fmt.Errorf("%w: %d", ErrUnknownCode, code)
	}
	return e.Classes[code], nil
}

func (e *LabelEncoding) DecodeAll(codes []int) ([]string, error) {
	labels := make([]string, len(codes))
	for i, code := range codes {
		label, err := e.Decode(code)
		if err != nil {
			return nil, err
		}
		labels[i] = label
	}
	return labels, nil
}

func cellText(v null.String) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

func sortClasses(classes []string) {
	numeric := make([]float64, len(classes))
	for i, c := range classes {
		f, err := strconv.ParseFloat(c, 64)
		if err != nil {
			sort.Strings(classes)
			return
		}
		numeric[i] = f
	}
	sort.Sort(byNumeric{classes, numeric})
}

type byNumeric struct {
	classes []string
	values  []float64
}

func (b byNumeric) Len() int           { return len(b.classes) }
func (b byNumeric) Less(i, j int) bool { return b.values[i] < b.values[j] }
func (b byNumeric) Swap(i, j int) {
	b.classes[i], b.classes[j] = b.classes[j], b.classes[i]
	b.values[i], b.values[j] = b.values[j], b.values[i]
}
