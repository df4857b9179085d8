package ml

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"
)

var ErrLengthMismatch = errors.New("actual and predicted lengths differ")

// ConfusionMatrix counts predictions per actual class. Rows are actual
// labels, columns predicted, both in Labels order.
type ConfusionMatrix struct {
	Labels []int
	Counts [][]int
}

type ClassMetrics struct {
	Label     int
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

type ClassificationReport struct {
	Classes     []ClassMetrics
	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

func NewConfusionMatrix(actual, predicted []int) (*ConfusionMatrix, error) {
	if len(actual) != len(predicted) {
		return nil, ErrLengthMismatch
	}
	labels := unionLabels(actual, predicted)
	pos := make(map[int]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}
	counts := make([][]int, len(labels))
	for i := range counts {
		counts[i] = make([]int, len(labels))
	}
	for i := range actual {
		counts[pos[actual[i]]][pos[predicted[i]]]++
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts}, nil
}

func unionLabels(actual, predicted []int) []int {
	seen := make(map[int]struct{})
	for _, l := range actual {
		seen[l] = struct{}{}
	}
	for _, l := range predicted {
		seen[l] = struct{}{}
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// NewClassificationReport computes per-class precision, recall and F1.
// A zero denominator yields 0. names decodes class codes for display and
// may be nil.
func NewClassificationReport(actual, predicted []int, names *LabelEncoding) (*ClassificationReport, error) {
	cm, err := NewConfusionMatrix(actual, predicted)
	if err != nil {
		return nil, err
	}
	if len(actual) == 0 {
		return nil, errors.New("no predictions to evaluate")
	}

	report := &ClassificationReport{Total: len(actual)}
	correct := 0
	n := len(cm.Labels)
	precisions := make([]float64, n)
	recalls := make([]float64, n)
	f1s := make([]float64, n)
	supports := make([]float64, n)

	for i, label := range cm.Labels {
		tp := cm.Counts[i][i]
		correct += tp
		actualCount, predictedCount := 0, 0
		for j := 0; j < n; j++ {
			actualCount += cm.Counts[i][j]
			predictedCount += cm.Counts[j][i]
		}
		m := ClassMetrics{
			Label:     label,
			Name:      labelName(names, label),
			Precision: ratio(tp, predictedCount),
			Recall:    ratio(tp, actualCount),
			Support:   actualCount,
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		report.Classes = append(report.Classes, m)
		precisions[i], recalls[i], f1s[i] = m.Precision, m.Recall, m.F1
		supports[i] = float64(actualCount)
	}

	report.Accuracy = ratio(correct, len(actual))
	report.MacroAvg = ClassMetrics{
		Name:      "macro avg",
		Precision: stat.Mean(precisions, nil),
		Recall:    stat.Mean(recalls, nil),
		F1:        stat.Mean(f1s, nil),
		Support:   len(actual),
	}
	report.WeightedAvg = ClassMetrics{
		Name:      "weighted avg",
		Precision: stat.Mean(precisions, supports),
		Recall:    stat.Mean(recalls, supports),
		F1:        stat.Mean(f1s, supports),
		Support:   len(actual),
	}
	return report, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func labelName(names *LabelEncoding, code int) string {
	if names != nil {
		if name, err := names.Decode(code); err == nil {
			return name
		}
	}
	return fmt.Sprintf("%d", code)
}

func (r *ClassificationReport) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tprecision\trecall\tf1-score\tsupport\t")
	for _, c := range r.Classes {
		writeMetricsRow(tw, c)
	}
	fmt.Fprintln(tw, "\t\t\t\t\t")
	fmt.Fprintf(tw, "accuracy\t\t\t%.2f\t%d\t\n", r.Accuracy, r.Total)
	writeMetricsRow(tw, r.MacroAvg)
	writeMetricsRow(tw, r.WeightedAvg)
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func writeMetricsRow(w io.Writer, m ClassMetrics) {
	name := m.Name
	if name == "" {
		name = `""`
	}
	fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", name, m.Precision, m.Recall, m.F1, m.Support)
}

func (cm *ConfusionMatrix) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.AlignRight)
	for _, row := range cm.Counts {
		fmt.Fprint(tw, "[")
		for _, c := range row {
			fmt.Fprintf(tw, "\t%d", c)
		}
		fmt.Fprintln(tw, "\t]\t")
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
