package imputation

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/aircast-th/aircast/internal/series"
)

// Feature column layout. Column 0 is the value column; the model's target
// and the scaler's inverse for predictions both refer to it.
const (
	featValue = iota
	featHourSin
	featHourCos
	featDaySin
	featDayCos
	featIsWeekend
	featLag1
	featLag2
	featLag3
	featLag6
	featLag12
	featLag24
	featRollMean6
	featRollStd6
	featRollMean24
	featRollMax24
	featRollMin24

	// NumFeatures is the width of every feature row.
	NumFeatures = featRollMin24 + 1
)

var lagOffsets = []int{1, 2, 3, 6, 12, 24}

// FeatureSet is the dense per-timestep feature grid derived from a series.
type FeatureSet struct {
	// Matrix has one row per series row and NumFeatures columns, unscaled.
	Matrix [][]float64

	// GapMask marks rows whose own value was missing in the source series.
	// The value column of those rows holds a forward/backward-filled
	// placeholder until the orchestrator writes a prediction over it.
	GapMask []bool

	// GlobalMean is the mean of all observed values. It is the documented
	// neutral fallback for lag and rolling features whose inputs are missing.
	GlobalMean float64
}

// BuildFeatures derives the feature matrix for a series. Temporal encodings
// are pure functions of the timestamp. Lag and rolling statistics are
// computed over the original observed values only; where a required input is
// itself missing the feature falls back to the series' global mean (std
// falls back to 0). The value column uses forward fill then backward fill so
// the grid stays dense for window construction.
func BuildFeatures(s *series.Series) (*FeatureSet, error) {
	n := s.Len()
	if n == 0 {
		return nil, fmt.Errorf("build features: empty series")
	}

	values := s.Values()
	observed := make([]float64, 0, n)
	for _, v := range values {
		if v != nil {
			observed = append(observed, *v)
		}
	}
	if len(observed) == 0 {
		return nil, fmt.Errorf("build features: series %s/%s has no observed values: %w",
			s.StationID, s.Parameter, ErrDataUnavailable)
	}
	globalMean := stat.Mean(observed, nil)

	filled := fillValueColumn(values)

	fs := &FeatureSet{
		Matrix:     make([][]float64, n),
		GapMask:    make([]bool, n),
		GlobalMean: globalMean,
	}

	for i := 0; i < n; i++ {
		row := make([]float64, NumFeatures)
		ts := s.Observations[i].Timestamp

		row[featValue] = filled[i]
		fs.GapMask[i] = values[i] == nil

		hour := float64(ts.Hour())
		dow := float64(pyDayOfWeek(ts))
		row[featHourSin] = math.Sin(2 * math.Pi * hour / 24)
		row[featHourCos] = math.Cos(2 * math.Pi * hour / 24)
		row[featDaySin] = math.Sin(2 * math.Pi * dow / 7)
		row[featDayCos] = math.Cos(2 * math.Pi * dow / 7)
		if dow >= 5 {
			row[featIsWeekend] = 1
		}

		for k, lag := range lagOffsets {
			row[featLag1+k] = lagValue(values, i, lag, globalMean)
		}

		win6 := trailingObserved(values, i, 6)
		win24 := trailingObserved(values, i, 24)
		row[featRollMean6] = meanOr(win6, globalMean)
		row[featRollStd6] = stdOrZero(win6)
		row[featRollMean24] = meanOr(win24, globalMean)
		row[featRollMax24] = maxOr(win24, globalMean)
		row[featRollMin24] = minOr(win24, globalMean)

		fs.Matrix[i] = row
	}

	return fs, nil
}

// ValidWindowMask reports, for every window target index, whether the window
// is usable as a training example: all seqLen input rows and the target row
// must carry an originally observed value. Inference does not use this mask;
// there the orchestrator substitutes previously filled values instead.
func (fs *FeatureSet) ValidWindowMask(seqLen int) []bool {
	n := len(fs.GapMask)
	mask := make([]bool, n)
	for t := seqLen; t < n; t++ {
		ok := !fs.GapMask[t]
		for i := t - seqLen; ok && i < t; i++ {
			if fs.GapMask[i] {
				ok = false
			}
		}
		mask[t] = ok
	}
	return mask
}

func fillValueColumn(values []*float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	last := math.NaN()
	for i := 0; i < n; i++ {
		if values[i] != nil {
			last = *values[i]
		}
		out[i] = last
	}
	// Backward fill the leading gap run, if any.
	next := math.NaN()
	for i := n - 1; i >= 0; i-- {
		if values[i] != nil {
			next = *values[i]
		}
		if math.IsNaN(out[i]) {
			out[i] = next
		}
	}
	return out
}

func lagValue(values []*float64, i, lag int, fallback float64) float64 {
	j := i - lag
	if j < 0 || values[j] == nil {
		return fallback
	}
	return *values[j]
}

// trailingObserved collects the observed values in the window of size rows
// ending at and including index i.
func trailingObserved(values []*float64, i, size int) []float64 {
	start := i - size + 1
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, size)
	for j := start; j <= i; j++ {
		if values[j] != nil {
			out = append(out, *values[j])
		}
	}
	return out
}

func meanOr(window []float64, fallback float64) float64 {
	if len(window) == 0 {
		return fallback
	}
	return stat.Mean(window, nil)
}

func stdOrZero(window []float64) float64 {
	if len(window) < 2 {
		return 0
	}
	return stat.StdDev(window, nil)
}

func maxOr(window []float64, fallback float64) float64 {
	if len(window) == 0 {
		return fallback
	}
	return floats.Max(window)
}

func minOr(window []float64, fallback float64) float64 {
	if len(window) == 0 {
		return fallback
	}
	return floats.Min(window)
}

// pyDayOfWeek maps Go's Sunday-first weekday to the Monday=0..Sunday=6
// convention the cyclical encoding and weekend flag are defined on.
func pyDayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
