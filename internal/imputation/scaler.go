package imputation

import (
	"fmt"
	"math"
)

// MinMaxScaler normalizes each feature column into [0,1] using bounds fit
// from the training partition. The same instance is persisted with the model
// and reused read-only at inference so that both sides of the pipeline agree
// on the value domain.
type MinMaxScaler struct {
	Min []float64 `json:"min"`
	Max []float64 `json:"max"`
}

// NewMinMaxScaler returns an unfitted scaler.
func NewMinMaxScaler() *MinMaxScaler { return &MinMaxScaler{} }

// Fitted reports whether Fit has been called (or parameters loaded).
func (s *MinMaxScaler) Fitted() bool { return len(s.Min) > 0 }

// NumFeatures returns the column count the scaler was fit on, 0 if unfitted.
func (s *MinMaxScaler) NumFeatures() int { return len(s.Min) }

// Fit computes per-column minima and maxima from the given matrix.
func (s *MinMaxScaler) Fit(matrix [][]float64) error {
	if len(matrix) == 0 || len(matrix[0]) == 0 {
		return fmt.Errorf("scaler fit: empty matrix")
	}
	cols := len(matrix[0])
	s.Min = make([]float64, cols)
	s.Max = make([]float64, cols)
	for j := 0; j < cols; j++ {
		s.Min[j] = math.Inf(1)
		s.Max[j] = math.Inf(-1)
	}
	for i, row := range matrix {
		if len(row) != cols {
			return fmt.Errorf("scaler fit: row %d has %d columns, want %d", i, len(row), cols)
		}
		for j, v := range row {
			if !isFinite(v) {
				return fmt.Errorf("scaler fit: non-finite value at row %d column %d", i, j)
			}
			if v < s.Min[j] {
				s.Min[j] = v
			}
			if v > s.Max[j] {
				s.Max[j] = v
			}
		}
	}
	return nil
}

// Transform returns a scaled copy of the matrix. A zero-variance column
// (min == max) maps to a constant 0 rather than dividing by zero.
func (s *MinMaxScaler) Transform(matrix [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler transform: %w", ErrNotFitted)
	}
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		if len(row) != len(s.Min) {
			return nil, fmt.Errorf("scaler transform: row %d has %d columns, want %d", i, len(row), len(s.Min))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = s.scale(j, v)
		}
		out[i] = scaled
	}
	return out, nil
}

// Inverse reverses Transform. Round-tripping reproduces the input up to
// floating tolerance; zero-variance columns recover their constant.
func (s *MinMaxScaler) Inverse(matrix [][]float64) ([][]float64, error) {
	if !s.Fitted() {
		return nil, fmt.Errorf("scaler inverse: %w", ErrNotFitted)
	}
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		if len(row) != len(s.Min) {
			return nil, fmt.Errorf("scaler inverse: row %d has %d columns, want %d", i, len(row), len(s.Min))
		}
		raw := make([]float64, len(row))
		for j, v := range row {
			raw[j] = s.unscale(j, v)
		}
		out[i] = raw
	}
	return out, nil
}

// ScaleValue scales a single value in the given column. Used by the
// orchestrator when writing a freshly predicted value back into the scaled
// feature grid.
func (s *MinMaxScaler) ScaleValue(col int, v float64) (float64, error) {
	if !s.Fitted() {
		return 0, fmt.Errorf("scaler scale value: %w", ErrNotFitted)
	}
	if col < 0 || col >= len(s.Min) {
		return 0, fmt.Errorf("scaler scale value: column %d out of range", col)
	}
	return s.scale(col, v), nil
}

// InverseValue maps a single scaled value in the given column back to the
// measurement domain. The model's raw output lives in column 0.
func (s *MinMaxScaler) InverseValue(col int, v float64) (float64, error) {
	if !s.Fitted() {
		return 0, fmt.Errorf("scaler inverse value: %w", ErrNotFitted)
	}
	if col < 0 || col >= len(s.Min) {
		return 0, fmt.Errorf("scaler inverse value: column %d out of range", col)
	}
	return s.unscale(col, v), nil
}

func (s *MinMaxScaler) scale(col int, v float64) float64 {
	span := s.Max[col] - s.Min[col]
	if span == 0 {
		return 0
	}
	return (v - s.Min[col]) / span
}

func (s *MinMaxScaler) unscale(col int, v float64) float64 {
	span := s.Max[col] - s.Min[col]
	if span == 0 {
		return s.Min[col]
	}
	return v*span + s.Min[col]
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
