package imputation

import "fmt"

// Window is one sequence-model example: L consecutive feature rows and the
// value-column target at the row immediately after them.
type Window struct {
	// Inputs are the L feature rows, oldest first. They alias the source
	// matrix; callers that mutate the matrix mutate the window.
	Inputs [][]float64

	// Target is the value-column entry at TargetIndex.
	Target float64

	// TargetIndex is the matrix row the window predicts.
	TargetIndex int
}

// BuildWindows slices a feature matrix of N rows into the N−L contiguous
// windows of length seqLen, in chronological order. The target of window i
// is matrix[i+seqLen][0], the value column.
func BuildWindows(matrix [][]float64, seqLen int) ([]Window, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("build windows: sequence length must be positive, got %d", seqLen)
	}
	if len(matrix) <= seqLen {
		return nil, fmt.Errorf("build windows: %d rows with sequence length %d: %w",
			len(matrix), seqLen, ErrInsufficientData)
	}
	windows := make([]Window, 0, len(matrix)-seqLen)
	for i := 0; i+seqLen < len(matrix); i++ {
		windows = append(windows, Window{
			Inputs:      matrix[i : i+seqLen],
			Target:      matrix[i+seqLen][0],
			TargetIndex: i + seqLen,
		})
	}
	return windows, nil
}
