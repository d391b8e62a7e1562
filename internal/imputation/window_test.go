package imputation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowMatrix(n, cols int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, cols)
		m[i][0] = float64(i)
	}
	return m
}

func TestBuildWindows(t *testing.T) {
	matrix := rowMatrix(10, 3)

	windows, err := BuildWindows(matrix, 4)
	require.NoError(t, err)
	require.Len(t, windows, 6)

	for i, w := range windows {
		assert.Len(t, w.Inputs, 4)
		assert.Equal(t, i+4, w.TargetIndex)
		assert.Equal(t, float64(i+4), w.Target)
		// oldest row first
		assert.Equal(t, float64(i), w.Inputs[0][0])
		assert.Equal(t, float64(i+3), w.Inputs[3][0])
	}
}

func TestBuildWindowsAliasesMatrix(t *testing.T) {
	matrix := rowMatrix(6, 2)
	windows, err := BuildWindows(matrix, 3)
	require.NoError(t, err)

	matrix[1][0] = 99
	assert.Equal(t, 99.0, windows[0].Inputs[1][0])
}

func TestBuildWindowsInsufficient(t *testing.T) {
	_, err := BuildWindows(rowMatrix(4, 2), 4)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = BuildWindows(nil, 4)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestBuildWindowsBadSeqLen(t *testing.T) {
	_, err := BuildWindows(rowMatrix(4, 2), 0)
	assert.Error(t, err)
}
