package imputation

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalerRoundTrip(t *testing.T) {
	matrix := [][]float64{
		{10, -1, 0.5},
		{20, 0, 0.25},
		{35, 4, 0.75},
	}

	s := NewMinMaxScaler()
	require.NoError(t, s.Fit(matrix))
	require.True(t, s.Fitted())
	assert.Equal(t, 3, s.NumFeatures())

	scaled, err := s.Transform(matrix)
	require.NoError(t, err)
	for _, row := range scaled {
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}

	back, err := s.Inverse(scaled)
	require.NoError(t, err)
	for i := range matrix {
		for j := range matrix[i] {
			assert.InDelta(t, matrix[i][j], back[i][j], 1e-9)
		}
	}
}

func TestScalerZeroVarianceColumn(t *testing.T) {
	matrix := [][]float64{
		{1, 7},
		{2, 7},
		{3, 7},
	}

	s := NewMinMaxScaler()
	require.NoError(t, s.Fit(matrix))

	scaled, err := s.Transform(matrix)
	require.NoError(t, err)
	for _, row := range scaled {
		assert.Equal(t, 0.0, row[1])
	}

	back, err := s.Inverse(scaled)
	require.NoError(t, err)
	for _, row := range back {
		assert.Equal(t, 7.0, row[1])
	}
}

func TestScalerNotFitted(t *testing.T) {
	s := NewMinMaxScaler()

	_, err := s.Transform([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = s.Inverse([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = s.ScaleValue(0, 1)
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = s.InverseValue(0, 1)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestScalerRejectsBadInput(t *testing.T) {
	s := NewMinMaxScaler()
	assert.Error(t, s.Fit(nil))
	assert.Error(t, s.Fit([][]float64{{1, 2}, {3}}))

	nan := [][]float64{{1, math.NaN()}}
	assert.Error(t, s.Fit(nan))

	require.NoError(t, s.Fit([][]float64{{1, 2}, {3, 4}}))
	_, err := s.Transform([][]float64{{1}})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFitted))
}

func TestScalerSingleValueColumns(t *testing.T) {
	s := NewMinMaxScaler()
	require.NoError(t, s.Fit([][]float64{{5, 10}}))

	v, err := s.ScaleValue(0, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	back, err := s.InverseValue(0, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 5.0, back)
}
