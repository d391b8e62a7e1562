package imputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aircast-th/aircast/internal/series"
)

type stubSource struct {
	s   *series.Series
	err error
}

func (f *stubSource) FetchSeries(context.Context, string, string, time.Time, time.Time) (*series.Series, error) {
	return f.s, f.err
}

type stubProvider struct {
	bundle *Bundle
	err    error
}

func (p *stubProvider) GetOrLoad(context.Context, string) (*Bundle, error) {
	return p.bundle, p.err
}

func orchConfig() Config {
	cfg := trainerConfig()
	return cfg
}

func newOrchestrator(t *testing.T, s *series.Series, srcErr error, provider ModelProvider, cfg Config) *Orchestrator {
	t.Helper()
	return NewOrchestrator(&stubSource{s: s, err: srcErr}, provider, cfg, zaptest.NewLogger(t).Sugar())
}

// fixtureBundle builds a servable bundle whose scaler matches the feature
// grid of s.
func fixtureBundle(t *testing.T, s *series.Series, seqLen int) *Bundle {
	t.Helper()

	model, err := NewLSTMNetwork(NumFeatures, seqLen, []int{4, 3}, 0, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	model.Trained = true

	fs, err := BuildFeatures(s)
	require.NoError(t, err)
	scaler := NewMinMaxScaler()
	require.NoError(t, scaler.Fit(fs.Matrix))

	return &Bundle{Model: model, Scaler: scaler, Meta: Metadata{Parameter: s.Parameter}}
}

func testRequest() Request {
	return Request{
		StationID: "36t",
		Parameter: "PM25",
		Start:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}
}

func TestFillUnknownParameter(t *testing.T) {
	o := newOrchestrator(t, sineSeries(72), nil, &stubProvider{}, orchConfig())
	req := testRequest()
	req.Parameter = "XYZ"
	_, err := o.Fill(context.Background(), req)
	assert.Error(t, err)
}

func TestFillWrapsSourceFailure(t *testing.T) {
	o := newOrchestrator(t, nil, errors.New("connection refused"), &stubProvider{}, orchConfig())
	_, err := o.Fill(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrDataUnavailable)

	o = newOrchestrator(t, nil, ErrDataUnavailable, &stubProvider{}, orchConfig())
	_, err = o.Fill(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestFillInsufficientData(t *testing.T) {
	o := newOrchestrator(t, sineSeries(10), nil, &stubProvider{}, orchConfig())
	_, err := o.Fill(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestFillNoGapsNoModelPassesThrough(t *testing.T) {
	s := sineSeries(48)
	o := newOrchestrator(t, s, nil, &stubProvider{err: ErrModelNotTrained}, orchConfig())

	out, err := o.Fill(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, out.Rows, 48)
	assert.Zero(t, out.GapCount)
	assert.Zero(t, out.FilledGaps)
	for i, row := range out.Rows {
		assert.Equal(t, s.Observations[i].Value, row.Value)
		assert.Equal(t, s.Observations[i].Value, row.Filled)
		assert.Nil(t, row.Predicted)
		assert.False(t, row.WasGap)
	}
}

func TestFillGapsWithoutModelFails(t *testing.T) {
	o := newOrchestrator(t, sineSeries(48, 20), nil, &stubProvider{err: ErrModelNotTrained}, orchConfig())
	_, err := o.Fill(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrModelNotTrained)
}

func TestFillCorruptArtifactSurfaces(t *testing.T) {
	o := newOrchestrator(t, sineSeries(48, 20), nil, &stubProvider{err: ErrCorruptArtifact}, orchConfig())
	_, err := o.Fill(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestFillHeuristicFallback(t *testing.T) {
	cfg := orchConfig()
	cfg.AllowHeuristicFallback = true

	// Leading gap at 0 cannot be interpolated; the interior run 20-21 can.
	s := sineSeries(48, 0, 20, 21)
	o := newOrchestrator(t, s, nil, &stubProvider{err: ErrModelNotTrained}, cfg)

	out, err := o.Fill(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 3, out.GapCount)
	assert.Equal(t, 2, out.FilledGaps)
	assert.Equal(t, 1, out.FailedRows)

	assert.Nil(t, out.Rows[0].Filled)
	require.NotNil(t, out.Rows[20].Filled)
	require.NotNil(t, out.Rows[21].Filled)

	// Linear between the surrounding observations, never a model output.
	lo, hi := *s.Observations[19].Value, *s.Observations[22].Value
	assert.InDelta(t, lo+(hi-lo)/3, *out.Rows[20].Filled, 1e-9)
	assert.InDelta(t, lo+2*(hi-lo)/3, *out.Rows[21].Filled, 1e-9)
	assert.Nil(t, out.Rows[20].Predicted)
	assert.Nil(t, out.Rows[21].Predicted)
}

func TestFillWithModel(t *testing.T) {
	cfg := orchConfig() // sequence length 12
	// A consecutive gap run (30-33) exercises sequential fills feeding the
	// next window; the gap at 5 precedes any full window.
	s := sineSeries(72, 5, 30, 31, 32, 33, 60)
	bundle := fixtureBundle(t, s, cfg.SequenceLength)
	o := newOrchestrator(t, s, nil, &stubProvider{bundle: bundle}, cfg)

	out, err := o.Fill(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, out.Rows, 72)
	assert.Equal(t, 6, out.GapCount)
	assert.Equal(t, 5, out.FilledGaps)
	assert.Equal(t, 1, out.FailedRows)

	// Rows before the first full window carry no prediction.
	for t2 := 0; t2 < cfg.SequenceLength; t2++ {
		assert.Nil(t, out.Rows[t2].Predicted)
	}
	assert.Nil(t, out.Rows[5].Filled)

	for _, idx := range []int{30, 31, 32, 33, 60} {
		row := out.Rows[idx]
		assert.True(t, row.WasGap)
		assert.Nil(t, row.Value)
		require.NotNil(t, row.Predicted)
		require.NotNil(t, row.Filled)
		assert.Equal(t, *row.Predicted, *row.Filled)
		assert.GreaterOrEqual(t, *row.Filled, 0.0)
	}

	// Observed rows keep their value and gain an overlay prediction.
	row := out.Rows[40]
	assert.False(t, row.WasGap)
	require.NotNil(t, row.Value)
	assert.Equal(t, *s.Observations[40].Value, *row.Value)
	assert.Equal(t, *row.Value, *row.Filled)
	require.NotNil(t, row.Predicted)
}

func TestFillIsDeterministic(t *testing.T) {
	cfg := orchConfig()
	s := sineSeries(72, 30, 31)
	bundle := fixtureBundle(t, s, cfg.SequenceLength)
	o := newOrchestrator(t, s, nil, &stubProvider{bundle: bundle}, cfg)

	a, err := o.Fill(context.Background(), testRequest())
	require.NoError(t, err)
	b, err := o.Fill(context.Background(), testRequest())
	require.NoError(t, err)

	require.Equal(t, len(a.Rows), len(b.Rows))
	for i := range a.Rows {
		if a.Rows[i].Predicted == nil {
			assert.Nil(t, b.Rows[i].Predicted)
			continue
		}
		require.NotNil(t, b.Rows[i].Predicted)
		assert.Equal(t, *a.Rows[i].Predicted, *b.Rows[i].Predicted)
	}
}

func TestFillHonorsContext(t *testing.T) {
	cfg := orchConfig()
	s := sineSeries(72, 30)
	bundle := fixtureBundle(t, s, cfg.SequenceLength)
	o := newOrchestrator(t, s, nil, &stubProvider{bundle: bundle}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Fill(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchRaw(t *testing.T) {
	s := sineSeries(48)
	o := newOrchestrator(t, s, nil, &stubProvider{}, orchConfig())

	got, err := o.FetchRaw(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Same(t, s, got)

	o = newOrchestrator(t, nil, ErrDataUnavailable, &stubProvider{}, orchConfig())
	_, err = o.FetchRaw(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
