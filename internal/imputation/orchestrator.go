package imputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aircast-th/aircast/internal/series"
)

// DataSource supplies raw station series. The upstream HTTP client
// implements it in production; tests supply in-memory fakes.
type DataSource interface {
	FetchSeries(ctx context.Context, stationID, parameter string, start, end time.Time) (*series.Series, error)
}

// ModelProvider resolves trained artifact bundles by parameter code.
type ModelProvider interface {
	GetOrLoad(ctx context.Context, parameter string) (*Bundle, error)
}

// Request identifies one imputation job.
type Request struct {
	StationID string
	Parameter string
	Start     time.Time
	End       time.Time
}

// ImputedRow is one output grid row. predicted_value is computed for every
// row with a full preceding window whenever a model is available, observed
// or not, so the UI can overlay model output against real readings.
type ImputedRow struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
	Predicted *float64  `json:"predicted_value"`
	WasGap    bool      `json:"was_gap"`
	Filled    *float64  `json:"filled_value"`
}

// ImputedSeries is the orchestrator output: one row per input grid row.
type ImputedSeries struct {
	StationID  string       `json:"station_id"`
	Parameter  string       `json:"parameter"`
	Rows       []ImputedRow `json:"rows"`
	GapCount   int          `json:"gap_count"`
	FilledGaps int          `json:"filled_gaps"`
	FailedRows int          `json:"failed_rows"`
}

// Orchestrator drives the per-request gap-filling state machine. It holds no
// mutable state of its own: model and scaler parameters are immutable once
// loaded, so concurrent requests need no locking. It never trains — a
// missing artifact is reported, not repaired.
type Orchestrator struct {
	source   DataSource
	registry ModelProvider
	cfg      Config
	logger   *zap.SugaredLogger
}

// NewOrchestrator wires an orchestrator; the registry is injected rather
// than reached through any package global.
func NewOrchestrator(source DataSource, registry ModelProvider, cfg Config, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{source: source, registry: registry, cfg: cfg, logger: logger}
}

// Fill fetches the requested series and fills its gaps with model
// predictions, processing timestamps strictly in order. A window for a gap
// may contain earlier filled values, so consecutive gaps compound model
// uncertainty; that is inherent to sequential imputation and surfaced by the
// was_gap flags rather than hidden.
//
// Whole-request failures (ErrDataUnavailable, ErrInsufficientData,
// ErrModelNotTrained, ErrCorruptArtifact) are returned as errors. A
// prediction failure on a single window only degrades that row to a null
// prediction. ctx cancellation is honored between window predictions.
func (o *Orchestrator) Fill(ctx context.Context, req Request) (*ImputedSeries, error) {
	if !series.ValidParameter(req.Parameter) {
		return nil, fmt.Errorf("fill: unknown parameter %q", req.Parameter)
	}

	s, err := o.source.FetchSeries(ctx, req.StationID, req.Parameter, req.Start, req.End)
	if err != nil {
		if errors.Is(err, ErrDataUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("fill %s/%s: %w", req.StationID, req.Parameter, err)
		}
		return nil, fmt.Errorf("fill %s/%s: %v: %w", req.StationID, req.Parameter, err, ErrDataUnavailable)
	}

	L := o.cfg.SequenceLength
	if s.Len() <= L {
		return nil, fmt.Errorf("fill %s/%s: %d rows with sequence length %d: %w",
			req.StationID, req.Parameter, s.Len(), L, ErrInsufficientData)
	}

	gaps := s.Gaps()
	bundle, loadErr := o.registry.GetOrLoad(ctx, req.Parameter)

	if len(gaps) == 0 && loadErr != nil {
		// Nothing to fill and no model for the optional overlay.
		return o.passthrough(s), nil
	}
	if loadErr != nil {
		if o.cfg.AllowHeuristicFallback && errors.Is(loadErr, ErrModelNotTrained) {
			o.logger.Warnw("no trained model, using configured interpolation fallback",
				"parameter", req.Parameter, "gaps", len(gaps))
			return o.interpolate(s), nil
		}
		return nil, fmt.Errorf("fill %s/%s: %w", req.StationID, req.Parameter, loadErr)
	}

	return o.fillWithModel(ctx, s, bundle)
}

// FetchRaw returns the reindexed series without any filling, for callers
// that disable gap-filling.
func (o *Orchestrator) FetchRaw(ctx context.Context, req Request) (*series.Series, error) {
	s, err := o.source.FetchSeries(ctx, req.StationID, req.Parameter, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", req.StationID, req.Parameter, err)
	}
	return s, nil
}

func (o *Orchestrator) fillWithModel(ctx context.Context, s *series.Series, bundle *Bundle) (*ImputedSeries, error) {
	L := o.cfg.SequenceLength

	fs, err := BuildFeatures(s)
	if err != nil {
		return nil, fmt.Errorf("fill %s/%s: %w", s.StationID, s.Parameter, err)
	}
	scaled, err := bundle.Scaler.Transform(fs.Matrix)
	if err != nil {
		return nil, fmt.Errorf("fill %s/%s: scaler disagrees with feature grid: %v: %w",
			s.StationID, s.Parameter, err, ErrCorruptArtifact)
	}

	out := &ImputedSeries{StationID: s.StationID, Parameter: s.Parameter}
	out.Rows = make([]ImputedRow, s.Len())

	for t := 0; t < s.Len(); t++ {
		obs := s.Observations[t]
		row := ImputedRow{
			Timestamp: obs.Timestamp,
			Value:     obs.Value,
			WasGap:    obs.Value == nil,
			Filled:    obs.Value,
		}
		if row.WasGap {
			out.GapCount++
		}

		if t < L {
			// No full preceding window; a gap here stays unfilled.
			if row.WasGap {
				out.FailedRows++
				o.logger.Debugw("gap precedes first full window, left unfilled",
					"parameter", s.Parameter, "timestamp", obs.Timestamp)
			}
			out.Rows[t] = row
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fill %s/%s: %w", s.StationID, s.Parameter, err)
		}

		raw, err := bundle.Model.Predict(scaled[t-L : t])
		if err != nil {
			// One bad timestep must not invalidate the batch.
			out.FailedRows++
			o.logger.Warnw("window prediction failed",
				"parameter", s.Parameter, "timestamp", obs.Timestamp, "error", err)
			out.Rows[t] = row
			continue
		}

		pred, err := bundle.Scaler.InverseValue(featValue, raw)
		if err != nil {
			return nil, fmt.Errorf("fill %s/%s: %w", s.StationID, s.Parameter, err)
		}
		if pred < 0 {
			// Concentrations are non-negative; clamp model undershoot.
			pred = 0
		}
		row.Predicted = &pred

		if row.WasGap {
			row.Filled = &pred
			out.FilledGaps++
			// Later windows see the filled value through the value column.
			sv, serr := bundle.Scaler.ScaleValue(featValue, pred)
			if serr == nil {
				scaled[t][featValue] = sv
			}
		}
		out.Rows[t] = row
	}

	return out, nil
}

// passthrough emits a gap-free series unchanged, with no predictions.
func (o *Orchestrator) passthrough(s *series.Series) *ImputedSeries {
	out := &ImputedSeries{StationID: s.StationID, Parameter: s.Parameter}
	out.Rows = make([]ImputedRow, s.Len())
	for t, obs := range s.Observations {
		out.Rows[t] = ImputedRow{
			Timestamp: obs.Timestamp,
			Value:     obs.Value,
			Filled:    obs.Value,
		}
	}
	return out
}

// interpolate is the opt-in heuristic fallback: interior gaps get linear
// interpolation between the surrounding observations, leading and trailing
// gap runs stay unfilled. Predictions are left null so callers can tell
// heuristic fills from model fills.
func (o *Orchestrator) interpolate(s *series.Series) *ImputedSeries {
	out := &ImputedSeries{StationID: s.StationID, Parameter: s.Parameter}
	out.Rows = make([]ImputedRow, s.Len())
	values := s.Values()

	for t, obs := range s.Observations {
		row := ImputedRow{
			Timestamp: obs.Timestamp,
			Value:     obs.Value,
			WasGap:    obs.Value == nil,
			Filled:    obs.Value,
		}
		if row.WasGap {
			out.GapCount++
			if v, ok := lerpAcrossGap(values, t); ok {
				row.Filled = &v
				out.FilledGaps++
			} else {
				out.FailedRows++
			}
		}
		out.Rows[t] = row
	}
	return out
}

func lerpAcrossGap(values []*float64, t int) (float64, bool) {
	lo := t - 1
	for lo >= 0 && values[lo] == nil {
		lo--
	}
	hi := t + 1
	for hi < len(values) && values[hi] == nil {
		hi++
	}
	if lo < 0 || hi >= len(values) {
		return 0, false
	}
	frac := float64(t-lo) / float64(hi-lo)
	return *values[lo] + frac*(*values[hi]-*values[lo]), true
}
