package imputation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/aircast-th/aircast/internal/series"
)

// Metrics are the validation-partition evaluation results of one training
// run, reported in the measurement domain.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
	// AccuracyWithin5 is the fraction of validation predictions whose
	// absolute relative error is at most 5%.
	AccuracyWithin5 float64 `json:"accuracy_within_5pct"`
}

// Metadata describes a persisted model/scaler pair. It is stored alongside
// the weights and answers "is a usable model available" and "how good is it"
// without loading the model itself.
type Metadata struct {
	ID              string    `json:"id"`
	Parameter       string    `json:"parameter"`
	Metrics         Metrics   `json:"metrics"`
	TrainWindows    int       `json:"train_windows"`
	ValWindows      int       `json:"val_windows"`
	SequenceLength  int       `json:"sequence_length"`
	FeatureCount    int       `json:"feature_count"`
	EpochsRun       int       `json:"epochs_run"`
	TrainedAt       time.Time `json:"trained_at"`
	TrainingSeconds float64   `json:"training_seconds"`
}

// TrainResult bundles the artifacts of one completed run.
type TrainResult struct {
	Model  *LSTMNetwork
	Scaler *MinMaxScaler
	Meta   Metadata
}

// Trainer fits a scaler and a sequence model on one series and persists the
// resulting artifact unit. It is a batch-side component: nothing in the
// request path ever constructs or invokes it.
type Trainer struct {
	cfg    Config
	store  *ArtifactStore
	logger *zap.SugaredLogger
}

// NewTrainer returns a trainer writing artifacts through store. store may be
// nil, in which case results are returned but not persisted.
func NewTrainer(cfg Config, store *ArtifactStore, logger *zap.SugaredLogger) *Trainer {
	return &Trainer{cfg: cfg, store: store, logger: logger}
}

// Train runs the full pipeline on a historical series: feature building,
// chronological train/validation split, scaler fit on the training partition
// only, model fit with early stopping, and metric evaluation on the held-out
// partition. Only fully observed windows (no gap in the inputs or the
// target) become training examples; the validation partition is always the
// most recent fraction so no future information leaks into training.
func (t *Trainer) Train(ctx context.Context, s *series.Series) (*TrainResult, error) {
	started := time.Now()
	L := t.cfg.SequenceLength

	if s.Len() <= L {
		return nil, fmt.Errorf("train %s/%s: %d rows: %w", s.StationID, s.Parameter, s.Len(), ErrInsufficientData)
	}

	fs, err := BuildFeatures(s)
	if err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}

	validMask := fs.ValidWindowMask(L)
	var validTargets []int
	for idx, ok := range validMask {
		if ok {
			validTargets = append(validTargets, idx)
		}
	}
	if len(validTargets) < 2 {
		return nil, fmt.Errorf("train %s/%s: %d fully observed windows: %w",
			s.StationID, s.Parameter, len(validTargets), ErrInsufficientData)
	}

	nVal := int(float64(len(validTargets))*t.cfg.ValidationSplit + 0.5)
	if nVal < 1 {
		nVal = 1
	}
	if nVal >= len(validTargets) {
		nVal = len(validTargets) - 1
	}
	nTrain := len(validTargets) - nVal

	// The scaler sees only rows up to the last training-partition target so
	// validation data cannot influence the normalization.
	lastTrainRow := validTargets[nTrain-1]
	scaler := NewMinMaxScaler()
	if err := scaler.Fit(fs.Matrix[:lastTrainRow+1]); err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}
	scaled, err := scaler.Transform(fs.Matrix)
	if err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}

	windows, err := BuildWindows(scaled, L)
	if err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}
	byTarget := make(map[int]Window, len(windows))
	for _, w := range windows {
		byTarget[w.TargetIndex] = w
	}

	inputs := make([][][]float64, 0, len(validTargets))
	targets := make([]float64, 0, len(validTargets))
	for _, idx := range validTargets {
		w := byTarget[idx]
		inputs = append(inputs, w.Inputs)
		targets = append(targets, w.Target)
	}

	model, err := NewLSTMNetwork(NumFeatures, L, t.cfg.HiddenSizes, t.cfg.Dropout, t.logger)
	if err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}

	report, err := model.Fit(ctx, inputs, targets, FitOptions{
		ValidationSplit: float64(nVal) / float64(len(validTargets)),
		MaxEpochs:       t.cfg.MaxEpochs,
		Patience:        t.cfg.Patience,
		BatchSize:       t.cfg.BatchSize,
		LearningRate:    t.cfg.LearningRate,
	})
	if err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}

	metrics, err := t.evaluate(model, scaler, s, inputs[nTrain:], validTargets[nTrain:])
	if err != nil {
		return nil, fmt.Errorf("train %s/%s: %w", s.StationID, s.Parameter, err)
	}

	meta := Metadata{
		ID:              uuid.NewString(),
		Parameter:       s.Parameter,
		Metrics:         *metrics,
		TrainWindows:    nTrain,
		ValWindows:      nVal,
		SequenceLength:  L,
		FeatureCount:    NumFeatures,
		EpochsRun:       report.EpochsRun,
		TrainedAt:       time.Now().UTC(),
		TrainingSeconds: time.Since(started).Seconds(),
	}

	t.logger.Infow("training run completed",
		"parameter", s.Parameter,
		"train_windows", nTrain,
		"val_windows", nVal,
		"epochs", report.EpochsRun,
		"mae", metrics.MAE,
		"rmse", metrics.RMSE,
		"r2", metrics.R2,
		"accuracy_5pct", metrics.AccuracyWithin5,
	)

	if t.store != nil {
		if err := t.store.Save(s.Parameter, model, scaler, meta); err != nil {
			return nil, fmt.Errorf("train %s/%s: persist: %w", s.StationID, s.Parameter, err)
		}
	}

	return &TrainResult{Model: model, Scaler: scaler, Meta: meta}, nil
}

// evaluate scores the model on the held-out windows in the measurement
// domain. Validation targets are originally observed values by construction.
func (t *Trainer) evaluate(model *LSTMNetwork, scaler *MinMaxScaler, s *series.Series, valInputs [][][]float64, valTargets []int) (*Metrics, error) {
	if len(valInputs) == 0 {
		return nil, fmt.Errorf("evaluate: no validation windows")
	}

	truths := make([]float64, 0, len(valInputs))
	preds := make([]float64, 0, len(valInputs))
	for k, w := range valInputs {
		raw, err := model.Predict(w)
		if err != nil {
			return nil, fmt.Errorf("evaluate: window %d: %w", k, err)
		}
		pred, err := scaler.InverseValue(featValue, raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
		truths = append(truths, *s.Observations[valTargets[k]].Value)
	}

	var absSum, sqSum float64
	within := 0
	for i := range preds {
		d := truths[i] - preds[i]
		absSum += math.Abs(d)
		sqSum += d * d
		if math.Abs(d)/(math.Abs(truths[i])+1e-8) <= 0.05 {
			within++
		}
	}
	n := float64(len(preds))

	return &Metrics{
		MAE:             absSum / n,
		RMSE:            math.Sqrt(sqSum / n),
		R2:              stat.RSquaredFrom(preds, truths, nil),
		AccuracyWithin5: float64(within) / n,
	}, nil
}
