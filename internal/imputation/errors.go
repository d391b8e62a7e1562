package imputation

import "errors"

// Failure conditions that invalidate an entire request or training run. They
// are returned as explicit results, never absorbed; per-window prediction
// failures are the only condition handled locally (see Orchestrator.Fill).
var (
	// ErrInsufficientData means the series carries fewer rows than one
	// window, so no training example or inference window can be built.
	ErrInsufficientData = errors.New("insufficient data: series shorter than one window")

	// ErrNotFitted means a scaler or model was used before Fit/Load. This is
	// an ordering bug in the caller, not a data condition.
	ErrNotFitted = errors.New("not fitted")

	// ErrModelNotTrained means no persisted artifact exists for the requested
	// parameter. The caller may fall back to returning unfilled data.
	ErrModelNotTrained = errors.New("no trained model for parameter")

	// ErrDataUnavailable means the upstream source returned no usable data.
	ErrDataUnavailable = errors.New("upstream data unavailable")

	// ErrCorruptArtifact means a persisted model/scaler/metadata unit is
	// incomplete or internally inconsistent. Distinct from ErrModelNotTrained:
	// the remediation is a retrain, not a first train.
	ErrCorruptArtifact = errors.New("corrupt model artifact")
)
