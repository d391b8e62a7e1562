package imputation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ArtifactStore persists trained model/scaler/metadata units on disk, keyed
// by parameter code. The three files of a unit are written and read
// together; a unit with some files missing, or whose shapes disagree, is
// corrupt rather than absent — retraining, not first training, is the fix.
type ArtifactStore struct {
	dir    string
	logger *zap.SugaredLogger
}

// Bundle is one loaded artifact unit, immutable once loaded.
type Bundle struct {
	Model  *LSTMNetwork
	Scaler *MinMaxScaler
	Meta   Metadata
}

// NewArtifactStore creates the model directory if needed.
func NewArtifactStore(dir string, logger *zap.SugaredLogger) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact store: create %s: %w", dir, err)
	}
	return &ArtifactStore{dir: dir, logger: logger}, nil
}

func (a *ArtifactStore) paths(parameter string) (model, scaler, meta string) {
	base := filepath.Join(a.dir, "lstm_"+strings.ToLower(parameter))
	return base + "_model.json", base + "_scaler.json", base + "_meta.json"
}

// Exists reports whether a complete artifact unit is present for parameter.
func (a *ArtifactStore) Exists(parameter string) bool {
	mp, sp, dp := a.paths(parameter)
	return fileExists(mp) && fileExists(sp) && fileExists(dp)
}

// Save writes a complete artifact unit. The metadata file is written last so
// a crash mid-save leaves a unit that loads as corrupt instead of silently
// serving half-written weights.
func (a *ArtifactStore) Save(parameter string, model *LSTMNetwork, scaler *MinMaxScaler, meta Metadata) error {
	if model == nil || scaler == nil {
		return fmt.Errorf("artifact save %s: nil model or scaler", parameter)
	}
	if !scaler.Fitted() {
		return fmt.Errorf("artifact save %s: %w", parameter, ErrNotFitted)
	}
	mp, sp, dp := a.paths(parameter)
	if err := writeJSON(mp, model); err != nil {
		return fmt.Errorf("artifact save %s: %w", parameter, err)
	}
	if err := writeJSON(sp, scaler); err != nil {
		return fmt.Errorf("artifact save %s: %w", parameter, err)
	}
	if err := writeJSON(dp, meta); err != nil {
		return fmt.Errorf("artifact save %s: %w", parameter, err)
	}
	a.logger.Infow("artifact saved",
		"parameter", parameter,
		"model_file", mp,
		"feature_count", meta.FeatureCount,
		"sequence_length", meta.SequenceLength,
	)
	return nil
}

// Load reads and validates an artifact unit. A fully absent unit yields
// ErrModelNotTrained; a partial or internally inconsistent one yields
// ErrCorruptArtifact.
func (a *ArtifactStore) Load(parameter string) (*Bundle, error) {
	mp, sp, dp := a.paths(parameter)

	present := 0
	for _, p := range []string{mp, sp, dp} {
		if fileExists(p) {
			present++
		}
	}
	if present == 0 {
		return nil, fmt.Errorf("artifact load %s: %w", parameter, ErrModelNotTrained)
	}
	if present < 3 {
		return nil, fmt.Errorf("artifact load %s: incomplete unit (%d of 3 files): %w",
			parameter, present, ErrCorruptArtifact)
	}

	var model LSTMNetwork
	if err := readJSON(mp, &model); err != nil {
		return nil, fmt.Errorf("artifact load %s: model: %v: %w", parameter, err, ErrCorruptArtifact)
	}
	scaler := NewMinMaxScaler()
	if err := readJSON(sp, scaler); err != nil {
		return nil, fmt.Errorf("artifact load %s: scaler: %v: %w", parameter, err, ErrCorruptArtifact)
	}
	var meta Metadata
	if err := readJSON(dp, &meta); err != nil {
		return nil, fmt.Errorf("artifact load %s: metadata: %v: %w", parameter, err, ErrCorruptArtifact)
	}

	if err := validateBundle(&model, scaler, meta); err != nil {
		return nil, fmt.Errorf("artifact load %s: %v: %w", parameter, err, ErrCorruptArtifact)
	}

	model.AttachRuntime(a.logger)
	return &Bundle{Model: &model, Scaler: scaler, Meta: meta}, nil
}

// LoadMeta reads only the metadata file, without touching the weights.
func (a *ArtifactStore) LoadMeta(parameter string) (*Metadata, error) {
	if !a.Exists(parameter) {
		return nil, fmt.Errorf("artifact meta %s: %w", parameter, ErrModelNotTrained)
	}
	_, _, dp := a.paths(parameter)
	var meta Metadata
	if err := readJSON(dp, &meta); err != nil {
		return nil, fmt.Errorf("artifact meta %s: %v: %w", parameter, err, ErrCorruptArtifact)
	}
	return &meta, nil
}

func validateBundle(model *LSTMNetwork, scaler *MinMaxScaler, meta Metadata) error {
	if !model.Trained {
		return fmt.Errorf("model is not marked trained")
	}
	if !scaler.Fitted() {
		return fmt.Errorf("scaler has no fitted parameters")
	}
	if model.InputSize != scaler.NumFeatures() {
		return fmt.Errorf("model expects %d features but scaler has %d", model.InputSize, scaler.NumFeatures())
	}
	if meta.FeatureCount != 0 && meta.FeatureCount != model.InputSize {
		return fmt.Errorf("metadata feature count %d disagrees with model %d", meta.FeatureCount, model.InputSize)
	}
	if meta.SequenceLength != 0 && meta.SequenceLength != model.SeqLen {
		return fmt.Errorf("metadata sequence length %d disagrees with model %d", meta.SequenceLength, model.SeqLen)
	}
	if len(model.Layers) < 2 {
		return fmt.Errorf("model has %d recurrent layers, want at least 2", len(model.Layers))
	}
	prev := model.InputSize
	for i, l := range model.Layers {
		if l.InputSize != prev || len(l.Wx) != 4*l.HiddenSize || len(l.Wh) != 4*l.HiddenSize || len(l.B) != 4*l.HiddenSize {
			return fmt.Errorf("layer %d weight shapes are inconsistent", i)
		}
		prev = l.HiddenSize
	}
	if len(model.WOut) != prev {
		return fmt.Errorf("output projection width %d disagrees with last hidden size %d", len(model.WOut), prev)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
