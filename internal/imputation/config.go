package imputation

// Config is the single source of truth for pipeline constants. It is built
// once from the application configuration and passed explicitly into the
// trainer and orchestrator; nothing in this package reads embedded defaults.
type Config struct {
	// SequenceLength is the number of preceding hourly rows fed to the model
	// for each prediction.
	SequenceLength int `json:"sequence_length" mapstructure:"sequence_length"`

	// HiddenSizes are the widths of the stacked recurrent layers, outermost
	// first. At least two layers are expected.
	HiddenSizes []int `json:"hidden_sizes" mapstructure:"hidden_sizes"`

	Dropout      float64 `json:"dropout" mapstructure:"dropout"`
	LearningRate float64 `json:"learning_rate" mapstructure:"learning_rate"`
	BatchSize    int     `json:"batch_size" mapstructure:"batch_size"`
	MaxEpochs    int     `json:"max_epochs" mapstructure:"max_epochs"`

	// Patience is the number of consecutive epochs without validation-loss
	// improvement tolerated before training halts early.
	Patience int `json:"patience" mapstructure:"patience"`

	// ValidationSplit is the chronological tail fraction of valid windows
	// held out for early stopping and metric reporting.
	ValidationSplit float64 `json:"validation_split" mapstructure:"validation_split"`

	// DaysOfHistory is how far back the training CLI fetches upstream data.
	DaysOfHistory int `json:"days_of_history" mapstructure:"days_of_history"`

	// AllowHeuristicFallback enables linear interpolation of gaps when no
	// trained model exists instead of failing with ErrModelNotTrained. Off by
	// default: a silent heuristic is an explicit operator choice, never an
	// implicit one.
	AllowHeuristicFallback bool `json:"allow_heuristic_fallback" mapstructure:"allow_heuristic_fallback"`
}

// DefaultConfig mirrors the training setup the production models were built
// with: 24-hour windows, two stacked recurrent layers, chronological 90/10
// split.
func DefaultConfig() Config {
	return Config{
		SequenceLength:  24,
		HiddenSizes:     []int{64, 32},
		Dropout:         0.2,
		LearningRate:    0.001,
		BatchSize:       16,
		MaxEpochs:       100,
		Patience:        15,
		ValidationSplit: 0.1,
		DaysOfHistory:   90,
	}
}
