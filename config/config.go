// Package config layers the CLI configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"revisit/survival"
	"revisit/train"
)

// DataConfig locates and windows the event log.
type DataConfig struct {
	// CSVGlob selects the event files. Empty means generate a synthetic
	// cohort instead.
	CSVGlob    string   `koanf:"csv_glob" json:"csv_glob"`
	SubjectCol string   `koanf:"subject_col" json:"subject_col"`
	TimeCol    string   `koanf:"time_col" json:"time_col"`
	CatCols    []string `koanf:"cat_cols" json:"cat_cols"`
	NumCols    []string `koanf:"num_cols" json:"num_cols"`

	ActivityEnd   float64 `koanf:"activity_end" json:"activity_end"`
	PredictionEnd float64 `koanf:"prediction_end" json:"prediction_end"`
	MaxSeqLen     int     `koanf:"max_seq_len" json:"max_seq_len"`

	ValFraction float64 `koanf:"val_fraction" json:"val_fraction"`

	// Synthetic cohort knobs, used only when CSVGlob is empty.
	Subjects int   `koanf:"subjects" json:"subjects"`
	Seed     int64 `koanf:"seed" json:"seed"`
}

// StoreConfig selects the run-history backend.
type StoreConfig struct {
	Backend string `koanf:"backend" json:"backend"`
	Path    string `koanf:"path" json:"path"`
}

// OutputConfig names the artifacts a run writes.
type OutputConfig struct {
	ModelPath string `koanf:"model_path" json:"model_path"`
	PlotPath  string `koanf:"plot_path" json:"plot_path"`
	Notes     string `koanf:"notes" json:"notes"`
}

// Config is the full CLI configuration.
type Config struct {
	Data     DataConfig      `koanf:"data" json:"data"`
	Model    survival.Config `koanf:"model" json:"model"`
	Training train.Config    `koanf:"training" json:"training"`
	Store    StoreConfig     `koanf:"store" json:"store"`
	Output   OutputConfig    `koanf:"output" json:"output"`
}

// New returns the default configuration: a small synthetic cohort trained for
// a handful of epochs with run history kept in memory.
func New() *Config {
	return &Config{
		Data: DataConfig{
			SubjectCol:    "subject",
			TimeCol:       "t",
			ActivityEnd:   300,
			PredictionEnd: 400,
			MaxSeqLen:     100,
			ValFraction:   0.2,
			Subjects:      200,
			Seed:          1,
		},
		Model: survival.Config{
			CatSizes:  []int{8},
			EmbDims:   []int{4},
			NumFeats:  1,
			W:         0.1,
			TimeScale: 0.1,
			Seed:      1,
		},
		Training: train.Config{
			Epochs:    20,
			BatchSize: 64,
			PredStart: 300,
			PredEnd:   400,
			Seed:      1,
		},
		Store: StoreConfig{Backend: "memory"},
		Output: OutputConfig{
			ModelPath: "model.json",
			PlotPath:  "history.png",
		},
	}
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REVISIT_CONFIG is set
//  3. env (prefix REVISIT_, with "__" separating nested keys, e.g.
//     REVISIT_TRAINING__EPOCHS)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("REVISIT_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	envProvider := env.Provider("REVISIT_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "revisit_")
		if s == "config" {
			return "" // REVISIT_CONFIG names the file, not a key
		}
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-section constraints the individual packages
// cannot see on their own.
func (c *Config) Validate() error {
	if c.Data.PredictionEnd <= c.Data.ActivityEnd {
		return fmt.Errorf("data: prediction end %v must be after activity end %v",
			c.Data.PredictionEnd, c.Data.ActivityEnd)
	}
	if c.Data.ValFraction < 0 || c.Data.ValFraction >= 1 {
		return fmt.Errorf("data: validation fraction must be in [0,1), got %v", c.Data.ValFraction)
	}
	if c.Training.PredStart < c.Data.ActivityEnd {
		return fmt.Errorf("training: prediction start %v precedes the observed history end %v",
			c.Training.PredStart, c.Data.ActivityEnd)
	}
	if c.Data.CSVGlob != "" && (c.Data.SubjectCol == "" || c.Data.TimeCol == "") {
		return fmt.Errorf("data: subject and time columns are required for CSV input")
	}
	return nil
}
