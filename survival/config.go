// Package survival implements a recurrent survival model for next-return
// prediction: an LSTM over per-event feature encodings feeds a scalar hazard
// head, trained with a censoring-aware negative log-likelihood and queried by
// numerically integrating the survival curve.
package survival

import (
	"fmt"
	"time"
)

// Config holds the model hyperparameters. All values are fixed for the
// lifetime of a model instance.
type Config struct {
	// CatSizes lists the cardinality of each categorical field; real codes are
	// 1..CatSizes[f], code 0 is the reserved "none"/padding code. EmbDims
	// gives the embedding width per field and must match CatSizes in length.
	CatSizes []int `koanf:"cat_sizes" json:"cat_sizes"`
	EmbDims  []int `koanf:"emb_dims" json:"emb_dims"`

	// NumFeats is the number of numeric features per event.
	NumFeats int `koanf:"num_feats" json:"num_feats"`

	// InputSize is the width of the encoded per-event vector fed to the
	// recurrent layer; LSTMHiddenSize the recurrent state width; HiddenSize
	// the post-recurrent working width.
	InputSize      int `koanf:"input_size" json:"input_size"`
	LSTMHiddenSize int `koanf:"lstm_hidden_size" json:"lstm_hidden_size"`
	HiddenSize     int `koanf:"hidden_size" json:"hidden_size"`

	// Dropout is the stochastic mask probability, active only when a forward
	// pass is run in training mode.
	Dropout float64 `koanf:"dropout" json:"dropout"`

	// W is the hazard slope: the hazard at elapsed scaled time t since the
	// last event is exp(o + W·t). TimeScale rescales raw time gaps into the
	// hazard's time units.
	W         float64 `koanf:"w" json:"w"`
	TimeScale float64 `koanf:"time_scale" json:"time_scale"`

	// IntegrationSteps is the number of grid points used when integrating the
	// survival curve for prediction.
	IntegrationSteps int `koanf:"integration_steps" json:"integration_steps"`

	// Seed controls weight initialization and dropout. If zero, a time-based
	// seed is used.
	Seed int64 `koanf:"seed" json:"seed"`
}

// applyDefaults fills zero fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.InputSize == 0 {
		c.InputSize = 32
	}
	if c.LSTMHiddenSize == 0 {
		c.LSTMHiddenSize = 64
	}
	if c.HiddenSize == 0 {
		c.HiddenSize = 32
	}
	if c.W == 0 {
		c.W = 0.1
	}
	if c.TimeScale == 0 {
		c.TimeScale = 1.0
	}
	if c.IntegrationSteps == 0 {
		c.IntegrationSteps = 1000
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Validate rejects degenerate hyperparameters at configuration time, before
// they can surface as non-finite values inside the loss or the predictors.
func (c Config) Validate() error {
	if len(c.CatSizes) == 0 && c.NumFeats == 0 {
		return fmt.Errorf("model needs at least one categorical or numeric feature")
	}
	if len(c.CatSizes) != len(c.EmbDims) {
		return fmt.Errorf("cat_sizes has %d fields but emb_dims has %d", len(c.CatSizes), len(c.EmbDims))
	}
	for f, size := range c.CatSizes {
		if size < 1 {
			return fmt.Errorf("categorical field %d has cardinality %d, want >= 1", f, size)
		}
		if c.EmbDims[f] < 1 {
			return fmt.Errorf("categorical field %d has embedding width %d, want >= 1", f, c.EmbDims[f])
		}
	}
	if c.NumFeats < 0 {
		return fmt.Errorf("numeric feature count must be >= 0, got %d", c.NumFeats)
	}
	if c.InputSize < 1 || c.LSTMHiddenSize < 1 || c.HiddenSize < 1 {
		return fmt.Errorf("layer widths must be >= 1 (input=%d lstm=%d hidden=%d)",
			c.InputSize, c.LSTMHiddenSize, c.HiddenSize)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	}
	if c.W <= 0 {
		return fmt.Errorf("hazard slope w must be > 0, got %v", c.W)
	}
	if c.TimeScale <= 0 {
		return fmt.Errorf("time scale must be > 0, got %v", c.TimeScale)
	}
	if c.IntegrationSteps < 2 {
		return fmt.Errorf("integration steps must be >= 2, got %d", c.IntegrationSteps)
	}
	return nil
}

// rawDim is the width of the concatenated embedding + numeric vector.
func (c Config) rawDim() int {
	d := c.NumFeats
	for _, w := range c.EmbDims {
		d += w
	}
	return d
}
