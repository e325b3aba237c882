package survival

import (
	"encoding/json"
	"fmt"
	"os"
)

const bundleVersion = 1

// weightGroup is one named weight tensor in a saved bundle, stored row-major.
// Vectors use Cols = 1.
type weightGroup struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

type bundle struct {
	Version int                    `json:"version"`
	Config  Config                 `json:"config"`
	Groups  map[string]weightGroup `json:"groups"`
}

// Save writes all model weights to path as a versioned JSON bundle. Groups
// are named by layer: embeddings.<field>, input_dense, lstm, hidden_dense and
// output_dense, with .weight/.bias suffixes for the dense layers and
// .input_weight/.hidden_weight/.bias for the recurrent one.
func (m *Model) Save(path string) error {
	b := bundle{
		Version: bundleVersion,
		Config:  m.cfg,
		Groups:  map[string]weightGroup{},
	}
	for f, emb := range m.embeddings {
		raw := emb.RawMatrix()
		b.Groups[fmt.Sprintf("embeddings.%d", f)] = weightGroup{
			Rows: raw.Rows, Cols: raw.Cols, Data: raw.Data,
		}
	}
	dense := func(name string, data []float64, rows, cols int) {
		b.Groups[name] = weightGroup{Rows: rows, Cols: cols, Data: data}
	}
	dense("input_dense.weight", m.wIn.RawMatrix().Data, m.cfg.InputSize, m.cfg.rawDim())
	dense("input_dense.bias", m.bIn.RawVector().Data, m.cfg.InputSize, 1)
	dense("lstm.input_weight", m.wLSTMx.RawMatrix().Data, 4*m.cfg.LSTMHiddenSize, m.cfg.InputSize)
	dense("lstm.hidden_weight", m.wLSTMh.RawMatrix().Data, 4*m.cfg.LSTMHiddenSize, m.cfg.LSTMHiddenSize)
	dense("lstm.bias", m.bLSTM.RawVector().Data, 4*m.cfg.LSTMHiddenSize, 1)
	dense("hidden_dense.weight", m.wHid.RawMatrix().Data, m.cfg.HiddenSize, m.cfg.LSTMHiddenSize)
	dense("hidden_dense.bias", m.bHid.RawVector().Data, m.cfg.HiddenSize, 1)
	dense("output_dense.weight", m.wOut.RawVector().Data, m.cfg.HiddenSize, 1)
	dense("output_dense.bias", m.bOut.RawVector().Data, 1, 1)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create model bundle: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(b); err != nil {
		f.Close()
		return fmt.Errorf("encode model bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close model bundle: %w", err)
	}
	return nil
}

// Load reads a bundle written by Save into the model. Every expected group
// must be present with the exact dimensions this model's configuration
// implies; nothing is copied until the whole bundle has been checked, so a
// failed load never leaves the model half-updated.
func (m *Model) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open model bundle: %w", err)
	}
	defer f.Close()

	var b bundle
	if err := json.NewDecoder(f).Decode(&b); err != nil {
		return fmt.Errorf("decode model bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return fmt.Errorf("model bundle version %d, want %d", b.Version, bundleVersion)
	}

	type target struct {
		name       string
		dst        []float64
		rows, cols int
	}
	targets := make([]target, 0, len(m.embeddings)+9)
	for fi, emb := range m.embeddings {
		raw := emb.RawMatrix()
		targets = append(targets, target{fmt.Sprintf("embeddings.%d", fi), raw.Data, raw.Rows, raw.Cols})
	}
	targets = append(targets,
		target{"input_dense.weight", m.wIn.RawMatrix().Data, m.cfg.InputSize, m.cfg.rawDim()},
		target{"input_dense.bias", m.bIn.RawVector().Data, m.cfg.InputSize, 1},
		target{"lstm.input_weight", m.wLSTMx.RawMatrix().Data, 4 * m.cfg.LSTMHiddenSize, m.cfg.InputSize},
		target{"lstm.hidden_weight", m.wLSTMh.RawMatrix().Data, 4 * m.cfg.LSTMHiddenSize, m.cfg.LSTMHiddenSize},
		target{"lstm.bias", m.bLSTM.RawVector().Data, 4 * m.cfg.LSTMHiddenSize, 1},
		target{"hidden_dense.weight", m.wHid.RawMatrix().Data, m.cfg.HiddenSize, m.cfg.LSTMHiddenSize},
		target{"hidden_dense.bias", m.bHid.RawVector().Data, m.cfg.HiddenSize, 1},
		target{"output_dense.weight", m.wOut.RawVector().Data, m.cfg.HiddenSize, 1},
		target{"output_dense.bias", m.bOut.RawVector().Data, 1, 1},
	)

	for _, t := range targets {
		grp, ok := b.Groups[t.name]
		if !ok {
			return fmt.Errorf("model bundle is missing group %q", t.name)
		}
		if grp.Rows != t.rows || grp.Cols != t.cols || len(grp.Data) != t.rows*t.cols {
			return fmt.Errorf("group %q has shape %dx%d (%d values), want %dx%d",
				t.name, grp.Rows, grp.Cols, len(grp.Data), t.rows, t.cols)
		}
	}
	for _, t := range targets {
		copy(t.dst, b.Groups[t.name].Data)
	}
	return nil
}
