package train

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"revisit/datasets"
	"revisit/survival"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func syntheticSplit(t *testing.T) (datasets.Dataset, datasets.Dataset) {
	t.Helper()
	seqs, err := datasets.GenerateSequences(datasets.SyntheticOptions{
		Subjects:         80,
		CatSizes:         []int{4},
		NumFeats:         1,
		W:                0.1,
		LogIntensityMean: -2.5,
		LogIntensityStd:  0.6,
		ActivityEnd:      300,
		PredictionEnd:    400,
		MaxSeqLen:        40,
		Seed:             13,
	})
	if err != nil {
		t.Fatalf("GenerateSequences error: %v", err)
	}
	ds, err := datasets.FromSequences(seqs, 400)
	if err != nil {
		t.Fatalf("FromSequences error: %v", err)
	}
	training, validation, err := ds.Split(0.2)
	if err != nil {
		t.Fatalf("Split error: %v", err)
	}
	return training, validation
}

func TestTrainingReducesLoss(t *testing.T) {
	training, validation := syntheticSplit(t)
	model, err := survival.NewModel(survival.Config{
		CatSizes:         []int{4},
		EmbDims:          []int{3},
		NumFeats:         1,
		InputSize:        8,
		LSTMHiddenSize:   8,
		HiddenSize:       8,
		W:                0.1,
		TimeScale:        0.1,
		IntegrationSteps: 500,
		Seed:             21,
	})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	tr, err := New(model, Config{
		Epochs:    8,
		BatchSize: 16,
		Adam:      AdamConfig{LearningRate: 5e-3},
		PredStart: 300,
		PredEnd:   400,
		Seed:      3,
	}, quietLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	history, err := tr.Run(training, validation)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("expected 8 epochs of history, got %d", len(history))
	}
	first, last := history[0], history[len(history)-1]
	if !(last.Loss < first.Loss) {
		t.Fatalf("training loss did not decrease: %v -> %v", first.Loss, last.Loss)
	}
	for _, h := range history {
		if math.IsNaN(h.Loss) || math.IsInf(h.Loss, 0) {
			t.Fatalf("non-finite training loss at epoch %d", h.Epoch)
		}
	}
}

func TestEvaluatePredictionsRespectWindow(t *testing.T) {
	training, _ := syntheticSplit(t)
	model, err := survival.NewModel(survival.Config{
		CatSizes:         []int{4},
		EmbDims:          []int{3},
		NumFeats:         1,
		InputSize:        8,
		LSTMHiddenSize:   8,
		HiddenSize:       8,
		W:                0.1,
		TimeScale:        0.1,
		IntegrationSteps: 500,
		Seed:             5,
	})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	tr, err := New(model, Config{
		Epochs:    1,
		BatchSize: 16,
		PredStart: 300,
		PredEnd:   400,
	}, quietLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	preds, targets, err := tr.Predictions(training)
	if err != nil {
		t.Fatalf("Predictions error: %v", err)
	}
	if len(preds) != training.Len() || len(targets) != training.Len() {
		t.Fatalf("got %d predictions and %d targets for %d sequences",
			len(preds), len(targets), training.Len())
	}
	for i, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			t.Fatalf("non-finite prediction at %d", i)
		}
	}

	stats, err := tr.Evaluate(training)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if math.IsNaN(stats.ValLoss) || math.IsInf(stats.ValLoss, 0) {
		t.Fatalf("non-finite validation loss")
	}
	if !math.IsNaN(stats.Recall) && (stats.Recall < 0 || stats.Recall > 1) {
		t.Fatalf("recall %v outside [0,1]", stats.Recall)
	}
	if !math.IsNaN(stats.AUC) && (stats.AUC < 0 || stats.AUC > 1) {
		t.Fatalf("AUC %v outside [0,1]", stats.AUC)
	}
}

func TestNewRejectsInvertedWindow(t *testing.T) {
	model, err := survival.NewModel(survival.Config{
		CatSizes: []int{2}, EmbDims: []int{2}, NumFeats: 1,
	})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if _, err := New(model, Config{PredStart: 10, PredEnd: 5}, quietLogger()); err == nil {
		t.Fatalf("expected error for inverted prediction window")
	}
}
