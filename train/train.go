// Package train fits a recurrent survival model to an event-log dataset with
// Adam, tracking loss and churn metrics per epoch.
package train

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"revisit/datasets"
)

// PointProcess is the inference surface of a next-return model: hazard
// outputs per step, their censored likelihood, and the two integral
// predictors.
type PointProcess interface {
	Forward(catFeats [][][]int, numFeats [][][]float64, lengths []int, training bool) ([][]float64, error)
	ComputeLoss(gaps [][]float64, paddingMask, returnMask [][]bool, hazard [][]float64) (float64, error)
	PredictStandard(lastO, lastT float64) float64
	Predict(lastO, lastT, predStart float64) (float64, error)
}

// Trainable adds what the optimizer needs: live parameter slices and the
// batch gradient in the same layout.
type Trainable interface {
	PointProcess
	Params() [][]float64
	LossGradients(batch *datasets.Batch) (float64, [][]float64, [][]float64, error)
}

// Config drives a training run.
type Config struct {
	Epochs    int `koanf:"epochs" json:"epochs"`
	BatchSize int `koanf:"batch_size" json:"batch_size"`

	Adam AdamConfig `koanf:"adam" json:"adam"`

	// PredStart and PredEnd bound the prediction window used when evaluating:
	// conditional predictions are taken at PredStart, and a prediction past
	// PredEnd counts as a churn call.
	PredStart float64 `koanf:"pred_start" json:"pred_start"`
	PredEnd   float64 `koanf:"pred_end" json:"pred_end"`

	Seed int64 `koanf:"seed" json:"seed"`
}

func (c *Config) applyDefaults() {
	if c.Epochs == 0 {
		c.Epochs = 20
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	c.Adam.applyDefaults()
}

// EpochStats is one row of the training history. RMSE, Recall and AUC are
// NaN when the validation set cannot support them.
type EpochStats struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"val_loss"`
	RMSE    float64 `json:"rmse"`
	Recall  float64 `json:"recall"`
	AUC     float64 `json:"auc"`
}

// Trainer runs the epoch loop for one model.
type Trainer struct {
	model Trainable
	cfg   Config
	opt   *Adam
	log   *logrus.Entry
}

func New(model Trainable, cfg Config, log *logrus.Logger) (*Trainer, error) {
	cfg.applyDefaults()
	if cfg.Epochs < 1 {
		return nil, fmt.Errorf("epoch count must be >= 1, got %d", cfg.Epochs)
	}
	if cfg.PredEnd < cfg.PredStart {
		return nil, fmt.Errorf("prediction window end %v precedes start %v", cfg.PredEnd, cfg.PredStart)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Trainer{
		model: model,
		cfg:   cfg,
		opt:   NewAdam(cfg.Adam),
		log:   log.WithField("component", "trainer"),
	}, nil
}

// Run fits the model on training and reports validation metrics after every
// epoch. validation may be nil, in which case only the training loss is
// tracked.
func (tr *Trainer) Run(training, validation datasets.Dataset) ([]EpochStats, error) {
	if training == nil || training.Len() == 0 {
		return nil, fmt.Errorf("empty training dataset")
	}
	history := make([]EpochStats, 0, tr.cfg.Epochs)
	for epoch := 1; epoch <= tr.cfg.Epochs; epoch++ {
		training.Shuffle(tr.cfg.Seed + int64(epoch))
		batches, err := training.Batches(tr.cfg.BatchSize)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch, err)
		}

		epochLoss := 0.0
		for bi, batch := range batches {
			loss, _, grads, err := tr.model.LossGradients(batch)
			if err != nil {
				return history, fmt.Errorf("epoch %d batch %d: %w", epoch, bi, err)
			}
			if err := tr.opt.Step(tr.model.Params(), grads); err != nil {
				return history, fmt.Errorf("epoch %d batch %d: %w", epoch, bi, err)
			}
			epochLoss += loss
		}
		stats := EpochStats{
			Epoch:   epoch,
			Loss:    epochLoss / float64(len(batches)),
			ValLoss: math.NaN(),
			RMSE:    math.NaN(),
			Recall:  math.NaN(),
			AUC:     math.NaN(),
		}

		if validation != nil && validation.Len() > 0 {
			val, err := tr.Evaluate(validation)
			if err != nil {
				return history, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			stats.ValLoss = val.ValLoss
			stats.RMSE = val.RMSE
			stats.Recall = val.Recall
			stats.AUC = val.AUC
		}

		tr.log.WithFields(logrus.Fields{
			"epoch":    stats.Epoch,
			"loss":     stats.Loss,
			"val_loss": stats.ValLoss,
			"rmse":     stats.RMSE,
			"recall":   stats.Recall,
			"auc":      stats.AUC,
		}).Info("epoch finished")
		history = append(history, stats)
	}
	return history, nil
}

// Evaluate computes validation loss and churn metrics without touching the
// weights. AUC is NaN when the set holds a single class.
func (tr *Trainer) Evaluate(ds datasets.Dataset) (EpochStats, error) {
	preds, targets, valLoss, err := tr.predictAll(ds)
	if err != nil {
		return EpochStats{}, err
	}
	stats := EpochStats{
		ValLoss: valLoss,
		RMSE:    RMSE(preds, targets),
		Recall:  ChurnRecall(preds, targets, tr.cfg.PredEnd),
		AUC:     math.NaN(),
	}
	if auc, err := ChurnAUC(preds, targets); err == nil {
		stats.AUC = auc
	} else {
		tr.log.WithError(err).Debug("skipping AUC")
	}
	return stats, nil
}

// Predictions returns the conditional return-time prediction and target per
// sequence, in dataset order.
func (tr *Trainer) Predictions(ds datasets.Dataset) (preds, targets []float64, err error) {
	preds, targets, _, err = tr.predictAll(ds)
	return preds, targets, err
}

func (tr *Trainer) predictAll(ds datasets.Dataset) (preds, targets []float64, avgLoss float64, err error) {
	batches, err := ds.Batches(tr.cfg.BatchSize)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(batches) == 0 {
		return nil, nil, 0, fmt.Errorf("empty dataset")
	}
	lossSum := 0.0
	for _, batch := range batches {
		oj, err := tr.model.Forward(batch.CatFeats, batch.NumFeats, batch.Lengths, false)
		if err != nil {
			return nil, nil, 0, err
		}
		loss, err := tr.model.ComputeLoss(batch.Gaps, batch.PaddingMask, batch.ReturnMask, oj)
		if err != nil {
			return nil, nil, 0, err
		}
		lossSum += loss

		for b, length := range batch.Lengths {
			lastO := oj[b][length-1]
			lastT := batch.Timestamps[b][length-1]
			pred, err := tr.model.Predict(lastO, lastT, tr.cfg.PredStart)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("sequence %d: %w", len(preds), err)
			}
			preds = append(preds, pred)
			targets = append(targets, batch.Targets[b])
		}
	}
	return preds, targets, lossSum / float64(len(batches)), nil
}
