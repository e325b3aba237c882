// Command revisit trains a recurrent survival model on an event log and
// predicts when each subject will next return. Configuration comes from
// defaults, an optional YAML file named by REVISIT_CONFIG, and REVISIT_*
// environment variables; the flags below override the output paths.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"revisit/config"
	"revisit/datasets"
	"revisit/monte"
	"revisit/runstore"
	"revisit/survival"
	"revisit/train"
)

func main() {
	loadModel := flag.String("load-model", "", "evaluate a saved model bundle instead of training")
	modelOut := flag.String("model-out", "", "override the model bundle output path")
	plotOut := flag.String("plot-out", "", "override the training-history plot path")
	sims := flag.Int("sims", 2000, "Monte Carlo draws for the sample subject")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration")
	}
	if *modelOut != "" {
		cfg.Output.ModelPath = *modelOut
	}
	if *plotOut != "" {
		cfg.Output.PlotPath = *plotOut
	}

	if err := run(log, cfg, *loadModel, *sims); err != nil {
		log.WithError(err).Fatal("run failed")
	}
}

func run(log *logrus.Logger, cfg *config.Config, loadModel string, sims int) error {
	ds, err := buildDataset(log, cfg)
	if err != nil {
		return err
	}
	training, validation, err := ds.Split(cfg.Data.ValFraction)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"train": training.Len(),
		"val":   validation.Len(),
	}).Info("dataset ready")

	model, err := survival.NewModel(cfg.Model)
	if err != nil {
		return err
	}
	trainer, err := train.New(model, cfg.Training, log)
	if err != nil {
		return err
	}

	if loadModel != "" {
		if err := model.Load(loadModel); err != nil {
			return err
		}
		if validation.Len() == 0 {
			validation = training
		}
		stats, err := trainer.Evaluate(validation)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"val_loss": stats.ValLoss,
			"rmse":     stats.RMSE,
			"recall":   stats.Recall,
			"auc":      stats.AUC,
		}).Info("evaluation finished")
		return sampleSubject(log, model, validation, cfg, sims)
	}

	store, err := runstore.NewStore(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer runstore.CloseIfSupported(store)

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		return err
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	runRecord := runstore.Run{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		ConfigJSON: string(cfgJSON),
		Notes:      cfg.Output.Notes,
	}
	if err := store.SaveRun(ctx, runRecord); err != nil {
		return err
	}
	log.WithField("run_id", runRecord.ID).Info("training")

	history, err := trainer.Run(training, validation)
	if err != nil {
		return err
	}
	for _, stats := range history {
		if err := store.AppendEpoch(ctx, runRecord.ID, stats); err != nil {
			return err
		}
	}

	if err := model.Save(cfg.Output.ModelPath); err != nil {
		return err
	}
	log.WithField("path", cfg.Output.ModelPath).Info("model saved")

	if cfg.Output.PlotPath != "" {
		if err := plotHistory(history, cfg.Output.PlotPath); err != nil {
			return err
		}
		log.WithField("path", cfg.Output.PlotPath).Info("history plotted")
	}

	return sampleSubject(log, model, validation, cfg, sims)
}

func buildDataset(log *logrus.Logger, cfg *config.Config) (*datasets.SequenceDataset, error) {
	if cfg.Data.CSVGlob != "" {
		log.WithField("glob", cfg.Data.CSVGlob).Info("loading event log")
		return datasets.FromCSV(cfg.Data.CSVGlob, datasets.CSVOptions{
			SubjectCol:    cfg.Data.SubjectCol,
			TimeCol:       cfg.Data.TimeCol,
			CatCols:       cfg.Data.CatCols,
			NumCols:       cfg.Data.NumCols,
			ActivityEnd:   cfg.Data.ActivityEnd,
			PredictionEnd: cfg.Data.PredictionEnd,
			MaxSeqLen:     cfg.Data.MaxSeqLen,
		})
	}

	log.WithField("subjects", cfg.Data.Subjects).Info("generating synthetic cohort")
	seqs, err := datasets.GenerateSequences(datasets.SyntheticOptions{
		Subjects:         cfg.Data.Subjects,
		CatSizes:         cfg.Model.CatSizes,
		NumFeats:         cfg.Model.NumFeats,
		W:                cfg.Model.W,
		LogIntensityMean: -2.5,
		LogIntensityStd:  0.6,
		ActivityEnd:      cfg.Data.ActivityEnd,
		PredictionEnd:    cfg.Data.PredictionEnd,
		MaxSeqLen:        cfg.Data.MaxSeqLen,
		Seed:             cfg.Data.Seed,
	})
	if err != nil {
		return nil, err
	}
	return datasets.FromSequences(seqs, cfg.Data.PredictionEnd)
}

// sampleSubject draws a Monte Carlo return-time distribution for the first
// validation subject, alongside the two point predictions.
func sampleSubject(log *logrus.Logger, model *survival.Model, validation *datasets.SequenceDataset, cfg *config.Config, sims int) error {
	if validation.Len() == 0 || sims <= 0 {
		return nil
	}
	seq, err := validation.SequenceAt(0)
	if err != nil {
		return err
	}
	batch, err := datasets.BuildBatch([]*datasets.Sequence{seq}, cfg.Data.PredictionEnd)
	if err != nil {
		return err
	}
	oj, err := model.Forward(batch.CatFeats, batch.NumFeats, batch.Lengths, false)
	if err != nil {
		return err
	}
	lastO := oj[0][batch.Lengths[0]-1]
	lastT := batch.Timestamps[0][batch.Lengths[0]-1]

	std := model.PredictStandard(lastO, lastT)
	cond, err := model.Predict(lastO, lastT, cfg.Training.PredStart)
	if err != nil {
		return err
	}

	mcfg := model.Config()
	sampler, err := monte.NewSampler(mcfg.W, mcfg.TimeScale, monte.Config{
		Simulations: sims,
		Seed:        cfg.Data.Seed,
	})
	if err != nil {
		return err
	}
	samples, err := sampler.SampleReturnsAfter(lastO, lastT, cfg.Training.PredStart)
	if err != nil {
		return err
	}
	summary, err := monte.Summarize(samples)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"subject":      seq.SubjectID,
		"pred":         fmt.Sprintf("%.2f", cond),
		"pred_naive":   fmt.Sprintf("%.2f", std),
		"sampled_mean": fmt.Sprintf("%.2f", summary.Mean),
		"sampled_p10":  fmt.Sprintf("%.2f", summary.P10),
		"sampled_p90":  fmt.Sprintf("%.2f", summary.P90),
	}).Info("sample subject")
	return nil
}

// plotHistory writes training and validation loss curves, with RMSE on a
// second plot stacked below.
func plotHistory(history []train.EpochStats, path string) error {
	lossXY := make(plotter.XYs, 0, len(history))
	valXY := make(plotter.XYs, 0, len(history))
	rmseXY := make(plotter.XYs, 0, len(history))
	for _, h := range history {
		lossXY = append(lossXY, plotter.XY{X: float64(h.Epoch), Y: h.Loss})
		if !math.IsNaN(h.ValLoss) {
			valXY = append(valXY, plotter.XY{X: float64(h.Epoch), Y: h.ValLoss})
		}
		if !math.IsNaN(h.RMSE) {
			rmseXY = append(rmseXY, plotter.XY{X: float64(h.Epoch), Y: h.RMSE})
		}
	}

	p := plot.New()
	p.Title.Text = "training history"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	lossLine, err := plotter.NewLine(lossXY)
	if err != nil {
		return err
	}
	lossLine.Width = vg.Points(1.5)
	p.Add(lossLine)
	p.Legend.Add("train loss", lossLine)

	if len(valXY) > 0 {
		valLine, err := plotter.NewLine(valXY)
		if err != nil {
			return err
		}
		valLine.Width = vg.Points(1.5)
		valLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(valLine)
		p.Legend.Add("val loss", valLine)
	}
	if len(rmseXY) > 0 {
		rmseLine, err := plotter.NewLine(rmseXY)
		if err != nil {
			return err
		}
		rmseLine.Width = vg.Points(1)
		rmseLine.Dashes = []vg.Length{vg.Points(1), vg.Points(2)}
		p.Add(rmseLine)
		p.Legend.Add("val rmse", rmseLine)
	}
	p.Add(plotter.NewGrid())

	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}
