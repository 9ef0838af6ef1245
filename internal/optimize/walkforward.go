package optimize

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stratos-labs/quant-backend/pkg/types"
)

// Window is one train/test split. The test period starts immediately
// after the train period ends.
type Window struct {
	TrainStart time.Time `json:"trainStart"`
	TrainEnd   time.Time `json:"trainEnd"`
	TestStart  time.Time `json:"testStart"`
	TestEnd    time.Time `json:"testEnd"`
}

// WalkForwardConfig shapes the fold layout.
type WalkForwardConfig struct {
	Train    time.Duration `json:"train"`
	Test     time.Duration `json:"test"`
	Anchored bool          `json:"anchored"` // expanding train window
}

// Fold is one completed train/optimize/test cycle. Degradation is the
// in-sample score minus the out-of-sample score; a large positive value
// signals overfit parameters.
type Fold struct {
	Window      Window    `json:"window"`
	Params      Candidate `json:"params"`
	TrainScore  float64   `json:"trainScore"`
	TestScore   float64   `json:"testScore"`
	Degradation float64   `json:"degradation"`
}

// WalkForwardReport aggregates all folds. Robustness is the mean
// out-of-sample score over the mean in-sample score; values near 1 mean
// the edge survives out of sample.
type WalkForwardReport struct {
	Folds          []Fold  `json:"folds"`
	MeanTrainScore float64 `json:"meanTrainScore"`
	MeanTestScore  float64 `json:"meanTestScore"`
	Robustness     float64 `json:"robustness"`
}

// Windows lays out consecutive train/test splits over [start, end). The
// layout advances by the test length each fold; anchored mode keeps the
// train start fixed so the train window expands.
func Windows(start, end time.Time, cfg WalkForwardConfig) []Window {
	if cfg.Train <= 0 || cfg.Test <= 0 || !end.After(start) {
		return nil
	}
	var windows []Window
	trainStart := start
	for cursor := start.Add(cfg.Train); cursor.Add(cfg.Test).Before(end) || cursor.Add(cfg.Test).Equal(end); cursor = cursor.Add(cfg.Test) {
		if !cfg.Anchored {
			trainStart = cursor.Add(-cfg.Train)
		}
		windows = append(windows, Window{
			TrainStart: trainStart,
			TrainEnd:   cursor,
			TestStart:  cursor,
			TestEnd:    cursor.Add(cfg.Test),
		})
	}
	return windows
}

// WalkForward optimizes on each train window and replays the winning
// parameters on the following unseen test window.
func (o *Optimizer) WalkForward(base types.BacktestConfig, history map[string][]types.OHLCV, params []Parameter, build Build, cfg WalkForwardConfig) (*WalkForwardReport, error) {
	if base.Start.IsZero() || base.End.IsZero() {
		return nil, fmt.Errorf("walk-forward requires explicit start and end bounds")
	}
	windows := Windows(base.Start, base.End, cfg)
	if len(windows) == 0 {
		return nil, fmt.Errorf("no folds fit between %s and %s", base.Start, base.End)
	}

	o.logger.Info("starting walk-forward analysis",
		zap.Int("folds", len(windows)),
		zap.Duration("train", cfg.Train),
		zap.Duration("test", cfg.Test),
		zap.Bool("anchored", cfg.Anchored),
	)

	report := &WalkForwardReport{}
	for i, w := range windows {
		trainCfg := base
		trainCfg.ID = fmt.Sprintf("%s-fold%d-train", base.ID, i)
		trainCfg.Start, trainCfg.End = w.TrainStart, w.TrainEnd

		trainReport, err := o.Run(trainCfg, history, params, build)
		if err != nil {
			o.logger.Warn("fold optimization failed", zap.Int("fold", i), zap.Error(err))
			continue
		}

		testCfg := base
		testCfg.ID = fmt.Sprintf("%s-fold%d-test", base.ID, i)
		testCfg.Start, testCfg.End = w.TestStart, w.TestEnd

		eval := o.evaluate(testCfg, history, trainReport.Best.Params, build)
		if eval.Err != nil {
			o.logger.Warn("fold replay failed", zap.Int("fold", i), zap.Error(eval.Err))
			continue
		}

		report.Folds = append(report.Folds, Fold{
			Window:      w,
			Params:      trainReport.Best.Params,
			TrainScore:  trainReport.Best.Score,
			TestScore:   eval.Score,
			Degradation: trainReport.Best.Score - eval.Score,
		})
	}

	if len(report.Folds) == 0 {
		return nil, fmt.Errorf("all %d folds failed", len(windows))
	}

	var trainSum, testSum float64
	for _, f := range report.Folds {
		trainSum += f.TrainScore
		testSum += f.TestScore
	}
	n := float64(len(report.Folds))
	report.MeanTrainScore = trainSum / n
	report.MeanTestScore = testSum / n
	if trainSum != 0 {
		report.Robustness = testSum / trainSum
	}

	o.logger.Info("walk-forward analysis completed",
		zap.Int("folds", len(report.Folds)),
		zap.Float64("meanTestScore", report.MeanTestScore),
		zap.Float64("robustness", report.Robustness),
	)
	return report, nil
}
