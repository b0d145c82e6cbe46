package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"quantlab/internal/config"
	"quantlab/internal/ml/training"
)

type trainOptions struct {
	model       string
	labels      string
	tune        bool
	trials      int
	noRegime    bool
	walkForward bool
	folds       int
	instruments []string
	workers     int
}

func newTrainCmd(cfg *config.Config, log zerolog.Logger, global *globalOptions) *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train one model family across the instrument universe",
		Long: `Train a model per instrument, evaluate it on the held-out test split and
persist deployable metadata to the model index.

A failing instrument is recorded and the batch moves on. The run ends with a
success/skip/error tally, a summary table and training_summary.csv in the
model directory.

Examples:
  trainer train
  trainer train --model ensemble --labels binary --tune --trials 20
  trainer train --model return --walk-forward --folds 4 --instruments AAPL,MSFT`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, cfg, log, global, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.model, "model", "", "Model family: lgbm, xgb, logreg, ensemble or return")
	f.StringVar(&opts.labels, "labels", "", "Label scheme: multiclass or binary")
	f.BoolVar(&opts.tune, "tune", false, "Run hyperparameter search before the final fit")
	f.IntVar(&opts.trials, "trials", 0, "Number of tuning trials")
	f.BoolVar(&opts.noRegime, "no-regime", false, "Leave regime columns out of the feature matrix")
	f.BoolVar(&opts.walkForward, "walk-forward", false, "Validate with expanding-window folds")
	f.IntVar(&opts.folds, "folds", 0, "Number of walk-forward folds")
	f.StringSliceVar(&opts.instruments, "instruments", nil, "Comma-separated instruments (default: run config universe)")
	f.IntVar(&opts.workers, "workers", 0, "Instruments trained concurrently")
	return cmd
}

// applyTrainFlags copies explicitly set flags over the run config.
func applyTrainFlags(rc *config.RunConfig, flags *pflag.FlagSet, opts *trainOptions) {
	if flags.Changed("model") {
		rc.Family = opts.model
	}
	if flags.Changed("labels") {
		rc.LabelScheme = opts.labels
	}
	if flags.Changed("tune") {
		rc.Tuning.Enabled = opts.tune
	}
	if flags.Changed("trials") {
		rc.Tuning.Trials = opts.trials
	}
	if flags.Changed("no-regime") {
		rc.SetRegimeFeatures(!opts.noRegime)
	}
	if flags.Changed("walk-forward") {
		rc.Split.WalkForward = opts.walkForward
	}
	if flags.Changed("folds") {
		rc.Split.Folds = opts.folds
	}
	if flags.Changed("instruments") {
		rc.Instruments = opts.instruments
	}
	if flags.Changed("workers") {
		rc.Workers = opts.workers
	}
}

func runTrain(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger, global *globalOptions, opts *trainOptions) error {
	rc, err := loadRunConfig(cfg, global)
	if err != nil {
		return err
	}
	applyTrainFlags(rc, cmd.Flags(), opts)

	// Training validates, so a bad family or scheme stops here before any
	// connection is opened.
	tc, err := rc.Training()
	if err != nil {
		return fmt.Errorf("invalid training configuration: %w", err)
	}
	instruments := rc.Universe()
	if len(instruments) == 0 {
		return fmt.Errorf("no instruments to train")
	}

	ctx := cmd.Context()
	sess, err := newSessionFunc(ctx, cfg, rc, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	printRunHeader(out, rc, len(instruments))

	summary, err := sess.Batch.Run(ctx, instruments, tc)
	if err != nil {
		return fmt.Errorf("training batch: %w", err)
	}
	summary.Render(out)

	if err := os.MkdirAll(cfg.ModelDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	path := filepath.Join(cfg.ModelDir, training.SummaryFileName)
	if err := summary.WriteCSVFile(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "summary written to %s\n", path)
	return nil
}

func printRunHeader(w io.Writer, rc *config.RunConfig, n int) {
	fmt.Fprintf(w, "batch training: %d instruments\n", n)
	fmt.Fprintf(w, "model: %s | labels: %s | tuning: %t | regime: %t | walk-forward: %t\n",
		rc.Family, rc.LabelScheme, rc.Tuning.Enabled, rc.RegimeFeatures(), rc.Split.WalkForward)
}
