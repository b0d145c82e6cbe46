package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantlab/internal/config"
	"quantlab/internal/domain"
	"quantlab/internal/ml/common"
	"quantlab/internal/ml/registry"
)

type predictOptions struct {
	model  string
	bars   int
	format string
}

func newPredictCmd(cfg *config.Config, log zerolog.Logger, global *globalOptions) *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict [instrument...]",
		Short: "Print recent signals from persisted models",
		Long: `Load the persisted model for each instrument and score its most recent bars.

Instruments without a model are reported and skipped. With no arguments the
run config universe is used.

Examples:
  trainer predict AAPL
  trainer predict --model ensemble --bars 5 AAPL MSFT
  trainer predict --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(cmd, args, cfg, log, global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.model, "model", common.FamilyLGBM, "Model family to load")
	f.IntVar(&opts.bars, "bars", 1, "Number of most recent bars to score")
	f.StringVar(&opts.format, "format", "table", "Output format: table or json")
	return cmd
}

func runPredict(cmd *cobra.Command, args []string, cfg *config.Config, log zerolog.Logger, global *globalOptions, opts *predictOptions) error {
	if !common.IsFamily(opts.model) {
		return fmt.Errorf("%w %q", config.ErrUnknownFamily, opts.model)
	}
	if opts.bars < 1 {
		return fmt.Errorf("--bars must be at least 1")
	}
	format := strings.ToLower(opts.format)
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported format %q", opts.format)
	}

	rc, err := loadRunConfig(cfg, global)
	if err != nil {
		return err
	}
	instruments := args
	if len(instruments) == 0 {
		instruments = rc.Universe()
	}

	ctx := cmd.Context()
	sess, err := newSessionFunc(ctx, cfg, rc, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	var all []domain.Prediction
	for _, instrument := range instruments {
		instrument = strings.ToUpper(strings.TrimSpace(instrument))
		preds, err := sess.Predictor.Predict(ctx, instrument, opts.model, opts.bars)
		if err != nil {
			if errors.Is(err, registry.ErrModelNotFound) || errors.Is(err, domain.ErrDataUnavailable) {
				log.Warn().Str("instrument", instrument).Err(err).Msg("skipping instrument")
				continue
			}
			return fmt.Errorf("predict %s: %w", instrument, err)
		}
		all = append(all, preds...)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	renderPredictions(out, all)
	return nil
}

func renderPredictions(w io.Writer, preds []domain.Prediction) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"instrument", "bar", "signal", "confidence", "p(short)", "p(neutral)", "p(long)", "regime"})
	for _, p := range preds {
		t.AppendRow(table.Row{
			p.Instrument,
			p.Time.UTC().Format("2006-01-02 15:04"),
			p.Direction,
			fmt.Sprintf("%.2f", p.Confidence),
			fmt.Sprintf("%.3f", p.ProbShort),
			fmt.Sprintf("%.3f", p.ProbNeutral),
			fmt.Sprintf("%.3f", p.ProbLong),
			p.Regime,
		})
	}
	t.Render()
}
