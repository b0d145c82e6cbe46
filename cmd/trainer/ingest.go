package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantlab/internal/config"
	"quantlab/internal/domain"
)

type ingestOptions struct {
	interval string
}

func newIngestCmd(cfg *config.Config, log zerolog.Logger, global *globalOptions) *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest [instrument...]",
		Short: "Load CSV bars from the data directory into Postgres",
		Long: `Read <DATA_DIR>/<INSTRUMENT>.csv for each instrument and upsert the bars
into the candles table, so runs with source: postgres can train on them.

Examples:
  trainer ingest AAPL MSFT
  trainer ingest --interval 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, cfg, log, global, opts)
		},
	}
	cmd.Flags().StringVar(&opts.interval, "interval", "", "Bar interval stored with each candle (default: run config interval)")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string, cfg *config.Config, log zerolog.Logger, global *globalOptions, opts *ingestOptions) error {
	rc, err := loadRunConfig(cfg, global)
	if err != nil {
		return err
	}
	interval := opts.interval
	if interval == "" {
		interval = rc.Interval
	}
	if !domain.IsSupportedInterval(interval) {
		return fmt.Errorf("unsupported interval %q (want one of %s)", interval, strings.Join(domain.SupportedIntervals, ", "))
	}
	instruments := args
	if len(instruments) == 0 {
		instruments = rc.Universe()
	}

	// Ingest always reads CSV, whatever the run config source says.
	rc.Source = "csv"

	ctx := cmd.Context()
	sess, err := newSessionFunc(ctx, cfg, rc, log)
	if err != nil {
		return err
	}
	defer sess.Close()
	if sess.Candles == nil {
		return errors.New("ingest requires DATABASE_URL")
	}

	out := cmd.OutOrStdout()
	var total, missing int
	for _, instrument := range instruments {
		instrument = strings.ToUpper(strings.TrimSpace(instrument))
		table, err := sess.CSV.Load(ctx, instrument)
		if err != nil {
			if errors.Is(err, domain.ErrDataUnavailable) {
				missing++
				log.Warn().Str("instrument", instrument).Msg("no csv file, skipping")
				continue
			}
			return fmt.Errorf("load %s: %w", instrument, err)
		}
		n, err := sess.Candles.UpsertCandles(ctx, table.Candles(interval))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", instrument, err)
		}
		total += n
		fmt.Fprintf(out, "%s: %d bars\n", instrument, n)
	}
	fmt.Fprintf(out, "ingested %d bars for %d instruments (%d missing)\n", total, len(instruments)-missing, missing)
	return nil
}
