package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantlab/internal/config"
	"quantlab/internal/domain"
)

type modelsOptions struct {
	family     string
	deployable bool
	active     bool
}

func newModelsCmd(cfg *config.Config, log zerolog.Logger, global *globalOptions) *cobra.Command {
	opts := &modelsOptions{}
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model metadata index",
		Long: `List every model recorded in the metadata index, sorted by Sharpe ratio.

With --active the promoted versions in Postgres are listed instead.

Examples:
  trainer models
  trainer models --family ensemble --deployable
  trainer models --active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, cfg, log, global, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.family, "family", "", "Only list models of this family")
	f.BoolVar(&opts.deployable, "deployable", false, "Only list deployable models")
	f.BoolVar(&opts.active, "active", false, "List active versions from Postgres")
	return cmd
}

func runModels(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger, global *globalOptions, opts *modelsOptions) error {
	rc, err := loadRunConfig(cfg, global)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	sess, err := newSessionFunc(ctx, cfg, rc, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	out := cmd.OutOrStdout()
	if opts.active {
		if sess.Versions == nil {
			return errors.New("--active requires DATABASE_URL")
		}
		versions, err := sess.Versions.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("list active versions: %w", err)
		}
		renderVersions(out, versions)
		return nil
	}

	records, updated, err := sess.Index.List(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	filtered := filterModels(records, opts.family, opts.deployable)
	renderModels(out, filtered)
	if !updated.IsZero() {
		fmt.Fprintf(out, "index last updated %s\n", updated.UTC().Format(time.RFC3339))
	}
	return nil
}

func filterModels(records []domain.ModelMetadata, family string, deployableOnly bool) []domain.ModelMetadata {
	out := make([]domain.ModelMetadata, 0, len(records))
	for _, m := range records {
		if family != "" && m.ModelFamily != family {
			continue
		}
		if deployableOnly && !m.Deployable {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SharpeRatio > out[j].SharpeRatio })
	return out
}

func renderModels(w io.Writer, records []domain.ModelMetadata) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"model", "sharpe", "pf", "win rate", "trades", "accuracy", "tier", "deployable", "trained"})
	for _, m := range records {
		pf := "inf"
		if m.ProfitFactor != nil {
			pf = fmt.Sprintf("%.2f", *m.ProfitFactor)
		}
		t.AppendRow(table.Row{
			m.Key(),
			fmt.Sprintf("%.2f", m.SharpeRatio),
			pf,
			fmt.Sprintf("%.2f%%", m.WinRate*100),
			m.NumTrades,
			fmt.Sprintf("%.2f%%", m.Accuracy*100),
			m.QualityTier,
			m.Deployable,
			m.TrainedAt.UTC().Format("2006-01-02"),
		})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d models", len(records))})
	t.Render()
}

func renderVersions(w io.Writer, versions []domain.MLModelVersion) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"model", "version", "features", "trained from", "trained to", "activated"})
	for _, v := range versions {
		activated := ""
		if v.ActivatedAt != nil {
			activated = v.ActivatedAt.UTC().Format(time.RFC3339)
		}
		t.AppendRow(table.Row{
			v.ModelKey,
			v.Version,
			v.FeatureSpecVersion,
			v.TrainedFrom.UTC().Format("2006-01-02"),
			v.TrainedTo.UTC().Format("2006-01-02"),
			activated,
		})
	}
	t.Render()
}
