package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quantlab/internal/config"
	"quantlab/internal/domain"
)

func newActivateCmd(cfg *config.Config, log zerolog.Logger, global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <model_key> <version>",
		Short: "Make a published model version the active one",
		Long: `Switch the version served for a model key, for example to roll back a
promotion. Requires DATABASE_URL. Use "trainer models --active" to see what
is currently served.

Examples:
  trainer activate AAPL_lgbm 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := normalizeModelKey(args[0])
			if err != nil {
				return err
			}
			version, err := strconv.Atoi(args[1])
			if err != nil || version < 1 {
				return fmt.Errorf("version must be a positive integer, got %q", args[1])
			}
			return runActivate(cmd, cfg, log, global, key, version)
		},
	}
}

func runActivate(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger, global *globalOptions, key string, version int) error {
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
	if sess.Versions == nil {
		return errors.New("activate requires DATABASE_URL")
	}
	if err := sess.Versions.ActivateModel(ctx, key, version); err != nil {
		return err
	}
	log.Info().Str("model", key).Int("version", version).Msg("model version activated")
	fmt.Fprintf(cmd.OutOrStdout(), "%s now serves version %d\n", key, version)
	return nil
}

// normalizeModelKey upper-cases the instrument and lower-cases the family of
// an INSTRUMENT_family key.
func normalizeModelKey(raw string) (string, error) {
	i := strings.LastIndex(raw, "_")
	if i <= 0 || i == len(raw)-1 {
		return "", fmt.Errorf("model key %q is not of the form INSTRUMENT_family", raw)
	}
	return domain.ModelKey(strings.ToUpper(raw[:i]), strings.ToLower(raw[i+1:])), nil
}
