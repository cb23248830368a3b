package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/t0270293/uk-source-attribution-fcm/internal/config"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
)

// app carries state shared by every subcommand.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	logLevel   string
	cfg        *config.Config
	log        logger.Logger
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "pmsource",
		Short: "Fuzzy c-means source attribution for particulate composition data",
		Long: `pmsource groups time-stamped elemental concentration samples into
source regimes. It scans cluster counts with the silhouette index, fits a
fuzzy partition and reports each regime's membership-weighted elemental
profile.

Configuration is layered: defaults, then the YAML file given by --config or
PMSOURCE_CONFIG, then PMSOURCE_* environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(
		newAnalyzeCmd(a),
		newServeCmd(a),
		newGenerateCmd(a),
		newSubmitCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := logger.InitWriter(a.errOut); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(cmd.Context(), a.configPath)
	} else {
		cfg, err = config.Load(cmd.Context())
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", config.ErrInvalidConfig, cfg.LogLevel)
	}

	a.cfg = cfg
	a.log = logger.Get().Named(cmd.Name())
	return nil
}

// splitList turns "a, b,c" into [a b c], dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
