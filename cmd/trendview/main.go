// Command trendview decodes stored logger waveforms into per-channel trends.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/server"
	"github.com/nicktill/wavetrend/pkg/source"
)

var (
	configPath string
	cfg        config.Config
	log        = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "trendview",
	Short: "Decode logger waveforms and build gap-aware trends",
	Long: `trendview reads multi-channel ADC records from a record store, decodes each
block into calibrated voltages and currents, reduces every record to one value
per channel and assembles the result into a segmented time series.

Configuration is read from a TOML file (created with defaults when missing)
and can be overridden with WAVETREND_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		l, err := config.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		log = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the TOML config file")

	rootCmd.AddCommand(serveCmd, trendCmd, decodeCmd, importCmd, synthCmd, sourcesCmd)
}

// openStore opens the configured store for a one-shot command
func openStore(ctx context.Context) (source.Store, error) {
	return server.OpenStore(ctx, cfg.Source, log)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
