// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the resurgence CLI. Each analysis
// layer is a subcommand; all runs every layer and writes the summary.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/resurgence/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the resurgence CLI.
var rootCmd = &cobra.Command{
	Use:   "resurgence",
	Short: "Replicate the critical-thinking resurgence analyses from public data",
	Long: `resurgence rebuilds the four evidence layers on the demand for critical
thinking after the release of ChatGPT from public snapshots:

  trends         search interest per language, breakpoint and placebo tests
  biblio         OpenAlex publication counts, growth, bursts, structural break
  participation  Community Notes volume, contributors and response time
  stratify       publications by development-index tier, regional course growth

Every run reads dated snapshots from data/raw (fetching missing ones unless
--offline is set), writes tables to data/processed and figures to figures/,
and records its inputs and outputs in the provenance ledger.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetHandler(cli.Default)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(log.DebugLevel)
			log.Debugf("resurgence version %s", version)
		}

		dir, _ := cmd.Flags().GetString("secrets")
		s, err := secrets.Load(dir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			log.WithField("keys", strings.Join(keys, ",")).Debug("loaded secrets")
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./resurgence.yaml or ~/.config/resurgence/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("secrets", ".secrets/", "directory of API key files")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("resurgence")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "resurgence"))
		}
	}

	bindEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	}
}

// bindEnv maps nested keys to RESURGENCE_* variables, so that paths.raw_dir
// reads RESURGENCE_PATHS_RAW_DIR.
func bindEnv() {
	viper.SetEnvPrefix("RESURGENCE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.WithError(err).Error("resurgence failed")
		os.Exit(1)
	}
}
