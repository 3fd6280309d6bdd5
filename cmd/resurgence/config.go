// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/resurgence/internal/secrets"
	"github.com/pdiddy/resurgence/pkg/types"
)

// envOverrides are the settings that RESURGENCE_* variables may override,
// e.g. RESURGENCE_PATHS_RAW_DIR.
var envOverrides = []string{
	"paths.raw_dir",
	"paths.reference_dir",
	"paths.processed_dir",
	"paths.figures_dir",
	"http.user_agent",
	"openalex.email",
	"ledger.path",
}

// loadConfig starts from the documented defaults, overlays the config file
// viper found, then the environment.
func loadConfig() (types.PipelineConfig, error) {
	cfg := types.DefaultConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	for _, key := range envOverrides {
		if v := viper.GetString(key); v != "" {
			setString(&cfg, key, v)
		}
	}
	if viper.IsSet("ledger.disabled") {
		cfg.Ledger.Disabled = viper.GetBool("ledger.disabled")
	}
	cfg.OpenAlex.Email = secrets.Lookup(loadedSecrets, secrets.OpenAlexEmail, cfg.OpenAlex.Email)
	return cfg, nil
}

func setString(cfg *types.PipelineConfig, key, v string) {
	switch key {
	case "paths.raw_dir":
		cfg.Paths.RawDir = v
	case "paths.reference_dir":
		cfg.Paths.ReferenceDir = v
	case "paths.processed_dir":
		cfg.Paths.ProcessedDir = v
	case "paths.figures_dir":
		cfg.Paths.FiguresDir = v
	case "http.user_agent":
		cfg.HTTP.UserAgent = v
	case "openalex.email":
		cfg.OpenAlex.Email = v
	case "ledger.path":
		cfg.Ledger.Path = v
	}
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Config prints the configuration every pipeline would run with: the
documented defaults, overlaid with the config file and RESURGENCE_*
environment variables. Secrets are not printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.OpenAlex.Email = ""
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
