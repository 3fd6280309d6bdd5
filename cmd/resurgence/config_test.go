// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/resurgence/pkg/types"
)

func withViper(t *testing.T, configYAML string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	bindEnv()
	if configYAML == "" {
		return
	}
	path := filepath.Join(t.TempDir(), "resurgence.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())
}

func TestLoadConfigDefaults(t *testing.T) {
	withViper(t, "")
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, types.DefaultConfig(), cfg)
}

func TestLoadConfigOverlay(t *testing.T) {
	withViper(t, `
paths:
  raw_dir: snapshots
http:
  timeout: 30s
bibliometric:
  break_year: 2024
ledger:
  disabled: true
`)
	t.Setenv("RESURGENCE_PATHS_PROCESSED_DIR", "out")
	t.Setenv("RESURGENCE_OPENALEX_EMAIL", "someone@example.org")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "snapshots", cfg.Paths.RawDir)
	assert.Equal(t, "out", cfg.Paths.ProcessedDir)
	assert.Equal(t, "figures", cfg.Paths.FiguresDir)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 2024, cfg.Bibliometric.BreakYear)
	assert.Equal(t, 2016, cfg.Bibliometric.FirstYear)
	assert.True(t, cfg.Ledger.Disabled)
	assert.Equal(t, "someone@example.org", cfg.OpenAlex.Email)
}

func TestLoadConfigInvalid(t *testing.T) {
	withViper(t, "")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths: [unclosed\n"), 0o644))
	viper.SetConfigFile(path)
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestConfigCommandHidesEmail(t *testing.T) {
	withViper(t, "")
	t.Setenv("RESURGENCE_OPENALEX_EMAIL", "someone@example.org")

	var out bytes.Buffer
	configCmd.SetOut(&out)
	t.Cleanup(func() { configCmd.SetOut(nil) })
	require.NoError(t, configCmd.RunE(configCmd, nil))

	assert.NotContains(t, out.String(), "someone@example.org")
	var cfg types.PipelineConfig
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &cfg))
	assert.Equal(t, types.DefaultConfig().Stratification.Thresholds, cfg.Stratification.Thresholds)
}
