// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"path/filepath"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/pdiddy/resurgence/internal/report"
	"github.com/pdiddy/resurgence/pkg/types"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Write the cross-layer key statistics from the processed tables",
	Long: `Summary reads the processed tables of all four layers and writes
summary.yaml, summary.md and summary.html next to them, and the four-layer
synthesis figure into the figures directory. Layers whose tables are missing
are listed as not available.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := report.DefaultOptions
		if y, _ := cmd.Flags().GetInt("year"); y != 0 {
			opts.Year = y
		}
		if r, _ := cmd.Flags().GetString("region"); r != "" {
			opts.Region = r
		}
		skipFigure, _ := cmd.Flags().GetBool("skip-figure")
		return writeSummary(cfg, opts, skipFigure, log.Log)
	},
}

func writeSummary(cfg types.PipelineConfig, opts report.Options, skipFigure bool, logger log.Interface) error {
	s, err := report.Build(cfg.Paths.ProcessedDir, opts, logger)
	if err != nil {
		return err
	}
	paths, err := report.Write(cfg.Paths.ProcessedDir, s)
	if err != nil {
		return err
	}
	if !skipFigure {
		fig := filepath.Join(cfg.Paths.FiguresDir, report.FigureFile)
		if err := report.WriteFigure(fig, s); err != nil {
			return err
		}
		paths = append(paths, fig)
	}
	for _, p := range paths {
		logger.WithField("file", p).Info("saved")
	}
	return nil
}

func init() {
	summaryCmd.Flags().Int("year", 0, "bibliometric year to highlight (default 2023)")
	summaryCmd.Flags().String("region", "", "regional growth row to highlight (default Latin America)")
	summaryCmd.Flags().Bool("skip-figure", false, "do not render the synthesis figure")
	rootCmd.AddCommand(summaryCmd)
}
