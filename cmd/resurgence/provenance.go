// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pdiddy/resurgence/internal/provenance"
)

var provenanceCmd = &cobra.Command{
	Use:   "provenance",
	Short: "Inspect the provenance ledger of pipeline runs",
	Long: `Provenance reads the SQLite ledger in which every pipeline run records
its status, the computations that failed, and the sha256 of each file it read
and wrote.`,
}

var provenanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedgerForRead()
		if err != nil {
			return err
		}
		defer ledger.Close()

		runs, err := ledger.List(cmd.Context(), listOptions(cmd))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tPIPELINE\tSTATUS\tSTARTED\tFILES\tFAILURES")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
				r.ID, r.Pipeline, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"), len(r.Artifacts), len(r.Failures))
		}
		return w.Flush()
	},
}

var provenanceExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded runs as YAML or JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "yaml" && format != "json" {
			return fmt.Errorf("unsupported format %q (use yaml or json)", format)
		}
		ledger, err := openLedgerForRead()
		if err != nil {
			return err
		}
		defer ledger.Close()

		var w io.Writer = cmd.OutOrStdout()
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", out, err)
			}
			defer f.Close()
			w = f
		}
		if format == "json" {
			return ledger.ExportJSON(cmd.Context(), w, listOptions(cmd))
		}
		return ledger.ExportYAML(cmd.Context(), w, listOptions(cmd))
	},
}

var provenanceVerifyCmd = &cobra.Command{
	Use:   "verify <run-id>",
	Short: "Rehash the files of a run and report any that changed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedgerForRead()
		if err != nil {
			return err
		}
		defer ledger.Close()

		run, err := ledger.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		mismatches, err := provenance.Verify(run)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, m := range mismatches {
			if m.Missing {
				fmt.Fprintf(out, "missing  %s %s\n", m.Role, m.Path)
			} else {
				fmt.Fprintf(out, "changed  %s %s\n", m.Role, m.Path)
			}
		}
		if len(mismatches) > 0 {
			return fmt.Errorf("%d of %d file(s) differ from run %s", len(mismatches), len(run.Artifacts), run.ID)
		}
		fmt.Fprintf(out, "all %d file(s) match run %s\n", len(run.Artifacts), run.ID)
		return nil
	},
}

func openLedgerForRead() (*provenance.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return provenance.Open(cfg.Ledger.Path)
}

func listOptions(cmd *cobra.Command) provenance.ListOptions {
	p, _ := cmd.Flags().GetString("pipeline")
	n, _ := cmd.Flags().GetInt("limit")
	return provenance.ListOptions{Pipeline: p, Limit: n}
}

func init() {
	for _, c := range []*cobra.Command{provenanceListCmd, provenanceExportCmd} {
		c.Flags().String("pipeline", "", "only runs of this pipeline")
		c.Flags().Int("limit", 0, "maximum number of runs (0 = all)")
	}
	provenanceExportCmd.Flags().String("format", "yaml", "output format: yaml or json")
	provenanceExportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	provenanceCmd.AddCommand(provenanceListCmd, provenanceExportCmd, provenanceVerifyCmd)
	rootCmd.AddCommand(provenanceCmd)
}
