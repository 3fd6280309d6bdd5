// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/resurgence/internal/biblio"
	"github.com/pdiddy/resurgence/internal/httputil"
	"github.com/pdiddy/resurgence/internal/openalex"
	"github.com/pdiddy/resurgence/internal/participation"
	"github.com/pdiddy/resurgence/internal/provenance"
	"github.com/pdiddy/resurgence/internal/report"
	"github.com/pdiddy/resurgence/internal/searchinterest"
	"github.com/pdiddy/resurgence/internal/secrets"
	"github.com/pdiddy/resurgence/internal/stratify"
	"github.com/pdiddy/resurgence/internal/trend"
	"github.com/pdiddy/resurgence/pkg/types"
)

// pipeline runs one layer and returns its run summary, which is recorded
// in the ledger whether or not the run succeeded.
type pipeline struct {
	name  string
	short string
	run   func(ctx context.Context, env *runEnv) (*types.RunSummary, error)
}

// runEnv carries what every pipeline needs from the command line.
type runEnv struct {
	cfg        types.PipelineConfig
	offline    bool
	skipFigure bool
	progress   io.Writer
	logger     log.Interface
}

func (e *runEnv) openAlex() *openalex.Client {
	if e.offline {
		return nil
	}
	return &openalex.Client{
		HTTP:       httputil.NewClient(e.cfg.HTTP),
		Email:      e.cfg.OpenAlex.Email,
		UserAgent:  e.cfg.HTTP.UserAgent,
		PerPage:    e.cfg.OpenAlex.PerPage,
		MaxRetries: e.cfg.HTTP.MaxRetries,
	}
}

// searchInterest returns nil without an API key, so missing trend
// snapshots surface as load errors rather than fetch errors.
func (e *runEnv) searchInterest() *searchinterest.Client {
	if e.offline {
		return nil
	}
	key := secrets.Lookup(loadedSecrets, secrets.SerpAPIKey, viper.GetString("serpapi_key"))
	if key == "" {
		e.logger.Debug("no SerpApi key; trend snapshots will not be fetched")
		return nil
	}
	return &searchinterest.Client{
		HTTP:       httputil.NewClient(e.cfg.HTTP),
		APIKey:     key,
		UserAgent:  e.cfg.HTTP.UserAgent,
		MaxRetries: e.cfg.HTTP.MaxRetries,
	}
}

var pipelines = []pipeline{
	{
		name:  "trends",
		short: "Layer 1: search-interest breakpoint, placebo and effect-size analysis",
		run: func(ctx context.Context, env *runEnv) (*types.RunSummary, error) {
			res, err := trend.Run(ctx, env.cfg, trend.Options{Client: env.searchInterest(), SkipFigure: env.skipFigure}, env.logger)
			return &res.RunSummary, err
		},
	},
	{
		name:  "biblio",
		short: "Layer 2: publication growth, bursts, normalized ratio and structural break",
		run: func(ctx context.Context, env *runEnv) (*types.RunSummary, error) {
			res, err := biblio.Run(ctx, env.cfg, biblio.Options{Client: env.openAlex(), SkipFigure: env.skipFigure}, env.logger)
			return &res.RunSummary, err
		},
	},
	{
		name:  "participation",
		short: "Layer 3: Community Notes monthly activity and response time",
		run: func(ctx context.Context, env *runEnv) (*types.RunSummary, error) {
			opts := participation.Options{Progress: env.progress, SkipFigure: env.skipFigure}
			if !env.offline {
				opts.HTTP = httputil.NewClient(env.cfg.HTTP)
			}
			res, err := participation.Run(ctx, env.cfg, opts, env.logger)
			return &res.RunSummary, err
		},
	},
	{
		name:  "stratify",
		short: "Layer 4: publications by development-index tier and regional course growth",
		run: func(ctx context.Context, env *runEnv) (*types.RunSummary, error) {
			opts := stratify.Options{OpenAlex: env.openAlex(), Progress: env.progress, SkipFigure: env.skipFigure}
			if !env.offline {
				opts.HTTP = httputil.NewClient(env.cfg.HTTP)
			}
			res, err := stratify.Run(ctx, env.cfg, opts, env.logger)
			return &res.RunSummary, err
		},
	},
}

func newRunEnv(cmd *cobra.Command) (*runEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	offline, _ := cmd.Flags().GetBool("offline")
	skipFigure, _ := cmd.Flags().GetBool("skip-figure")
	env := &runEnv{cfg: cfg, offline: offline, skipFigure: skipFigure, logger: log.Log}
	if quiet, _ := cmd.Flags().GetBool("no-progress"); !quiet {
		env.progress = os.Stderr
	}
	return env, nil
}

// execute runs p, records it in the ledger and reports its failures. The
// returned error is the pipeline's own error, if any.
func execute(ctx context.Context, env *runEnv, ledger *provenance.Ledger, p pipeline) error {
	lg := env.logger.WithField("pipeline", p.name)
	started := time.Now().UTC()
	sum, runErr := p.run(ctx, &runEnv{
		cfg:        env.cfg,
		offline:    env.offline,
		skipFigure: env.skipFigure,
		progress:   env.progress,
		logger:     lg,
	})

	if ledger != nil {
		run, err := ledger.Record(ctx, *sum, started, runErr)
		if err != nil {
			lg.WithError(err).Warn("could not record run in provenance ledger")
		} else {
			lg.WithFields(log.Fields{"run": run.ID, "status": run.Status}).Debug("recorded run")
		}
	}

	if runErr != nil {
		return fmt.Errorf("%s: %w", p.name, runErr)
	}
	for _, f := range sum.Failures {
		lg.WithField("failure", f.String()).Warn("computation failed")
	}
	lg.WithFields(log.Fields{
		"inputs":   len(sum.Inputs),
		"outputs":  len(sum.Outputs),
		"failures": len(sum.Failures),
		"elapsed":  time.Since(started).Round(time.Millisecond).String(),
	}).Info("done")
	return nil
}

func openLedger(cfg types.PipelineConfig, logger log.Interface) *provenance.Ledger {
	if cfg.Ledger.Disabled {
		return nil
	}
	l, err := provenance.Open(cfg.Ledger.Path)
	if err != nil {
		logger.WithError(err).Warn("provenance ledger unavailable; runs will not be recorded")
		return nil
	}
	return l
}

func pipelineCommand(p pipeline) *cobra.Command {
	cmd := &cobra.Command{
		Use:   p.name,
		Short: p.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newRunEnv(cmd)
			if err != nil {
				return err
			}
			ledger := openLedger(env.cfg, env.logger)
			if ledger != nil {
				defer ledger.Close()
			}
			return execute(cmd.Context(), env, ledger, p)
		},
	}
	addRunFlags(cmd)
	return cmd
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every layer, then write the summary",
	Long: `All runs the four pipelines in order. A failing pipeline does not stop
the others; the command exits non-zero if any of them failed. The summary is
written from whatever tables exist afterwards.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newRunEnv(cmd)
		if err != nil {
			return err
		}
		ledger := openLedger(env.cfg, env.logger)
		if ledger != nil {
			defer ledger.Close()
		}

		var errs []error
		for _, p := range pipelines {
			if err := execute(cmd.Context(), env, ledger, p); err != nil {
				env.logger.WithError(err).Error("pipeline failed")
				errs = append(errs, err)
			}
		}
		if err := writeSummary(env.cfg, report.DefaultOptions, env.skipFigure, env.logger); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d step(s) failed: %w", len(errs), errors.Join(errs...))
		}
		return nil
	},
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("offline", false, "never fetch; missing snapshots are errors")
	cmd.Flags().Bool("skip-figure", false, "do not render the PNG figure")
	cmd.Flags().Bool("no-progress", false, "hide progress bars")
}

func init() {
	for _, p := range pipelines {
		rootCmd.AddCommand(pipelineCommand(p))
	}
	addRunFlags(allCmd)
	rootCmd.AddCommand(allCmd)
}
