// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/pdiddy/resurgence/internal/biblio"
	"github.com/pdiddy/resurgence/internal/httputil"
	"github.com/pdiddy/resurgence/internal/openalex"
	"github.com/pdiddy/resurgence/internal/snapshot"
	"github.com/pdiddy/resurgence/internal/stratify"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// fetchSources are the snapshot groups fetch knows about.
var fetchSources = []string{"openalex", "trends", "undp", "notes"}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download raw snapshots without running any analysis",
	Long: `Fetch fills data/raw with the OpenAlex group_by snapshots, the
search-interest series, the UNDP composite indices file and the Community
Notes export. Existing snapshots are kept unless --force is given; forced
OpenAlex queries are saved under today's date so earlier snapshots remain.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().Bool("force", false, "refetch snapshots that already exist")
	fetchCmd.Flags().StringSlice("source", fetchSources, "snapshot groups to fetch")
	fetchCmd.Flags().Bool("no-progress", false, "hide progress bars")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	env, err := newRunEnv(cmd)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")
	sources, _ := cmd.Flags().GetStringSlice("source")
	for _, s := range sources {
		if !slices.Contains(fetchSources, s) {
			return fmt.Errorf("unknown source %q (known: %v)", s, fetchSources)
		}
	}

	ctx := cmd.Context()
	today := time.Now().UTC()
	var errs []error
	if slices.Contains(sources, "openalex") {
		errs = append(errs, fetchOpenAlex(ctx, env, today, force))
	}
	if slices.Contains(sources, "trends") {
		errs = append(errs, fetchTrends(ctx, env, force))
	}
	cfg := env.cfg
	if slices.Contains(sources, "undp") {
		errs = append(errs, download(ctx, env, "undp", cfg.Stratification.HDIURL, filepath.Join(cfg.Paths.RawDir, cfg.Stratification.HDIFile), force))
	}
	if slices.Contains(sources, "notes") {
		errs = append(errs, download(ctx, env, "zenodo", cfg.Participation.NotesURL, filepath.Join(cfg.Paths.RawDir, cfg.Participation.NotesFile), force))
	}
	return errors.Join(errs...)
}

func fetchOpenAlex(ctx context.Context, env *runEnv, today time.Time, force bool) error {
	client := env.openAlex()
	queries := append(biblio.Queries(env.cfg.Bibliometric), stratify.CountryQuery(env.cfg.Stratification))
	for _, q := range queries {
		lg := env.logger.WithField("prefix", q.Prefix)
		if !force {
			_, path, err := openalex.Cached(ctx, client, env.cfg.Paths.RawDir, q, today, lg)
			if err != nil {
				return err
			}
			lg.WithField("file", path).Info("snapshot ready")
			continue
		}
		resp, err := client.GroupBy(ctx, q.Filter, q.GroupBy)
		if err != nil {
			return err
		}
		path, err := openalex.Save(env.cfg.Paths.RawDir, q.Prefix, today, resp)
		if err != nil {
			return err
		}
		lg.WithFields(log.Fields{"file": path, "groups": len(resp.GroupBy)}).Info("saved")
	}
	return nil
}

func fetchTrends(ctx context.Context, env *runEnv, force bool) error {
	client := env.searchInterest()
	if client == nil {
		return errors.New("trends: no SerpApi key (put it in .secrets/serpapi-api-key or RESURGENCE_SERPAPI_KEY)")
	}
	tc := env.cfg.Trends
	from, err := types.ParseDate("trends.fetch_from", tc.FetchFrom)
	if err != nil {
		return err
	}
	to, err := types.ParseDate("trends.fetch_to", tc.FetchTo)
	if err != nil {
		return err
	}
	for _, sc := range tc.Series {
		path := filepath.Join(env.cfg.Paths.RawDir, sc.File)
		lg := env.logger.WithFields(log.Fields{"series": sc.ID, "file": path})
		if _, err := os.Stat(path); err == nil && !force {
			lg.Info("snapshot ready")
			continue
		}
		r, err := client.InterestOverTime(ctx, sc.Term, sc.Geo, from, to)
		if err != nil {
			return err
		}
		if err := tabular.WriteFile(path, r.Table()); err != nil {
			return err
		}
		lg.WithField("months", len(r.Observations)).Info("saved")
	}
	return nil
}

func download(ctx context.Context, env *runEnv, source, url, dest string, force bool) error {
	if env.offline {
		return nil
	}
	opts := snapshot.DownloadOptions{
		Source:     source,
		UserAgent:  env.cfg.HTTP.UserAgent,
		MaxRetries: env.cfg.HTTP.MaxRetries,
		Progress:   env.progress,
	}
	client := httputil.NewClient(env.cfg.HTTP)
	lg := env.logger.WithFields(log.Fields{"source": source, "file": dest})
	if force {
		if err := snapshot.Download(ctx, client, url, dest, opts); err != nil {
			return err
		}
		lg.Info("saved")
		return nil
	}
	fetched, err := snapshot.Ensure(ctx, client, url, dest, opts)
	if err != nil {
		return err
	}
	if fetched {
		lg.Info("saved")
	} else {
		lg.Info("snapshot ready")
	}
	return nil
}
