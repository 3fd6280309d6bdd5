// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package participation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"

	"github.com/pdiddy/resurgence/internal/chart"
	"github.com/pdiddy/resurgence/internal/snapshot"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Output files.
const (
	MonthlyFile  = "real_community_notes_monthly.csv"
	LanguageFile = "real_community_notes_language.csv"
	SummaryFile  = "real_community_notes.csv"
	FigureFile   = "layer3_real_community_notes.png"
)

const (
	datasetSource  = "Zenodo notes_with_lang.csv"
	computedSource = "Computed"
)

// ExternalContext holds aggregate note outcomes reported by the dataset's
// authors. They are carried into the summary table as published and never
// recomputed.
type ExternalContext struct {
	Source               string
	HelpfulRate          float64
	NeedsMoreRatingsRate float64
	TopContributorNotes  int
	AvgHoursToHelpful    int
}

// PublishedContext is the context reported with the note dataset.
var PublishedContext = ExternalContext{
	Source:               "Mohammadi et al. (2025)",
	HelpfulRate:          0.083,
	NeedsMoreRatingsRate: 0.877,
	TopContributorNotes:  33186,
	AvgHoursToHelpful:    26,
}

// Options controls optional behaviour of Run.
type Options struct {
	// HTTP downloads the notes file when it is missing. Nil disables
	// downloading.
	HTTP *http.Client

	// Progress receives progress bars for the download and the streaming
	// read. Nil disables them.
	Progress io.Writer

	SkipFigure bool
}

// Result is the outcome of a participation pipeline run.
type Result struct {
	types.RunSummary

	Totals    Totals
	Monthly   []MonthlyRow
	Languages []LanguageRow
	PrePost   PrePost
}

// Run streams the note export through the coverage window, aggregates it and
// writes the monthly, language and summary tables plus the figure.
func Run(ctx context.Context, cfg types.PipelineConfig, opts Options, logger log.Interface) (*Result, error) {
	res := &Result{RunSummary: types.RunSummary{Pipeline: "participation"}}
	pc := cfg.Participation
	start, err := types.ParseDate("participation.coverage_start", pc.CoverageStart)
	if err != nil {
		return res, err
	}
	end, err := types.ParseDate("participation.coverage_end", pc.CoverageEnd)
	if err != nil {
		return res, err
	}
	bp, err := types.ParseDate("participation.breakpoint", pc.Breakpoint)
	if err != nil {
		return res, err
	}

	path := filepath.Join(cfg.Paths.RawDir, pc.NotesFile)
	if err := ensureNotes(ctx, path, cfg, opts, logger); err != nil {
		return res, err
	}
	res.Input(path)

	sf := Snowflake{Shift: pc.SnowflakeShift, EpochMillis: pc.SnowflakeEpochMillis}
	agg := NewAggregator(Window{Start: start, End: end}, sf)
	ro := ReadOptions{Snowflake: sf}
	if pc.ShowProgress {
		ro.Progress = opts.Progress
	}
	logger.WithField("file", path).Info("streaming notes")
	st, err := ReadNotes(path, ro, func(ev types.NoteEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		agg.Add(ev)
		return nil
	})
	if err != nil {
		return res, err
	}

	res.Totals = agg.Totals()
	res.Totals.Dropped = st.Dropped
	res.Monthly = agg.Monthly()
	res.Languages = agg.Languages()
	logger.WithFields(log.Fields{
		"rows":           st.Rows,
		"notes":          res.Totals.Notes,
		"contributors":   res.Totals.Contributors,
		"posts":          res.Totals.DistinctPosts,
		"dropped":        res.Totals.Dropped,
		"outside_window": res.Totals.OutsideWindow,
	}).Info("aggregated notes")

	res.PrePost = SummarizePrePost(res.Monthly, bp)
	if res.PrePost.PreMonths == 0 || res.PrePost.PostMonths == 0 {
		err := &types.InsufficientDataError{
			Computation: "pre/post summary",
			Have:        min(res.PrePost.PreMonths, res.PrePost.PostMonths),
			Need:        1,
		}
		res.Fail("pre/post summary", pc.Breakpoint, err)
		logger.WithError(err).Warn("computation failed")
	}

	for _, out := range []struct {
		name  string
		table *tabular.Table
	}{
		{MonthlyFile, MonthlyTable(res.Monthly)},
		{LanguageFile, LanguageTable(res.Languages)},
		{SummaryFile, SummaryTable(res.Totals, res.PrePost, PublishedContext)},
	} {
		p := filepath.Join(cfg.Paths.ProcessedDir, out.name)
		if err := tabular.WriteFile(p, out.table); err != nil {
			return res, err
		}
		res.Output(p)
		logger.WithField("file", p).Info("saved")
	}

	if !opts.SkipFigure {
		if len(res.Monthly) == 0 {
			logger.Warn("no months in coverage window; figure skipped")
		} else {
			p := filepath.Join(cfg.Paths.FiguresDir, FigureFile)
			if err := chart.Grid(p, 2, Panels(res.Monthly, bp)); err != nil {
				return res, err
			}
			res.Output(p)
			logger.WithField("file", p).Info("saved")
		}
	}
	return res, nil
}

func ensureNotes(ctx context.Context, path string, cfg types.PipelineConfig, opts Options, logger log.Interface) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if opts.HTTP == nil {
		return fmt.Errorf("missing notes file %s (download from %s)", path, cfg.Participation.NotesURL)
	}
	logger.WithField("url", cfg.Participation.NotesURL).Info("downloading notes")
	_, err = snapshot.Ensure(ctx, opts.HTTP, cfg.Participation.NotesURL, path, snapshot.DownloadOptions{
		Source:     "zenodo",
		UserAgent:  cfg.HTTP.UserAgent,
		MaxRetries: cfg.HTTP.MaxRetries,
		Progress:   opts.Progress,
	})
	return err
}

// MonthlyTable renders the monthly series.
func MonthlyTable(rows []MonthlyRow) *tabular.Table {
	t := &tabular.Table{Header: []string{"Month", "Notes", "Active_Authors", "Notes_per_Author", "Median_TimeToFirstNote_hours"}}
	for _, r := range rows {
		t.Append(
			r.Month.Format(types.MonthLayout),
			tabular.Int(r.Notes),
			tabular.Int(r.ActiveAuthors),
			tabular.Null(r.NotesPerAuthor),
			tabular.Null(r.MedianHoursToFirstNote),
		)
	}
	return t
}

// LanguageTable renders the language distribution.
func LanguageTable(rows []LanguageRow) *tabular.Table {
	t := &tabular.Table{Header: []string{"Language", "Notes", "Notes_Share", "Unique_Authors"}}
	for _, r := range rows {
		t.Append(r.Language, tabular.Int(r.Notes), tabular.Float(r.Share), tabular.Int(r.UniqueAuthors))
	}
	return t
}

// SummaryTable renders the metric/value/source summary.
func SummaryTable(tot Totals, pp PrePost, ext ExternalContext) *tabular.Table {
	t := &tabular.Table{Header: []string{"Metric", "Value", "Source"}}
	t.Append("Total Contributors (unique authors)", tabular.Int(tot.Contributors), datasetSource)
	t.Append("Total Notes", tabular.Int(tot.Notes), datasetSource)
	t.Append("Distinct Posts Annotated (tweetId count)", tabular.Int(tot.DistinctPosts), datasetSource)
	t.Append("Pre-ChatGPT months", tabular.Int(pp.PreMonths), computedSource)
	t.Append("Post-ChatGPT months", tabular.Int(pp.PostMonths), computedSource)
	t.Append("Pre avg monthly notes", tabular.NullFixed(pp.PreAvgNotes, 1), computedSource)
	t.Append("Post avg monthly notes", tabular.NullFixed(pp.PostAvgNotes, 1), computedSource)
	t.Append("Raw monthly notes growth (%)", tabular.NullFixed(pp.NotesGrowthPct, 0), computedSource)
	t.Append("Pre avg active authors", tabular.NullFixed(pp.PreAvgAuthors, 1), computedSource)
	t.Append("Post avg active authors", tabular.NullFixed(pp.PostAvgAuthors, 1), computedSource)
	t.Append("Active authors growth (%)", tabular.NullFixed(pp.AuthorsGrowthPct, 0), computedSource)
	t.Append("Pre avg notes per active author", tabular.NullFixed(pp.PreAvgNotesPerAuthor, 3), computedSource)
	t.Append("Post avg notes per active author", tabular.NullFixed(pp.PostAvgNotesPerAuthor, 3), computedSource)
	t.Append("Notes per author growth (%)", tabular.NullFixed(pp.NotesPerAuthorGrowthPct, 0), computedSource)
	t.Append("Pre median time-to-first-note (hours)", tabular.NullFixed(pp.PreMedianHours, 2), computedSource)
	t.Append("Post median time-to-first-note (hours)", tabular.NullFixed(pp.PostMedianHours, 2), computedSource)
	t.Append("Time-to-first-note change (%)", tabular.NullFixed(pp.HoursChangePct, 0), computedSource)
	t.Append("Helpful rate (%)", tabular.Fixed(ext.HelpfulRate*100, 1), ext.Source)
	t.Append("Needs More Ratings rate (%)", tabular.Fixed(ext.NeedsMoreRatingsRate*100, 1), ext.Source)
	t.Append("Top contributor notes", tabular.Int(ext.TopContributorNotes), ext.Source)
	t.Append("Avg hours to Helpful visible", tabular.Int(ext.AvgHoursToHelpful), ext.Source)
	t.Append("Dropped rows (timestamp parse failures)", tabular.Int(tot.Dropped), computedSource)
	t.Append("Events outside coverage window", tabular.Int(tot.OutsideWindow), computedSource)
	return t
}

// Panels builds the four participation figure panels.
func Panels(rows []MonthlyRow, bp time.Time) []chart.Panel {
	months := make([]time.Time, len(rows))
	notes := make([]float64, len(rows))
	authors := make([]float64, len(rows))
	npa := make([]float64, len(rows))
	hours := make([]float64, len(rows))
	for i, r := range rows {
		months[i] = r.Month
		notes[i] = float64(r.Notes)
		authors[i] = float64(r.ActiveAuthors)
		npa[i] = orNaN(r.NotesPerAuthor)
		hours[i] = orNaN(r.MedianHoursToFirstNote)
	}
	x := chart.TimeX(months)
	marker := []float64{float64(types.MonthStart(bp).Unix())}
	panel := func(title, ylabel string, y []float64, color int) chart.Panel {
		return chart.Panel{
			Title:    title,
			YLabel:   ylabel,
			TimeAxis: true,
			Lines:    []chart.Line{{X: x, Y: y, Color: color}},
			Markers:  marker,
		}
	}
	return []chart.Panel{
		panel("Monthly notes created", "Notes / month", notes, 0),
		panel("Monthly active note writers", "Unique authors / month", authors, 1),
		panel("Notes per active writer", "Notes / author / month", npa, 2),
		panel("Median time-to-first-note", "Hours (median)", hours, 3),
	}
}

func orNaN(v types.NullFloat) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Value
}
