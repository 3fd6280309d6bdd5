// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package trend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/apex/log"

	"github.com/pdiddy/resurgence/internal/chart"
	"github.com/pdiddy/resurgence/internal/searchinterest"
	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Output file names under the processed and figures directories.
const (
	AnalysisFile   = "real_trends_analysis.csv"
	PlaceboFile    = "placebo_breakpoint_analysis.csv"
	RobustnessFile = "robustness_checks.csv"
	EffectsFile    = "effect_sizes_trends.csv"
	FigureFile     = "layer1_real_trends.png"
)

// Options controls optional behaviour of Run.
type Options struct {
	// Client fetches snapshots that are missing from the raw directory.
	// Nil means missing snapshots are an error.
	Client *searchinterest.Client

	// SkipFigure disables chart rendering.
	SkipFigure bool
}

// Analysis collects every result for one series.
type Analysis struct {
	Series     types.Series
	Actual     PlaceboRow
	Volatility Volatility
	Placebos   []PlaceboRow
	Robustness Robustness
}

// Result is the outcome of a trend pipeline run.
type Result struct {
	types.RunSummary
	Analyses []Analysis
	Effects  []EffectSize
}

// Run loads every configured series, runs the breakpoint analysis, and
// writes the trend tables and figure.
func Run(ctx context.Context, cfg types.PipelineConfig, opts Options, logger log.Interface) (*Result, error) {
	res := &Result{RunSummary: types.RunSummary{Pipeline: "trends"}}
	tc := cfg.Trends
	bp, err := types.ParseDate("trends.breakpoint", tc.Breakpoint)
	if err != nil {
		return res, err
	}
	var candidates []time.Time
	for _, d := range tc.PlaceboBreakpoints {
		c, err := types.ParseDate("trends.placebo_breakpoints", d)
		if err != nil {
			return res, err
		}
		candidates = append(candidates, c)
	}

	var series []types.Series
	for _, sc := range tc.Series {
		path := filepath.Join(cfg.Paths.RawDir, sc.File)
		if err := ensureSnapshot(ctx, path, sc, tc, opts.Client, logger); err != nil {
			return res, err
		}
		res.Input(path)
		s, err := LoadSeries(path, sc)
		if err != nil {
			return res, err
		}
		logger.WithFields(log.Fields{
			"series": s.ID,
			"months": len(s.Points),
			"from":   s.Points[0].Month.Format(types.MonthLayout),
			"to":     s.Points[len(s.Points)-1].Month.Format(types.MonthLayout),
		}).Info("loaded search-interest series")
		series = append(series, s)
	}

	a := NewAnalyzer(tc)
	for _, s := range series {
		res.Analyses = append(res.Analyses, analyze(a, s, bp, candidates, &res.RunSummary, logger))
	}

	boot := stats.NewBootstrap(tc.BootstrapDraws, tc.BootstrapSeed)
	res.Effects = EffectSizes(series, bp, boot, func(id string, err error) {
		res.Fail("effect sizes", id, err)
		logger.WithError(err).WithField("series", id).Warn("effect sizes skipped")
	})

	tables := []struct {
		name  string
		table *tabular.Table
	}{
		{AnalysisFile, AnalysisTable(res.Analyses)},
		{PlaceboFile, PlaceboTable(res.Analyses)},
		{RobustnessFile, RobustnessTable(res.Analyses)},
		{EffectsFile, EffectsTable(res.Effects)},
	}
	for _, t := range tables {
		path := filepath.Join(cfg.Paths.ProcessedDir, t.name)
		if err := tabular.WriteFile(path, t.table); err != nil {
			return res, err
		}
		res.Output(path)
		logger.WithField("file", path).Info("saved")
	}

	if !opts.SkipFigure {
		path := filepath.Join(cfg.Paths.FiguresDir, FigureFile)
		if err := chart.Grid(path, 2, Panels(res.Analyses, bp)); err != nil {
			return res, err
		}
		res.Output(path)
		logger.WithField("file", path).Info("saved")
	}
	return res, nil
}

func ensureSnapshot(ctx context.Context, path string, sc types.TrendSeriesConfig, tc types.TrendConfig, client *searchinterest.Client, logger log.Interface) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("checking %s: %w", path, err)
	case client == nil:
		return nil
	}
	from, err := types.ParseDate("trends.fetch_from", tc.FetchFrom)
	if err != nil {
		return err
	}
	to, err := types.ParseDate("trends.fetch_to", tc.FetchTo)
	if err != nil {
		return err
	}
	logger.WithFields(log.Fields{"term": sc.Term, "geo": sc.Geo}).Info("fetching search interest")
	r, err := client.InterestOverTime(ctx, sc.Term, sc.Geo, from, to)
	if err != nil {
		return err
	}
	return tabular.WriteFile(path, r.Table())
}

func analyze(a *Analyzer, s types.Series, bp time.Time, candidates []time.Time, run *types.RunSummary, logger log.Interface) Analysis {
	lg := logger.WithField("series", s.ID)
	an := Analysis{
		Series:     s,
		Actual:     a.AtBreakpoint(s, bp),
		Volatility: MeasureVolatility(s, bp),
		Placebos:   a.PlaceboSweep(s, bp, candidates),
	}
	if err := an.Actual.ComparisonErr; err != nil {
		run.Fail("compare distributions", s.ID, err)
		lg.WithError(err).Warn("rank comparison skipped")
	}
	if err := an.Actual.TrendErr; err != nil {
		run.Fail("segmented trend", s.ID, err)
		lg.WithError(err).Warn("segmented regression skipped")
	} else if an.Actual.Trend.ZeroVariance {
		lg.Warn("zero-variance segment, HAC p-values undefined")
	}
	for _, p := range an.Placebos {
		key := s.ID + " " + p.Breakpoint.Format(types.DateLayout)
		if p.ComparisonErr != nil {
			run.Fail("placebo comparison", key, p.ComparisonErr)
		}
		if p.TrendErr != nil {
			run.Fail("placebo trend", key, p.TrendErr)
		}
	}

	pre, err := a.PreTrendTest(s, bp)
	if err != nil {
		run.Fail("pre-trend", s.ID, err)
		lg.WithError(err).Warn("pre-trend test skipped")
	}
	an.Robustness = Summarize(an.Actual, an.Placebos, pre)

	if c := an.Actual.Comparison; c != nil {
		lg.WithFields(log.Fields{
			"pre_median":  c.PreMedian,
			"post_median": c.PostMedian,
			"effect_pct":  tabular.NullFixed(c.EffectPct, 1),
			"p":           c.P,
		}).Info("breakpoint comparison")
	}
	return an
}

// AnalysisTable renders real_trends_analysis.csv, sorted by median effect
// descending. Series with an undefined effect sort last.
func AnalysisTable(analyses []Analysis) *tabular.Table {
	t := &tabular.Table{Header: []string{
		"Language", "Pre_Median", "Post_Median", "Effect_Pct", "Mann_Whitney_U", "MW_P_Value",
		"Slope_Pre", "Slope_Change", "Slope_Post", "R_Squared", "Slope_Change_P_HAC",
		"Pre_AbsDiff_Mean", "Post_AbsDiff_Mean", "Volatility_Ratio",
	}}

	sorted := append([]Analysis(nil), analyses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ei, ej := effectOf(sorted[i]), effectOf(sorted[j])
		switch {
		case ei.Valid && ej.Valid && ei.Value != ej.Value:
			return ei.Value > ej.Value
		case ei.Valid != ej.Valid:
			return ei.Valid
		}
		return sorted[i].Series.ID < sorted[j].Series.ID
	})

	for _, an := range sorted {
		row := []string{an.Series.ID}
		if c := an.Actual.Comparison; c != nil {
			row = append(row,
				tabular.Fixed(c.PreMedian, 1),
				tabular.Fixed(c.PostMedian, 1),
				tabular.NullFixed(c.EffectPct, 1),
				tabular.Fixed(c.U, 1),
				tabular.Float(c.P))
		} else {
			row = append(row, "", "", "", "", "")
		}
		if f := an.Actual.Trend; f != nil {
			row = append(row,
				tabular.Fixed(f.SlopePre, 4),
				tabular.Fixed(f.SlopeChange, 4),
				tabular.Fixed(f.SlopePost, 4),
				tabular.NullFixed(f.RSquared, 4),
				tabular.Null(f.SlopeChangeP))
		} else {
			row = append(row, "", "", "", "", "")
		}
		v := an.Volatility
		row = append(row,
			tabular.NullFixed(v.PreMeanAbsDiff, 3),
			tabular.NullFixed(v.PostMeanAbsDiff, 3),
			tabular.NullFixed(v.Ratio, 3))
		t.Append(row...)
	}
	return t
}

func effectOf(an Analysis) types.NullFloat {
	if an.Actual.Comparison == nil {
		return types.Null
	}
	return an.Actual.Comparison.EffectPct
}

// PlaceboTable renders placebo_breakpoint_analysis.csv: per series, the true
// breakpoint row followed by the placebo rows in date order.
func PlaceboTable(analyses []Analysis) *tabular.Table {
	t := &tabular.Table{Header: []string{
		"break_date", "is_chatgpt", "pre_median", "post_median", "effect_pct", "p_value", "significant",
		"its_slope_pre", "its_slope_change", "its_slope_post", "its_slope_change_p_hac",
		"its_n_pre", "its_n_post", "its_r_squared", "language",
	}}
	for _, an := range analyses {
		rows := append([]PlaceboRow{an.Actual}, an.Placebos...)
		for _, p := range rows {
			row := []string{p.Breakpoint.Format(types.DateLayout), tabular.Bool(p.IsBreakpoint)}
			if c := p.Comparison; c != nil {
				row = append(row,
					tabular.Float(c.PreMedian),
					tabular.Float(c.PostMedian),
					tabular.Null(c.EffectPct),
					tabular.Float(c.P),
					tabular.Bool(c.P < 0.001))
			} else {
				row = append(row, "", "", "", "", "")
			}
			if f := p.Trend; f != nil {
				row = append(row,
					tabular.Float(f.SlopePre),
					tabular.Float(f.SlopeChange),
					tabular.Float(f.SlopePost),
					tabular.Null(f.SlopeChangeP),
					tabular.Int(f.NPre),
					tabular.Int(f.NPost),
					tabular.Null(f.RSquared))
			} else {
				row = append(row, "", "", "", "", "", "", "")
			}
			t.Append(append(row, an.Series.ID)...)
		}
	}
	return t
}

// RobustnessTable renders robustness_checks.csv.
func RobustnessTable(analyses []Analysis) *tabular.Table {
	t := &tabular.Table{Header: []string{
		"language", "chatgpt_median_effect_pct", "max_placebo_effect_pct", "chatgpt_median_strongest",
		"chatgpt_its_slope_change", "max_placebo_its_slope_change", "chatgpt_its_slope_strongest",
		"chatgpt_its_slope_change_p_hac", "pre_trend_slope", "pre_trend_r_squared",
		"pre_trend_p_value_hac", "pre_trend_significant",
	}}
	for _, an := range analyses {
		r := an.Robustness
		t.Append(
			an.Series.ID,
			tabular.Null(r.EffectPct),
			tabular.Null(r.MaxPlaceboEffect),
			tabular.Bool(r.StrongestEffect),
			tabular.Null(r.SlopeChange),
			tabular.Null(r.MaxPlaceboSlope),
			tabular.Bool(r.StrongestSlope),
			tabular.Null(r.SlopeChangeP),
			tabular.Null(r.PreTrend.Slope),
			tabular.Null(r.PreTrend.RSquared),
			tabular.Null(r.PreTrend.P),
			tabular.Bool(r.PreTrend.Significant()),
		)
	}
	return t
}

// EffectsTable renders effect_sizes_trends.csv.
func EffectsTable(effects []EffectSize) *tabular.Table {
	t := &tabular.Table{Header: []string{
		"language", "pre_median", "pre_ci_lower", "pre_ci_upper", "post_median", "post_ci_lower",
		"post_ci_upper", "cohens_d", "rank_biserial_r", "p_value", "bonferroni_significant", "bonferroni_alpha",
	}}
	for _, e := range effects {
		t.Append(
			e.SeriesID,
			tabular.Float(e.PreMedian),
			tabular.Float(e.PreCI.Lower),
			tabular.Float(e.PreCI.Upper),
			tabular.Float(e.PostMedian),
			tabular.Float(e.PostCI.Lower),
			tabular.Float(e.PostCI.Upper),
			tabular.Float(e.CohensD),
			tabular.Float(e.RankBiserial),
			tabular.Float(e.P),
			tabular.Bool(e.BonferroniSignificant),
			tabular.Float(e.BonferroniAlpha),
		)
	}
	return t
}

// Panels builds one figure panel per series: the raw index, its six-month
// rolling mean, and a marker at the breakpoint.
func Panels(analyses []Analysis, bp time.Time) []chart.Panel {
	var panels []chart.Panel
	for i, an := range analyses {
		months := make([]time.Time, len(an.Series.Points))
		for j, p := range an.Series.Points {
			months[j] = p.Month
		}
		x := chart.TimeX(months)
		y := an.Series.Values()

		title := fmt.Sprintf("%s: %q", an.Series.ID, an.Series.Term)
		if c := an.Actual.Comparison; c != nil && c.EffectPct.Valid {
			title = fmt.Sprintf("%s (median shift %+.0f%%, p=%.2g)", title, c.EffectPct.Value, c.P)
		}
		panels = append(panels, chart.Panel{
			Title:    title,
			YLabel:   "Search interest",
			TimeAxis: true,
			Lines: []chart.Line{
				{X: x, Y: y, Faint: true, Color: i},
				{Label: "6-month mean", X: x, Y: chart.RollingMean(y, 6), Color: i},
			},
			Markers: []float64{float64(types.MonthStart(bp).Unix())},
		})
	}
	return panels
}
