// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package biblio

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"time"

	"github.com/apex/log"

	"github.com/pdiddy/resurgence/internal/chart"
	"github.com/pdiddy/resurgence/internal/openalex"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Output files.
const (
	TableFile  = "real_bibliometrics.csv"
	BreakFile  = "real_bibliometrics_break.csv"
	FigureFile = "layer2_real_bibliometrics.png"
)

// Snapshot prefixes under the raw directory.
const (
	TopicPrefix      = "openalex_ct_ai_by_year"
	ComparisonPrefix = "openalex_genai_ed_by_year"
	TotalPrefix      = "openalex_total_ai_by_year"
)

// Options controls optional behaviour of Run.
type Options struct {
	// Client queries OpenAlex when a snapshot is missing. Nil disables
	// fetching.
	Client *openalex.Client

	// Today dates newly written snapshots. Zero means time.Now.
	Today time.Time

	SkipFigure bool
}

// Result is the outcome of a bibliometric pipeline run.
type Result struct {
	types.RunSummary

	Publications     []types.PublicationCount
	Topic            Counts
	Comparison       Counts
	Totals           map[int]int
	TopicGrowth      []types.NullFloat
	ComparisonGrowth []types.NullFloat
	Bursts           []Burst
	Ratios           []Ratio
	Break            *StructuralBreak
	RatioChange      types.NullFloat
}

// Queries returns the topic, comparison and denominator queries in that
// order.
func Queries(bc types.BibliometricConfig) []openalex.Query {
	return []openalex.Query{
		{Prefix: TopicPrefix, Filter: bc.TopicFilter, GroupBy: "publication_year"},
		{Prefix: ComparisonPrefix, Filter: bc.ComparisonFilter, GroupBy: "publication_year"},
		{Prefix: TotalPrefix, Filter: "concept.id:" + bc.DenominatorConcept, GroupBy: "publication_year"},
	}
}

// Run loads the three yearly-count snapshots, computes growth, bursts, the
// normalized ratio and the structural break, and writes the tables and figure.
func Run(ctx context.Context, cfg types.PipelineConfig, opts Options, logger log.Interface) (*Result, error) {
	res := &Result{RunSummary: types.RunSummary{Pipeline: "bibliometric"}}
	bc := cfg.Bibliometric
	if bc.LastYear < bc.FirstYear {
		return res, fmt.Errorf("bibliometric: last year %d before first year %d", bc.LastYear, bc.FirstYear)
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}

	queries := Queries(bc)
	loaded := make([]map[int]int, len(queries))
	for i, q := range queries {
		counts, path, err := loadYearCounts(ctx, opts.Client, cfg.Paths.RawDir, q, today, logger)
		if err != nil {
			return res, err
		}
		res.Input(path)
		loaded[i] = counts
	}
	res.Topic = Dense(loaded[0], bc.FirstYear, bc.LastYear)
	res.Comparison = Dense(loaded[1], bc.FirstYear, bc.LastYear)
	res.Totals = loaded[2]

	for i, y := range res.Topic.Years {
		res.Publications = append(res.Publications, types.PublicationCount{
			Year:       y,
			TopicCount: res.Topic.Values[i],
			TotalCount: res.Totals[y],
		})
	}

	var err error
	if res.TopicGrowth, err = YearOverYearGrowth(res.Topic); err != nil {
		res.fail("topic growth", "", err, logger)
	}
	if res.ComparisonGrowth, err = YearOverYearGrowth(res.Comparison); err != nil {
		res.fail("comparison growth", "", err, logger)
	}
	if res.Bursts, err = DetectBursts(res.Topic, bc.BurstThreshold); err != nil {
		res.fail("burst detection", "", err, logger)
	}
	if res.Ratios, err = NormalizedRatio(res.Topic, res.Totals, bc.RatioScale); err != nil {
		res.fail("normalized ratio", "", err, logger)
	}
	if sb, err := DetectStructuralBreak(res.Topic, res.TopicGrowth, bc.BreakYear); err != nil {
		res.fail("structural break", strconv.Itoa(bc.BreakYear), err, logger)
	} else {
		res.Break = &sb
		logger.WithFields(log.Fields{
			"pre_avg_growth":  tabular.NullFixed(sb.PreAvgGrowth, 1),
			"post_avg_growth": tabular.NullFixed(sb.PostAvgGrowth, 1),
			"acceleration":    tabular.NullFixed(sb.AccelerationFactor, 1),
		}).Info("structural break")
	}
	if res.RatioChange, err = RatioChange(res.Ratios, bc.RatioBaseYear, bc.RatioCompareYear); err != nil {
		res.fail("ratio change", fmt.Sprintf("%d-%d", bc.RatioBaseYear, bc.RatioCompareYear), err, logger)
	}

	for _, out := range []struct {
		name  string
		table *tabular.Table
	}{
		{TableFile, res.Table()},
		{BreakFile, res.BreakTable(bc)},
	} {
		path := filepath.Join(cfg.Paths.ProcessedDir, out.name)
		if err := tabular.WriteFile(path, out.table); err != nil {
			return res, err
		}
		res.Output(path)
		logger.WithField("file", path).Info("saved")
	}

	if !opts.SkipFigure {
		path := filepath.Join(cfg.Paths.FiguresDir, FigureFile)
		if err := chart.Grid(path, 2, res.Panels(bc)); err != nil {
			return res, err
		}
		res.Output(path)
		logger.WithField("file", path).Info("saved")
	}
	return res, nil
}

func (r *Result) fail(computation, key string, err error, logger log.Interface) {
	r.Fail(computation, key, err)
	logger.WithError(err).WithField("computation", computation).Warn("computation failed")
}

func loadYearCounts(ctx context.Context, client *openalex.Client, dir string, q openalex.Query, today time.Time, logger log.Interface) (map[int]int, string, error) {
	resp, path, err := openalex.Cached(ctx, client, dir, q, today, logger)
	if err != nil {
		return nil, "", err
	}
	counts, err := resp.YearCounts(path)
	if err != nil {
		return nil, "", err
	}
	return counts, path, nil
}

// Table renders real_bibliometrics.csv.
func (r *Result) Table() *tabular.Table {
	t := &tabular.Table{Header: []string{
		"Year", "CT_AI_Pubs", "GenAI_Ed_Pubs", "Total_AI_Pubs", "Critical_Ratio", "Critical_Ratio_per_10k",
		"CT_AI_YoY", "GenAI_Ed_YoY", "CT_AI_zscore", "Burst",
	}}
	for i, p := range r.Publications {
		total := ""
		if _, ok := r.Totals[p.Year]; ok {
			total = tabular.Int(p.TotalCount)
		}
		ratio, scaled := "", ""
		if i < len(r.Ratios) {
			ratio, scaled = tabular.Null(r.Ratios[i].Ratio), tabular.Null(r.Ratios[i].Scaled)
		}
		z, burst := "", ""
		if i < len(r.Bursts) {
			z = tabular.Float(r.Bursts[i].Z)
			burst = "No"
			if r.Bursts[i].Burst {
				burst = "Yes"
			}
		}
		t.Append(
			strconv.Itoa(p.Year),
			tabular.Int(p.TopicCount),
			tabular.Int(r.Comparison.Values[i]),
			total,
			ratio,
			scaled,
			pct(r.TopicGrowth, i),
			pct(r.ComparisonGrowth, i),
			z,
			burst,
		)
	}
	return t
}

func pct(g []types.NullFloat, i int) string {
	if i >= len(g) || !g[i].Valid {
		return ""
	}
	return tabular.Float(g[i].Value * 100)
}

// BreakTable renders the structural-break and ratio-change metrics.
func (r *Result) BreakTable(bc types.BibliometricConfig) *tabular.Table {
	t := &tabular.Table{Header: []string{"Metric", "Value"}}
	if sb := r.Break; sb != nil {
		t.Append("break_year", strconv.Itoa(sb.BreakYear))
		t.Append("pre_slope", tabular.Float(sb.PreSlope))
		t.Append("post_slope", tabular.Float(sb.PostSlope))
		t.Append("slope_ratio", tabular.Null(sb.SlopeRatio))
		t.Append("pre_r_squared", tabular.Null(sb.PreRSquared))
		t.Append("post_r_squared", tabular.Null(sb.PostRSquared))
		t.Append("pre_avg_growth_pct", tabular.Null(sb.PreAvgGrowth))
		t.Append("post_avg_growth_pct", tabular.Null(sb.PostAvgGrowth))
		t.Append("acceleration_factor", tabular.Null(sb.AccelerationFactor))
	}
	for _, year := range []int{bc.RatioBaseYear, bc.RatioCompareYear} {
		for _, ratio := range r.Ratios {
			if ratio.Year == year {
				t.Append(fmt.Sprintf("ratio_per_10k_%d", year), tabular.Null(ratio.Scaled))
			}
		}
	}
	t.Append(fmt.Sprintf("ratio_change_%d_%d", bc.RatioBaseYear, bc.RatioCompareYear), tabular.Null(r.RatioChange))
	return t
}

// Panels builds the four bibliometric figure panels.
func (r *Result) Panels(bc types.BibliometricConfig) []chart.Panel {
	years := make([]float64, len(r.Topic.Years))
	labels := make([]string, len(r.Topic.Years))
	for i, y := range r.Topic.Years {
		years[i] = float64(y)
		labels[i] = strconv.Itoa(y)
	}
	marker := []float64{float64(bc.BreakYear) - 0.5}

	ratio := make([]float64, len(r.Ratios))
	for i, q := range r.Ratios {
		ratio[i] = nullToNaN(q.Scaled)
	}
	growth := func(g []types.NullFloat) []float64 {
		out := make([]float64, len(g))
		for i, v := range g {
			out[i] = nullToNaN(v) * 100
		}
		return out
	}

	accel := ""
	if r.Break != nil && r.Break.AccelerationFactor.Valid {
		accel = fmt.Sprintf(" (acceleration %.1fx)", r.Break.AccelerationFactor.Value)
	}
	return []chart.Panel{
		{
			Title:      "Publications by year",
			YLabel:     "Publications",
			Categories: labels,
			Bars: []chart.Bars{
				{Label: "CT + AI", Values: r.Topic.floats()},
				{Label: "GenAI + Education", Values: r.Comparison.floats()},
			},
		},
		{
			Title:   "Growth, log scale" + accel,
			YLabel:  "Publications (log)",
			LogY:    true,
			Lines:   []chart.Line{{Label: "CT + AI", X: years, Y: r.Topic.floats()}, {Label: "GenAI + Education", X: years, Y: r.Comparison.floats(), Dashed: true, Color: 1}},
			Markers: marker,
		},
		{
			Title:   "CT + AI per 10,000 AI papers",
			YLabel:  "Ratio per 10k",
			Lines:   []chart.Line{{X: years, Y: ratio, Color: 2}},
			Points:  []chart.Line{{X: years, Y: ratio}},
			Markers: marker,
		},
		{
			Title:   "Year-over-year growth (%)",
			YLabel:  "Growth %",
			Lines:   []chart.Line{{Label: "CT + AI", X: years, Y: growth(r.TopicGrowth)}, {Label: "GenAI + Education", X: years, Y: growth(r.ComparisonGrowth), Dashed: true, Color: 1}},
			Markers: marker,
		},
	}
}

func nullToNaN(v types.NullFloat) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Value
}
