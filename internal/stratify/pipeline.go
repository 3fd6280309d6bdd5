// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stratify

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
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/apex/log"

	"github.com/pdiddy/resurgence/internal/chart"
	"github.com/pdiddy/resurgence/internal/openalex"
	"github.com/pdiddy/resurgence/internal/snapshot"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Output files.
const (
	CountryFile  = "real_hdi_stratification.csv"
	TierFile     = "real_hdi_tiers.csv"
	KeyStatsFile = "real_hdi_key_stats.csv"
	RegionalFile = "real_mooc_regional.csv"
	FigureFile   = "layer4_real_stratification.png"

	// RegionalFigureFile is the regional course-growth comparison.
	RegionalFigureFile = "augmentation_divide_regional.png"
)

// CountryPrefix is the snapshot prefix of the country-attribution query.
const CountryPrefix = "openalex_ct_ai_authorships_countries"

// topBars is the number of countries in the figure's ranking panel.
const topBars = 15

// Options controls optional behaviour of Run.
type Options struct {
	// OpenAlex queries country attributions when no snapshot exists.
	OpenAlex *openalex.Client

	// HTTP downloads the development-index file when it is missing.
	HTTP     *http.Client
	Progress io.Writer

	Today      time.Time
	SkipFigure bool
}

// Result is the outcome of a stratification pipeline run.
type Result struct {
	types.RunSummary

	Join          Join
	ResearchIndex []float64
	Tiers         []TierRow
	Gap           Gap
	Correlations  *Correlations
	Shares        []Share
	Regional      []RegionalRow
}

// CountryQuery is the country-attribution group_by query.
func CountryQuery(sc types.StratificationConfig) openalex.Query {
	return openalex.Query{Prefix: CountryPrefix, Filter: sc.CountryFilter, GroupBy: "authorships.countries"}
}

// Run joins country attributions to development tiers, aggregates them and
// computes the regional growth ratios.
func Run(ctx context.Context, cfg types.PipelineConfig, opts Options, logger log.Interface) (*Result, error) {
	res := &Result{RunSummary: types.RunSummary{Pipeline: "stratification"}}
	sc := cfg.Stratification
	today := opts.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}

	resp, path, err := openalex.Cached(ctx, opts.OpenAlex, cfg.Paths.RawDir, CountryQuery(sc), today, logger)
	if err != nil {
		return res, err
	}
	res.Input(path)
	pubs := CountryPublications(resp)

	hdiPath := filepath.Join(cfg.Paths.RawDir, sc.HDIFile)
	if err := ensureIndexFile(ctx, hdiPath, cfg, opts, logger); err != nil {
		return res, err
	}
	res.Input(hdiPath)
	index, err := LoadDevelopmentIndex(hdiPath, sc.HDIYear, sc.Thresholds, logger)
	if err != nil {
		return res, err
	}

	regionalPath := filepath.Join(cfg.Paths.ReferenceDir, sc.RegionalFile)
	res.Input(regionalPath)
	regional, err := LoadRegionalGrowth(regionalPath)
	if err != nil {
		return res, err
	}

	res.Join = JoinByCountryCode(pubs, index)
	for _, u := range res.Join.Unmatched {
		logger.WithFields(log.Fields{
			"code":         u.CountryCode,
			"iso2":         u.ISO2,
			"name":         u.Name,
			"publications": u.PublicationCount,
		}).Warn("publication row has no development index entry; dropped")
	}
	res.ResearchIndex = ResearchIndex(res.Join.Countries)
	logger.WithFields(log.Fields{
		"countries": len(res.Join.Countries),
		"unmatched": len(res.Join.Unmatched),
	}).Info("joined publications to development index")

	if res.Tiers, err = AggregateByTier(res.Join.Countries); err != nil {
		res.fail("tier aggregate", types.BaselineTier.String(), err, logger)
	}
	if res.Gap, err = TierGap(res.Tiers, types.TierVeryHigh, types.TierLow); err != nil {
		res.fail("tier gap", "", err, logger)
	}
	if corr, err := Correlate(res.Join.Countries); err != nil {
		res.fail("correlation", "", err, logger)
	} else {
		res.Correlations = &corr
	}
	for _, n := range sc.TopN {
		res.Shares = append(res.Shares, Concentration(res.Join.Countries, n))
	}
	if res.Regional, err = RegionalRatio(regional); err != nil {
		res.fail("regional ratio", "", err, logger)
	}

	for _, out := range []struct {
		name  string
		table *tabular.Table
	}{
		{CountryFile, res.CountryTable()},
		{TierFile, TierTable(res.Tiers)},
		{KeyStatsFile, res.KeyStatsTable()},
		{RegionalFile, RegionalTable(res.Regional)},
	} {
		p := filepath.Join(cfg.Paths.ProcessedDir, out.name)
		if err := tabular.WriteFile(p, out.table); err != nil {
			return res, err
		}
		res.Output(p)
		logger.WithField("file", p).Info("saved")
	}

	if !opts.SkipFigure {
		p := filepath.Join(cfg.Paths.FiguresDir, FigureFile)
		if err := chart.Grid(p, 2, res.Panels()); err != nil {
			return res, err
		}
		res.Output(p)
		logger.WithField("file", p).Info("saved")

		p = filepath.Join(cfg.Paths.FiguresDir, RegionalFigureFile)
		if err := chart.Grid(p, 1, []chart.Panel{RegionalPanel(res.Regional)}); err != nil {
			return res, err
		}
		res.Output(p)
		logger.WithField("file", p).Info("saved")
	}
	return res, nil
}

func (r *Result) fail(computation, key string, err error, logger log.Interface) {
	r.Fail(computation, key, err)
	logger.WithError(err).WithField("computation", computation).Warn("computation failed")
}

func ensureIndexFile(ctx context.Context, path string, cfg types.PipelineConfig, opts Options, logger log.Interface) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if opts.HTTP == nil {
		return fmt.Errorf("missing development index file %s (download from %s)", path, cfg.Stratification.HDIURL)
	}
	logger.WithField("url", cfg.Stratification.HDIURL).Info("downloading development index")
	_, err = snapshot.Ensure(ctx, opts.HTTP, cfg.Stratification.HDIURL, path, snapshot.DownloadOptions{
		Source:     "undp",
		UserAgent:  cfg.HTTP.UserAgent,
		MaxRetries: cfg.HTTP.MaxRetries,
		Progress:   opts.Progress,
	})
	return err
}

// CountryTable renders the joined per-country table in development-index
// order.
func (r *Result) CountryTable() *tabular.Table {
	t := &tabular.Table{Header: []string{
		"ISO3", "Country", "HDI", "HDI_Category", "Publications", "Country_OpenAlex", "ISO2", "Log_Pubs", "Research_Index",
	}}
	for i, c := range r.Join.Countries {
		ri := ""
		if i < len(r.ResearchIndex) {
			ri = tabular.Float(r.ResearchIndex[i])
		}
		t.Append(
			c.CountryCode,
			c.Country,
			tabular.Float(c.IndexValue),
			c.Tier.String(),
			tabular.Int(c.Publications),
			c.SourceName,
			c.ISO2,
			tabular.Float(c.LogPubs()),
			ri,
		)
	}
	return t
}

// TierTable renders the per-tier aggregate with two-decimal rounding.
func TierTable(tiers []TierRow) *tabular.Table {
	t := &tabular.Table{Header: []string{
		"HDI_Category", "HDI_Mean", "Total_Pubs", "Country_Count", "Avg_Pubs", "Median_Pubs", "Ratio_to_VeryHigh",
	}}
	for _, r := range tiers {
		t.Append(
			r.Tier.String(),
			tabular.Fixed(r.MeanIndex, 2),
			tabular.Int(r.TotalPubs),
			tabular.Int(r.Countries),
			tabular.Fixed(r.AvgPubs, 2),
			tabular.Fixed(r.MedianPubs, 2),
			tabular.NullFixed(r.RatioToBaseline, 2),
		)
	}
	return t
}

// KeyStatsTable renders the concentration, gap and correlation metrics.
func (r *Result) KeyStatsTable() *tabular.Table {
	t := &tabular.Table{Header: []string{"Metric", "Value"}}
	total := 0
	for _, c := range r.Join.Countries {
		total += c.Publications
	}
	t.Append("total_publications", tabular.Int(total))
	for _, s := range r.Shares {
		n := strconv.Itoa(s.N)
		t.Append("top"+n+"_publications", tabular.Int(s.Publications))
		t.Append("top"+n+"_share_pct", tabular.Null(s.Pct))
	}
	t.Append("hdi_tier_gap_total", tabular.Null(r.Gap.TotalsRatio))
	t.Append("hdi_tier_gap_per_country", tabular.Null(r.Gap.PerCountryRatio))
	if c := r.Correlations; c != nil {
		t.Append("pearson_r_raw", tabular.Float(c.PearsonRaw.R))
		t.Append("pearson_p_raw", tabular.Float(c.PearsonRaw.P))
		t.Append("pearson_r_log", tabular.Float(c.PearsonLog.R))
		t.Append("pearson_p_log", tabular.Float(c.PearsonLog.P))
		t.Append("spearman_r_raw", tabular.Float(c.SpearmanRaw.R))
		t.Append("spearman_p_raw", tabular.Float(c.SpearmanRaw.P))
		t.Append("n_countries_hdi", tabular.Int(c.PearsonRaw.N))
	}
	unmatched := 0
	for _, u := range r.Join.Unmatched {
		unmatched += u.PublicationCount
	}
	t.Append("unmatched_publications", tabular.Int(unmatched))
	return t
}

// RegionalTable renders the regional ratios rounded to two decimals.
func RegionalTable(rows []RegionalRow) *tabular.Table {
	t := &tabular.Table{Header: []string{"Region", "CT_Growth", "GenAI_Growth", "CT_GenAI_Ratio", "Source"}}
	for _, r := range rows {
		t.Append(
			r.Region,
			tabular.Float(r.CTGrowthPct),
			tabular.Float(r.GenAIGrowthPct),
			tabular.NullFixed(r.Ratio, 2),
			r.Source,
		)
	}
	return t
}

// Panels builds the four stratification figure panels.
func (r *Result) Panels() []chart.Panel {
	var labels []string
	var totals []float64
	for _, t := range r.Tiers {
		labels = append(labels, fmt.Sprintf("%s (%d)", t.Tier, t.Countries))
		totals = append(totals, float64(t.TotalPubs))
	}
	gap := "n/a"
	if r.Gap.TotalsRatio.Valid {
		gap = fmt.Sprintf("%.1fx", r.Gap.TotalsRatio.Value)
	}

	scatter := make([]chart.Line, len(types.Tiers))
	for i, tier := range types.Tiers {
		scatter[i] = chart.Line{Label: tier.String(), Color: i}
		for _, c := range r.Join.Countries {
			if c.Tier == tier {
				scatter[i].X = append(scatter[i].X, c.IndexValue)
				scatter[i].Y = append(scatter[i].Y, c.LogPubs())
			}
		}
	}
	corrTitle := "Development index vs output"
	if c := r.Correlations; c != nil {
		corrTitle = fmt.Sprintf("%s (r log = %.3f, n = %d)", corrTitle, c.PearsonLog.R, c.PearsonLog.N)
	}

	var gx, cy []float64
	maxX := 1.0
	for _, reg := range r.Regional {
		gx = append(gx, reg.GenAIGrowthPct)
		cy = append(cy, reg.CTGrowthPct)
		if reg.GenAIGrowthPct > maxX {
			maxX = reg.GenAIGrowthPct
		}
	}

	top := TopCountries(r.Join.Countries, topBars)
	var names []string
	var counts []float64
	for _, c := range top {
		names = append(names, c.CountryCode)
		counts = append(counts, float64(c.Publications))
	}
	shareTitle := "Top countries"
	for _, s := range r.Shares {
		if s.Pct.Valid {
			shareTitle = fmt.Sprintf("Top countries (top-%d share %.0f%%)", s.N, s.Pct.Value)
			break
		}
	}

	return []chart.Panel{
		{
			Title:      "Publications by tier (Very High / Low = " + gap + ")",
			YLabel:     "Country attributions",
			Categories: labels,
			Bars:       []chart.Bars{{Values: totals}},
		},
		{
			Title:  corrTitle,
			XLabel: "Development index",
			YLabel: "log10(publications + 1)",
			Points: scatter,
		},
		{
			Title:  "Course growth: GenAI vs critical thinking",
			XLabel: "GenAI growth (%)",
			YLabel: "Critical thinking growth (%)",
			Lines:  []chart.Line{{Label: "1:1", X: []float64{0, maxX}, Y: []float64{0, maxX}, Dashed: true, Faint: true}},
			Points: []chart.Line{{X: gx, Y: cy, Color: 3}},
		},
		{
			Title:      shareTitle,
			YLabel:     "Publications",
			Categories: names,
			Bars:       []chart.Bars{{Values: counts}},
		},
	}
}

// RegionalPanel compares critical-thinking and GenAI course growth per
// region, highest CT:GenAI ratio first. Regions with an undefined ratio go
// last. Each defined ratio is noted above its region; the first and last
// also carry how many times GenAI growth exceeds CT growth.
func RegionalPanel(rows []RegionalRow) chart.Panel {
	sorted := slices.Clone(rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Ratio, sorted[j].Ratio
		if a.Valid != b.Valid {
			return a.Valid
		}
		return a.Value > b.Value
	})
	last := -1
	for i, r := range sorted {
		if r.Ratio.Valid {
			last = i
		}
	}

	pn := chart.Panel{
		Title:  "Course growth by region: critical thinking vs GenAI",
		YLabel: "Year-over-year enrollment growth (%)",
		Bars:   []chart.Bars{{Label: "Critical thinking"}, {Label: "GenAI"}},
	}
	for i, r := range sorted {
		pn.Categories = append(pn.Categories, r.Region)
		pn.Bars[0].Values = append(pn.Bars[0].Values, r.CTGrowthPct)
		pn.Bars[1].Values = append(pn.Bars[1].Values, r.GenAIGrowthPct)
		if !r.Ratio.Valid {
			continue
		}
		note := fmt.Sprintf("%.2f", r.Ratio.Value)
		if (i == 0 || i == last) && r.CTGrowthPct > 0 {
			note = fmt.Sprintf("%.2f (%.1fx)", r.Ratio.Value, r.GenAIGrowthPct/r.CTGrowthPct)
		}
		pn.Notes = append(pn.Notes, chart.Note{
			X:    float64(i),
			Y:    math.Max(r.CTGrowthPct, r.GenAIGrowthPct) + 20,
			Text: note,
		})
	}
	return pn
}
