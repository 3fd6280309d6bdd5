// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report collects the headline statistics of all four layers from
// the processed tables into one summary. A layer whose tables are missing
// is left out and listed, so a partial run still yields a partial summary.
package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apex/log"

	"github.com/pdiddy/resurgence/internal/biblio"
	"github.com/pdiddy/resurgence/internal/participation"
	"github.com/pdiddy/resurgence/internal/stratify"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/internal/trend"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Summary is the cross-layer key-statistics summary. Values that the
// source table leaves empty are nil.
type Summary struct {
	Sources        []string               `json:"sources" yaml:"sources"`
	Missing        []string               `json:"missing,omitempty" yaml:"missing,omitempty"`
	Trends         *TrendSummary          `json:"trends,omitempty" yaml:"trends,omitempty"`
	Bibliometrics  *BibliometricSummary   `json:"bibliometrics,omitempty" yaml:"bibliometrics,omitempty"`
	Participation  *ParticipationSummary  `json:"participation,omitempty" yaml:"participation,omitempty"`
	Stratification *StratificationSummary `json:"stratification,omitempty" yaml:"stratification,omitempty"`
}

// TrendSummary holds the per-language shift at the breakpoint.
type TrendSummary struct {
	Languages []LanguageShift `json:"languages" yaml:"languages"`
}

// LanguageShift is one row of the trend analysis table.
type LanguageShift struct {
	Language    string   `json:"language" yaml:"language"`
	PreMedian   *float64 `json:"pre_median,omitempty" yaml:"pre_median,omitempty"`
	PostMedian  *float64 `json:"post_median,omitempty" yaml:"post_median,omitempty"`
	EffectPct   *float64 `json:"effect_pct,omitempty" yaml:"effect_pct,omitempty"`
	PValue      *float64 `json:"p_value,omitempty" yaml:"p_value,omitempty"`
	SlopeChange *float64 `json:"slope_change,omitempty" yaml:"slope_change,omitempty"`

	// SlopeChangeP is the HAC p-value of the slope change.
	SlopeChangeP *float64 `json:"slope_change_p,omitempty" yaml:"slope_change_p,omitempty"`
}

// BibliometricSummary holds one year's counts and the ratio change.
type BibliometricSummary struct {
	Year               int      `json:"year" yaml:"year"`
	TopicPubs          *float64 `json:"topic_pubs,omitempty" yaml:"topic_pubs,omitempty"`
	ComparisonPubs     *float64 `json:"comparison_pubs,omitempty" yaml:"comparison_pubs,omitempty"`
	TopicYoYPct        *float64 `json:"topic_yoy_pct,omitempty" yaml:"topic_yoy_pct,omitempty"`
	ComparisonYoYPct   *float64 `json:"comparison_yoy_pct,omitempty" yaml:"comparison_yoy_pct,omitempty"`
	AccelerationFactor *float64 `json:"acceleration_factor,omitempty" yaml:"acceleration_factor,omitempty"`
	RatioChange        *float64 `json:"ratio_change,omitempty" yaml:"ratio_change,omitempty"`
	RatioChangeLabel   string   `json:"ratio_change_label,omitempty" yaml:"ratio_change_label,omitempty"`

	// RatioPer10k is the normalized ratio series over every year that has
	// one.
	RatioPer10k []YearValue `json:"ratio_per_10k,omitempty" yaml:"ratio_per_10k,omitempty"`
}

// YearValue is one point of a yearly series.
type YearValue struct {
	Year  int     `json:"year" yaml:"year"`
	Value float64 `json:"value" yaml:"value"`
}

// ParticipationSummary holds the pre/post comparison of the notes series.
type ParticipationSummary struct {
	TotalNotes        *float64 `json:"total_notes,omitempty" yaml:"total_notes,omitempty"`
	Contributors      *float64 `json:"contributors,omitempty" yaml:"contributors,omitempty"`
	NotesGrowthPct    *float64 `json:"notes_growth_pct,omitempty" yaml:"notes_growth_pct,omitempty"`
	AuthorsGrowthPct  *float64 `json:"authors_growth_pct,omitempty" yaml:"authors_growth_pct,omitempty"`
	PerAuthorGrowth   *float64 `json:"notes_per_author_growth_pct,omitempty" yaml:"notes_per_author_growth_pct,omitempty"`
	ResponseChangePct *float64 `json:"time_to_first_note_change_pct,omitempty" yaml:"time_to_first_note_change_pct,omitempty"`

	PreNotes           *float64 `json:"pre_avg_monthly_notes,omitempty" yaml:"pre_avg_monthly_notes,omitempty"`
	PostNotes          *float64 `json:"post_avg_monthly_notes,omitempty" yaml:"post_avg_monthly_notes,omitempty"`
	PreAuthors         *float64 `json:"pre_avg_active_authors,omitempty" yaml:"pre_avg_active_authors,omitempty"`
	PostAuthors        *float64 `json:"post_avg_active_authors,omitempty" yaml:"post_avg_active_authors,omitempty"`
	PreNotesPerAuthor  *float64 `json:"pre_notes_per_author,omitempty" yaml:"pre_notes_per_author,omitempty"`
	PostNotesPerAuthor *float64 `json:"post_notes_per_author,omitempty" yaml:"post_notes_per_author,omitempty"`
	PreMedianHours     *float64 `json:"pre_median_hours,omitempty" yaml:"pre_median_hours,omitempty"`
	PostMedianHours    *float64 `json:"post_median_hours,omitempty" yaml:"post_median_hours,omitempty"`
}

// StratificationSummary holds the tier gap, correlation and concentration.
type StratificationSummary struct {
	TierGapTotal      *float64 `json:"tier_gap_total,omitempty" yaml:"tier_gap_total,omitempty"`
	TierGapPerCountry *float64 `json:"tier_gap_per_country,omitempty" yaml:"tier_gap_per_country,omitempty"`
	PearsonLog        *float64 `json:"pearson_r_log,omitempty" yaml:"pearson_r_log,omitempty"`
	SpearmanRaw       *float64 `json:"spearman_r_raw,omitempty" yaml:"spearman_r_raw,omitempty"`
	Top5SharePct      *float64 `json:"top5_share_pct,omitempty" yaml:"top5_share_pct,omitempty"`
	Countries         *float64 `json:"countries,omitempty" yaml:"countries,omitempty"`
	Region            string   `json:"region,omitempty" yaml:"region,omitempty"`
	RegionalRatio     *float64 `json:"regional_ratio,omitempty" yaml:"regional_ratio,omitempty"`
}

// Options selects the rows the summary highlights.
type Options struct {
	// Year is the bibliometric row to report. The synthesis figure marks
	// the break just before it.
	Year int

	// Region is the regional growth row to report.
	Region string
}

// DefaultOptions highlights 2023 and Latin America.
var DefaultOptions = Options{Year: 2023, Region: "Latin America"}

// Build reads the processed tables in dir. Missing tables are logged and
// listed in Summary.Missing; malformed tables are errors.
func Build(dir string, opts Options, logger log.Interface) (*Summary, error) {
	s := &Summary{}
	steps := []struct {
		layer string
		files []string
		build func(map[string]string) error
	}{
		{"trends", []string{trend.AnalysisFile}, func(p map[string]string) (err error) {
			s.Trends, err = buildTrends(p[trend.AnalysisFile])
			return err
		}},
		{"bibliometrics", []string{biblio.TableFile, biblio.BreakFile}, func(p map[string]string) (err error) {
			s.Bibliometrics, err = buildBiblio(p[biblio.TableFile], p[biblio.BreakFile], opts.Year)
			return err
		}},
		{"participation", []string{participation.SummaryFile}, func(p map[string]string) (err error) {
			s.Participation, err = buildParticipation(p[participation.SummaryFile])
			return err
		}},
		{"stratification", []string{stratify.KeyStatsFile, stratify.RegionalFile}, func(p map[string]string) (err error) {
			s.Stratification, err = buildStratification(p[stratify.KeyStatsFile], p[stratify.RegionalFile], opts.Region)
			return err
		}},
	}

	for _, step := range steps {
		paths := make(map[string]string, len(step.files))
		for _, f := range step.files {
			paths[f] = filepath.Join(dir, f)
		}
		err := step.build(paths)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.Missing = append(s.Missing, step.layer)
			logger.WithError(err).WithField("layer", step.layer).Warn("processed table missing; layer left out of summary")
			continue
		case err != nil:
			return nil, fmt.Errorf("%s summary: %w", step.layer, err)
		}
		for _, f := range step.files {
			s.Sources = append(s.Sources, paths[f])
		}
	}
	return s, nil
}

func buildTrends(path string) (*TrendSummary, error) {
	ts := &TrendSummary{}
	err := eachRow(path, func(rec tabular.Record) error {
		ls := LanguageShift{Language: rec.Get("Language")}
		for _, f := range []struct {
			dst **float64
			col string
		}{
			{&ls.PreMedian, "Pre_Median"},
			{&ls.PostMedian, "Post_Median"},
			{&ls.EffectPct, "Effect_Pct"},
			{&ls.PValue, "MW_P_Value"},
			{&ls.SlopeChange, "Slope_Change"},
			{&ls.SlopeChangeP, "Slope_Change_P_HAC"},
		} {
			v, err := optFloat(rec, f.col)
			if err != nil {
				return err
			}
			*f.dst = v
		}
		ts.Languages = append(ts.Languages, ls)
		return nil
	}, "Language", "Pre_Median", "Post_Median", "Effect_Pct")
	if err != nil {
		return nil, err
	}
	return ts, nil
}

func buildBiblio(tablePath, breakPath string, year int) (*BibliometricSummary, error) {
	bs := &BibliometricSummary{Year: year}
	found := false
	err := eachRow(tablePath, func(rec tabular.Record) error {
		if rec.Get("Critical_Ratio_per_10k") != "" {
			y, err := rec.Int("Year")
			if err != nil {
				return err
			}
			v, err := rec.Float("Critical_Ratio_per_10k")
			if err != nil {
				return err
			}
			bs.RatioPer10k = append(bs.RatioPer10k, YearValue{Year: y, Value: v})
		}
		if rec.Get("Year") != strconv.Itoa(year) {
			return nil
		}
		found = true
		var err error
		if bs.TopicPubs, err = optFloat(rec, "CT_AI_Pubs"); err != nil {
			return err
		}
		if bs.ComparisonPubs, err = optFloat(rec, "GenAI_Ed_Pubs"); err != nil {
			return err
		}
		if bs.TopicYoYPct, err = optFloat(rec, "CT_AI_YoY"); err != nil {
			return err
		}
		bs.ComparisonYoYPct, err = optFloat(rec, "GenAI_Ed_YoY")
		return err
	}, "Year", "CT_AI_Pubs", "GenAI_Ed_Pubs", "CT_AI_YoY", "GenAI_Ed_YoY")
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &types.ParseError{File: tablePath, Field: "Year", Err: fmt.Errorf("no row for %d", year)}
	}

	metrics, err := readMetrics(breakPath)
	if err != nil {
		return nil, err
	}
	if bs.AccelerationFactor, err = metricFloat(breakPath, metrics, "acceleration_factor"); err != nil {
		return nil, err
	}
	for name := range metrics {
		if strings.HasPrefix(name, "ratio_change_") {
			bs.RatioChangeLabel = strings.TrimPrefix(name, "ratio_change_")
			if bs.RatioChange, err = metricFloat(breakPath, metrics, name); err != nil {
				return nil, err
			}
		}
	}
	return bs, nil
}

func buildParticipation(path string) (*ParticipationSummary, error) {
	metrics, err := readMetrics(path)
	if err != nil {
		return nil, err
	}
	ps := &ParticipationSummary{}
	for _, f := range []struct {
		dst  **float64
		name string
	}{
		{&ps.TotalNotes, "Total Notes"},
		{&ps.Contributors, "Total Contributors (unique authors)"},
		{&ps.NotesGrowthPct, "Raw monthly notes growth (%)"},
		{&ps.AuthorsGrowthPct, "Active authors growth (%)"},
		{&ps.PerAuthorGrowth, "Notes per author growth (%)"},
		{&ps.ResponseChangePct, "Time-to-first-note change (%)"},
		{&ps.PreNotes, "Pre avg monthly notes"},
		{&ps.PostNotes, "Post avg monthly notes"},
		{&ps.PreAuthors, "Pre avg active authors"},
		{&ps.PostAuthors, "Post avg active authors"},
		{&ps.PreNotesPerAuthor, "Pre avg notes per active author"},
		{&ps.PostNotesPerAuthor, "Post avg notes per active author"},
		{&ps.PreMedianHours, "Pre median time-to-first-note (hours)"},
		{&ps.PostMedianHours, "Post median time-to-first-note (hours)"},
	} {
		if *f.dst, err = metricFloat(path, metrics, f.name); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func buildStratification(statsPath, regionalPath, region string) (*StratificationSummary, error) {
	metrics, err := readMetrics(statsPath)
	if err != nil {
		return nil, err
	}
	ss := &StratificationSummary{Region: region}
	for _, f := range []struct {
		dst  **float64
		name string
	}{
		{&ss.TierGapTotal, "hdi_tier_gap_total"},
		{&ss.TierGapPerCountry, "hdi_tier_gap_per_country"},
		{&ss.PearsonLog, "pearson_r_log"},
		{&ss.SpearmanRaw, "spearman_r_raw"},
		{&ss.Top5SharePct, "top5_share_pct"},
		{&ss.Countries, "n_countries_hdi"},
	} {
		if *f.dst, err = metricFloat(statsPath, metrics, f.name); err != nil {
			return nil, err
		}
	}

	err = eachRow(regionalPath, func(rec tabular.Record) error {
		if rec.Get("Region") != region {
			return nil
		}
		v, err := optFloat(rec, "CT_GenAI_Ratio")
		ss.RegionalRatio = v
		return err
	}, "Region", "CT_GenAI_Ratio")
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func eachRow(path string, fn func(tabular.Record) error, required ...string) error {
	return tabular.ReadFile(path, func(r *tabular.Reader) error {
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}, required...)
}

// readMetrics reads a Metric/Value table. Later duplicates win.
func readMetrics(path string) (map[string]string, error) {
	out := make(map[string]string)
	err := eachRow(path, func(rec tabular.Record) error {
		out[rec.Get("Metric")] = rec.Get("Value")
		return nil
	}, "Metric", "Value")
	return out, err
}

// metricFloat returns nil for an absent or empty metric.
func metricFloat(path string, metrics map[string]string, name string) (*float64, error) {
	s := metrics[name]
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &types.ParseError{File: path, Field: name, Err: err}
	}
	return &v, nil
}

func optFloat(rec tabular.Record, col string) (*float64, error) {
	if rec.Get(col) == "" {
		return nil, nil
	}
	v, err := rec.Float(col)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
