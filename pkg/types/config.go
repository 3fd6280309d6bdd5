// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"time"
)

// DateLayout is the layout for calendar dates in configuration and snapshot names.
const DateLayout = "2006-01-02"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "resurgence/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`

	// MaxRetries bounds back-off retries on HTTP 429.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// PathsConfig locates input snapshots and output tables. Paths are fixed by
// convention; no pipeline requires flags.
type PathsConfig struct {
	RawDir       string `json:"raw_dir" yaml:"raw_dir"`
	ReferenceDir string `json:"reference_dir" yaml:"reference_dir"`
	ProcessedDir string `json:"processed_dir" yaml:"processed_dir"`
	FiguresDir   string `json:"figures_dir" yaml:"figures_dir"`
}

// TrendSeriesConfig names one search-interest series and its snapshot file.
type TrendSeriesConfig struct {
	// ID is the series label used in output tables (e.g. "Spanish").
	ID string `json:"id" yaml:"id"`

	// Term is the query term and the CSV column holding its values.
	Term string `json:"term" yaml:"term"`

	// File is the CSV snapshot under the raw directory.
	File string `json:"file" yaml:"file"`

	// Geo restricts the query region when fetching; empty means worldwide.
	Geo string `json:"geo,omitempty" yaml:"geo,omitempty"`
}

// TrendConfig holds settings for the trend pipeline.
type TrendConfig struct {
	Series []TrendSeriesConfig `json:"series" yaml:"series"`

	// Breakpoint is the hypothesized intervention month (YYYY-MM-DD).
	Breakpoint string `json:"breakpoint" yaml:"breakpoint"`

	// PlaceboBreakpoints are alternative dates for the placebo sweep.
	PlaceboBreakpoints []string `json:"placebo_breakpoints" yaml:"placebo_breakpoints"`

	// HACLags is the Newey-West lag window.
	HACLags int `json:"hac_lags" yaml:"hac_lags"`

	// MinSegmentPoints is the minimum size of each segment for the rank test.
	MinSegmentPoints int `json:"min_segment_points" yaml:"min_segment_points"`

	// MinRegressionPoints is the minimum size of each segment for the
	// segmented regression and the pre-trend test.
	MinRegressionPoints int `json:"min_regression_points" yaml:"min_regression_points"`

	// BootstrapDraws and BootstrapSeed drive the median confidence intervals.
	BootstrapDraws int    `json:"bootstrap_draws" yaml:"bootstrap_draws"`
	BootstrapSeed  uint64 `json:"bootstrap_seed" yaml:"bootstrap_seed"`

	// FetchFrom and FetchTo bound the date range requested from the
	// search-interest API.
	FetchFrom string `json:"fetch_from" yaml:"fetch_from"`
	FetchTo   string `json:"fetch_to" yaml:"fetch_to"`
}

// OpenAlexConfig holds settings for OpenAlex queries.
type OpenAlexConfig struct {
	// Email is sent as the mailto parameter for polite pool access.
	Email string `json:"email,omitempty" yaml:"email,omitempty"`

	// PerPage is the group_by page size (max 200).
	PerPage int `json:"per_page" yaml:"per_page"`
}

// BibliometricConfig holds settings for the bibliometric pipeline.
type BibliometricConfig struct {
	// TopicFilter is the OpenAlex filter for the topic query.
	TopicFilter string `json:"topic_filter" yaml:"topic_filter"`

	// ComparisonFilter is the OpenAlex filter for the comparison series.
	ComparisonFilter string `json:"comparison_filter" yaml:"comparison_filter"`

	// DenominatorConcept is the OpenAlex concept id for the field total.
	DenominatorConcept string `json:"denominator_concept" yaml:"denominator_concept"`

	FirstYear int `json:"first_year" yaml:"first_year"`
	LastYear  int `json:"last_year" yaml:"last_year"`

	// BreakYear is the first post-intervention year.
	BreakYear int `json:"break_year" yaml:"break_year"`

	BurstThreshold float64 `json:"burst_threshold" yaml:"burst_threshold"`
	RatioScale     float64 `json:"ratio_scale" yaml:"ratio_scale"`

	// RatioBaseYear and RatioCompareYear pick the years for the normalized
	// ratio change check. The last year is often incompletely indexed.
	RatioBaseYear    int `json:"ratio_base_year" yaml:"ratio_base_year"`
	RatioCompareYear int `json:"ratio_compare_year" yaml:"ratio_compare_year"`
}

// ParticipationConfig holds settings for the participation pipeline.
type ParticipationConfig struct {
	// NotesFile is the note-level CSV under the raw directory.
	NotesFile string `json:"notes_file" yaml:"notes_file"`

	// NotesURL is where the notes file is downloaded from.
	NotesURL string `json:"notes_url" yaml:"notes_url"`

	// SnowflakeShift and SnowflakeEpochMillis decode identifier timestamps.
	SnowflakeShift       uint  `json:"snowflake_shift" yaml:"snowflake_shift"`
	SnowflakeEpochMillis int64 `json:"snowflake_epoch_millis" yaml:"snowflake_epoch_millis"`

	// CoverageStart and CoverageEnd bound the declared dataset window
	// (YYYY-MM-DD, end exclusive).
	CoverageStart string `json:"coverage_start" yaml:"coverage_start"`
	CoverageEnd   string `json:"coverage_end" yaml:"coverage_end"`

	// Breakpoint splits the monthly series for the pre/post summary.
	Breakpoint string `json:"breakpoint" yaml:"breakpoint"`

	// ShowProgress draws a progress bar while streaming the notes file.
	ShowProgress bool `json:"show_progress" yaml:"show_progress"`
}

// StratificationConfig holds settings for the stratification pipeline.
type StratificationConfig struct {
	// CountryFilter is the OpenAlex filter for the country-attribution query.
	CountryFilter string `json:"country_filter" yaml:"country_filter"`

	// HDIFile and HDIURL locate the UNDP composite indices time series.
	HDIFile string `json:"hdi_file" yaml:"hdi_file"`
	HDIURL  string `json:"hdi_url" yaml:"hdi_url"`

	// HDIYear selects the hdi_<year> column.
	HDIYear int `json:"hdi_year" yaml:"hdi_year"`

	Thresholds TierThresholds `json:"thresholds" yaml:"thresholds"`

	// RegionalFile is the regional growth table under the reference directory.
	RegionalFile string `json:"regional_file" yaml:"regional_file"`

	// TopN values for concentration shares.
	TopN []int `json:"top_n" yaml:"top_n"`
}

// LedgerConfig locates the provenance ledger.
type LedgerConfig struct {
	Path string `json:"path" yaml:"path"`

	// Disabled skips ledger writes (useful for read-only checkouts).
	Disabled bool `json:"disabled" yaml:"disabled"`
}

// PipelineConfig groups all pipeline configurations.
type PipelineConfig struct {
	Paths          PathsConfig          `json:"paths" yaml:"paths"`
	HTTP           HTTPConfig           `json:"http" yaml:"http"`
	OpenAlex       OpenAlexConfig       `json:"openalex" yaml:"openalex"`
	Trends         TrendConfig          `json:"trends" yaml:"trends"`
	Bibliometric   BibliometricConfig   `json:"bibliometric" yaml:"bibliometric"`
	Participation  ParticipationConfig  `json:"participation" yaml:"participation"`
	Stratification StratificationConfig `json:"stratification" yaml:"stratification"`
	Ledger         LedgerConfig         `json:"ledger" yaml:"ledger"`
}

// DefaultConfig returns the configuration with every documented constant.
// These values are citation-traceable and must not be recomputed.
func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		Paths: PathsConfig{
			RawDir:       "data/raw",
			ReferenceDir: "data/reference",
			ProcessedDir: "data/processed",
			FiguresDir:   "figures",
		},
		HTTP: HTTPConfig{
			Timeout:    60 * time.Second,
			UserAgent:  "resurgence/0.1",
			MaxRetries: 5,
		},
		OpenAlex: OpenAlexConfig{PerPage: 200},
		Trends: TrendConfig{
			Series: []TrendSeriesConfig{
				{ID: "English", Term: "critical thinking", File: "trends_english.csv"},
				{ID: "German", Term: "kritisches Denken", File: "trends_german.csv", Geo: "DE"},
				{ID: "French", Term: "pensée critique", File: "trends_french.csv", Geo: "FR"},
				{ID: "Spanish", Term: "pensamiento crítico", File: "trends_spanish.csv", Geo: "ES"},
			},
			Breakpoint: "2022-11-01",
			PlaceboBreakpoints: []string{
				"2020-03-01", "2021-01-01", "2021-06-01", "2022-01-01",
				"2022-10-01", "2022-12-01", "2023-01-01", "2023-06-01",
			},
			HACLags:             6,
			MinSegmentPoints:    8,
			MinRegressionPoints: 12,
			BootstrapDraws:      10000,
			BootstrapSeed:       42,
			FetchFrom:           "2019-01-01",
			FetchTo:             "2025-12-31",
		},
		Bibliometric: BibliometricConfig{
			TopicFilter:        `title_and_abstract.search:critical thinking AND (artificial intelligence OR generative AI OR ChatGPT)`,
			ComparisonFilter:   `title_and_abstract.search:(generative AI OR ChatGPT) AND education`,
			DenominatorConcept: "C154945302",
			FirstYear:          2016,
			LastYear:           2025,
			BreakYear:          2023,
			BurstThreshold:     1.5,
			RatioScale:         10000,
			RatioBaseYear:      2022,
			RatioCompareYear:   2024,
		},
		Participation: ParticipationConfig{
			NotesFile:            "community_notes_zenodo/notes_with_lang.csv",
			NotesURL:             "https://zenodo.org/api/records/16761304/files/notes_with_lang.csv/content",
			SnowflakeShift:       22,
			SnowflakeEpochMillis: 1288834974657,
			CoverageStart:        "2021-01-23",
			CoverageEnd:          "2025-01-23",
			Breakpoint:           "2022-11-01",
			ShowProgress:         true,
		},
		Stratification: StratificationConfig{
			CountryFilter: `title_and_abstract.search:critical thinking AND (artificial intelligence OR generative AI OR ChatGPT)`,
			HDIFile:       "HDR23-24_Composite_indices_complete_time_series.csv",
			HDIURL:        "https://hdr.undp.org/sites/default/files/2023-24_HDR/HDR23-24_Composite_indices_complete_time_series.csv",
			HDIYear:       2022,
			Thresholds:    TierThresholds{VeryHigh: 0.800, High: 0.700, Medium: 0.550},
			RegionalFile:  "coursera_regional_growth_2025.csv",
			TopN:          []int{5, 10},
		},
		Ledger: LedgerConfig{Path: "data/provenance/ledger.db"},
	}
}

// ParseDate parses a YYYY-MM-DD configuration value in UTC.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return t, nil
}
