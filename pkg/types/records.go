// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared records, configuration, and error taxonomy
// for the resurgence analysis pipelines.
//
// Every record is a read-only derivation of a static input snapshot. Nothing is
// mutated after load except through explicit aggregation into a new table.
package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MonthLayout is the layout used for month keys in output tables.
const MonthLayout = "2006-01"

// NullFloat is a float64 that may be explicitly undefined. Undefined values
// are written as empty cells, never as zero.
type NullFloat struct {
	Value float64
	Valid bool
}

// Float returns a defined NullFloat.
func Float(v float64) NullFloat { return NullFloat{Value: v, Valid: true} }

// Null is the undefined value.
var Null = NullFloat{}

// TimeSeriesPoint is a single monthly observation of a search-interest index.
type TimeSeriesPoint struct {
	// Month is the first instant of the calendar month, in UTC.
	Month time.Time `json:"month" yaml:"month"`

	// SeriesID names the series (language or term), e.g. "Spanish".
	SeriesID string `json:"series_id" yaml:"series_id"`

	// Value is the interest index in [0, 100].
	Value float64 `json:"value" yaml:"value"`
}

// Series is an ordered monthly time series for one term.
type Series struct {
	ID     string
	Term   string
	Points []TimeSeriesPoint
}

// MonthStart truncates t to the first instant of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Values returns the observation values in series order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Split partitions the series at breakpoint: pre holds months strictly before
// it, post holds the breakpoint month and everything after.
func (s Series) Split(breakpoint time.Time) (pre, post []float64) {
	bp := MonthStart(breakpoint)
	for _, p := range s.Points {
		if p.Month.Before(bp) {
			pre = append(pre, p.Value)
		} else {
			post = append(post, p.Value)
		}
	}
	return pre, post
}

// Validate checks that the series has exactly one value per month in [0, 100]
// and covers a contiguous calendar span. Points must already be sorted.
func (s Series) Validate() error {
	for i, p := range s.Points {
		if math.IsNaN(p.Value) || p.Value < 0 || p.Value > 100 {
			return fmt.Errorf("series %s: value %v at %s outside [0,100]", s.ID, p.Value, p.Month.Format(MonthLayout))
		}
		if i == 0 {
			continue
		}
		prev := s.Points[i-1].Month
		switch {
		case !p.Month.After(prev):
			return fmt.Errorf("series %s: duplicate or unordered month %s", s.ID, p.Month.Format(MonthLayout))
		case !p.Month.Equal(prev.AddDate(0, 1, 0)):
			return fmt.Errorf("series %s: gap between %s and %s", s.ID, prev.Format(MonthLayout), p.Month.Format(MonthLayout))
		}
	}
	return nil
}

// PublicationCount holds publication counts for one year. TopicCount and
// TotalCount come from independent queries; TopicCount <= TotalCount is not
// guaranteed.
type PublicationCount struct {
	Year       int `json:"year" yaml:"year"`
	TopicCount int `json:"topic_count" yaml:"topic_count"`
	TotalCount int `json:"total_count" yaml:"total_count"`
}

// CountryPublication is a country-level publication attribution count.
type CountryPublication struct {
	// CountryCode is the ISO 3166 alpha-3 code.
	CountryCode string `json:"country_code" yaml:"country_code"`

	// ISO2 is the alpha-2 code the source reported, if any.
	ISO2 string `json:"iso2,omitempty" yaml:"iso2,omitempty"`

	// Name is the source's display name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	PublicationCount int `json:"publication_count" yaml:"publication_count"`
}

// Tier is a development-index category. Lower values rank better.
type Tier int

const (
	TierVeryHigh Tier = iota
	TierHigh
	TierMedium
	TierLow
)

// Tiers lists every tier in rank order, best first.
var Tiers = []Tier{TierVeryHigh, TierHigh, TierMedium, TierLow}

// BaselineTier is the best-ranked tier. Ratios to baseline divide by it.
const BaselineTier = TierVeryHigh

var tierNames = [...]string{"Very High", "High", "Medium", "Low"}

func (t Tier) String() string {
	if t < TierVeryHigh || t > TierLow {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier maps a UNDP hdicode label ("Very High", "High", ...) to a Tier.
func ParseTier(s string) (Tier, error) {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	for i, n := range tierNames {
		if strings.ToLower(n) == norm {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// TierThresholds holds the published lower bounds of each tier.
type TierThresholds struct {
	VeryHigh float64 `json:"very_high" yaml:"very_high"`
	High     float64 `json:"high" yaml:"high"`
	Medium   float64 `json:"medium" yaml:"medium"`
}

// TierFor assigns the tier for an index value. It is the only way tiers are
// derived, so a given value always lands in the same tier.
func TierFor(index float64, th TierThresholds) Tier {
	switch {
	case index >= th.VeryHigh:
		return TierVeryHigh
	case index >= th.High:
		return TierHigh
	case index >= th.Medium:
		return TierMedium
	default:
		return TierLow
	}
}

// DevelopmentIndexRecord is one country's development index and tier.
type DevelopmentIndexRecord struct {
	CountryCode string  `json:"country_code" yaml:"country_code"`
	Country     string  `json:"country" yaml:"country"`
	IndexValue  float64 `json:"index_value" yaml:"index_value"`
	Tier        Tier    `json:"tier" yaml:"tier"`
}

// NoteEvent is a single community note.
type NoteEvent struct {
	// EventID is the note's snowflake identifier. Zero when the source did
	// not carry one.
	EventID uint64 `json:"event_id" yaml:"event_id"`

	// PostID is the snowflake identifier of the annotated post.
	PostID uint64 `json:"post_id" yaml:"post_id"`

	AuthorID     string `json:"author_id" yaml:"author_id"`
	LanguageCode string `json:"language_code" yaml:"language_code"`

	// CreatedAt is decoded from EventID, or parsed from the source's date
	// columns when EventID is zero.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// RegionalGrowthRecord holds two year-over-year enrollment growth rates for a
// region, in percent.
type RegionalGrowthRecord struct {
	Region         string  `json:"region" yaml:"region"`
	CTGrowthPct    float64 `json:"ct_growth_pct" yaml:"ct_growth_pct"`
	GenAIGrowthPct float64 `json:"genai_growth_pct" yaml:"genai_growth_pct"`

	// Source cites the page of the report the numbers were read from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}
