// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stratify joins country-level publication counts to development
// index tiers and measures how output concentrates across tiers, plus the
// regional ratio of critical-thinking to GenAI course growth.
package stratify

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Country is one development-index row with its matched publication count.
type Country struct {
	types.DevelopmentIndexRecord

	Publications int

	// Matched reports whether the publication source listed the country.
	// Unmatched countries carry zero publications.
	Matched bool

	// SourceName and ISO2 are copied from the publication source when
	// matched.
	SourceName string
	ISO2       string
}

// LogPubs is log10(Publications + 1).
func (c Country) LogPubs() float64 {
	return math.Log10(float64(c.Publications) + 1)
}

// Join is the result of JoinByCountryCode.
type Join struct {
	// Countries holds every development-index row exactly once, in input
	// order.
	Countries []Country

	// Unmatched are publication rows whose code has no development-index
	// entry, summed per code and sorted by code. They cannot be tiered.
	Unmatched []types.CountryPublication
}

// JoinByCountryCode left-joins pubs onto index by alpha-3 code. Publication
// rows sharing a code are summed. Index rows repeating a code are kept once.
func JoinByCountryCode(pubs []types.CountryPublication, index []types.DevelopmentIndexRecord) Join {
	byCode := make(map[string]*types.CountryPublication)
	var order []string
	for _, p := range pubs {
		agg, ok := byCode[p.CountryCode]
		if !ok {
			cp := p
			byCode[p.CountryCode] = &cp
			order = append(order, p.CountryCode)
			continue
		}
		agg.PublicationCount += p.PublicationCount
		if agg.Name == "" {
			agg.Name = p.Name
		}
		if agg.ISO2 == "" {
			agg.ISO2 = p.ISO2
		}
	}

	var j Join
	seen := make(map[string]bool, len(index))
	for _, rec := range index {
		if seen[rec.CountryCode] {
			continue
		}
		seen[rec.CountryCode] = true
		c := Country{DevelopmentIndexRecord: rec}
		if p, ok := byCode[rec.CountryCode]; ok {
			c.Publications = p.PublicationCount
			c.Matched = true
			c.SourceName = p.Name
			c.ISO2 = p.ISO2
		}
		j.Countries = append(j.Countries, c)
	}
	for _, code := range order {
		if !seen[code] {
			j.Unmatched = append(j.Unmatched, *byCode[code])
		}
	}
	sort.Slice(j.Unmatched, func(a, b int) bool { return j.Unmatched[a].CountryCode < j.Unmatched[b].CountryCode })
	return j
}

// TierRow aggregates the countries of one tier.
type TierRow struct {
	Tier       types.Tier
	Countries  int
	TotalPubs  int
	MeanIndex  float64
	AvgPubs    float64
	MedianPubs float64

	// RatioToBaseline is TotalPubs divided by the baseline tier's total.
	RatioToBaseline types.NullFloat
}

// AggregateByTier sums publications per tier in rank order, best first.
// Tiers without countries are omitted. When the baseline tier is absent or
// has no publications the ratios stay undefined and a DivisionByZeroError
// is returned with the rows.
func AggregateByTier(countries []Country) ([]TierRow, error) {
	pubs := make(map[types.Tier][]float64)
	idx := make(map[types.Tier][]float64)
	totals := make(map[types.Tier]int)
	for _, c := range countries {
		pubs[c.Tier] = append(pubs[c.Tier], float64(c.Publications))
		idx[c.Tier] = append(idx[c.Tier], c.IndexValue)
		totals[c.Tier] += c.Publications
	}

	var out []TierRow
	for _, t := range types.Tiers {
		if len(pubs[t]) == 0 {
			continue
		}
		out = append(out, TierRow{
			Tier:       t,
			Countries:  len(pubs[t]),
			TotalPubs:  totals[t],
			MeanIndex:  stats.Mean(idx[t]),
			AvgPubs:    stats.Mean(pubs[t]),
			MedianPubs: stats.Median(pubs[t]),
		})
	}

	base := totals[types.BaselineTier]
	if base == 0 {
		return out, &types.DivisionByZeroError{Computation: "ratio to baseline", Key: types.BaselineTier.String()}
	}
	for i := range out {
		out[i].RatioToBaseline = types.Float(float64(out[i].TotalPubs) / float64(base))
	}
	return out, nil
}

// Gap compares two tiers by total and by per-country average output.
type Gap struct {
	Top    types.Tier
	Bottom types.Tier

	TotalsRatio     types.NullFloat
	PerCountryRatio types.NullFloat
}

// TierGap divides the top tier's output by the bottom tier's. A missing
// tier or zero bottom output is a DivisionByZeroError.
func TierGap(tiers []TierRow, top, bottom types.Tier) (Gap, error) {
	g := Gap{Top: top, Bottom: bottom}
	find := func(t types.Tier) (TierRow, bool) {
		for _, r := range tiers {
			if r.Tier == t {
				return r, true
			}
		}
		return TierRow{}, false
	}
	hi, ok := find(top)
	if !ok {
		return g, fmt.Errorf("tier gap: no %s countries", top)
	}
	lo, ok := find(bottom)
	if !ok || lo.TotalPubs == 0 {
		return g, &types.DivisionByZeroError{Computation: "tier gap", Key: bottom.String()}
	}
	g.TotalsRatio = types.Float(float64(hi.TotalPubs) / float64(lo.TotalPubs))
	g.PerCountryRatio = types.Float((float64(hi.TotalPubs) / float64(hi.Countries)) / (float64(lo.TotalPubs) / float64(lo.Countries)))
	return g, nil
}

// RegionalRow is a regional growth record with its ratio.
type RegionalRow struct {
	types.RegionalGrowthRecord

	// Ratio is CTGrowthPct / GenAIGrowthPct. Negative growth is kept as is.
	Ratio types.NullFloat
}

// RegionalRatio computes the ratio for every region. A zero GenAI growth is
// a DivisionByZeroError for that region; its ratio stays undefined and the
// joined errors are returned with all rows.
func RegionalRatio(records []types.RegionalGrowthRecord) ([]RegionalRow, error) {
	out := make([]RegionalRow, len(records))
	var errs []error
	for i, r := range records {
		out[i].RegionalGrowthRecord = r
		if r.GenAIGrowthPct == 0 {
			errs = append(errs, &types.DivisionByZeroError{Computation: "regional ratio", Key: r.Region})
			continue
		}
		out[i].Ratio = types.Float(r.CTGrowthPct / r.GenAIGrowthPct)
	}
	return out, errors.Join(errs...)
}

// Correlations relates the development index to publication output.
type Correlations struct {
	PearsonRaw  stats.Correlation
	PearsonLog  stats.Correlation
	SpearmanRaw stats.Correlation
}

// Correlate computes Pearson on raw and log10(pubs+1) counts and Spearman on
// raw counts.
func Correlate(countries []Country) (Correlations, error) {
	hdi := make([]float64, len(countries))
	raw := make([]float64, len(countries))
	logp := make([]float64, len(countries))
	for i, c := range countries {
		hdi[i] = c.IndexValue
		raw[i] = float64(c.Publications)
		logp[i] = c.LogPubs()
	}
	var out Correlations
	var err error
	if out.PearsonRaw, err = stats.Pearson(hdi, raw); err != nil {
		return out, fmt.Errorf("pearson (raw): %w", err)
	}
	if out.PearsonLog, err = stats.Pearson(hdi, logp); err != nil {
		return out, fmt.Errorf("pearson (log): %w", err)
	}
	if out.SpearmanRaw, err = stats.Spearman(hdi, raw); err != nil {
		return out, fmt.Errorf("spearman: %w", err)
	}
	return out, nil
}

// Share is the part of total output held by the top N countries.
type Share struct {
	N            int
	Publications int
	Total        int
	Pct          types.NullFloat
}

// TopCountries returns countries ordered by publications, most first, ties
// broken by code.
func TopCountries(countries []Country, n int) []Country {
	sorted := append([]Country(nil), countries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Publications != sorted[j].Publications {
			return sorted[i].Publications > sorted[j].Publications
		}
		return sorted[i].CountryCode < sorted[j].CountryCode
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Concentration is the top-n share of all publications, in percent.
func Concentration(countries []Country, n int) Share {
	s := Share{N: n}
	for _, c := range countries {
		s.Total += c.Publications
	}
	for _, c := range TopCountries(countries, n) {
		s.Publications += c.Publications
	}
	if s.Total > 0 {
		s.Pct = types.Float(float64(s.Publications) / float64(s.Total) * 100)
	}
	return s
}

// ResearchIndex scales log10(pubs+1) to 0..100 against the largest value,
// rounded to one decimal. All zero when no country has output.
func ResearchIndex(countries []Country) []float64 {
	out := make([]float64, len(countries))
	var maxLog float64
	for _, c := range countries {
		maxLog = math.Max(maxLog, c.LogPubs())
	}
	if maxLog == 0 {
		return out
	}
	for i, c := range countries {
		out[i] = math.Round(c.LogPubs()/maxLog*100*10) / 10
	}
	return out
}
