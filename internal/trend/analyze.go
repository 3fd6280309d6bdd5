// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package trend implements the search-interest breakpoint analysis: a
// one-sided rank comparison of the months before and after an intervention,
// a segmented regression with Newey-West standard errors, and a placebo sweep
// over alternative breakpoints.
package trend

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Defaults applied when the configuration leaves a threshold at zero.
const (
	defaultMinSegmentPoints    = 8
	defaultMinRegressionPoints = 12
	defaultHACLags             = 6
)

// Analyzer runs the breakpoint tests with fixed thresholds.
type Analyzer struct {
	MinSegmentPoints    int
	MinRegressionPoints int
	HACLags             int
}

// NewAnalyzer returns an Analyzer configured from cfg.
func NewAnalyzer(cfg types.TrendConfig) *Analyzer {
	a := &Analyzer{
		MinSegmentPoints:    cfg.MinSegmentPoints,
		MinRegressionPoints: cfg.MinRegressionPoints,
		HACLags:             cfg.HACLags,
	}
	if a.MinSegmentPoints <= 0 {
		a.MinSegmentPoints = defaultMinSegmentPoints
	}
	if a.MinRegressionPoints <= 0 {
		a.MinRegressionPoints = defaultMinRegressionPoints
	}
	if a.HACLags <= 0 {
		a.HACLags = defaultHACLags
	}
	return a
}

// Comparison is the outcome of the pre/post rank test.
type Comparison struct {
	PreN, PostN int
	PreMedian   float64
	PostMedian  float64

	// EffectPct is the median shift in percent of the pre median. It is
	// undefined when the pre median is zero.
	EffectPct types.NullFloat

	// U is the Mann-Whitney statistic of the pre segment.
	U float64

	// P is the one-sided p-value for post shifted higher.
	P     float64
	Exact bool
}

// CompareDistributions tests whether values from the breakpoint month on are
// shifted higher than values before it.
func (a *Analyzer) CompareDistributions(s types.Series, breakpoint time.Time) (Comparison, error) {
	pre, post := s.Split(breakpoint)
	if n := min(len(pre), len(post)); n < a.MinSegmentPoints {
		return Comparison{}, &types.InsufficientDataError{Computation: "compare distributions " + s.ID, Have: n, Need: a.MinSegmentPoints}
	}

	mw, err := stats.MannWhitneyLess(pre, post)
	if err != nil {
		return Comparison{}, err
	}
	c := Comparison{
		PreN:       len(pre),
		PostN:      len(post),
		PreMedian:  stats.Median(pre),
		PostMedian: stats.Median(post),
		U:          mw.U,
		P:          mw.P,
		Exact:      mw.Exact,
	}
	if c.PreMedian != 0 {
		c.EffectPct = types.Float((c.PostMedian - c.PreMedian) / c.PreMedian * 100)
	}
	return c, nil
}

// SegmentedFit is an interrupted time-series regression
// y = b0 + b1*time + b2*post + b3*time*post.
type SegmentedFit struct {
	NPre, NPost int

	Intercept   float64
	SlopePre    float64
	LevelChange float64
	SlopeChange float64
	SlopePost   float64

	LevelChangeSE types.NullFloat
	LevelChangeP  types.NullFloat
	SlopeChangeSE types.NullFloat
	SlopeChangeP  types.NullFloat

	// RSquared is undefined for a constant series.
	RSquared types.NullFloat

	// ZeroVariance is set when either segment is constant. Coefficients are
	// still reported but standard errors and p-values are left undefined.
	ZeroVariance bool
}

// FitSegmentedTrend fits the segmented regression with HAC standard errors.
// time counts observations from zero; post is 1 from the breakpoint month on.
func (a *Analyzer) FitSegmentedTrend(s types.Series, breakpoint time.Time) (SegmentedFit, error) {
	pre, post := s.Split(breakpoint)
	if n := min(len(pre), len(post)); n < a.MinRegressionPoints {
		return SegmentedFit{}, &types.InsufficientDataError{Computation: "segmented trend " + s.ID, Have: n, Need: a.MinRegressionPoints}
	}

	n := len(s.Points)
	y := s.Values()
	x := mat.NewDense(n, 4, nil)
	for i := range n {
		d := 0.0
		if i >= len(pre) {
			d = 1
		}
		t := float64(i)
		x.SetRow(i, []float64{1, t, d, t * d})
	}

	fit, err := stats.OLS(y, x)
	if err != nil {
		return SegmentedFit{}, err
	}

	out := SegmentedFit{
		NPre:         len(pre),
		NPost:        len(post),
		Intercept:    fit.Coef[0],
		SlopePre:     fit.Coef[1],
		LevelChange:  fit.Coef[2],
		SlopeChange:  fit.Coef[3],
		SlopePost:    fit.Coef[1] + fit.Coef[3],
		ZeroVariance: stat.Variance(pre, nil) == 0 || stat.Variance(post, nil) == 0,
	}
	if !math.IsNaN(fit.RSquared) {
		out.RSquared = types.Float(fit.RSquared)
	}
	if out.ZeroVariance {
		return out, nil
	}

	inf := fit.HACInference(stats.HACOptions{Lags: a.HACLags})
	out.LevelChangeSE, out.LevelChangeP = inf[2].SE, inf[2].P
	out.SlopeChangeSE, out.SlopeChangeP = inf[3].SE, inf[3].P
	return out, nil
}

// PreTrend is a linear trend test over the months before the breakpoint.
type PreTrend struct {
	N        int
	Slope    types.NullFloat
	RSquared types.NullFloat
	P        types.NullFloat
}

// Significant reports a pre-existing trend at the 5% level.
func (p PreTrend) Significant() bool {
	return p.P.Valid && p.P.Value < 0.05
}

// PreTrendTest regresses pre-breakpoint values on time with HAC standard
// errors. The lag window shrinks for short segments.
func (a *Analyzer) PreTrendTest(s types.Series, breakpoint time.Time) (PreTrend, error) {
	pre, _ := s.Split(breakpoint)
	n := len(pre)
	if n < a.MinRegressionPoints {
		return PreTrend{N: n}, &types.InsufficientDataError{Computation: "pre-trend " + s.ID, Have: n, Need: a.MinRegressionPoints}
	}

	x := mat.NewDense(n, 2, nil)
	for i := range n {
		x.SetRow(i, []float64{1, float64(i)})
	}
	fit, err := stats.OLS(pre, x)
	if err != nil {
		return PreTrend{N: n}, err
	}

	out := PreTrend{N: n, Slope: types.Float(fit.Coef[1])}
	if !math.IsNaN(fit.RSquared) {
		out.RSquared = types.Float(fit.RSquared)
	}
	inf := fit.HACInference(stats.HACOptions{Lags: min(a.HACLags, n-1)})
	out.P = inf[1].P
	return out, nil
}

// Volatility compares the mean absolute month-to-month change before and
// after the breakpoint. A change is assigned to the later month.
type Volatility struct {
	PreMeanAbsDiff  types.NullFloat
	PostMeanAbsDiff types.NullFloat
	Ratio           types.NullFloat
}

// MeasureVolatility computes the volatility ratio post/pre.
func MeasureVolatility(s types.Series, breakpoint time.Time) Volatility {
	bp := types.MonthStart(breakpoint)
	var pre, post []float64
	for i := 1; i < len(s.Points); i++ {
		d := math.Abs(s.Points[i].Value - s.Points[i-1].Value)
		if s.Points[i].Month.Before(bp) {
			pre = append(pre, d)
		} else {
			post = append(post, d)
		}
	}

	var v Volatility
	if len(pre) > 0 {
		v.PreMeanAbsDiff = types.Float(stats.Mean(pre))
	}
	if len(post) > 0 {
		v.PostMeanAbsDiff = types.Float(stats.Mean(post))
	}
	if v.PreMeanAbsDiff.Valid && v.PostMeanAbsDiff.Valid && v.PreMeanAbsDiff.Value != 0 {
		v.Ratio = types.Float(v.PostMeanAbsDiff.Value / v.PreMeanAbsDiff.Value)
	}
	return v
}

// PlaceboRow holds both tests at one candidate breakpoint. A test that could
// not run leaves its field nil and records the reason.
type PlaceboRow struct {
	Breakpoint time.Time

	// IsBreakpoint marks the true intervention month.
	IsBreakpoint bool

	Comparison *Comparison
	Trend      *SegmentedFit

	ComparisonErr error
	TrendErr      error
}

// PlaceboSweep repeats both tests at every candidate other than the true
// breakpoint, in ascending date order. Per-candidate failures are kept in
// the row and never abort the sweep.
func (a *Analyzer) PlaceboSweep(s types.Series, breakpoint time.Time, candidates []time.Time) []PlaceboRow {
	bp := types.MonthStart(breakpoint)
	seen := map[time.Time]bool{bp: true}
	var dates []time.Time
	for _, c := range candidates {
		m := types.MonthStart(c)
		if seen[m] {
			continue
		}
		seen[m] = true
		dates = append(dates, m)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	rows := make([]PlaceboRow, 0, len(dates))
	for _, d := range dates {
		rows = append(rows, a.testAt(s, d, false))
	}
	return rows
}

// AtBreakpoint runs both tests at the true breakpoint, in the same row shape
// as the placebo candidates.
func (a *Analyzer) AtBreakpoint(s types.Series, breakpoint time.Time) PlaceboRow {
	return a.testAt(s, breakpoint, true)
}

func (a *Analyzer) testAt(s types.Series, at time.Time, isBreakpoint bool) PlaceboRow {
	row := PlaceboRow{Breakpoint: types.MonthStart(at), IsBreakpoint: isBreakpoint}
	if c, err := a.CompareDistributions(s, at); err != nil {
		row.ComparisonErr = err
	} else {
		row.Comparison = &c
	}
	if f, err := a.FitSegmentedTrend(s, at); err != nil {
		row.TrendErr = err
	} else {
		row.Trend = &f
	}
	return row
}

// Robustness summarizes whether the true breakpoint stands out from the
// placebo candidates, alongside the pre-trend test.
type Robustness struct {
	EffectPct        types.NullFloat
	MaxPlaceboEffect types.NullFloat
	StrongestEffect  bool
	SlopeChange      types.NullFloat
	MaxPlaceboSlope  types.NullFloat
	StrongestSlope   bool
	SlopeChangeP     types.NullFloat
	PreTrend         PreTrend
}

// Summarize compares the true-breakpoint row against the placebo rows.
// Strongest requires a defined value strictly greater than every defined
// placebo value.
func Summarize(actual PlaceboRow, placebos []PlaceboRow, pre PreTrend) Robustness {
	r := Robustness{PreTrend: pre}
	if actual.Comparison != nil {
		r.EffectPct = actual.Comparison.EffectPct
	}
	if actual.Trend != nil {
		r.SlopeChange = types.Float(actual.Trend.SlopeChange)
		r.SlopeChangeP = actual.Trend.SlopeChangeP
	}
	for _, p := range placebos {
		if p.Comparison != nil && p.Comparison.EffectPct.Valid {
			r.MaxPlaceboEffect = maxNull(r.MaxPlaceboEffect, p.Comparison.EffectPct.Value)
		}
		if p.Trend != nil {
			r.MaxPlaceboSlope = maxNull(r.MaxPlaceboSlope, p.Trend.SlopeChange)
		}
	}
	r.StrongestEffect = r.EffectPct.Valid && r.MaxPlaceboEffect.Valid && r.EffectPct.Value > r.MaxPlaceboEffect.Value
	r.StrongestSlope = r.SlopeChange.Valid && r.MaxPlaceboSlope.Valid && r.SlopeChange.Value > r.MaxPlaceboSlope.Value
	return r
}

func maxNull(cur types.NullFloat, v float64) types.NullFloat {
	if !cur.Valid || v > cur.Value {
		return types.Float(v)
	}
	return cur
}
