// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package biblio analyses yearly publication counts: year-over-year growth,
// z-score bursts, a field-normalized ratio against a denominator query, and a
// pre/post structural break.
package biblio

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/pkg/types"
)

// minBurstYears is the shortest series a z-score is computed over.
const minBurstYears = 3

// Counts is a per-year count series in ascending, contiguous year order.
type Counts struct {
	Years  []int
	Values []int
}

// Dense builds Counts over every year in [first, last]. Years absent from
// byYear count zero.
func Dense(byYear map[int]int, first, last int) Counts {
	var c Counts
	for y := first; y <= last; y++ {
		c.Years = append(c.Years, y)
		c.Values = append(c.Values, byYear[y])
	}
	return c
}

func (c Counts) floats() []float64 {
	out := make([]float64, len(c.Values))
	for i, v := range c.Values {
		out[i] = float64(v)
	}
	return out
}

// YearOverYearGrowth returns (current - previous) / previous for each year.
// The first year is undefined. A zero previous count is a
// DivisionByZeroError naming the year; its growth stays undefined and the
// other years are still computed.
func YearOverYearGrowth(c Counts) ([]types.NullFloat, error) {
	out := make([]types.NullFloat, len(c.Values))
	var errs []error
	for i := 1; i < len(c.Values); i++ {
		prev := c.Values[i-1]
		if prev == 0 {
			errs = append(errs, &types.DivisionByZeroError{Computation: "year-over-year growth", Key: strconv.Itoa(c.Years[i])})
			continue
		}
		out[i] = types.Float(float64(c.Values[i]-prev) / float64(prev))
	}
	return out, errors.Join(errs...)
}

// Burst is the z-score of one year against the whole series.
type Burst struct {
	Year  int
	Z     float64
	Burst bool
}

// DetectBursts flags years whose z-score (population standard deviation)
// exceeds threshold.
func DetectBursts(c Counts, threshold float64) ([]Burst, error) {
	if len(c.Values) < minBurstYears {
		return nil, &types.InsufficientDataError{Computation: "burst detection", Have: len(c.Values), Need: minBurstYears}
	}
	z, err := stats.ZScores("burst detection", c.floats())
	if err != nil {
		return nil, err
	}
	out := make([]Burst, len(z))
	for i, v := range z {
		out[i] = Burst{Year: c.Years[i], Z: v, Burst: v > threshold}
	}
	return out, nil
}

// Ratio is a topic count relative to the field total for one year.
type Ratio struct {
	Year  int
	Ratio types.NullFloat

	// Scaled is Ratio multiplied by the configured scale (per 10,000).
	Scaled types.NullFloat
}

// NormalizedRatio divides each topic count by the total for the same year
// and scales it. A zero or missing total is a DivisionByZeroError for that
// year, which is left undefined; the joined errors are returned alongside
// the ratios so the caller can decide whether to report or skip.
func NormalizedRatio(topic Counts, totals map[int]int, scale float64) ([]Ratio, error) {
	out := make([]Ratio, len(topic.Years))
	var errs []error
	for i, y := range topic.Years {
		out[i].Year = y
		total, ok := totals[y]
		if !ok || total == 0 {
			errs = append(errs, &types.DivisionByZeroError{Computation: "normalized ratio", Key: strconv.Itoa(y)})
			continue
		}
		r := float64(topic.Values[i]) / float64(total)
		out[i].Ratio = types.Float(r)
		out[i].Scaled = types.Float(r * scale)
	}
	return out, errors.Join(errs...)
}

// RatioChange returns ratio(compare) / ratio(base).
func RatioChange(ratios []Ratio, base, compare int) (types.NullFloat, error) {
	find := func(y int) (types.NullFloat, bool) {
		for _, r := range ratios {
			if r.Year == y {
				return r.Ratio, true
			}
		}
		return types.Null, false
	}
	b, ok := find(base)
	if !ok {
		return types.Null, fmt.Errorf("ratio change: no ratio for %d", base)
	}
	c, ok := find(compare)
	if !ok {
		return types.Null, fmt.Errorf("ratio change: no ratio for %d", compare)
	}
	if !b.Valid || !c.Valid {
		return types.Null, nil
	}
	if b.Value == 0 {
		return types.Null, &types.DivisionByZeroError{Computation: "ratio change", Key: strconv.Itoa(base)}
	}
	return types.Float(c.Value / b.Value), nil
}

// StructuralBreak compares linear fits and average growth before and after
// the break year.
type StructuralBreak struct {
	BreakYear int

	PreSlope     float64
	PostSlope    float64
	SlopeRatio   types.NullFloat
	PreRSquared  types.NullFloat
	PostRSquared types.NullFloat

	// PreAvgGrowth and PostAvgGrowth are mean year-over-year growth in
	// percent over the defined years of each side.
	PreAvgGrowth       types.NullFloat
	PostAvgGrowth      types.NullFloat
	AccelerationFactor types.NullFloat
}

// DetectStructuralBreak fits count on year index separately for years
// before breakYear and from breakYear on, and compares average growth.
func DetectStructuralBreak(c Counts, growth []types.NullFloat, breakYear int) (StructuralBreak, error) {
	var preX, preY, postX, postY, preG, postG []float64
	for i, y := range c.Years {
		x, v := float64(i), float64(c.Values[i])
		if y < breakYear {
			preX, preY = append(preX, x), append(preY, v)
			if i < len(growth) && growth[i].Valid {
				preG = append(preG, growth[i].Value*100)
			}
		} else {
			postX, postY = append(postX, x), append(postY, v)
			if i < len(growth) && growth[i].Valid {
				postG = append(postG, growth[i].Value*100)
			}
		}
	}

	pre, err := stats.SimpleRegression(preX, preY)
	if err != nil {
		return StructuralBreak{}, fmt.Errorf("pre-%d trend: %w", breakYear, err)
	}
	post, err := stats.SimpleRegression(postX, postY)
	if err != nil {
		return StructuralBreak{}, fmt.Errorf("post-%d trend: %w", breakYear, err)
	}

	sb := StructuralBreak{
		BreakYear:    breakYear,
		PreSlope:     pre.Slope,
		PostSlope:    post.Slope,
		PreRSquared:  finite(pre.RSquared),
		PostRSquared: finite(post.RSquared),
	}
	if pre.Slope != 0 {
		sb.SlopeRatio = types.Float(post.Slope / pre.Slope)
	}
	if len(preG) > 0 {
		sb.PreAvgGrowth = types.Float(stats.Mean(preG))
	}
	if len(postG) > 0 {
		sb.PostAvgGrowth = types.Float(stats.Mean(postG))
	}
	if sb.PreAvgGrowth.Valid && sb.PostAvgGrowth.Valid && sb.PreAvgGrowth.Value != 0 {
		sb.AccelerationFactor = types.Float(sb.PostAvgGrowth.Value / sb.PreAvgGrowth.Value)
	}
	return sb, nil
}

func finite(v float64) types.NullFloat {
	if math.IsNaN(v) {
		return types.Null
	}
	return types.Float(v)
}
