// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stats

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	mstats "github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pdiddy/resurgence/pkg/types"
)

// Mean returns the arithmetic mean, or NaN for an empty sample.
func Mean(xs []float64) float64 {
	m, err := mstats.Mean(xs)
	if err != nil {
		return math.NaN()
	}
	return m
}

// Median returns the sample median, or NaN for an empty sample.
func Median(xs []float64) float64 {
	m, err := mstats.Median(xs)
	if err != nil {
		return math.NaN()
	}
	return m
}

// ZScores standardizes xs against the population mean and standard deviation
// (ddof 0). A zero standard deviation is a DivisionByZeroError.
func ZScores(computation string, xs []float64) ([]float64, error) {
	if len(xs) == 0 {
		return nil, &types.InsufficientDataError{Computation: computation, Have: 0, Need: 1}
	}
	mean, err := mstats.Mean(xs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", computation, err)
	}
	sd, err := mstats.StandardDeviationPopulation(xs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", computation, err)
	}
	if sd == 0 {
		return nil, &types.DivisionByZeroError{Computation: computation, Key: "standard deviation"}
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = (x - mean) / sd
	}
	return out, nil
}

// Pearson computes the product-moment correlation with a two-sided p-value
// from the t distribution on n-2 degrees of freedom.
func Pearson(x, y []float64) (Correlation, error) {
	if len(x) != len(y) {
		return Correlation{}, fmt.Errorf("pearson: length mismatch %d != %d", len(x), len(y))
	}
	n := len(x)
	if n < 3 {
		return Correlation{}, &types.InsufficientDataError{Computation: "pearson", Have: n, Need: 3}
	}
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return Correlation{}, &types.DivisionByZeroError{Computation: "pearson", Key: "constant input"}
	}
	r := stat.Correlation(x, y, nil)
	r = math.Max(-1, math.Min(1, r))
	c := Correlation{R: r, N: n}
	if math.Abs(r) == 1 {
		c.P = 0
		return c, nil
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	c.P = 2 * dist.Survival(math.Abs(t))
	return c, nil
}

// CohensD returns (mean(b) - mean(a)) / pooled standard deviation, using
// unbiased sample variances.
func CohensD(a, b []float64) (float64, error) {
	n1, n2 := len(a), len(b)
	if n1 < 2 || n2 < 2 {
		return 0, &types.InsufficientDataError{Computation: "cohens d", Have: min(n1, n2), Need: 2}
	}
	pooled := math.Sqrt((float64(n1-1)*stat.Variance(a, nil) + float64(n2-1)*stat.Variance(b, nil)) / float64(n1+n2-2))
	if pooled == 0 {
		return 0, &types.DivisionByZeroError{Computation: "cohens d", Key: "pooled standard deviation"}
	}
	return (stat.Mean(b, nil) - stat.Mean(a, nil)) / pooled, nil
}

// Quantile returns the q-th quantile (0..1) of xs by linear interpolation
// between closest ranks, the default of most numerical libraries.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + (s[hi]-s[lo])*frac
}

// Interval is a closed confidence interval.
type Interval struct {
	Lower float64
	Upper float64
}

// Bootstrap draws resamples from a seeded generator. Sharing one Bootstrap
// across calls reproduces the stream order of a single seeded run.
type Bootstrap struct {
	Draws int
	rng   *rand.Rand
}

// NewBootstrap returns a resampler with a deterministic PCG stream.
func NewBootstrap(draws int, seed uint64) *Bootstrap {
	return &Bootstrap{Draws: draws, rng: rand.New(rand.NewPCG(seed, seed))}
}

// MedianCI returns the percentile bootstrap interval of the median at the
// given confidence level (e.g. 95).
func (b *Bootstrap) MedianCI(data []float64, level float64) (Interval, error) {
	if len(data) == 0 {
		return Interval{}, &types.InsufficientDataError{Computation: "bootstrap", Have: 0, Need: 1}
	}
	if b.Draws <= 0 {
		return Interval{}, errors.New("bootstrap: draws must be positive")
	}
	meds := make([]float64, b.Draws)
	sample := make([]float64, len(data))
	for i := range meds {
		for j := range sample {
			sample[j] = data[b.rng.IntN(len(data))]
		}
		meds[i] = Median(sample)
	}
	tail := (100 - level) / 2 / 100
	return Interval{Lower: Quantile(meds, tail), Upper: Quantile(meds, 1-tail)}, nil
}

// Bonferroni reports which p-values stay significant at alpha after
// correcting for len(ps) comparisons, and the corrected threshold.
func Bonferroni(ps []float64, alpha float64) ([]bool, float64) {
	if len(ps) == 0 {
		return nil, alpha
	}
	corrected := alpha / float64(len(ps))
	sig := make([]bool, len(ps))
	for i, p := range ps {
		sig[i] = p < corrected
	}
	return sig, corrected
}

// Line is a fitted simple linear regression y = Intercept + Slope*x.
type Line struct {
	Intercept float64
	Slope     float64
	RSquared  float64
}

// SimpleRegression fits y on x by least squares.
func SimpleRegression(x, y []float64) (Line, error) {
	if len(x) != len(y) {
		return Line{}, fmt.Errorf("regression: length mismatch %d != %d", len(x), len(y))
	}
	if len(x) < 2 {
		return Line{}, &types.InsufficientDataError{Computation: "regression", Have: len(x), Need: 2}
	}
	if stat.Variance(x, nil) == 0 {
		return Line{}, &types.DivisionByZeroError{Computation: "regression", Key: "constant regressor"}
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)
	l := Line{Intercept: alpha, Slope: beta}
	if stat.Variance(y, nil) == 0 {
		l.RSquared = math.NaN()
	} else {
		l.RSquared = stat.RSquared(x, y, nil, alpha, beta)
	}
	return l, nil
}
