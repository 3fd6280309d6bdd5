// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stats implements the small set of statistical tests and estimators
// the analysis pipelines need: a one-sided Mann-Whitney U test, ordinary least
// squares with Newey-West standard errors, correlations, z-scores, and
// seeded bootstrap intervals.
//
// Results follow the conventions of the reference scientific Python stack
// (two-sided normal p-values for HAC regressions, population standard
// deviation for z-scores, average ranks for ties) so published figures can be
// re-derived.
package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pdiddy/resurgence/pkg/types"
)

// exactMaxSize is the largest sample size for which the exact U distribution
// is used when the samples have no ties.
const exactMaxSize = 8

// MWUResult holds the outcome of a Mann-Whitney U test.
type MWUResult struct {
	// U is the statistic for the first sample: R1 - n1(n1+1)/2.
	U float64

	// P is the one-sided p-value.
	P float64

	// Exact reports whether P came from the exact null distribution.
	Exact bool

	N1, N2 int
}

// RankBiserial returns the rank-biserial correlation 1 - 2U/(n1*n2).
func (r MWUResult) RankBiserial() float64 {
	return 1 - 2*r.U/float64(r.N1*r.N2)
}

// MannWhitneyLess tests whether x is stochastically less than y (equivalently,
// whether y is shifted higher). The exact distribution is used when either
// sample has at most eight values and there are no ties; otherwise the normal
// approximation with tie and continuity corrections applies.
func MannWhitneyLess(x, y []float64) (MWUResult, error) {
	n1, n2 := len(x), len(y)
	if n1 == 0 || n2 == 0 {
		return MWUResult{}, &types.InsufficientDataError{Computation: "mann-whitney", Have: min(n1, n2), Need: 1}
	}

	all := make([]float64, 0, n1+n2)
	all = append(all, x...)
	all = append(all, y...)
	ranks, ties := Rank(all)

	var r1 float64
	for _, r := range ranks[:n1] {
		r1 += r
	}
	u1 := r1 - float64(n1*(n1+1))/2
	u2 := float64(n1*n2) - u1

	res := MWUResult{U: u1, N1: n1, N2: n2}
	if (n1 <= exactMaxSize || n2 <= exactMaxSize) && len(ties) == 0 {
		res.Exact = true
		res.P = exactUSurvival(int(math.Round(u2)), n1, n2)
	} else {
		res.P = asymptoticUSurvival(u2, n1, n2, ties)
	}
	res.P = math.Min(1, math.Max(0, res.P))
	return res, nil
}

func asymptoticUSurvival(u float64, n1, n2 int, ties []int) float64 {
	n := float64(n1 + n2)
	var tieTerm float64
	for _, t := range ties {
		tf := float64(t)
		tieTerm += tf*tf*tf - tf
	}
	mu := float64(n1*n2) / 2
	s := math.Sqrt(float64(n1*n2) / 12 * ((n + 1) - tieTerm/(n*(n-1))))
	if s == 0 {
		return math.NaN()
	}
	z := (u - mu - 0.5) / s
	return distuv.UnitNormal.Survival(z)
}

// exactUSurvival returns P(U >= u) under the null, counting arrangements with
// the recurrence f(m, n, u) = f(m-1, n, u-n) + f(m, n-1, u).
func exactUSurvival(u, n1, n2 int) float64 {
	if u <= 0 {
		return 1
	}
	prev := make([][]float64, n1+1)
	for i := range prev {
		prev[i] = []float64{1}
	}
	for j := 1; j <= n2; j++ {
		cur := make([][]float64, n1+1)
		cur[0] = []float64{1}
		for i := 1; i <= n1; i++ {
			f := make([]float64, i*j+1)
			for k, c := range cur[i-1] {
				f[k+j] += c
			}
			for k, c := range prev[i] {
				f[k] += c
			}
			cur[i] = f
		}
		prev = cur
	}
	dist := prev[n1]
	if u >= len(dist) {
		return 0
	}
	var total, tail float64
	for k, c := range dist {
		total += c
		if k >= u {
			tail += c
		}
	}
	return tail / total
}

// Rank assigns 1-based ranks to xs, averaging ranks over ties. The second
// return value lists the size of every tie group larger than one.
func Rank(xs []float64) ([]float64, []int) {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	ranks := make([]float64, len(xs))
	var ties []int
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && xs[idx[j]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		if j-i > 1 {
			ties = append(ties, j-i)
		}
		i = j
	}
	return ranks, ties
}

// Correlation is a correlation coefficient with its two-sided p-value.
type Correlation struct {
	R float64
	P float64
	N int
}

// Spearman computes the rank correlation of x and y (Pearson on average ranks).
func Spearman(x, y []float64) (Correlation, error) {
	if len(x) != len(y) {
		return Correlation{}, fmt.Errorf("spearman: length mismatch %d != %d", len(x), len(y))
	}
	rx, _ := Rank(x)
	ry, _ := Rank(y)
	return Pearson(rx, ry)
}
