// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pdiddy/resurgence/pkg/types"
)

// OLSFit is an ordinary least squares fit.
type OLSFit struct {
	Coef      []float64
	Residuals []float64
	RSquared  float64

	n, k   int
	x      *mat.Dense
	xtxInv *mat.Dense
}

// OLS regresses y on the columns of X. Callers include the intercept column
// explicitly. The design matrix must have full column rank.
func OLS(y []float64, X *mat.Dense) (*OLSFit, error) {
	n, k := X.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("ols: %d observations but %d design rows", len(y), n)
	}
	if n <= k {
		return nil, &types.InsufficientDataError{Computation: "ols", Have: n, Need: k + 1}
	}

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	var inv mat.Dense
	if err := inv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("ols: singular design: %w", err)
	}

	yv := mat.NewVecDense(n, append([]float64(nil), y...))
	var xty mat.VecDense
	xty.MulVec(X.T(), yv)
	var beta mat.VecDense
	beta.MulVec(&inv, &xty)

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)

	fit := &OLSFit{
		Coef:      make([]float64, k),
		Residuals: make([]float64, n),
		n:         n,
		k:         k,
		x:         X,
		xtxInv:    &inv,
	}
	for j := 0; j < k; j++ {
		fit.Coef[j] = beta.AtVec(j)
	}

	mean := Mean(y)
	var ssr, sst float64
	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		fit.Residuals[i] = e
		ssr += e * e
		d := y[i] - mean
		sst += d * d
	}
	if sst == 0 {
		fit.RSquared = math.NaN()
	} else {
		fit.RSquared = 1 - ssr/sst
	}
	return fit, nil
}

// HACOptions configures Newey-West covariance estimation.
type HACOptions struct {
	// Lags is the Bartlett kernel bandwidth.
	Lags int

	// SmallSample scales the covariance by n/(n-k).
	SmallSample bool
}

// HACCovariance returns the Newey-West heteroscedasticity and
// autocorrelation consistent covariance of the coefficients, using Bartlett
// weights w_l = 1 - l/(lags+1).
func (f *OLSFit) HACCovariance(opts HACOptions) *mat.Dense {
	lags := opts.Lags
	if lags > f.n-1 {
		lags = f.n - 1
	}
	if lags < 0 {
		lags = 0
	}

	xu := mat.NewDense(f.n, f.k, nil)
	for i := 0; i < f.n; i++ {
		for j := 0; j < f.k; j++ {
			xu.Set(i, j, f.x.At(i, j)*f.Residuals[i])
		}
	}

	var s mat.Dense
	s.Mul(xu.T(), xu)
	for l := 1; l <= lags; l++ {
		w := 1 - float64(l)/float64(lags+1)
		lead := xu.Slice(l, f.n, 0, f.k)
		lagged := xu.Slice(0, f.n-l, 0, f.k)
		var g mat.Dense
		g.Mul(lead.T(), lagged)
		var gt mat.Dense
		gt.CloneFrom(g.T())
		g.Add(&g, &gt)
		g.Scale(w, &g)
		s.Add(&s, &g)
	}

	var tmp, cov mat.Dense
	tmp.Mul(f.xtxInv, &s)
	cov.Mul(&tmp, f.xtxInv)
	if opts.SmallSample {
		cov.Scale(float64(f.n)/float64(f.n-f.k), &cov)
	}
	return &cov
}

// Inference is a coefficient estimate with its robust standard error and
// two-sided normal p-value. SE and P are undefined when the standard error is
// zero or not finite.
type Inference struct {
	Coef float64
	SE   types.NullFloat
	P    types.NullFloat
}

// HACInference returns per-coefficient inference under the HAC covariance.
func (f *OLSFit) HACInference(opts HACOptions) []Inference {
	cov := f.HACCovariance(opts)
	out := make([]Inference, f.k)
	for j := 0; j < f.k; j++ {
		out[j] = Inference{Coef: f.Coef[j]}
		v := cov.At(j, j)
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		se := math.Sqrt(v)
		z := f.Coef[j] / se
		out[j].SE = types.Float(se)
		out[j].P = types.Float(2 * distuv.UnitNormal.Survival(math.Abs(z)))
	}
	return out
}
