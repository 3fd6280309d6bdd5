// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stats

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/resurgence/pkg/types"
)

func seq(from, to float64) []float64 {
	var out []float64
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out
}

func TestRank(t *testing.T) {
	ranks, ties := Rank([]float64{10, 20, 20, 30})
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks)
	assert.Equal(t, []int{2}, ties)

	ranks, ties = Rank([]float64{3, 1, 2})
	assert.Equal(t, []float64{3, 1, 2}, ranks)
	assert.Empty(t, ties)
}

func TestMannWhitneyLess(t *testing.T) {
	t.Run("exact small samples", func(t *testing.T) {
		res, err := MannWhitneyLess([]float64{1, 2, 3}, []float64{4, 5, 6})
		require.NoError(t, err)
		assert.True(t, res.Exact)
		assert.Equal(t, 0.0, res.U)
		assert.InDelta(t, 0.05, res.P, 1e-12)
		assert.InDelta(t, 1.0, res.RankBiserial(), 1e-12)
	})

	t.Run("exact single pair", func(t *testing.T) {
		res, err := MannWhitneyLess([]float64{1}, []float64{2})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, res.P, 1e-12)
	})

	t.Run("asymptotic", func(t *testing.T) {
		res, err := MannWhitneyLess(seq(1, 10), seq(11, 20))
		require.NoError(t, err)
		assert.False(t, res.Exact)
		assert.Equal(t, 0.0, res.U)
		assert.InDelta(t, 9.13e-5, res.P, 5e-7)
	})

	t.Run("wrong direction", func(t *testing.T) {
		res, err := MannWhitneyLess(seq(11, 20), seq(1, 10))
		require.NoError(t, err)
		assert.Equal(t, 100.0, res.U)
		assert.Greater(t, res.P, 0.99)
	})

	t.Run("ties force normal approximation", func(t *testing.T) {
		res, err := MannWhitneyLess([]float64{1, 1, 2}, []float64{2, 3, 3})
		require.NoError(t, err)
		assert.False(t, res.Exact)
		assert.Less(t, res.P, 0.5)
	})

	t.Run("empty sample", func(t *testing.T) {
		_, err := MannWhitneyLess(nil, []float64{1})
		var ide *types.InsufficientDataError
		assert.True(t, errors.As(err, &ide))
	})
}

func TestZScores(t *testing.T) {
	z, err := ZScores("burst", []float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1.224744871, 0, 1.224744871}, z, 1e-9)

	shifted, err := ZScores("burst", []float64{1001, 1002, 1003})
	require.NoError(t, err)
	assert.InDeltaSlice(t, z, shifted, 1e-9)

	_, err = ZScores("burst", []float64{5, 5, 5})
	var dz *types.DivisionByZeroError
	assert.True(t, errors.As(err, &dz))
}

func TestPearsonAndSpearman(t *testing.T) {
	c, err := Pearson([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 5, 4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.7746, c.R, 1e-4)
	assert.InDelta(t, 0.124, c.P, 1e-3)
	assert.Equal(t, 5, c.N)

	c, err = Pearson([]float64{1, 2, 3}, []float64{2, 4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c.R, 1e-12)
	assert.Equal(t, 0.0, c.P)

	s, err := Spearman([]float64{1, 2, 3, 4, 5}, []float64{1, 4, 9, 16, 100})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.R, 1e-12)

	_, err = Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.Error(t, err)
	_, err = Pearson([]float64{1, 2}, []float64{1, 2})
	assert.Error(t, err)
}

func TestCohensD(t *testing.T) {
	d, err := CohensD([]float64{1, 2, 3}, []float64{4, 5, 6})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, d, 1e-12)

	_, err = CohensD([]float64{1}, []float64{4, 5, 6})
	assert.Error(t, err)
}

func TestQuantile(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	assert.InDelta(t, 2.5, Quantile(xs, 0.5), 1e-12)
	assert.InDelta(t, 1.75, Quantile(xs, 0.25), 1e-12)
	assert.InDelta(t, 4.0, Quantile(xs, 1), 1e-12)
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))
	assert.Equal(t, []float64{4, 1, 3, 2}, xs, "input must not be reordered")
}

func TestBootstrapDeterministic(t *testing.T) {
	data := []float64{19, 20, 18, 22, 25, 17, 21, 19, 23, 20}
	a, err := NewBootstrap(2000, 42).MedianCI(data, 95)
	require.NoError(t, err)
	b, err := NewBootstrap(2000, 42).MedianCI(data, 95)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.LessOrEqual(t, a.Lower, Median(data))
	assert.GreaterOrEqual(t, a.Upper, Median(data))

	_, err = NewBootstrap(10, 1).MedianCI(nil, 95)
	assert.Error(t, err)
}

func TestBonferroni(t *testing.T) {
	sig, alpha := Bonferroni([]float64{0.001, 0.02, 0.0125, 0.5}, 0.05)
	assert.InDelta(t, 0.0125, alpha, 1e-12)
	assert.Equal(t, []bool{true, false, false, false}, sig)
}

func TestSimpleRegression(t *testing.T) {
	l, err := SimpleRegression([]float64{0, 1, 2}, []float64{1, 3, 5})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, l.Intercept, 1e-12)
	assert.InDelta(t, 2.0, l.Slope, 1e-12)
	assert.InDelta(t, 1.0, l.RSquared, 1e-12)

	_, err = SimpleRegression([]float64{1, 1}, []float64{1, 2})
	assert.Error(t, err)
}

func TestOLSExactFit(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{1, 0, 1, 1, 1, 2, 1, 3})
	fit, err := OLS([]float64{1, 3, 5, 7}, X)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, fit.Coef, 1e-9)
	assert.InDelta(t, 1.0, fit.RSquared, 1e-12)

	inf := fit.HACInference(HACOptions{Lags: 6})
	require.Len(t, inf, 2)
	for _, in := range inf {
		// Zero residuals leave inference undefined rather than dividing by zero.
		if in.SE.Valid {
			assert.InDelta(t, 0, in.SE.Value, 1e-6)
		}
	}
}

func TestHACCovarianceInterceptOnly(t *testing.T) {
	X := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	fit, err := OLS([]float64{1, 3, 2, 4}, X)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, fit.Coef[0], 1e-12)

	tests := []struct {
		name string
		opts HACOptions
		want float64
	}{
		{"white", HACOptions{Lags: 0}, 5.0 / 16},
		{"one lag", HACOptions{Lags: 1}, 3.25 / 16},
		{"one lag corrected", HACOptions{Lags: 1, SmallSample: true}, 3.25 / 16 * 4 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cov := fit.HACCovariance(tt.opts)
			assert.InDelta(t, tt.want, cov.At(0, 0), 1e-12)
		})
	}
}

func TestOLSErrors(t *testing.T) {
	_, err := OLS([]float64{1, 2}, mat.NewDense(3, 1, []float64{1, 1, 1}))
	assert.Error(t, err)

	_, err = OLS([]float64{1, 2}, mat.NewDense(2, 2, []float64{1, 0, 1, 1}))
	var ide *types.InsufficientDataError
	assert.True(t, errors.As(err, &ide))
}
