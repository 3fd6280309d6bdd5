// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package trend

import (
	"time"

	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/pkg/types"
)

// bonferroniAlpha is the family-wise error rate across series.
const bonferroniAlpha = 0.05

// EffectSize reports standardized effect sizes and bootstrap intervals for
// one series.
type EffectSize struct {
	SeriesID string

	PreMedian  float64
	PreCI      stats.Interval
	PostMedian float64
	PostCI     stats.Interval

	CohensD      float64
	RankBiserial float64
	P            float64

	BonferroniSignificant bool
	BonferroniAlpha       float64
}

// EffectSizes computes effect sizes for every series in order, drawing all
// bootstrap resamples from one shared stream (pre then post per series), then
// applies a Bonferroni correction across the series. A series that fails is
// reported through fail and left out of the correction.
func EffectSizes(series []types.Series, breakpoint time.Time, boot *stats.Bootstrap, fail func(id string, err error)) []EffectSize {
	var out []EffectSize
	for _, s := range series {
		e, err := effectSize(s, breakpoint, boot)
		if err != nil {
			fail(s.ID, err)
			continue
		}
		out = append(out, e)
	}

	ps := make([]float64, len(out))
	for i, e := range out {
		ps[i] = e.P
	}
	sig, alpha := stats.Bonferroni(ps, bonferroniAlpha)
	for i := range out {
		out[i].BonferroniSignificant = sig[i]
		out[i].BonferroniAlpha = alpha
	}
	return out
}

func effectSize(s types.Series, breakpoint time.Time, boot *stats.Bootstrap) (EffectSize, error) {
	pre, post := s.Split(breakpoint)
	d, err := stats.CohensD(pre, post)
	if err != nil {
		return EffectSize{}, err
	}
	preCI, err := boot.MedianCI(pre, 95)
	if err != nil {
		return EffectSize{}, err
	}
	postCI, err := boot.MedianCI(post, 95)
	if err != nil {
		return EffectSize{}, err
	}
	mw, err := stats.MannWhitneyLess(pre, post)
	if err != nil {
		return EffectSize{}, err
	}
	return EffectSize{
		SeriesID:     s.ID,
		PreMedian:    stats.Median(pre),
		PreCI:        preCI,
		PostMedian:   stats.Median(post),
		PostCI:       postCI,
		CohensD:      d,
		RankBiserial: mw.RankBiserial(),
		P:            mw.P,
	}, nil
}
