// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package trend

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/pkg/types"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func makeSeries(id string, start time.Time, vals []float64) types.Series {
	s := types.Series{ID: id, Term: strings.ToLower(id)}
	for i, v := range vals {
		s.Points = append(s.Points, types.TimeSeriesPoint{Month: start.AddDate(0, i, 0), SeriesID: id, Value: v})
	}
	return s
}

// segmented returns 48 months following y = 10 + 0.5t - 20d + 1.0td plus a
// small repeating disturbance, with the break after 24 months.
func segmented() []float64 {
	noise := []float64{0, 1, -1, 0.5, -0.5, 0}
	out := make([]float64, 48)
	for t := range out {
		d := 0.0
		if t >= 24 {
			d = 1
		}
		ft := float64(t)
		out[t] = 10 + 0.5*ft + d*(-20+1.0*ft) + noise[t%6]
	}
	return out
}

func testLogger() (log.Interface, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

func TestCompareDistributions(t *testing.T) {
	vals := make([]float64, 20)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	s := makeSeries("English", month(2020, 1), vals)
	a := NewAnalyzer(types.TrendConfig{})

	c, err := a.CompareDistributions(s, month(2020, 11))
	require.NoError(t, err)
	assert.Equal(t, 10, c.PreN)
	assert.Equal(t, 10, c.PostN)
	assert.Equal(t, 5.5, c.PreMedian)
	assert.Equal(t, 15.5, c.PostMedian)
	assert.Equal(t, 0.0, c.U)
	assert.False(t, c.Exact)
	assert.InDelta(t, 9.13359e-5, c.P, 5e-7)
	require.True(t, c.EffectPct.Valid)
	assert.InDelta(t, 181.818, c.EffectPct.Value, 0.001)
}

func TestCompareDistributionsInsufficient(t *testing.T) {
	s := makeSeries("German", month(2020, 1), []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13})
	a := NewAnalyzer(types.TrendConfig{})

	_, err := a.CompareDistributions(s, month(2020, 6))
	var ide *types.InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 5, ide.Have)
	assert.Equal(t, 8, ide.Need)
}

func TestCompareDistributionsZeroPreMedian(t *testing.T) {
	vals := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	s := makeSeries("Spanish", month(2020, 1), vals)
	c, err := NewAnalyzer(types.TrendConfig{}).CompareDistributions(s, month(2020, 10))
	require.NoError(t, err)
	assert.False(t, c.EffectPct.Valid)
}

func TestFitSegmentedTrend(t *testing.T) {
	s := makeSeries("French", month(2019, 1), segmented())
	a := NewAnalyzer(types.TrendConfig{HACLags: 6})

	f, err := a.FitSegmentedTrend(s, month(2021, 1))
	require.NoError(t, err)
	assert.Equal(t, 24, f.NPre)
	assert.Equal(t, 24, f.NPost)
	assert.InDelta(t, 1.0, f.SlopeChange, 1e-9)
	assert.InDelta(t, 0.494783, f.SlopePre, 1e-6)
	assert.InDelta(t, f.SlopePre+f.SlopeChange, f.SlopePost, 1e-12)
	assert.InDelta(t, -19.874783, f.LevelChange, 1e-6)
	assert.False(t, f.ZeroVariance)

	require.True(t, f.SlopeChangeSE.Valid)
	assert.InDelta(t, 0.0092936, f.SlopeChangeSE.Value, 1e-6)
	require.True(t, f.SlopeChangeP.Valid)
	assert.Less(t, f.SlopeChangeP.Value, 1e-6)
	require.True(t, f.RSquared.Valid)
	assert.InDelta(t, 0.99833, f.RSquared.Value, 1e-5)
}

func TestFitSegmentedTrendZeroVariance(t *testing.T) {
	vals := make([]float64, 36)
	for i := range vals {
		if i < 18 {
			vals[i] = 20
		} else {
			vals[i] = float64(i)
		}
	}
	s := makeSeries("Spanish", month(2019, 1), vals)

	f, err := NewAnalyzer(types.TrendConfig{}).FitSegmentedTrend(s, month(2020, 7))
	require.NoError(t, err)
	assert.True(t, f.ZeroVariance)
	assert.InDelta(t, 0, f.SlopePre, 1e-9)
	assert.InDelta(t, 1, f.SlopePost, 1e-9)
	assert.False(t, f.SlopeChangeP.Valid)
	assert.False(t, f.SlopeChangeSE.Valid)
}

func TestFitSegmentedTrendInsufficient(t *testing.T) {
	s := makeSeries("English", month(2019, 1), segmented())
	_, err := NewAnalyzer(types.TrendConfig{}).FitSegmentedTrend(s, month(2019, 6))
	var ide *types.InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 12, ide.Need)
}

func TestPreTrendTest(t *testing.T) {
	s := makeSeries("English", month(2019, 1), segmented())
	p, err := NewAnalyzer(types.TrendConfig{}).PreTrendTest(s, month(2021, 1))
	require.NoError(t, err)
	assert.Equal(t, 24, p.N)
	assert.InDelta(t, 0.494783, p.Slope.Value, 1e-6)
	assert.InDelta(t, 0.965802, p.RSquared.Value, 1e-6)
	assert.True(t, p.Significant())
}

func TestPlaceboSweep(t *testing.T) {
	s := makeSeries("German", month(2019, 1), segmented())
	a := NewAnalyzer(types.TrendConfig{})
	bp := month(2021, 1)
	candidates := []time.Time{
		month(2021, 6),
		month(2019, 3),
		bp,
		month(2020, 1),
		month(2021, 6),
	}

	rows := a.PlaceboSweep(s, bp, candidates)
	var dates []string
	for _, r := range rows {
		dates = append(dates, r.Breakpoint.Format(types.DateLayout))
		assert.False(t, r.IsBreakpoint)
	}
	assert.Equal(t, []string{"2019-03-01", "2020-01-01", "2021-06-01"}, dates)

	assert.Nil(t, rows[0].Comparison)
	assert.Error(t, rows[0].ComparisonErr)
	assert.Nil(t, rows[0].Trend)
	assert.Error(t, rows[0].TrendErr)

	require.NotNil(t, rows[1].Comparison)
	require.NotNil(t, rows[1].Trend)
	assert.Equal(t, 12, rows[1].Trend.NPre)
}

func TestSummarize(t *testing.T) {
	actual := PlaceboRow{
		IsBreakpoint: true,
		Comparison:   &Comparison{EffectPct: types.Float(80)},
		Trend:        &SegmentedFit{SlopeChange: 0.4, SlopeChangeP: types.Float(0.01)},
	}
	placebos := []PlaceboRow{
		{Comparison: &Comparison{EffectPct: types.Float(50)}, Trend: &SegmentedFit{SlopeChange: 0.6}},
		{Comparison: &Comparison{EffectPct: types.Null}},
		{ComparisonErr: errors.New("short")},
	}
	r := Summarize(actual, placebos, PreTrend{P: types.Float(0.2)})

	assert.Equal(t, types.Float(50), r.MaxPlaceboEffect)
	assert.True(t, r.StrongestEffect)
	assert.Equal(t, types.Float(0.6), r.MaxPlaceboSlope)
	assert.False(t, r.StrongestSlope)
	assert.Equal(t, types.Float(0.01), r.SlopeChangeP)
	assert.False(t, r.PreTrend.Significant())

	none := Summarize(actual, nil, PreTrend{})
	assert.False(t, none.StrongestEffect, "no placebo values means nothing to beat")
}

func TestMeasureVolatility(t *testing.T) {
	s := makeSeries("English", month(2020, 1), []float64{1, 3, 2, 6, 10})
	v := MeasureVolatility(s, month(2020, 4))
	assert.Equal(t, types.Float(1.5), v.PreMeanAbsDiff)
	assert.Equal(t, types.Float(4), v.PostMeanAbsDiff)
	assert.InDelta(t, 8.0/3, v.Ratio.Value, 1e-12)

	flat := makeSeries("English", month(2020, 1), []float64{5, 5, 5, 9})
	assert.False(t, MeasureVolatility(flat, month(2020, 4)).Ratio.Valid)
}

func TestEffectSizesDeterministic(t *testing.T) {
	series := []types.Series{
		makeSeries("English", month(2019, 1), segmented()),
		makeSeries("German", month(2019, 1), segmented()[:30]),
	}
	run := func() []EffectSize {
		var failed []string
		out := EffectSizes(series, month(2021, 1), stats.NewBootstrap(500, 42), func(id string, err error) {
			failed = append(failed, id)
		})
		assert.Empty(t, failed)
		return out
	}
	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("bootstrap not reproducible (-first +second):\n%s", diff)
	}
	require.Len(t, first, 2)
	assert.Equal(t, 0.025, first[0].BonferroniAlpha)
	assert.LessOrEqual(t, first[0].PreCI.Lower, first[0].PreMedian)
	assert.GreaterOrEqual(t, first[0].PreCI.Upper, first[0].PreMedian)
	assert.Greater(t, first[0].CohensD, 0.0)
}

func TestEffectSizesReportsFailure(t *testing.T) {
	series := []types.Series{makeSeries("English", month(2019, 1), []float64{1, 2, 3})}
	var failed []string
	out := EffectSizes(series, month(2019, 3), stats.NewBootstrap(10, 42), func(id string, err error) {
		failed = append(failed, id)
	})
	assert.Empty(t, out)
	assert.Equal(t, []string{"English"}, failed)
}

func writeSeriesCSV(t *testing.T, path, term string, start time.Time, vals []float64) {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "date,%s,isPartial\n", term)
	for i, v := range vals {
		fmt.Fprintf(&b, "%s,%g,False\n", start.AddDate(0, i, 0).Format(types.DateLayout), v)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func TestLoadSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trends_spanish.csv")
	content := "date,pensamiento crítico,isPartial\n" +
		"2019-02-01,21,False\n" +
		"2019-01-01,19,False\n" +
		"2019-03-01,,True\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadSeries(path, types.TrendSeriesConfig{ID: "Spanish", Term: "pensamiento crítico"})
	require.NoError(t, err)
	assert.Equal(t, []float64{19, 21}, s.Values())
	assert.Equal(t, month(2019, 1), s.Points[0].Month)
	assert.Equal(t, "Spanish", s.Points[0].SeriesID)
}

func TestLoadSeriesErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"missing term column", "date,other\n2019-01-01,3\n", "critical thinking"},
		{"bad date", "date,critical thinking\nJan 2019,3\n", "date"},
		{"bad value", "date,critical thinking\n2019-01-01,high\n", "critical thinking"},
		{"gap", "date,critical thinking\n2019-01-01,3\n2019-03-01,4\n", ""},
		{"out of range", "date,critical thinking\n2019-01-01,300\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "trends_english.csv")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadSeries(path, types.TrendSeriesConfig{ID: "English", Term: "critical thinking"})
			var pe *types.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, path, pe.File)
		})
	}
}

func testConfig(t *testing.T) types.PipelineConfig {
	t.Helper()
	root := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.Paths = types.PathsConfig{
		RawDir:       filepath.Join(root, "raw"),
		ProcessedDir: filepath.Join(root, "processed"),
		FiguresDir:   filepath.Join(root, "figures"),
	}
	cfg.Trends.Series = []types.TrendSeriesConfig{
		{ID: "English", Term: "critical thinking", File: "trends_english.csv"},
		{ID: "German", Term: "kritisches Denken", File: "trends_german.csv"},
	}
	cfg.Trends.Breakpoint = "2021-01-01"
	cfg.Trends.PlaceboBreakpoints = []string{"2019-03-01", "2020-01-01", "2021-06-01"}
	cfg.Trends.BootstrapDraws = 200

	german := segmented()
	for i := range german {
		german[i] = german[i]/2 + 3
	}
	writeSeriesCSV(t, filepath.Join(cfg.Paths.RawDir, "trends_english.csv"), "critical thinking", month(2019, 1), segmented())
	writeSeriesCSV(t, filepath.Join(cfg.Paths.RawDir, "trends_german.csv"), "kritisches Denken", month(2019, 1), german)
	return cfg
}

func TestRunWritesTables(t *testing.T) {
	cfg := testConfig(t)
	logger, h := testLogger()

	res, err := Run(t.Context(), cfg, Options{}, logger)
	require.NoError(t, err)
	require.Len(t, res.Analyses, 2)
	assert.Len(t, res.Inputs, 2)
	assert.Len(t, res.Outputs, 5)
	assert.NotEmpty(t, h.Entries)

	// The early placebo candidate fails both tests for both series.
	assert.Len(t, res.Failures, 4)

	data, err := os.ReadFile(filepath.Join(cfg.Paths.ProcessedDir, PlaceboFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1+2*4)
	assert.True(t, strings.HasPrefix(lines[1], "2021-01-01,true,"))
	assert.True(t, strings.HasPrefix(lines[2], "2019-03-01,false,,,,,,"))

	_, err = os.Stat(filepath.Join(cfg.Paths.FiguresDir, FigureFile))
	assert.NoError(t, err)
}

func TestRunIdempotent(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := testLogger()
	files := []string{AnalysisFile, PlaceboFile, RobustnessFile, EffectsFile}

	read := func() map[string][]byte {
		out := map[string][]byte{}
		for _, f := range files {
			data, err := os.ReadFile(filepath.Join(cfg.Paths.ProcessedDir, f))
			require.NoError(t, err)
			out[f] = data
		}
		return out
	}

	_, err := Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	require.NoError(t, err)
	first := read()
	_, err = Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	require.NoError(t, err)
	second := read()

	for _, f := range files {
		assert.True(t, bytes.Equal(first[f], second[f]), "%s changed between runs", f)
	}
}

func TestRunMissingSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trends.Series = append(cfg.Trends.Series, types.TrendSeriesConfig{ID: "French", Term: "pensée critique", File: "missing.csv"})
	logger, _ := testLogger()
	_, err := Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	assert.Error(t, err)
}

func TestAnalysisTableOrder(t *testing.T) {
	mk := func(id string, eff types.NullFloat) Analysis {
		return Analysis{Series: types.Series{ID: id}, Actual: PlaceboRow{Comparison: &Comparison{EffectPct: eff}}}
	}
	tbl := AnalysisTable([]Analysis{
		mk("English", types.Float(34)),
		mk("Zulu", types.Null),
		mk("Spanish", types.Float(194.7)),
		{Series: types.Series{ID: "Basque"}},
		mk("German", types.Float(82.5)),
	})
	var order []string
	for _, r := range tbl.Rows {
		order = append(order, r[0])
		assert.Len(t, r, len(tbl.Header))
	}
	assert.Equal(t, []string{"Spanish", "German", "English", "Basque", "Zulu"}, order)
}

func TestRunKeepsInputsOnLoadFailure(t *testing.T) {
	cfg := testConfig(t)
	german := filepath.Join(cfg.Paths.RawDir, "trends_german.csv")
	require.NoError(t, os.WriteFile(german, []byte("date,kritisches Denken\n2019-01-01,high\n"), 0o644))
	logger, _ := testLogger()

	res, err := Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	var pe *types.ParseError
	require.True(t, errors.As(err, &pe), "got %v", err)
	require.NotNil(t, res)
	assert.Equal(t, "trends", res.Pipeline)
	assert.Equal(t, []string{filepath.Join(cfg.Paths.RawDir, "trends_english.csv"), german}, res.Inputs)
	assert.Empty(t, res.Outputs)
}

func TestRunReportsUnreadableSnapshotPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Trends.Series[0].File = filepath.Join("trends_english.csv", "nested.csv")
	logger, _ := testLogger()

	_, err := Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checking "+filepath.Join(cfg.Paths.RawDir, "trends_english.csv", "nested.csv"))
	assert.False(t, errors.Is(err, fs.ErrNotExist))
}
