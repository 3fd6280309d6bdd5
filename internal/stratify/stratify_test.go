// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stratify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/resurgence/internal/chart"
	"github.com/pdiddy/resurgence/internal/openalex"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

var thresholds = types.DefaultConfig().Stratification.Thresholds

func testLogger() (log.Interface, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

func idx(code string, hdi float64) types.DevelopmentIndexRecord {
	return types.DevelopmentIndexRecord{CountryCode: code, Country: code, IndexValue: hdi, Tier: types.TierFor(hdi, thresholds)}
}

func TestJoinByCountryCode(t *testing.T) {
	index := []types.DevelopmentIndexRecord{idx("AAA", 0.9), idx("BBB", 0.6), idx("CCC", 0.4), idx("AAA", 0.9)}
	pubs := []types.CountryPublication{
		{CountryCode: "AAA", ISO2: "AA", Name: "Alpha", PublicationCount: 5},
		{CountryCode: "DDD", ISO2: "DD", PublicationCount: 7},
		{CountryCode: "AAA", PublicationCount: 3},
		{ISO2: "ZZ", Name: "Nowhere", PublicationCount: 2},
	}

	j := JoinByCountryCode(pubs, index)
	require.Len(t, j.Countries, 3)

	var codes []string
	for _, c := range j.Countries {
		codes = append(codes, c.CountryCode)
	}
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, codes)

	assert.Equal(t, 8, j.Countries[0].Publications)
	assert.True(t, j.Countries[0].Matched)
	assert.Equal(t, "Alpha", j.Countries[0].SourceName)
	assert.Equal(t, 0, j.Countries[1].Publications)
	assert.False(t, j.Countries[1].Matched)

	want := []types.CountryPublication{
		{ISO2: "ZZ", Name: "Nowhere", PublicationCount: 2},
		{CountryCode: "DDD", ISO2: "DD", PublicationCount: 7},
	}
	if diff := cmp.Diff(want, j.Unmatched); diff != "" {
		t.Errorf("unmatched mismatch (-want +got):\n%s", diff)
	}
}

// tierFixture builds n countries sharing one index value.
func tierFixture(prefix string, n int, hdi float64) []types.DevelopmentIndexRecord {
	var out []types.DevelopmentIndexRecord
	for i := range n {
		out = append(out, idx(fmt.Sprintf("%s%02d", prefix, i), hdi))
	}
	return out
}

func spread(index []types.DevelopmentIndexRecord, total int) []types.CountryPublication {
	out := make([]types.CountryPublication, len(index))
	for i, rec := range index {
		out[i] = types.CountryPublication{CountryCode: rec.CountryCode, PublicationCount: 1}
	}
	out[0].PublicationCount = total - (len(index) - 1)
	return out
}

func TestTierGapEndToEnd(t *testing.T) {
	vh := tierFixture("V", 69, 0.9)
	low := tierFixture("L", 33, 0.4)
	pubs := append(spread(vh, 1409), spread(low, 119)...)

	j := JoinByCountryCode(pubs, append(vh, low...))
	tiers, err := AggregateByTier(j.Countries)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, types.TierVeryHigh, tiers[0].Tier)
	assert.Equal(t, 1409, tiers[0].TotalPubs)
	assert.Equal(t, 69, tiers[0].Countries)
	assert.Equal(t, 119, tiers[1].TotalPubs)
	assert.Equal(t, 33, tiers[1].Countries)

	gap, err := TierGap(tiers, types.TierVeryHigh, types.TierLow)
	require.NoError(t, err)
	assert.Equal(t, 11.8, tabular.Round(gap.TotalsRatio.Value, 1))
	assert.InDelta(t, (1409.0/69)/(119.0/33), gap.PerCountryRatio.Value, 1e-12)
	assert.InDelta(t, 5.67, gap.PerCountryRatio.Value, 0.01)
}

func TestAggregateByTierConservesTotals(t *testing.T) {
	index := []types.DevelopmentIndexRecord{
		idx("A", 0.95), idx("B", 0.81), idx("C", 0.75), idx("D", 0.6), idx("E", 0.3), idx("F", 0.55),
	}
	pubs := []types.CountryPublication{
		{CountryCode: "A", PublicationCount: 40},
		{CountryCode: "B", PublicationCount: 10},
		{CountryCode: "C", PublicationCount: 7},
		{CountryCode: "E", PublicationCount: 1},
		{CountryCode: "F", PublicationCount: 2},
		{CountryCode: "X", PublicationCount: 99},
	}
	j := JoinByCountryCode(pubs, index)
	tiers, err := AggregateByTier(j.Countries)
	require.NoError(t, err)

	joined, tiered := 0, 0
	for _, c := range j.Countries {
		joined += c.Publications
	}
	for _, r := range tiers {
		tiered += r.TotalPubs
	}
	assert.Equal(t, joined, tiered)
	assert.Equal(t, 60, tiered)

	assert.Equal(t, 1.0, tiers[0].RatioToBaseline.Value)
	assert.Equal(t, types.TierMedium, tiers[2].Tier)
	assert.Equal(t, 2, tiers[2].Countries)
	assert.Equal(t, 1.0, tiers[2].MedianPubs)
}

func TestAggregateByTierZeroBaseline(t *testing.T) {
	j := JoinByCountryCode([]types.CountryPublication{{CountryCode: "B", PublicationCount: 4}}, []types.DevelopmentIndexRecord{idx("A", 0.9), idx("B", 0.5)})
	tiers, err := AggregateByTier(j.Countries)
	var dz *types.DivisionByZeroError
	require.True(t, errors.As(err, &dz))
	assert.Equal(t, "Very High", dz.Key)
	require.Len(t, tiers, 2)
	assert.False(t, tiers[1].RatioToBaseline.Valid)
	assert.Equal(t, 4, tiers[1].TotalPubs)
}

func TestTierGapErrors(t *testing.T) {
	tiers := []TierRow{{Tier: types.TierVeryHigh, Countries: 2, TotalPubs: 10}, {Tier: types.TierLow, Countries: 1}}
	_, err := TierGap(tiers, types.TierVeryHigh, types.TierLow)
	var dz *types.DivisionByZeroError
	assert.True(t, errors.As(err, &dz))

	_, err = TierGap(tiers[1:], types.TierVeryHigh, types.TierLow)
	assert.Error(t, err)
}

func TestRegionalRatio(t *testing.T) {
	rows, err := RegionalRatio([]types.RegionalGrowthRecord{
		{Region: "Latin America", CTGrowthPct: 194, GenAIGrowthPct: 425},
		{Region: "Sub-Saharan Africa", CTGrowthPct: 6, GenAIGrowthPct: 134},
		{Region: "Shrinking", CTGrowthPct: -10, GenAIGrowthPct: 50},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.4565, rows[0].Ratio.Value, 1e-4)
	assert.Equal(t, 0.46, tabular.Round(rows[0].Ratio.Value, 2))
	assert.InDelta(t, 0.0448, rows[1].Ratio.Value, 1e-4)
	assert.Equal(t, 0.04, tabular.Round(rows[1].Ratio.Value, 2))
	assert.Equal(t, -0.2, rows[2].Ratio.Value)
}

func TestRegionalRatioZeroGrowth(t *testing.T) {
	rows, err := RegionalRatio([]types.RegionalGrowthRecord{
		{Region: "Flat", CTGrowthPct: 5, GenAIGrowthPct: 0},
		{Region: "Europe", CTGrowthPct: 14, GenAIGrowthPct: 116},
	})
	var dz *types.DivisionByZeroError
	require.True(t, errors.As(err, &dz))
	assert.Equal(t, "Flat", dz.Key)
	assert.False(t, rows[0].Ratio.Valid)
	assert.True(t, rows[1].Ratio.Valid)
}

func TestRegionalPanel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regional.csv")
	require.NoError(t, os.WriteFile(path, []byte(regionalCSV+"Flat,5,0,none\n"), 0o644))
	recs, err := LoadRegionalGrowth(path)
	require.NoError(t, err)
	rows, err := RegionalRatio(recs)
	require.Error(t, err)

	pn := RegionalPanel(rows)
	assert.Equal(t, []string{
		"Latin America", "Middle East & North Africa", "Europe",
		"North America", "Asia Pacific", "Sub-Saharan Africa", "Flat",
	}, pn.Categories)
	require.Len(t, pn.Bars, 2)
	assert.Equal(t, []float64{194, 19, 14, 15, 12, 6, 5}, pn.Bars[0].Values)
	assert.Equal(t, []float64{425, 128, 116, 135, 132, 134, 0}, pn.Bars[1].Values)

	var notes []string
	for _, n := range pn.Notes {
		notes = append(notes, n.Text)
	}
	assert.Equal(t, []string{"0.46 (2.2x)", "0.15", "0.12", "0.11", "0.09", "0.04 (22.3x)"}, notes)
	assert.Equal(t, chart.Note{X: 0, Y: 445, Text: "0.46 (2.2x)"}, pn.Notes[0])
	assert.Equal(t, 5.0, pn.Notes[5].X)
	assert.Equal(t, 154.0, pn.Notes[5].Y)

	assert.Empty(t, RegionalPanel(nil).Categories)
}

func TestConcentrationAndResearchIndex(t *testing.T) {
	var cs []Country
	for i, p := range []int{0, 9, 99, 9, 3} {
		cs = append(cs, Country{DevelopmentIndexRecord: idx(fmt.Sprintf("C%d", i), 0.5), Publications: p})
	}
	s := Concentration(cs, 2)
	assert.Equal(t, 108, s.Publications)
	assert.Equal(t, 120, s.Total)
	assert.InDelta(t, 90, s.Pct.Value, 1e-12)

	top := TopCountries(cs, 3)
	assert.Equal(t, []string{"C2", "C1", "C3"}, []string{top[0].CountryCode, top[1].CountryCode, top[2].CountryCode})

	ri := ResearchIndex(cs)
	assert.Equal(t, []float64{0, 50, 100, 50, 30.1}, ri)

	assert.False(t, Concentration(nil, 5).Pct.Valid)
	assert.Equal(t, []float64{0}, ResearchIndex([]Country{{}}))
}

func TestCorrelate(t *testing.T) {
	var cs []Country
	for i, p := range []int{1, 3, 2, 10, 40} {
		cs = append(cs, Country{DevelopmentIndexRecord: idx(fmt.Sprintf("C%d", i), 0.4+0.1*float64(i)), Publications: p})
	}
	c, err := Correlate(cs)
	require.NoError(t, err)
	assert.Equal(t, 5, c.PearsonRaw.N)
	assert.InDelta(t, 0.9, c.SpearmanRaw.R, 1e-12)
	assert.True(t, c.PearsonLog.R > 0)
	assert.False(t, math.IsNaN(c.PearsonRaw.P))

	_, err = Correlate(cs[:2])
	assert.Error(t, err)
}

func TestISO3(t *testing.T) {
	for in, want := range map[string]string{
		"US":  "USA",
		"de":  "DEU",
		"NG":  "NGA",
		"ZZ":  "",
		"":    "",
		"USA": "",
	} {
		assert.Equal(t, want, ISO3(in), in)
	}
}

func TestCountryPublications(t *testing.T) {
	resp := &openalex.GroupByResponse{GroupBy: []openalex.Group{
		{Key: "https://openalex.org/countries/US", KeyDisplayName: "United States", Count: 12},
		{Key: "https://openalex.org/countries/ZZ", KeyDisplayName: "Unknown", Count: 1},
	}}
	got := CountryPublications(resp)
	want := []types.CountryPublication{
		{CountryCode: "USA", ISO2: "US", Name: "United States", PublicationCount: 12},
		{CountryCode: "", ISO2: "ZZ", Name: "Unknown", PublicationCount: 1},
	}
	assert.Equal(t, want, got)
}

// undpCSV is Latin-1 encoded, as published.
var undpCSV = "iso3,country,hdicode,region,hdi_rank_2022,hdi_2021,hdi_2022\n" +
	"NOR,Norway,Very High,,1,0.961,0.966\n" +
	"CIV,C\xf4te d'Ivoire,Low,SSA,166,0.534,0.534\n" +
	"IND,India,Medium,SA,134,0.633,0.644\n" +
	"NGA,Nigeria,Low,SSA,161,0.535,0.548\n" +
	"SOM,Somalia,,SSA,,,\n" +
	"ZZA.VHHD,Very high human development,,,,0.896,0.902\n"

func TestLoadDevelopmentIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdr.csv")
	require.NoError(t, os.WriteFile(path, []byte(undpCSV), 0o644))
	logger, h := testLogger()

	recs, err := LoadDevelopmentIndex(path, 2022, thresholds, logger)
	require.NoError(t, err)
	want := []types.DevelopmentIndexRecord{
		{CountryCode: "NOR", Country: "Norway", IndexValue: 0.966, Tier: types.TierVeryHigh},
		{CountryCode: "CIV", Country: "Côte d'Ivoire", IndexValue: 0.534, Tier: types.TierLow},
		{CountryCode: "IND", Country: "India", IndexValue: 0.644, Tier: types.TierMedium},
		{CountryCode: "NGA", Country: "Nigeria", IndexValue: 0.548, Tier: types.TierLow},
	}
	assert.Equal(t, want, recs)

	var warned bool
	for _, e := range h.Entries {
		if e.Level == log.WarnLevel {
			warned = true
			assert.Equal(t, 1, e.Fields["missing"])
		}
	}
	assert.True(t, warned)

	recs2021, err := LoadDevelopmentIndex(path, 2021, thresholds, logger)
	require.NoError(t, err)
	assert.Len(t, recs2021, 4)
}

func TestLoadDevelopmentIndexErrors(t *testing.T) {
	logger, _ := testLogger()
	dir := t.TempDir()

	path := filepath.Join(dir, "nohdi.csv")
	require.NoError(t, os.WriteFile(path, []byte("iso3,country,hdicode\nNOR,Norway,Very High\n"), 0o644))
	_, err := LoadDevelopmentIndex(path, 2022, thresholds, logger)
	var pe *types.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "hdi_2022", pe.Field)

	path = filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("iso3,country,hdicode,hdi_2022\nNOR,Norway,Very High,high\n"), 0o644))
	_, err = LoadDevelopmentIndex(path, 2022, thresholds, logger)
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)

	_, err = LoadDevelopmentIndex(filepath.Join(dir, "missing.csv"), 2022, thresholds, logger)
	assert.Error(t, err)
}

const regionalCSV = `Region,CT_Growth,GenAI_Growth,Source
Europe,14,116,Coursera Global Skills Report 2025 p.33
North America,15,135,Coursera Global Skills Report 2025 p.57
Asia Pacific,12,132,Coursera Global Skills Report 2025 p.21
Latin America,194,425,Coursera Global Skills Report 2025 p.41
Middle East & North Africa,19,128,Coursera Global Skills Report 2025 p.49
Sub-Saharan Africa,6,134,Coursera Global Skills Report 2025 p.63
`

func TestLoadRegionalGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regional.csv")
	require.NoError(t, os.WriteFile(path, []byte(regionalCSV), 0o644))
	recs, err := LoadRegionalGrowth(path)
	require.NoError(t, err)
	require.Len(t, recs, 6)
	assert.Equal(t, types.RegionalGrowthRecord{Region: "Latin America", CTGrowthPct: 194, GenAIGrowthPct: 425, Source: "Coursera Global Skills Report 2025 p.41"}, recs[3])

	require.NoError(t, os.WriteFile(path, []byte("Region,CT_Growth,GenAI_Growth\nEurope,,116\n"), 0o644))
	_, err = LoadRegionalGrowth(path)
	var pe *types.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "CT_Growth", pe.Field)
}

func testConfig(t *testing.T) types.PipelineConfig {
	t.Helper()
	root := t.TempDir()
	cfg := types.DefaultConfig()
	cfg.Paths = types.PathsConfig{
		RawDir:       filepath.Join(root, "raw"),
		ReferenceDir: filepath.Join(root, "reference"),
		ProcessedDir: filepath.Join(root, "processed"),
		FiguresDir:   filepath.Join(root, "figures"),
	}
	require.NoError(t, os.MkdirAll(cfg.Paths.RawDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Paths.ReferenceDir, 0o755))

	resp := openalex.GroupByResponse{GroupBy: []openalex.Group{
		{Key: "https://openalex.org/countries/US", KeyDisplayName: "United States", Count: 100},
		{Key: "https://openalex.org/countries/DE", KeyDisplayName: "Germany", Count: 50},
		{Key: "https://openalex.org/countries/IN", KeyDisplayName: "India", Count: 30},
		{Key: "https://openalex.org/countries/BR", KeyDisplayName: "Brazil", Count: 20},
		{Key: "https://openalex.org/countries/NG", KeyDisplayName: "Nigeria", Count: 5},
		{Key: "https://openalex.org/countries/GB", KeyDisplayName: "United Kingdom", Count: 3},
		{Key: "https://openalex.org/countries/ZZ", KeyDisplayName: "Unknown", Count: 2},
	}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.RawDir, CountryPrefix+"_2026-01-23.json"), data, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.RawDir, cfg.Stratification.HDIFile), []byte(hdrFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.ReferenceDir, cfg.Stratification.RegionalFile), []byte(regionalCSV), 0o644))
	return cfg
}

const hdrFixture = "iso3,country,hdicode,hdi_2022\n" +
	"USA,United States,Very High,0.927\n" +
	"DEU,Germany,Very High,0.95\n" +
	"FRA,France,Very High,0.91\n" +
	"BRA,Brazil,High,0.76\n" +
	"IND,India,Medium,0.644\n" +
	"NGA,Nigeria,Low,0.548\n" +
	"TCD,Chad,Low,0.394\n"

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	logger, h := testLogger()

	res, err := Run(t.Context(), cfg, Options{}, logger)
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Inputs, 3)
	assert.Len(t, res.Outputs, 6)
	assert.Equal(t, filepath.Join(cfg.Paths.FiguresDir, RegionalFigureFile), res.Outputs[5])
	assert.Len(t, res.Join.Countries, 7)
	assert.Len(t, res.Join.Unmatched, 2)
	assert.Equal(t, 30.0, res.Gap.TotalsRatio.Value)
	assert.Equal(t, 20.0, res.Gap.PerCountryRatio.Value)

	var warnings int
	for _, e := range h.Entries {
		if e.Message == "publication row has no development index entry; dropped" {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)

	assert.Equal(t, []string{
		"HDI_Category,HDI_Mean,Total_Pubs,Country_Count,Avg_Pubs,Median_Pubs,Ratio_to_VeryHigh",
		"Very High,0.93,150,3,50,50,1",
		"High,0.76,20,1,20,20,0.13",
		"Medium,0.64,30,1,30,30,0.2",
		"Low,0.47,5,2,2.5,2.5,0.03",
	}, readLines(t, filepath.Join(cfg.Paths.ProcessedDir, TierFile)))

	countries := readLines(t, filepath.Join(cfg.Paths.ProcessedDir, CountryFile))
	require.Len(t, countries, 8)
	assert.True(t, strings.HasPrefix(countries[1], "USA,United States,0.927,Very High,100,United States,US,"), countries[1])
	assert.True(t, strings.HasPrefix(countries[3], "FRA,France,0.91,Very High,0,,,0,0"), countries[3])

	regional := readLines(t, filepath.Join(cfg.Paths.ProcessedDir, RegionalFile))
	assert.Equal(t, "Latin America,194,425,0.46,Coursera Global Skills Report 2025 p.41", regional[4])
	assert.Equal(t, "Sub-Saharan Africa,6,134,0.04,Coursera Global Skills Report 2025 p.63", regional[6])

	stats := strings.Join(readLines(t, filepath.Join(cfg.Paths.ProcessedDir, KeyStatsFile)), "\n")
	assert.Contains(t, stats, "total_publications,205")
	assert.Contains(t, stats, "top5_share_pct,100")
	assert.Contains(t, stats, "hdi_tier_gap_total,30")
	assert.Contains(t, stats, "n_countries_hdi,7")
	assert.Contains(t, stats, "unmatched_publications,5")
}

func TestRunIdempotent(t *testing.T) {
	cfg := testConfig(t)
	logger, _ := testLogger()
	files := []string{CountryFile, TierFile, KeyStatsFile, RegionalFile}
	read := func() [][]byte {
		var out [][]byte
		for _, f := range files {
			data, err := os.ReadFile(filepath.Join(cfg.Paths.ProcessedDir, f))
			require.NoError(t, err)
			out = append(out, data)
		}
		return out
	}
	_, err := Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	require.NoError(t, err)
	first := read()
	_, err = Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	require.NoError(t, err)
	for i, b := range read() {
		assert.True(t, bytes.Equal(first[i], b), files[i])
	}
}

func TestRunDownloadsIndex(t *testing.T) {
	cfg := testConfig(t)
	hdi := filepath.Join(cfg.Paths.RawDir, cfg.Stratification.HDIFile)
	require.NoError(t, os.Remove(hdi))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hdrFixture)
	}))
	defer ts.Close()
	cfg.Stratification.HDIURL = ts.URL + "/hdr.csv"
	logger, _ := testLogger()

	_, err := Run(t.Context(), cfg, Options{SkipFigure: true}, logger)
	assert.Error(t, err, "no client, no download")

	res, err := Run(t.Context(), cfg, Options{HTTP: ts.Client(), SkipFigure: true}, logger)
	require.NoError(t, err)
	assert.Len(t, res.Join.Countries, 7)
	_, err = os.Stat(hdi)
	assert.NoError(t, err)
}
