// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/resurgence/internal/biblio"
	"github.com/pdiddy/resurgence/internal/chart"
	"github.com/pdiddy/resurgence/internal/participation"
	"github.com/pdiddy/resurgence/internal/stratify"
	"github.com/pdiddy/resurgence/internal/trend"
	"github.com/pdiddy/resurgence/pkg/types"
)

var fixtures = map[string]string{
	trend.AnalysisFile: "Language,Pre_Median,Post_Median,Effect_Pct,Mann_Whitney_U,MW_P_Value,Slope_Pre,Slope_Change,Slope_Post,R_Squared,Slope_Change_P_HAC,Pre_AbsDiff_Mean,Post_AbsDiff_Mean,Volatility_Ratio\n" +
		"Spanish,52,67,28.8,120,1.2e-08,0.1,0.25,0.35,0.8,0.001,2.1,3.4,1.619\n" +
		"German,40,,,,,,,,,,,,\n",
	biblio.TableFile: "Year,CT_AI_Pubs,GenAI_Ed_Pubs,Total_AI_Pubs,Critical_Ratio,Critical_Ratio_per_10k,CT_AI_YoY,GenAI_Ed_YoY,CT_AI_zscore,Burst\n" +
		"2021,70,9,,,,,,-0.9,No\n" +
		"2022,83,17,,,0.46,,,-0.5,No\n" +
		"2023,200,379,,,0.74,140.96,2129.41,0.1,No\n",
	biblio.BreakFile: "Metric,Value\nacceleration_factor,3.315845\nratio_change_2022_2024,61.35\n",
	participation.SummaryFile: "Metric,Value,Source\n" +
		"Total Contributors (unique authors),50,dataset\n" +
		"Total Notes,1000,dataset\n" +
		"Raw monthly notes growth (%),33,computed\n" +
		"Pre avg monthly notes,300.0,computed\n" +
		"Post avg monthly notes,400.0,computed\n" +
		"Pre avg active authors,20.0,computed\n" +
		"Post avg active authors,,computed\n" +
		"Pre avg notes per active author,0,computed\n" +
		"Post avg notes per active author,1.5,computed\n" +
		"Time-to-first-note change (%),,computed\n",
	stratify.KeyStatsFile: "Metric,Value\n" +
		"total_publications,1700\n" +
		"top5_share_pct,61.2\n" +
		"hdi_tier_gap_total,11.840336134453782\n" +
		"hdi_tier_gap_per_country,5.663\n" +
		"pearson_r_log,0.61\n" +
		"spearman_r_raw,0.58\n" +
		"n_countries_hdi,180\n",
	stratify.RegionalFile: "Region,CT_Growth,GenAI_Growth,CT_GenAI_Ratio,Source\n" +
		"Europe,14,116,0.12,p. 33\n" +
		"Latin America,194,425,0.46,p. 41\n",
}

func writeFixtures(t *testing.T, skip ...string) string {
	t.Helper()
	dir := t.TempDir()
	skipped := make(map[string]bool)
	for _, s := range skip {
		skipped[s] = true
	}
	for name, content := range fixtures {
		if skipped[name] {
			continue
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func testLogger() (log.Interface, *memory.Handler) {
	h := memory.New()
	return &log.Logger{Handler: h, Level: log.DebugLevel}, h
}

func TestBuild(t *testing.T) {
	dir := writeFixtures(t)
	logger, _ := testLogger()

	s, err := Build(dir, DefaultOptions, logger)
	require.NoError(t, err)
	assert.Empty(t, s.Missing)
	assert.Len(t, s.Sources, 6)

	require.NotNil(t, s.Trends)
	require.Len(t, s.Trends.Languages, 2)
	assert.Equal(t, 28.8, *s.Trends.Languages[0].EffectPct)
	assert.Nil(t, s.Trends.Languages[1].PostMedian)
	assert.Equal(t, 0.001, *s.Trends.Languages[0].SlopeChangeP)

	require.NotNil(t, s.Bibliometrics)
	assert.Equal(t, 200.0, *s.Bibliometrics.TopicPubs)
	assert.Equal(t, 2129.41, *s.Bibliometrics.ComparisonYoYPct)
	assert.Equal(t, "2022_2024", s.Bibliometrics.RatioChangeLabel)
	assert.Equal(t, 61.35, *s.Bibliometrics.RatioChange)
	assert.Equal(t, []YearValue{{2022, 0.46}, {2023, 0.74}}, s.Bibliometrics.RatioPer10k)

	require.NotNil(t, s.Participation)
	assert.Equal(t, 1000.0, *s.Participation.TotalNotes)
	assert.Nil(t, s.Participation.ResponseChangePct)
	assert.Nil(t, s.Participation.AuthorsGrowthPct)
	assert.Equal(t, 400.0, *s.Participation.PostNotes)
	assert.Nil(t, s.Participation.PostAuthors)

	require.NotNil(t, s.Stratification)
	assert.Equal(t, 180.0, *s.Stratification.Countries)
	assert.Equal(t, 0.46, *s.Stratification.RegionalRatio)
}

func TestBuildPartial(t *testing.T) {
	dir := writeFixtures(t, participation.SummaryFile, biblio.BreakFile)
	logger, h := testLogger()

	s, err := Build(dir, DefaultOptions, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"bibliometrics", "participation"}, s.Missing)
	assert.Nil(t, s.Bibliometrics)
	assert.Nil(t, s.Participation)
	assert.NotNil(t, s.Trends)
	assert.NotNil(t, s.Stratification)

	warnings := 0
	for _, e := range h.Entries {
		if e.Level == log.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
	assert.Contains(t, Markdown(s), "Not available: bibliometrics, participation.")
}

func TestBuildErrors(t *testing.T) {
	logger, _ := testLogger()

	dir := writeFixtures(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, stratify.KeyStatsFile), []byte("Metric,Value\npearson_r_log,high\n"), 0o644))
	_, err := Build(dir, DefaultOptions, logger)
	var pe *types.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "pearson_r_log", pe.Field)

	dir = writeFixtures(t)
	_, err = Build(dir, Options{Year: 1999, Region: "Latin America"}, logger)
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Year", pe.Field)
}

func TestMarkdown(t *testing.T) {
	logger, _ := testLogger()
	s, err := Build(writeFixtures(t), DefaultOptions, logger)
	require.NoError(t, err)

	text := Markdown(s)
	for _, want := range []string{
		"## Layer 1: search interest",
		"| Spanish | 52.0 | 67.0 | 28.8 | 1.2e-08 | 0.2500 |",
		"| German | 40.0 | n/a | n/a | n/a | n/a |",
		"| Critical thinking + AI publications (2023) | 200 |",
		"| Acceleration factor | 3.32 |",
		"Normalized ratio change 2022 to 2024 (%)",
		"| Time-to-first-note change (%) | n/a |",
		"| Very High / Low tier output | 11.8x |",
		"| Latin America critical thinking / GenAI growth | 0.46 |",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "Not available")
}

func TestWrite(t *testing.T) {
	logger, _ := testLogger()
	dir := writeFixtures(t)
	s, err := Build(dir, DefaultOptions, logger)
	require.NoError(t, err)

	out := t.TempDir()
	paths, err := Write(out, s)
	require.NoError(t, err)
	require.Len(t, paths, 3)

	page, err := os.ReadFile(filepath.Join(out, HTMLFile))
	require.NoError(t, err)
	assert.Contains(t, string(page), "<table>")
	assert.Contains(t, string(page), "<h2>Layer 4: stratification</h2>")

	data, err := os.ReadFile(filepath.Join(out, YAMLFile))
	require.NoError(t, err)
	var back Summary
	require.NoError(t, yaml.Unmarshal(data, &back))
	assert.Equal(t, *s.Stratification.TierGapTotal, *back.Stratification.TierGapTotal)
	assert.Nil(t, back.Participation.ResponseChangePct)

	first := [][]byte{data, page}
	_, err = Write(out, s)
	require.NoError(t, err)
	again, err := os.ReadFile(filepath.Join(out, YAMLFile))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first[0], again))
}

func TestPanels(t *testing.T) {
	logger, _ := testLogger()
	s, err := Build(writeFixtures(t), DefaultOptions, logger)
	require.NoError(t, err)

	panels := Panels(s)
	require.Len(t, panels, 4)

	trends := panels[0]
	assert.Equal(t, []string{"Spanish", "German"}, trends.Categories)
	require.Len(t, trends.Bars, 1)
	assert.Equal(t, 0.25, trends.Bars[0].Values[0])
	assert.True(t, math.IsNaN(trends.Bars[0].Values[1]))
	assert.Equal(t, []chart.Note{{X: 0, Y: 0.25, Text: "+0.250 (p = 0.001)"}}, trends.Notes)

	pubs := panels[1]
	require.Len(t, pubs.Lines, 1)
	assert.Equal(t, []float64{2022, 2023}, pubs.Lines[0].X)
	assert.Equal(t, []float64{0.46, 0.74}, pubs.Lines[0].Y)
	assert.Equal(t, []float64{2022.5}, pubs.Markers)
	assert.Empty(t, pubs.Text)

	assert.Equal(t, []string{
		"Monthly notes: 300.0 -> 400.0 (+33%)",
		"Active authors / month: n/a",
		"Notes per active author: 0.00 -> 1.50",
		"Median hours to first note: n/a",
		"1000 notes by 50 contributors",
	}, panels[2].Text)

	assert.Equal(t, []string{
		"Very High / Low tier output: 11.8x",
		"Very High / Low per-country output: 5.7x",
		"Latin America critical thinking / GenAI growth: 0.46",
		"Top-5 country share: 61.2%",
		"Pearson r (index vs log output): 0.61",
	}, panels[3].Text)
}

func TestPanelsMissingLayers(t *testing.T) {
	panels := Panels(&Summary{Bibliometrics: &BibliometricSummary{Year: 2023}})
	require.Len(t, panels, 4)
	for _, i := range []int{0, 2, 3} {
		assert.Equal(t, []string{"Not available"}, panels[i].Text, panels[i].Title)
	}
	assert.Equal(t, []string{
		"Critical thinking + AI publications (2023): n/a",
		"GenAI + education publications (2023): n/a",
		"Acceleration factor: n/a",
	}, panels[1].Text)
}

func TestWriteFigure(t *testing.T) {
	logger, _ := testLogger()
	s, err := Build(writeFixtures(t, participation.SummaryFile), DefaultOptions, logger)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "figures", FigureFile)
	require.NoError(t, WriteFigure(path, s))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}
