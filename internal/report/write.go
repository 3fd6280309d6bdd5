// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/resurgence/internal/tabular"
)

// Output files.
const (
	YAMLFile     = "summary.yaml"
	MarkdownFile = "summary.md"
	HTMLFile     = "summary.html"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Write renders s into dir as YAML, Markdown and HTML and returns the paths
// written.
func Write(dir string, s *Summary) ([]string, error) {
	var y bytes.Buffer
	enc := yaml.NewEncoder(&y)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("marshaling YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshaling YAML: %w", err)
	}

	text := Markdown(s)
	page, err := HTML(text)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, out := range []struct {
		name string
		data []byte
	}{
		{YAMLFile, y.Bytes()},
		{MarkdownFile, []byte(text)},
		{HTMLFile, page},
	} {
		p := filepath.Join(dir, out.name)
		if err := tabular.WriteAtomic(p, bytes.NewReader(out.data)); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Markdown renders s as a Markdown document with one section per layer.
func Markdown(s *Summary) string {
	var b strings.Builder
	b.WriteString("# Key statistics\n\n")

	if t := s.Trends; t != nil {
		b.WriteString("## Layer 1: search interest\n\n")
		b.WriteString("| Language | Pre median | Post median | Effect (%) | Mann-Whitney p | Slope change |\n")
		b.WriteString("|---|---:|---:|---:|---:|---:|\n")
		for _, l := range t.Languages {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
				l.Language, num(l.PreMedian, 1), num(l.PostMedian, 1), num(l.EffectPct, 1), sci(l.PValue), num(l.SlopeChange, 4))
		}
		b.WriteString("\n")
	}

	if bs := s.Bibliometrics; bs != nil {
		b.WriteString("## Layer 2: publications\n\n")
		rows := [][2]string{
			{fmt.Sprintf("Critical thinking + AI publications (%d)", bs.Year), num(bs.TopicPubs, 0)},
			{fmt.Sprintf("GenAI + education publications (%d)", bs.Year), num(bs.ComparisonPubs, 0)},
			{"Critical thinking + AI growth (%)", num(bs.TopicYoYPct, 1)},
			{"GenAI + education growth (%)", num(bs.ComparisonYoYPct, 1)},
			{"Acceleration factor", num(bs.AccelerationFactor, 2)},
		}
		if bs.RatioChangeLabel != "" {
			rows = append(rows, [2]string{"Normalized ratio change " + strings.ReplaceAll(bs.RatioChangeLabel, "_", " to ") + " (%)", num(bs.RatioChange, 1)})
		}
		table(&b, rows)
	}

	if ps := s.Participation; ps != nil {
		b.WriteString("## Layer 3: participation\n\n")
		table(&b, [][2]string{
			{"Notes", num(ps.TotalNotes, 0)},
			{"Contributors", num(ps.Contributors, 0)},
			{"Monthly notes growth (%)", num(ps.NotesGrowthPct, 0)},
			{"Active authors growth (%)", num(ps.AuthorsGrowthPct, 0)},
			{"Notes per author growth (%)", num(ps.PerAuthorGrowth, 0)},
			{"Time-to-first-note change (%)", num(ps.ResponseChangePct, 0)},
		})
	}

	if ss := s.Stratification; ss != nil {
		b.WriteString("## Layer 4: stratification\n\n")
		table(&b, [][2]string{
			{"Very High / Low tier output", times(ss.TierGapTotal, 1)},
			{"Very High / Low per-country output", times(ss.TierGapPerCountry, 2)},
			{"Pearson r (index vs log output)", num(ss.PearsonLog, 3)},
			{"Spearman r (index vs output)", num(ss.SpearmanRaw, 3)},
			{"Top-5 country share (%)", num(ss.Top5SharePct, 1)},
			{"Countries", num(ss.Countries, 0)},
			{ss.Region + " critical thinking / GenAI growth", num(ss.RegionalRatio, 2)},
		})
	}

	if len(s.Missing) > 0 {
		fmt.Fprintf(&b, "Not available: %s.\n\n", strings.Join(s.Missing, ", "))
	}
	return b.String()
}

func table(b *strings.Builder, rows [][2]string) {
	b.WriteString("| Metric | Value |\n|---|---:|\n")
	for _, r := range rows {
		fmt.Fprintf(b, "| %s | %s |\n", r[0], r[1])
	}
	b.WriteString("\n")
}

func num(v *float64, places int) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(tabular.Round(*v, places), 'f', places, 64)
}

func times(v *float64, places int) string {
	if v == nil {
		return "n/a"
	}
	return num(v, places) + "x"
}

func sci(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return strconv.FormatFloat(*v, 'g', 3, 64)
}

// HTML converts the Markdown summary into a standalone page.
func HTML(text string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(text), &body); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Key statistics</title>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}
