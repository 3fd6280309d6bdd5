// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"
	"math"

	"github.com/pdiddy/resurgence/internal/chart"
)

// FigureFile is the four-layer synthesis figure.
const FigureFile = "four_layer_synthesis.png"

// WriteFigure renders the synthesis figure of s to path as a 2x2 grid.
func WriteFigure(path string, s *Summary) error {
	return chart.Grid(path, 2, Panels(s))
}

// Panels returns one panel per layer in layer order. A layer missing from
// s is a text panel saying so.
func Panels(s *Summary) []chart.Panel {
	return []chart.Panel{
		trendPanel(s.Trends),
		biblioPanel(s.Bibliometrics),
		participationPanel(s.Participation),
		stratificationPanel(s.Stratification),
	}
}

const (
	trendTitle          = "Layer 1: search interest"
	biblioTitle         = "Layer 2: publications"
	participationTitle  = "Layer 3: participation"
	stratificationTitle = "Layer 4: stratification"
)

func unavailable(title string) chart.Panel {
	return chart.Panel{Title: title, Text: []string{"Not available"}}
}

func trendPanel(ts *TrendSummary) chart.Panel {
	if ts == nil || len(ts.Languages) == 0 {
		return unavailable(trendTitle)
	}
	pn := chart.Panel{
		Title:  trendTitle + " (slope change at break)",
		YLabel: "Slope change (index points / month)",
		Bars:   []chart.Bars{{}},
	}
	for i, l := range ts.Languages {
		pn.Categories = append(pn.Categories, l.Language)
		v := math.NaN()
		if l.SlopeChange != nil {
			v = *l.SlopeChange
			pn.Notes = append(pn.Notes, chart.Note{X: float64(i), Y: v, Text: fmt.Sprintf("%+.3f (%s)", v, pLabel(l.SlopeChangeP))})
		}
		pn.Bars[0].Values = append(pn.Bars[0].Values, v)
	}
	return pn
}

func pLabel(p *float64) string {
	switch {
	case p == nil:
		return "p n/a"
	case *p < 0.001:
		return "p < .001"
	default:
		return fmt.Sprintf("p = %.3f", *p)
	}
}

func biblioPanel(bs *BibliometricSummary) chart.Panel {
	if bs == nil {
		return unavailable(biblioTitle)
	}
	if len(bs.RatioPer10k) == 0 {
		return chart.Panel{Title: biblioTitle, Text: []string{
			fmt.Sprintf("Critical thinking + AI publications (%d): %s", bs.Year, num(bs.TopicPubs, 0)),
			fmt.Sprintf("GenAI + education publications (%d): %s", bs.Year, num(bs.ComparisonPubs, 0)),
			"Acceleration factor: " + times(bs.AccelerationFactor, 2),
		}}
	}
	ln := chart.Line{Label: "Critical thinking per 10,000 AI papers"}
	for _, p := range bs.RatioPer10k {
		ln.X = append(ln.X, float64(p.Year))
		ln.Y = append(ln.Y, p.Value)
	}
	return chart.Panel{
		Title:   biblioTitle + " (normalized ratio)",
		XLabel:  "Year",
		YLabel:  "Per 10,000 AI papers",
		Lines:   []chart.Line{ln},
		Points:  []chart.Line{{X: ln.X, Y: ln.Y}},
		Markers: []float64{float64(bs.Year) - 0.5},
	}
}

func participationPanel(ps *ParticipationSummary) chart.Panel {
	if ps == nil {
		return unavailable(participationTitle)
	}
	return chart.Panel{Title: participationTitle + " (pre -> post)", Text: []string{
		prePost("Monthly notes", ps.PreNotes, ps.PostNotes, 1),
		prePost("Active authors / month", ps.PreAuthors, ps.PostAuthors, 1),
		prePost("Notes per active author", ps.PreNotesPerAuthor, ps.PostNotesPerAuthor, 2),
		prePost("Median hours to first note", ps.PreMedianHours, ps.PostMedianHours, 1),
		fmt.Sprintf("%s notes by %s contributors", num(ps.TotalNotes, 0), num(ps.Contributors, 0)),
	}}
}

// prePost formats "label: pre -> post (+x%)". The change is left out when
// pre is zero.
func prePost(label string, pre, post *float64, places int) string {
	if pre == nil || post == nil {
		return label + ": n/a"
	}
	s := fmt.Sprintf("%s: %s -> %s", label, num(pre, places), num(post, places))
	if *pre != 0 {
		pct := (*post - *pre) / *pre * 100
		s += fmt.Sprintf(" (%+.0f%%)", pct)
	}
	return s
}

func stratificationPanel(ss *StratificationSummary) chart.Panel {
	if ss == nil {
		return unavailable(stratificationTitle)
	}
	return chart.Panel{Title: stratificationTitle, Text: []string{
		"Very High / Low tier output: " + times(ss.TierGapTotal, 1),
		"Very High / Low per-country output: " + times(ss.TierGapPerCountry, 1),
		ss.Region + " critical thinking / GenAI growth: " + num(ss.RegionalRatio, 2),
		"Top-5 country share: " + num(ss.Top5SharePct, 1) + "%",
		"Pearson r (index vs log output): " + num(ss.PearsonLog, 2),
	}}
}
