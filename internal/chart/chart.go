// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package chart renders the multi-panel PNG figures for each pipeline.
//
// A figure is a grid of panels. Each panel holds any mix of line series,
// scatter points, vertical markers and text notes, a grouped bar chart over
// named categories, or plain lines of text. Time axes take unix seconds (see
// TimeX) and are labelled by month.
package chart

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Line is a line or scatter series. Non-finite points are skipped.
type Line struct {
	Label  string
	X, Y   []float64
	Dashed bool

	// Faint draws the series thin, for raw data under a smoothed line.
	Faint bool

	// Color indexes the plotutil palette; series in a panel default to
	// their position.
	Color int
}

// Note is a text label drawn at a data position. On a bar panel, category
// i sits at X = i.
type Note struct {
	X, Y float64
	Text string
}

// Bars is one group of a grouped bar chart.
type Bars struct {
	Label  string
	Values []float64
}

// Panel is one cell of the figure grid.
type Panel struct {
	Title  string
	XLabel string
	YLabel string

	Lines  []Line
	Points []Line

	// Bars and Categories draw a grouped bar chart. Categories label the
	// X axis and must match the length of every Bars.Values.
	Bars       []Bars
	Categories []string

	// Markers are x positions of dashed vertical reference lines.
	Markers []float64

	// TimeAxis formats X ticks as months.
	TimeAxis bool

	// LogY draws the Y axis on a log scale. Non-positive values are skipped.
	LogY bool

	Notes []Note

	// Text turns the panel into a block of text lines with no axes. All
	// other content is ignored.
	Text []string
}

// Size of one panel in the grid.
var (
	PanelWidth  = 7 * vg.Inch
	PanelHeight = 5 * vg.Inch
)

// TimeX converts instants to unix seconds for a time axis.
func TimeX(ts []time.Time) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = float64(t.Unix())
	}
	return out
}

// RollingMean returns the trailing mean over window points. The first
// window-1 values are NaN and are skipped when drawn.
func RollingMean(ys []float64, window int) []float64 {
	out := make([]float64, len(ys))
	var sum float64
	for i, y := range ys {
		sum += y
		if i >= window {
			sum -= ys[i-window]
		}
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(window)
	}
	return out
}

// Grid renders panels row by row, cols per row, and writes a PNG to path.
func Grid(path string, cols int, panels []Panel) error {
	if len(panels) == 0 {
		return errors.New("chart: no panels")
	}
	if cols <= 0 {
		cols = 1
	}
	rows := (len(panels) + cols - 1) / cols

	plots := make([][]*plot.Plot, rows)
	for r := range plots {
		plots[r] = make([]*plot.Plot, cols)
	}
	for i, pn := range panels {
		p, err := build(pn)
		if err != nil {
			return fmt.Errorf("chart: panel %q: %w", pn.Title, err)
		}
		plots[i/cols][i%cols] = p
	}
	for r := range plots {
		for c := range plots[r] {
			if plots[r][c] == nil {
				blank := plot.New()
				blank.HideAxes()
				plots[r][c] = blank
			}
		}
	}

	img := vgimg.New(PanelWidth*vg.Length(cols), PanelHeight*vg.Length(rows))
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      rows,
		Cols:      cols,
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		for c := range plots[r] {
			plots[r][c].Draw(canvases[r][c])
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("chart: creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("chart: writing %s: %w", path, err)
	}
	return f.Close()
}

func build(pn Panel) (*plot.Plot, error) {
	if len(pn.Text) > 0 {
		return textPanel(pn)
	}
	p := plot.New()
	p.Title.Text = pn.Title
	p.X.Label.Text = pn.XLabel
	p.Y.Label.Text = pn.YLabel
	p.Add(plotter.NewGrid())
	if pn.TimeAxis {
		p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01"}
	}
	if pn.LogY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	if len(pn.Bars) > 0 {
		if err := addBars(p, pn); err != nil {
			return nil, err
		}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for i, ln := range pn.Lines {
		xys := finite(ln.X, ln.Y, pn.LogY, &lo, &hi)
		if len(xys) == 0 {
			continue
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		idx := ln.Color
		if idx == 0 {
			idx = i
		}
		l.LineStyle.Color = plotutil.Color(idx)
		l.LineStyle.Width = vg.Points(2)
		if ln.Faint {
			l.LineStyle.Width = vg.Points(0.75)
		}
		if ln.Dashed {
			l.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
		}
		p.Add(l)
		if ln.Label != "" {
			p.Legend.Add(ln.Label, l)
		}
	}

	for i, pts := range pn.Points {
		xys := finite(pts.X, pts.Y, pn.LogY, &lo, &hi)
		if len(xys) == 0 {
			continue
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(i + len(pn.Lines))
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		if pts.Label != "" {
			p.Legend.Add(pts.Label, s)
		}
	}

	if len(pn.Markers) > 0 && lo <= hi {
		for _, x := range pn.Markers {
			m, err := plotter.NewLine(plotter.XYs{{X: x, Y: lo}, {X: x, Y: hi}})
			if err != nil {
				return nil, err
			}
			m.LineStyle.Color = plotutil.Color(0)
			m.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
			p.Add(m)
		}
	}
	if len(pn.Notes) > 0 {
		labels := plotter.XYLabels{}
		for _, n := range pn.Notes {
			labels.XYs = append(labels.XYs, plotter.XY{X: n.X, Y: n.Y})
			labels.Labels = append(labels.Labels, n.Text)
		}
		l, err := plotter.NewLabels(labels)
		if err != nil {
			return nil, err
		}
		for i := range l.TextStyle {
			l.TextStyle[i].XAlign = text.XCenter
		}
		p.Add(l)
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

// textPanel lays the lines out top to bottom on a hidden unit square.
func textPanel(pn Panel) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = pn.Title
	p.HideAxes()
	n := len(pn.Text)
	labels := plotter.XYLabels{XYs: make(plotter.XYs, n), Labels: pn.Text}
	for i := range pn.Text {
		labels.XYs[i] = plotter.XY{X: 0.02, Y: 1 - float64(i+1)/float64(n+1)}
	}
	l, err := plotter.NewLabels(labels)
	if err != nil {
		return nil, err
	}
	p.Add(l)
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	return p, nil
}

func addBars(p *plot.Plot, pn Panel) error {
	n := len(pn.Bars)
	width := vg.Points(40) / vg.Length(n)
	for i, b := range pn.Bars {
		if len(b.Values) != len(pn.Categories) {
			return fmt.Errorf("bar group %q has %d values for %d categories", b.Label, len(b.Values), len(pn.Categories))
		}
		vals := make(plotter.Values, len(b.Values))
		for j, v := range b.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			vals[j] = v
		}
		bc, err := plotter.NewBarChart(vals, width)
		if err != nil {
			return err
		}
		bc.Color = plotutil.Color(i)
		bc.LineStyle.Width = 0
		bc.Offset = width * vg.Length(2*i-n+1) / 2
		p.Add(bc)
		if b.Label != "" {
			p.Legend.Add(b.Label, bc)
		}
	}
	p.NominalX(pn.Categories...)
	return nil
}

func finite(xs, ys []float64, positive bool, lo, hi *float64) plotter.XYs {
	var out plotter.XYs
	for i := range xs {
		if i >= len(ys) {
			break
		}
		x, y := xs[i], ys[i]
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		if positive && y <= 0 {
			continue
		}
		out = append(out, plotter.XY{X: x, Y: y})
		*lo = math.Min(*lo, y)
		*hi = math.Max(*hi, y)
	}
	return out
}
