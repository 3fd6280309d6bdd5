// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package participation aggregates a note-level event log into monthly
// participation counts, a language distribution and a responsiveness proxy
// (time from a post's creation to its first note).
package participation

import (
	"sort"
	"time"

	"github.com/pdiddy/resurgence/internal/stats"
	"github.com/pdiddy/resurgence/pkg/types"
)

// UnknownLanguage labels events without a language code.
const UnknownLanguage = "unk"

// Snowflake decodes creation instants from snowflake identifiers: the bits
// above Shift count milliseconds since EpochMillis.
type Snowflake struct {
	Shift       uint
	EpochMillis int64
}

// TwitterSnowflake is the identifier scheme of the annotated platform.
var TwitterSnowflake = Snowflake{Shift: 22, EpochMillis: 1288834974657}

// Time returns the creation instant encoded in id, in UTC.
func (s Snowflake) Time(id uint64) time.Time {
	return time.UnixMilli(int64(id>>s.Shift) + s.EpochMillis).UTC()
}

// DecodeTimestamp decodes id with TwitterSnowflake.
func DecodeTimestamp(id uint64) time.Time {
	return TwitterSnowflake.Time(id)
}

// Window is a half-open coverage interval [Start, End). A zero bound is
// open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// MonthlyRow is one calendar month of participation.
type MonthlyRow struct {
	Month         time.Time
	Notes         int
	ActiveAuthors int

	// NotesPerAuthor is Notes / ActiveAuthors.
	NotesPerAuthor types.NullFloat

	// MedianHoursToFirstNote is the median delay, over posts whose first
	// note fell in this month, between post creation and that note.
	MedianHoursToFirstNote types.NullFloat
}

// LanguageRow is the share of notes written in one language.
type LanguageRow struct {
	Language      string
	Notes         int
	Share         float64
	UniqueAuthors int
}

// Totals are whole-dataset counts.
type Totals struct {
	Notes         int
	Contributors  int
	DistinctPosts int

	// Dropped counts rows the loader could not use; OutsideWindow counts
	// events excluded by the coverage window.
	Dropped       int
	OutsideWindow int
}

type monthAcc struct {
	notes   int
	authors map[string]struct{}
}

type langAcc struct {
	notes   int
	authors map[string]struct{}
}

// Aggregator accumulates events one at a time so the event log never has to
// be held in memory. Events outside the window are discarded on Add, before
// they reach any count.
type Aggregator struct {
	window    Window
	snowflake Snowflake

	months    map[time.Time]*monthAcc
	langs     map[string]*langAcc
	authors   map[string]struct{}
	firstNote map[uint64]time.Time

	notes   int
	outside int
}

// NewAggregator returns an Aggregator over window. Post identifiers are
// decoded with sf.
func NewAggregator(window Window, sf Snowflake) *Aggregator {
	return &Aggregator{
		window:    window,
		snowflake: sf,
		months:    make(map[time.Time]*monthAcc),
		langs:     make(map[string]*langAcc),
		authors:   make(map[string]struct{}),
		firstNote: make(map[uint64]time.Time),
	}
}

// Add records one event. It reports whether the event was inside the
// coverage window.
func (a *Aggregator) Add(ev types.NoteEvent) bool {
	if !a.window.Contains(ev.CreatedAt) {
		a.outside++
		return false
	}
	a.notes++

	m := types.MonthStart(ev.CreatedAt)
	ma := a.months[m]
	if ma == nil {
		ma = &monthAcc{authors: make(map[string]struct{})}
		a.months[m] = ma
	}
	ma.notes++

	code := ev.LanguageCode
	if code == "" {
		code = UnknownLanguage
	}
	la := a.langs[code]
	if la == nil {
		la = &langAcc{authors: make(map[string]struct{})}
		a.langs[code] = la
	}
	la.notes++

	if ev.AuthorID != "" {
		ma.authors[ev.AuthorID] = struct{}{}
		la.authors[ev.AuthorID] = struct{}{}
		a.authors[ev.AuthorID] = struct{}{}
	}

	if ev.PostID != 0 {
		if prev, ok := a.firstNote[ev.PostID]; !ok || ev.CreatedAt.Before(prev) {
			a.firstNote[ev.PostID] = ev.CreatedAt
		}
	}
	return true
}

// Monthly returns one row per month with at least one event, in month
// order.
func (a *Aggregator) Monthly() []MonthlyRow {
	delays := make(map[time.Time][]float64)
	for post, first := range a.firstNote {
		h := first.Sub(a.snowflake.Time(post)).Hours()
		if h < 0 {
			continue
		}
		m := types.MonthStart(first)
		delays[m] = append(delays[m], h)
	}

	out := make([]MonthlyRow, 0, len(a.months))
	for m, acc := range a.months {
		row := MonthlyRow{Month: m, Notes: acc.notes, ActiveAuthors: len(acc.authors)}
		if row.ActiveAuthors > 0 {
			row.NotesPerAuthor = types.Float(float64(row.Notes) / float64(row.ActiveAuthors))
		}
		if d := delays[m]; len(d) > 0 {
			row.MedianHoursToFirstNote = types.Float(stats.Median(d))
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

// Languages returns the language distribution ranked by note count, ties
// broken by language code ascending.
func (a *Aggregator) Languages() []LanguageRow {
	out := make([]LanguageRow, 0, len(a.langs))
	for code, acc := range a.langs {
		row := LanguageRow{Language: code, Notes: acc.notes, UniqueAuthors: len(acc.authors)}
		if a.notes > 0 {
			row.Share = float64(acc.notes) / float64(a.notes)
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Notes != out[j].Notes {
			return out[i].Notes > out[j].Notes
		}
		return out[i].Language < out[j].Language
	})
	return out
}

// Totals returns the whole-window counts. Dropped is left for the loader to
// fill in.
func (a *Aggregator) Totals() Totals {
	return Totals{
		Notes:         a.notes,
		Contributors:  len(a.authors),
		DistinctPosts: len(a.firstNote),
		OutsideWindow: a.outside,
	}
}

// MonthlyAggregate groups events by calendar month after dropping those
// outside window.
func MonthlyAggregate(events []types.NoteEvent, window Window) []MonthlyRow {
	return aggregate(events, window).Monthly()
}

// LanguageDistribution ranks languages by their share of the events inside
// window.
func LanguageDistribution(events []types.NoteEvent, window Window) []LanguageRow {
	return aggregate(events, window).Languages()
}

func aggregate(events []types.NoteEvent, window Window) *Aggregator {
	a := NewAggregator(window, TwitterSnowflake)
	for _, ev := range events {
		a.Add(ev)
	}
	return a
}

// PrePost compares monthly averages before and after a breakpoint.
type PrePost struct {
	PreMonths  int
	PostMonths int

	PreAvgNotes           types.NullFloat
	PostAvgNotes          types.NullFloat
	PreAvgAuthors         types.NullFloat
	PostAvgAuthors        types.NullFloat
	PreAvgNotesPerAuthor  types.NullFloat
	PostAvgNotesPerAuthor types.NullFloat

	// PreMedianHours and PostMedianHours are medians of the monthly median
	// time-to-first-note.
	PreMedianHours  types.NullFloat
	PostMedianHours types.NullFloat

	NotesGrowthPct          types.NullFloat
	AuthorsGrowthPct        types.NullFloat
	NotesPerAuthorGrowthPct types.NullFloat
	HoursChangePct          types.NullFloat
}

// SummarizePrePost splits months at breakpoint (months starting on or after
// it are post) and compares the averages of each side.
func SummarizePrePost(months []MonthlyRow, breakpoint time.Time) PrePost {
	var preNotes, postNotes, preAuth, postAuth, preNPA, postNPA, preH, postH []float64
	var out PrePost
	for _, m := range months {
		if m.Month.Before(breakpoint) {
			out.PreMonths++
			preNotes = append(preNotes, float64(m.Notes))
			preAuth = append(preAuth, float64(m.ActiveAuthors))
			preNPA = appendValid(preNPA, m.NotesPerAuthor)
			preH = appendValid(preH, m.MedianHoursToFirstNote)
		} else {
			out.PostMonths++
			postNotes = append(postNotes, float64(m.Notes))
			postAuth = append(postAuth, float64(m.ActiveAuthors))
			postNPA = appendValid(postNPA, m.NotesPerAuthor)
			postH = appendValid(postH, m.MedianHoursToFirstNote)
		}
	}

	out.PreAvgNotes, out.PostAvgNotes = mean(preNotes), mean(postNotes)
	out.PreAvgAuthors, out.PostAvgAuthors = mean(preAuth), mean(postAuth)
	out.PreAvgNotesPerAuthor, out.PostAvgNotesPerAuthor = mean(preNPA), mean(postNPA)
	out.PreMedianHours, out.PostMedianHours = median(preH), median(postH)

	out.NotesGrowthPct = growthPct(out.PreAvgNotes, out.PostAvgNotes)
	out.AuthorsGrowthPct = growthPct(out.PreAvgAuthors, out.PostAvgAuthors)
	out.NotesPerAuthorGrowthPct = growthPct(out.PreAvgNotesPerAuthor, out.PostAvgNotesPerAuthor)
	out.HoursChangePct = growthPct(out.PreMedianHours, out.PostMedianHours)
	return out
}

func appendValid(xs []float64, v types.NullFloat) []float64 {
	if v.Valid {
		return append(xs, v.Value)
	}
	return xs
}

func mean(xs []float64) types.NullFloat {
	if len(xs) == 0 {
		return types.Null
	}
	return types.Float(stats.Mean(xs))
}

func median(xs []float64) types.NullFloat {
	if len(xs) == 0 {
		return types.Null
	}
	return types.Float(stats.Median(xs))
}

// growthPct is (post/pre - 1) * 100, undefined when pre is zero or missing.
func growthPct(pre, post types.NullFloat) types.NullFloat {
	if !pre.Valid || !post.Valid || pre.Value == 0 {
		return types.Null
	}
	return types.Float((post.Value/pre.Value - 1) * 100)
}
