// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package trend

import (
	"fmt"
	"io"
	"sort"

	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// LoadSeries reads one search-interest snapshot. The file has a date column
// and a column named after the query term; an isPartial column, if present,
// is ignored. Rows with an empty value are skipped.
func LoadSeries(path string, sc types.TrendSeriesConfig) (types.Series, error) {
	s := types.Series{ID: sc.ID, Term: sc.Term}
	err := tabular.ReadFile(path, func(r *tabular.Reader) error {
		for {
			rec, err := r.Read()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if rec.Get(sc.Term) == "" {
				continue
			}
			d, err := types.ParseDate("date", rec.Get("date"))
			if err != nil {
				return &types.ParseError{File: path, Line: rec.Line, Field: "date", Err: err}
			}
			v, err := rec.Float(sc.Term)
			if err != nil {
				return err
			}
			s.Points = append(s.Points, types.TimeSeriesPoint{
				Month:    types.MonthStart(d),
				SeriesID: sc.ID,
				Value:    v,
			})
		}
	}, "date", sc.Term)
	if err != nil {
		return types.Series{}, err
	}

	sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Month.Before(s.Points[j].Month) })
	if err := s.Validate(); err != nil {
		return types.Series{}, &types.ParseError{File: path, Err: err}
	}
	if len(s.Points) == 0 {
		return types.Series{}, &types.ParseError{File: path, Field: sc.Term, Err: fmt.Errorf("no observations")}
	}
	return s, nil
}
