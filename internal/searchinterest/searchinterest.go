// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package searchinterest fetches monthly search-interest indices for a term
// through the SerpApi Google Trends engine and writes them in the CSV layout
// the trend pipeline reads (date, <term>, isPartial).
package searchinterest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/pdiddy/resurgence/internal/httputil"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// searchBase is the SerpApi endpoint. Declared as a var so tests can
// substitute an httptest server.
var searchBase = "https://serpapi.com/search.json"

// Client queries SerpApi.
type Client struct {
	HTTP       *http.Client
	APIKey     string
	UserAgent  string
	MaxRetries int
}

// Observation is one monthly index value.
type Observation struct {
	Month   time.Time
	Value   float64
	Partial bool
}

// Result is a fetched interest-over-time series.
type Result struct {
	Term         string
	Observations []Observation
}

type serpResponse struct {
	Error            string `json:"error"`
	InterestOverTime *struct {
		TimelineData []struct {
			Date        string `json:"date"`
			Timestamp   string `json:"timestamp"`
			PartialData bool   `json:"partial_data"`
			Values      []struct {
				Query          string  `json:"query"`
				Value          string  `json:"value"`
				ExtractedValue float64 `json:"extracted_value"`
			} `json:"values"`
		} `json:"timeline_data"`
	} `json:"interest_over_time"`
}

// InterestOverTime fetches the interest index for term between from and to.
// An empty geo means worldwide. Sub-monthly points are averaged per month.
func (c *Client) InterestOverTime(ctx context.Context, term, geo string, from, to time.Time) (*Result, error) {
	if c.APIKey == "" {
		return nil, errors.New("search interest: no SerpApi key configured")
	}
	params := url.Values{
		"engine":    {"google_trends"},
		"q":         {term},
		"data_type": {"TIMESERIES"},
		"date":      {from.Format(types.DateLayout) + " " + to.Format(types.DateLayout)},
		"api_key":   {c.APIKey},
	}
	if geo != "" {
		params.Set("geo", geo)
	}
	reqURL := searchBase + "?" + params.Encode()
	// The key never appears in errors or logs.
	safeURL := searchBase + "?q=" + url.QueryEscape(term)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, c.MaxRetries)
	if err != nil {
		return nil, &types.FetchError{Source: "serpapi", URL: safeURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.FetchError{Source: "serpapi", URL: safeURL, StatusCode: resp.StatusCode}
	}

	var sr serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &types.ParseError{File: safeURL, Err: fmt.Errorf("decoding SerpApi response: %w", err)}
	}
	if sr.Error != "" {
		return nil, &types.FetchError{Source: "serpapi", URL: safeURL, Err: errors.New(sr.Error)}
	}
	if sr.InterestOverTime == nil {
		return nil, &types.ParseError{File: safeURL, Field: "interest_over_time", Err: errors.New("missing timeline")}
	}

	type acc struct {
		sum     float64
		n       int
		partial bool
	}
	months := map[time.Time]*acc{}
	for i, pt := range sr.InterestOverTime.TimelineData {
		secs, err := strconv.ParseInt(pt.Timestamp, 10, 64)
		if err != nil {
			return nil, &types.ParseError{File: safeURL, Line: i + 1, Field: "timestamp", Err: err}
		}
		if len(pt.Values) == 0 {
			return nil, &types.ParseError{File: safeURL, Line: i + 1, Field: "values", Err: errors.New("no values")}
		}
		m := types.MonthStart(time.Unix(secs, 0))
		a := months[m]
		if a == nil {
			a = &acc{}
			months[m] = a
		}
		a.sum += pt.Values[0].ExtractedValue
		a.n++
		a.partial = a.partial || pt.PartialData
	}

	out := &Result{Term: term}
	for m, a := range months {
		out.Observations = append(out.Observations, Observation{Month: m, Value: a.sum / float64(a.n), Partial: a.partial})
	}
	sort.Slice(out.Observations, func(i, j int) bool { return out.Observations[i].Month.Before(out.Observations[j].Month) })
	return out, nil
}

// Table renders the result in the trend snapshot layout.
func (r *Result) Table() *tabular.Table {
	t := &tabular.Table{Header: []string{"date", r.Term, "isPartial"}}
	for _, o := range r.Observations {
		partial := "False"
		if o.Partial {
			partial = "True"
		}
		t.Append(o.Month.Format(types.DateLayout), tabular.Float(o.Value), partial)
	}
	return t
}

// Encode writes the result as CSV.
func (r *Result) Encode(w io.Writer) error {
	return r.Table().Encode(w)
}
