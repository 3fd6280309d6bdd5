// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package openalex queries the OpenAlex works endpoint for grouped
// publication counts and caches each response as a dated JSON snapshot.
package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/pdiddy/resurgence/internal/httputil"
	"github.com/pdiddy/resurgence/internal/snapshot"
	"github.com/pdiddy/resurgence/pkg/types"
)

// worksBase is the OpenAlex works endpoint. Declared as a var so tests can
// substitute an httptest server.
var worksBase = "https://api.openalex.org/works"

// maxPages bounds paging in case the server never reports completion.
const maxPages = 100

// Group is one group_by bucket.
type Group struct {
	Key            string `json:"key"`
	KeyDisplayName string `json:"key_display_name"`
	Count          int    `json:"count"`
}

// Meta is the subset of response metadata the pipelines use.
type Meta struct {
	Count       int  `json:"count"`
	GroupsCount *int `json:"groups_count"`
}

// GroupByResponse is a (possibly multi-page) group_by result. Snapshots are
// stored in this shape with all pages merged.
type GroupByResponse struct {
	Meta    Meta    `json:"meta"`
	GroupBy []Group `json:"group_by"`
}

// Client fetches grouped counts from OpenAlex.
type Client struct {
	HTTP *http.Client

	// Email is sent as mailto parameter for polite pool access.
	Email      string
	UserAgent  string
	PerPage    int
	MaxRetries int
}

// GroupBy returns every group for filter grouped by the given field, paging
// until meta.groups_count groups are collected or a page comes back empty.
func (c *Client) GroupBy(ctx context.Context, filter, groupBy string) (*GroupByResponse, error) {
	perPage := c.PerPage
	if perPage <= 0 || perPage > 200 {
		perPage = 200
	}

	var merged GroupByResponse
	for page := 1; page <= maxPages; page++ {
		params := url.Values{
			"filter":   {filter},
			"group_by": {groupBy},
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
		}
		if c.Email != "" {
			params.Set("mailto", c.Email)
		}
		reqURL := worksBase + "?" + params.Encode()

		resp, err := c.fetch(ctx, reqURL)
		if err != nil {
			return nil, err
		}
		if page == 1 {
			merged.Meta = resp.Meta
		}
		merged.GroupBy = append(merged.GroupBy, resp.GroupBy...)

		want := len(resp.GroupBy)
		if resp.Meta.GroupsCount != nil {
			want = *resp.Meta.GroupsCount
		}
		if len(resp.GroupBy) == 0 || len(merged.GroupBy) >= want {
			return &merged, nil
		}
	}
	return nil, &types.FetchError{Source: "openalex", URL: worksBase, Err: fmt.Errorf("more than %d pages for group_by %s", maxPages, groupBy)}
}

func (c *Client) fetch(ctx context.Context, reqURL string) (*GroupByResponse, error) {
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
		return nil, &types.FetchError{Source: "openalex", URL: reqURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.FetchError{Source: "openalex", URL: reqURL, StatusCode: resp.StatusCode}
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &types.ParseError{File: reqURL, Err: fmt.Errorf("decoding OpenAlex response: %w", err)}
	}
	return Decode(reqURL, raw)
}

// Decode parses a group_by response or snapshot. A payload without a
// group_by array is a ParseError.
func Decode(name string, data []byte) (*GroupByResponse, error) {
	var probe struct {
		GroupBy json.RawMessage `json:"group_by"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &types.ParseError{File: name, Err: err}
	}
	if len(probe.GroupBy) == 0 || string(probe.GroupBy) == "null" {
		return nil, &types.ParseError{File: name, Field: "group_by", Err: errors.New("missing group_by array")}
	}

	var out GroupByResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &types.ParseError{File: name, Err: err}
	}
	return &out, nil
}

// YearCounts interprets the groups of a publication_year query. Keys that
// are not years are a ParseError.
func (r *GroupByResponse) YearCounts(name string) (map[int]int, error) {
	out := make(map[int]int, len(r.GroupBy))
	for _, g := range r.GroupBy {
		if g.Key == "" {
			continue
		}
		year, err := strconv.Atoi(g.Key)
		if err != nil {
			return nil, &types.ParseError{File: name, Field: "group_by.key", Err: err}
		}
		out[year] += g.Count
	}
	return out, nil
}

// CountryISO2 extracts the alpha-2 code from a country group key such as
// "https://openalex.org/countries/US".
func CountryISO2(key string) string {
	key = strings.TrimRight(strings.TrimSpace(key), "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	return strings.ToUpper(key)
}

// Query names a cached group_by query.
type Query struct {
	// Prefix is the snapshot file prefix, e.g. "openalex_total_ai_by_year".
	Prefix  string
	Filter  string
	GroupBy string
}

// Cached returns the newest dated snapshot for q in dir. When none exists it
// queries OpenAlex and stores the response as <prefix>_<today>.json. The path
// of the snapshot used is returned for provenance.
func Cached(ctx context.Context, c *Client, dir string, q Query, today time.Time, logger log.Interface) (*GroupByResponse, string, error) {
	path, _, err := snapshot.Latest(dir, q.Prefix, "json")
	switch {
	case err == nil:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading snapshot: %w", err)
		}
		resp, err := Decode(path, data)
		if err != nil {
			return nil, "", err
		}
		logger.WithField("file", path).Debug("using cached OpenAlex snapshot")
		return resp, path, nil
	case !errors.Is(err, snapshot.ErrNotFound):
		return nil, "", err
	}

	if c == nil {
		return nil, "", fmt.Errorf("no %s snapshot in %s and fetching is disabled", q.Prefix, dir)
	}
	logger.WithFields(log.Fields{"filter": q.Filter, "group_by": q.GroupBy}).Info("querying OpenAlex")
	resp, err := c.GroupBy(ctx, q.Filter, q.GroupBy)
	if err != nil {
		return nil, "", err
	}
	path, err = Save(dir, q.Prefix, today, resp)
	if err != nil {
		return nil, "", err
	}
	logger.WithField("file", path).Info("saved OpenAlex snapshot")
	return resp, path, nil
}

// Save writes resp as an indented JSON snapshot and returns its path.
func Save(dir, prefix string, date time.Time, resp *GroupByResponse) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	path := snapshot.Path(dir, prefix, date, "json")
	if err := snapshot.WriteFile(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}
