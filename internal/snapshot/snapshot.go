// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package snapshot manages the immutable raw input files the pipelines read.
// API responses are stored as <prefix>_YYYY-MM-DD.<ext> so every snapshot is
// keyed by the date it was queried; reference datasets are downloaded once
// and reused.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/pdiddy/resurgence/internal/httputil"
	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// ErrNotFound is returned by Latest when no dated snapshot exists.
var ErrNotFound = errors.New("no dated snapshot")

var datedName = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})\.[A-Za-z0-9]+$`)

// Path returns the snapshot path for prefix queried on date.
func Path(dir, prefix string, date time.Time, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", prefix, date.Format(types.DateLayout), ext))
}

// Latest returns the newest <prefix>_YYYY-MM-DD.<ext> file in dir and its
// query date. Files whose date does not parse are ignored.
func Latest(dir, prefix, ext string) (string, time.Time, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*."+ext))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("listing snapshots: %w", err)
	}

	type dated struct {
		path string
		date time.Time
	}
	var found []dated
	for _, m := range matches {
		base := filepath.Base(m)
		sub := datedName.FindStringSubmatch(base)
		if sub == nil || base != fmt.Sprintf("%s_%s.%s", prefix, sub[1], ext) {
			continue
		}
		d, err := time.Parse(types.DateLayout, sub[1])
		if err != nil {
			continue
		}
		found = append(found, dated{path: m, date: d})
	}
	if len(found) == 0 {
		return "", time.Time{}, fmt.Errorf("%s in %s: %w", prefix, dir, ErrNotFound)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].date.Before(found[j].date) })
	last := found[len(found)-1]
	return last.path, last.date, nil
}

// WriteFile stores data at path atomically, creating parent directories.
func WriteFile(path string, data []byte) error {
	return tabular.WriteAtomic(path, bytes.NewReader(data))
}

// DownloadOptions configures Download.
type DownloadOptions struct {
	// Source names the provider in errors (e.g. "undp").
	Source     string
	UserAgent  string
	MaxRetries int

	// Progress receives a progress bar when non-nil.
	Progress io.Writer
}

// Download fetches url into dest. The body is streamed to a temporary file
// and renamed into place only after the transfer completes.
func Download(ctx context.Context, client *http.Client, url, dest string, opts DownloadOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, opts.MaxRetries)
	if err != nil {
		return &types.FetchError{Source: opts.Source, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &types.FetchError{Source: opts.Source, URL: url, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if opts.Progress != nil {
		bar := progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription(filepath.Base(dest)),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(opts.Progress, "\n")
			}),
		)
		defer bar.Close()
		body = io.TeeReader(resp.Body, bar)
	}

	if err := tabular.WriteAtomic(dest, body); err != nil {
		return fmt.Errorf("saving %s download: %w", opts.Source, err)
	}
	return nil
}

// Ensure downloads url into dest unless dest already exists. It reports
// whether a download happened.
func Ensure(ctx context.Context, client *http.Client, url, dest string, opts DownloadOptions) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking %s: %w", dest, err)
	}
	if err := Download(ctx, client, url, dest, opts); err != nil {
		return false, err
	}
	return true, nil
}
