// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package participation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/schollz/progressbar/v3"

	"github.com/pdiddy/resurgence/internal/tabular"
	"github.com/pdiddy/resurgence/pkg/types"
)

// Columns of the note-level export.
const (
	colNoteID    = "noteId"
	colAuthor    = "noteAuthorParticipantId"
	colPost      = "tweetId"
	colDate      = "date"
	colTimestamp = "Timestamp"
	colLanguage  = "language"
)

// ReadOptions configures ReadNotes.
type ReadOptions struct {
	Snowflake Snowflake

	// Progress receives a byte-count progress bar when non-nil.
	Progress io.Writer
}

// ReadStats counts the rows ReadNotes saw.
type ReadStats struct {
	Rows    int
	Dropped int
}

// ReadNotes streams the note export at path and calls fn for every usable
// row. The creation time comes from noteId when the column is present and
// the value parses, otherwise from the date and Timestamp columns. Rows
// without an author, a post id or a parseable time are dropped and counted.
// A missing required column is a ParseError.
func ReadNotes(path string, opts ReadOptions, fn func(types.NoteEvent) error) (ReadStats, error) {
	var st ReadStats
	f, err := os.Open(path)
	if err != nil {
		return st, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var in io.Reader = f
	if opts.Progress != nil {
		info, err := f.Stat()
		if err != nil {
			return st, fmt.Errorf("stat %s: %w", path, err)
		}
		bar := progressbar.NewOptions64(
			info.Size(),
			progressbar.OptionSetDescription(filepath.Base(path)),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(opts.Progress, "\n")
			}),
		)
		defer bar.Close()
		in = io.TeeReader(f, bar)
	}

	r, err := tabular.NewReader(path, in, colAuthor, colPost, colLanguage)
	if err != nil {
		return st, err
	}
	if !r.Has(colNoteID) && !(r.Has(colDate) && r.Has(colTimestamp)) {
		return st, &types.ParseError{File: path, Line: 1, Field: colNoteID, Err: tabular.ErrMissingColumn}
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, err
		}
		st.Rows++

		ev, ok := parseNote(rec, opts.Snowflake)
		if !ok {
			st.Dropped++
			continue
		}
		if err := fn(ev); err != nil {
			return st, err
		}
	}
}

func parseNote(rec tabular.Record, sf Snowflake) (types.NoteEvent, bool) {
	ev := types.NoteEvent{
		AuthorID:     rec.Get(colAuthor),
		LanguageCode: rec.Get(colLanguage),
	}
	if ev.AuthorID == "" {
		return ev, false
	}
	post, err := strconv.ParseUint(rec.Get(colPost), 10, 64)
	if err != nil || post == 0 {
		return ev, false
	}
	ev.PostID = post

	if id, err := strconv.ParseUint(rec.Get(colNoteID), 10, 64); err == nil && id != 0 {
		ev.EventID = id
		ev.CreatedAt = sf.Time(id)
		return ev, true
	}

	date, clock := rec.Get(colDate), rec.Get(colTimestamp)
	if date == "" {
		return ev, false
	}
	s := date
	if clock != "" {
		s += " " + clock
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return ev, false
	}
	ev.CreatedAt = t.UTC()
	return ev, true
}
