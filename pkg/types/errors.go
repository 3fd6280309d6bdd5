// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// FetchError reports a network or API failure. Fetches are not retried
// beyond rate-limit back-off; the operator re-runs the pipeline.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d from %s", e.Source, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports malformed or schema-mismatched input. It is fatal for
// the pipeline that reads the file.
type ParseError struct {
	File  string
	Line  int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	if e.Field != "" {
		return fmt.Sprintf("parse %s: field %q: %v", loc, e.Field, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", loc, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InsufficientDataError reports an unmet statistical precondition. It is
// fatal for that computation only.
type InsufficientDataError struct {
	Computation string
	Have        int
	Need        int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: have %d, need at least %d", e.Computation, e.Have, e.Need)
}

// DivisionByZeroError reports a degenerate denominator. Key identifies the
// row (year, region, tier) whose denominator was zero or missing.
type DivisionByZeroError struct {
	Computation string
	Key         string
}

func (e *DivisionByZeroError) Error() string {
	return fmt.Sprintf("%s: division by zero at %s", e.Computation, e.Key)
}
