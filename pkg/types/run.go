// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// Failure records a computation that failed without aborting its pipeline,
// such as an InsufficientDataError for one series.
type Failure struct {
	Computation string
	Key         string
	Err         error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s [%s]: %v", f.Computation, f.Key, f.Err)
}

// RunSummary lists the files a pipeline read and wrote and the computations
// that failed along the way. The provenance ledger records it.
type RunSummary struct {
	Pipeline string
	Inputs   []string
	Outputs  []string
	Failures []Failure
}

// Input records a file the run read.
func (s *RunSummary) Input(path string) { s.Inputs = append(s.Inputs, path) }

// Output records a file the run wrote.
func (s *RunSummary) Output(path string) { s.Outputs = append(s.Outputs, path) }

// Fail records a non-fatal computation failure.
func (s *RunSummary) Fail(computation, key string, err error) {
	s.Failures = append(s.Failures, Failure{Computation: computation, Key: key, Err: err})
}
