// Package reporting renders finalized run summaries to files and terminals.
package reporting

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ethereum-optimism/infra/op-summarizer/history"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Run bundles everything known about one finalized run
type Run struct {
	ID         string
	Summary    *types.RunSummary
	Comparison history.Comparison
	Flaky      []string // Keys of tests that passed only after a retry
}

// IsNewlyFailing reports whether the failure was passing (or absent) in the prior run
func (r *Run) IsNewlyFailing(key string) bool {
	return slices.Contains(r.Comparison.NewlyFailing, key)
}

// Status returns the overall outcome of the run
func (r *Run) Status() types.RunStatus {
	if r.Summary != nil && r.Summary.HasFailures() {
		return types.RunStatusFailed
	}
	return types.RunStatusPassed
}

// Sink is an output for a finalized run
type Sink interface {
	Name() string
	Emit(run *Run) error
}

// Emit hands the run to every sink. A failing sink does not stop the others.
func Emit(run *Run, sinks ...Sink) error {
	if run == nil || run.Summary == nil {
		return errors.New("no run summary to report")
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Emit(run); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	s = strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
		"...", "",
	).Replace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.2fs", s)
}
