// Package types contains shared types used across the summarizer
package types

import (
	"slices"
	"strings"
)

// TestStatus represents the possible states of a single test attempt
type TestStatus string

const (
	TestStatusPassed      TestStatus = "passed"
	TestStatusFailed      TestStatus = "failed"
	TestStatusTimedOut    TestStatus = "timedOut"
	TestStatusSkipped     TestStatus = "skipped"
	TestStatusInterrupted TestStatus = "interrupted"
)

var knownStatuses = []TestStatus{
	TestStatusPassed,
	TestStatusFailed,
	TestStatusTimedOut,
	TestStatusSkipped,
	TestStatusInterrupted,
}

// IsPass reports whether the status counts as a pass
func (s TestStatus) IsPass() bool {
	return s == TestStatusPassed
}

// IsSkip reports whether the status counts as a skip
func (s TestStatus) IsSkip() bool {
	return s == TestStatusSkipped
}

// IsKnown reports whether the status is one of the statuses emitted by test runners.
// Unknown statuses are still accepted and resolve to a failure at finalize time.
func (s TestStatus) IsKnown() bool {
	return slices.Contains(knownStatuses, s)
}

// ParseTestStatus maps the spellings used by common runners onto a TestStatus.
// Unrecognized values are returned verbatim.
func ParseTestStatus(raw string) TestStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "passed", "pass", "ok", "expected":
		return TestStatusPassed
	case "failed", "fail", "unexpected":
		return TestStatusFailed
	case "timedout", "timed_out", "timeout":
		return TestStatusTimedOut
	case "skipped", "skip":
		return TestStatusSkipped
	case "interrupted":
		return TestStatusInterrupted
	}
	return TestStatus(raw)
}

const (
	UnknownSuite = "Unknown Suite"
	UnknownFile  = "Unknown File"
	UnknownTeam  = "Unknown Team"
	UnknownError = "Unknown error"
)

// TestIdentity is the stable key of a logical test across its attempts
type TestIdentity struct {
	Title string
	ID    string // Optional runner-provided identifier
}

// Key returns the string used to index the test within a run.
// A runner-provided ID wins over the title since titles are not guaranteed unique.
func (i TestIdentity) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Title
}

// TestError is a single error reported by an attempt
type TestError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Attempt captures one execution of a test (initial run or a retry)
type Attempt struct {
	Status   TestStatus
	Duration float64 // Seconds
	Errors   []TestError
}

// PrimaryMessage returns the first error message of the attempt, or UnknownError
func (a Attempt) PrimaryMessage() string {
	for _, e := range a.Errors {
		if e.Message != "" {
			return e.Message
		}
	}
	return UnknownError
}

// TestMetadata is the static information captured when a test is first observed
type TestMetadata struct {
	Suite    string
	File     string
	Team     string
	Location string // file:line:column when the runner provides it
}

// WithDefaults fills empty fields with their sentinel values
func (m TestMetadata) WithDefaults() TestMetadata {
	if m.Suite == "" {
		m.Suite = UnknownSuite
	}
	if m.File == "" {
		m.File = UnknownFile
	}
	if m.Team == "" {
		m.Team = UnknownTeam
	}
	return m
}

// TestRecord holds every attempt observed for one test in a run
type TestRecord struct {
	Identity TestIdentity
	Metadata TestMetadata
	Attempts []Attempt
}

// FinalAttempt returns the last attempt appended to the record
func (r *TestRecord) FinalAttempt() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// FinalOutcome returns the status of the last attempt. Retries overwrite the
// verdict of earlier attempts.
func (r *TestRecord) FinalOutcome() TestStatus {
	a, ok := r.FinalAttempt()
	if !ok {
		return ""
	}
	return a.Status
}

// IsFlaky reports whether the test failed at least once before finally passing
func (r *TestRecord) IsFlaky() bool {
	if !r.FinalOutcome().IsPass() {
		return false
	}
	for _, a := range r.Attempts[:len(r.Attempts)-1] {
		if !a.Status.IsPass() && !a.Status.IsSkip() {
			return true
		}
	}
	return false
}

// DisplayName prefixes title with its suite to disambiguate equal titles.
// Missing and sentinel suites are left out.
func DisplayName(suite, title string) string {
	if suite == "" || suite == UnknownSuite {
		return title
	}
	return suite + " › " + title
}
