// Package ingest turns test runner output into attempts on the ledger.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Annotation types recognised as an owner annotation
const (
	AnnotationOwner = "owner"
	AnnotationTeam  = "team"
)

// maxLineSize bounds a single JSON line; large stacks can exceed bufio's default
const maxLineSize = 16 * 1024 * 1024

// ErrInvalidEvent is returned by Validate for events without an identity
var ErrInvalidEvent = errors.New("invalid event")

// EventAnnotation is a free-form annotation attached to a test by the runner
type EventAnnotation struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Event is one attempt of one test as reported by a test runner
type Event struct {
	Title       string            `json:"title"`
	ID          string            `json:"id,omitempty"`
	Suite       string            `json:"suite,omitempty"`
	File        string            `json:"file,omitempty"`
	Team        string            `json:"team,omitempty"`
	Location    string            `json:"location,omitempty"`
	Status      string            `json:"status"`
	Duration    float64           `json:"duration"` // Seconds
	Errors      []types.TestError `json:"errors,omitempty"`
	Annotations []EventAnnotation `json:"annotations,omitempty"`
}

// Validate checks that the event identifies a test and carries a status
func (e Event) Validate() error {
	if e.Title == "" && e.ID == "" {
		return fmt.Errorf("%w: missing title and id", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Status) == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidEvent)
	}
	return nil
}

// Identity returns the ledger key of the event's test
func (e Event) Identity() types.TestIdentity {
	title := e.Title
	if title == "" {
		title = e.ID
	}
	return types.TestIdentity{Title: title, ID: e.ID}
}

// Metadata returns the static test information carried by the event
func (e Event) Metadata() types.TestMetadata {
	return types.TestMetadata{
		Suite:    e.Suite,
		File:     e.File,
		Team:     e.Team,
		Location: e.Location,
	}
}

// Attempt returns the attempt described by the event
func (e Event) Attempt() types.Attempt {
	return types.Attempt{
		Status:   types.ParseTestStatus(e.Status),
		Duration: e.Duration,
		Errors:   e.Errors,
	}
}

// OwnerAnnotation returns the description of the first owner annotation
func (e Event) OwnerAnnotation() (string, bool) {
	for _, a := range e.Annotations {
		if a.Type == AnnotationOwner || a.Type == AnnotationTeam {
			return a.Description, true
		}
	}
	return "", false
}

// Stats counts what an ingestion pass consumed
type Stats struct {
	Files   int
	Events  int
	Skipped int // Malformed or incomplete lines
	// Events whose status no runner emits; they resolve to failures
	UnknownStatus int
}

// Add accumulates other into s
func (s *Stats) Add(other Stats) {
	s.Files += other.Files
	s.Events += other.Events
	s.Skipped += other.Skipped
	s.UnknownStatus += other.UnknownStatus
}

// DecodeEvents reads a JSON Lines stream and calls fn for every valid event.
// Blank lines are ignored; malformed lines are skipped and counted. An error
// returned by fn stops decoding.
func DecodeEvents(r io.Reader, fn func(Event) error) (Stats, error) {
	var stats Stats
	scanner := newScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			stats.Skipped++
			continue
		}
		if err := ev.Validate(); err != nil {
			stats.Skipped++
			continue
		}

		if err := fn(ev); err != nil {
			return stats, err
		}
		stats.Events++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read events: %w", err)
	}
	return stats, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return scanner
}
