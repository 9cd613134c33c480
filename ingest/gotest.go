package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Go test2json (TestEvent) action constants for JSON test output
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

const (
	timeoutPanic      = "panic: test timed out"
	incompleteMessage = "test did not complete"
)

// TestEvent represents a single event from the go test JSON output
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test function name (may be empty for package events)
	Output  string    // Output text (may be empty)
	Elapsed float64   // Elapsed time in seconds for the specific action
}

// runningTest tracks one in-flight run of a top level test
type runningTest struct {
	pkg    string
	name   string
	start  time.Time
	output strings.Builder
}

// GoTestSource converts `go test -json` streams into events. Only top level
// tests are reported; subtest output is folded into its parent. Every
// completed run of a test becomes one attempt, so `-count` and reruns show up
// as retries.
type GoTestSource struct {
	Suite string // Overrides the package as suite when set
	Team  string
}

// Decode reads a test2json stream and calls fn for every finished test run
func (s GoTestSource) Decode(r io.Reader, fn func(Event) error) (Stats, error) {
	var stats Stats
	running := make(map[string]*runningTest)
	var order []string
	timedOutPkgs := make(map[string]bool)

	emit := func(t *runningTest, status types.TestStatus, elapsed float64) error {
		if err := fn(s.event(t, status, elapsed)); err != nil {
			return err
		}
		stats.Events++
		return nil
	}

	scanner := newScanner(r)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev TestEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Action == "" {
			stats.Skipped++
			continue
		}

		if ev.Test == "" {
			if ev.Action == ActionOutput && strings.Contains(ev.Output, timeoutPanic) {
				timedOutPkgs[ev.Package] = true
			}
			continue
		}

		top, _, _ := strings.Cut(ev.Test, "/")
		key := ev.Package + "\x00" + top
		isTop := top == ev.Test

		switch ev.Action {
		case ActionRun, ActionStart:
			if isTop {
				running[key] = &runningTest{pkg: ev.Package, name: top, start: ev.Time}
				order = append(order, key)
			}
		case ActionOutput:
			t, ok := running[key]
			if !ok {
				continue
			}
			if strings.Contains(ev.Output, timeoutPanic) {
				timedOutPkgs[ev.Package] = true
			}
			t.output.WriteString(ev.Output)
		case ActionPass, ActionFail, ActionSkip:
			if !isTop {
				continue
			}
			t, ok := running[key]
			if !ok {
				t = &runningTest{pkg: ev.Package, name: top}
			}
			delete(running, key)

			status := types.ParseTestStatus(ev.Action)
			if status == types.TestStatusFailed && strings.Contains(t.output.String(), timeoutPanic) {
				status = types.TestStatusTimedOut
			}
			if err := emit(t, status, ev.Elapsed); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read go test output: %w", err)
	}

	// Tests still running when the stream ends were killed by a timeout or a crash
	for _, key := range order {
		t, ok := running[key]
		if !ok {
			continue
		}
		delete(running, key)
		status := types.TestStatusFailed
		if timedOutPkgs[t.pkg] {
			status = types.TestStatusTimedOut
		}
		if strings.TrimSpace(t.output.String()) == "" {
			t.output.WriteString(incompleteMessage)
		}
		if err := emit(t, status, 0); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s GoTestSource) event(t *runningTest, status types.TestStatus, elapsed float64) Event {
	suite := s.Suite
	if suite == "" {
		suite = t.pkg
	}
	ev := Event{
		Title:    t.name,
		ID:       t.pkg + "." + t.name,
		Suite:    suite,
		File:     t.pkg,
		Team:     s.Team,
		Status:   string(status),
		Duration: elapsed,
	}
	if !status.IsPass() && !status.IsSkip() {
		if msg := failureOutput(t.output.String()); msg != "" {
			ev.Errors = []types.TestError{{Message: msg, Stack: strings.TrimSpace(t.output.String())}}
		}
	}
	return ev
}

// failureOutput drops the framing lines go test prints around every test
func failureOutput(output string) string {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" ||
			strings.HasPrefix(trimmed, "=== RUN") ||
			strings.HasPrefix(trimmed, "=== PAUSE") ||
			strings.HasPrefix(trimmed, "=== CONT") ||
			strings.HasPrefix(trimmed, "--- PASS") ||
			strings.HasPrefix(trimmed, "--- SKIP") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}
