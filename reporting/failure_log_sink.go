package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FailedDirName is the directory, under the output dir, holding one log per failed test
const FailedDirName = "failed"

// maxLogNameBytes keeps generated names under common filesystem limits,
// leaving room for a dedup suffix and the extension
const maxLogNameBytes = 200

// FailureLogSink writes the error details of every failed test to its own file
type FailureLogSink struct {
	Dir string
	// Contacts optionally resolves the emails of a team
	Contacts func(team string) []string
}

func (s *FailureLogSink) Name() string { return "failure-log" }

func (s *FailureLogSink) Emit(run *Run) error {
	if len(run.Summary.Failures) == 0 {
		return nil
	}
	failedDir := filepath.Join(s.Dir, FailedDirName)
	if err := os.MkdirAll(failedDir, 0755); err != nil {
		return fmt.Errorf("failed to create failed directory: %w", err)
	}

	used := make(map[string]bool)
	for _, f := range run.Summary.Failures {
		name := uniqueName(truncateName(safeFilename(f.Title), maxLogNameBytes), used)

		var b strings.Builder
		fmt.Fprintf(&b, "Test: %s\n", f.Title)
		if f.ID != "" {
			fmt.Fprintf(&b, "ID: %s\n", f.ID)
		}
		fmt.Fprintf(&b, "Suite: %s\n", f.Suite)
		fmt.Fprintf(&b, "File: %s\n", f.File)
		if f.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", f.Location)
		}
		fmt.Fprintf(&b, "Team: %s\n", f.Team)
		if s.Contacts != nil {
			if emails := s.Contacts(f.Team); len(emails) > 0 {
				fmt.Fprintf(&b, "Contacts: %s\n", strings.Join(emails, ", "))
			}
		}
		fmt.Fprintf(&b, "Status: %s\n", f.Status)
		fmt.Fprintf(&b, "Duration: %s\n", formatSeconds(f.Duration))
		fmt.Fprintf(&b, "Category: %s\n", f.ErrorCategory)
		if run.IsNewlyFailing(f.Key()) {
			b.WriteString("Newly failing: yes\n")
		}
		fmt.Fprintf(&b, "\nError:\n%s\n", f.ErrorMessage)
		if f.ErrorStack != "" && f.ErrorStack != f.ErrorMessage {
			fmt.Fprintf(&b, "\nStack:\n%s\n", f.ErrorStack)
		}

		path := filepath.Join(failedDir, name+".log")
		if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
			return fmt.Errorf("failed to write failure log %s: %w", path, err)
		}
	}
	return nil
}

// uniqueName returns name, or name with the first free _N suffix, and marks the result used
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d", name, n)
	}
	used[candidate] = true
	return candidate
}

// truncateName cuts name to at most limit bytes without splitting a rune
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	cut := 0
	for i := range name {
		if i > limit {
			break
		}
		cut = i
	}
	return name[:cut]
}
