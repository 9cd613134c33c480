package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	SummaryFileName    = "summary.json"
	ComparisonFileName = "comparison.json"
)

// JSONSink writes the machine readable run summary and comparison into Dir
type JSONSink struct {
	Dir string
}

func (s *JSONSink) Name() string { return "json" }

func (s *JSONSink) Emit(run *Run) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := writeJSON(filepath.Join(s.Dir, SummaryFileName), run.Summary); err != nil {
		return err
	}
	return writeJSON(filepath.Join(s.Dir, ComparisonFileName), run.Comparison)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
