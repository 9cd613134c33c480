package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// DefaultStateFile is the file name used when no explicit path is configured
const DefaultStateFile = ".last-run.json"

// Store persists the LastRunState of a run as JSON on the local filesystem
type Store struct {
	path string
	log  log.Logger
}

// NewStore creates a file-backed store
func NewStore(path string, logger log.Logger) *Store {
	if path == "" {
		path = DefaultStateFile
	}
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Store{path: path, log: logger}
}

// Path returns the location of the state file
func (s *Store) Path() string {
	return s.path
}

// Load reads the previous run state. A missing or malformed file is treated
// as no history and yields nil.
func (s *Store) Load() *types.LastRunState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("Failed to read last run state, ignoring history", "path", s.path, "err", err)
		}
		return nil
	}

	var state types.LastRunState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("Malformed last run state, ignoring history", "path", s.path, "err", err)
		return nil
	}
	if state.Status != types.RunStatusPassed && state.Status != types.RunStatusFailed {
		s.log.Warn("Unknown status in last run state, ignoring history", "path", s.path, "status", state.Status)
		return nil
	}
	return &state
}

// Save overwrites the state file. The file is replaced atomically so a
// crash never leaves a truncated state behind.
func (s *Store) Save(state types.LastRunState) error {
	if state.FailedTests == nil {
		state.FailedTests = make([]string, 0)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal last run state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", s.path, err)
	}
	return nil
}
