package types

// TestFailure is the terminal representation of a test whose final outcome is a failure
type TestFailure struct {
	Title         string  `json:"title"`
	ID            string  `json:"id,omitempty"`
	Suite         string  `json:"suite"`
	File          string  `json:"file"`
	Team          string  `json:"team"`
	Location      string  `json:"location,omitempty"`
	Status        string  `json:"status"`
	ErrorMessage  string  `json:"errorMessage"`
	ErrorStack    string  `json:"errorStack"`
	Duration      float64 `json:"duration"`
	ErrorCategory string  `json:"errorCategory"`
	IsTimeout     bool    `json:"isTimeout"`
}

// Key returns the identity key of the failed test, matching TestIdentity.Key
func (f TestFailure) Key() string {
	return TestIdentity{Title: f.Title, ID: f.ID}.Key()
}

// SlowTest is one entry in the slowest tests ranking
type SlowTest struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// RunSummary is the aggregate snapshot of a run. It is the single source of
// truth for every writer and notifier, none of which recompute its fields.
type RunSummary struct {
	TestCount     int            `json:"testCount"`
	PassedCount   int            `json:"passedCount"`
	SkippedCount  int            `json:"skippedCount"`
	FailedCount   int            `json:"failedCount"`
	PassRate      float64        `json:"passRate"`
	TotalDuration float64        `json:"totalDuration"`
	AverageTime   float64        `json:"averageTime"`
	SlowestTest   float64        `json:"slowestTest"`
	SlowestTests  []SlowTest     `json:"slowestTests"`
	Failures      []TestFailure  `json:"failures"`
	BuildInfo     map[string]any `json:"buildInfo"`
}

// HasFailures reports whether any test ended in a failure
func (s *RunSummary) HasFailures() bool {
	return s.FailedCount > 0
}

// FailedKeys returns the identity keys of the failures in emission order
func (s *RunSummary) FailedKeys() []string {
	keys := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		keys = append(keys, f.Key())
	}
	return keys
}

// RunStatus is the overall verdict persisted between runs
type RunStatus string

const (
	RunStatusPassed RunStatus = "passed"
	RunStatusFailed RunStatus = "failed"
)

// LastRunState is the persisted outcome of the previous run
type LastRunState struct {
	Status      RunStatus `json:"status"`
	FailedTests []string  `json:"failedTests"`
}
