package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-summarizer/aggregator"
	"github.com/ethereum-optimism/infra/op-summarizer/history"
	"github.com/ethereum-optimism/infra/op-summarizer/reporting"
	"github.com/ethereum-optimism/infra/op-summarizer/store"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

const firstRun = `{"title":"Login","suite":"Auth","file":"tests/auth/login.spec.ts","status":"failed","duration":2,"errors":[{"message":"Timeout 30000ms exceeded"}]}
{"title":"Login","suite":"Auth","file":"tests/auth/login.spec.ts","status":"passed","duration":1}
{"title":"Checkout","suite":"Cart","file":"tests/checkout/cart.spec.ts","status":"failed","duration":3,"errors":[{"message":"No node found for selector #pay","stack":"at pay (cart.spec.ts:12)"}]}
{"title":"Search","suite":"Search","file":"tests/search.spec.ts","status":"failed","duration":0.5,"errors":[{"message":"net::ERR_CONNECTION_REFUSED"}]}
{"title":"Docs","suite":"Docs","status":"skipped"}
`

const secondRun = `{"title":"Checkout","suite":"Cart","status":"failed","errors":[{"message":"TypeError: x is undefined"}]}
{"title":"Search","suite":"Search","status":"passed","duration":0.4}
{"title":"Profile","suite":"Account","status":"failed","errors":[{"message":"Permission denied"}]}
`

const teamsConfig = `
teams:
  - name: payments
    paths: ["tests/checkout"]
`

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

type testEnv struct {
	dir    string
	stdout *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	return &testEnv{dir: t.TempDir(), stdout: &bytes.Buffer{}}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func (e *testEnv) config(inputs ...string) *Config {
	return &Config{
		Inputs:    inputs,
		OutputDir: filepath.Join(e.dir, "out"),
		TopN:      2,
		Stdout:    e.stdout,
		Log:       testLogger(),
	}
}

func newSummarizer(t *testing.T, cfg *Config) *summarizer {
	t.Helper()
	s, err := New(context.Background(), cfg, "test", nil)
	require.NoError(t, err)
	return s
}

func readSummary(t *testing.T, dir string) types.RunSummary {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, reporting.SummaryFileName))
	require.NoError(t, err)
	var summary types.RunSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	return summary
}

func TestSummarize_TwoRuns(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run1.jsonl", firstRun))
	cfg.TeamConfig = env.write(t, "teams.yaml", teamsConfig)
	cfg.DefaultTeam = "qa"

	run, err := newSummarizer(t, cfg).Summarize(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	require.NotNil(t, run)

	summary := readSummary(t, cfg.OutputDir)
	assert.Equal(t, 4, summary.TestCount)
	assert.Equal(t, 1, summary.PassedCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Equal(t, 2, summary.FailedCount)
	assert.Equal(t, 25.0, summary.PassRate)
	assert.Equal(t, 6.5, summary.TotalDuration)
	require.Len(t, summary.SlowestTests, 1, "Only passed attempts are ranked")
	assert.Equal(t, types.SlowTest{Title: "Login", Duration: 1}, summary.SlowestTests[0])

	require.Len(t, summary.Failures, 2)
	assert.Equal(t, "Checkout", summary.Failures[0].Title)
	assert.Equal(t, "ElementNotFound", summary.Failures[0].ErrorCategory)
	assert.Equal(t, "payments", summary.Failures[0].Team)
	assert.Equal(t, "NetworkError", summary.Failures[1].ErrorCategory)
	assert.Equal(t, "qa", summary.Failures[1].Team)

	assert.Equal(t, []string{"Login"}, run.Flaky)
	assert.Equal(t, []string{"Checkout", "Search"}, run.Comparison.NewlyFailing, "Without prior state every failure is new")
	assert.Empty(t, run.Comparison.Fixed)

	assert.FileExists(t, filepath.Join(cfg.OutputDir, reporting.ComparisonFileName))
	assert.FileExists(t, filepath.Join(cfg.OutputDir, reporting.FailedDirName, "Checkout.log"))
	assert.Contains(t, env.stdout.String(), "ElementNotFound")

	state := history.NewStore(cfg.StateFile, testLogger()).Load()
	require.NotNil(t, state)
	assert.Equal(t, types.RunStatusFailed, state.Status)
	assert.Equal(t, []string{"Checkout", "Search"}, state.FailedTests)

	// The second run compares against the state saved by the first
	cfg2 := env.config(env.write(t, "run2.jsonl", secondRun))
	run, err = newSummarizer(t, cfg2).Summarize(context.Background())
	require.True(t, IsTestFailureError(err))
	assert.Equal(t, []string{"Profile"}, run.Comparison.NewlyFailing)
	assert.Equal(t, []string{"Search"}, run.Comparison.Fixed)
	assert.Contains(t, err.Error(), "2 of 3 tests failed")
	assert.Contains(t, err.Error(), "Profile")
}

func TestSummarize_AllPass(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", `{"title":"a","status":"passed","duration":1}`+"\n"))

	run, err := newSummarizer(t, cfg).Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusPassed, run.Status())

	state := history.NewStore(cfg.StateFile, testLogger()).Load()
	require.NotNil(t, state)
	assert.Equal(t, types.RunStatusPassed, state.Status)
	assert.Empty(t, state.FailedTests)
}

func TestSummarize_NoTests(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "empty.jsonl", "\n"))

	run, err := newSummarizer(t, cfg).Summarize(context.Background())
	require.Error(t, err)
	assert.Nil(t, run)
	assert.True(t, IsNoTestsError(err))
	assert.True(t, errors.Is(err, aggregator.ErrNoTests))
	assert.NoFileExists(t, cfg.StateFile, "An empty run must not replace the previous state")
}

func TestSummarize_MissingInput(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(filepath.Join(env.dir, "missing.jsonl"))

	_, err := newSummarizer(t, cfg).Summarize(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestSummarize_BuildInfo(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", `{"title":"a","status":"passed"}`+"\n"))
	cfg.BuildInfoFile = env.write(t, "build.yaml", "branch: main\ncommit: abc\n")
	cfg.BuildInfoFields = []string{"commit=def", "job=42"}

	_, err := newSummarizer(t, cfg).Summarize(context.Background())
	require.NoError(t, err)

	summary := readSummary(t, cfg.OutputDir)
	assert.Equal(t, map[string]any{"branch": "main", "commit": "def", "job": "42"}, summary.BuildInfo)
}

func TestSummarize_InvalidBuildInfo(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", `{"title":"a","status":"passed"}`+"\n"))
	cfg.BuildInfoFields = []string{"novalue"}

	_, err := newSummarizer(t, cfg).Summarize(context.Background())
	assert.True(t, IsRuntimeError(err))
}

type fakeConn struct {
	tx       *fakeTx
	closed   bool
	beginErr error
}

func (c *fakeConn) EnsureSchema(context.Context) error { return nil }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}
func (c *fakeConn) Begin(context.Context) (store.Transactor, error) {
	if c.beginErr != nil {
		return nil, c.beginErr
	}
	return c.tx, nil
}

type fakeTx struct {
	runs      []store.Run
	failures  []store.Failure
	committed bool
}

func (t *fakeTx) InsertRun(_ context.Context, r store.Run) error {
	t.runs = append(t.runs, r)
	return nil
}
func (t *fakeTx) InsertFailure(_ context.Context, f store.Failure) error {
	t.failures = append(t.failures, f)
	return nil
}
func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) {}

func TestSummarize_StoresRun(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", firstRun))
	cfg.DatabaseURI = "postgres://example"

	conn := &fakeConn{tx: &fakeTx{}}
	s := newSummarizer(t, cfg)
	s.connect = func(_ context.Context, uri string) (store.Connection, error) {
		assert.Equal(t, "postgres://example", uri)
		return conn, nil
	}

	run, err := s.Summarize(context.Background())
	require.True(t, IsTestFailureError(err))
	assert.True(t, conn.tx.committed)
	assert.True(t, conn.closed)
	require.Len(t, conn.tx.runs, 1)
	assert.Equal(t, run.ID, conn.tx.runs[0].ID)
	assert.Equal(t, 1, conn.tx.runs[0].FlakyCount)
	assert.Len(t, conn.tx.failures, 2)
}

func TestSummarize_StoreFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", `{"title":"a","status":"passed"}`+"\n"))
	cfg.DatabaseURI = "postgres://example"

	s := newSummarizer(t, cfg)
	s.connect = func(context.Context, string) (store.Connection, error) {
		return &fakeConn{beginErr: errors.New("db down")}, nil
	}
	_, err := s.Summarize(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, cfg.StateFile)
}

func TestStart_RunOnce(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", `{"title":"a","status":"passed"}`+"\n"))

	shutdown := make(chan error, 1)
	s, err := New(context.Background(), cfg, "test", func(err error) { shutdown <- err })
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Stopped())
	require.NotNil(t, s.Result())

	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback was not invoked")
	}

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, s.Stopped())
	require.NoError(t, s.Stop(context.Background()), "Stopping twice is a no-op")
}

func TestStart_FailuresReturnTypedError(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", firstRun))

	s := newSummarizer(t, cfg)
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.True(t, strings.HasPrefix(err.Error(), "test failure:"))
	require.NotNil(t, s.Result(), "Failed runs are still reported")
}

func TestStart_ServeKeepsRunning(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.write(t, "run.jsonl", firstRun))
	cfg.Serve = true
	cfg.Service.HealthzAddr = "127.0.0.1:0"
	cfg.Service.MetricsAddr = "127.0.0.1:0"

	s := newSummarizer(t, cfg)
	require.NoError(t, s.Start(context.Background()), "Test failures do not stop a serving instance")
	assert.False(t, s.Stopped())
	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, s.Stopped())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), nil, "test", nil)
	require.Error(t, err)

	_, err = New(context.Background(), &Config{Inputs: []string{"a"}}, "test", nil)
	require.Error(t, err, "A logger is required")

	_, err = New(context.Background(), &Config{Log: testLogger()}, "test", nil)
	require.Error(t, err, "At least one input is required")

	env := newTestEnv(t)
	cfg := env.config("in.jsonl")
	cfg.TeamConfig = env.write(t, "teams.yaml", "teams:\n  - emails: [x]\n")
	_, err = New(context.Background(), cfg, "test", nil)
	require.Error(t, err, "Invalid team configs are rejected")
}
