package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-summarizer/ledger"
	"github.com/ethereum-optimism/infra/op-summarizer/teams"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func collect(t *testing.T, input string) ([]Event, Stats) {
	t.Helper()
	var events []Event
	stats, err := DecodeEvents(strings.NewReader(input), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	return events, stats
}

func TestDecodeEvents(t *testing.T) {
	input := `{"title":"Login","suite":"Auth","file":"auth.spec.ts","status":"failed","duration":1.5,"errors":[{"message":"Timeout 30000ms exceeded","stack":"at login"}]}

{"title":"Login","suite":"Auth","status":"passed","duration":1.2}
not json
{"suite":"Auth","status":"passed"}
{"title":"NoStatus"}
{"id":"t-1","status":"skipped"}
`
	events, stats := collect(t, input)
	require.Len(t, events, 3)
	assert.Equal(t, Stats{Events: 3, Skipped: 3}, stats)

	assert.Equal(t, "Login", events[0].Title)
	assert.Equal(t, types.TestStatusFailed, events[0].Attempt().Status)
	assert.Equal(t, 1.5, events[0].Attempt().Duration)
	assert.Equal(t, "Timeout 30000ms exceeded", events[0].Attempt().PrimaryMessage())
	assert.Equal(t, types.TestMetadata{Suite: "Auth", File: "auth.spec.ts"}, events[0].Metadata())

	assert.Equal(t, types.TestIdentity{Title: "t-1", ID: "t-1"}, events[2].Identity(),
		"An event without a title is keyed and titled by its id")
}

func TestDecodeEvents_CallbackError(t *testing.T) {
	input := "{\"title\":\"a\",\"status\":\"passed\"}\n{\"title\":\"b\",\"status\":\"passed\"}\n"
	stop := errors.New("stop")
	calls := 0
	stats, err := DecodeEvents(strings.NewReader(input), func(Event) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, stats.Events)
}

func TestEvent_OwnerAnnotation(t *testing.T) {
	ev := Event{Annotations: []EventAnnotation{
		{Type: "issue", Description: "JIRA-1"},
		{Type: AnnotationOwner, Description: "payments"},
	}}
	raw, ok := ev.OwnerAnnotation()
	assert.True(t, ok)
	assert.Equal(t, "payments", raw)

	_, ok = Event{}.OwnerAnnotation()
	assert.False(t, ok)
}

const goTestStream = `{"Action":"start","Package":"example.com/pkg"}
{"Action":"run","Package":"example.com/pkg","Test":"TestA"}
{"Action":"output","Package":"example.com/pkg","Test":"TestA","Output":"=== RUN   TestA\n"}
{"Action":"output","Package":"example.com/pkg","Test":"TestA","Output":"    a_test.go:10: expected 1, got 2\n"}
{"Action":"output","Package":"example.com/pkg","Test":"TestA","Output":"--- FAIL: TestA (0.50s)\n"}
{"Action":"fail","Package":"example.com/pkg","Test":"TestA","Elapsed":0.5}
{"Action":"run","Package":"example.com/pkg","Test":"TestB"}
{"Action":"run","Package":"example.com/pkg","Test":"TestB/sub"}
{"Action":"output","Package":"example.com/pkg","Test":"TestB/sub","Output":"    b_test.go:5: nested failure\n"}
{"Action":"fail","Package":"example.com/pkg","Test":"TestB/sub","Elapsed":0.1}
{"Action":"fail","Package":"example.com/pkg","Test":"TestB","Elapsed":0.2}
{"Action":"run","Package":"example.com/pkg","Test":"TestA"}
{"Action":"pass","Package":"example.com/pkg","Test":"TestA","Elapsed":0.4}
{"Action":"run","Package":"example.com/pkg","Test":"TestC"}
{"Action":"skip","Package":"example.com/pkg","Test":"TestC","Elapsed":0}
{"Action":"run","Package":"example.com/pkg","Test":"TestD"}
{"Action":"output","Package":"example.com/pkg","Test":"TestD","Output":"panic: test timed out after 1m0s\n"}
{"Action":"fail","Package":"example.com/pkg","Elapsed":60}
`

func TestGoTestSource_Decode(t *testing.T) {
	var events []Event
	stats, err := GoTestSource{}.Decode(strings.NewReader(goTestStream), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Events)
	require.Len(t, events, 5)

	a1 := events[0]
	assert.Equal(t, "TestA", a1.Title)
	assert.Equal(t, "example.com/pkg.TestA", a1.ID)
	assert.Equal(t, "example.com/pkg", a1.Suite)
	assert.Equal(t, string(types.TestStatusFailed), a1.Status)
	assert.Equal(t, 0.5, a1.Duration)
	require.Len(t, a1.Errors, 1)
	assert.Equal(t, "a_test.go:10: expected 1, got 2\n--- FAIL: TestA (0.50s)", a1.Errors[0].Message)

	b := events[1]
	assert.Equal(t, "TestB", b.Title)
	require.Len(t, b.Errors, 1)
	assert.Contains(t, b.Errors[0].Message, "nested failure", "Subtest output belongs to the parent")

	a2 := events[2]
	assert.Equal(t, "TestA", a2.Title)
	assert.Equal(t, string(types.TestStatusPassed), a2.Status)
	assert.Empty(t, a2.Errors)

	assert.Equal(t, string(types.TestStatusSkipped), events[3].Status)

	d := events[4]
	assert.Equal(t, "TestD", d.Title)
	assert.Equal(t, string(types.TestStatusTimedOut), d.Status, "Unfinished tests in a timed out package time out")
}

func TestGoTestSource_Incomplete(t *testing.T) {
	stream := `{"Action":"run","Package":"p","Test":"TestCrash"}` + "\n"
	var events []Event
	_, err := GoTestSource{Suite: "unit", Team: "core"}.Decode(strings.NewReader(stream), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(types.TestStatusFailed), events[0].Status)
	assert.Equal(t, "unit", events[0].Suite)
	assert.Equal(t, "core", events[0].Team)
	require.Len(t, events[0].Errors, 1)
	assert.Equal(t, incompleteMessage, events[0].Errors[0].Message)
}

func TestParseFormat(t *testing.T) {
	for raw, want := range map[string]Format{"": FormatAuto, "auto": FormatAuto, "JSONL": FormatJSONL, "gotest": FormatGoTest} {
		got, err := ParseFormat(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestIngester_IngestFiles(t *testing.T) {
	dir := t.TempDir()
	runnerInput := writeInput(t, dir, "results.jsonl",
		`{"title":"Checkout","suite":"Cart","file":"tests/checkout/cart.spec.ts","status":"failed","errors":[{"message":"\u001b[31mNo node found\u001b[39m"}]}`+"\n"+
			`{"title":"Login","suite":"Auth","file":"tests/auth/login.spec.ts","status":"passed","annotations":[{"type":"owner","description":"{\"team\":\"identity\",\"emails\":[\"id@example.com\"]}"}]}`+"\n"+
			"garbage\n")
	goInput := writeInput(t, dir, "go.json", goTestStream)

	reg, err := teams.NewRegistry(teams.Config{Teams: []teams.TeamConfig{
		{Name: "checkout", Paths: []string{"tests/checkout"}},
	}}, testLogger())
	require.NoError(t, err)

	l := ledger.New(types.TestMetadata{Team: "fallback"})
	ing := &Ingester{Ledger: l, Teams: reg, Log: testLogger(), Concurrency: 2}
	stats, err := ing.IngestFiles(context.Background(), []string{runnerInput, goInput})
	require.NoError(t, err)
	assert.Equal(t, Stats{Files: 2, Events: 7, Skipped: 1}, stats)

	checkout, ok := l.Record(types.TestIdentity{Title: "Checkout"})
	require.True(t, ok)
	assert.Equal(t, "checkout", checkout.Metadata.Team)
	assert.Equal(t, "No node found", checkout.Attempts[0].PrimaryMessage(), "ANSI escapes are stripped")

	login, ok := l.Record(types.TestIdentity{Title: "Login"})
	require.True(t, ok)
	assert.Equal(t, "identity", login.Metadata.Team)
	assert.Equal(t, []string{"id@example.com"}, reg.Emails("identity"), "Annotated contacts are learned")

	goA, ok := l.Record(types.TestIdentity{ID: "example.com/pkg.TestA"})
	require.True(t, ok)
	assert.Len(t, goA.Attempts, 2)
	assert.True(t, goA.IsFlaky())
	assert.Equal(t, "fallback", goA.Metadata.Team, "Unresolved owners use the run default")
}

func TestIngester_MissingFile(t *testing.T) {
	ing := &Ingester{Ledger: ledger.New(types.TestMetadata{}), Log: testLogger()}
	_, err := ing.IngestFiles(context.Background(), []string{filepath.Join(t.TempDir(), "nope.jsonl")})
	require.Error(t, err)
}

func TestIngester_ExplicitFormat(t *testing.T) {
	l := ledger.New(types.TestMetadata{})
	ing := &Ingester{Ledger: l, Log: testLogger(), Format: FormatGoTest}
	stats, err := ing.Ingest(context.Background(), strings.NewReader(goTestStream))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Events)
	assert.Equal(t, 4, l.Len())
}

func TestIngester_UnknownStatus(t *testing.T) {
	l := ledger.New(types.TestMetadata{})
	ing := &Ingester{Ledger: l, Log: testLogger(), Format: FormatJSONL}
	input := `{"title":"a","status":"passed"}` + "\n" +
		`{"title":"b","status":"crashed"}` + "\n" +
		`{"title":"c","status":"interrupted"}` + "\n"
	stats, err := ing.Ingest(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Stats{Events: 3, UnknownStatus: 1}, stats)

	b, ok := l.Record(types.TestIdentity{Title: "b"})
	require.True(t, ok)
	assert.Equal(t, types.TestStatus("crashed"), b.FinalOutcome(), "Unknown statuses are kept verbatim")
}

func TestIngester_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ing := &Ingester{Ledger: ledger.New(types.TestMetadata{}), Log: testLogger(), Format: FormatJSONL}
	_, err := ing.Ingest(ctx, strings.NewReader(`{"title":"a","status":"passed"}`))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDetectFormat(t *testing.T) {
	f, r, err := detectFormat(strings.NewReader("\n" + goTestStream))
	require.NoError(t, err)
	assert.Equal(t, FormatGoTest, f)

	var n int
	_, err = GoTestSource{}.Decode(r, func(Event) error { n++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 5, n, "Peeked bytes are replayed")

	f, _, err = detectFormat(strings.NewReader(`{"title":"x","status":"passed"}`))
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)

	f, _, err = detectFormat(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, FormatJSONL, f)
}
