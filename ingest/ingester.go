package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/infra/op-summarizer/ledger"
	"github.com/ethereum-optimism/infra/op-summarizer/teams"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Format selects how an input stream is decoded
type Format string

const (
	FormatAuto   Format = "auto"
	FormatJSONL  Format = "jsonl"
	FormatGoTest Format = "gotest"
)

// StdinPath makes IngestFiles read standard input
const StdinPath = "-"

// DefaultConcurrency is the number of inputs decoded at once
const DefaultConcurrency = 4

// ParseFormat validates a user supplied format name
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSONL, FormatGoTest:
		return f, nil
	}
	return "", fmt.Errorf("unknown input format %q", raw)
}

// Ingester feeds runner output into a ledger. Inputs are decoded
// concurrently; the ledger serializes the writes.
type Ingester struct {
	Ledger      *ledger.Ledger
	Teams       *teams.Registry // Optional
	Log         log.Logger
	Concurrency int
	Format      Format
	GoTest      GoTestSource
}

// IngestFiles decodes every path and records its attempts. The first read
// error cancels the remaining inputs.
func (i *Ingester) IngestFiles(ctx context.Context, paths []string) (Stats, error) {
	if i.Log == nil {
		i.Log = log.New()
		i.Log.Error("No logger provided, using default")
	}
	concurrency := i.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu        sync.Mutex
		total     Stats
		completed int32
	)
	p := pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(concurrency).
		WithContext(ctx).
		WithCancelOnError()
	for _, path := range paths {
		p.Go(func(ctx context.Context) error {
			stats, err := i.ingestFile(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", path, err)
			}

			mu.Lock()
			total.Add(stats)
			mu.Unlock()

			cmpl := atomic.AddInt32(&completed, 1)
			i.Log.Debug("Ingested input",
				"path", path,
				"events", stats.Events,
				"skipped", stats.Skipped,
				"total", len(paths),
				"completed", cmpl,
			)
			if stats.Skipped > 0 {
				i.Log.Warn("Skipped malformed lines", "path", path, "skipped", stats.Skipped)
			}
			if stats.UnknownStatus > 0 {
				i.Log.Warn("Unknown test statuses counted as failures", "path", path, "events", stats.UnknownStatus)
			}
			return nil
		})
	}
	err := p.Wait()
	return total, err
}

func (i *Ingester) ingestFile(ctx context.Context, path string) (Stats, error) {
	var r io.Reader
	if path == StdinPath {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return Stats{}, err
		}
		defer f.Close()
		r = f
	}

	stats, err := i.Ingest(ctx, r)
	stats.Files = 1
	return stats, err
}

// Ingest decodes one stream in the configured format
func (i *Ingester) Ingest(ctx context.Context, r io.Reader) (Stats, error) {
	format := i.Format
	if format == "" || format == FormatAuto {
		var err error
		format, r, err = detectFormat(r)
		if err != nil {
			return Stats{}, err
		}
	}

	unknown := 0
	fn := func(ev Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if status := i.record(ev); !status.IsKnown() {
			unknown++
		}
		return nil
	}

	var (
		stats Stats
		err   error
	)
	switch format {
	case FormatGoTest:
		stats, err = i.GoTest.Decode(r, fn)
	default:
		stats, err = DecodeEvents(r, fn)
	}
	stats.UnknownStatus = unknown
	return stats, err
}

// record adds the attempt carried by ev and returns its status
func (i *Ingester) record(ev Event) types.TestStatus {
	meta := ev.Metadata()
	raw, _ := ev.OwnerAnnotation()
	annotation := teams.ParseAnnotation(raw)
	switch {
	case i.Teams != nil:
		i.Teams.Learn(annotation)
		meta.Team = i.Teams.Owner(ev.Team, annotation, ev.File, ev.Suite)
	case meta.Team == "" && !annotation.IsAbsent():
		meta.Team = annotation.TeamName()
	}
	// Leave unresolved owners empty so the ledger defaults apply
	if meta.Team == types.UnknownTeam {
		meta.Team = ""
	}

	attempt := ev.Attempt()
	attempt.Errors = cleanErrors(attempt.Errors)
	i.Ledger.RecordAttempt(ev.Identity(), meta, attempt)
	return attempt.Status
}

func cleanErrors(errs []types.TestError) []types.TestError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]types.TestError, len(errs))
	for idx, e := range errs {
		out[idx] = types.TestError{
			Message: stripansi.Strip(e.Message),
			Stack:   stripansi.Strip(e.Stack),
		}
	}
	return out
}

// detectFormat peeks at the first non-blank line. test2json lines carry an
// "Action" field which runner events never do.
func detectFormat(r io.Reader) (Format, io.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var consumed bytes.Buffer
	for {
		line, err := br.ReadBytes('\n')
		consumed.Write(line)
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var probe struct {
				Action string `json:"Action"`
				Title  string `json:"title"`
			}
			format := FormatJSONL
			if json.Unmarshal(trimmed, &probe) == nil && probe.Action != "" && probe.Title == "" {
				format = FormatGoTest
			}
			return format, io.MultiReader(&consumed, br), nil
		}
		if err == io.EOF {
			return FormatJSONL, &consumed, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("failed to read input: %w", err)
		}
	}
}
