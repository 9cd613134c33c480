// Package aggregator turns the records of a finished run into a RunSummary.
package aggregator

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-summarizer/classify"
	"github.com/ethereum-optimism/infra/op-summarizer/ledger"
	"github.com/ethereum-optimism/infra/op-summarizer/metrics"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// DefaultTopN is the default length of the slowest tests ranking
const DefaultTopN = 10

// ErrNoTests is returned when a run recorded no tests. Callers decide how to
// terminate; no summary is produced since the pass rate is undefined.
var ErrNoTests = errors.New("no tests were recorded")

// Config controls derived statistics
type Config struct {
	TopN int // Length of SlowestTests, negative values are treated as 0
}

// Finalize computes the summary of a run from its records, iterated in the
// given order. records is read only.
func Finalize(records []*types.TestRecord, cfg Config) (*types.RunSummary, error) {
	if len(records) == 0 {
		return nil, ErrNoTests
	}

	summary := &types.RunSummary{
		SlowestTests: make([]types.SlowTest, 0),
		Failures:     make([]types.TestFailure, 0),
		BuildInfo:    make(map[string]any),
	}

	var pool []types.SlowTest
	for _, record := range records {
		summary.TestCount++
		for _, a := range record.Attempts {
			summary.TotalDuration += a.Duration
		}

		final, ok := record.FinalAttempt()
		switch {
		case ok && final.Status.IsPass():
			summary.PassedCount++
			// Every passed attempt counts, not just the final one
			for _, a := range record.Attempts {
				if a.Status.IsPass() {
					pool = append(pool, types.SlowTest{Title: record.Identity.Title, Duration: a.Duration})
				}
			}
		case ok && final.Status.IsSkip():
			summary.SkippedCount++
		default:
			// Failures, timeouts, interruptions and unrecognized statuses
			summary.Failures = append(summary.Failures, newFailure(record, final))
		}
	}

	summary.FailedCount = len(summary.Failures)
	summary.PassRate = round2(float64(summary.PassedCount) / float64(summary.TestCount) * 100)
	summary.TotalDuration = round2(summary.TotalDuration)

	if len(pool) > 0 {
		var sum float64
		for _, p := range pool {
			sum += p.Duration
			summary.SlowestTest = math.Max(summary.SlowestTest, p.Duration)
		}
		summary.AverageTime = sum / float64(len(pool))
	}
	summary.SlowestTests = rankSlowest(pool, cfg.TopN)

	return summary, nil
}

// newFailure builds the terminal representation of a failed record from its final attempt
func newFailure(record *types.TestRecord, final types.Attempt) types.TestFailure {
	message := final.PrimaryMessage()

	stacks := make([]string, 0, len(final.Errors))
	isTimeout := final.Status == types.TestStatusTimedOut
	for _, e := range final.Errors {
		if strings.Contains(strings.ToLower(e.Message), "timeout") {
			isTimeout = true
		}
		switch {
		case e.Stack != "":
			stacks = append(stacks, e.Stack)
		case e.Message != "":
			stacks = append(stacks, e.Message)
		}
	}

	status := string(final.Status)
	if status == "" {
		status = string(types.TestStatusFailed)
	}

	return types.TestFailure{
		Title:         record.Identity.Title,
		ID:            record.Identity.ID,
		Suite:         record.Metadata.Suite,
		File:          record.Metadata.File,
		Team:          record.Metadata.Team,
		Location:      record.Metadata.Location,
		Status:        status,
		ErrorMessage:  message,
		ErrorStack:    strings.Join(stacks, "\n"),
		Duration:      final.Duration,
		ErrorCategory: classify.Categorize(message).String(),
		IsTimeout:     isTimeout,
	}
}

// rankSlowest sorts a copy of pool by descending duration and keeps the first n.
// The sort is stable so equal durations keep their insertion order.
func rankSlowest(pool []types.SlowTest, n int) []types.SlowTest {
	n = max(n, 0)
	ranked := slices.Clone(pool)
	slices.SortStableFunc(ranked, func(a, b types.SlowTest) int {
		return cmp.Compare(b.Duration, a.Duration)
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	if ranked == nil {
		ranked = make([]types.SlowTest, 0)
	}
	return ranked
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Aggregator finalizes a ledger once the run has ended
type Aggregator struct {
	ledger *ledger.Ledger
	cfg    Config
	log    log.Logger
	tracer trace.Tracer
}

// New creates an aggregator bound to the ledger of one run
func New(l *ledger.Ledger, cfg Config, logger log.Logger) *Aggregator {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Aggregator{
		ledger: l,
		cfg:    cfg,
		log:    logger,
		tracer: otel.Tracer("aggregator"),
	}
}

// Finalize seals the ledger and computes the run summary.
// It must only be called after every worker has stopped recording.
func (a *Aggregator) Finalize(ctx context.Context) (*types.RunSummary, error) {
	_, span := a.tracer.Start(ctx, "aggregator.Finalize")
	defer span.End()

	a.ledger.Seal()
	records := a.ledger.Records()
	span.SetAttributes(attribute.Int("records", len(records)))
	if dropped := a.ledger.Dropped(); dropped > 0 {
		a.log.Warn("Attempts recorded after the ledger was sealed were dropped", "dropped", dropped)
		metrics.RecordDropped(dropped)
		span.SetAttributes(attribute.Int("dropped", dropped))
	}

	summary, err := Finalize(records, a.cfg)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	a.log.Debug("Finalized run summary",
		"tests", summary.TestCount,
		"passed", summary.PassedCount,
		"failed", summary.FailedCount,
		"skipped", summary.SkippedCount,
		"passRate", summary.PassRate)
	return summary, nil
}
