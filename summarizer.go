package summarizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-summarizer/aggregator"
	"github.com/ethereum-optimism/infra/op-summarizer/buildinfo"
	"github.com/ethereum-optimism/infra/op-summarizer/exitcodes"
	"github.com/ethereum-optimism/infra/op-summarizer/history"
	"github.com/ethereum-optimism/infra/op-summarizer/ingest"
	"github.com/ethereum-optimism/infra/op-summarizer/ledger"
	"github.com/ethereum-optimism/infra/op-summarizer/metrics"
	"github.com/ethereum-optimism/infra/op-summarizer/reporting"
	"github.com/ethereum-optimism/infra/op-summarizer/service"
	"github.com/ethereum-optimism/infra/op-summarizer/store"
	"github.com/ethereum-optimism/infra/op-summarizer/teams"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// summarizer implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &summarizer{}

// Connector opens the optional run database
type Connector func(ctx context.Context, uri string) (store.Connection, error)

// summarizer turns the output of one test run into reports
type summarizer struct {
	config   *Config
	version  string
	registry *teams.Registry
	history  *history.Store
	connect  Connector
	service  *service.Service
	tracer   trace.Tracer
	result   *reporting.Run

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*summarizer, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		return nil, errors.New("logger is required")
	}
	if err := config.resolve(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	config.Log.Debug("Creating summarizer with config",
		"inputs", config.Inputs,
		"outputDir", config.OutputDir,
		"stateFile", config.StateFile,
		"teamConfig", config.TeamConfig,
		"serve", config.Serve)

	reg, err := teams.LoadRegistry(config.TeamConfig, config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create team registry: %w", err)
	}

	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}
	return &summarizer{
		config:           config,
		version:          version,
		registry:         reg,
		history:          history.NewStore(config.StateFile, config.Log),
		connect:          connectPGX(config),
		tracer:           otel.Tracer("summarizer"),
		shutdownCallback: shutdownCallback,
	}, nil
}

func connectPGX(config *Config) Connector {
	return func(ctx context.Context, uri string) (store.Connection, error) {
		db, err := store.New(ctx, uri, config.Log)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

// Start summarizes the run. Without --serve it returns the outcome as a typed
// error and asks the app to shut down; with --serve it keeps the healthz and
// metrics servers up until stopped.
// Start implements the cliapp.Lifecycle interface.
func (s *summarizer) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			s.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	s.running.Store(true)

	if s.config.Serve {
		s.service = service.New(s.config.Service, s.config.Log)
		if err := s.service.Start(ctx); err != nil {
			return NewRuntimeError(fmt.Errorf("failed to start service: %w", err))
		}
	}

	run, err := s.Summarize(ctx)
	s.result = run
	if err != nil {
		metrics.RecordErrorDetails("summarize", err)
		if s.config.Serve && !IsRuntimeError(err) {
			s.config.Log.Warn("Run summarized with a non-success outcome, still serving", "err", err)
			return nil
		}
		return err
	}

	if s.config.Serve {
		s.config.Log.Info("Summary complete, serving until interrupted")
		return nil
	}

	go func() {
		s.shutdownCallback(nil)
	}()
	return nil
}

// Summarize runs the full pipeline once: load the previous state, ingest the
// inputs, finalize, compare, report, persist.
func (s *summarizer) Summarize(ctx context.Context) (*reporting.Run, error) {
	ctx, span := s.tracer.Start(ctx, "summarize")
	defer span.End()

	runID := uuid.New().String()
	startedAt := time.Now()
	span.SetAttributes(attribute.String("run_id", runID))
	log := s.config.Log.New("run_id", runID)

	prior := s.history.Load()
	if prior == nil {
		log.Info("No previous run state, every failure is new", "path", s.history.Path())
	}

	l := ledger.New(types.TestMetadata{Team: s.config.DefaultTeam})
	ingester := &ingest.Ingester{
		Ledger:      l,
		Teams:       s.registry,
		Log:         log,
		Concurrency: s.config.Concurrency,
		Format:      s.config.Format,
	}
	stats, err := ingester.IngestFiles(ctx, s.config.Inputs)
	metrics.RecordIngest(stats.Events, stats.Skipped, stats.UnknownStatus)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to ingest inputs: %w", err))
	}
	log.Info("Ingested test results", "files", stats.Files, "events", stats.Events, "skipped", stats.Skipped)

	agg := aggregator.New(l, aggregator.Config{TopN: s.config.TopN}, log)
	summary, err := agg.Finalize(ctx)
	if errors.Is(err, aggregator.ErrNoTests) {
		log.Warn("No tests found in inputs", "inputs", s.config.Inputs)
		return nil, NewNoTestsError(s.config.Inputs)
	}
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to finalize run: %w", err))
	}

	info, err := s.buildInfo()
	if err != nil {
		return nil, NewRuntimeError(err)
	}
	buildinfo.Apply(summary, info...)

	run := &reporting.Run{
		ID:         runID,
		Summary:    summary,
		Comparison: history.Compare(summary.FailedKeys(), prior),
		Flaky:      l.Flaky(),
	}
	for _, key := range run.Flaky {
		log.Warn("Flaky test passed after retry", "test", key)
	}

	metrics.RecordRun(runID, summary)
	metrics.RecordFailureCategories(summary)
	metrics.RecordComparison(runID, len(run.Comparison.NewlyFailing), len(run.Comparison.Fixed))
	metrics.RecordFlaky(runID, len(run.Flaky))

	var errs []error
	if err := reporting.Emit(run, s.sinks()...); err != nil {
		errs = append(errs, fmt.Errorf("failed to write reports: %w", err))
	}

	if s.config.DatabaseURI != "" {
		if err := s.push(ctx, run, startedAt); err != nil {
			// The run database is best effort
			log.Error("Failed to store run", "err", err)
			metrics.RecordErrorDetails("store", err)
		}
	}

	if err := s.history.Save(history.StateFromSummary(summary)); err != nil {
		errs = append(errs, fmt.Errorf("failed to save run state: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return run, NewRuntimeError(err)
	}

	log.Info("Run summarized",
		"tests", summary.TestCount,
		"passed", summary.PassedCount,
		"failed", summary.FailedCount,
		"skipped", summary.SkippedCount,
		"flaky", len(run.Flaky),
		"newlyFailing", len(run.Comparison.NewlyFailing),
		"fixed", len(run.Comparison.Fixed),
		"duration", time.Since(startedAt))

	if summary.HasFailures() {
		return run, NewTestFailureError(failureMessage(run))
	}
	return run, nil
}

func (s *summarizer) sinks() []reporting.Sink {
	return []reporting.Sink{
		&reporting.JSONSink{Dir: s.config.OutputDir},
		&reporting.FailureLogSink{Dir: s.config.OutputDir, Contacts: s.registry.Emails},
		&reporting.TableSink{Out: s.config.Stdout, Format: s.config.TableFormat, Color: s.config.Color},
	}
}

func (s *summarizer) buildInfo() ([]map[string]any, error) {
	var sources []map[string]any
	if s.config.BuildInfoFile != "" {
		info, err := buildinfo.LoadFile(s.config.BuildInfoFile)
		if err != nil {
			return nil, err
		}
		sources = append(sources, info)
	}
	if len(s.config.BuildInfoFields) > 0 {
		info, err := buildinfo.FromPairs(s.config.BuildInfoFields)
		if err != nil {
			return nil, err
		}
		sources = append(sources, info)
	}
	return sources, nil
}

func (s *summarizer) push(ctx context.Context, run *reporting.Run, startedAt time.Time) error {
	conn, err := s.connect(ctx, s.config.DatabaseURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.Push(ctx, conn, store.PushInput{
		RunID:      run.ID,
		CreatedAt:  startedAt,
		Summary:    run.Summary,
		Comparison: run.Comparison,
		FlakyCount: len(run.Flaky),
	})
}

func failureMessage(run *reporting.Run) string {
	msg := fmt.Sprintf("%d of %d tests failed", run.Summary.FailedCount, run.Summary.TestCount)
	if n := len(run.Comparison.NewlyFailing); n > 0 {
		msg += fmt.Sprintf(" (%d newly failing: %s)", n, strings.Join(run.Comparison.NewlyFailing, ", "))
	}
	return msg
}

// Stop shuts down the servers started for --serve.
// Stop implements the cliapp.Lifecycle interface.
func (s *summarizer) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-summarizer")

	if !s.running.Load() {
		s.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	s.running.Store(false)

	if s.service != nil {
		s.service.Shutdown()
	}
	s.config.Log.Info("op-summarizer stopped successfully")
	return nil
}

// Stopped returns true if the op-summarizer service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (s *summarizer) Stopped() bool {
	return !s.running.Load()
}

// Result returns the last summarized run, if any
func (s *summarizer) Result() *reporting.Run {
	return s.result
}
