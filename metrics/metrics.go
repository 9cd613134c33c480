package metrics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-summarizer/classify"
	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

const (
	MetricsNamespace = "summarizer"
)

var (
	Debug                bool = true
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Overall result of a summarized run",
	}, []string{
		"run_id",
		"result",
	})

	runTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests",
		Help:      "Number of tests in a run by final outcome",
	}, []string{
		"run_id",
		"outcome",
	})

	runPassRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_pass_rate",
		Help:      "Percentage of tests that passed",
	}, []string{
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Summed duration of every attempt in a run",
	}, []string{
		"run_id",
	})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "failures_total",
		Help:      "Count of failed tests by error category and team",
	}, []string{
		"category",
		"team",
	})

	comparisonTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "comparison_tests",
		Help:      "Tests whose outcome changed since the previous run",
	}, []string{
		"run_id",
		"change",
	})

	flakyTests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "flaky_tests",
		Help:      "Tests that passed only after a retry",
	}, []string{
		"run_id",
	})

	ingestedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "ingested_events_total",
		Help:      "Count of runner events read from inputs",
	}, []string{
		"result",
	})
)

func init() {
	// Export every category from the first scrape on
	for _, c := range classify.Categories() {
		failuresTotal.WithLabelValues(c.String(), types.UnknownTeam)
	}
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordRun publishes the headline numbers of a finalized summary
func RecordRun(runID string, summary *types.RunSummary) {
	if summary == nil {
		log.Error("RecordRun - nil summary", "run_id", runID)
		return
	}
	result := types.RunStatusPassed
	if summary.HasFailures() {
		result = types.RunStatusFailed
	}
	if Debug {
		log.Debug("metric set",
			"m", "run_results",
			"run_id", runID,
			"result", result,
			"tests", summary.TestCount,
		)
	}
	runResults.WithLabelValues(runID, string(result)).Set(1)
	runTests.WithLabelValues(runID, string(types.TestStatusPassed)).Set(float64(summary.PassedCount))
	runTests.WithLabelValues(runID, string(types.TestStatusFailed)).Set(float64(summary.FailedCount))
	runTests.WithLabelValues(runID, string(types.TestStatusSkipped)).Set(float64(summary.SkippedCount))
	runPassRate.WithLabelValues(runID).Set(summary.PassRate)
	runDuration.WithLabelValues(runID).Set(summary.TotalDuration)
}

// RecordFailureCategories counts every failure of the summary by category and team
func RecordFailureCategories(summary *types.RunSummary) {
	if summary == nil {
		return
	}
	for _, f := range summary.Failures {
		failuresTotal.WithLabelValues(f.ErrorCategory, f.Team).Inc()
	}
}

// RecordComparison publishes how many tests changed outcome since the previous run
func RecordComparison(runID string, newlyFailing, fixed int) {
	comparisonTests.WithLabelValues(runID, "newly_failing").Set(float64(newlyFailing))
	comparisonTests.WithLabelValues(runID, "fixed").Set(float64(fixed))
}

// RecordFlaky publishes the number of tests that needed a retry to pass
func RecordFlaky(runID string, count int) {
	flakyTests.WithLabelValues(runID).Set(float64(count))
}

// RecordIngest counts accepted and skipped input events, and accepted events
// carrying a status no runner emits
func RecordIngest(events, skipped, unknownStatus int) {
	ingestedEventsTotal.WithLabelValues("accepted").Add(float64(events))
	ingestedEventsTotal.WithLabelValues("skipped").Add(float64(skipped))
	ingestedEventsTotal.WithLabelValues("unknown_status").Add(float64(unknownStatus))
}

// RecordDropped counts attempts that arrived after the run was finalized
func RecordDropped(count int) {
	ingestedEventsTotal.WithLabelValues("dropped").Add(float64(count))
}
