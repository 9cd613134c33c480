// Package history compares the failures of the current run with the previous one.
package history

import (
	"slices"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Comparison is the set difference between two runs' failing tests
type Comparison struct {
	NewlyFailing []string `json:"newlyFailing"`
	Fixed        []string `json:"fixed"`
}

// WasFailingPreviously reports whether key failed in the prior run.
// A missing prior state means nothing was failing.
func WasFailingPreviously(key string, prior *types.LastRunState) bool {
	if prior == nil {
		return false
	}
	return slices.Contains(prior.FailedTests, key)
}

// Compare computes newlyFailing = current - prior and fixed = prior - current.
// Results keep the iteration order of the side they come from.
func Compare(current []string, prior *types.LastRunState) Comparison {
	cmp := Comparison{
		NewlyFailing: make([]string, 0),
		Fixed:        make([]string, 0),
	}

	var priorFailed []string
	if prior != nil {
		priorFailed = prior.FailedTests
	}

	currentSet := toSet(current)
	priorSet := toSet(priorFailed)

	for _, key := range dedupe(current) {
		if _, ok := priorSet[key]; !ok {
			cmp.NewlyFailing = append(cmp.NewlyFailing, key)
		}
	}
	for _, key := range dedupe(priorFailed) {
		if _, ok := currentSet[key]; !ok {
			cmp.Fixed = append(cmp.Fixed, key)
		}
	}
	return cmp
}

// StateFromSummary derives the state persisted for the next run
func StateFromSummary(summary *types.RunSummary) types.LastRunState {
	state := types.LastRunState{
		Status:      types.RunStatusPassed,
		FailedTests: dedupe(summary.FailedKeys()),
	}
	if summary.HasFailures() {
		state.Status = types.RunStatusFailed
	}
	return state
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// dedupe keeps the first occurrence of every key, treating the slice as an ordered set
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
