// Package ledger records every attempt of every test observed during a run.
package ledger

import (
	"slices"
	"sync"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Ledger owns the TestRecords of the in-progress run.
//
// Records are kept in an ordered slice alongside a key index so that iteration
// always follows first-seen order. A single mutex guards both; contention is
// low since a worker reports one test at a time.
type Ledger struct {
	mu       sync.Mutex
	records  []*types.TestRecord
	index    map[string]int
	defaults types.TestMetadata
	sealed   bool
	dropped  int
}

// New creates an empty ledger. Empty metadata fields of new records are
// filled from defaults, then from the sentinel values.
func New(defaults types.TestMetadata) *Ledger {
	return &Ledger{
		index:    make(map[string]int),
		defaults: defaults,
	}
}

// RecordAttempt appends an attempt to the record of id, creating the record
// with meta on first observation. Metadata of later attempts is ignored.
// It never fails; attempts arriving after Seal are dropped.
func (l *Ledger) RecordAttempt(id types.TestIdentity, meta types.TestMetadata, attempt types.Attempt) {
	if attempt.Duration < 0 {
		attempt.Duration = 0
	}
	// Attempts are immutable once recorded
	attempt.Errors = slices.Clone(attempt.Errors)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		l.dropped++
		return
	}

	record := l.ensureRecordExists(id, meta)
	record.Attempts = append(record.Attempts, attempt)
}

// indexKey keeps runner IDs and titles in separate key spaces so a title can
// never match another test's ID
func indexKey(id types.TestIdentity) string {
	if id.ID != "" {
		return "id\x00" + id.ID
	}
	return "title\x00" + id.Title
}

// ensureRecordExists creates a record if it doesn't exist and returns it
func (l *Ledger) ensureRecordExists(id types.TestIdentity, meta types.TestMetadata) *types.TestRecord {
	key := indexKey(id)
	if i, exists := l.index[key]; exists {
		return l.records[i]
	}

	record := &types.TestRecord{
		Identity: id,
		Metadata: l.applyDefaults(meta),
	}
	l.index[key] = len(l.records)
	l.records = append(l.records, record)
	return record
}

func (l *Ledger) applyDefaults(meta types.TestMetadata) types.TestMetadata {
	if meta.Suite == "" {
		meta.Suite = l.defaults.Suite
	}
	if meta.File == "" {
		meta.File = l.defaults.File
	}
	if meta.Team == "" {
		meta.Team = l.defaults.Team
	}
	if meta.Location == "" {
		meta.Location = l.defaults.Location
	}
	return meta.WithDefaults()
}

// Seal marks the run as ended. Records become read-only.
func (l *Ledger) Seal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sealed = true
}

// Sealed reports whether Seal was called
func (l *Ledger) Sealed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealed
}

// Dropped returns the number of attempts rejected after Seal
func (l *Ledger) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Len returns the number of distinct tests recorded
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a snapshot of all records in first-seen order. The
// snapshot does not share attempt slices with the ledger.
func (l *Ledger) Records() []*types.TestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*types.TestRecord, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, copyRecord(r))
	}
	return out
}

// Record returns a snapshot of the record of id
func (l *Ledger) Record(id types.TestIdentity) (*types.TestRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, exists := l.index[indexKey(id)]
	if !exists {
		return nil, false
	}
	return copyRecord(l.records[i]), true
}

// Flaky returns the keys of tests that failed before finally passing, in first-seen order
func (l *Ledger) Flaky() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var keys []string
	for _, r := range l.records {
		if r.IsFlaky() {
			keys = append(keys, r.Identity.Key())
		}
	}
	return keys
}

func copyRecord(r *types.TestRecord) *types.TestRecord {
	return &types.TestRecord{
		Identity: r.Identity,
		Metadata: r.Metadata,
		Attempts: slices.Clone(r.Attempts),
	}
}
