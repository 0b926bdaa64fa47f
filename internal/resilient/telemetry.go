package resilient

import (
	"sort"
	"sync"
)

// Status tracks where a path stands in its retry lifecycle.
type Status string

const (
	StatusPending   Status = "pending"   // retried at least once, outcome unknown
	StatusOK        Status = "ok"        // succeeded after one or more retries
	StatusFailed    Status = "failed"    // retryable, but the attempt budget ran out
	StatusPermanent Status = "permanent" // non-retryable failure
)

// Record is the per-path retry history.
type Record struct {
	Retries  int
	LastCode string
	Status   Status
}

// Summary is a point-in-time snapshot of the aggregate counters.
type Summary struct {
	Retries           int64 // individual retry attempts across all paths
	Recovered         int64 // paths that succeeded after retrying
	GiveUps           int64 // paths abandoned after exhausting retries
	Permanent         int64 // paths with non-retryable failures
	DirectoriesPruned int64
}

// Telemetry aggregates retry and failure outcomes across one or more
// traversals. It is an explicit, injectable instance rather than a hidden
// process-wide singleton; share one across calls when a combined accounting
// is wanted, and Reset it between independent operations.
type Telemetry struct {
	mu      sync.Mutex
	paths   map[string]*Record
	summary Summary
}

// NewTelemetry returns an empty aggregator.
func NewTelemetry() *Telemetry {
	return &Telemetry{paths: make(map[string]*Record)}
}

func (t *Telemetry) record(path string) *Record {
	r, ok := t.paths[path]
	if !ok {
		r = &Record{Status: StatusPending}
		t.paths[path] = r
	}
	return r
}

// RecordRetry notes one retry attempt for path.
func (t *Telemetry) RecordRetry(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.record(path)
	r.Retries++
	r.LastCode = Code(err)
	r.Status = StatusPending
	t.summary.Retries++
}

// RecordPermanent notes a non-retryable failure for path.
func (t *Telemetry) RecordPermanent(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.record(path)
	r.LastCode = Code(err)
	r.Status = StatusPermanent
	t.summary.Permanent++
}

// RecordGiveUp notes that path kept failing transiently until the attempt
// budget ran out.
func (t *Telemetry) RecordGiveUp(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.record(path)
	r.LastCode = Code(err)
	r.Status = StatusFailed
	t.summary.GiveUps++
}

// RecordRecovery transitions a previously retried path to ok. Idempotent:
// repeated success notifications for the same path, and successes for paths
// that never retried, change nothing.
func (t *Telemetry) RecordRecovery(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.paths[path]
	if !ok || r.Status != StatusPending {
		return
	}
	r.Status = StatusOK
	t.summary.Recovered++
}

// RecordPruned counts one directory skipped wholesale by an ignore rule.
func (t *Telemetry) RecordPruned() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.DirectoriesPruned++
}

// Summary returns the aggregate counters.
func (t *Telemetry) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Detail returns a copy of the full per-path accounting.
func (t *Telemetry) Detail() map[string]Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Record, len(t.paths))
	for p, r := range t.paths {
		out[p] = *r
	}
	return out
}

// FailedPaths lists, sorted, every path that exhausted its retries.
func (t *Telemetry) FailedPaths() []string {
	return t.pathsWith(StatusFailed)
}

// PermanentPaths lists, sorted, every path with a non-retryable failure.
func (t *Telemetry) PermanentPaths() []string {
	return t.pathsWith(StatusPermanent)
}

func (t *Telemetry) pathsWith(s Status) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for p, r := range t.paths {
		if r.Status == s {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Reset clears all counters and per-path records, primarily for test
// isolation between independent operations.
func (t *Telemetry) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = make(map[string]*Record)
	t.summary = Summary{}
}
