package tree

import (
	"context"

	"github.com/gregpriday/copytree-sub000/internal/budget"
	"github.com/gregpriday/copytree-sub000/internal/ignore"
	"github.com/gregpriday/copytree-sub000/internal/resilient"
	"github.com/gregpriday/copytree-sub000/internal/traverse"
)

// Re-export the traversal types and constants from the internal packages.
type (
	// Options configures a traversal.
	Options = traverse.Options

	// Entry is one accepted traversal result.
	Entry = traverse.Entry

	// FileStat is the filesystem metadata captured for an entry.
	FileStat = traverse.FileStat

	// WalkFunc consumes accepted entries.
	WalkFunc = traverse.WalkFunc

	// WatchOptions configures Watch.
	WatchOptions = traverse.WatchOptions

	// WatchEvent classifies a filesystem change.
	WatchEvent = traverse.WatchEvent

	// WatchMessage describes one accepted filesystem change.
	WatchMessage = traverse.WatchMessage

	// WatchResult is either a watch message or a watcher error.
	WatchResult = traverse.WatchResult

	// WatchHandler processes watch results.
	WatchHandler = traverse.WatchHandler

	// Layer is the compiled rule set of one ignore file.
	Layer = ignore.Layer

	// Rule is a single pattern from an ignore file.
	Rule = ignore.Rule

	// Decision records how the layer stack judged one path.
	Decision = ignore.Decision

	// RetryConfig tunes the resilient wrapper around filesystem calls.
	RetryConfig = resilient.Config

	// Telemetry aggregates retry and failure outcomes for a traversal.
	Telemetry = resilient.Telemetry

	// TelemetrySummary is a snapshot of the aggregate error counters.
	TelemetrySummary = resilient.Summary

	// BudgetManager owns named concurrency domains drawn from one global
	// budget.
	BudgetManager = budget.Manager
)

const (
	// DefaultIgnoreFile is the per-directory rule-file name honored by
	// default.
	DefaultIgnoreFile = ignore.DefaultIgnoreFile

	// DefaultConcurrency is the parallel strategy's default directory-read
	// bound.
	DefaultConcurrency = traverse.DefaultConcurrency

	// Watch event types.
	EventCreate = traverse.EventCreate
	EventModify = traverse.EventModify
	EventDelete = traverse.EventDelete
	EventRename = traverse.EventRename
	EventChmod  = traverse.EventChmod
)

// ErrAborted is returned when a traversal is canceled through its context.
var ErrAborted = traverse.ErrAborted

// Walk traverses the tree depth-first in deterministic name-sorted order.
func Walk(ctx context.Context, opts Options, fn WalkFunc) error {
	return traverse.Walk(ctx, opts, fn)
}

// WalkParallel traverses the tree breadth-first with bounded concurrency
// and backpressure.
func WalkParallel(ctx context.Context, opts Options, fn WalkFunc) error {
	return traverse.WalkParallel(ctx, opts, fn)
}

// Watch reports filesystem changes to paths the ignore stack accepts.
func Watch(ctx context.Context, opts WatchOptions, handler WatchHandler) error {
	return traverse.Watch(ctx, opts, handler)
}

// Evaluate computes the ignore verdict for a path against a layer stack.
func Evaluate(path string, layers []*Layer, isDir bool) Decision {
	return ignore.Evaluate(path, layers, isDir)
}

// ParseLayer compiles ignore-file lines into a layer scoped to base.
func ParseLayer(base string, lines []string) *Layer {
	return ignore.ParseLayer(base, lines)
}

// LoadLayer reads and compiles the named ignore file in dir, using the
// default on-disk reader. Returns nil when the file contributes no rules.
func LoadLayer(dir, name string) *Layer {
	return ignore.LoadLayer(dir, name, nil)
}

// NewTelemetry returns an empty error-telemetry aggregator.
func NewTelemetry() *Telemetry {
	return resilient.NewTelemetry()
}

// NewBudgetManager creates a budget manager with the given global
// concurrency total; non-positive totals default to four slots per CPU.
func NewBudgetManager(total int64) *BudgetManager {
	return budget.NewManager(total)
}

// DefaultRetryConfig returns retry settings suitable for local
// filesystems.
func DefaultRetryConfig() RetryConfig {
	return resilient.DefaultConfig()
}
