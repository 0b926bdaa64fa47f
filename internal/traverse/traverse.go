// Package traverse implements ignore-aware filesystem traversal with two
// interchangeable strategies: a sequential depth-first walk and a parallel
// breadth-first walk with bounded concurrency and backpressure. Both
// produce the same set of accepted entries for the same inputs; only
// ordering and latency characteristics differ.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/karrick/godirwalk"
	"go.uber.org/zap"

	"github.com/gregpriday/copytree-sub000/internal/budget"
	"github.com/gregpriday/copytree-sub000/internal/ignore"
	"github.com/gregpriday/copytree-sub000/internal/resilient"
)

// DefaultConcurrency is the parallel strategy's directory-read bound when
// none is configured.
const DefaultConcurrency = 8

// ErrAborted is returned when a traversal is canceled through its context.
// An aborted walk fails promptly rather than returning a silently
// truncated result.
var ErrAborted = errors.New("traversal aborted")

// Options configures a traversal.
type Options struct {
	// Root is the directory to walk. Required; it must exist and be a
	// directory, and is resolved to an absolute path before walking.
	Root string

	// IgnoreFile is the per-directory rule-file name to honor. Defaults to
	// ignore.DefaultIgnoreFile. The rule file itself never appears in the
	// output stream.
	IgnoreFile string

	// BaseLayers are pre-seeded ignore layers evaluated before any layer
	// discovered during the walk, e.g. rules a collaborator loaded from a
	// VCS ignore file.
	BaseLayers []*ignore.Layer

	// ReadRules loads rule-file lines; nil uses ignore.DefaultReader.
	ReadRules ignore.Reader

	// IncludeDirectories yields directory entries themselves, not just
	// files. The root is never yielded.
	IncludeDirectories bool

	// FollowSymlinks resolves symlinks and descends into symlinked
	// directories. When false, symlinks are skipped entirely; no partial
	// information is yielded for them.
	FollowSymlinks bool

	// MaxDepth bounds recursion: 1 walks only the root's entries. Zero
	// means unlimited.
	MaxDepth int

	// Explain attaches the ignore Decision to every yielded entry.
	Explain bool

	// Retry tunes the resilient wrapper around every filesystem call.
	// Zero value uses resilient.DefaultConfig.
	Retry resilient.Config

	// Concurrency bounds simultaneously in-flight directory reads for the
	// parallel strategy. Defaults to DefaultConcurrency.
	Concurrency int

	// HighWater caps the parallel strategy's internal result buffer;
	// production pauses at the mark until the consumer drains. Defaults
	// to twice Concurrency.
	HighWater int

	// Logger receives debug/warn output; nil disables logging.
	Logger *zap.Logger

	// Telemetry records retries, failures and pruning. A fresh aggregator
	// is created when nil; inject one to inspect it after the walk.
	Telemetry *resilient.Telemetry

	// Budgets supplies the concurrency domains for the parallel strategy.
	// A private manager is created when nil.
	Budgets *budget.Manager
}

// FileStat is the filesystem metadata captured for an accepted entry. For
// followed symlinks it describes the target.
type FileStat struct {
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
	Dev     uint64
	Ino     uint64
	IsDir   bool
	Symlink bool // the directory entry itself was a symlink
}

// Entry is one accepted traversal result. Never mutated after creation;
// ownership transfers to the consumer once yielded.
type Entry struct {
	Path string
	Stat FileStat
	Why  *ignore.Decision // populated when Options.Explain is set
}

// WalkFunc consumes accepted entries. Returning a non-nil error stops the
// traversal and propagates the error to the caller.
type WalkFunc func(Entry) error

// walker carries the resolved configuration shared by both strategies.
type walker struct {
	opts       Options
	root       string
	ignoreFile string
	readRules  ignore.Reader
	log        *zap.Logger
	tel        *resilient.Telemetry
	budgets    *budget.Manager

	mu      sync.Mutex
	visited map[inodeKey]struct{} // followed symlink targets, one traversal only
}

// inodeKey identifies a file across paths for symlink-cycle detection.
type inodeKey struct {
	dev uint64
	ino uint64
}

func newWalker(ctx context.Context, opts Options) (*walker, error) {
	if opts.Root == "" {
		return nil, errors.New("traverse: root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("traverse: resolving root %q: %w", opts.Root, err)
	}

	w := &walker{
		opts:       opts,
		root:       root,
		ignoreFile: opts.IgnoreFile,
		readRules:  opts.ReadRules,
		log:        opts.Logger,
		tel:        opts.Telemetry,
		budgets:    opts.Budgets,
		visited:    make(map[inodeKey]struct{}),
	}
	if w.ignoreFile == "" {
		w.ignoreFile = ignore.DefaultIgnoreFile
	}
	if w.readRules == nil {
		w.readRules = ignore.DefaultReader
	}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	if w.tel == nil {
		w.tel = resilient.NewTelemetry()
	}
	if w.budgets == nil {
		w.budgets = budget.NewManager(0)
	}
	if w.opts.Retry.MaxAttempts == 0 {
		w.opts.Retry = resilient.DefaultConfig()
	}
	if w.opts.Concurrency < 1 {
		w.opts.Concurrency = DefaultConcurrency
	}
	if w.opts.HighWater < 1 {
		w.opts.HighWater = 2 * w.opts.Concurrency
	}

	// A missing or non-directory root is catastrophic, unlike per-path
	// failures deeper in the walk.
	info, ok, err := retryStat(ctx, w, root, os.Stat)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("traverse: root %q is not accessible", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("traverse: root %q is not a directory", root)
	}
	if key, ok := fileIdentity(info); ok {
		w.visited[key] = struct{}{}
	}
	return w, nil
}

// rootLayers builds the initial layer stack: pre-seeded base layers first,
// then the root's own rule file if it contributes rules.
func (w *walker) rootLayers() []*ignore.Layer {
	layers := slices.Clone(w.opts.BaseLayers)
	if layer := ignore.LoadLayer(w.root, w.ignoreFile, w.readRules); layer != nil {
		layers = append(layers, layer)
	}
	return layers
}

// childLayers extends the stack with dir's own rule file, if any. The
// parent stack is never mutated; sibling subtrees share it.
func (w *walker) childLayers(dir string, layers []*ignore.Layer) []*ignore.Layer {
	layer := ignore.LoadLayer(dir, w.ignoreFile, w.readRules)
	if layer == nil {
		return layers
	}
	return append(slices.Clone(layers), layer)
}

// markVisited records a file identity, reporting whether it was new. The
// check and insert happen under one lock so two tasks cannot both claim an
// unvisited inode.
func (w *walker) markVisited(key inodeKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, seen := w.visited[key]; seen {
		return false
	}
	w.visited[key] = struct{}{}
	return true
}

func (w *walker) abortErr(ctx context.Context) error {
	return fmt.Errorf("%w: %v", ErrAborted, context.Cause(ctx))
}

// fileIdentity extracts a (device, inode) pair when the platform exposes
// one.
func fileIdentity(info os.FileInfo) (inodeKey, bool) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, false
	}
	return inodeKey{dev: uint64(sys.Dev), ino: uint64(sys.Ino)}, true
}

// retryStat wraps a stat-style call with retry, backoff and telemetry. A
// non-nil error is returned only for cancellation; per-path failures are
// recorded and reported as ok=false so the caller can skip the path.
func retryStat(ctx context.Context, w *walker, path string, statFn func(string) (os.FileInfo, error)) (os.FileInfo, bool, error) {
	return retryOp(ctx, w, path, func() (os.FileInfo, error) { return statFn(path) })
}

// retryOp runs op under the walker's retry policy, recording every retry,
// recovery, give-up and permanent failure against path.
func retryOp[T any](ctx context.Context, w *walker, path string, op func() (T, error)) (T, bool, error) {
	var zero T
	cfg := w.opts.Retry
	retried := false
	cfg.OnRetry = func(attempt int, err error) {
		retried = true
		w.tel.RecordRetry(path, err)
		w.log.Debug("retrying filesystem operation",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	v, err := resilient.DoValue(ctx, cfg, op)
	if err == nil {
		if retried {
			w.tel.RecordRecovery(path)
		}
		return v, true, nil
	}
	if ctx.Err() != nil {
		return zero, false, w.abortErr(ctx)
	}
	if resilient.Classify(err) == resilient.ClassTransient {
		w.tel.RecordGiveUp(path, err)
	} else {
		w.tel.RecordPermanent(path, err)
	}
	w.log.Warn("skipping path after filesystem error",
		zap.String("path", path),
		zap.Error(err))
	return zero, false, nil
}

// readSortedDirents reads dir's entries and sorts them by name, byte order,
// so output is deterministic regardless of the host filesystem's
// enumeration order.
func (w *walker) readSortedDirents(ctx context.Context, dir string) (godirwalk.Dirents, bool, error) {
	dirents, ok, err := retryOp(ctx, w, dir, func() (godirwalk.Dirents, error) {
		return godirwalk.ReadDirents(dir, nil)
	})
	if err != nil || !ok {
		return nil, ok, err
	}
	sort.Sort(dirents)
	return dirents, true, nil
}

// resolveEntry stats one directory entry, honoring the symlink policy.
// ok=false means the entry is skipped (symlink policy, cycle, or recorded
// failure); a non-nil error means the walk is aborting.
func (w *walker) resolveEntry(ctx context.Context, path string, de *godirwalk.Dirent) (FileStat, bool, error) {
	var st FileStat

	if de.IsSymlink() {
		if !w.opts.FollowSymlinks {
			return st, false, nil
		}
		info, ok, err := retryStat(ctx, w, path, os.Stat)
		if err != nil || !ok {
			return st, ok, err
		}
		st = statOf(info)
		st.Symlink = true
		return st, true, nil
	}

	info, ok, err := retryStat(ctx, w, path, os.Lstat)
	if err != nil || !ok {
		return st, ok, err
	}
	return statOf(info), true, nil
}

func statOf(info os.FileInfo) FileStat {
	st := FileStat{
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
	if key, ok := fileIdentity(info); ok {
		st.Dev = key.dev
		st.Ino = key.ino
	}
	return st
}

// Walk traverses the tree rooted at opts.Root depth-first, calling fn for
// each accepted entry in deterministic, name-sorted order. Each directory's
// ignored entries are pruned before descent; per-path filesystem failures
// are recorded in the telemetry aggregator and skipped rather than
// aborting the walk. The sequence is single-consumption: restart by
// calling Walk again.
func Walk(ctx context.Context, opts Options, fn WalkFunc) error {
	w, err := newWalker(ctx, opts)
	if err != nil {
		return err
	}
	w.log.Debug("starting sequential walk", zap.String("root", w.root))
	return w.walkDir(ctx, w.root, w.rootLayers(), 0, fn)
}

// walkDir processes one directory: read, sort, decide, emit, recurse. True
// depth-first: a subdirectory is fully walked before its next sibling.
func (w *walker) walkDir(ctx context.Context, dir string, layers []*ignore.Layer, depth int, fn WalkFunc) error {
	if ctx.Err() != nil {
		return w.abortErr(ctx)
	}

	dirents, ok, err := w.readSortedDirents(ctx, dir)
	if err != nil || !ok {
		// A failed directory read skips that subtree only.
		return err
	}

	for _, de := range dirents {
		name := de.Name()
		if name == w.ignoreFile {
			continue
		}
		path := filepath.Join(dir, name)

		st, ok, err := w.resolveEntry(ctx, path, de)
		if err != nil || !ok {
			if err != nil {
				return err
			}
			continue
		}

		decision := ignore.Evaluate(path, layers, st.IsDir)
		if decision.Ignored {
			if st.IsDir {
				w.tel.RecordPruned()
			}
			continue
		}

		entry := Entry{Path: path, Stat: st}
		if w.opts.Explain {
			d := decision
			entry.Why = &d
		}

		if !st.IsDir {
			if err := fn(entry); err != nil {
				return err
			}
			continue
		}

		if w.opts.IncludeDirectories {
			if err := fn(entry); err != nil {
				return err
			}
		}
		// Record every directory identity, not just symlinked ones, so a
		// link to any already-walked ancestor or sibling is skipped.
		if w.opts.FollowSymlinks {
			if key := (inodeKey{dev: st.Dev, ino: st.Ino}); !w.markVisited(key) {
				continue
			}
		}
		if w.opts.MaxDepth > 0 && depth+1 >= w.opts.MaxDepth {
			continue
		}
		if err := w.walkDir(ctx, path, w.childLayers(path, layers), depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}
