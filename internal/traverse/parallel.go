package traverse

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gregpriday/copytree-sub000/internal/budget"
	"github.com/gregpriday/copytree-sub000/internal/ignore"
)

// dirJob is one unit of parallel work: a directory together with the layer
// stack in scope for its entries.
type dirJob struct {
	dir    string
	layers []*ignore.Layer
	depth  int
}

// resultBuffer is the bounded hand-off between producers and the
// consumer. Its capacity is the high-water mark, so no more than
// HighWater entries are ever buffered ahead of the consumer.
func (w *walker) resultBuffer() chan Entry {
	return make(chan Entry, w.opts.HighWater)
}

// WalkParallel traverses the tree rooted at opts.Root breadth-first, with
// at most opts.Concurrency directory reads in flight at once, drawn from
// the budget manager's discovery domain. Entries within one directory are
// emitted in name-sorted order; no ordering is guaranteed across
// directories. Results pass through a bounded buffer of opts.HighWater
// entries, so production pauses under backpressure until fn drains them
// and peak memory stays bounded on very large trees.
//
// Cancellation is honored at every dequeue, buffer wait and retry wait;
// an aborted walk returns ErrAborted.
func WalkParallel(ctx context.Context, opts Options, fn WalkFunc) error {
	w, err := newWalker(ctx, opts)
	if err != nil {
		return err
	}

	// A private manager is sized to the walk; an injected one keeps the
	// capacities its owner chose.
	if opts.Budgets == nil {
		w.budgets.SetBudget(budget.DomainDiscovery, int64(w.opts.Concurrency))
		w.budgets.SetBudget(budget.DomainMatch, int64(w.opts.Concurrency))
	}
	disc := w.budgets.For(budget.DomainDiscovery, int64(w.opts.Concurrency))
	match := w.budgets.For(budget.DomainMatch, int64(w.opts.Concurrency))

	w.log.Debug("starting parallel walk",
		zap.String("root", w.root),
		zap.Int("concurrency", w.opts.Concurrency),
		zap.Int("high_water", w.opts.HighWater))

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := w.resultBuffer()
	var wg sync.WaitGroup

	// emit applies backpressure: it blocks once the buffer hits the
	// high-water mark, until the consumer drains or the walk is canceled.
	emit := func(e Entry) bool {
		select {
		case results <- e:
			return true
		case <-pctx.Done():
			return false
		}
	}

	var process func(job dirJob)
	process = func(job dirJob) {
		defer wg.Done()
		if pctx.Err() != nil {
			return
		}

		if err := disc.Acquire(pctx); err != nil {
			return
		}
		dirents, ok, err := w.readSortedDirents(pctx, job.dir)
		disc.Release()
		if err != nil || !ok {
			return
		}

		// Stat the directory's entries concurrently, then walk the slots
		// in sorted order so per-directory output stays deterministic.
		type slot struct {
			path string
			de   int // index into dirents
			st   FileStat
			ok   bool
		}
		slots := make([]slot, 0, len(dirents))
		for i, de := range dirents {
			if de.Name() == w.ignoreFile {
				continue
			}
			slots = append(slots, slot{path: filepath.Join(job.dir, de.Name()), de: i})
		}

		g, gctx := errgroup.WithContext(pctx)
		g.SetLimit(w.opts.Concurrency)
		for i := range slots {
			s := &slots[i]
			g.Go(func() error {
				if err := disc.Acquire(gctx); err != nil {
					return err
				}
				defer disc.Release()
				st, ok, err := w.resolveEntry(gctx, s.path, dirents[s.de])
				if err != nil {
					return err
				}
				s.st, s.ok = st, ok
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Only cancellation propagates out of resolveEntry; per-path
			// failures were already recorded and marked skipped.
			return
		}

		for i := range slots {
			s := &slots[i]
			if !s.ok {
				continue
			}

			if err := match.Acquire(pctx); err != nil {
				return
			}
			decision := ignore.Evaluate(s.path, job.layers, s.st.IsDir)
			match.Release()

			if decision.Ignored {
				if s.st.IsDir {
					w.tel.RecordPruned()
				}
				continue
			}

			entry := Entry{Path: s.path, Stat: s.st}
			if w.opts.Explain {
				d := decision
				entry.Why = &d
			}

			if !s.st.IsDir {
				if !emit(entry) {
					return
				}
				continue
			}

			if w.opts.IncludeDirectories && !emit(entry) {
				return
			}
			// Record every directory identity, not just symlinked ones, so
			// a link to any already-walked ancestor or sibling is skipped.
			if w.opts.FollowSymlinks {
				if key := (inodeKey{dev: s.st.Dev, ino: s.st.Ino}); !w.markVisited(key) {
					continue
				}
			}
			if w.opts.MaxDepth > 0 && job.depth+1 >= w.opts.MaxDepth {
				continue
			}
			wg.Add(1)
			go process(dirJob{dir: s.path, layers: w.childLayers(s.path, job.layers), depth: job.depth + 1})
		}
	}

	wg.Add(1)
	go process(dirJob{dir: w.root, layers: w.rootLayers(), depth: 0})

	// Close the buffer once the queue is empty and no task remains in
	// flight; buffered stragglers are still drained below.
	go func() {
		wg.Wait()
		close(results)
	}()

	for {
		select {
		case <-ctx.Done():
			return w.abortErr(ctx)
		case e, open := <-results:
			if !open {
				if ctx.Err() != nil {
					return w.abortErr(ctx)
				}
				return nil
			}
			if err := fn(e); err != nil {
				cancel()
				return err
			}
		}
	}
}
