package traverse

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gregpriday/copytree-sub000/internal/ignore"
)

// WatchEvent classifies a filesystem change.
type WatchEvent string

// Watch event types.
const (
	EventCreate WatchEvent = "create"
	EventModify WatchEvent = "modify"
	EventDelete WatchEvent = "delete"
	EventRename WatchEvent = "rename"
	EventChmod  WatchEvent = "chmod"
)

// WatchMessage describes one accepted filesystem change.
type WatchMessage struct {
	Path  string
	Event WatchEvent
	IsDir bool
	Why   *ignore.Decision // populated when the traversal options ask to explain
}

// WatchResult is either a message or a watcher error.
type WatchResult struct {
	Message WatchMessage
	Error   error
}

// WatchHandler processes watch results. Returning a non-nil error stops
// the watch.
type WatchHandler func(ctx context.Context, result WatchResult) error

// WatchOptions configures Watch.
type WatchOptions struct {
	// Traversal supplies the root, ignore configuration and logging. The
	// same layer semantics that drive a walk decide which events are
	// reported.
	Traversal Options

	// Events limits reporting to the listed event types. Empty means all.
	Events []WatchEvent
}

// watchState tracks the layer stack in scope for each watched directory.
type watchState struct {
	mu     sync.Mutex
	stacks map[string][]*ignore.Layer // dir -> layers governing dir's entries
}

// Watch monitors the tree rooted at the traversal root and invokes handler
// for every change to a path the ignore stack accepts. Ignored subtrees
// are never watched, and a change to an ignore file reloads that layer for
// its subtree. Watch blocks until ctx is done or handler returns an error.
func Watch(ctx context.Context, opts WatchOptions, handler WatchHandler) error {
	w, err := newWalker(ctx, opts.Traversal)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	state := &watchState{stacks: make(map[string][]*ignore.Layer)}

	// Seed watches from a sequential walk so pruned subtrees never get a
	// watch in the first place.
	rootStack := w.rootLayers()
	state.stacks[w.root] = rootStack
	if err := watcher.Add(w.root); err != nil {
		return err
	}
	walkOpts := opts.Traversal
	walkOpts.IncludeDirectories = true
	walkOpts.Telemetry = w.tel
	err = Walk(ctx, walkOpts, func(e Entry) error {
		if !e.Stat.IsDir {
			return nil
		}
		parent := filepath.Dir(e.Path)
		state.mu.Lock()
		state.stacks[e.Path] = w.childLayers(e.Path, state.stacks[parent])
		state.mu.Unlock()
		return watcher.Add(e.Path)
	})
	if err != nil {
		return err
	}

	w.log.Debug("watching", zap.String("root", w.root), zap.Int("dirs", len(state.stacks)))

	wanted := make(map[WatchEvent]bool, len(opts.Events))
	for _, e := range opts.Events {
		wanted[e] = true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case werr, open := <-watcher.Errors:
			if !open {
				return nil
			}
			if err := handler(ctx, WatchResult{Error: werr}); err != nil {
				return err
			}

		case event, open := <-watcher.Events:
			if !open {
				return nil
			}
			msg, ok := w.classifyEvent(event, state, watcher)
			if !ok {
				continue
			}
			if len(wanted) > 0 && !wanted[msg.Event] {
				continue
			}
			if err := handler(ctx, WatchResult{Message: msg}); err != nil {
				return err
			}
		}
	}
}

// classifyEvent maps an fsnotify event onto the ignore stack, updating
// watches for created directories and reloading layers when an ignore file
// changes. ok=false means the event concerns an ignored or unknown path.
func (w *walker) classifyEvent(event fsnotify.Event, state *watchState, watcher *fsnotify.Watcher) (WatchMessage, bool) {
	path := filepath.Clean(event.Name)
	dir := filepath.Dir(path)

	state.mu.Lock()
	layers, known := state.stacks[dir]
	state.mu.Unlock()
	if !known {
		return WatchMessage{}, false
	}

	if filepath.Base(path) == w.ignoreFile {
		w.reloadLayer(dir, state)
		return WatchMessage{}, false
	}

	kind := eventKind(event)
	isDir := false
	if info, err := os.Lstat(path); err == nil {
		isDir = info.IsDir()
	}

	decision := ignore.Evaluate(path, layers, isDir)
	if decision.Ignored {
		return WatchMessage{}, false
	}

	if isDir && kind == EventCreate {
		state.mu.Lock()
		state.stacks[path] = w.childLayers(path, layers)
		state.mu.Unlock()
		if err := watcher.Add(path); err != nil {
			w.log.Warn("cannot watch new directory", zap.String("path", path), zap.Error(err))
		}
	}
	if kind == EventDelete || kind == EventRename {
		state.mu.Lock()
		delete(state.stacks, path)
		state.mu.Unlock()
	}

	msg := WatchMessage{Path: path, Event: kind, IsDir: isDir}
	if w.opts.Explain {
		d := decision
		msg.Why = &d
	}
	return msg, true
}

// reloadLayer rebuilds dir's own layer and every descendant stack that
// inherits it.
func (w *walker) reloadLayer(dir string, state *watchState) {
	state.mu.Lock()
	defer state.mu.Unlock()

	parentStack := w.opts.BaseLayers
	if dir != w.root {
		parentStack = state.stacks[filepath.Dir(dir)]
	}
	state.stacks[dir] = w.childLayers(dir, parentStack)

	prefix := dir + string(filepath.Separator)
	var descendants []string
	for d := range state.stacks {
		if strings.HasPrefix(d, prefix) {
			descendants = append(descendants, d)
		}
	}
	// Parents sort before their children, so each rebuild sees a rebuilt
	// parent stack.
	sort.Strings(descendants)
	for _, d := range descendants {
		state.stacks[d] = w.childLayers(d, state.stacks[filepath.Dir(d)])
	}
}

// eventKind maps fsnotify ops onto watch events.
func eventKind(event fsnotify.Event) WatchEvent {
	switch {
	case event.Op.Has(fsnotify.Create):
		return EventCreate
	case event.Op.Has(fsnotify.Write):
		return EventModify
	case event.Op.Has(fsnotify.Remove):
		return EventDelete
	case event.Op.Has(fsnotify.Rename):
		return EventRename
	default:
		return EventChmod
	}
}
