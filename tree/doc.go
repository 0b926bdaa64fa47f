// Package tree selects and streams a project's file tree with layered,
// gitignore-compatible ignore semantics, bounded parallel I/O and
// per-path error resilience.
//
// This package is the public surface of the copytree traversal core. Two
// interchangeable strategies produce the same set of accepted entries:
//
//	// Deterministic depth-first order.
//	err := tree.Walk(ctx, tree.Options{Root: "/path/to/project"}, func(e tree.Entry) error {
//		fmt.Println(e.Path)
//		return nil
//	})
//
//	// Bounded parallel reads with backpressure.
//	err := tree.WalkParallel(ctx, tree.Options{
//		Root:        "/path/to/project",
//		Concurrency: 16,
//	}, handle)
//
// Ignore rules are read from a .ctreeignore file in every directory; rules
// layer root-to-leaf with last-match-wins resolution, "!" negation and
// directory-only patterns, and an ignored directory is pruned without ever
// being read. Decisions can be attached to each entry:
//
//	opts := tree.Options{Root: root, Explain: true}
//
// Transient filesystem errors are retried with jittered exponential
// backoff; paths that keep failing are recorded in an injectable telemetry
// aggregator and skipped, so one bad file never aborts a large walk:
//
//	tel := tree.NewTelemetry()
//	err := tree.Walk(ctx, tree.Options{Root: root, Telemetry: tel}, handle)
//	summary := tel.Summary()
//
// Watch mode re-applies the same layer semantics to filesystem events:
//
//	err := tree.Watch(ctx, tree.WatchOptions{
//		Traversal: tree.Options{Root: root},
//	}, func(ctx context.Context, r tree.WatchResult) error {
//		fmt.Printf("%s: %s\n", r.Message.Event, r.Message.Path)
//		return nil
//	})
package tree
