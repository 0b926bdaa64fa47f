package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregpriday/copytree-sub000/tree"
)

var watchEvents []string

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for changes to accepted files",
	Long: `Watch the tree for filesystem changes, reporting only paths the layered
ignore rules accept. Ignored subtrees are never watched, and editing an
ignore file reloads its layer on the fly.

Examples:
  copytree watch /path/to/project
  copytree watch --events=create,modify /path/to/project`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		return runWatch(cmd.Context(), root)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVar(&watchEvents, "events", nil, "Events to report (create, modify, delete, rename, chmod)")
}

func runWatch(ctx context.Context, root string) error {
	logger := newLogger()
	defer logger.Sync()

	var events []tree.WatchEvent
	for _, e := range watchEvents {
		switch strings.ToLower(e) {
		case "create":
			events = append(events, tree.EventCreate)
		case "write", "modify":
			events = append(events, tree.EventModify)
		case "remove", "delete":
			events = append(events, tree.EventDelete)
		case "rename":
			events = append(events, tree.EventRename)
		case "chmod":
			events = append(events, tree.EventChmod)
		default:
			return fmt.Errorf("unknown event type: %s", e)
		}
	}

	opts := tree.WatchOptions{
		Traversal: walkOptions(root, logger, tree.NewTelemetry()),
		Events:    events,
	}

	fmt.Fprintf(os.Stderr, "Watching %s for changes. Press Ctrl+C to exit.\n", root)

	err := tree.Watch(ctx, opts, func(_ context.Context, r tree.WatchResult) error {
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "watch error: %v\n", r.Error)
			return nil
		}
		fmt.Printf("%s: %s\n", r.Message.Event, r.Message.Path)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
