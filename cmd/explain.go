package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gregpriday/copytree-sub000/tree"
)

// explainCmd reports which ignore rule, if any, decides a path's fate.
var explainCmd = &cobra.Command{
	Use:   "explain <path>",
	Short: "Show which ignore rule decides a path",
	Long: `explain resolves the layered ignore stack from the tree root down to the
given path and prints the deciding rule, its layer, and the final verdict.

Examples:
  copytree explain src/generated/api.go
  copytree explain --root /path/to/project build/output.bin`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := cmd.Flags().GetString("root")
		if err != nil {
			return err
		}
		return runExplain(root, args[0])
	},
}

func init() {
	explainCmd.Flags().String("root", ".", "Tree root the layer stack is resolved from")
	rootCmd.AddCommand(explainCmd)
}

func runExplain(root, target string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %q is outside root %q", target, root)
	}

	ignoreFile := viper.GetString("ignore-file")
	if ignoreFile == "" {
		ignoreFile = tree.DefaultIgnoreFile
	}

	// Build the layer stack along the ancestor chain, root to leaf.
	var layers []*tree.Layer
	dir := root
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if layer := tree.LoadLayer(dir, ignoreFile); layer != nil {
			layers = append(layers, layer)
		}
		dir = filepath.Join(dir, seg)
	}

	isDir := false
	if info, err := os.Lstat(target); err == nil {
		isDir = info.IsDir()
	}

	d := tree.Evaluate(target, layers, isDir)
	verdict := "included"
	if d.Ignored {
		verdict = "ignored"
	}
	if d.Rule == "" {
		fmt.Printf("%s: %s (no rule matched)\n", target, verdict)
		return nil
	}
	kind := "exclude"
	if d.Negated {
		kind = "re-include"
	}
	fmt.Printf("%s: %s by %s rule %q from %s\n", target, verdict, kind, d.Rule, filepath.Join(d.LayerBase, ignoreFile))
	return nil
}
