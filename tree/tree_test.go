package tree_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gregpriday/copytree-sub000/tree"
)

// TestWalkThroughFacade exercises the public surface end to end.
func TestWalkThroughFacade(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
	}
	write(tree.DefaultIgnoreFile, "vendor/\n")
	write("main.go", "package main")
	write("vendor/dep.go", "package dep")

	tel := tree.NewTelemetry()
	var paths []string
	err := tree.Walk(context.Background(), tree.Options{Root: root, Telemetry: tel}, func(e tree.Entry) error {
		rel, _ := filepath.Rel(root, e.Path)
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}

	if len(paths) != 1 || paths[0] != "main.go" {
		t.Errorf("Expected [main.go], got %v", paths)
	}
	if tel.Summary().DirectoriesPruned != 1 {
		t.Errorf("Expected 1 pruned directory, got %d", tel.Summary().DirectoriesPruned)
	}
}

// TestEvaluateThroughFacade exercises layer construction and evaluation
// without touching the filesystem.
func TestEvaluateThroughFacade(t *testing.T) {
	layers := []*tree.Layer{
		tree.ParseLayer("/repo", []string{"*.log"}),
		tree.ParseLayer("/repo/sub", []string{"!keep.log"}),
	}

	if tree.Evaluate("/repo/sub/keep.log", layers, false).Ignored {
		t.Error("Expected keep.log re-included by the deeper layer")
	}
	if !tree.Evaluate("/repo/sub/other.log", layers, false).Ignored {
		t.Error("Expected other.log excluded")
	}
}
