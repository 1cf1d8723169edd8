package pathutil_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ai4curation/ai-blame/internal/pathutil"
)

func TestValidateSafePath_RejectsTraversal(t *testing.T) {
	_, err := pathutil.ValidateSafePath("../etc/passwd")
	if err == nil {
		t.Fatal("expected error for traversal path")
	}
}

func TestValidateSafePath_AcceptsPlainPath(t *testing.T) {
	dir := t.TempDir()
	resolved, err := pathutil.ValidateSafePath(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected non-empty resolved path")
	}
}

func TestCollectTraceFiles_FindsNestedFiles(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "projects", "sessions")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(root, "root.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "projects", "project.jsonl"), "{}")
	writeFile(t, filepath.Join(nested, "session.jsonl"), "{}")
	writeFile(t, filepath.Join(root, "ignore.txt"), "not jsonl")

	files, err := pathutil.CollectTraceFiles(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 trace files, got %d: %v", len(files), files)
	}
}

func TestCollectTraceFiles_SkipsSymlinkCycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "session.jsonl"), "{}")

	link := filepath.Join(root, "cyclic_link")
	if err := os.Symlink(root, link); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	done := make(chan struct{})
	var files []string
	var err error
	go func() {
		files, err = pathutil.CollectTraceFiles(root)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CollectTraceFiles did not terminate — symlink cycle not detected")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one real file, got %d: %v", len(files), files)
	}
}

func TestEncodeClaudeProjectDirName(t *testing.T) {
	got := pathutil.EncodeClaudeProjectDirName("/Users/cjm/repos/ai-blame.rs")
	want := "-Users-cjm-repos-ai-blame-rs"
	if got != want {
		t.Errorf("EncodeClaudeProjectDirName() = %q, want %q", got, want)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
