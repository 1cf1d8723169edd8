package traceparse_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ai4curation/ai-blame/internal/models"
	"github.com/ai4curation/ai-blame/internal/traceparse"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParseFile_RFC3339ZTimestamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"type":"assistant","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","message":{"role":"assistant","model":"claude-x","content":[]}}`,
		`{"type":"user","uuid":"u2","parentUuid":"u1","timestamp":"2025-12-01T08:00:01Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"hello\n"}}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(edits))
	}
	if edits[0].Model != "claude-x" {
		t.Errorf("Model = %q, want %q", edits[0].Model, "claude-x")
	}
	if !edits[0].Timestamp.Equal(mustParse(t, "2025-12-01T08:00:01Z")) {
		t.Errorf("Timestamp = %v", edits[0].Timestamp)
	}
}

func TestParseFile_InvalidTimestampDropsRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"type":"user","uuid":"u1","timestamp":"not-a-timestamp","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"x"}}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 0 {
		t.Fatalf("expected record to be dropped, got %d edits", len(edits))
	}
}

func TestParseFile_ContentWithoutTypeIsCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"filePath":"/repo/a.py","content":"hello\n"}}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(edits))
	}
	if !edits[0].IsCreate {
		t.Errorf("expected IsCreate=true for type-less content record")
	}
	if edits[0].CreateContent != "hello\n" {
		t.Errorf("CreateContent = %q", edits[0].CreateContent)
	}
}

func TestParseFile_ModelResolutionViaToolUseID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"type":"assistant","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","message":{"role":"assistant","model":"claude-y","content":[{"type":"tool_use","id":"toolu_abc","name":"Edit"}]}}`,
		`{"type":"user","uuid":"u2","parentUuid":"unrelated-parent","timestamp":"2025-12-01T08:00:01Z","sessionId":"s1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_abc"}]},"toolUseResult":{"type":"update","filePath":"/repo/b.py","oldString":"a","newString":"b"}}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(edits))
	}
	if edits[0].Model != "claude-y" {
		t.Errorf("Model = %q, want %q (resolved via tool_use_id)", edits[0].Model, "claude-y")
	}
}

func TestParseFile_CrossFileModelResolution(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.jsonl")
	subPath := filepath.Join(dir, "agent-sub.jsonl")

	writeLines(t, mainPath,
		`{"type":"assistant","uuid":"parent-x","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","message":{"role":"assistant","model":"claude-cross-file","content":[]}}`,
	)
	writeLines(t, subPath,
		`{"type":"user","uuid":"child-x","parentUuid":"parent-x","timestamp":"2025-12-01T08:00:01Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/src/peel.py","content":"x\n"}}`,
	)

	tables := traceparse.NewModelTables()
	for _, p := range []string{mainPath, subPath} {
		t1, err := traceparse.BuildModelTables(p)
		if err != nil {
			t.Fatalf("BuildModelTables(%s): %v", p, err)
		}
		tables.Merge(t1)
	}

	edits, err := traceparse.ParseEdits(subPath, tables, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(edits))
	}
	if edits[0].Model != "claude-cross-file" {
		t.Errorf("Model = %q, want %q", edits[0].Model, "claude-cross-file")
	}
	if edits[0].AgentTool != models.AgentToolClaudeCodeAgent {
		t.Errorf("AgentTool = %q, want %q (agent- prefix)", edits[0].AgentTool, models.AgentToolClaudeCodeAgent)
	}
}

func TestParseFile_AssistantWriteToolUseIsEditBearing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"type":"assistant","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","message":{"role":"assistant","model":"claude-w","content":[{"type":"tool_use","id":"t1","name":"Write","input":{"file_path":"/repo/new.py","content":"print(1)\n"}},{"type":"tool_use","id":"t2","name":"Edit","input":{"file_path":"/repo/old.py","old_string":"a","new_string":"bb"}}]}}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 edits from assistant tool_use blocks, got %d", len(edits))
	}
	if !edits[0].IsCreate || edits[0].CreateContent != "print(1)\n" {
		t.Errorf("Write tool_use: expected create with content, got %+v", edits[0])
	}
	if edits[1].IsCreate || edits[1].OldString != "a" || edits[1].NewString != "bb" {
		t.Errorf("Edit tool_use: expected modification a->bb, got %+v", edits[1])
	}
	for _, e := range edits {
		if e.Model != "claude-w" {
			t.Errorf("Model = %q, want claude-w (from the assistant message itself)", e.Model)
		}
	}
}

func TestParseFile_CodexCreateAndEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"event":"create","file_path":"/repo/c.go","model":"gpt-codex","session_id":"s1","timestamp":"2025-12-01T08:00:00Z","content":"package c\n"}`,
		`{"event":"edit","file_path":"/repo/c.go","model":"gpt-codex","session_id":"s1","timestamp":"2025-12-01T08:01:00Z","old_content":"package c\n","new_content":"package c // x\n"}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 edits, got %d", len(edits))
	}
	if !edits[0].IsCreate {
		t.Errorf("expected first edit to be a create")
	}
	if edits[1].IsCreate {
		t.Errorf("expected second edit to be a modification")
	}
	for _, e := range edits {
		if e.AgentTool != models.AgentToolGitHubCopilot {
			t.Errorf("AgentTool = %q, want %q", e.AgentTool, models.AgentToolGitHubCopilot)
		}
	}
}

func TestParseFile_MixedDialectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")
	writeLines(t, path,
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"x\n"}}`,
		`{"event":"create","file_path":"/repo/b.go","model":"gpt-codex","session_id":"s1","timestamp":"2025-12-01T08:00:01Z","content":"package b\n"}`,
	)

	edits, err := traceparse.ParseFile(path, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 edits across dialects, got %d", len(edits))
	}
	if edits[0].AgentTool != models.AgentToolClaudeCode {
		t.Errorf("first edit AgentTool = %q", edits[0].AgentTool)
	}
	if edits[1].AgentTool != models.AgentToolGitHubCopilot {
		t.Errorf("second edit AgentTool = %q", edits[1].AgentTool)
	}
}

func mustParse(t *testing.T, raw string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}
