package extractor_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ai4curation/ai-blame/internal/extractor"
	"github.com/ai4curation/ai-blame/internal/models"
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

func TestExtractEditHistory_GroupsByFilePathSortedByTimestamp(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "session.jsonl"),
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T09:00:00Z","sessionId":"s1","toolUseResult":{"type":"update","filePath":"/repo/a.py","oldString":"x","newString":"y"}}`,
		`{"type":"user","uuid":"u2","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"x\n"}}`,
	)

	grouped, err := extractor.ExtractEditHistory(dir, models.FilterConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edits, ok := grouped["/repo/a.py"]
	if !ok {
		t.Fatalf("expected a group for /repo/a.py, got %v", grouped)
	}
	if len(edits) != 2 {
		t.Fatalf("expected 2 edits, got %d", len(edits))
	}
	if !edits[0].IsCreate || edits[1].IsCreate {
		t.Errorf("expected create (08:00) before modification (09:00) after sort, got %+v", edits)
	}
}

func TestExtractEditHistory_CrossFileModelResolution(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "main.jsonl"),
		`{"type":"assistant","uuid":"parent-x","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","message":{"role":"assistant","model":"claude-cross-file","content":[]}}`,
	)
	writeLines(t, filepath.Join(dir, "agent-sub.jsonl"),
		`{"type":"user","uuid":"child-x","parentUuid":"parent-x","timestamp":"2025-12-01T08:00:01Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/src/peel.py","content":"x\n"}}`,
	)

	grouped, err := extractor.ExtractEditHistory(dir, models.FilterConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edits, ok := grouped["/repo/src/peel.py"]
	if !ok || len(edits) != 1 {
		t.Fatalf("expected 1 edit for /repo/src/peel.py, got %v", grouped)
	}
	if edits[0].Model != "claude-cross-file" {
		t.Errorf("Model = %q, want claude-cross-file (resolved across files)", edits[0].Model)
	}
	if edits[0].AgentTool != models.AgentToolClaudeCodeAgent {
		t.Errorf("AgentTool = %q, want %q", edits[0].AgentTool, models.AgentToolClaudeCodeAgent)
	}
}

func TestExtractEditHistory_CachesSecondRun(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "session.jsonl"),
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"x\n"}}`,
	)

	first, err := extractor.ExtractEditHistory(dir, models.FilterConfig{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := extractor.ExtractEditHistory(dir, models.FilterConfig{})
	if err != nil {
		t.Fatalf("second (cached) run: %v", err)
	}
	if len(first["/repo/a.py"]) != len(second["/repo/a.py"]) {
		t.Errorf("cached run produced a different edit count: %d vs %d",
			len(first["/repo/a.py"]), len(second["/repo/a.py"]))
	}
}

func TestExtractEditHistory_CodexDirectoryPromotesAgentTool(t *testing.T) {
	dir := t.TempDir()
	codexDir := filepath.Join(dir, "codex-sessions")
	if err := os.MkdirAll(codexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeLines(t, filepath.Join(codexDir, "session.jsonl"),
		`{"event":"create","file_path":"/repo/c.go","model":"gpt-codex","session_id":"s1","timestamp":"2025-12-01T08:00:00Z","content":"package c\n"}`,
	)

	grouped, err := extractor.ExtractEditHistory(codexDir, models.FilterConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	edits, ok := grouped["/repo/c.go"]
	if !ok || len(edits) != 1 {
		t.Fatalf("expected 1 edit for /repo/c.go, got %v", grouped)
	}
	if edits[0].AgentTool != models.AgentToolCodexCLI {
		t.Errorf("AgentTool = %q, want %q (codex directory promotion)", edits[0].AgentTool, models.AgentToolCodexCLI)
	}
}

func TestExtractEditHistory_MinChangeSizeFilter(t *testing.T) {
	dir := t.TempDir()
	writeLines(t, filepath.Join(dir, "session.jsonl"),
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"type":"update","filePath":"/repo/a.py","oldString":"a","newString":"b"}}`,
	)

	grouped, err := extractor.ExtractEditHistory(dir, models.FilterConfig{MinChangeSize: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(grouped) != 0 {
		t.Fatalf("expected edits below MinChangeSize to be filtered out, got %v", grouped)
	}
}

func TestExtractEditHistoryFromDirs_UnionsAcrossDirectories(t *testing.T) {
	claudeDir := t.TempDir()
	codexDir := t.TempDir()
	writeLines(t, filepath.Join(claudeDir, "session.jsonl"),
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"x\n"}}`,
	)
	writeLines(t, filepath.Join(codexDir, "session.jsonl"),
		`{"event":"create","file_path":"/repo/b.go","model":"gpt-codex","session_id":"s1","timestamp":"2025-12-01T08:00:01Z","content":"package b\n"}`,
	)

	grouped, err := extractor.ExtractEditHistoryFromDirs([]string{claudeDir, codexDir}, models.FilterConfig{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := grouped["/repo/a.py"]; !ok {
		t.Error("expected /repo/a.py from the claude dir")
	}
	if _, ok := grouped["/repo/b.go"]; !ok {
		t.Error("expected /repo/b.go from the codex dir")
	}
}

func TestTimelineFromGroups_NewestFirst(t *testing.T) {
	grouped := map[string][]models.EditRecord{
		"/repo/a.py": {
			{Timestamp: parseTime(t, "2025-12-01T09:00:00Z"), IsCreate: false},
			{Timestamp: parseTime(t, "2025-12-01T08:00:00Z"), IsCreate: true},
		},
	}
	events := extractor.TimelineFromGroups(grouped)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Action != models.ActionEdited || events[1].Action != models.ActionCreated {
		t.Errorf("expected EDITED (09:00) before CREATED (08:00), got %+v", events)
	}
}

func TestCollectTimelineEvents_SkipCodexAndLimit(t *testing.T) {
	claudeDir := t.TempDir()
	codexDir := filepath.Join(t.TempDir(), "codex-sessions")
	if err := os.MkdirAll(codexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeLines(t, filepath.Join(claudeDir, "session.jsonl"),
		`{"type":"user","uuid":"u1","timestamp":"2025-12-01T08:00:00Z","sessionId":"s1","toolUseResult":{"type":"create","filePath":"/repo/a.py","content":"x\n"}}`,
		`{"type":"user","uuid":"u2","timestamp":"2025-12-01T09:00:00Z","sessionId":"s1","toolUseResult":{"type":"update","filePath":"/repo/a.py","oldString":"x","newString":"y"}}`,
	)
	writeLines(t, filepath.Join(codexDir, "session.jsonl"),
		`{"event":"create","file_path":"/repo/b.go","model":"gpt-codex","session_id":"s2","timestamp":"2025-12-01T10:00:00Z","content":"package b\n"}`,
	)
	dirs := []string{claudeDir, codexDir}

	events, err := extractor.CollectTimelineEvents(dirs, models.FilterConfig{}, true, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected codex events skipped, got %d events", len(events))
	}
	for _, ev := range events {
		if ev.AgentTool == models.AgentToolCodexCLI {
			t.Errorf("codex event leaked through skipCodex: %+v", ev)
		}
	}

	capped, err := extractor.CollectTimelineEvents(dirs, models.FilterConfig{}, false, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(capped) != 1 {
		t.Fatalf("expected limit=1 to cap events, got %d", len(capped))
	}
	if !capped[0].Timestamp.Equal(parseTime(t, "2025-12-01T10:00:00Z")) {
		t.Errorf("expected the newest event to survive the cap, got %+v", capped[0])
	}
}

func parseTime(t *testing.T, raw string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t.Fatal(err)
	}
	return parsed
}
