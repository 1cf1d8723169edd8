package traceparse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ai4curation/ai-blame/internal/diagnostics"
	"github.com/ai4curation/ai-blame/internal/models"
)

const (
	initialBufSize = 64 * 1024
	maxLineSize    = 64 * 1024 * 1024
)

// ModelTables holds the two lookup tables the first parser pass builds for
// a trace file: parent-uuid -> model, and tool-use-id -> model (the model
// of the assistant message that issued that tool_use). The extractor merges
// these across every trace file in a directory before the second pass runs,
// since a child record's parentUuid may live in a sibling file.
type ModelTables struct {
	ModelByUUID      map[string]string
	ModelByToolUseID map[string]string
}

// NewModelTables returns an empty, ready-to-merge ModelTables.
func NewModelTables() ModelTables {
	return ModelTables{
		ModelByUUID:      make(map[string]string),
		ModelByToolUseID: make(map[string]string),
	}
}

// Merge copies every entry of src into t. Existing keys in t are not
// overwritten — first writer wins, matching the deterministic
// discovery-order tie-break spec §5 requires elsewhere.
func (t ModelTables) Merge(src ModelTables) {
	for k, v := range src.ModelByUUID {
		if _, exists := t.ModelByUUID[k]; !exists {
			t.ModelByUUID[k] = v
		}
	}
	for k, v := range src.ModelByToolUseID {
		if _, exists := t.ModelByToolUseID[k]; !exists {
			t.ModelByToolUseID[k] = v
		}
	}
}

// BuildModelTables performs the parser's first pass over one trace file:
// scanning every record for uuid->model and tool_use_id->model associations,
// without resolving or emitting any edits. This is the half of the
// two-step API the extractor calls once per file before merging results
// across a whole trace directory.
func BuildModelTables(path string) (ModelTables, error) {
	f, err := os.Open(path)
	if err != nil {
		return ModelTables{}, &models.IOError{Path: path, Err: err}
	}
	defer f.Close()

	tables := NewModelTables()
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if !isClaudeEntry(raw) {
			continue
		}
		var entry claudeEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		collectModelTables(entry, tables)
	}
	if err := scanner.Err(); err != nil {
		return tables, &models.IOError{Path: path, Err: err}
	}
	return tables, nil
}

func collectModelTables(entry claudeEntry, tables ModelTables) {
	if entry.Message == nil || entry.Message.Model == "" {
		return
	}
	if entry.UUID != "" {
		if _, exists := tables.ModelByUUID[entry.UUID]; !exists {
			tables.ModelByUUID[entry.UUID] = entry.Message.Model
		}
	}
	if entry.Message.Role != "assistant" && entry.Type != "assistant" {
		return
	}
	blocks := parseContentBlocks(entry.Message.Content)
	for _, b := range blocks {
		if b.Type == "tool_use" && b.ID != "" {
			if _, exists := tables.ModelByToolUseID[b.ID]; !exists {
				tables.ModelByToolUseID[b.ID] = entry.Message.Model
			}
		}
	}
}

func parseContentBlocks(raw json.RawMessage) []rawContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var blocks []rawContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// ParseEdits performs the parser's second pass over one trace file: for
// each edit-bearing record, resolves session/model/timestamp and emits a
// normalized EditRecord. tables should already contain every uuid/tool-use
// association from every trace file in the containing directory — see
// BuildModelTables and ModelTables.Merge. dialectHint overrides dialect
// auto-detection per record when non-empty ("claude" or "codex"); normally
// callers pass "" and let each line classify itself.
//
// ParseEdits never aborts on a malformed line: JSON parse failures and
// unparseable timestamps are recorded to sink (if non-nil) and the line is
// skipped. Only a failure to open or read the file itself (including a line
// longer than the scanner's 64 MiB limit) is returned as an error.
func ParseEdits(path string, tables ModelTables, dialectHint string, sink diagnostics.Sink) ([]models.EditRecord, error) {
	if sink == nil {
		sink = diagnostics.Discard
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &models.IOError{Path: path, Err: err}
	}
	defer f.Close()

	isSubAgent := isSubAgentTraceFile(path)

	var edits []models.EditRecord
	scanner := newLineScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			sink.Record(diagnostics.Diagnostic{
				Timestamp: time.Now(),
				Level:     diagnostics.LevelWarn,
				Source:    path,
				Message:   fmt.Sprintf("line %d: invalid JSON: %v", lineNo, err),
			})
			continue
		}

		dialect := dialectHint
		if dialect == "" {
			switch {
			case isClaudeEntry(raw):
				dialect = "claude"
			case isCodexEvent(raw):
				dialect = "codex"
			default:
				continue
			}
		}

		switch dialect {
		case "claude":
			edits = append(edits, parseClaudeEdits(line, tables, isSubAgent, path, lineNo, sink)...)
		case "codex":
			edit, ok := parseCodexEditLine(line, path, lineNo, sink)
			if ok {
				edits = append(edits, edit)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return edits, &models.IOError{Path: path, Err: err}
	}
	return edits, nil
}

// ParseFile is the standalone convenience entry point: it builds model
// tables from path itself, then resolves edits against those same local
// tables. Used when the caller has only one trace file and does not need
// cross-file model resolution (the extractor instead calls BuildModelTables
// and ParseEdits separately so it can merge tables across a directory).
func ParseFile(path string, dialectHint string, sink diagnostics.Sink) ([]models.EditRecord, error) {
	tables, err := BuildModelTables(path)
	if err != nil {
		return nil, err
	}
	return ParseEdits(path, tables, dialectHint, sink)
}

// isSubAgentTraceFile reports whether a trace file's basename signals a
// sub-agent worker log, using the "agent-"/"agent_" prefix convention.
func isSubAgentTraceFile(path string) bool {
	base := path
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		base = path[i+1:]
	}
	return strings.HasPrefix(base, "agent-") || strings.HasPrefix(base, "agent_")
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufSize), maxLineSize)
	return scanner
}
