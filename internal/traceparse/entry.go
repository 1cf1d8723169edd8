// Package traceparse implements the multi-dialect trace parser from spec
// §4.C: per-record dialect detection across Claude-code and Codex JSONL
// formats, normalized into models.EditRecord. Dialect detection happens
// per-record so a single trace file may mix dialects; cross-file model
// resolution is the extractor's responsibility (see internal/extractor),
// not this package's — a purely per-file parser would leave models empty
// whenever a child record's parentUuid lives in a sibling trace file.
package traceparse

import "encoding/json"

// rawContentBlock is the common shape used to partially unmarshal JSONL
// content blocks appearing in Claude message.content arrays. Unused fields
// unmarshal to zero values, so one struct covers text, thinking, tool_use,
// and tool_result blocks.
type rawContentBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Text      string          `json:"text"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// claudeEntry mirrors one line of a Claude Code session JSONL file. Fields
// map directly to the on-disk format documented in spec §6.
type claudeEntry struct {
	Type          string         `json:"type"`
	UUID          string         `json:"uuid"`
	ParentUUID    string         `json:"parentUuid"`
	Timestamp     string         `json:"timestamp"`
	SessionID     string         `json:"sessionId"`
	IsSidechain   bool           `json:"isSidechain"`
	IsMeta        bool           `json:"isMeta"`
	Message       *claudeMessage `json:"message"`
	ToolUseResult *toolUseResult `json:"toolUseResult"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

type toolUseResult struct {
	Type            string  `json:"type"`
	FilePath        string  `json:"filePath"`
	OldString       *string `json:"oldString"`
	NewString       *string `json:"newString"`
	StructuredPatch *string `json:"structuredPatch"`
	Content         *string `json:"content"`
}

// codexEntry mirrors one line of a Codex CLI session JSONL file.
type codexEntry struct {
	Event      string  `json:"event"`
	File       string  `json:"file"`
	FilePath   string  `json:"file_path"`
	Model      string  `json:"model"`
	Timestamp  string  `json:"timestamp"`
	SessionID  string  `json:"session_id"`
	Content    *string `json:"content"`
	OldContent *string `json:"old_content"`
	NewContent *string `json:"new_content"`
}

// isCodexEvent reports whether a raw JSON line looks like a Codex record:
// a top-level "event" field of "create" or "edit".
func isCodexEvent(raw map[string]json.RawMessage) bool {
	eventRaw, ok := raw["event"]
	if !ok {
		return false
	}
	var event string
	if err := json.Unmarshal(eventRaw, &event); err != nil {
		return false
	}
	return event == "create" || event == "edit"
}

// isClaudeEntry reports whether a raw JSON line looks like a Claude-code
// record: a top-level "uuid" field plus either a "message" or
// "toolUseResult" sub-object.
func isClaudeEntry(raw map[string]json.RawMessage) bool {
	if _, ok := raw["uuid"]; !ok {
		return false
	}
	_, hasMessage := raw["message"]
	_, hasToolUseResult := raw["toolUseResult"]
	return hasMessage || hasToolUseResult
}
