package traceparse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ai4curation/ai-blame/internal/diagnostics"
	"github.com/ai4curation/ai-blame/internal/models"
)

// timestampLayouts lists every wire format a trace timestamp has been seen
// in, tried in order. Claude-code and Codex both normally emit RFC3339 with
// a "Z" suffix, but older traces have shown up with fractional seconds of
// varying precision.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseClaudeEdits converts one Claude-code JSONL line into zero or more
// EditRecords. Two record shapes carry an edit: a user-role (or type-less)
// record with a toolUseResult payload, and an assistant message whose
// content includes a tool_use for the Write or Edit tools. Everything else
// (plain text turns, thinking blocks, other tool calls) yields nothing,
// without treating that as an error.
func parseClaudeEdits(line []byte, tables ModelTables, isSubAgent bool, tracePath string, lineNo int, sink diagnostics.Sink) []models.EditRecord {
	var entry claudeEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		sink.Record(diagnostics.Diagnostic{
			Timestamp: time.Now(),
			Level:     diagnostics.LevelWarn,
			Source:    tracePath,
			Message:   fmt.Sprintf("line %d: malformed claude entry: %v", lineNo, err),
		})
		return nil
	}

	if entry.ToolUseResult != nil && entry.ToolUseResult.FilePath != "" {
		if edit, ok := parseToolUseResultEdit(entry, tables, isSubAgent, tracePath, lineNo, sink); ok {
			return []models.EditRecord{edit}
		}
		return nil
	}
	return parseAssistantToolUseEdits(entry, tables, isSubAgent, tracePath, lineNo, sink)
}

func parseToolUseResultEdit(entry claudeEntry, tables ModelTables, isSubAgent bool, tracePath string, lineNo int, sink diagnostics.Sink) (models.EditRecord, bool) {
	ts, ok := parseTimestamp(entry.Timestamp)
	if !ok {
		sink.Record(diagnostics.Diagnostic{
			Timestamp: time.Now(),
			Level:     diagnostics.LevelWarn,
			Source:    tracePath,
			Message:   fmt.Sprintf("line %d: unparseable timestamp %q, dropping record", lineNo, entry.Timestamp),
		})
		return models.EditRecord{}, false
	}

	tur := entry.ToolUseResult
	edit := models.EditRecord{
		FilePath:  tur.FilePath,
		Timestamp: ts,
		SessionID: entry.SessionID,
		AgentTool: models.AgentToolClaudeCode,
	}
	if isSubAgent {
		edit.AgentTool = models.AgentToolClaudeCodeAgent
	}

	edit.Model = resolveClaudeModel(entry, tables)

	isCreate := tur.Type == "create" ||
		(tur.Type == "" && tur.Content != nil && tur.OldString == nil && tur.NewString == nil && tur.StructuredPatch == nil)

	if isCreate {
		edit.IsCreate = true
		content := ""
		if tur.Content != nil {
			content = *tur.Content
		}
		edit.CreateContent = content
		edit.HasCreateContent = true
		edit.ChangeSize = len(content)
	} else {
		if tur.OldString != nil {
			edit.OldString = *tur.OldString
			edit.HasOldString = true
		}
		if tur.NewString != nil {
			edit.NewString = *tur.NewString
			edit.HasNewString = true
		}
		if tur.StructuredPatch != nil {
			edit.StructuredPatch = *tur.StructuredPatch
			edit.HasStructuredPatch = true
		}
		if !edit.HasOldString && !edit.HasNewString && !edit.HasStructuredPatch {
			return models.EditRecord{}, false
		}
		edit.ChangeSize = len(edit.OldString) + len(edit.NewString)
	}

	if err := edit.Validate(); err != nil {
		sink.Record(diagnostics.Diagnostic{
			Timestamp: time.Now(),
			Level:     diagnostics.LevelWarn,
			Source:    tracePath,
			Message:   fmt.Sprintf("line %d: %v", lineNo, err),
		})
		return models.EditRecord{}, false
	}

	return edit, true
}

// toolUseInput is the input payload of a Write or Edit tool_use block.
type toolUseInput struct {
	FilePath  string  `json:"file_path"`
	Content   *string `json:"content"`
	OldString *string `json:"old_string"`
	NewString *string `json:"new_string"`
}

// parseAssistantToolUseEdits extracts edits from an assistant message's
// Write/Edit tool_use blocks, the second edit-bearing record shape. These
// carry the post-state the assistant requested rather than a confirmed
// result, but sub-agent traces sometimes record only this half.
func parseAssistantToolUseEdits(entry claudeEntry, tables ModelTables, isSubAgent bool, tracePath string, lineNo int, sink diagnostics.Sink) []models.EditRecord {
	if entry.Message == nil {
		return nil
	}
	if entry.Message.Role != "assistant" && entry.Type != "assistant" {
		return nil
	}

	var edits []models.EditRecord
	for _, b := range parseContentBlocks(entry.Message.Content) {
		if b.Type != "tool_use" || (b.Name != "Write" && b.Name != "Edit") {
			continue
		}
		var input toolUseInput
		if err := json.Unmarshal(b.Input, &input); err != nil || input.FilePath == "" {
			continue
		}

		ts, ok := parseTimestamp(entry.Timestamp)
		if !ok {
			sink.Record(diagnostics.Diagnostic{
				Timestamp: time.Now(),
				Level:     diagnostics.LevelWarn,
				Source:    tracePath,
				Message:   fmt.Sprintf("line %d: unparseable timestamp %q, dropping record", lineNo, entry.Timestamp),
			})
			return nil
		}

		edit := models.EditRecord{
			FilePath:  input.FilePath,
			Timestamp: ts,
			SessionID: entry.SessionID,
			AgentTool: models.AgentToolClaudeCode,
			Model:     entry.Message.Model,
		}
		if isSubAgent {
			edit.AgentTool = models.AgentToolClaudeCodeAgent
		}
		if edit.Model == "" {
			edit.Model = resolveClaudeModel(entry, tables)
		}

		switch b.Name {
		case "Write":
			content := ""
			if input.Content != nil {
				content = *input.Content
			}
			edit.IsCreate = true
			edit.CreateContent = content
			edit.HasCreateContent = true
			edit.ChangeSize = len(content)
		case "Edit":
			if input.OldString != nil {
				edit.OldString = *input.OldString
				edit.HasOldString = true
			}
			if input.NewString != nil {
				edit.NewString = *input.NewString
				edit.HasNewString = true
			}
			if !edit.HasOldString && !edit.HasNewString {
				continue
			}
			edit.ChangeSize = len(edit.OldString) + len(edit.NewString)
		}

		if err := edit.Validate(); err != nil {
			sink.Record(diagnostics.Diagnostic{
				Timestamp: time.Now(),
				Level:     diagnostics.LevelWarn,
				Source:    tracePath,
				Message:   fmt.Sprintf("line %d: %v", lineNo, err),
			})
			continue
		}
		edits = append(edits, edit)
	}
	return edits
}

// resolveClaudeModel implements the model-resolution priority from spec
// §4.C: parent-uuid lookup first, then tool-use-id lookup via a tool_result
// content block, then unresolved (empty string).
func resolveClaudeModel(entry claudeEntry, tables ModelTables) string {
	if entry.ParentUUID != "" {
		if model, ok := tables.ModelByUUID[entry.ParentUUID]; ok {
			return model
		}
	}
	if entry.Message != nil {
		for _, b := range parseContentBlocks(entry.Message.Content) {
			if b.Type != "tool_result" || b.ToolUseID == "" {
				continue
			}
			if model, ok := tables.ModelByToolUseID[b.ToolUseID]; ok {
				return model
			}
		}
	}
	return ""
}

// parseCodexEditLine converts one Codex CLI JSONL line into an EditRecord.
func parseCodexEditLine(line []byte, tracePath string, lineNo int, sink diagnostics.Sink) (models.EditRecord, bool) {
	var entry codexEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		sink.Record(diagnostics.Diagnostic{
			Timestamp: time.Now(),
			Level:     diagnostics.LevelWarn,
			Source:    tracePath,
			Message:   fmt.Sprintf("line %d: malformed codex entry: %v", lineNo, err),
		})
		return models.EditRecord{}, false
	}

	filePath := entry.FilePath
	if filePath == "" {
		filePath = entry.File
	}
	if filePath == "" {
		return models.EditRecord{}, false
	}

	ts, ok := parseTimestamp(entry.Timestamp)
	if !ok {
		sink.Record(diagnostics.Diagnostic{
			Timestamp: time.Now(),
			Level:     diagnostics.LevelWarn,
			Source:    tracePath,
			Message:   fmt.Sprintf("line %d: unparseable timestamp %q, dropping record", lineNo, entry.Timestamp),
		})
		return models.EditRecord{}, false
	}

	edit := models.EditRecord{
		FilePath:  filePath,
		Timestamp: ts,
		Model:     entry.Model,
		SessionID: entry.SessionID,
		AgentTool: models.AgentToolGitHubCopilot,
	}

	switch entry.Event {
	case "create":
		content := ""
		if entry.Content != nil {
			content = *entry.Content
		}
		edit.IsCreate = true
		edit.CreateContent = content
		edit.HasCreateContent = true
		edit.ChangeSize = len(content)
	case "edit":
		if entry.OldContent != nil {
			edit.OldString = *entry.OldContent
			edit.HasOldString = true
		}
		if entry.NewContent != nil {
			edit.NewString = *entry.NewContent
			edit.HasNewString = true
		}
		if !edit.HasOldString && !edit.HasNewString {
			return models.EditRecord{}, false
		}
		edit.ChangeSize = len(edit.OldString) + len(edit.NewString)
	default:
		return models.EditRecord{}, false
	}

	if err := edit.Validate(); err != nil {
		sink.Record(diagnostics.Diagnostic{
			Timestamp: time.Now(),
			Level:     diagnostics.LevelWarn,
			Source:    tracePath,
			Message:   fmt.Sprintf("line %d: %v", lineNo, err),
		})
		return models.EditRecord{}, false
	}

	return edit, true
}
