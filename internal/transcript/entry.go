package transcript

import (
	"encoding/json"
	"strings"
	"time"
)

// rawEntry mirrors one line of a Claude Code session JSONL file, widened
// from traceparse's edit-focused shape to also carry usage and stop_reason,
// since the transcript assembler needs the whole message, not just its
// edits.
type rawEntry struct {
	Type        string      `json:"type"`
	UUID        string      `json:"uuid"`
	ParentUUID  string      `json:"parentUuid"`
	Timestamp   string      `json:"timestamp"`
	SessionID   string      `json:"sessionId"`
	CWD         string      `json:"cwd"`
	GitBranch   string      `json:"gitBranch"`
	Version     string      `json:"version"`
	IsSidechain bool        `json:"isSidechain"`
	IsMeta      bool        `json:"isMeta"`
	Message     *rawMessage `json:"message"`
}

type rawMessage struct {
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	Content    json.RawMessage `json:"content"`
	StopReason *string         `json:"stop_reason"`
	Usage      struct {
		InputTokens              uint64 `json:"input_tokens"`
		OutputTokens             uint64 `json:"output_tokens"`
		CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

// rawBlock is the common shape used to partially unmarshal Claude
// message.content array entries, covering every block type this package
// classifies.
type rawBlock struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// toMessage converts a raw entry into a Message, classifying its content
// blocks. Entries with no message body (pure metadata lines) and
// sidechain entries are skipped by the caller before this is invoked.
func (e rawEntry) toMessage() Message {
	msg := Message{
		UUID:        e.UUID,
		ParentUUID:  e.ParentUUID,
		Timestamp:   parseTimestamp(e.Timestamp),
		IsMeta:      e.IsMeta,
		IsSidechain: e.IsSidechain,
	}
	if e.Message == nil {
		msg.Role = e.Type
		return msg
	}

	msg.Role = e.Message.Role
	if msg.Role == "" {
		msg.Role = e.Type
	}
	msg.Model = e.Message.Model
	msg.Usage = Usage{
		InputTokens:         e.Message.Usage.InputTokens,
		OutputTokens:        e.Message.Usage.OutputTokens,
		CacheReadTokens:     e.Message.Usage.CacheReadInputTokens,
		CacheCreationTokens: e.Message.Usage.CacheCreationInputTokens,
	}
	msg.Blocks = classifyBlocks(e.Message.Content)
	return msg
}

// classifyBlocks turns a message's raw content (either a bare string or an
// array of typed blocks) into the ContentBlock sum type.
func classifyBlocks(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return []ContentBlock{TextBlock{Text: s}}
	}

	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, classifyBlock(b))
	}
	return out
}

func classifyBlock(b rawBlock) ContentBlock {
	switch b.Type {
	case "text":
		return TextBlock{Text: b.Text}
	case "thinking":
		return ThinkingBlock{Text: b.Thinking}
	case "tool_result":
		return ToolResultBlock{ToolUseID: b.ToolUseID, Content: extractResultText(b.Content), IsError: b.IsError}
	case "tool_use":
		return classifyToolUse(b)
	default:
		return TextBlock{Text: b.Text}
	}
}

// fileOpInput covers the input payloads of the file-writing tools: Write
// carries content, Edit carries old_string/new_string, NotebookEdit
// carries new_source.
type fileOpInput struct {
	FilePath     string  `json:"file_path"`
	NotebookPath string  `json:"notebook_path"`
	Content      *string `json:"content"`
	OldString    *string `json:"old_string"`
	NewString    *string `json:"new_string"`
	NewSource    *string `json:"new_source"`
}

// classifyToolUse routes a tool_use block to FileOperationBlock,
// CommandBlock, or the generic ToolUseBlock fallback, per the taxonomy the
// teacher's parser/taxonomy.go applies for its own tool-category icons —
// narrowed here to just the two categories spec's ContentBlock cares about.
func classifyToolUse(b rawBlock) ContentBlock {
	switch strings.ToLower(b.Name) {
	case "write", "edit", "notebookedit":
		var input fileOpInput
		if len(b.Input) > 0 {
			_ = json.Unmarshal(b.Input, &input)
		}
		op := FileOperationBlock{
			Operation: strings.ToLower(b.Name),
			FilePath:  input.FilePath,
		}
		if op.FilePath == "" {
			op.FilePath = input.NotebookPath
		}
		switch {
		case input.Content != nil:
			op.Content = input.Content
		case input.NewString != nil:
			op.Content = input.NewString
		case input.NewSource != nil:
			op.Content = input.NewSource
		}
		op.OldContent = input.OldString
		return op
	case "bash", "shell", "shell_command", "exec_command":
		return CommandBlock{
			ToolUseID: b.ID,
			Command:   extractInputString(b.Input, "command"),
		}
	default:
		return ToolUseBlock{ID: b.ID, Name: b.Name, Input: b.Input}
	}
}

func extractInputString(raw json.RawMessage, keys ...string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func extractResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []rawBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
