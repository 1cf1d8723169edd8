package transcript

import "encoding/json"

// ContentBlock is the sealed sum type a Message's content decomposes into:
// Text, Thinking, ToolUse, ToolResult, Code, FileOperation, or Command.
// Unlike the teacher's DisplayItem (built for terminal rendering), this
// type is a plain data model meant for programmatic consumption.
type ContentBlock interface {
	contentBlock()
}

// TextBlock is a plain text turn.
type TextBlock struct {
	Text string
}

func (TextBlock) contentBlock() {}

// ThinkingBlock is an assistant reasoning block.
type ThinkingBlock struct {
	Text string
}

func (ThinkingBlock) contentBlock() {}

// ToolUseBlock is a tool invocation that isn't a recognized file
// operation or shell command — the generic fallback.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func (ToolUseBlock) contentBlock() {}

// ToolResultBlock is the result returned for a prior ToolUseBlock.
type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (ToolResultBlock) contentBlock() {}

// CodeBlock is a fenced code excerpt. The classification in this package
// does not produce one: fenced code in a message stays inside its TextBlock.
type CodeBlock struct {
	Language string
	Code     string
}

func (CodeBlock) contentBlock() {}

// FileOperationBlock is a Write/Edit/NotebookEdit tool-use, singled out
// from the generic ToolUseBlock because it names a file path the caller
// usually wants to index directly. Content is the post-image the tool was
// asked to produce (a Write's full content, an Edit's new_string);
// OldContent is an Edit's pre-image. Either is nil when the tool input
// didn't carry it.
type FileOperationBlock struct {
	Operation  string // tool name, lowercased: "write", "edit", "notebookedit"
	FilePath   string
	Content    *string
	OldContent *string
}

func (FileOperationBlock) contentBlock() {}

// CommandBlock is a Bash/shell/shell_command/exec_command tool-use. Output is filled
// from the paired tool_result once the whole transcript is assembled;
// ExitCode stays nil unless the dialect records one — none of the current
// dialects do, and inventing one from is_error would be guessing.
type CommandBlock struct {
	ToolUseID string
	Command   string
	Output    string
	ExitCode  *int
}

func (CommandBlock) contentBlock() {}
