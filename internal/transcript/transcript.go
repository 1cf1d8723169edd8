// Package transcript assembles a Claude Code session's raw JSONL entries
// into a typed, role-aware message stream (spec §4.G), and provides a
// bounded free-text search index over a directory of such sessions.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ai4curation/ai-blame/internal/models"
	"github.com/ai4curation/ai-blame/internal/pathutil"
)

const (
	initialBufSize = 64 * 1024
	maxLineSize    = 64 * 1024 * 1024
)

// Usage holds per-message token accounting.
type Usage struct {
	InputTokens         uint64
	OutputTokens        uint64
	CacheReadTokens     uint64
	CacheCreationTokens uint64
}

// Total returns the sum of every token field.
func (u Usage) Total() uint64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// Message is one classified turn of a transcript.
type Message struct {
	UUID        string
	ParentUUID  string
	Role        string
	Timestamp   time.Time
	Model       string
	Blocks      []ContentBlock
	Usage       Usage
	IsMeta      bool
	IsSidechain bool
}

// Transcript is one session's full message stream, plus the session-level
// metadata Claude Code stamps on each entry (working directory, git branch,
// client version).
type Transcript struct {
	SourceFile   string
	SessionID    string
	AgentTool    string
	AgentVersion string
	CWD          string
	GitBranch    string
	Messages     []Message
}

// ParseTranscript reads path and assembles its Transcript. Lines that fail
// to parse as JSON are skipped, not treated as fatal — consistent with the
// trace parser's never-abort-on-bad-record policy.
func ParseTranscript(path string) (Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transcript{}, &models.IOError{Path: path, Err: err}
	}
	defer f.Close()

	t := Transcript{SourceFile: path, AgentTool: agentToolForFile(path)}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialBufSize), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawEntry
		if err := json.Unmarshal(line, &raw); err != nil {
			continue
		}
		if raw.IsSidechain {
			continue
		}
		if t.SessionID == "" {
			t.SessionID = raw.SessionID
		}
		if t.CWD == "" {
			t.CWD = raw.CWD
		}
		if t.GitBranch == "" {
			t.GitBranch = raw.GitBranch
		}
		if t.AgentVersion == "" {
			t.AgentVersion = raw.Version
		}
		if raw.Message == nil {
			continue
		}
		msg := raw.toMessage()
		if msg.Role == "" {
			continue
		}
		if msg.UUID == "" {
			// Deterministic fallback so a transcript parses identically across
			// runs even when an entry lacks its uuid.
			msg.UUID = uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s#%d", path, len(t.Messages))).String()
		}
		t.Messages = append(t.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return t, &models.IOError{Path: path, Err: err}
	}

	sort.SliceStable(t.Messages, func(i, j int) bool {
		return t.Messages[i].Timestamp.Before(t.Messages[j].Timestamp)
	})
	wireCommandResults(t.Messages)
	return t, nil
}

// wireCommandResults fills each CommandBlock's Output from the tool_result
// that answers its tool_use id. The result arrives in a later (user)
// message than the command itself, so this runs over the assembled,
// time-sorted message list rather than inside per-block classification.
func wireCommandResults(messages []Message) {
	type slot struct{ msg, block int }
	pending := make(map[string]slot)
	for mi, m := range messages {
		for bi, b := range m.Blocks {
			switch blk := b.(type) {
			case CommandBlock:
				if blk.ToolUseID != "" {
					pending[blk.ToolUseID] = slot{msg: mi, block: bi}
				}
			case ToolResultBlock:
				s, ok := pending[blk.ToolUseID]
				if !ok {
					continue
				}
				cmd := messages[s.msg].Blocks[s.block].(CommandBlock)
				cmd.Output = blk.Content
				messages[s.msg].Blocks[s.block] = cmd
				delete(pending, blk.ToolUseID)
			}
		}
	}
}

// ParseTranscriptsFromDirectory parses every trace file under dir into a
// Transcript, skipping any file that yields zero messages.
func ParseTranscriptsFromDirectory(dir string) ([]Transcript, error) {
	files, err := pathutil.CollectTraceFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("parse transcripts from directory %q: %w", dir, err)
	}

	var out []Transcript
	for _, f := range files {
		t, err := ParseTranscript(f)
		if err != nil {
			return nil, err
		}
		if len(t.Messages) == 0 {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// agentToolForFile applies the same agent-prefix sub-agent convention the
// trace parser uses, promoting claude-code to claude-code-agent for
// sub-agent worker logs.
func agentToolForFile(path string) string {
	base := path
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		base = path[i+1:]
	}
	if strings.HasPrefix(base, "agent-") || strings.HasPrefix(base, "agent_") {
		return models.AgentToolClaudeCodeAgent
	}
	return models.AgentToolClaudeCode
}
