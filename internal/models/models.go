// Package models declares the data types shared by every component of the
// trace-ingestion and attribution engine: the normalized edit record, the
// filter configuration applied after parsing, and the softer curation-event
// view used by timeline/history consumers.
package models

import (
	"fmt"
	"time"
)

// EditRecord is the universal normalized unit produced by the trace parser.
// file_path is the absolute or project-relative path of the source file
// being edited, not the trace file that produced the record.
type EditRecord struct {
	FilePath        string
	Timestamp       time.Time
	Model           string
	SessionID       string
	AgentTool       string
	AgentVersion    string
	IsCreate        bool
	ChangeSize      int
	OldString       string
	NewString       string
	StructuredPatch string
	CreateContent   string

	// HasOldString/HasNewString/HasStructuredPatch/HasCreateContent track
	// presence distinct from "empty string", since an edit can legitimately
	// replace content with an empty string.
	HasOldString       bool
	HasNewString       bool
	HasStructuredPatch bool
	HasCreateContent   bool
}

// Agent tool classifiers, per the glossary.
const (
	AgentToolClaudeCode      = "claude-code"
	AgentToolClaudeCodeAgent = "claude-code-agent"
	AgentToolCodexCLI        = "codex-cli"
	AgentToolGitHubCopilot   = "github-copilot"
)

// Validate checks the EditRecord invariants from spec §3:
//
//	is_create => create_content present && old_string absent
//	!is_create => at least one of (old_string, new_string, structured_patch) present
func (e EditRecord) Validate() error {
	if e.IsCreate {
		if !e.HasCreateContent {
			return fmt.Errorf("edit record for %q: is_create but create_content is absent", e.FilePath)
		}
		if e.HasOldString {
			return fmt.Errorf("edit record for %q: is_create but old_string is present", e.FilePath)
		}
		return nil
	}
	if !e.HasOldString && !e.HasNewString && !e.HasStructuredPatch {
		return fmt.Errorf("edit record for %q: modification has no old_string, new_string, or structured_patch", e.FilePath)
	}
	return nil
}

// CurationAction is the closed set of curation events a FileHistory can record.
type CurationAction string

const (
	ActionCreated CurationAction = "CREATED"
	ActionEdited  CurationAction = "EDITED"
)

// CurationEvent is a softer, display-oriented history entry. Unlike
// EditRecord, every field besides Timestamp is optional, letting callers
// reconstruct a FileHistory from partial or derived data.
type CurationEvent struct {
	Timestamp    time.Time
	Model        *string
	Action       *CurationAction
	Description  *string
	AgentTool    *string
	AgentVersion *string
}

// FileHistory is the ordered list of curation events for one source path.
type FileHistory struct {
	FilePath string
	Events   []CurationEvent
}

// FirstEdit returns the earliest event timestamp, or nil if there are no events.
func (h FileHistory) FirstEdit() *time.Time {
	if len(h.Events) == 0 {
		return nil
	}
	min := h.Events[0].Timestamp
	for _, e := range h.Events[1:] {
		if e.Timestamp.Before(min) {
			min = e.Timestamp
		}
	}
	return &min
}

// LastEdit returns the latest event timestamp, or nil if there are no events.
func (h FileHistory) LastEdit() *time.Time {
	if len(h.Events) == 0 {
		return nil
	}
	max := h.Events[0].Timestamp
	for _, e := range h.Events[1:] {
		if e.Timestamp.After(max) {
			max = e.Timestamp
		}
	}
	return &max
}

// FilterConfig controls post-parse filtering, applied before grouping.
type FilterConfig struct {
	// InitialAndRecentOnly retains only the first and last edit per source
	// file when true.
	InitialAndRecentOnly bool
	MinChangeSize        int
	FilePattern          string // glob; empty means unfiltered
	AgentToolFilter      map[string]bool
}

// Matches reports whether an edit record passes this filter's MinChangeSize
// and AgentToolFilter predicates. It does not check FilePattern (the
// extractor matches that glob itself) or InitialAndRecentOnly (a per-group,
// not per-record, rule applied separately by the extractor after grouping).
func (f FilterConfig) Matches(e EditRecord) bool {
	if e.ChangeSize < f.MinChangeSize {
		return false
	}
	if len(f.AgentToolFilter) > 0 && !f.AgentToolFilter[e.AgentTool] {
		return false
	}
	return true
}

// TimelineEvent is a flattened, display-ready view of one edit, produced by
// the extractor's timeline assembly.
type TimelineEvent struct {
	Timestamp    time.Time
	Action       CurationAction
	FilePath     string
	Model        string
	AgentTool    string
	AgentVersion string
	ChangeSize   int
}
