// Package extractor orchestrates the pieces spec §4.E describes: discover
// trace files in a directory, parse (or load from cache) every file's
// edits, resolve models across files, group by source file, and apply
// post-parse filtering.
package extractor

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ai4curation/ai-blame/internal/cache"
	"github.com/ai4curation/ai-blame/internal/diagnostics"
	"github.com/ai4curation/ai-blame/internal/models"
	"github.com/ai4curation/ai-blame/internal/pathutil"
	"github.com/ai4curation/ai-blame/internal/traceparse"
)

// ExtractEditHistory discovers every trace file under traceDir, resolves
// models across the whole directory, and returns edits grouped by the
// source file path they touched, after filter is applied. Edits within
// each group are sorted ascending by timestamp.
func ExtractEditHistory(traceDir string, filter models.FilterConfig) (map[string][]models.EditRecord, error) {
	return ExtractEditHistoryWithSink(traceDir, filter, diagnostics.Discard)
}

// ExtractEditHistoryWithSink is ExtractEditHistory with an explicit
// diagnostics sink for malformed-record reporting.
func ExtractEditHistoryWithSink(traceDir string, filter models.FilterConfig, sink diagnostics.Sink) (map[string][]models.EditRecord, error) {
	edits, err := collectDirEdits(traceDir, sink)
	if err != nil {
		return nil, err
	}
	promoteCodexAgentTool(traceDir, edits)
	return groupAndFilter(edits, filter, nil), nil
}

// ExtractEditHistoryFromDirs unions edits discovered across several trace
// directories (e.g. a Claude Code session dir and a separate Codex
// sessions dir for the same project). Each directory gets its own
// independent cache file and its own cross-file model-resolution pass —
// model resolution never crosses a trace-directory boundary. repoRoot,
// when non-nil, normalizes grouping keys to repo-relative paths.
func ExtractEditHistoryFromDirs(traceDirs []string, filter models.FilterConfig, repoRoot *string) (map[string][]models.EditRecord, error) {
	var all []models.EditRecord
	for _, dir := range traceDirs {
		edits, err := collectDirEdits(dir, diagnostics.Discard)
		if err != nil {
			return nil, err
		}
		promoteCodexAgentTool(dir, edits)
		all = append(all, edits...)
	}
	return groupAndFilter(all, filter, repoRoot), nil
}

// collectDirEdits runs the two-pass parse (building merged model tables,
// then resolving edits) over every trace file in dir, using dir's
// persistent cache to skip files that haven't changed.
func collectDirEdits(dir string, sink diagnostics.Sink) ([]models.EditRecord, error) {
	resolved, err := pathutil.ValidateSafePath(dir)
	if err != nil {
		return nil, fmt.Errorf("extract edit history: %w", err)
	}

	files, err := pathutil.CollectTraceFiles(resolved)
	if err != nil {
		return nil, fmt.Errorf("extract edit history: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	mgr, err := cache.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("extract edit history: %w", err)
	}
	defer mgr.Close()

	tables := traceparse.NewModelTables()
	for _, f := range files {
		t, err := traceparse.BuildModelTables(f)
		if err != nil {
			return nil, fmt.Errorf("extract edit history: %w", err)
		}
		tables.Merge(t)
	}

	var all []models.EditRecord
	for _, f := range files {
		edits, err := resolveFileEdits(mgr, f, tables, sink)
		if err != nil {
			return nil, fmt.Errorf("extract edit history: %w", err)
		}
		all = append(all, edits...)
	}
	return all, nil
}

func resolveFileEdits(mgr *cache.Manager, file string, tables traceparse.ModelTables, sink diagnostics.Sink) ([]models.EditRecord, error) {
	if cached, ok, err := mgr.GetCachedEdits(file); err == nil && ok {
		return cached, nil
	}

	edits, err := traceparse.ParseEdits(file, tables, "", sink)
	if err != nil {
		return nil, err
	}

	dialect := "claude"
	if len(edits) > 0 && edits[0].AgentTool == models.AgentToolGitHubCopilot {
		dialect = "codex"
	}
	if err := mgr.StoreEdits(file, dialect, edits, len(edits)); err != nil {
		return nil, err
	}
	return edits, nil
}

// codexDirMarkers are substrings of a trace directory's path that signal a
// Codex CLI session directory rather than a Claude Code one.
var codexDirMarkers = []string{"codex", ".codex"}

// promoteCodexAgentTool rewrites the default github-copilot agent_tool to
// codex-cli for every edit when dir's path (any component, compared
// case-insensitively) contains one of codexDirMarkers. The parser itself never does this — it has no
// visibility into the directory a file was discovered under — so this is
// purely an extractor-level, post-parse pass.
func promoteCodexAgentTool(dir string, edits []models.EditRecord) {
	lower := strings.ToLower(dir)
	isCodexDir := false
	for _, marker := range codexDirMarkers {
		if strings.Contains(lower, marker) {
			isCodexDir = true
			break
		}
	}
	if !isCodexDir {
		return
	}
	for i := range edits {
		if edits[i].AgentTool == models.AgentToolGitHubCopilot {
			edits[i].AgentTool = models.AgentToolCodexCLI
		}
	}
}

// groupAndFilter applies filter's per-record predicate, buckets by
// normalized file path, sorts each bucket by timestamp, and (if
// filter.InitialAndRecentOnly is set) keeps only the first and last edit
// of each bucket.
func groupAndFilter(edits []models.EditRecord, filter models.FilterConfig, repoRoot *string) map[string][]models.EditRecord {
	grouped := make(map[string][]models.EditRecord)
	for _, e := range edits {
		if !filter.Matches(e) {
			continue
		}
		if filter.FilePattern != "" {
			matched, err := filepath.Match(filter.FilePattern, e.FilePath)
			if err != nil {
				continue
			}
			if !matched {
				// Patterns like "*.py" are usually meant against the basename,
				// since Match's * never crosses a path separator.
				matched, _ = filepath.Match(filter.FilePattern, filepath.Base(e.FilePath))
			}
			if !matched {
				continue
			}
		}
		key := NormalizePath(repoRoot, e.FilePath)
		grouped[key] = append(grouped[key], e)
	}

	for key, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		if filter.InitialAndRecentOnly && len(group) > 2 {
			group = []models.EditRecord{group[0], group[len(group)-1]}
		}
		grouped[key] = group
	}
	return grouped
}

// NormalizePath rewrites path relative to repoRoot when provided and path
// falls under it; otherwise path is returned unchanged.
func NormalizePath(repoRoot *string, path string) string {
	if repoRoot == nil || *repoRoot == "" {
		return path
	}
	rel, err := filepath.Rel(*repoRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// CollectTimelineEvents extracts edits across traceDirs and flattens them
// into a single most-recent-first timeline, capped at limit events. A
// non-positive limit means unbounded. skipCodex drops Codex-originated
// edits (codex-cli and github-copilot alike) entirely.
func CollectTimelineEvents(traceDirs []string, filter models.FilterConfig, skipCodex bool, limit int) ([]models.TimelineEvent, error) {
	grouped, err := ExtractEditHistoryFromDirs(traceDirs, filter, nil)
	if err != nil {
		return nil, err
	}
	events := TimelineFromGroups(grouped)
	if skipCodex {
		kept := events[:0]
		for _, ev := range events {
			if ev.AgentTool == models.AgentToolCodexCLI || ev.AgentTool == models.AgentToolGitHubCopilot {
				continue
			}
			kept = append(kept, ev)
		}
		events = kept
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// TimelineFromGroups flattens a grouped edit map into a single timeline
// sorted descending by timestamp, newest event first. Groups are visited
// in sorted key order so equal-timestamp events order deterministically.
func TimelineFromGroups(grouped map[string][]models.EditRecord) []models.TimelineEvent {
	paths := make([]string, 0, len(grouped))
	for path := range grouped {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var events []models.TimelineEvent
	for _, path := range paths {
		edits := grouped[path]
		for _, e := range edits {
			action := models.ActionEdited
			if e.IsCreate {
				action = models.ActionCreated
			}
			events = append(events, models.TimelineEvent{
				Timestamp:    e.Timestamp,
				Action:       action,
				FilePath:     path,
				Model:        e.Model,
				AgentTool:    e.AgentTool,
				AgentVersion: e.AgentVersion,
				ChangeSize:   e.ChangeSize,
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events
}
