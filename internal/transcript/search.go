package transcript

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
)

// TranscriptSearchCriteria filters messages across a directory of
// transcripts. All non-empty predicates combine by logical AND.
type TranscriptSearchCriteria struct {
	Query            string // free-text query; empty matches everything
	UseRegex         bool   // treat Query as a regular expression
	CaseSensitive    bool
	SessionIDPattern string // regex matched against each transcript's session id
	AgentTool        string // "" means any agent tool
	Model            string // substring of the message's model; "" means any
	Since            *time.Time
	Until            *time.Time
}

// SearchResult is one matched content block, with a bounded-window snippet
// around the hit rather than the block's full text.
type SearchResult struct {
	SourceFile   string
	SessionID    string
	MessageIndex int
	Role         string
	Timestamp    time.Time
	BlockType    string
	Snippet      string
	Score        int
}

const snippetWindow = 120

// SearchTranscripts parses every transcript under dir and returns the
// content blocks matching criteria, capped at limit results. A non-positive
// limit means unbounded. Free-text (non-regex) queries are fuzzy-matched
// and returned best match first; regex and empty queries keep transcript
// order.
func SearchTranscripts(dir string, criteria TranscriptSearchCriteria, limit int) ([]SearchResult, error) {
	var sessionPattern, queryPattern *regexp.Regexp
	var err error
	if criteria.SessionIDPattern != "" {
		sessionPattern, err = regexp.Compile(criteria.SessionIDPattern)
		if err != nil {
			return nil, fmt.Errorf("search transcripts: session id pattern: %w", err)
		}
	}
	if criteria.UseRegex && criteria.Query != "" {
		expr := criteria.Query
		if !criteria.CaseSensitive {
			expr = "(?i)" + expr
		}
		queryPattern, err = regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("search transcripts: query: %w", err)
		}
	}

	transcripts, err := ParseTranscriptsFromDirectory(dir)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		result SearchResult
		text   string
	}
	var candidates []candidate

	for _, t := range transcripts {
		if criteria.AgentTool != "" && t.AgentTool != criteria.AgentTool {
			continue
		}
		if sessionPattern != nil && !sessionPattern.MatchString(t.SessionID) {
			continue
		}
		for i, m := range t.Messages {
			if !matchesMessage(m, criteria) {
				continue
			}
			for _, b := range m.Blocks {
				text := blockText(b)
				if text == "" {
					continue
				}
				loc := 0
				if queryPattern != nil {
					span := queryPattern.FindStringIndex(text)
					if span == nil {
						continue
					}
					loc = span[0]
				}
				candidates = append(candidates, candidate{
					result: SearchResult{
						SourceFile:   t.SourceFile,
						SessionID:    t.SessionID,
						MessageIndex: i,
						Role:         m.Role,
						Timestamp:    m.Timestamp,
						BlockType:    blockTypeName(b),
						Snippet:      boundedSnippet(text, loc),
					},
					text: text,
				})
			}
		}
	}

	// Regex and empty queries are already resolved; a free-text query is
	// fuzzy-ranked across the surviving candidates.
	if criteria.Query == "" || criteria.UseRegex {
		out := make([]SearchResult, 0, len(candidates))
		for _, c := range candidates {
			out = append(out, c.result)
		}
		return capResults(out, limit), nil
	}

	corpus := make([]string, len(candidates))
	for i, c := range candidates {
		corpus[i] = c.text
	}
	matches := fuzzy.Find(criteria.Query, corpus)

	out := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		if criteria.CaseSensitive && !matchedExactCase(criteria.Query, candidates[match.Index].text, match.MatchedIndexes) {
			continue
		}
		r := candidates[match.Index].result
		r.Score = match.Score
		loc := 0
		if len(match.MatchedIndexes) > 0 {
			loc = match.MatchedIndexes[0]
		}
		r.Snippet = boundedSnippet(candidates[match.Index].text, loc)
		out = append(out, r)
	}
	return capResults(out, limit), nil
}

func matchesMessage(m Message, c TranscriptSearchCriteria) bool {
	if c.Model != "" && !strings.Contains(m.Model, c.Model) {
		return false
	}
	if c.Since != nil && m.Timestamp.Before(*c.Since) {
		return false
	}
	if c.Until != nil && m.Timestamp.After(*c.Until) {
		return false
	}
	return true
}

// matchedExactCase reports whether a fuzzy match's characters equal the
// query's byte-for-byte, restoring case sensitivity over the library's
// case-folding match.
func matchedExactCase(query, text string, matchedIndexes []int) bool {
	if len(matchedIndexes) != len(query) {
		return false
	}
	for i, idx := range matchedIndexes {
		if idx >= len(text) || text[idx] != query[i] {
			return false
		}
	}
	return true
}

func blockTypeName(b ContentBlock) string {
	switch b.(type) {
	case TextBlock:
		return "text"
	case ThinkingBlock:
		return "thinking"
	case ToolUseBlock:
		return "tool_use"
	case ToolResultBlock:
		return "tool_result"
	case CodeBlock:
		return "code"
	case FileOperationBlock:
		return "file_operation"
	case CommandBlock:
		return "command"
	default:
		return ""
	}
}

// blockText extracts the searchable text of one content block.
func blockText(b ContentBlock) string {
	switch blk := b.(type) {
	case TextBlock:
		return blk.Text
	case ThinkingBlock:
		return blk.Text
	case ToolResultBlock:
		return blk.Content
	case CodeBlock:
		return blk.Code
	case FileOperationBlock:
		return blk.FilePath
	case CommandBlock:
		if blk.Output == "" {
			return blk.Command
		}
		return blk.Command + "\n" + blk.Output
	default:
		return ""
	}
}

// boundedSnippet returns a fixed-size window of text around loc.
func boundedSnippet(text string, loc int) string {
	if len(text) <= snippetWindow*2 {
		return text
	}
	start := loc - snippetWindow
	if start < 0 {
		start = 0
	}
	end := start + snippetWindow*2
	if end > len(text) {
		end = len(text)
		start = end - snippetWindow*2
		if start < 0 {
			start = 0
		}
	}
	snippet := text[start:end]
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet = snippet + "…"
	}
	return snippet
}

func capResults(results []SearchResult, limit int) []SearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
