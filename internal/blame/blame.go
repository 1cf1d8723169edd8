// Package blame implements the line-attribution replay algorithm from spec
// §4.F: given a file's current text and the ordered edits that produced it,
// determine which edit last touched each line.
package blame

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/ai4curation/ai-blame/internal/models"
)

// Meta is the attribution recorded for one line: which edit last wrote it.
type Meta struct {
	Model        string
	AgentTool    string
	AgentVersion string
	Timestamp    time.Time
	Action       models.CurationAction
}

// equal reports whether two metas describe the same edit, for block coalescing.
func (m Meta) equal(other Meta) bool {
	return m.Model == other.Model &&
		m.AgentTool == other.AgentTool &&
		m.AgentVersion == other.AgentVersion &&
		m.Timestamp.Equal(other.Timestamp) &&
		m.Action == other.Action
}

// LineBlame is one line of a blamed file: its 1-indexed line number, its
// text, and the edit attributed to it (nil if no edit in the given history
// touched this line).
type LineBlame struct {
	LineNumber int
	Content    string
	Meta       *Meta
}

// BlockRange is a maximal run of consecutive lines sharing the same
// attribution (or the same absence of one).
type BlockRange struct {
	StartLine int
	EndLine   int
	Meta      *Meta
}

var hunkHeaderPattern = regexp.MustCompile(`@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ComputeLineBlame replays edits, oldest first, against currentText and
// returns per-line attribution. Edits are not assumed to already be sorted;
// ComputeLineBlame sorts a copy by timestamp ascending before replaying, so
// a later edit's attribution always overwrites an earlier one on any line
// they both touch. Lines no edit's content or structured patch locates in
// currentText are left unattributed rather than treated as an error —
// trace history is frequently incomplete or reordered relative to disk state.
func ComputeLineBlame(currentText string, edits []models.EditRecord) ([]LineBlame, error) {
	lines := splitLines(currentText)
	metas := make([]*Meta, len(lines))

	sorted := make([]models.EditRecord, len(edits))
	copy(sorted, edits)
	stableSortByTimestamp(sorted)

	matcher := diffmatchpatch.New()

	for _, e := range sorted {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("compute line blame: %w", err)
		}

		meta := &Meta{
			Model:        e.Model,
			AgentTool:    e.AgentTool,
			AgentVersion: e.AgentVersion,
			Timestamp:    e.Timestamp,
			Action:       models.ActionEdited,
		}
		if e.IsCreate {
			meta.Action = models.ActionCreated
		}

		for _, span := range locateSpans(currentText, matcher, e) {
			for i := span.start; i <= span.end && i-1 < len(metas); i++ {
				if i-1 < 0 {
					continue
				}
				metas[i-1] = meta
			}
		}
	}

	out := make([]LineBlame, len(lines))
	for i, content := range lines {
		out[i] = LineBlame{LineNumber: i + 1, Content: content, Meta: metas[i]}
	}
	return out, nil
}

// lineSpan is a 1-indexed inclusive line range within the current text.
type lineSpan struct {
	start, end int
}

// locateSpans determines every 1-indexed line range an edit plausibly
// produced within currentText. A structured patch's hunk header takes
// priority, since it names the new-file line range directly; otherwise the
// edit's new_string or create_content is located by content — every exact
// occurrence is attributed, with a single fuzzy match as fallback when
// none is found verbatim.
func locateSpans(currentText string, matcher *diffmatchpatch.DiffMatchPatch, e models.EditRecord) []lineSpan {
	if e.HasStructuredPatch {
		if s, n, ok := parseHunkNewRange(e.StructuredPatch); ok {
			return []lineSpan{{start: s, end: s + n - 1}}
		}
	}

	snippet := e.CreateContent
	if !e.IsCreate {
		snippet = e.NewString
	}
	if snippet == "" {
		return nil
	}

	var spans []lineSpan
	for from := 0; from <= len(currentText)-len(snippet); {
		idx := strings.Index(currentText[from:], snippet)
		if idx < 0 {
			break
		}
		idx += from
		spans = append(spans, spanAt(currentText, idx, snippet))
		from = idx + len(snippet)
	}
	if len(spans) > 0 {
		return spans
	}

	// Bitap matching is capped at MatchMaxBits pattern bytes; longer
	// snippets that didn't match verbatim stay unattributed.
	if len(snippet) > matcher.MatchMaxBits {
		return nil
	}
	idx := matcher.MatchMain(currentText, snippet, 0)
	if idx < 0 || idx >= len(currentText) {
		return nil
	}
	return []lineSpan{spanAt(currentText, idx, snippet)}
}

func spanAt(currentText string, idx int, snippet string) lineSpan {
	startLine := 1 + strings.Count(currentText[:idx], "\n")
	return lineSpan{start: startLine, end: startLine + strings.Count(snippet, "\n")}
}

// parseHunkNewRange extracts the new-file (start, length) pair from a
// unified-diff hunk header of the form "@@ -a,b +c,d @@". A missing length
// defaults to 1, matching unified diff convention for single-line hunks.
func parseHunkNewRange(patch string) (start, length int, ok bool) {
	m := hunkHeaderPattern.FindStringSubmatch(patch)
	if m == nil {
		return 0, 0, false
	}
	start, err := strconv.Atoi(m[3])
	if err != nil {
		return 0, 0, false
	}
	length = 1
	if m[4] != "" {
		length, err = strconv.Atoi(m[4])
		if err != nil {
			return 0, 0, false
		}
	}
	return start, length, true
}

// GroupBlocks coalesces consecutive lines sharing the same attribution (or
// the same lack of one) into maximal blocks.
func GroupBlocks(blamed []LineBlame) []BlockRange {
	var blocks []BlockRange
	for _, lb := range blamed {
		if len(blocks) > 0 && sameMeta(blocks[len(blocks)-1].Meta, lb.Meta) {
			blocks[len(blocks)-1].EndLine = lb.LineNumber
			continue
		}
		blocks = append(blocks, BlockRange{StartLine: lb.LineNumber, EndLine: lb.LineNumber, Meta: lb.Meta})
	}
	return blocks
}

func sameMeta(a, b *Meta) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.equal(*b)
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	trimmed := strings.TrimSuffix(text, "\n")
	return strings.Split(trimmed, "\n")
}

// stableSortByTimestamp sorts edits ascending by timestamp, preserving
// input order among equal timestamps (insertion sort is fine at the sizes
// a single file's edit history reaches).
func stableSortByTimestamp(edits []models.EditRecord) {
	for i := 1; i < len(edits); i++ {
		for j := i; j > 0 && edits[j].Timestamp.Before(edits[j-1].Timestamp); j-- {
			edits[j], edits[j-1] = edits[j-1], edits[j]
		}
	}
}
