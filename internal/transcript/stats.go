package transcript

import "time"

// TranscriptStats summarizes one transcript's shape: per-role message
// counts, tool-use activity, files touched, and token totals.
type TranscriptStats struct {
	MessageCount          int
	UserMessageCount      int
	AssistantMessageCount int
	ToolUseCount          int
	FilesTouched          int
	TotalInputTokens      *uint64
	TotalOutputTokens     *uint64
}

// TranscriptSummary is the lightweight, list-view projection of a
// Transcript, letting callers enumerate sessions without materializing
// every message.
type TranscriptSummary struct {
	SessionID     string
	AgentTool     string
	Slug          *string
	StartTime     *time.Time
	EndTime       *time.Time
	MessageCount  int
	FilesTouched  int
	PrimaryModel  *string
	SourceFile    string
}

// Stats computes this transcript's TranscriptStats.
func (t Transcript) Stats() TranscriptStats {
	stats := TranscriptStats{MessageCount: len(t.Messages)}
	files := make(map[string]bool)
	var totalIn, totalOut uint64
	var sawUsage bool

	for _, m := range t.Messages {
		switch m.Role {
		case "user":
			if !m.IsMeta {
				stats.UserMessageCount++
			}
		case "assistant":
			stats.AssistantMessageCount++
		}

		if m.Usage.Total() > 0 {
			sawUsage = true
			totalIn += m.Usage.InputTokens
			totalOut += m.Usage.OutputTokens
		}

		for _, b := range m.Blocks {
			switch blk := b.(type) {
			case ToolUseBlock:
				stats.ToolUseCount++
			case FileOperationBlock:
				stats.ToolUseCount++
				if blk.FilePath != "" {
					files[blk.FilePath] = true
				}
			case CommandBlock:
				stats.ToolUseCount++
			}
		}
	}

	stats.FilesTouched = len(files)
	if sawUsage {
		stats.TotalInputTokens = &totalIn
		stats.TotalOutputTokens = &totalOut
	}
	return stats
}

// Summary derives this transcript's TranscriptSummary.
func (t Transcript) Summary() TranscriptSummary {
	stats := t.Stats()
	summary := TranscriptSummary{
		SessionID:    t.SessionID,
		AgentTool:    t.AgentTool,
		MessageCount: stats.MessageCount,
		FilesTouched: stats.FilesTouched,
		SourceFile:   t.SourceFile,
	}

	if len(t.Messages) == 0 {
		return summary
	}

	start := t.Messages[0].Timestamp
	end := t.Messages[0].Timestamp
	for _, m := range t.Messages[1:] {
		if m.Timestamp.Before(start) {
			start = m.Timestamp
		}
		if m.Timestamp.After(end) {
			end = m.Timestamp
		}
	}
	summary.StartTime = &start
	summary.EndTime = &end

	if slug := firstUserText(t.Messages); slug != "" {
		summary.Slug = &slug
	}
	if model := primaryModel(t.Messages); model != "" {
		summary.PrimaryModel = &model
	}
	return summary
}

func firstUserText(messages []Message) string {
	for _, m := range messages {
		if m.Role != "user" || m.IsMeta {
			continue
		}
		for _, b := range m.Blocks {
			if tb, ok := b.(TextBlock); ok && tb.Text != "" {
				return tb.Text
			}
		}
	}
	return ""
}

// primaryModel returns the most frequent non-empty assistant model, ties
// broken by first occurrence.
func primaryModel(messages []Message) string {
	counts := make(map[string]int)
	order := make(map[string]int)
	n := 0
	for _, m := range messages {
		if m.Role != "assistant" || m.Model == "" {
			continue
		}
		if _, seen := order[m.Model]; !seen {
			order[m.Model] = n
			n++
		}
		counts[m.Model]++
	}

	best := ""
	bestCount := 0
	bestOrder := 0
	for model, count := range counts {
		if count > bestCount || (count == bestCount && order[model] < bestOrder) {
			best = model
			bestCount = count
			bestOrder = order[model]
		}
	}
	return best
}
