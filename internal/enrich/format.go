package enrich

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chatscribe/chatscribe/internal/database"
)

// formatLine renders one message for the model prompt. The shape is fed
// verbatim to the model, so it must stay stable across runs:
//
//	Message <id>: from <name> [on id=<reply>]: "<text>"
func formatLine(m *database.Message, names map[int64]string) string {
	name := "Unknown"
	if m.SenderID.Valid {
		name = names[m.SenderID.Int64]
		if name == "" {
			name = fmt.Sprintf("User %d", m.SenderID.Int64)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Message %d: from %s", m.MessageID, name)
	if replyID, ok := m.ReplyToID(); ok {
		fmt.Fprintf(&b, " [on id=%d]", replyID)
	}
	fmt.Fprintf(&b, ": %q", m.Text())
	return b.String()
}

// mergeContext combines the reply-thread trace with the recent window,
// deduplicated by message id and ordered chronologically. The target itself
// is excluded; the caller appends it last.
func mergeContext(thread, recent []database.Message, targetID int64) []database.Message {
	seen := make(map[int64]bool, len(thread)+len(recent))
	merged := make([]database.Message, 0, len(thread)+len(recent))

	for _, group := range [][]database.Message{thread, recent} {
		for _, m := range group {
			if m.MessageID == targetID || seen[m.MessageID] {
				continue
			}
			seen[m.MessageID] = true
			merged = append(merged, m)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].MessageID < merged[j].MessageID
	})
	return merged
}

// buildPrompt assembles the full user prompt: the merged context lines, then
// the target message marked for analysis.
func buildPrompt(contextMsgs []database.Message, target *database.Message, names map[int64]string) string {
	var b strings.Builder

	if len(contextMsgs) > 0 {
		b.WriteString("Conversation so far:\n")
		for i := range contextMsgs {
			b.WriteString(formatLine(&contextMsgs[i], names))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("Analyze this message:\n")
	b.WriteString(formatLine(target, names))
	return b.String()
}
