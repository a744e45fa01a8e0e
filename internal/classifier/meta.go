package classifier

import (
	"strings"

	"github.com/nominalgeek/ai-router/internal/chatapi"
)

// metaMarkers are the substrings that identify a client-generated
// embedded-history prompt (chat-UI title/follow-up/summary generation)
// that already contains its own conversation context.
var metaMarkers = []string{
	"USER:",
	"ASSISTANT:",
	"<chat_history>",
	"### Task:",
	"### Guidelines:",
}

const metaMinLength = 300

// IsMeta reports whether req matches the meta fast path: exactly one
// message, user-role, longer than metaMinLength, containing at least one
// of metaMarkers. A true result means classification must be skipped
// entirely.
func IsMeta(req *chatapi.ChatRequest) bool {
	if len(req.Messages) != 1 {
		return false
	}
	m := req.Messages[0]
	if m.Role != "user" {
		return false
	}
	if len(m.Content) <= metaMinLength {
		return false
	}
	for _, marker := range metaMarkers {
		if strings.Contains(m.Content, marker) {
			return true
		}
	}
	return false
}

// TruncateMetaContent bounds the embedded-history message to budget
// characters. If a <chat_history>...</chat_history> span is present, the
// kept suffix stays within the tags (closing tag preserved) snapped
// forward to the next line break so no line is cut mid-way; otherwise
// the plain last budget characters are kept, also snapped to a line
// break.
func TruncateMetaContent(content string, budget int) string {
	if len(content) <= budget {
		return content
	}

	openTag := "<chat_history>"
	closeTag := "</chat_history>"
	openIdx := strings.Index(content, openTag)
	closeIdx := strings.LastIndex(content, closeTag)

	if openIdx >= 0 && closeIdx > openIdx {
		prefix := content[:openIdx+len(openTag)]
		inner := content[openIdx+len(openTag) : closeIdx]
		suffix := content[closeIdx:]

		keep := budget - len(prefix) - len(suffix)
		if keep < 0 {
			keep = 0
		}
		if len(inner) > keep {
			cut := len(inner) - keep
			if nl := strings.IndexByte(inner[cut:], '\n'); nl >= 0 {
				cut += nl + 1
			}
			inner = inner[cut:]
		}
		return prefix + inner + suffix
	}

	cut := len(content) - budget
	if nl := strings.IndexByte(content[cut:], '\n'); nl >= 0 {
		cut += nl + 1
	}
	return content[cut:]
}

// BuildContextPrefix renders all messages except the last as
// "<role>: <content>" lines, with <details>...</details> reasoning
// wrappers stripped from content, under the heading the routing prompt
// expects. Returns "" when there is nothing to prepend (single-turn
// requests carry no prior context).
func BuildContextPrefix(messages []chatapi.Message) string {
	if len(messages) <= 1 {
		return ""
	}
	prior := messages[:len(messages)-1]

	var b strings.Builder
	b.WriteString("Recent conversation context (for resolving references):\n")
	for _, m := range prior {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(stripDetails(m.Content))
		b.WriteString("\n")
	}
	return b.String()
}

// stripDetails removes <details>...</details> wrappers (assistant
// reasoning-disclosure blocks some UIs embed) from content.
func stripDetails(s string) string {
	for {
		start := strings.Index(s, "<details>")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "</details>")
		if end < 0 {
			s = s[:start]
			break
		}
		end += start + len("</details>")
		s = s[:start] + s[end:]
	}
	return strings.TrimSpace(s)
}
