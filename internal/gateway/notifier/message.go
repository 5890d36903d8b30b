package notifier

import (
	"fmt"
	"strings"
	"time"

	"griddca/internal/pkg/text"
)

// leaves room for a caller-side prefix under maxMessageRunes
const maxRenderRunes = 3800

// Section 表示通知中的一个段落。
type Section struct {
	Title string
	Lines []string
}

// Add appends a "label: value" line.
func (s *Section) Add(label string, value any) {
	s.Lines = append(s.Lines, fmt.Sprintf("%s: %v", label, value))
}

// Message 描述统一格式的运营推送。
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// Render produces plain text, truncated to fit one Telegram message.
func (m Message) Render() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n")
	}
	for _, sec := range m.Sections {
		lines := compactLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		b.WriteString("\n")
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(title)
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("• ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("\n")
		b.WriteString(m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	return text.Truncate(strings.TrimSpace(b.String()), maxRenderRunes)
}

func compactLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if l := strings.Join(strings.Fields(line), " "); l != "" {
			out = append(out, l)
		}
	}
	return out
}
