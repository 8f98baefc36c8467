package summary

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Fragment is one partial transcription placed on the session timeline.
type Fragment struct {
	Offset time.Duration
	Text   string
}

// FallbackTranscript concatenates fragments in order, one "[mm:ss] text" line
// per fragment. The output depends only on its input.
func FallbackTranscript(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", FormatOffset(f.Offset), text)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatOffset renders an offset as mm:ss, or hh:mm:ss past the first hour.
func FormatOffset(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

var (
	timestampPrefix = regexp.MustCompile(`^\[\d{2}:\d{2}(?::\d{2})?\]\s*`)
	speakerLabel    = regexp.MustCompile(`^(Speaker \d+|[A-Z][\w.'-]*(?: [A-Z][\w.'-]*){0,2}):\s+\S`)

	decisionKeywords = []string{"decided", "decision", "agreed", "agree to", "approved", "we will go with", "settled on", "final call"}
	actionKeywords   = []string{"action item", "todo", "to-do", "follow up", "follow-up", "will send", "will take", "need to", "needs to", "assign", "by tomorrow", "by next", "deadline"}
)

const maxListedItems = 5

// StructuralSummary derives a markdown summary from transcript statistics:
// line and word counts, speaker labels in order of first appearance, and
// lines matching decision or action-item keywords. It never calls out to a
// backend and always returns non-empty output.
func StructuralSummary(transcript string) string {
	var lines []string
	for _, raw := range strings.Split(transcript, "\n") {
		line := strings.TrimSpace(timestampPrefix.ReplaceAllString(strings.TrimSpace(raw), ""))
		if line != "" {
			lines = append(lines, line)
		}
	}

	var b strings.Builder
	b.WriteString("## Summary\n\n")

	if len(lines) == 0 {
		b.WriteString("No speech was transcribed during this session.\n")
		return b.String()
	}

	words := 0
	var speakers []string
	seen := make(map[string]struct{})
	var decisions, actions []string

	for _, line := range lines {
		words += len(strings.Fields(line))

		if m := speakerLabel.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				speakers = append(speakers, name)
			}
		}

		lower := strings.ToLower(line)
		if containsAny(lower, decisionKeywords) {
			decisions = append(decisions, line)
		} else if containsAny(lower, actionKeywords) {
			actions = append(actions, line)
		}
	}

	fmt.Fprintf(&b, "Automatically generated overview of %d transcript lines (%d words).\n\n", len(lines), words)
	if len(speakers) > 0 {
		fmt.Fprintf(&b, "**Speakers:** %s\n\n", strings.Join(speakers, ", "))
	} else {
		b.WriteString("**Speakers:** not labeled\n\n")
	}

	fmt.Fprintf(&b, "**Opening:** %s\n\n", excerpt(lines[0], 160))

	writeList(&b, "Decisions", decisions)
	b.WriteString("\n")
	writeList(&b, "Action Items", actions)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "### %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("- None detected\n")
		return
	}
	for i, item := range items {
		if i == maxListedItems {
			fmt.Fprintf(b, "- ...and %d more\n", len(items)-maxListedItems)
			break
		}
		fmt.Fprintf(b, "- %s\n", excerpt(item, 200))
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimSpace(string(r[:limit])) + "..."
}
