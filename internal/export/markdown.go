// Package export renders completed sessions as markdown and ships them to
// Google Drive.
package export

import (
	"fmt"
	"strings"
	"time"
)

// Document is everything exported for one completed session.
type Document struct {
	SessionID  string
	Owner      string
	Mode       string
	StartedAt  time.Time
	Duration   time.Duration
	Transcript string
	Summary    string
}

func RenderMarkdown(doc Document) string {
	var b strings.Builder

	if !doc.StartedAt.IsZero() {
		fmt.Fprintf(&b, "# Recording %s\n\n", doc.StartedAt.UTC().Format("2006-01-02 15:04 MST"))
	} else {
		b.WriteString("# Recording\n\n")
	}

	fmt.Fprintf(&b, "- Session: `%s`\n", doc.SessionID)
	if doc.Owner != "" {
		fmt.Fprintf(&b, "- Owner: %s\n", doc.Owner)
	}
	if doc.Mode != "" {
		fmt.Fprintf(&b, "- Source: %s\n", doc.Mode)
	}
	if doc.Duration > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", doc.Duration.Truncate(time.Second))
	}
	b.WriteString("\n---\n\n")

	if s := strings.TrimSpace(doc.Summary); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n---\n\n")
	}

	b.WriteString("## Transcript\n\n")
	if t := strings.TrimSpace(doc.Transcript); t != "" {
		for _, line := range strings.Split(t, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Fprintf(&b, "%s\n\n", line)
			}
		}
	} else {
		b.WriteString("_No speech was transcribed._\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FileName is the Drive document title for doc.
func FileName(doc Document) string {
	id := doc.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	date := "undated"
	if !doc.StartedAt.IsZero() {
		date = doc.StartedAt.UTC().Format("2006-01-02-1504")
	}
	return fmt.Sprintf("meetscribe-%s-%s", date, id)
}
