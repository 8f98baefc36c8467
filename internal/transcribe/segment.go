package transcribe

import (
	"fmt"
	"strings"
)

// Word is one recognized word with optional diarization.
type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
}

// Segment is a run of consecutive words from the same speaker. Speaker is -1
// when the engine did not diarize.
type Segment struct {
	Speaker   int     `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

func GroupWordsBySpeaker(words []Word) []Segment {
	var segments []Segment
	for _, w := range words {
		speaker := -1
		if w.Speaker != nil {
			speaker = *w.Speaker
		}

		if n := len(segments); n > 0 && segments[n-1].Speaker == speaker {
			segments[n-1].Text += " " + w.PunctuatedWord
			segments[n-1].EndTime = w.End
			continue
		}
		segments = append(segments, Segment{
			Speaker:   speaker,
			Text:      w.PunctuatedWord,
			StartTime: w.Start,
			EndTime:   w.End,
		})
	}
	return segments
}

// LabeledText renders segments one per line. Lines carry a "Speaker N:"
// label only when more than one speaker was detected.
func LabeledText(segments []Segment) string {
	speakers := make(map[int]struct{})
	for _, s := range segments {
		if s.Speaker >= 0 {
			speakers[s.Speaker] = struct{}{}
		}
	}
	label := len(speakers) > 1

	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if label && s.Speaker >= 0 {
			text = fmt.Sprintf("Speaker %d: %s", s.Speaker, text)
		}
		lines = append(lines, text)
	}

	if !label {
		return strings.Join(lines, " ")
	}
	return strings.Join(lines, "\n")
}
