package transcription

import (
	"strings"

	"github.com/nijaru/catchup/models"
)

const maxWordsPerSegment = 40

func buildTranscript(resp transcriptResponse) models.Transcript {
	t := models.Transcript{
		ID:         resp.ID,
		Segments:   groupWords(resp.Words),
		Text:       strings.TrimSpace(resp.Text),
		Language:   resp.LanguageCode,
		Confidence: resp.Confidence,
	}
	if len(t.Segments) == 0 && t.Text != "" {
		t.Segments = []models.Segment{{Start: 0, End: 0, Text: t.Text}}
	}
	if len(t.Segments) == 0 {
		t.Segments = []models.Segment{}
	}
	return t
}

// groupWords joins words into sentence segments, closing a segment at
// sentence-ending punctuation or after maxWordsPerSegment words.
func groupWords(words []word) []models.Segment {
	var (
		segments []models.Segment
		current  []string
		start    int64
		end      int64
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		segments = append(segments, models.Segment{
			Start: float64(start) / 1000,
			End:   float64(end) / 1000,
			Text:  strings.Join(current, " "),
		})
		current = current[:0]
	}

	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		if len(current) == 0 {
			start = w.Start
		}
		current = append(current, text)
		end = w.End

		if strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?") || len(current) >= maxWordsPerSegment {
			flush()
		}
	}
	flush()

	return segments
}
