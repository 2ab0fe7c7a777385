package models

import (
	"strings"
	"time"
)

// Segment offsets are seconds from the start of the audio window.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func (s Segment) StartOffset() time.Duration {
	return time.Duration(s.Start * float64(time.Second))
}

// Transcript is either present (possibly empty, meaning silence) or absent
// because transcription failed; failure is reported as an error, never as
// an empty Transcript.
type Transcript struct {
	ID         string    `json:"id,omitempty"`
	Segments   []Segment `json:"segments"`
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

func (t Transcript) Empty() bool {
	return len(t.Segments) == 0 && strings.TrimSpace(t.Text) == ""
}

type KeyMoment struct {
	Timestamp string  `json:"timestamp"`
	Offset    float64 `json:"offset"`
	Content   string  `json:"content"`
	Link      string  `json:"link,omitempty"`
}

type Summary struct {
	Headline    string      `json:"headline"`
	Highlights  []string    `json:"highlights"`
	Narrative   string      `json:"narrative"`
	KeyMoments  []KeyMoment `json:"key_moments,omitempty"`
	NoSpeech    bool        `json:"no_speech,omitempty"`
	Unavailable bool        `json:"unavailable,omitempty"`
	Note        string      `json:"note,omitempty"`
	Model       string      `json:"model,omitempty"`
}

const (
	noSpeechHeadline  = "No speech detected"
	noSpeechNarrative = "The requested window contained no detectable speech."
)

// NoSpeechSummary is the canned value for an empty transcript.
func NoSpeechSummary() Summary {
	return Summary{
		Headline:   noSpeechHeadline,
		Highlights: []string{},
		Narrative:  noSpeechNarrative,
		NoSpeech:   true,
	}
}

// UnavailableSummary marks a degraded result where no transcript was
// produced.
func UnavailableSummary(note string) Summary {
	return Summary{
		Headline:    "Transcript unavailable",
		Highlights:  []string{},
		Narrative:   "Audio was captured but could not be transcribed.",
		Unavailable: true,
		Note:        note,
	}
}

// TranscriptOnlySummary stands in when summarization fails; the raw
// transcript is returned alongside it.
func TranscriptOnlySummary(note string) Summary {
	return Summary{
		Headline:    "Summary unavailable",
		Highlights:  []string{},
		Narrative:   "The summary could not be generated. The raw transcript is included instead.",
		Unavailable: true,
		Note:        note,
	}
}
