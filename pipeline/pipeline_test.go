package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
)

type stubResolver struct {
	archive models.ResolvedArchive
	err     error
	calls   int
}

func (s *stubResolver) Resolve(ctx context.Context, channel models.Channel, minutes int) (models.ResolvedArchive, error) {
	s.calls++
	return s.archive, s.err
}

type stubExtractor struct {
	audio  models.AudioSegment
	err    error
	block  bool
	calls  int
	budget *retry.Budget
}

func (s *stubExtractor) Extract(ctx context.Context, archive models.ResolvedArchive, budget *retry.Budget) (models.AudioSegment, error) {
	s.calls++
	s.budget = budget
	if s.block {
		<-ctx.Done()
		return models.AudioSegment{}, ctx.Err()
	}
	return s.audio, s.err
}

type stubTranscriber struct {
	transcript models.Transcript
	err        error
	block      bool
	calls      int
}

// Transcribe mirrors the client: an expired poll surfaces as a
// transcription failure.
func (s *stubTranscriber) Transcribe(ctx context.Context, audio models.AudioSegment) (models.Transcript, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return models.Transcript{}, errors.TranscriptionFailed("stub", ctx.Err(), "transcript not ready")
	}
	return s.transcript, s.err
}

type stubSummarizer struct {
	summary models.Summary
	err     error
	block   bool
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript models.Transcript, archive models.ResolvedArchive) (models.Summary, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return models.Summary{}, errors.SummarizationFailed("stub", ctx.Err(), "completion request failed")
	}
	return s.summary, s.err
}

type fixture struct {
	resolver    *stubResolver
	extractor   *stubExtractor
	transcriber *stubTranscriber
	summarizer  *stubSummarizer
	opts        Options
}

func newFixture() *fixture {
	return &fixture{
		resolver: &stubResolver{archive: models.ResolvedArchive{
			Platform:   models.PlatformTwitch,
			ArchiveID:  "901",
			ArchiveURL: "https://www.twitch.tv/videos/901",
			Title:      "Speedrun night",
			Duration:   2 * time.Hour,
			Start:      90 * time.Minute,
			End:        2 * time.Hour,
		}},
		extractor: &stubExtractor{audio: models.AudioSegment{Data: []byte("audio"), Format: "m4a"}},
		transcriber: &stubTranscriber{transcript: models.Transcript{
			Segments: []models.Segment{{Start: 0, End: 4, Text: "We beat the boss."}},
			Text:     "We beat the boss.",
		}},
		summarizer: &stubSummarizer{summary: models.Summary{
			Headline:   "Boss down",
			Highlights: []string{"boss beaten"},
			Narrative:  "The streamer beat the boss.",
		}},
		opts: Options{
			Budget:                        time.Second,
			MaxDurationMinutes:            60,
			Retries:                       2,
			RetryScope:                    retry.ScopeRequest,
			DegradeOnTranscriptionFailure: true,
			IncludeTranscript:             true,
			CreditsPerMinute:              10,
		},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.opts, f.resolver, f.extractor, f.transcriber, f.summarizer)
}

func testRequest(minutes int) models.CatchUpRequest {
	return models.CatchUpRequest{
		Channel: models.Channel{
			Platform: models.PlatformTwitch,
			Login:    "streamer",
			URL:      "https://www.twitch.tv/streamer",
		},
		DurationMinutes: minutes,
		UserID:          "u1",
	}
}

func TestRunSuccess(t *testing.T) {
	f := newFixture()

	result := f.orchestrator().Run(context.Background(), testRequest(30))

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Summary.Headline != "Boss down" {
		t.Errorf("unexpected summary %+v", result.Summary)
	}
	if result.Transcript == nil || result.Transcript.Text != "We beat the boss." {
		t.Errorf("expected transcript in result, got %+v", result.Transcript)
	}
	if result.Meta.Duration != 30 || result.Meta.CostEstimate != 300 || result.Meta.ArchiveID != "901" {
		t.Errorf("unexpected meta %+v", result.Meta)
	}
	want := []string{"resolving", "extracting", "transcribing", "summarizing", "done"}
	if len(result.Meta.Stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, result.Meta.Stages)
	}
	for i := range want {
		if result.Meta.Stages[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], result.Meta.Stages[i])
		}
	}
}

func TestRunOmitsTranscriptWhenDisabled(t *testing.T) {
	f := newFixture()
	f.opts.IncludeTranscript = false

	result := f.orchestrator().Run(context.Background(), testRequest(30))
	if !result.IsSuccess() || result.Transcript != nil {
		t.Errorf("expected success without transcript, got %+v", result)
	}
}

func TestRunExtractionBlocked(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"blocked", errors.Blocked("test", nil, "HTTP Error 403: Forbidden")},
		{"transient exhausted", errors.Escalate("test", errors.Transient("test", nil, "timed out"))},
		{"transient", errors.Transient("test", nil, "connection reset")},
		{"format", errors.FormatOrProtocol("test", nil, "unable to extract")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.extractor.err = tt.err

			result := f.orchestrator().Run(context.Background(), testRequest(30))

			if !result.IsFallback() || result.Reason != models.ReasonBlocked {
				t.Fatalf("expected Blocked fallback, got %+v", result)
			}
			if result.Link != "https://www.twitch.tv/videos/901?t=1h30m00s" {
				t.Errorf("unexpected link %s", result.Link)
			}
			if result.Stage != "extracting" {
				t.Errorf("expected extracting stage, got %s", result.Stage)
			}
			if f.transcriber.calls != 0 || f.summarizer.calls != 0 {
				t.Error("later stages must not run after a fallback")
			}
		})
	}
}

func TestRunNoArchive(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.NoArchive("test", nil, "no archive")

	result := f.orchestrator().Run(context.Background(), testRequest(30))

	if !result.IsFallback() || result.Reason != models.ReasonNoArchiveAvailable {
		t.Fatalf("expected NoArchiveAvailable fallback, got %+v", result)
	}
	if result.Link != "https://www.twitch.tv/streamer" {
		t.Errorf("expected channel link, got %s", result.Link)
	}
	if f.extractor.calls != 0 {
		t.Error("extractor must not run without an archive")
	}
}

func TestRunInvalidDuration(t *testing.T) {
	for _, minutes := range []int{0, -5, 61} {
		f := newFixture()

		result := f.orchestrator().Run(context.Background(), testRequest(minutes))

		if !result.IsError() || result.Code != "InvalidRequest" {
			t.Errorf("minutes=%d: expected InvalidRequest, got %+v", minutes, result)
		}
		if f.resolver.calls+f.extractor.calls+f.transcriber.calls+f.summarizer.calls != 0 {
			t.Errorf("minutes=%d: expected no external calls", minutes)
		}
	}
}

func TestRunTranscriptionTimeoutDegrades(t *testing.T) {
	f := newFixture()
	f.transcriber.err = errors.TranscriptionFailed("test", context.DeadlineExceeded, "transcription timed out")

	result := f.orchestrator().Run(context.Background(), testRequest(30))

	if !result.IsSuccess() {
		t.Fatalf("expected degraded success, got %+v", result)
	}
	if !result.Summary.Unavailable || result.Summary.Headline != "Transcript unavailable" {
		t.Errorf("expected unavailable summary, got %+v", result.Summary)
	}
	if result.Transcript != nil {
		t.Error("degraded result must not carry a transcript")
	}
	if len(result.Meta.Notes) == 0 {
		t.Error("expected a note explaining the missing transcript")
	}
	if f.summarizer.calls != 0 {
		t.Error("summarizer must not run without a transcript")
	}
}

func TestRunTranscriptionFailureFallsBackWhenNotDegrading(t *testing.T) {
	f := newFixture()
	f.opts.DegradeOnTranscriptionFailure = false
	f.transcriber.err = errors.TranscriptionFailed("test", nil, "provider error")

	result := f.orchestrator().Run(context.Background(), testRequest(30))

	if !result.IsFallback() || result.Reason != models.ReasonTranscriptionFailed || result.Stage != "transcribing" {
		t.Errorf("expected TranscriptionFailed fallback, got %+v", result)
	}
}

func TestRunEmptyTranscriptSkipsSummarizer(t *testing.T) {
	f := newFixture()
	f.transcriber.transcript = models.Transcript{Segments: []models.Segment{}}

	result := f.orchestrator().Run(context.Background(), testRequest(30))

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if f.summarizer.calls != 0 {
		t.Error("summarizer must not be invoked for an empty transcript")
	}
	if !result.Summary.NoSpeech || result.Summary.Headline != models.NoSpeechSummary().Headline {
		t.Errorf("expected canned summary, got %+v", result.Summary)
	}
}

func TestRunSummarizationFailureReturnsTranscript(t *testing.T) {
	f := newFixture()
	f.opts.IncludeTranscript = false
	f.summarizer.err = errors.SummarizationFailed("test", nil, "provider error")

	result := f.orchestrator().Run(context.Background(), testRequest(30))

	if !result.IsSuccess() {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Transcript == nil || result.Transcript.Text != "We beat the boss." {
		t.Errorf("expected raw transcript substituted, got %+v", result.Transcript)
	}
	if !result.Summary.Unavailable {
		t.Errorf("expected unavailable summary marker, got %+v", result.Summary)
	}
}

func TestRunBudgetExhaustedMidStage(t *testing.T) {
	tests := []struct {
		stage string
		setup func(f *fixture)
	}{
		{"extracting", func(f *fixture) { f.extractor.block = true }},
		// budget expiry wins over the degrade flag
		{"transcribing", func(f *fixture) {
			f.transcriber.block = true
			f.opts.DegradeOnTranscriptionFailure = true
		}},
		{"summarizing", func(f *fixture) { f.summarizer.block = true }},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			f := newFixture()
			f.opts.Budget = 50 * time.Millisecond
			tt.setup(f)

			done := make(chan models.Result, 1)
			go func() {
				done <- f.orchestrator().Run(context.Background(), testRequest(30))
			}()

			select {
			case result := <-done:
				if !result.IsFallback() || result.Reason != models.ReasonBudgetExceeded {
					t.Fatalf("expected BudgetExceeded fallback, got %+v", result)
				}
				if result.Stage != tt.stage {
					t.Errorf("expected %s stage, got %s", tt.stage, result.Stage)
				}
				if result.Link == "" {
					t.Error("expected a link")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("pipeline did not return after the budget expired")
			}
		})
	}
}

func TestRunCallerCancelled(t *testing.T) {
	f := newFixture()
	f.extractor.block = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.orchestrator().Run(ctx, testRequest(30))
	if !result.IsError() || result.Code != "Internal" {
		t.Errorf("expected Internal error, got %+v", result)
	}
}

func TestRunUnclassifiedFailure(t *testing.T) {
	f := newFixture()
	f.resolver.err = errors.Internal("test", nil, "credentials missing")

	result := f.orchestrator().Run(context.Background(), testRequest(30))
	if !result.IsError() || result.Code != "Internal" {
		t.Errorf("expected Internal error, got %+v", result)
	}
}

func TestRunSharesRetryBudget(t *testing.T) {
	f := newFixture()

	f.orchestrator().Run(context.Background(), testRequest(30))

	if f.extractor.budget == nil || f.extractor.budget.Remaining() != 2 {
		t.Errorf("expected extractor to receive the request budget, got %+v", f.extractor.budget)
	}
}
