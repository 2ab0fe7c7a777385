package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
)

var testPolicy = retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 2}

type step struct {
	stderr string
	err    error
	write  []byte
}

// fakeRunner plays back one step per call and records the arguments.
type fakeRunner struct {
	steps []step
	calls int
	args  [][]string
	dirs  []string
	block bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	f.args = append(f.args, args)
	output := argAfter(args, "-o")
	f.dirs = append(f.dirs, filepath.Dir(output))

	if f.block {
		<-ctx.Done()
		return nil, []byte("ERROR: interrupted"), ctx.Err()
	}

	s := f.steps[f.calls]
	if f.calls < len(f.steps)-1 {
		f.calls++
	}
	if s.write != nil {
		path := strings.Replace(output, "%(ext)s", "m4a", 1)
		if err := os.WriteFile(path, s.write, 0o644); err != nil {
			return nil, nil, err
		}
	}
	return nil, []byte(s.stderr), s.err
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

var errExit = fmt.Errorf("exit status 1")

func newTestExtractor(t *testing.T, runner CommandRunner) *Extractor {
	t.Helper()
	cfg := config.ExtractorConfig{
		BinaryPath:    "yt-dlp",
		TempDir:       t.TempDir(),
		UserAgent:     "test-agent",
		SocketTimeout: 15 * time.Second,
	}
	return New(cfg, testPolicy).WithRunner(runner)
}

func testArchive() models.ResolvedArchive {
	return models.ResolvedArchive{
		Platform:   models.PlatformTwitch,
		ArchiveID:  "901",
		ArchiveURL: "https://www.twitch.tv/videos/901",
		Duration:   2 * time.Hour,
		Start:      90 * time.Minute,
		End:        2 * time.Hour,
	}
}

func assertRemoved(t *testing.T, dirs []string) {
	t.Helper()
	for _, d := range dirs {
		if _, err := os.Stat(d); !os.IsNotExist(err) {
			t.Errorf("expected temp dir %s to be removed", d)
		}
	}
}

func TestExtractSuccess(t *testing.T) {
	runner := &fakeRunner{steps: []step{{write: []byte("audio-bytes")}}}
	e := newTestExtractor(t, runner)

	audio, err := e.Extract(context.Background(), testArchive(), retry.NewBudget(2, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio.Data) != "audio-bytes" || audio.Format != "m4a" || audio.MIMEType != "audio/mp4" {
		t.Errorf("unexpected audio %+v", audio)
	}
	if audio.Duration != 30*time.Minute {
		t.Errorf("expected 30m window, got %s", audio.Duration)
	}

	args := runner.args[0]
	if got := argAfter(args, "--download-sections"); got != "*5400-7200" {
		t.Errorf("unexpected section %q", got)
	}
	if got := argAfter(args, "-f"); got != "bestaudio/best" {
		t.Errorf("unexpected format %q", got)
	}
	if args[len(args)-1] != "https://www.twitch.tv/videos/901" {
		t.Errorf("expected archive url last, got %q", args[len(args)-1])
	}
	for _, a := range args {
		if a == "--live-from-start" {
			t.Error("--live-from-start is only for live YouTube")
		}
	}
	assertRemoved(t, runner.dirs)
}

func TestExtractLiveYouTubeFromStart(t *testing.T) {
	runner := &fakeRunner{steps: []step{{write: []byte("x")}}}
	archive := testArchive()
	archive.Platform = models.PlatformYouTube
	archive.Live = true

	if _, err := newTestExtractor(t, runner).Extract(context.Background(), archive, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, a := range runner.args[0] {
		found = found || a == "--live-from-start"
	}
	if !found {
		t.Error("expected --live-from-start for live YouTube")
	}
}

func TestExtractClassification(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		kind   errors.Kind
		calls  int
	}{
		{"forbidden", "ERROR: [twitch:vod] 901: Unable to download JSON metadata: HTTP Error 403: Forbidden", errors.KindBlocked, 1},
		{"bot check", "ERROR: [youtube] abc: Sign in to confirm you're not a bot", errors.KindBlocked, 1},
		{"rate limited", "ERROR: HTTP Error 429: Too Many Requests", errors.KindBlocked, 1},
		{"unsupported", "ERROR: Unsupported URL: https://example.com", errors.KindFormatOrProtocol, 1},
		{"unknown", "ERROR: something odd", errors.KindFormatOrProtocol, 1},
		// one attempt plus two retries, then escalated
		{"timeout", "ERROR: [download] Got error: The read operation timed out", errors.KindBlocked, 3},
		{"reset", "ERROR: Connection reset by peer", errors.KindBlocked, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{steps: []step{{stderr: tt.stderr, err: errExit}}}
			_, err := newTestExtractor(t, runner).Extract(context.Background(), testArchive(), retry.NewBudget(2, ""))
			if !errors.Is(err, tt.kind) {
				t.Errorf("expected %s, got %v", tt.kind, err)
			}
			if len(runner.args) != tt.calls {
				t.Errorf("expected %d calls, got %d", tt.calls, len(runner.args))
			}
			assertRemoved(t, runner.dirs)
		})
	}
}

func TestExtractRecoversAfterTransient(t *testing.T) {
	runner := &fakeRunner{steps: []step{
		{stderr: "ERROR: Connection reset by peer", err: errExit},
		{write: []byte("ok")},
	}}
	budget := retry.NewBudget(2, retry.ScopeRequest)

	audio, err := newTestExtractor(t, runner).Extract(context.Background(), testArchive(), budget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio.Data) != "ok" {
		t.Errorf("unexpected audio %q", audio.Data)
	}
	if budget.Remaining() != 1 {
		t.Errorf("expected one retry consumed from the shared budget, got %d left", budget.Remaining())
	}
}

func TestExtractAttemptScopeLeavesRequestBudget(t *testing.T) {
	runner := &fakeRunner{steps: []step{
		{stderr: "ERROR: timed out", err: errExit},
		{write: []byte("ok")},
	}}
	budget := retry.NewBudget(2, retry.ScopeAttempt)

	if _, err := newTestExtractor(t, runner).Extract(context.Background(), testArchive(), budget); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if budget.Remaining() != 2 {
		t.Errorf("attempt scope should not draw from the request budget, got %d left", budget.Remaining())
	}
}

func TestExtractEmptyOutput(t *testing.T) {
	runner := &fakeRunner{steps: []step{{write: []byte{}}}}
	_, err := newTestExtractor(t, runner).Extract(context.Background(), testArchive(), nil)
	if !errors.Is(err, errors.KindFormatOrProtocol) {
		t.Errorf("expected FormatOrProtocol, got %v", err)
	}

	runner = &fakeRunner{steps: []step{{}}}
	_, err = newTestExtractor(t, runner).Extract(context.Background(), testArchive(), nil)
	if !errors.Is(err, errors.KindFormatOrProtocol) {
		t.Errorf("expected FormatOrProtocol for missing output, got %v", err)
	}
}

func TestExtractBudgetExpiry(t *testing.T) {
	runner := &fakeRunner{block: true}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newTestExtractor(t, runner).Extract(ctx, testArchive(), retry.NewBudget(2, ""))
	if !errors.Is(err, errors.KindBudgetExceeded) {
		t.Fatalf("expected BudgetExceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("extraction did not stop at the deadline")
	}
	assertRemoved(t, runner.dirs)
}

func TestExtractMissingBinary(t *testing.T) {
	runner := &fakeRunner{steps: []step{{err: &exec.Error{Name: "yt-dlp", Err: exec.ErrNotFound}}}}
	_, err := newTestExtractor(t, runner).Extract(context.Background(), testArchive(), nil)
	if !errors.Is(err, errors.KindInternal) {
		t.Errorf("expected Internal, got %v", err)
	}
}

func TestExtractEmptyWindow(t *testing.T) {
	archive := testArchive()
	archive.Start = archive.End
	_, err := newTestExtractor(t, &fakeRunner{}).Extract(context.Background(), archive, nil)
	if !errors.Is(err, errors.KindInternal) {
		t.Errorf("expected Internal, got %v", err)
	}
}

func TestLastErrorLine(t *testing.T) {
	stderr := "[twitch:vod] 901: Downloading info\nERROR: first\nWARNING: x\nERROR: second\n"
	if got := lastErrorLine(stderr); got != "second" {
		t.Errorf("expected second, got %q", got)
	}
	if got := lastErrorLine(""); got != "media extraction failed" {
		t.Errorf("unexpected default %q", got)
	}
}
