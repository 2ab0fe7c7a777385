package extractor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/retry"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const outputName = "audio"

var mimeTypes = map[string]string{
	"m4a":  "audio/mp4",
	"mp4":  "audio/mp4",
	"webm": "audio/webm",
	"opus": "audio/ogg",
	"ogg":  "audio/ogg",
	"mp3":  "audio/mpeg",
	"aac":  "audio/aac",
	"ts":   "video/mp2t",
	"wav":  "audio/wav",
}

// Extractor pulls the audio of an archive window with yt-dlp.
type Extractor struct {
	cfg    config.ExtractorConfig
	runner CommandRunner
	policy retry.Policy
}

func New(cfg config.ExtractorConfig, policy retry.Policy) *Extractor {
	return &Extractor{
		cfg:    cfg,
		runner: execRunner{},
		policy: policy,
	}
}

// WithRunner swaps the command runner, mainly for tests.
func (e *Extractor) WithRunner(r CommandRunner) *Extractor {
	out := *e
	out.runner = r
	return &out
}

// Extract downloads only [archive.Start, archive.End) as audio. Transient
// failures are retried from budget; the temp directory is removed on every
// path.
func (e *Extractor) Extract(ctx context.Context, archive models.ResolvedArchive, budget *retry.Budget) (models.AudioSegment, error) {
	const op = "Extractor.Extract"

	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"archive_id": archive.ArchiveID,
		"start":      archive.Start,
		"end":        archive.End,
	})

	if archive.ArchiveURL == "" || archive.End <= archive.Start {
		return models.AudioSegment{}, errors.Internal(op, nil, "archive window is empty")
	}

	dir, err := os.MkdirTemp(e.cfg.TempDir, "extract-*")
	if err != nil {
		return models.AudioSegment{}, errors.Internal(op, err, "failed to create temp directory")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.WithError(err).Warn("Failed to remove temp directory")
		}
	}()

	args := e.buildArgs(archive, dir)
	start := time.Now()

	err = retry.Do(ctx, op, "extracting", budget.ForAttempt(), e.policy, func(attempt int) error {
		clearDir(dir)
		log.WithField("attempt", attempt).Debug("Running extractor")

		_, stderr, runErr := e.runner.Run(ctx, e.cfg.BinaryPath, args)
		if runErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isNotFound(runErr) {
			return errors.Internal(op, runErr, "extractor binary not found")
		}
		classified := classify(op, string(stderr), runErr)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"kind":    errors.KindOf(classified),
			"error":   classified.Error(),
		}).Warn("Extraction attempt failed")
		return classified
	})
	if err != nil {
		return models.AudioSegment{}, err
	}

	audio, err := e.readOutput(op, dir)
	if err != nil {
		return models.AudioSegment{}, err
	}
	audio.Duration = archive.Window()

	log.WithFields(logrus.Fields{
		"bytes":   audio.Size(),
		"format":  audio.Format,
		"elapsed": time.Since(start),
	}).Info("Audio extracted")

	return audio, nil
}

func (e *Extractor) buildArgs(archive models.ResolvedArchive, dir string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--no-cache-dir",
		"-f", "bestaudio/best",
		"--download-sections", fmt.Sprintf("*%s-%s", seconds(archive.Start), seconds(archive.End)),
		"-o", filepath.Join(dir, outputName+".%(ext)s"),
		"--retries", "0",
		"--fragment-retries", "3",
	}
	if e.cfg.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(e.cfg.SocketTimeout/time.Second)))
	}
	if e.cfg.UserAgent != "" {
		args = append(args, "--user-agent", e.cfg.UserAgent)
	}
	if e.cfg.Proxy != "" {
		args = append(args, "--proxy", e.cfg.Proxy)
	}
	if archive.Platform == models.PlatformYouTube && archive.Live {
		args = append(args, "--live-from-start")
	}
	if e.cfg.MaxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(e.cfg.MaxBytes, 10))
	}
	return append(args, archive.ArchiveURL)
}

func (e *Extractor) readOutput(op, dir string) (models.AudioSegment, error) {
	matches, err := filepath.Glob(filepath.Join(dir, outputName+".*"))
	if err != nil {
		return models.AudioSegment{}, errors.Internal(op, err, "failed to list extractor output")
	}

	var path string
	for _, m := range matches {
		// skip yt-dlp's partial and fragment files
		if strings.HasSuffix(m, ".part") || strings.Contains(filepath.Base(m), ".part-") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		path = m
		break
	}
	if path == "" {
		return models.AudioSegment{}, errors.FormatOrProtocol(op, nil, "extractor produced no output")
	}

	f, err := os.Open(path)
	if err != nil {
		return models.AudioSegment{}, errors.Internal(op, err, "failed to open extractor output")
	}
	defer f.Close()

	var r io.Reader = f
	if e.cfg.MaxBytes > 0 {
		r = io.LimitReader(f, e.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return models.AudioSegment{}, errors.Internal(op, err, "failed to read extractor output")
	}
	if len(data) == 0 {
		return models.AudioSegment{}, errors.FormatOrProtocol(op, nil, "extractor produced empty output")
	}
	if e.cfg.MaxBytes > 0 && int64(len(data)) > e.cfg.MaxBytes {
		return models.AudioSegment{}, errors.FormatOrProtocol(op, nil, "extracted audio exceeds size limit")
	}

	format := strings.TrimPrefix(filepath.Ext(path), ".")
	mime, ok := mimeTypes[format]
	if !ok {
		mime = "application/octet-stream"
	}

	return models.AudioSegment{
		Data:     data,
		Format:   format,
		MIMEType: mime,
	}, nil
}

func seconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

func clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		os.RemoveAll(filepath.Join(dir, entry.Name()))
	}
}

func isNotFound(err error) bool {
	return pkgerrors.Is(err, exec.ErrNotFound)
}
