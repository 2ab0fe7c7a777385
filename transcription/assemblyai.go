package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/sirupsen/logrus"
)

const defaultCleanupTimeout = 10 * time.Second

// Stager makes audio reachable by URL for the provider. cleanup releases
// whatever Stage created and is always safe to call.
type Stager interface {
	Stage(ctx context.Context, audio models.AudioSegment) (url string, cleanup func(context.Context), err error)
}

// Client transcribes audio with AssemblyAI's v2 REST API.
type Client struct {
	cfg    config.AssemblyAIConfig
	client *http.Client
	stager Stager
}

// New returns a client that stages audio through stager, or through the
// provider's own upload endpoint when stager is nil.
func New(cfg config.AssemblyAIConfig, stager Stager) *Client {
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if stager == nil {
		stager = uploadStager{c}
	}
	c.stager = stager
	return c
}

type transcriptRequest struct {
	AudioURL          string `json:"audio_url"`
	LanguageDetection bool   `json:"language_detection"`
	Punctuate         bool   `json:"punctuate"`
	FormatText        bool   `json:"format_text"`
}

type word struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

type transcriptResponse struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Text         string  `json:"text"`
	Words        []word  `json:"words"`
	LanguageCode string  `json:"language_code"`
	Confidence   float64 `json:"confidence"`
	Error        string  `json:"error"`
}

// Transcribe stages audio, submits it and polls until the transcript is
// completed, fails or MaxWait passes. Silence yields an empty Transcript;
// every failure is TranscriptionFailed.
func (c *Client) Transcribe(ctx context.Context, audio models.AudioSegment) (models.Transcript, error) {
	const op = "Client.Transcribe"

	if c.cfg.APIKey == "" {
		return models.Transcript{}, errors.TranscriptionFailed(op, nil, "transcription provider is not configured")
	}
	if len(audio.Data) == 0 {
		return models.Transcript{}, errors.TranscriptionFailed(op, nil, "no audio to transcribe")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MaxWait)
	defer cancel()

	log := logger.FromContext(ctx).WithField("bytes", len(audio.Data))

	audioURL, cleanup, err := c.stager.Stage(ctx, audio)
	if err != nil {
		return models.Transcript{}, c.fail(ctx, op, err, "failed to stage audio")
	}
	defer c.release(ctx, cleanup)

	var submitted transcriptResponse
	err = c.doJSON(ctx, http.MethodPost, "/transcript", transcriptRequest{
		AudioURL:          audioURL,
		LanguageDetection: true,
		Punctuate:         true,
		FormatText:        true,
	}, &submitted)
	if err != nil {
		return models.Transcript{}, c.fail(ctx, op, err, "failed to submit transcript")
	}
	if submitted.ID == "" {
		return models.Transcript{}, errors.TranscriptionFailed(op, nil, "provider returned no transcript id")
	}

	log = log.WithField("transcript_id", submitted.ID)
	log.Info("Transcript submitted")

	result, err := c.poll(ctx, submitted.ID, log)
	if err != nil {
		return models.Transcript{}, c.fail(ctx, op, err, "transcription did not complete")
	}

	transcript := buildTranscript(result)
	log.WithFields(logrus.Fields{
		"segments":   len(transcript.Segments),
		"language":   transcript.Language,
		"confidence": transcript.Confidence,
	}).Info("Transcript completed")

	return transcript, nil
}

func (c *Client) poll(ctx context.Context, id string, log *logrus.Entry) (transcriptResponse, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		var resp transcriptResponse
		err := c.doJSON(ctx, http.MethodGet, "/transcript/"+id, nil, &resp)
		switch {
		case err != nil && ctx.Err() != nil:
			return transcriptResponse{}, ctx.Err()
		case err != nil:
			// a failed poll is not a failed transcript; try again next tick
			log.WithError(err).Warn("Transcript poll failed")
		case resp.Status == "completed":
			return resp, nil
		case resp.Status == "error":
			return transcriptResponse{}, fmt.Errorf("provider error: %s", resp.Error)
		default:
			log.WithField("status", resp.Status).Debug("Transcript pending")
		}

		select {
		case <-ctx.Done():
			return transcriptResponse{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release runs cleanup in the background with its own deadline, so a slow
// object store never holds the request past its budget.
func (c *Client) release(ctx context.Context, cleanup func(context.Context)) {
	timeout := c.cfg.CleanupTimeout
	if timeout <= 0 {
		timeout = defaultCleanupTimeout
	}
	go func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		cleanup(cleanupCtx)
	}()
}

func (c *Client) fail(ctx context.Context, op string, err error, message string) error {
	if ctx.Err() != nil {
		return errors.TranscriptionFailed(op, ctx.Err(), "transcription timed out")
	}
	return errors.TranscriptionFailed(op, err, message)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, target interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, "application/json", body, target)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%s %s: malformed response: %w", method, path, err)
	}
	return nil
}

// uploadStager sends audio to the provider's upload endpoint. Uploads are
// only reachable with the account's key, so nothing needs cleaning up.
type uploadStager struct {
	c *Client
}

func (u uploadStager) Stage(ctx context.Context, audio models.AudioSegment) (string, func(context.Context), error) {
	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	if err := u.c.do(ctx, http.MethodPost, "/upload", "application/octet-stream", bytes.NewReader(audio.Data), &resp); err != nil {
		return "", nil, err
	}
	if resp.UploadURL == "" {
		return "", nil, fmt.Errorf("upload returned no url")
	}
	return resp.UploadURL, func(context.Context) {}, nil
}

func truncate(b []byte, max int) string {
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
