package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/utils"
	"github.com/sirupsen/logrus"
)

const systemPrompt = "You write catch-up summaries of live streams for viewers who just tuned in. " +
	"Base everything on the transcript. Reply with a single JSON object and nothing else."

type Summarizer struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func New(cfg config.OpenAIConfig) *Summarizer {
	return &Summarizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type summaryPayload struct {
	Headline   string   `json:"headline"`
	Highlights []string `json:"highlights"`
	Narrative  string   `json:"narrative"`
}

// Summarize turns a transcript into a Summary. An empty transcript gets
// the canned no-speech summary without calling the provider.
func (s *Summarizer) Summarize(ctx context.Context, transcript models.Transcript, archive models.ResolvedArchive) (models.Summary, error) {
	const op = "Summarizer.Summarize"

	if transcript.Empty() {
		return models.NoSpeechSummary(), nil
	}
	if s.cfg.APIKey == "" {
		return models.Summary{}, errors.SummarizationFailed(op, nil, "summarization provider is not configured")
	}

	log := logger.FromContext(ctx).WithFields(logrus.Fields{
		"model": s.cfg.Model,
		"chars": len(transcript.Text),
	})

	req := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: s.buildPrompt(transcript, archive)},
		},
		MaxTokens:      s.cfg.MaxTokens,
		Temperature:    s.cfg.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	if err := s.post(ctx, "/chat/completions", req, &resp); err != nil {
		return models.Summary{}, errors.SummarizationFailed(op, err, "summary request failed")
	}
	if resp.Error != nil {
		return models.Summary{}, errors.SummarizationFailed(op, fmt.Errorf("%s", resp.Error.Message), "summary request failed")
	}
	if len(resp.Choices) == 0 {
		return models.Summary{}, errors.SummarizationFailed(op, nil, "provider returned no choices")
	}

	payload, err := parsePayload(resp.Choices[0].Message.Content)
	if err != nil {
		return models.Summary{}, errors.SummarizationFailed(op, err, "provider returned an unreadable summary")
	}

	highlights := payload.Highlights
	if highlights == nil {
		highlights = []string{}
	}

	summary := models.Summary{
		Headline:   strings.TrimSpace(payload.Headline),
		Highlights: highlights,
		Narrative:  strings.TrimSpace(payload.Narrative),
		KeyMoments: KeyMoments(transcript, archive, maxKeyMoments),
		Model:      resp.Model,
	}

	log.WithFields(logrus.Fields{
		"highlights":  len(summary.Highlights),
		"key_moments": len(summary.KeyMoments),
	}).Info("Summary generated")

	return summary, nil
}

func (s *Summarizer) buildPrompt(transcript models.Transcript, archive models.ResolvedArchive) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Platform: %s\n", archive.Platform.Title())
	if archive.Title != "" {
		fmt.Fprintf(&b, "Stream title: %s\n", archive.Title)
	}
	fmt.Fprintf(&b, "Window: the last %d minutes\n", int(archive.Window().Minutes()+0.5))
	if transcript.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", transcript.Language)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(utils.Truncate(transcript.Text, s.cfg.MaxTranscriptChars))
	b.WriteString("\n\nRespond with JSON of the form ")
	b.WriteString(`{"headline": "one line", "highlights": ["3 to 5 short bullet points"], "narrative": "2 to 4 sentences on what a new viewer missed"}`)
	b.WriteString(". Write in the transcript's language.")
	return b.String()
}

// parsePayload pulls the JSON object out of the reply, tolerating code
// fences or prose around it.
func parsePayload(content string) (summaryPayload, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return summaryPayload{}, fmt.Errorf("no JSON object in reply")
	}

	var p summaryPayload
	if err := json.Unmarshal([]byte(content[start:end+1]), &p); err != nil {
		return summaryPayload{}, err
	}
	if strings.TrimSpace(p.Headline) == "" && strings.TrimSpace(p.Narrative) == "" {
		return summaryPayload{}, fmt.Errorf("reply has neither headline nor narrative")
	}
	return p, nil
}

func (s *Summarizer) post(ctx context.Context, path string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, utils.Truncate(string(data), 256))
	}
	return json.Unmarshal(data, target)
}
