package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/validation"
)

type stubRunner struct {
	mu      sync.Mutex
	result  models.Result
	request models.CatchUpRequest
	calls   int
}

func (s *stubRunner) Run(ctx context.Context, request models.CatchUpRequest) models.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.request = request
	return s.result
}

type fakeUsage struct {
	entries chan models.Usage
}

func newFakeUsage() *fakeUsage {
	return &fakeUsage{entries: make(chan models.Usage, 4)}
}

func (f *fakeUsage) Record(ctx context.Context, usage *models.Usage) error {
	f.entries <- *usage
	return nil
}

func (f *fakeUsage) ListByUser(ctx context.Context, userID string, limit int) ([]models.Usage, error) {
	return nil, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{Version: "test"}
	cfg.Server.MaxBodyBytes = 4096
	cfg.Pipeline.MaxDurationMinutes = 60
	cfg.Database.WriteTimeout = time.Second
	cfg.Twitch.AppToken = "token"
	cfg.AssemblyAI.APIKey = "key"
	cfg.OpenAI.APIKey = "key"
	return cfg
}

func newTestHandler(runner Runner, usage *fakeUsage) *Handler {
	cfg := testConfig()
	h := NewHandler(cfg, runner, nil, validation.NewValidator(cfg.Pipeline.MaxDurationMinutes))
	if usage != nil {
		h.usage = usage
	}
	return h
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestCatchUpResponses(t *testing.T) {
	success := models.Success(models.Summary{Headline: "Boss down", Highlights: []string{}}, nil, models.Meta{Duration: 30, CostEstimate: 300})

	tests := []struct {
		name       string
		result     models.Result
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{
			name:       "success",
			result:     success,
			wantStatus: http.StatusOK,
			wantBody:   map[string]interface{}{"status": "ok"},
		},
		{
			name:       "fallback",
			result:     models.Fallback(models.ReasonBlocked, "https://www.twitch.tv/videos/1?t=0h30m00s", "blocked", "extracting"),
			wantStatus: http.StatusOK,
			wantBody: map[string]interface{}{
				"status": "fallback",
				"reason": "Blocked",
				"link":   "https://www.twitch.tv/videos/1?t=0h30m00s",
			},
		},
		{
			name:       "internal error",
			result:     models.Failure("Internal", "internal error while resolving"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]interface{}{"status": "error", "code": "Internal"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{result: tt.result}
			h := newTestHandler(runner, nil)

			rr := postJSON(t, h.Routes(), `{"stream_url":"https://twitch.tv/Streamer","duration_minutes":30,"user_id":"u1"}`)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			body := decodeBody(t, rr)
			for k, v := range tt.wantBody {
				if body[k] != v {
					t.Errorf("expected %s=%v, got %v", k, v, body[k])
				}
			}
			if runner.request.Channel.Login != "streamer" || runner.request.DurationMinutes != 30 || runner.request.UserID != "u1" {
				t.Errorf("unexpected request passed to runner: %+v", runner.request)
			}
		})
	}
}

func TestCatchUpSuccessShape(t *testing.T) {
	transcript := models.Transcript{Segments: []models.Segment{{Start: 0, End: 1, Text: "hi"}}, Text: "hi"}
	runner := &stubRunner{result: models.Success(models.Summary{Headline: "h", Highlights: []string{"a"}, Narrative: "n"}, &transcript, models.Meta{Duration: 30, CostEstimate: 300})}
	h := newTestHandler(runner, nil)

	rr := postJSON(t, h.Routes(), `{"stream_url":"twitch.tv/streamer","duration_minutes":30}`)

	body := decodeBody(t, rr)
	if _, ok := body["summary"].(map[string]interface{}); !ok {
		t.Errorf("expected summary object, got %v", body["summary"])
	}
	if _, ok := body["transcript"].(map[string]interface{}); !ok {
		t.Errorf("expected transcript object, got %v", body["transcript"])
	}
	meta, ok := body["meta"].(map[string]interface{})
	if !ok || meta["duration"] != float64(30) || meta["cost_estimate"] != float64(300) {
		t.Errorf("unexpected meta %v", body["meta"])
	}
	for _, k := range []string{"reason", "link", "code"} {
		if _, present := body[k]; present {
			t.Errorf("success must not carry %s", k)
		}
	}
	if runner.request.UserID != "anonymous" {
		t.Errorf("expected anonymous user, got %s", runner.request.UserID)
	}
}

func TestCatchUpInvalidRequests(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		body        string
	}{
		{"zero duration", http.MethodPost, "application/json", `{"stream_url":"https://twitch.tv/streamer","duration_minutes":0}`},
		{"duration over max", http.MethodPost, "application/json", `{"stream_url":"https://twitch.tv/streamer","duration_minutes":61}`},
		{"unsupported host", http.MethodPost, "application/json", `{"stream_url":"https://example.com/streamer","duration_minutes":30}`},
		{"missing url", http.MethodPost, "application/json", `{"duration_minutes":30}`},
		{"malformed json", http.MethodPost, "application/json", `{"stream_url":`},
		{"wrong content type", http.MethodPost, "text/plain", `{}`},
		{"wrong method", http.MethodGet, "application/json", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			h := newTestHandler(runner, nil)

			req := httptest.NewRequest(tt.method, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			h.Routes().ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
			body := decodeBody(t, rr)
			if body["status"] != "error" || body["code"] != "InvalidRequest" {
				t.Errorf("unexpected body %v", body)
			}
			if runner.calls != 0 {
				t.Error("pipeline must not run for an invalid request")
			}
		})
	}
}

func TestCatchUpBodyTooLarge(t *testing.T) {
	h := newTestHandler(&stubRunner{}, nil)
	body := `{"stream_url":"https://twitch.tv/streamer","user_id":"` + strings.Repeat("x", 5000) + `"}`

	rr := postJSON(t, h.Routes(), body)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestHealthProbe(t *testing.T) {
	runner := &stubRunner{}
	h := newTestHandler(runner, nil)

	rr := postJSON(t, h.Routes(), `{"test":"health"}`)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["status"] != "healthy" {
		t.Errorf("unexpected body %v", body)
	}
	if runner.calls != 0 {
		t.Error("health probe must not invoke the pipeline")
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(&stubRunner{}, nil)

	rr := httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if body := decodeBody(t, rr); body["status"] != "healthy" || body["version"] != "test" {
		t.Errorf("unexpected body %v", body)
	}

	h.cfg.OpenAI.APIKey = ""
	rr = httptest.NewRecorder()
	h.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	body := decodeBody(t, rr)
	if body["status"] != "degraded" {
		t.Errorf("expected degraded, got %v", body)
	}
	missing, _ := body["missing_providers"].([]interface{})
	if len(missing) != 1 || missing[0] != "openai" {
		t.Errorf("expected openai missing, got %v", body["missing_providers"])
	}
}

func TestCatchUpRecordsUsage(t *testing.T) {
	usage := newFakeUsage()
	runner := &stubRunner{result: models.Fallback(models.ReasonNoArchiveAvailable, "https://www.twitch.tv/streamer", "none", "resolving")}
	h := newTestHandler(runner, usage)

	postJSON(t, h.Routes(), `{"stream_url":"https://twitch.tv/streamer","duration_minutes":15,"user_id":"u9"}`)

	select {
	case entry := <-usage.entries:
		if entry.UserID != "u9" || entry.Channel != "streamer" || entry.DurationMinutes != 15 {
			t.Errorf("unexpected usage %+v", entry)
		}
		if entry.Status != models.StatusFallback || entry.Detail != "NoArchiveAvailable" {
			t.Errorf("unexpected outcome %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not recorded")
	}
}
