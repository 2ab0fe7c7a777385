package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nijaru/catchup/config"
	"github.com/nijaru/catchup/errors"
	"github.com/nijaru/catchup/logger"
	"github.com/nijaru/catchup/middleware"
	"github.com/nijaru/catchup/models"
	"github.com/nijaru/catchup/repository"
	"github.com/nijaru/catchup/utils"
	"github.com/nijaru/catchup/validation"
	"github.com/sirupsen/logrus"
)

// Runner executes one catch-up request.
type Runner interface {
	Run(ctx context.Context, request models.CatchUpRequest) models.Result
}

type Handler struct {
	cfg       *config.Config
	runner    Runner
	usage     repository.UsageRepository
	validator *validation.Validator
	// ledgerTimeout bounds the usage write after the response is sent.
	ledgerTimeout time.Duration
}

// NewHandler builds the HTTP surface. usage may be nil when the ledger is
// disabled.
func NewHandler(cfg *config.Config, runner Runner, usage repository.UsageRepository, validator *validation.Validator) *Handler {
	return &Handler{
		cfg:           cfg,
		runner:        runner,
		usage:         usage,
		validator:     validator,
		ledgerTimeout: cfg.Database.WriteTimeout,
	}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/", h.CatchUp)
	return mux
}

type catchUpPayload struct {
	StreamURL       string `json:"stream_url"`
	DurationMinutes int    `json:"duration_minutes"`
	UserID          string `json:"user_id"`
	Test            string `json:"test"`
}

type healthResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version,omitempty"`
	Missing   []string `json:"missing_providers,omitempty"`
	Timestamp string   `json:"timestamp"`
}

func (h *Handler) CatchUp(w http.ResponseWriter, r *http.Request) {
	const op = "Handler.CatchUp"
	log := logger.FromContext(r.Context())

	if r.URL.Path != "/" {
		utils.RespondWithError(w, errors.InvalidRequest(op, nil, "Unknown path"))
		return
	}

	if err := h.validator.ValidateRequest(r, validation.RequestValidationOpts{
		MaxContentLength: h.cfg.Server.MaxBodyBytes,
		AllowedMethods:   []string{http.MethodPost},
		RequireJSON:      true,
	}); err != nil {
		log.WithError(err).Warn("Request rejected")
		utils.RespondWithError(w, err)
		return
	}

	var payload catchUpPayload
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondWithError(w, errors.InvalidRequest(op, err, "Request body must be a JSON object"))
		return
	}

	if payload.Test == "health" {
		h.respondHealth(w)
		return
	}

	request, err := h.validator.CatchUp(validation.CatchUpInput{
		StreamURL:       payload.StreamURL,
		DurationMinutes: payload.DurationMinutes,
		UserID:          payload.UserID,
	})
	if err != nil {
		log.WithFields(logrus.Fields{
			"stream_url": payload.StreamURL,
			"minutes":    payload.DurationMinutes,
			"error":      err,
		}).Warn("Invalid catch-up request")
		utils.RespondWithError(w, err)
		return
	}

	log.WithFields(logrus.Fields{
		"platform": request.Channel.Platform,
		"channel":  request.Channel.Login,
		"minutes":  request.DurationMinutes,
		"user_id":  request.UserID,
	}).Info("Catch-up requested")

	start := time.Now()
	result := h.runner.Run(r.Context(), request)
	elapsed := time.Since(start)

	utils.RespondWithJSON(w, statusFor(result), result)

	h.record(r.Context(), request, result, elapsed)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		utils.RespondWithError(w, errors.InvalidRequest("Handler.Health", nil, "Method not allowed"))
		return
	}
	h.respondHealth(w)
}

func (h *Handler) respondHealth(w http.ResponseWriter) {
	resp := healthResponse{
		Status:    "healthy",
		Version:   h.cfg.Version,
		Missing:   h.cfg.MissingProviders(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if len(resp.Missing) > 0 {
		resp.Status = "degraded"
	}
	utils.RespondWithJSON(w, http.StatusOK, resp)
}

// statusFor maps a result to its HTTP status. Fallbacks are a normal
// outcome and share 200 with successes.
func statusFor(result models.Result) int {
	if !result.IsError() {
		return http.StatusOK
	}
	switch errors.Kind(result.Code) {
	case errors.KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// record writes the usage entry in the background so the ledger never
// delays or fails a response.
func (h *Handler) record(ctx context.Context, request models.CatchUpRequest, result models.Result, elapsed time.Duration) {
	if h.usage == nil {
		return
	}

	entry := models.UsageFromResult(models.Usage{
		RequestID:       middleware.RequestID(ctx),
		UserID:          request.UserID,
		Platform:        request.Channel.Platform,
		Channel:         request.Channel.Login,
		DurationMinutes: request.DurationMinutes,
		ElapsedMillis:   elapsed.Milliseconds(),
	}, result)

	log := logger.FromContext(ctx)
	go func() {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.ledgerTimeout)
		defer cancel()

		if err := h.usage.Record(writeCtx, &entry); err != nil {
			log.WithError(err).Error("Failed to record usage")
		}
	}()
}
