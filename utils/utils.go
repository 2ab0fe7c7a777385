package utils

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/nijaru/catchup/errors"
	"github.com/sirupsen/logrus"
)

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithError writes the error variant of a response. Unclassified
// errors are reported as Internal without leaking their text.
func RespondWithError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal("RespondWithError", err, "Internal server error")
	}

	logrus.WithFields(logrus.Fields{
		"status_code": appErr.Code(),
		"code":        appErr.Kind,
		"op":          appErr.Op,
		"error":       appErr.Error(),
	}).Warn("Request failed")

	writeJSON(w, appErr.Code(), errorBody{
		Status:  "error",
		Code:    string(appErr.Kind),
		Message: appErr.Message,
	})
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
		RespondWithError(w, errors.Internal("RespondWithJSON", err, "Failed to encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n'))
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

// Truncate cuts s to at most max bytes on a rune boundary, preferring the
// last word break.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if i := strings.LastIndexAny(s[:cut], " \n\t"); i > cut/2 {
		cut = i
	}
	return strings.TrimSpace(s[:cut]) + "..."
}
