package errors

import (
	"context"
	"fmt"
	"net/http"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies a failure. The pipeline maps kinds to state transitions;
// nothing else should branch on error text.
type Kind string

const (
	KindInvalidRequest      Kind = "InvalidRequest"
	KindNoArchiveAvailable  Kind = "NoArchiveAvailable"
	KindBlocked             Kind = "Blocked"
	KindTransient           Kind = "TransientNetworkError"
	KindFormatOrProtocol    Kind = "FormatOrProtocolError"
	KindTranscriptionFailed Kind = "TranscriptionFailed"
	KindSummarizationFailed Kind = "SummarizationFailed"
	KindBudgetExceeded      Kind = "BudgetExceeded"
	KindInternal            Kind = "Internal"
)

type Error struct {
	Kind    Kind   `json:"code"`
	Message string `json:"message"`
	Op      string `json:"-"`
	Stage   string `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the HTTP status used when the error reaches the client
// without being turned into a fallback.
func (e *Error) Code() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindNoArchiveAvailable:
		return http.StatusNotFound
	case KindBlocked, KindTransient, KindFormatOrProtocol:
		return http.StatusBadGateway
	case KindBudgetExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func E(op string, kind Kind, err error, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func InvalidRequest(op string, err error, message string) *Error {
	return E(op, KindInvalidRequest, err, message)
}

func NoArchive(op string, err error, message string) *Error {
	return E(op, KindNoArchiveAvailable, err, message)
}

func Blocked(op string, err error, message string) *Error {
	return E(op, KindBlocked, err, message)
}

func Transient(op string, err error, message string) *Error {
	return E(op, KindTransient, err, message)
}

func FormatOrProtocol(op string, err error, message string) *Error {
	return E(op, KindFormatOrProtocol, err, message)
}

func TranscriptionFailed(op string, err error, message string) *Error {
	return E(op, KindTranscriptionFailed, err, message)
}

func SummarizationFailed(op string, err error, message string) *Error {
	return E(op, KindSummarizationFailed, err, message)
}

func BudgetExceeded(op, stage string, err error) *Error {
	return &Error{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("time budget exhausted while %s", stage),
		Op:      op,
		Stage:   stage,
		Err:     err,
	}
}

func Internal(op string, err error, message string) *Error {
	return E(op, KindInternal, err, message)
}

// KindOf returns the classification of err. Unclassified errors are
// Internal; a nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if pkgerrors.As(err, &e) {
		return e.Kind
	}
	if pkgerrors.Is(err, context.DeadlineExceeded) {
		return KindBudgetExceeded
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Escalate reclassifies a transient failure whose retries are exhausted.
func Escalate(op string, err error) *Error {
	return Blocked(op, err, "upstream unreachable after retries")
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if pkgerrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
