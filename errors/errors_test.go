package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestE(t *testing.T) {
	err := E("Test.Op", KindBlocked, nil, "test message")

	if err.Kind != KindBlocked {
		t.Errorf("expected kind %s, got %s", KindBlocked, err.Kind)
	}

	if err.Message != "test message" {
		t.Errorf("expected message 'test message', got '%s'", err.Message)
	}

	if err.Error() != "test message" {
		t.Errorf("expected error string 'test message', got '%s'", err.Error())
	}
}

func TestErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("cause error")
	err := Transient("Test.Op", cause, "test message")

	expected := "test message: cause error"
	if err.Error() != expected {
		t.Errorf("expected '%s', got '%s'", expected, err.Error())
	}

	if !pkgerrors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "classified error",
			err:      NoArchive("op", nil, "no archive"),
			expected: KindNoArchiveAvailable,
		},
		{
			name:     "wrapped classified error",
			err:      pkgerrors.Wrap(Blocked("op", nil, "forbidden"), "extract"),
			expected: KindBlocked,
		},
		{
			name:     "deadline",
			err:      pkgerrors.Wrap(context.DeadlineExceeded, "poll"),
			expected: KindBudgetExceeded,
		},
		{
			name:     "non-custom error",
			err:      fmt.Errorf("standard error"),
			expected: KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("KindOf() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected int
	}{
		{"invalid request", InvalidRequest("op", nil, "bad"), http.StatusBadRequest},
		{"blocked", Blocked("op", nil, "blocked"), http.StatusBadGateway},
		{"budget", BudgetExceeded("op", "Extracting", nil), http.StatusGatewayTimeout},
		{"internal", Internal("op", nil, "boom"), http.StatusInternalServerError},
		{"summarization", SummarizationFailed("op", nil, "llm"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code() != tt.expected {
				t.Errorf("expected code %d, got %d", tt.expected, tt.err.Code())
			}
		})
	}
}

func TestBudgetExceededCarriesStage(t *testing.T) {
	err := BudgetExceeded("Orchestrator.Run", "Extracting", context.DeadlineExceeded)
	if err.Stage != "Extracting" {
		t.Errorf("expected stage Extracting, got %s", err.Stage)
	}
	if err.Message != "time budget exhausted while Extracting" {
		t.Errorf("unexpected message: %s", err.Message)
	}
}

func TestEscalate(t *testing.T) {
	err := Escalate("op", Transient("op", nil, "reset"))
	if err.Kind != KindBlocked {
		t.Errorf("expected Blocked, got %s", err.Kind)
	}
	if !Is(err, KindBlocked) {
		t.Error("expected Is to match Blocked")
	}
}
