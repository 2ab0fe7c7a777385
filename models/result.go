package models

type Status string

const (
	StatusOK       Status = "ok"
	StatusFallback Status = "fallback"
	StatusError    Status = "error"
)

type FallbackReason string

const (
	ReasonBlocked             FallbackReason = "Blocked"
	ReasonNoArchiveAvailable  FallbackReason = "NoArchiveAvailable"
	ReasonBudgetExceeded      FallbackReason = "BudgetExceeded"
	ReasonTranscriptionFailed FallbackReason = "TranscriptionFailed"
)

type Meta struct {
	Duration          int      `json:"duration"`
	RequestedDuration int      `json:"requested_duration"`
	CostEstimate      int      `json:"cost_estimate"`
	Platform          Platform `json:"platform,omitempty"`
	Channel           string   `json:"channel,omitempty"`
	ArchiveID         string   `json:"archive_id,omitempty"`
	ArchiveURL        string   `json:"archive_url,omitempty"`
	StreamTitle       string   `json:"stream_title,omitempty"`
	ProcessingTime    float64  `json:"processing_time"`
	Stages            []string `json:"stages,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// Result is the only artifact a caller sees. Build it through Success,
// Fallback or Failure so exactly one variant is populated.
type Result struct {
	Status     Status         `json:"status"`
	Summary    *Summary       `json:"summary,omitempty"`
	Transcript *Transcript    `json:"transcript,omitempty"`
	Meta       *Meta          `json:"meta,omitempty"`
	Reason     FallbackReason `json:"reason,omitempty"`
	Link       string         `json:"link,omitempty"`
	Stage      string         `json:"stage,omitempty"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
}

func Success(summary Summary, transcript *Transcript, meta Meta) Result {
	return Result{
		Status:     StatusOK,
		Summary:    &summary,
		Transcript: transcript,
		Meta:       &meta,
	}
}

func Fallback(reason FallbackReason, link, message, stage string) Result {
	return Result{
		Status:  StatusFallback,
		Reason:  reason,
		Link:    link,
		Message: message,
		Stage:   stage,
	}
}

func Failure(code, message string) Result {
	return Result{
		Status:  StatusError,
		Code:    code,
		Message: message,
	}
}

func (r Result) IsSuccess() bool  { return r.Status == StatusOK }
func (r Result) IsFallback() bool { return r.Status == StatusFallback }
func (r Result) IsError() bool    { return r.Status == StatusError }
