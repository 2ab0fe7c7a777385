package models

import "time"

// Usage is the attribution record kept for each handled request. It never
// carries summary or transcript content.
type Usage struct {
	ID              string    `json:"id"`
	RequestID       string    `json:"request_id"`
	UserID          string    `json:"user_id"`
	Platform        Platform  `json:"platform"`
	Channel         string    `json:"channel"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          Status    `json:"status"`
	Detail          string    `json:"detail,omitempty"`
	CostEstimate    int       `json:"cost_estimate"`
	ElapsedMillis   int64     `json:"elapsed_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// UsageFromResult fills the outcome fields of u from r.
func UsageFromResult(u Usage, r Result) Usage {
	u.Status = r.Status
	switch r.Status {
	case StatusFallback:
		u.Detail = string(r.Reason)
	case StatusError:
		u.Detail = r.Code
	}
	if r.Meta != nil {
		u.CostEstimate = r.Meta.CostEstimate
	}
	return u
}
