package api

import "time"

// DispatchResponse is returned by POST /uploads/{kind}.
type DispatchResponse struct {
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// CancelResponse is returned by POST /uploads/{job_id}/cancel.
type CancelResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	RequestCode int    `json:"request_code"`
}

// JobStatusResponse is returned by GET /uploads/{job_id}
type JobStatusResponse struct {
	JobID       string     `json:"job_id"`
	Kind        string     `json:"kind"`
	Mode        string     `json:"mode"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	QueueDepth    int      `json:"queue_depth"`
	Kinds         []string `json:"kinds"`
}
