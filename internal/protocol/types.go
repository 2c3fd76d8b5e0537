package protocol

import "encoding/json"

// Message is the transport-neutral envelope exchanged with the worker process.
// Launch messages carry JobKind, Parameters and Digest; signal messages carry JobID.
type Message struct {
	Action     string          `json:"action"`
	Target     string          `json:"target,omitempty"` // owning process namespace
	JobKind    string          `json:"job_kind,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Digest     string          `json:"digest,omitempty"` // blake3 hex of Parameters
	JobID      string          `json:"job_id,omitempty"`
}

// Parameters is the parameter bundle of an upload job.
type Parameters struct {
	ID                string              `json:"id"`
	ServerURL         string              `json:"server_url"`
	Method            string              `json:"method,omitempty"`
	MaxRetries        int                 `json:"max_retries,omitempty"`
	AutoDeleteFiles   bool                `json:"auto_delete_files,omitempty"`
	Files             []UploadFile        `json:"files,omitempty"`
	Headers           map[string]string   `json:"headers,omitempty"`
	RequestParameters map[string]string   `json:"request_parameters,omitempty"`
	Notification      *NotificationConfig `json:"notification_config,omitempty"`
}

// UploadFile describes one local file to upload.
type UploadFile struct {
	Path        string            `json:"path"`
	FieldName   string            `json:"field_name,omitempty"`
	RemoteName  string            `json:"remote_name,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// NotificationConfig is required when the worker must run as a user-visible
// foreground process.
type NotificationConfig struct {
	ChannelID       string              `json:"channel_id"`
	RingToneEnabled bool                `json:"ring_tone_enabled,omitempty"`
	Progress        *NotificationStatus `json:"progress,omitempty"`
	Success         *NotificationStatus `json:"success,omitempty"`
	Error           *NotificationStatus `json:"error,omitempty"`
	Cancelled       *NotificationStatus `json:"cancelled,omitempty"`
}

// NotificationStatus is the notification content for one upload state.
type NotificationStatus struct {
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	AutoClear bool   `json:"auto_clear,omitempty"`
}
