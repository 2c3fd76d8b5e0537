package protocol

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/zeebo/blake3"
)

// Digest returns the blake3 hex digest of raw parameter bytes.
func Digest(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// WriteMessage serializes msg as a single JSON document to w.
func WriteMessage(w io.Writer, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.Action == "" {
		return fmt.Errorf("message missing required field: action")
	}
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return nil
}

// ReadMessage reads a Message from r. Unknown fields are rejected.
func ReadMessage(r io.Reader) (*Message, error) {
	var msg Message

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// UnmarshalParameters decodes raw into Parameters and validates the result.
func UnmarshalParameters(raw []byte) (Parameters, error) {
	var p Parameters
	if len(raw) == 0 {
		return p, fmt.Errorf("parameters are empty")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Parameters{}, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate checks the structural shape of the bundle. Kind-specific rules
// (file counts, methods) belong to the job implementation.
func (p *Parameters) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("parameters missing required field: id")
	}
	if p.ServerURL == "" {
		return fmt.Errorf("parameters missing required field: server_url")
	}
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server_url scheme: %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid server_url: missing host")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	for i, f := range p.Files {
		if f.Path == "" {
			return fmt.Errorf("files[%d]: missing path", i)
		}
	}
	if p.Notification != nil && p.Notification.ChannelID == "" {
		return fmt.Errorf("notification_config missing required field: channel_id")
	}
	return nil
}
