// Package host implements the host-side delivery primitives the dispatch core
// consumes: a launch mailbox with background and foreground start, and a
// signal bus addressed by process namespace and request code. Both are tables
// in the shared SQLite state file.
package host

import (
	"errors"
	"time"

	"github.com/mattjoyce/uplink/internal/protocol"
)

// Mode records which start primitive delivered a launch.
type Mode string

const (
	ModeBackground Mode = "background"
	ModeForeground Mode = "foreground"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusRejected marks a delivery the worker could not decode or resolve.
	StatusRejected Status = "rejected"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Delivery is a claimed launch message. Message is nil when the stored
// document could not be read back.
type Delivery struct {
	ID      string
	JobID   string
	Mode    Mode
	Target  string
	Message *protocol.Message
	// Claims counts how often the delivery has been claimed, including
	// claims lost to a worker crash.
	Claims    int
	CreatedAt time.Time
}

// JobRecord is the status projection of a launch, looked up by job id.
type JobRecord struct {
	JobID       string
	Kind        string
	Mode        Mode
	Target      string
	Status      Status
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
	LastError   *string
}

var ErrJobNotFound = errors.New("job not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
