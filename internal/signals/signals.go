// Package signals builds and interprets the out-of-band messages that address
// a running job by id, independent of the launch channel.
package signals

import (
	"context"
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/uplink/internal/protocol"
)

// CancelAction is the reserved action tag of cancellation signals.
const CancelAction = "cancelUpload"

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks github.com/mattjoyce/uplink/internal/signals Sender

// Sender delivers a signal to the process namespace it is addressed to. A
// pending signal with the same target and request code is replaced, not
// duplicated.
type Sender interface {
	Send(ctx context.Context, sig Signal) error
}

// Signal is a narrowly addressed message plus the request code the transport
// uses to coalesce identical pending signals.
type Signal struct {
	Message     protocol.Message
	RequestCode int
}

// Addressor builds signals for one owning namespace.
type Addressor struct {
	namespace string
}

// NewAddressor creates an Addressor whose signals only reach namespace.
func NewAddressor(namespace string) *Addressor {
	return &Addressor{namespace: namespace}
}

// BuildCancelSignal addresses a cancellation to jobID.
func (a *Addressor) BuildCancelSignal(jobID string, requestCode int) Signal {
	return a.BuildActionSignal(jobID, requestCode, CancelAction)
}

// BuildActionSignal addresses an arbitrary notification action to jobID.
func (a *Addressor) BuildActionSignal(jobID string, requestCode int, action string) Signal {
	return Signal{
		Message: protocol.Message{
			Action: action,
			Target: a.namespace,
			JobID:  jobID,
		},
		RequestCode: requestCode,
	}
}

// Interpret returns the job id a cancellation signal names. Messages with any
// other action return ok=false; that is the common case, not an error. The id
// is returned verbatim.
func Interpret(msg *protocol.Message) (jobID string, ok bool) {
	if msg == nil || msg.Action != CancelAction {
		return "", false
	}
	return msg.JobID, true
}

// RequestCodeFor derives a stable non-negative request code from jobID, so
// repeated cancels of one job coalesce at the transport.
func RequestCodeFor(jobID string) int {
	sum := blake3.Sum256([]byte(jobID))
	return int(binary.BigEndian.Uint32(sum[:4]) & 0x7fffffff)
}
