// Package envelope encodes launch requests into transport messages and decodes
// them back into creation requests at the worker boundary.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/uplink/internal/diag"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/task"
)

// DefaultAction is the dispatch action tag of launch messages.
const DefaultAction = "startUpload"

const codecComponent = "codec"

// Envelope is a launch request: which job kind to run and with what parameters.
type Envelope struct {
	Kind       string
	Parameters protocol.Parameters
}

// JobID is the caller-assigned correlation id of the launch.
func (e Envelope) JobID() string {
	return e.Parameters.ID
}

// Codec converts between envelopes and transport messages.
type Codec struct {
	action     string
	capability task.Capability
	kinds      task.Lookup
	sink       diag.Sink
}

// NewCodec creates a codec for the given dispatch action. Decoded kinds must
// carry capability.
func NewCodec(action string, capability task.Capability, kinds task.Lookup, sink diag.Sink) *Codec {
	if action == "" {
		action = DefaultAction
	}
	if sink == nil {
		sink = diag.Discard
	}
	return &Codec{action: action, capability: capability, kinds: kinds, sink: sink}
}

// Encode builds the launch message for env addressed to target and returns
// the job id unchanged.
func (c *Codec) Encode(env Envelope, target string) (*protocol.Message, string) {
	raw := mustMarshal(env.Parameters)
	return &protocol.Message{
		Action:     c.action,
		Target:     target,
		JobKind:    env.Kind,
		Parameters: raw,
		Digest:     protocol.Digest(raw),
	}, env.JobID()
}

// Decode validates msg and resolves it into a creation request. Checks run in
// a fixed order and stop at the first failure, which is reported to the sink
// and returned as a *diag.Error.
func (c *Codec) Decode(msg *protocol.Message) (*task.CreationRequest, error) {
	if msg == nil {
		return nil, c.reject(diag.Errorf(diag.InvalidMessage, "", "no message"))
	}
	if msg.Action != c.action {
		return nil, c.reject(diag.Errorf(diag.InvalidMessage, msg.Action, "unexpected action, want %q", c.action))
	}
	if msg.JobKind == "" {
		return nil, c.reject(diag.Errorf(diag.MissingJobKind, "", "no job kind in message"))
	}

	kind, ok := c.kinds.Lookup(msg.JobKind)
	if !ok {
		return nil, c.reject(diag.Errorf(diag.UnknownJobKind, msg.JobKind, "job kind is not registered"))
	}
	if kind.Capability != c.capability {
		return nil, c.reject(diag.Errorf(diag.WrongCapability, msg.JobKind,
			"kind has capability %q, want %q", kind.Capability, c.capability))
	}

	if len(msg.Parameters) == 0 {
		return nil, c.reject(diag.Errorf(diag.MissingParameters, msg.JobKind, "no parameters in message"))
	}
	if msg.Digest != "" && msg.Digest != protocol.Digest(msg.Parameters) {
		return nil, c.reject(diag.Errorf(diag.MissingParameters, msg.JobKind, "parameter digest mismatch"))
	}
	params, err := protocol.UnmarshalParameters(msg.Parameters)
	if err != nil {
		return nil, c.reject(&diag.Error{Kind: diag.MissingParameters, Subject: msg.JobKind, Err: err})
	}

	return &task.CreationRequest{Kind: kind, Params: params}, nil
}

func (c *Codec) reject(err *diag.Error) error {
	return diag.Emit(c.sink, codecComponent, err)
}

// mustMarshal encodes p. Parameters only holds strings, ints, bools and
// string maps, so marshaling cannot fail.
func mustMarshal(p protocol.Parameters) json.RawMessage {
	raw, err := json.Marshal(p)
	if err != nil {
		panic(fmt.Sprintf("envelope: marshal parameters: %v", err))
	}
	return raw
}
