package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/uplink/internal/diag"
	"github.com/mattjoyce/uplink/internal/envelope"
	"github.com/mattjoyce/uplink/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_launcher.go -package=mocks github.com/mattjoyce/uplink/internal/dispatch Launcher

// Launcher hands a launch message to the worker process. Both primitives are
// fire-and-forget: a nil error means the message was handed off, not run.
type Launcher interface {
	StartBackground(ctx context.Context, msg *protocol.Message) error
	// StartForeground requires the worker to promote itself to a user-visible
	// long-running state using the notification config in the parameters.
	StartForeground(ctx context.Context, msg *protocol.Message) error
}

// Tier is the host capability tier.
type Tier string

const (
	TierLegacy     Tier = "legacy"
	TierForeground Tier = "foreground"
)

// ParseTier converts a config value into a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierLegacy, TierForeground:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("invalid capability tier: %q (must be %q or %q)", s, TierLegacy, TierForeground)
	}
}

// Capability describes the host the gateway launches into.
type Capability struct {
	Tier Tier
}

// RequiresForeground reports whether launches must use the foreground primitive.
func (c Capability) RequiresForeground() bool {
	return c.Tier == TierForeground
}

// ErrMissingJobID is returned when the parameters carry no correlation id.
var ErrMissingJobID = errors.New("parameters have no job id")

// ErrNotificationRequired is matched by every PreconditionError.
var ErrNotificationRequired = errors.New("foreground launch requires a notification configuration")

// PreconditionError is returned when a launch violates the host contract.
// Nothing has been sent when it is returned; callers must not retry as-is.
type PreconditionError struct {
	JobID string
	Tier  Tier
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("job %q: hosts on the %s tier require notification_config so the worker can run as a foreground process",
		e.JobID, e.Tier)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrNotificationRequired
}

const gatewayComponent = "gateway"

// Gateway encodes launch envelopes and delivers them with the primitive the
// host tier demands.
type Gateway struct {
	codec      *envelope.Codec
	launcher   Launcher
	capability Capability
	target     string
	sink       diag.Sink
}

// NewGateway creates a gateway delivering to target (the worker namespace).
func NewGateway(codec *envelope.Codec, launcher Launcher, capability Capability, target string, sink diag.Sink) *Gateway {
	if sink == nil {
		sink = diag.Discard
	}
	return &Gateway{
		codec:      codec,
		launcher:   launcher,
		capability: capability,
		target:     target,
		sink:       sink,
	}
}

// Dispatch launches a job of kind with params and returns params.ID, the
// caller-generated correlation id. On the foreground tier a missing
// notification config fails with a *PreconditionError before anything is sent.
// An empty params.ID is refused: the id is the only handle for cancel and status.
func (g *Gateway) Dispatch(ctx context.Context, kind string, params protocol.Parameters) (string, error) {
	if params.ID == "" {
		return "", diag.Emit(g.sink, gatewayComponent, &diag.Error{Kind: diag.MissingParameters, Subject: kind, Err: ErrMissingJobID})
	}
	if g.capability.RequiresForeground() && params.Notification == nil {
		return "", &PreconditionError{JobID: params.ID, Tier: g.capability.Tier}
	}

	msg, jobID := g.codec.Encode(envelope.Envelope{Kind: kind, Parameters: params}, g.target)

	var err error
	if g.capability.RequiresForeground() {
		err = g.launcher.StartForeground(ctx, msg)
	} else {
		err = g.launcher.StartBackground(ctx, msg)
	}
	if err != nil {
		return "", diag.Emit(g.sink, gatewayComponent, &diag.Error{Kind: diag.Transport, Subject: jobID, Err: err})
	}
	return jobID, nil
}
