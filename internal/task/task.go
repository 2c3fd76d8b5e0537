// Package task defines runnable upload jobs, the kind registry they are
// registered in, and the resolver that instantiates them at the worker boundary.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/uplink/internal/protocol"
)

// Capability names what a job kind can be launched as.
type Capability string

// CapabilityUpload is required of every kind accepted on the upload launch channel.
const CapabilityUpload Capability = "upload"

// Job is a fully initialized unit of background work.
type Job interface {
	ID() string
	Kind() string
	// Run executes the job. Cancelling ctx must abort the job promptly.
	Run(ctx context.Context) error
}

// ExecContext is the execution environment the worker hands to every job.
type ExecContext struct {
	Namespace string
	Client    *http.Client
	Logger    *slog.Logger
}

// Init carries everything a factory needs to produce a ready job.
type Init struct {
	Exec             ExecContext
	Params           protocol.Parameters
	NotificationSlot int
	Observers        []Observer
}

// Factory builds and initializes a job. It reports its own failure, typically
// as an *InitError; it must not return a partially initialized job.
type Factory func(in Init) (Job, error)

// Kind is a registered job kind.
type Kind struct {
	Name       string
	Capability Capability
	New        Factory
}

// CreationRequest is a decoded launch: the resolved kind and its parameters.
type CreationRequest struct {
	Kind   Kind
	Params protocol.Parameters
}

// InitError is returned by factories that reject their parameters.
type InitError struct {
	Kind   string
	Reason string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Info is the progress snapshot passed to observers.
type Info struct {
	JobID         string
	Kind          string
	StartedAt     time.Time
	Attempt       int
	UploadedBytes int64
	TotalBytes    int64
}

// Observer is notified of job lifecycle changes.
type Observer interface {
	OnStart(info Info, notificationSlot int, cfg *protocol.NotificationConfig)
	OnProgress(info Info)
	OnSuccess(info Info)
	OnError(info Info, err error)
	OnCompleted(info Info)
}

// Observers fans a notification out to every attached observer.
type Observers []Observer

func (o Observers) Start(info Info, slot int, cfg *protocol.NotificationConfig) {
	for _, ob := range o {
		ob.OnStart(info, slot, cfg)
	}
}

func (o Observers) Progress(info Info) {
	for _, ob := range o {
		ob.OnProgress(info)
	}
}

func (o Observers) Success(info Info) {
	for _, ob := range o {
		ob.OnSuccess(info)
	}
}

func (o Observers) Error(info Info, err error) {
	for _, ob := range o {
		ob.OnError(info, err)
	}
}

func (o Observers) Completed(info Info) {
	for _, ob := range o {
		ob.OnCompleted(info)
	}
}
