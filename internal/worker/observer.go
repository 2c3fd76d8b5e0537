package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/task"
)

const progressInterval = 250 * time.Millisecond

// hubObserver publishes a job's lifecycle to the event hub. One per job.
type hubObserver struct {
	hub *events.Hub

	mu           sync.Mutex
	lastProgress time.Time
}

func newHubObserver(hub *events.Hub) *hubObserver {
	return &hubObserver{hub: hub}
}

type progressData struct {
	Kind          string `json:"kind"`
	Attempt       int    `json:"attempt"`
	UploadedBytes int64  `json:"uploaded_bytes"`
	TotalBytes    int64  `json:"total_bytes"`
}

func dataOf(info task.Info) progressData {
	return progressData{
		Kind:          info.Kind,
		Attempt:       info.Attempt,
		UploadedBytes: info.UploadedBytes,
		TotalBytes:    info.TotalBytes,
	}
}

func (o *hubObserver) OnStart(info task.Info, slot int, cfg *protocol.NotificationConfig) {
	data := map[string]any{"kind": info.Kind, "notification_slot": slot}
	if cfg != nil {
		data["channel_id"] = cfg.ChannelID
	}
	o.hub.Publish(events.JobStarted, info.JobID, data)
}

func (o *hubObserver) OnProgress(info task.Info) {
	o.mu.Lock()
	now := time.Now()
	if now.Sub(o.lastProgress) < progressInterval {
		o.mu.Unlock()
		return
	}
	o.lastProgress = now
	o.mu.Unlock()
	o.hub.Publish(events.JobProgress, info.JobID, dataOf(info))
}

func (o *hubObserver) OnSuccess(info task.Info) {
	o.hub.Publish(events.JobSucceeded, info.JobID, dataOf(info))
}

// OnError skips cancellation; the worker publishes job.cancelled itself.
func (o *hubObserver) OnError(info task.Info, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	o.hub.Publish(events.JobFailed, info.JobID, map[string]any{"kind": info.Kind, "attempt": info.Attempt, "error": err.Error()})
}

func (o *hubObserver) OnCompleted(task.Info) {}
