package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/uplink/internal/envelope"
	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
	"github.com/mattjoyce/uplink/internal/log"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/signals"
	"github.com/mattjoyce/uplink/internal/task"
)

// Inbox is the launch side of the host transport.
type Inbox interface {
	Claim(ctx context.Context, target string) (*host.Delivery, error)
	Complete(ctx context.Context, deliveryID string, status host.Status, lastError *string) error
	Requeue(ctx context.Context, deliveryID string) error
	CancelQueued(ctx context.Context, target, jobID string) (int64, error)
}

// errShutdown is the cancellation cause for jobs interrupted by Start returning.
var errShutdown = errors.New("worker shutting down")

// SignalSource is the signal side of the host transport.
type SignalSource interface {
	Drain(ctx context.Context, target string) ([]*protocol.Message, error)
}

type Config struct {
	Namespace     string
	PollInterval  time.Duration
	MaxConcurrent int
}

// Worker claims launch messages for its namespace and runs the jobs they describe.
type Worker struct {
	cfg      Config
	codec    *envelope.Codec
	resolver *task.Resolver
	inbox    Inbox
	signals  SignalSource
	hub      *events.Hub
	exec     task.ExecContext
	logger   *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	running  map[string]context.CancelCauseFunc
	nextSlot int
}

// New creates a Worker. exec is handed to every job it creates.
func New(cfg Config, codec *envelope.Codec, resolver *task.Resolver, inbox Inbox, sigs SignalSource, hub *events.Hub, exec task.ExecContext) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	logger := log.WithComponent("worker").With("namespace", cfg.Namespace)
	if exec.Logger == nil {
		exec.Logger = logger
	}
	if exec.Namespace == "" {
		exec.Namespace = cfg.Namespace
	}
	return &Worker{
		cfg:      cfg,
		codec:    codec,
		resolver: resolver,
		inbox:    inbox,
		signals:  sigs,
		hub:      hub,
		exec:     exec,
		logger:   logger,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		running:  make(map[string]context.CancelCauseFunc),
	}
}

// Start runs the poll loop until ctx is cancelled. Jobs still running at that
// point are interrupted and their deliveries requeued for the next start.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker loop started", "poll_interval", w.cfg.PollInterval, "max_concurrent", w.cfg.MaxConcurrent)
	defer w.logger.Info("worker loop stopped")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.cancelAll(errShutdown)
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims launches while slots are free, then processes pending signals.
// Launches go first so a cancel sent right after its dispatch finds the job.
func (w *Worker) Tick(ctx context.Context) {
	if err := w.processInbox(ctx); err != nil {
		w.logger.Error("failed to process mailbox", "error", err)
	}
	if err := w.processSignals(ctx); err != nil {
		w.logger.Error("failed to process signals", "error", err)
	}
}

// Wait blocks until every launched job has finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Running returns the ids of running jobs, sorted.
func (w *Worker) Running() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.running))
	for id := range w.running {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Cancel stops the running job with jobID. Unknown ids are a no-op and
// return false: the job may not be claimed yet or may already be done.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	cancel, ok := w.running[jobID]
	w.mu.Unlock()
	if !ok {
		w.logger.Debug("cancel for job that is not running ignored", "job_id", jobID)
		return false
	}
	w.logger.Info("cancelling job", "job_id", jobID)
	cancel(context.Canceled)
	return true
}

func (w *Worker) processSignals(ctx context.Context) error {
	msgs, err := w.signals.Drain(ctx, w.cfg.Namespace)
	if err != nil {
		return fmt.Errorf("drain signals: %w", err)
	}
	for _, msg := range msgs {
		jobID, ok := signals.Interpret(msg)
		if !ok {
			w.logger.Debug("ignoring signal", "action", msg.Action)
			continue
		}
		if w.Cancel(jobID) {
			continue
		}
		// Not running here: the launch may still be waiting for a slot.
		n, err := w.inbox.CancelQueued(ctx, w.cfg.Namespace, jobID)
		if err != nil {
			w.logger.Error("failed to cancel queued delivery", "job_id", jobID, "error", err)
			continue
		}
		if n > 0 {
			w.logger.Info("cancelled queued job", "job_id", jobID)
			w.hub.Publish(events.JobCancelled, jobID, nil)
		}
	}
	return nil
}

func (w *Worker) processInbox(ctx context.Context) error {
	for {
		select {
		case w.slots <- struct{}{}:
		default:
			return nil // all slots busy
		}

		d, err := w.inbox.Claim(ctx, w.cfg.Namespace)
		if err != nil {
			<-w.slots
			return fmt.Errorf("claim: %w", err)
		}
		if d == nil {
			<-w.slots
			return nil
		}
		if !w.launch(ctx, d) {
			<-w.slots
		}
	}
}

// launch decodes d and starts its job. It returns false when nothing was started.
func (w *Worker) launch(ctx context.Context, d *host.Delivery) bool {
	req, err := w.codec.Decode(d.Message)
	if err != nil {
		w.reject(ctx, d, err)
		return false
	}

	jobID := req.Params.ID
	if d.Mode == host.ModeForeground && req.Params.Notification == nil {
		w.reject(ctx, d, fmt.Errorf("foreground delivery without notification config"))
		return false
	}

	// Jobs stop only through their own cancel func so shutdown can be told
	// apart from a cancel signal.
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if !w.reserve(jobID, cancel) {
		cancel(nil)
		w.reject(ctx, d, fmt.Errorf("job id %q is already running", jobID))
		return false
	}

	job, err := w.resolver.Create(*req, w.exec, w.allocateSlot(), newHubObserver(w.hub))
	if err != nil {
		w.release(jobID)
		cancel(nil)
		w.reject(ctx, d, err)
		return false
	}

	jobLogger := log.WithJob(jobID, job.Kind()).With("mode", d.Mode)
	if d.Mode == host.ModeForeground {
		jobLogger.Info("running in foreground", "channel_id", req.Params.Notification.ChannelID)
	}
	jobLogger.Info("executing job")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		defer cancel(nil)

		runErr := job.Run(jobCtx)
		w.release(jobID)
		storeCtx := context.WithoutCancel(ctx)

		status := host.StatusSucceeded
		var lastError *string
		switch {
		case runErr == nil:
			jobLogger.Info("job completed successfully")
		case errors.Is(context.Cause(jobCtx), errShutdown):
			jobLogger.Info("job interrupted by shutdown, requeueing")
			if err := w.inbox.Requeue(storeCtx, d.ID); err != nil {
				jobLogger.Error("failed to requeue delivery", "delivery_id", d.ID, "error", err)
			}
			return
		case errors.Is(runErr, context.Canceled):
			status = host.StatusCancelled
			jobLogger.Info("job cancelled")
			w.hub.Publish(events.JobCancelled, jobID, nil)
		default:
			status = host.StatusFailed
			msg := runErr.Error()
			lastError = &msg
			jobLogger.Warn("job failed", "error", runErr)
		}
		w.complete(storeCtx, d.ID, status, lastError)
	}()
	return true
}

func (w *Worker) reject(ctx context.Context, d *host.Delivery, err error) {
	msg := err.Error()
	w.logger.Warn("rejecting delivery", "delivery_id", d.ID, "job_id", d.JobID, "error", msg)
	w.hub.Publish(events.JobRejected, d.JobID, map[string]string{"error": msg})
	w.complete(ctx, d.ID, host.StatusRejected, &msg)
}

func (w *Worker) complete(ctx context.Context, deliveryID string, status host.Status, lastError *string) {
	if err := w.inbox.Complete(ctx, deliveryID, status, lastError); err != nil {
		w.logger.Error("failed to record delivery status", "delivery_id", deliveryID, "status", status, "error", err)
	}
}

// reserve registers jobID as live. Job ids are never run twice concurrently.
func (w *Worker) reserve(jobID string, cancel context.CancelCauseFunc) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, live := w.running[jobID]; live {
		return false
	}
	w.running[jobID] = cancel
	return true
}

func (w *Worker) release(jobID string) {
	w.mu.Lock()
	delete(w.running, jobID)
	w.mu.Unlock()
}

func (w *Worker) allocateSlot() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextSlot++
	return w.nextSlot
}

func (w *Worker) cancelAll(cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, cancel := range w.running {
		cancel(cause)
	}
}
