package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/uplink/internal/diag"
	"github.com/mattjoyce/uplink/internal/dispatch"
	"github.com/mattjoyce/uplink/internal/envelope"
	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
	"github.com/mattjoyce/uplink/internal/protocol"
	"github.com/mattjoyce/uplink/internal/signals"
	"github.com/mattjoyce/uplink/internal/storage"
	"github.com/mattjoyce/uplink/internal/task"
)

const ns = "net.example.app"

// blockingJob runs until cancelled; failingJob errors immediately.
type blockingJob struct {
	id      string
	started chan struct{}
}

func (j *blockingJob) ID() string   { return j.id }
func (j *blockingJob) Kind() string { return "blocking" }
func (j *blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-ctx.Done()
	return ctx.Err()
}

type quickJob struct {
	id  string
	err error
}

func (j *quickJob) ID() string                { return j.id }
func (j *quickJob) Kind() string              { return "quick" }
func (j *quickJob) Run(context.Context) error { return j.err }

type harness struct {
	worker  *Worker
	gateway *dispatch.Gateway
	mailbox *host.Mailbox
	bus     *host.SignalBus
	hub     *events.Hub
	diags   *diag.Recorder
	started map[string]chan struct{}
}

func newHarness(t *testing.T, tier dispatch.Tier) *harness {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "uplink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		mailbox: host.NewMailbox(db),
		bus:     host.NewSignalBus(db),
		hub:     events.NewHub(64),
		diags:   &diag.Recorder{},
		started: make(map[string]chan struct{}),
	}

	reg := task.NewRegistry()
	require.NoError(t, reg.Register(task.Kind{Name: "blocking", Capability: task.CapabilityUpload, New: func(in task.Init) (task.Job, error) {
		ch := make(chan struct{})
		h.started[in.Params.ID] = ch
		return &blockingJob{id: in.Params.ID, started: ch}, nil
	}}))
	require.NoError(t, reg.Register(task.Kind{Name: "quick", Capability: task.CapabilityUpload, New: func(in task.Init) (task.Job, error) {
		var err error
		if in.Params.MaxRetries == 99 {
			err = errors.New("upload exploded")
		}
		return &quickJob{id: in.Params.ID, err: err}, nil
	}}))
	require.NoError(t, reg.Register(task.Kind{Name: "broken", Capability: task.CapabilityUpload, New: func(task.Init) (task.Job, error) {
		return nil, &task.InitError{Kind: "broken", Reason: "always fails"}
	}}))

	codec := envelope.NewCodec(envelope.DefaultAction, task.CapabilityUpload, reg, h.diags)
	h.gateway = dispatch.NewGateway(codec, h.mailbox, dispatch.Capability{Tier: tier}, ns, h.diags)
	h.worker = New(Config{Namespace: ns, MaxConcurrent: 4}, codec, task.NewResolver(h.diags), h.mailbox, h.bus, h.hub, task.ExecContext{})
	return h
}

func params(id string) protocol.Parameters {
	return protocol.Parameters{ID: id, ServerURL: "https://upload.example.com"}
}

func (h *harness) status(t *testing.T, jobID string) host.Status {
	t.Helper()
	rec, err := h.mailbox.Get(context.Background(), jobID)
	require.NoError(t, err)
	return rec.Status
}

func TestWorkerRunsAndCancelsJob(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	ctx := context.Background()

	id, err := h.gateway.Dispatch(ctx, "blocking", params("job-42"))
	require.NoError(t, err)
	assert.Equal(t, "job-42", id)

	h.worker.Tick(ctx)
	select {
	case <-h.started["job-42"]:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}
	assert.Equal(t, []string{"job-42"}, h.worker.Running())
	assert.Equal(t, host.StatusRunning, h.status(t, "job-42"))

	a := signals.NewAddressor(ns)
	require.NoError(t, h.bus.Send(ctx, a.BuildActionSignal("job-42", 7, "somethingElse")))
	require.NoError(t, h.bus.Send(ctx, a.BuildCancelSignal("job-42", signals.RequestCodeFor("job-42"))))
	h.worker.Tick(ctx)
	h.worker.Wait()

	assert.Empty(t, h.worker.Running())
	assert.Equal(t, host.StatusCancelled, h.status(t, "job-42"))

	var types []string
	for _, ev := range h.hub.ForJob("job-42") {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, events.JobCancelled)
}

func TestWorkerCancelForUnknownJobIsNoop(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	ctx := context.Background()

	require.NoError(t, h.bus.Send(ctx, signals.NewAddressor(ns).BuildCancelSignal("never-launched", 1)))
	h.worker.Tick(ctx)

	assert.False(t, h.worker.Cancel("never-launched"))
	assert.Empty(t, h.worker.Running())
}

func TestWorkerRecordsOutcomes(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	ctx := context.Background()

	ok := params("ok")
	failing := params("failing")
	failing.MaxRetries = 99

	_, err := h.gateway.Dispatch(ctx, "quick", ok)
	require.NoError(t, err)
	_, err = h.gateway.Dispatch(ctx, "quick", failing)
	require.NoError(t, err)
	_, err = h.gateway.Dispatch(ctx, "NotARealClass", params("unknown"))
	require.NoError(t, err)
	_, err = h.gateway.Dispatch(ctx, "broken", params("broken"))
	require.NoError(t, err)

	h.worker.Tick(ctx)
	h.worker.Wait()

	assert.Equal(t, host.StatusSucceeded, h.status(t, "ok"))
	assert.Equal(t, host.StatusFailed, h.status(t, "failing"))
	assert.Equal(t, host.StatusRejected, h.status(t, "unknown"))
	assert.Equal(t, host.StatusRejected, h.status(t, "broken"))

	kinds := h.diags.Kinds()
	assert.Contains(t, kinds, diag.UnknownJobKind)
	assert.Contains(t, kinds, diag.InitFailed)
	assert.Contains(t, kinds, diag.Created)
}

func TestWorkerRejectsDuplicateLiveJobID(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	ctx := context.Background()

	_, err := h.gateway.Dispatch(ctx, "blocking", params("dup"))
	require.NoError(t, err)
	h.worker.Tick(ctx)
	<-h.started["dup"]

	_, err = h.gateway.Dispatch(ctx, "quick", params("dup"))
	require.NoError(t, err)
	h.worker.Tick(ctx)

	// The rejected duplicate must not mask the live job's status.
	assert.Equal(t, []string{"dup"}, h.worker.Running())
	assert.Equal(t, host.StatusRunning, h.status(t, "dup"))

	var rejection string
	for _, ev := range h.hub.ForJob("dup") {
		if ev.Type == events.JobRejected {
			rejection = string(ev.Data)
		}
	}
	assert.Contains(t, rejection, "already running")

	assert.True(t, h.worker.Cancel("dup"))
	h.worker.Wait()
	assert.Equal(t, host.StatusCancelled, h.status(t, "dup"))
}

func TestWorkerCancelSentRightAfterDispatch(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	ctx := context.Background()

	_, err := h.gateway.Dispatch(ctx, "blocking", params("job-7"))
	require.NoError(t, err)
	require.NoError(t, h.bus.Send(ctx, signals.NewAddressor(ns).BuildCancelSignal("job-7", signals.RequestCodeFor("job-7"))))

	h.worker.Tick(ctx)
	h.worker.Wait()

	assert.Empty(t, h.worker.Running())
	assert.Equal(t, host.StatusCancelled, h.status(t, "job-7"))

	h.worker.Tick(ctx)
	assert.Empty(t, h.worker.Running(), "cancelled job must not be relaunched")
}

func TestWorkerCancelsJobWaitingForSlot(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	h.worker.slots = make(chan struct{}, 1)
	ctx := context.Background()

	_, err := h.gateway.Dispatch(ctx, "blocking", params("first"))
	require.NoError(t, err)
	_, err = h.gateway.Dispatch(ctx, "quick", params("second"))
	require.NoError(t, err)
	require.NoError(t, h.bus.Send(ctx, signals.NewAddressor(ns).BuildCancelSignal("second", 1)))

	h.worker.Tick(ctx)
	<-h.started["first"]
	assert.Equal(t, []string{"first"}, h.worker.Running())
	assert.Equal(t, host.StatusCancelled, h.status(t, "second"))

	var types []string
	for _, ev := range h.hub.ForJob("second") {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, events.JobCancelled)

	assert.True(t, h.worker.Cancel("first"))
	h.worker.Wait()
	h.worker.Tick(ctx)
	h.worker.Wait()
	assert.Equal(t, host.StatusCancelled, h.status(t, "second"))
}

func TestWorkerRejectsForegroundWithoutNotification(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	ctx := context.Background()

	// Bypass the gateway precondition to simulate a misbehaving producer.
	codec := envelope.NewCodec(envelope.DefaultAction, task.CapabilityUpload, task.NewRegistry(), nil)
	msg, _ := codec.Encode(envelope.Envelope{Kind: "quick", Parameters: params("fg")}, ns)
	require.NoError(t, h.mailbox.StartForeground(ctx, msg))

	h.worker.Tick(ctx)
	assert.Equal(t, host.StatusRejected, h.status(t, "fg"))
}

func TestWorkerForegroundTierEndToEnd(t *testing.T) {
	h := newHarness(t, dispatch.TierForeground)
	ctx := context.Background()

	_, err := h.gateway.Dispatch(ctx, "quick", params("no-notification"))
	require.ErrorIs(t, err, dispatch.ErrNotificationRequired)
	depth, err := h.mailbox.Depth(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "nothing sent on precondition failure")

	p := params("with-notification")
	p.Notification = &protocol.NotificationConfig{ChannelID: "uploads"}
	_, err = h.gateway.Dispatch(ctx, "quick", p)
	require.NoError(t, err)

	h.worker.Tick(ctx)
	h.worker.Wait()

	rec, err := h.mailbox.Get(ctx, "with-notification")
	require.NoError(t, err)
	assert.Equal(t, host.ModeForeground, rec.Mode)
	assert.Equal(t, host.StatusSucceeded, rec.Status)
}

func TestWorkerStartStopsOnCancel(t *testing.T) {
	h := newHarness(t, dispatch.TierLegacy)
	h.worker.cfg.PollInterval = 10 * time.Millisecond

	_, err := h.gateway.Dispatch(context.Background(), "blocking", params("long"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.worker.Start(ctx) }()

	require.Eventually(t, func() bool { return len(h.worker.Running()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	// Shutdown is not a cancel: the delivery goes back to the queue.
	assert.Equal(t, host.StatusQueued, h.status(t, "long"))
	depth, err := h.mailbox.Depth(context.Background(), ns)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	for _, ev := range h.hub.ForJob("long") {
		assert.NotEqual(t, events.JobCancelled, ev.Type)
	}
}
