package janitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/uplink/internal/events"
	"github.com/mattjoyce/uplink/internal/host"
	"github.com/mattjoyce/uplink/internal/janitor/mocks"
)

func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestRecoverRequeuesOrFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	hub := events.NewHub(8)
	logger, logs := newTestSlogger()

	j := New(Config{Target: "ns", MaxClaims: 2}, store, hub, logger)

	store.EXPECT().Orphans(gomock.Any(), "ns").Return([]host.Orphan{
		{ID: "d1", JobID: "fresh", Claims: 1},
		{ID: "d2", JobID: "spent", Claims: 2},
	}, nil)
	store.EXPECT().Requeue(gomock.Any(), "d1").Return(nil)
	store.EXPECT().Complete(gomock.Any(), "d2", host.StatusFailed, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ host.Status, msg *string) error {
			require.NotNil(t, msg)
			assert.Contains(t, *msg, "claim limit (2)")
			return nil
		})

	requeued, failed, err := j.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	evs := hub.ForJob("spent")
	require.Len(t, evs, 1)
	assert.Equal(t, events.JobFailed, evs[0].Type)
	assert.Contains(t, logs.String(), "requeued orphaned delivery")
}

func TestRecoverNothingToDo(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	logger, _ := newTestSlogger()

	store.EXPECT().Orphans(gomock.Any(), "ns").Return(nil, nil)

	requeued, failed, err := New(Config{Target: "ns"}, store, nil, logger).Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, requeued)
	assert.Zero(t, failed)
}

func TestRecoverContinuesPastStoreErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	logger, _ := newTestSlogger()

	store.EXPECT().Orphans(gomock.Any(), "ns").Return([]host.Orphan{
		{ID: "d1", JobID: "a", Claims: 0},
		{ID: "d2", JobID: "b", Claims: 0},
	}, nil)
	store.EXPECT().Requeue(gomock.Any(), "d1").Return(errors.New("locked"))
	store.EXPECT().Requeue(gomock.Any(), "d2").Return(nil)

	requeued, _, err := New(Config{Target: "ns", MaxClaims: 3}, store, nil, logger).Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
}

func TestRecoverOrphansError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	logger, _ := newTestSlogger()

	store.EXPECT().Orphans(gomock.Any(), "ns").Return(nil, errors.New("disk I/O error"))

	_, _, err := New(Config{Target: "ns"}, store, nil, logger).Recover(context.Background())
	assert.ErrorContains(t, err, "crash recovery")
}

func TestPruneUsesRetention(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	logger, _ := newTestSlogger()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := New(Config{Target: "ns", Retention: 24 * time.Hour}, store, nil, logger)
	j.now = func() time.Time { return now }

	store.EXPECT().Prune(gomock.Any(), now.Add(-24*time.Hour)).Return(int64(3), nil)

	n, err := j.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPruneDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	logger, _ := newTestSlogger()

	n, err := New(Config{Target: "ns"}, store, nil, logger).Prune(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	logger, _ := newTestSlogger()

	store.EXPECT().Prune(gomock.Any(), gomock.Any()).Return(int64(0), nil).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	j := New(Config{Target: "ns", Retention: time.Hour, Interval: 5 * time.Millisecond}, store, nil, logger)

	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
