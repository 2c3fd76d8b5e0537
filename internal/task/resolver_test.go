package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/uplink/internal/diag"
	"github.com/mattjoyce/uplink/internal/protocol"
)

type stubJob struct {
	in Init
}

func (j *stubJob) ID() string                    { return j.in.Params.ID }
func (j *stubJob) Kind() string                  { return "stub" }
func (j *stubJob) Run(ctx context.Context) error { return nil }

type nopObserver struct{}

func (nopObserver) OnStart(Info, int, *protocol.NotificationConfig) {}
func (nopObserver) OnProgress(Info)                                 {}
func (nopObserver) OnSuccess(Info)                                  {}
func (nopObserver) OnError(Info, error)                             {}
func (nopObserver) OnCompleted(Info)                                {}

func stubKind(f Factory) Kind {
	return Kind{Name: "stub", Capability: CapabilityUpload, New: f}
}

func TestResolverCreate(t *testing.T) {
	params := protocol.Parameters{ID: "job-1", ServerURL: "https://example.com"}
	exec := ExecContext{Namespace: "test"}

	t.Run("success wires context, params, slot and observers", func(t *testing.T) {
		rec := &diag.Recorder{}
		r := NewResolver(rec)
		ob := nopObserver{}

		job, err := r.Create(CreationRequest{
			Kind:   stubKind(func(in Init) (Job, error) { return &stubJob{in: in}, nil }),
			Params: params,
		}, exec, 7, ob, nil)
		require.NoError(t, err)
		require.NotNil(t, job)

		sj := job.(*stubJob)
		assert.Equal(t, "job-1", sj.ID())
		assert.Equal(t, 7, sj.in.NotificationSlot)
		assert.Equal(t, "test", sj.in.Exec.Namespace)
		assert.Len(t, sj.in.Observers, 1, "nil observers are dropped")
		assert.Equal(t, []diag.Kind{diag.Created}, rec.Kinds())
		last, _ := rec.Last()
		assert.Equal(t, "stub", last.Subject)
	})

	failures := []struct {
		name    string
		factory Factory
	}{
		{"factory error", func(Init) (Job, error) { return nil, &InitError{Kind: "stub", Reason: "no files"} }},
		{"factory error with partial job", func(in Init) (Job, error) { return &stubJob{in: in}, errors.New("half done") }},
		{"factory panic", func(Init) (Job, error) { panic("boom") }},
		{"nil job", func(Init) (Job, error) { return nil, nil }},
		{"nil factory", nil},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			rec := &diag.Recorder{}
			r := NewResolver(rec)

			job, err := r.Create(CreationRequest{Kind: stubKind(tt.factory), Params: params}, exec, 1)
			assert.Nil(t, job)
			require.Error(t, err)
			assert.Equal(t, diag.InitFailed, diag.KindOf(err))
			assert.Equal(t, []diag.Kind{diag.InitFailed}, rec.Kinds())
			last, _ := rec.Last()
			assert.Equal(t, "stub", last.Subject)
		})
	}
}

func TestResolverPreservesInitError(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Create(CreationRequest{
		Kind: stubKind(func(Init) (Job, error) { return nil, &InitError{Kind: "stub", Reason: "bad"} }),
	}, ExecContext{}, 0)

	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "bad", ie.Reason)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	f := func(in Init) (Job, error) { return &stubJob{in: in}, nil }

	require.NoError(t, reg.Register(Kind{Name: "b", Capability: CapabilityUpload, New: f}))
	require.NoError(t, reg.Register(Kind{Name: "a", Capability: "other", New: f}))

	err := reg.Register(Kind{Name: "a", New: f})
	assert.ErrorIs(t, err, ErrKindExists)
	assert.Error(t, reg.Register(Kind{Name: "", New: f}))
	assert.Error(t, reg.Register(Kind{Name: "c"}))

	k, ok := reg.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, Capability("other"), k.Capability)

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b"}, reg.Names())
}
