package diag

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := Errorf(UnknownJobKind, "NotARealClass", "not registered")
	wrapped := fmt.Errorf("decode: %w", err)

	assert.Equal(t, UnknownJobKind, KindOf(err))
	assert.Equal(t, UnknownJobKind, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Kind: InitFailed, Subject: "multipart", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "multipart")
}

func TestEmitReportsToSink(t *testing.T) {
	rec := &Recorder{}
	err := Emit(rec, "codec", Errorf(MissingJobKind, "", "no job kind"))

	require.Len(t, rec.All(), 1)
	d := rec.All()[0]
	assert.Equal(t, MissingJobKind, d.Kind)
	assert.Equal(t, "codec", d.Component)
	assert.Equal(t, MissingJobKind, err.Kind)

	// A nil sink is tolerated.
	assert.NotNil(t, Emit(nil, "codec", Errorf(Transport, "", "x")))
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Report(Diagnostic{Kind: UnknownJobKind, Component: "codec", Subject: "Nope", Err: errors.New("missing")})
	sink.Report(Diagnostic{Kind: Created, Component: "resolver", Subject: "multipart"})

	dec := json.NewDecoder(&buf)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "ERROR", first["level"])
	assert.Equal(t, "unknown_job_kind", first["kind"])
	assert.Equal(t, "Nope", first["subject"])
	assert.Equal(t, "DEBUG", second["level"])
	assert.Equal(t, "created", second["kind"])
}
