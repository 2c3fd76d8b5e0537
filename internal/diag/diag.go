// Package diag carries structured diagnostics out of the dispatch core.
//
// Core components (codec, resolver, gateway) never log through the process-wide
// logger. They report to a Sink handed to them by their caller, and they return
// *Error values whose Kind identifies the failure class. Operators read the
// slog-backed sink; tests read a Recorder.
package diag

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Kind identifies a diagnostic class.
type Kind string

const (
	InvalidMessage    Kind = "invalid_message"
	MissingJobKind    Kind = "missing_job_kind"
	UnknownJobKind    Kind = "unknown_job_kind"
	WrongCapability   Kind = "wrong_capability"
	MissingParameters Kind = "missing_parameters"
	InitFailed        Kind = "init_failed"
	Transport         Kind = "transport"
	Created           Kind = "created"
)

// Failure reports whether k is an error class (everything except Created).
func (k Kind) Failure() bool {
	return k != Created && k != ""
}

// Diagnostic is a single report emitted by a core component.
type Diagnostic struct {
	Kind      Kind
	Component string
	// Subject is the discriminating context: the offending job kind, action or job id.
	Subject string
	Err     error
}

// Sink receives diagnostics.
type Sink interface {
	Report(d Diagnostic)
}

// Error is returned alongside a failure diagnostic.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Subject != "" {
		msg += " (" + e.Subject + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, subject, format string, args ...any) *Error {
	return &Error{Kind: kind, Subject: subject, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Emit reports err to sink as a failure diagnostic from component and returns it.
func Emit(sink Sink, component string, err *Error) *Error {
	if sink != nil {
		sink.Report(Diagnostic{Kind: err.Kind, Component: component, Subject: err.Subject, Err: err.Err})
	}
	return err
}

// Discard drops every diagnostic.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(Diagnostic) {}

// SlogSink writes diagnostics to a slog.Logger. Failures log at ERROR,
// everything else at DEBUG.
type SlogSink struct {
	logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Report(d Diagnostic) {
	args := []any{"kind", string(d.Kind), "component", d.Component}
	if d.Subject != "" {
		args = append(args, "subject", d.Subject)
	}
	if d.Err != nil {
		args = append(args, "error", d.Err.Error())
	}
	if d.Kind.Failure() {
		s.logger.Error("dispatch diagnostic", args...)
		return
	}
	s.logger.Debug("dispatch diagnostic", args...)
}

// Recorder keeps every diagnostic in memory. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (r *Recorder) Report(d Diagnostic) {
	r.mu.Lock()
	r.items = append(r.items, d)
	r.mu.Unlock()
}

// All returns a copy of the recorded diagnostics, oldest first.
func (r *Recorder) All() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.items))
	copy(out, r.items)
	return out
}

// Kinds returns the recorded kinds, oldest first.
func (r *Recorder) Kinds() []Kind {
	all := r.All()
	out := make([]Kind, 0, len(all))
	for _, d := range all {
		out = append(out, d.Kind)
	}
	return out
}

// Last returns the most recent diagnostic.
func (r *Recorder) Last() (Diagnostic, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Diagnostic{}, false
	}
	return r.items[len(r.items)-1], true
}
