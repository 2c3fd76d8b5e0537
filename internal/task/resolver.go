package task

import (
	"github.com/mattjoyce/uplink/internal/diag"
)

const resolverComponent = "resolver"

// Resolver instantiates jobs from decoded creation requests. It keeps no
// state between calls.
type Resolver struct {
	sink diag.Sink
}

// NewResolver creates a Resolver reporting to sink.
func NewResolver(sink diag.Sink) *Resolver {
	if sink == nil {
		sink = diag.Discard
	}
	return &Resolver{sink: sink}
}

// Create builds a job of the requested kind and attaches observers before the
// job is handed back. Either a fully initialized job is returned or nil with an
// *diag.Error of kind diag.InitFailed; factory panics are converted too.
func (r *Resolver) Create(req CreationRequest, exec ExecContext, notificationSlot int, observers ...Observer) (job Job, err error) {
	name := req.Kind.Name

	defer func() {
		if p := recover(); p != nil {
			job = nil
			err = diag.Emit(r.sink, resolverComponent, diag.Errorf(diag.InitFailed, name, "panic during init: %v", p))
		}
	}()

	if req.Kind.New == nil {
		return nil, diag.Emit(r.sink, resolverComponent, diag.Errorf(diag.InitFailed, name, "kind has no factory"))
	}

	attached := make([]Observer, 0, len(observers))
	for _, ob := range observers {
		if ob != nil {
			attached = append(attached, ob)
		}
	}

	j, ferr := req.Kind.New(Init{
		Exec:             exec,
		Params:           req.Params,
		NotificationSlot: notificationSlot,
		Observers:        attached,
	})
	if ferr != nil {
		return nil, diag.Emit(r.sink, resolverComponent, &diag.Error{Kind: diag.InitFailed, Subject: name, Err: ferr})
	}
	if j == nil {
		return nil, diag.Emit(r.sink, resolverComponent, diag.Errorf(diag.InitFailed, name, "factory returned no job"))
	}

	r.sink.Report(diag.Diagnostic{Kind: diag.Created, Component: resolverComponent, Subject: name})
	return j, nil
}
