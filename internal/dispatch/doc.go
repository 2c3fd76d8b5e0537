// Package dispatch is the producer side of job launching.
//
// A Gateway encodes a job kind and its parameters into a launch message and
// hands it to the host through a Launcher. Which launch primitive is used
// depends on the host Capability:
//   - TierLegacy: StartBackground, best effort
//   - TierForeground: StartForeground; the parameters must carry a
//     notification config or Dispatch fails with a *PreconditionError and
//     nothing is sent
//
// Dispatch returns the caller-supplied job id unchanged. That id is the only
// handle for correlating later cancel signals and status lookups.
//
// Error handling:
//   - Missing notification config on the foreground tier → *PreconditionError
//     (matches ErrNotificationRequired)
//   - Launcher failure → *diag.Error of kind Transport, also reported to the sink
package dispatch
