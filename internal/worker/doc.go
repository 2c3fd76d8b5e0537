// Package worker is the receiving side of the dispatch channel.
//
// The worker owns one namespace. On every tick it:
//   - claims queued launch messages from the mailbox while it has free slots,
//     decodes them, resolves a job, and runs it in its own goroutine
//   - drains the signal bus for its namespace and cancels the jobs named by
//     cancellation signals; a job still queued is marked cancelled in the
//     mailbox, unknown or finished ids are ignored
//
// Error handling:
//   - Undecodable or unresolvable launch → rejected status, job.rejected event
//   - Foreground delivery without notification config → rejected
//   - Job id already running → rejected
//   - Job returns error → failed status
//   - Job cancelled → cancelled status
//   - Success → succeeded status
//
// When Start returns, interrupted jobs are requeued rather than cancelled.
package worker
