// Package polling computes poll intervals for a workflow session and owns the poll timer.
//
// [Engine] picks a base interval from the current status, relaxes it while the status stays the
// same, and backs off exponentially on failures up to a retry cap. [Scheduler] holds at most one
// pending timer; scheduling again replaces the previous timer.
package polling
