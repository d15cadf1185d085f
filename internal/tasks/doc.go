// Package tasks runs playlist workflows and keeps a client in sync with their progress.
//
// # Streaming Coordinator
//
// [Coordinator] owns at most one live status subscription:
//
//  1. [Coordinator.Subscribe] : Follow a session
//     - Idempotent for the same session and enabled flag
//     - Tears the previous subscription down synchronously before starting the next
//     - Opens nothing for an empty session, a disabled subscription or a known terminal status
//
//  2. [Coordinator.Reconnect] : Restart the current subscription from the last delivered status
//
//  3. [Coordinator.Stop] : Synchronous teardown
//
// Completion tokens are kept per session, so subscribing to a session again never fetches its
// results twice. When a subscription ends with a fatal error the coordinator fetches the status one
// last time through the same terminal-aware path.
//
// # Workflow Operations
//
// The [WorkflowEngine] interface defines three operations:
//
//  1. [WorkflowEngine.Start] : Queue a workflow for a mood prompt and record the session
//  2. [WorkflowEngine.Watch] : Follow a session, merging statuses and results into a [state.Store]
//  3. [WorkflowEngine.Cancel] : Cancel on the backend, stop streaming and reset local state
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains the workflow phase, its position, a message and optional
// data for advanced UI rendering. Updates use select with default to prevent blocking.
//
// # Session Caching
//
// The optional [SessionStore] interface persists sessions so that a later watch can skip opening a
// transport for sessions that already finished.
package tasks
