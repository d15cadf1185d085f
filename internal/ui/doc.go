// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI follows playlist workflows:
//  1. [SessionListView] : Browse recently recorded sessions
//  2. [WatchView] : Follow a session with a spinner, a stage progress bar and the latest step
//  3. [ConfirmView] : Confirm cancelling the running workflow
//  4. [ResultView] : Show the playlist, mood analysis and recommended tracks
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the WorkflowEngine, so the UI never blocks the subscription.
// Each watch is tagged with a generation, and messages from an abandoned watch are dropped.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, c, y/n, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
