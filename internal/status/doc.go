// Package status decides whether an incoming workflow status moves a session forward.
//
// The backend reports progress as free-form strings. Canonical stages are listed in [Stages];
// sub-steps such as "gathering_seeds_fetching_top_tracks" are ordered by the canonical stage they
// contain. Strings that contain no stage are unordered and always accepted.
//
// # Acceptance rules
//
// [ShouldAccept] applies, in order:
//  1. no previous status: accept
//  2. next is completed or failed: accept
//  3. the update carries a new error: accept
//  4. next is unordered: accept
//  5. next stage >= previous stage: accept
//  6. otherwise reject
//
// [Gate] wraps the rules with per-subscription state and merges the volatile fields of rejected
// updates (metadata, mood analysis, anchor tracks, usage) into the last accepted snapshot.
//
// [IsTerminal] uses exact equality so that sub-steps like "evaluating_quality_iteration_1" are never
// mistaken for terminal statuses.
package status
