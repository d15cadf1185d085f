// Package models defines wire types and persistent entities for the moodlist workflow client.
//
// The package contains two categories of types:
//
// 1. Wire types: snapshots exchanged with the playlist generation backend
//   - [WorkflowStatus] : Status snapshot for one session (stage, step, usage, partial results)
//   - [WorkflowResults] : Final recommendations and playlist, fetched once a session is terminal
//   - [Track] : Recommended or anchor track
//   - [PlaylistRef] : Reference to the Spotify playlist created by the workflow
//
// 2. Client state and persistent entities
//   - [WorkflowState] : Derived view merged from accepted status events and results
//   - [Session] : Locally cached record of a workflow session started or watched from this machine
//
// Persistent entities implement the [Model] interface providing ID, timestamps, and validation.
// The [Repository] interface defines standard CRUD operations for database access.
package models
