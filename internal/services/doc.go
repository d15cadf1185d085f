// Package services implements the client for the playlist workflow backend.
//
// # Workflow API
//
// [WorkflowAPI] is the abstraction used by the CLI. [WorkflowClient] implements it over
// [resty.Client] with the following endpoints, relative to the configured base URL:
//   - POST /start : queue a workflow
//   - GET /status/{id} : status snapshot
//   - GET /results/{id} : final recommendations and playlist
//   - DELETE /{id} : cancel
//   - GET /stream/{id} : Server-Sent Events status stream
//   - /ws/{id} : WebSocket status stream
//
// # Authentication
//
// When a token is configured, every request, including the stream handshakes, carries it as a bearer
// token through an [oauth2.Transport] backed by a static token source.
//
// # Reliability
//
// Idempotent requests are retried on network errors, 408, 429 and 5xx responses. All requests
// pass through a token bucket [rate.Limiter]. Results of terminal sessions never change and are
// kept in an LRU cache.
//
// # Error Handling
//
// Errors wrap sentinels from the shared package:
//   - [shared.ErrAPIRequest] : non-2xx response or transport failure
//   - [shared.ErrSessionNotFound] : 404 for a session
//   - [shared.ErrResultsUnavailable] : results requested before the session finished
//   - [shared.ErrInvalidInput] : rejected before sending
package services
