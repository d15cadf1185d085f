// Package server implements a simulated playlist workflow backend for local development and tests.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns, so handlers can read path
// wildcards with [http.Request.PathValue] and unmatched methods get a 405.
//
// # Middleware
//
//   - [Logging] logs method, path, status and duration for every request
//   - [RateLimit] answers 429 from a shared token bucket
//   - [BearerAuth] checks the Authorization header, leaving listed paths public
//
// # Simulator
//
// [Simulator] keeps sessions in memory and advances each one through a script of statuses on a
// fixed step delay. The default script visits every stage in order, including a sub-step status
// and an optimization pass that re-enters quality evaluation. A mood prompt containing
// [FailureKeyword] fails while generating recommendations.
//
// # Endpoints
//
// [WorkflowHandler] mounts the workflow API under [DefaultPrefix]:
//
//	POST   /start         queue a workflow
//	GET    /status/{id}   current status snapshot
//	GET    /results/{id}  final results, 400 until completed
//	GET    /stream/{id}   server-sent events: status events, then a complete event
//	GET    /ws/{id}       WebSocket: status envelopes, pings while idle, then complete and a normal close
//	DELETE /{id}          cancel a running workflow
//
// [HealthHandler] serves GET /health outside the prefix.
package server
