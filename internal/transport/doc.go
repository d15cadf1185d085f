// Package transport delivers workflow status updates for one session over WebSocket, Server-Sent
// Events or polling.
//
// # Openers and connections
//
// Each transport implements [Opener], which reports whether it is usable and opens a [Conn]. A Conn
// pushes decoded statuses into a [Sink] until the stream ends. [Selector] picks the opener to use:
// WebSocket first, then SSE, then polling when fallback is enabled.
//
// # Subscription
//
// [Subscription] is the one place where terminal handling lives. It gates every status through
// [status.Gate], claims the session's [CompletionToken] on the first terminal status, fetches the
// results once and calls [Callbacks.OnTerminal]. After a stream closes it fetches the status once to
// catch a missed final message. Dropped streams are reopened with exponential backoff; when the
// attempts run out the subscription switches to polling.
//
// Callback panics are recovered and reported through [Callbacks.OnError].
package transport
