// Package gateway orchestrates the coven-assistant server components.
//
// # Overview
//
// The gateway package owns the store, the agent runner, the conversation
// service, metrics, and the HTTP server, and wires them together.
//
// # Gateway Struct
//
//	type Gateway struct {
//	    config       *config.Config
//	    store        store.Store
//	    runner       agent.Runner
//	    conversation *conversation.Service
//	    broadcaster  *conversation.EventBroadcaster
//	    metrics      *metrics.Metrics
//	    httpServer   *http.Server
//	    // ...
//	}
//
// # HTTP API
//
//   - GET /threads?user_id= - List the owner's non-archived threads
//   - POST /threads - Register a thread ({localId, user_id, title}), idempotent
//   - GET /threads/{id} - Thread metadata, 404 when unknown
//   - PATCH /threads/{id} - Rename, archive, or share ({title, is_archived, is_public})
//   - GET /threads/{id}/messages - Message history with fallback
//   - POST /threads/{id}/messages - Append a client message verbatim
//   - GET /threads/{id}/events - Live feed of appends and updates (SSE)
//   - POST /assistant - Run a chat turn (SSE)
//   - GET /public/threads/{id} - Shared thread as JSON
//   - GET /share/{id} - Shared thread as an HTML transcript
//   - GET /health - Liveness check
//   - GET /metrics - Prometheus exposition, when enabled
//
// # SSE Streaming
//
// POST /assistant answers with the resolved thread id in the X-Thread-Id
// header and streams Server-Sent Events:
//
//	event: started
//	data: {"thread_id":"t1"}
//
//	event: message_start
//	data: {"type":"message_start","message_id":"m1"}
//
//	event: text
//	data: {"type":"text","message_id":"m1","text":"Hello"}
//
//	event: message_end
//	data: {"type":"message_end","message_id":"m1","message":{...}}
//
//	event: done
//	data: {"thread_id":"t1"}
//
// An agent failure mid-run is written as an error event and ends the stream.
// Requests without a resolvable thread id fail with 400 before any event is
// written, and bodies of the wrong shape fail with 422.
//
// # Middleware
//
// Every request passes through CORS (configurable origins, X-Thread-Id
// exposed) and access logging, which also records request metrics labelled
// by route pattern.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
package gateway
