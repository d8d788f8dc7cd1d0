// ABOUTME: GET /threads/{id}/events live feed of thread changes over SSE
// ABOUTME: Subscribes to the conversation broadcaster and writes keepalive comments while idle

package gateway

import (
	"fmt"
	"net/http"
	"time"
)

// eventsKeepaliveInterval is how often an idle events stream writes a comment line.
const eventsKeepaliveInterval = 15 * time.Second

// handleThreadEvents streams appends and metadata updates for a thread.
// GET /threads/{id}/events
func (g *Gateway) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	threadID := r.PathValue("id")
	ctx := r.Context()
	events := g.conversation.Subscribe(ctx, threadID)
	if events == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, sseEventStarted, map[string]string{"thread_id": threadID})
	flusher.Flush()

	ticker := time.NewTicker(eventsKeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(ev.Kind), ev)
			flusher.Flush()
		}
	}
}
