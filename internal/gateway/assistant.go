// ABOUTME: POST /assistant handler that relays agent runs to the client as SSE
// ABOUTME: Maps request errors to 4xx before streaming and tags the stream with X-Thread-Id

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/coven-assistant/internal/agent"
	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/metrics"
)

// ThreadIDHeader carries the resolved thread id on /assistant responses.
const ThreadIDHeader = "X-Thread-Id"

// SSE event names written by the gateway itself. Agent events use their own type.
const (
	sseEventStarted = "started"
	sseEventDone    = "done"
	sseEventError   = "error"
)

// handleAssistant runs one chat turn and streams the agent's events.
// POST /assistant
func (g *Gateway) handleAssistant(w http.ResponseWriter, r *http.Request) {
	req, status, err := parseChatRequest(w, r)
	if err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}

	// Check streaming support before starting the run (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	resp, err := g.conversation.Run(r.Context(), req)
	switch {
	case errors.Is(err, conversation.ErrMissingThreadID):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, conversation.ErrInvalidState):
		g.sendJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil && r.Context().Err() != nil:
		// Client left while the turn was queued behind another run on the thread
		g.logger.Debug("run abandoned before start", "error", err)
		g.metrics.RunFinished(metrics.OutcomeCancelled)
		return
	case err != nil:
		g.logger.Error("failed to start run", "error", err)
		g.metrics.RunFinished(metrics.OutcomeFailed)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(ThreadIDHeader, resp.ThreadID)
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, sseEventStarted, map[string]string{"thread_id": resp.ThreadID})
	flusher.Flush()

	outcome := g.streamEvents(r.Context(), w, flusher, resp)
	g.metrics.RunFinished(outcome)
	g.logger.Debug("run finished", "thread_id", resp.ThreadID, "outcome", outcome)
}

// parseChatRequest decodes the body. Undecodable JSON is a 400; a body of the
// wrong shape is a 422.
func parseChatRequest(w http.ResponseWriter, r *http.Request) (*conversation.ChatRequest, int, error) {
	var req conversation.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, http.StatusUnprocessableEntity, fmt.Errorf("invalid request: field %q has the wrong type", typeErr.Field)
		}
		return nil, http.StatusBadRequest, errors.New("invalid JSON body")
	}
	if req.Commands == nil {
		return nil, http.StatusUnprocessableEntity, errors.New("invalid request: commands is required")
	}
	return &req, 0, nil
}

// streamEvents relays agent events in arrival order until the run ends or the
// client goes away, and returns the run outcome.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, resp *conversation.RunResponse) string {
	for {
		select {
		case <-ctx.Done():
			// The agent observes the same context and stops at its next event
			return metrics.OutcomeCancelled

		case ev, ok := <-resp.Stream:
			if !ok {
				if ctx.Err() != nil {
					return metrics.OutcomeCancelled
				}
				g.writeDone(w, flusher, resp.ThreadID)
				return metrics.OutcomeCompleted
			}

			switch ev.Type {
			case agent.EventDone:
				g.writeDone(w, flusher, resp.ThreadID)
				return metrics.OutcomeCompleted
			case agent.EventError:
				g.writeSSEEvent(w, sseEventError, ev)
				g.metrics.StreamEvent(sseEventError)
				flusher.Flush()
				return metrics.OutcomeFailed
			default:
				g.writeSSEEvent(w, string(ev.Type), ev)
				g.metrics.StreamEvent(string(ev.Type))
				flusher.Flush()
			}
		}
	}
}

// writeDone writes the terminal event carrying the resolved thread id.
func (g *Gateway) writeDone(w http.ResponseWriter, flusher http.Flusher, threadID string) {
	g.writeSSEEvent(w, sseEventDone, map[string]string{"thread_id": threadID})
	g.metrics.StreamEvent(sseEventDone)
	flusher.Flush()
}

// writeSSEEvent writes a single SSE event.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
