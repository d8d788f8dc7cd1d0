// ABOUTME: JSON handlers for the thread registry and per-thread message log
// ABOUTME: Covers /threads, /threads/{id}, /threads/{id}/messages and the public thread view

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/2389/coven-assistant/internal/conversation"
	"github.com/2389/coven-assistant/internal/store"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 1 << 20

// CreateThreadRequest is the body of POST /threads.
type CreateThreadRequest struct {
	LocalID string `json:"localId"`
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
}

// AppendMessageRequest is the body of POST /threads/{id}/messages.
type AppendMessageRequest struct {
	Message json.RawMessage `json:"message"`
}

// MessagesResponse is the body of GET /threads/{id}/messages.
type MessagesResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// PublicThreadResponse is the body of GET /public/threads/{id}.
type PublicThreadResponse struct {
	Thread   *store.Thread     `json:"thread"`
	Messages []json.RawMessage `json:"messages"`
}

// handleListThreads returns the owner's non-archived threads.
// GET /threads?user_id=
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := g.conversation.ListThreads(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		g.logger.Error("failed to list threads", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if threads == nil {
		threads = []*store.Thread{}
	}
	g.writeJSON(w, http.StatusOK, threads)
}

// handleCreateThread registers a thread, returning the existing record for a known localId.
// POST /threads
func (g *Gateway) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	thread, err := g.conversation.CreateThread(r.Context(), req.UserID, req.Title, req.LocalID)
	if err != nil {
		g.logger.Error("failed to create thread", "error", err, "local_id", req.LocalID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, thread)
}

// handleGetThread returns thread metadata.
// GET /threads/{id}
func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := g.conversation.GetThread(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get thread", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, thread)
}

// handleUpdateThread applies a partial metadata update. Unknown ids are ignored.
// PATCH /threads/{id}
func (g *Gateway) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	var update conversation.ThreadUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := g.conversation.UpdateThread(r.Context(), r.PathValue("id"), update)
	if errors.Is(err, conversation.ErrCannotUnarchive) {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to update thread", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetMessages returns the thread's history.
// GET /threads/{id}/messages
func (g *Gateway) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := g.conversation.History(r.Context(), r.PathValue("id"))
	if err != nil {
		g.logger.Error("failed to load history", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// handleAppendMessage stores a client message verbatim.
// POST /threads/{id}/messages
func (g *Gateway) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req AppendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Message) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	_, err := g.conversation.AppendMessage(r.Context(), r.PathValue("id"), req.Message)
	if errors.Is(err, store.ErrInvalidMessage) {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("failed to append message", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePublicThread returns a shared thread with its history.
// GET /public/threads/{id}
func (g *Gateway) handlePublicThread(w http.ResponseWriter, r *http.Request) {
	thread, msgs, err := g.conversation.PublicThread(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load public thread", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, PublicThreadResponse{Thread: thread, Messages: msgs})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
