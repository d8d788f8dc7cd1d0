// ABOUTME: Tests for the /assistant SSE endpoint
// ABOUTME: Covers thread resolution, request validation, event relay, and client disconnects

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assistant/internal/agent"
	"github.com/2389/coven-assistant/internal/store"
)

type sseEvent struct {
	Event string
	Data  string
}

// parseSSE splits a complete SSE body into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.Event != "" {
			events = append(events, ev)
		}
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Event
	}
	return names
}

func chatBody(threadID, userID string, texts ...string) map[string]any {
	parts := make([]map[string]string, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, map[string]string{"type": "text", "text": text})
	}
	body := map[string]any{
		"commands": []map[string]any{{
			"type":    "add-message",
			"message": map[string]any{"role": "user", "parts": parts},
		}},
	}
	if threadID != "" {
		body["thread_id"] = threadID
	}
	if userID != "" {
		body["user_id"] = userID
	}
	return body
}

func TestAssistant_EndToEnd(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodPost, "/assistant", chatBody("t1", "u1", "My name is Charlie."))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "t1", rec.Header().Get(ThreadIDHeader))

	events := parseSSE(t, rec.Body.String())
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, "started", events[0].Event)
	assert.Equal(t, "message_start", events[1].Event)
	assert.Equal(t, "message_end", events[len(events)-2].Event)
	assert.Equal(t, "done", events[len(events)-1].Event)
	assert.JSONEq(t, `{"thread_id":"t1"}`, events[len(events)-1].Data)

	var reply strings.Builder
	for _, ev := range events {
		if ev.Event != "text" {
			continue
		}
		var e agent.Event
		require.NoError(t, json.Unmarshal([]byte(ev.Data), &e))
		reply.WriteString(e.Text)
	}
	assert.Equal(t, "You said: My name is Charlie.", reply.String())

	thread := decodeBody[store.Thread](t, doRequest(t, h, http.MethodGet, "/threads/t1", nil))
	assert.Equal(t, "u1", thread.UserID)
	assert.Equal(t, store.DefaultTitle, thread.Title)

	resp := decodeBody[MessagesResponse](t, doRequest(t, h, http.MethodGet, "/threads/t1/messages", nil))
	require.NotEmpty(t, resp.Messages)
	var first agent.Message
	require.NoError(t, json.Unmarshal(resp.Messages[0], &first))
	assert.Equal(t, agent.RoleHuman, first.Role)
	assert.Contains(t, first.Content, "Charlie")
}

func TestAssistant_HistoryAccumulatesAcrossTurns(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	doRequest(t, h, http.MethodPost, "/assistant", chatBody("t1", "", "first"))
	doRequest(t, h, http.MethodPost, "/assistant", chatBody("t1", "", "second"))

	resp := decodeBody[MessagesResponse](t, doRequest(t, h, http.MethodGet, "/threads/t1/messages", nil))
	require.Len(t, resp.Messages, 4)

	var roles []string
	for _, raw := range resp.Messages {
		var m agent.Message
		require.NoError(t, json.Unmarshal(raw, &m))
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []string{"human", "ai", "human", "ai"}, roles)
}

func TestAssistant_MissingThreadID(t *testing.T) {
	runner := &scriptedRunner{}
	gw := newTestGateway(t, runner)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodPost, "/assistant", chatBody("", "u1", "hello"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get(ThreadIDHeader))
	assert.Equal(t, "thread_id missing from request state", decodeBody[map[string]string](t, rec)["error"])
	assert.Zero(t, runner.runs)

	threads := decodeBody[[]store.Thread](t, doRequest(t, h, http.MethodGet, "/threads?user_id=u1", nil))
	assert.Empty(t, threads)
}

func TestAssistant_NewSentinelWithoutStateIsMissing(t *testing.T) {
	gw := newTestGateway(t, &scriptedRunner{})

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/assistant", chatBody("new", "", "hello"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssistant_ThreadIDFromState(t *testing.T) {
	runner := &scriptedRunner{events: []*agent.Event{{Type: agent.EventDone}}}
	gw := newTestGateway(t, runner)

	body := chatBody("new", "", "hello")
	body["state"] = map[string]any{"thread_id": "from-state"}

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/assistant", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-state", rec.Header().Get(ThreadIDHeader))
	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"started", "done"}, eventNames(events))
	assert.JSONEq(t, `{"thread_id":"from-state"}`, events[1].Data)
}

func TestAssistant_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{"commands":`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"commands not an array", `{"commands":"nope","thread_id":"t1"}`, http.StatusUnprocessableEntity},
		{"commands missing", `{"thread_id":"t1"}`, http.StatusUnprocessableEntity},
		{"parts not an array", `{"commands":[{"type":"add-message","message":{"parts":{}}}],"thread_id":"t1"}`, http.StatusUnprocessableEntity},
		{"state messages not a list", `{"commands":[],"thread_id":"t1","state":{"messages":"x"}}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{}
			gw := newTestGateway(t, runner)
			h := gw.Handler()

			rec := doRequest(t, h, http.MethodPost, "/assistant", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, decodeBody[map[string]string](t, rec)["error"])
			assert.Zero(t, runner.runs)

			rec = doRequest(t, h, http.MethodGet, "/threads/t1", nil)
			assert.Equal(t, http.StatusNotFound, rec.Code, "no thread may be created")
		})
	}
}

func TestAssistant_TurnExtraction(t *testing.T) {
	runner := &scriptedRunner{events: []*agent.Event{{Type: agent.EventDone}}}
	gw := newTestGateway(t, runner)

	body := `{"thread_id":"t1","commands":[
		{"type":"add-message","message":{"id":"m1","parts":[{"text":"Hello"},{"type":"image","image":"x.png"},{"text":"world"}]}},
		{"type":"add-message","message":{"parts":[{"type":"image","image":"y.png"}]}},
		{"type":"add-tool-result","toolCallId":"c1"}
	]}`
	rec := doRequest(t, gw.Handler(), http.MethodPost, "/assistant", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.history, 1)
	assert.Equal(t, agent.Message{ID: "m1", Role: agent.RoleHuman, Content: "Hello world"}, runner.history[0])
}

func TestAssistant_RelaysEventsInOrder(t *testing.T) {
	runner := &scriptedRunner{events: []*agent.Event{
		{Type: agent.EventMessageStart, MessageID: "m1"},
		{Type: agent.EventText, MessageID: "m1", Text: "a", Namespace: []string{"tools:1"}},
		{Type: agent.EventText, MessageID: "m1", Text: "b"},
		{Type: agent.EventMessageEnd, MessageID: "m1"},
		{Type: agent.EventDone},
	}}
	gw := newTestGateway(t, runner)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/assistant", chatBody("t1", "", "go"))

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"started", "message_start", "text", "text", "message_end", "done"}, eventNames(events))
	assert.JSONEq(t, `{"type":"text","namespace":["tools:1"],"message_id":"m1","text":"a"}`, events[2].Data)
}

func TestAssistant_AgentErrorEndsStream(t *testing.T) {
	runner := &scriptedRunner{events: []*agent.Event{
		{Type: agent.EventMessageStart, MessageID: "m1"},
		{Type: agent.EventError, MessageID: "m1", Error: "provider exploded"},
		{Type: agent.EventDone},
	}}
	gw := newTestGateway(t, runner)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodPost, "/assistant", chatBody("t1", "", "go"))

	require.Equal(t, http.StatusOK, rec.Code)
	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"started", "message_start", "error"}, eventNames(events))
	assert.Contains(t, events[2].Data, "provider exploded")

	metrics := doRequest(t, h, http.MethodGet, "/metrics", nil).Body.String()
	assert.Contains(t, metrics, `coven_assistant_runs_total{outcome="failed"} 1`)
}

func TestAssistant_ClientDisconnectStopsRun(t *testing.T) {
	runner := &scriptedRunner{
		events:  []*agent.Event{{Type: agent.EventMessageStart, MessageID: "m1"}},
		hold:    true,
		stopped: make(chan struct{}),
	}
	gw := newTestGateway(t, runner)
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, err := json.Marshal(chatBody("t1", "", "go"))
	require.NoError(t, err)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/assistant", strings.NewReader(string(data)))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "t1", resp.Header.Get(ThreadIDHeader))

	// Read until the agent's first event arrives, then hang up
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: message_start") {
			break
		}
	}
	cancel()

	select {
	case <-runner.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("agent run was not cancelled after client disconnect")
	}
}

func TestAssistant_CORS(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/assistant", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, ThreadIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
}
