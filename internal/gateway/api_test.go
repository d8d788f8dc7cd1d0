// ABOUTME: Tests for the thread registry and message log HTTP handlers
// ABOUTME: Exercises routing, status codes, and JSON bodies through the full handler chain

package gateway

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-assistant/internal/agent"
	"github.com/2389/coven-assistant/internal/store"
)

func TestCreateThread_Idempotent(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "t1", UserID: "u1", Title: "Trip"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[store.Thread](t, rec)
	assert.Equal(t, "t1", first.ID)
	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, "Trip", first.Title)
	assert.False(t, first.IsArchived)
	assert.False(t, first.IsPublic)

	rec = doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "t1", UserID: "u1", Title: "Other"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[store.Thread](t, rec)
	assert.Equal(t, "Trip", second.Title)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestCreateThread_Defaults(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/threads", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)

	thread := decodeBody[store.Thread](t, rec)
	assert.NotEmpty(t, thread.ID)
	assert.Equal(t, store.DefaultUserID, thread.UserID)
	assert.Equal(t, store.DefaultTitle, thread.Title)
}

func TestCreateThread_InvalidJSON(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodPost, "/threads", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", decodeBody[map[string]string](t, rec)["error"])
}

func TestListThreads_OwnerAndArchived(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "a", UserID: "u1"})
	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "b", UserID: "u1"})
	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "c", UserID: "u2"})

	rec := doRequest(t, h, http.MethodPatch, "/threads/b", map[string]bool{"is_archived": true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/threads?user_id=u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	threads := decodeBody[[]store.Thread](t, rec)
	require.Len(t, threads, 1)
	assert.Equal(t, "a", threads[0].ID)

	// Archived threads stay readable
	rec = doRequest(t, h, http.MethodGet, "/threads/b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[store.Thread](t, rec).IsArchived)
}

func TestListThreads_UnknownOwnerIsEmptyArray(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/threads?user_id=nobody", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListThreads_DefaultOwner(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "mine"})

	rec := doRequest(t, h, http.MethodGet, "/threads", nil)
	threads := decodeBody[[]store.Thread](t, rec)
	require.Len(t, threads, 1)
	assert.Equal(t, "mine", threads[0].ID)
}

func TestGetThread_NotFound(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/threads/missing", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "thread not found", decodeBody[map[string]string](t, rec)["error"])
}

func TestUpdateThread(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()
	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "t1"})

	rec := doRequest(t, h, http.MethodPatch, "/threads/t1", map[string]any{"title": "Renamed", "is_public": true})
	require.Equal(t, http.StatusNoContent, rec.Code)

	thread := decodeBody[store.Thread](t, doRequest(t, h, http.MethodGet, "/threads/t1", nil))
	assert.Equal(t, "Renamed", thread.Title)
	assert.True(t, thread.IsPublic)
	assert.False(t, thread.IsArchived)
}

func TestUpdateThread_UnknownIDIgnored(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodPatch, "/threads/ghost", map[string]any{"title": "x", "is_archived": true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/threads/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateThread_CannotUnarchive(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()
	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "t1"})

	rec := doRequest(t, h, http.MethodPatch, "/threads/t1", map[string]bool{"is_archived": false})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessages_AppendOrder(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	first := `{"id":"m1","role":"user","content":[{"type":"text","text":"one"}]}`
	second := `{"id":"m2","role":"assistant","content":[{"type":"tool-call","toolName":"weather"}]}`

	for _, msg := range []string{first, second} {
		rec := doRequest(t, h, http.MethodPost, "/threads/t1/messages", `{"message":`+msg+`}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	}

	rec := doRequest(t, h, http.MethodGet, "/threads/t1/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[MessagesResponse](t, rec)
	require.Len(t, resp.Messages, 2)
	assert.JSONEq(t, first, string(resp.Messages[0]))
	assert.JSONEq(t, second, string(resp.Messages[1]))
}

func TestMessages_AppendRejectsBadMessage(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{}`},
		{"null message", `{"message":null}`},
		{"string message", `{"message":"hi"}`},
		{"array message", `{"message":[1,2]}`},
		{"invalid json", `{"message":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/threads/t1/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := doRequest(t, h, http.MethodGet, "/threads/t1/messages", nil)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestMessages_UnknownThreadIsEmpty(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/threads/never-seen/messages", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestMessages_FallsBackToSnapshot(t *testing.T) {
	runner := &scriptedRunner{snapshot: &agent.State{Messages: []agent.Message{
		{ID: "h1", Role: agent.RoleHuman, Content: "hi"},
		{ID: "a1", Role: agent.RoleAI, Content: "hello"},
	}}}
	gw := newTestGateway(t, runner)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/threads/t1/messages", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[
		{"id":"h1","type":"human","content":"hi"},
		{"id":"a1","type":"ai","content":"hello"}
	]}`, rec.Body.String())
}

func TestMessages_AppendLogWinsOverSnapshot(t *testing.T) {
	runner := &scriptedRunner{snapshot: &agent.State{Messages: []agent.Message{
		{ID: "h1", Role: agent.RoleHuman, Content: "from checkpoint"},
	}}}
	gw := newTestGateway(t, runner)
	h := gw.Handler()

	doRequest(t, h, http.MethodPost, "/threads/t1/messages", `{"message":{"id":"m1","role":"user"}}`)

	resp := decodeBody[MessagesResponse](t, doRequest(t, h, http.MethodGet, "/threads/t1/messages", nil))
	require.Len(t, resp.Messages, 1)
	assert.JSONEq(t, `{"id":"m1","role":"user"}`, string(resp.Messages[0]))
}

func TestPublicThread(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	doRequest(t, h, http.MethodPost, "/threads", CreateThreadRequest{LocalID: "t1", Title: "Shared"})
	doRequest(t, h, http.MethodPost, "/threads/t1/messages", `{"message":{"role":"user","content":"hi"}}`)

	rec := doRequest(t, h, http.MethodGet, "/public/threads/t1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "private threads are hidden")

	doRequest(t, h, http.MethodPatch, "/threads/t1", map[string]bool{"is_public": true})

	rec = doRequest(t, h, http.MethodGet, "/public/threads/t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Thread   store.Thread      `json:"thread"`
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Shared", resp.Thread.Title)
	require.Len(t, resp.Messages, 1)
}

func TestPublicThread_Unknown(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodGet, "/public/threads/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	gw := newTestGateway(t, nil)

	rec := doRequest(t, gw.Handler(), http.MethodDelete, "/threads/t1", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
