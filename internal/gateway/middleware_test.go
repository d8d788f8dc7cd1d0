// ABOUTME: Tests for CORS handling, route labelling, and the status recorder
// ABOUTME: Verifies origin matching and that SSE flushing survives the middleware

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-assistant/internal/store"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"wildcard", "http://a.example", []string{"*"}, true},
		{"exact", "http://a.example", []string{"http://a.example"}, true},
		{"case insensitive", "HTTP://A.EXAMPLE", []string{"http://a.example"}, true},
		{"not listed", "http://b.example", []string{"http://a.example"}, false},
		{"empty list", "http://a.example", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, originAllowed(tt.origin, tt.allowed))
		})
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.Server.CORSAllowedOrigins = []string{"http://app.example"}
	gw := newGateway(cfg, store.NewMemoryStore(), &scriptedRunner{}, testLogger())
	defer gw.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/threads/{id}", routeLabel("GET /threads/{id}"))
	assert.Equal(t, "/health", routeLabel("/health"))
	assert.Equal(t, routeUnmatched, routeLabel(""))
}

func TestStatusRecorder(t *testing.T) {
	t.Run("first status wins", func(t *testing.T) {
		rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		rec.WriteHeader(http.StatusTeapot)
		rec.WriteHeader(http.StatusInternalServerError)
		assert.Equal(t, http.StatusTeapot, rec.status)
	})

	t.Run("implicit 200 on write", func(t *testing.T) {
		rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
		_, _ = rec.Write([]byte("hi"))
		assert.Equal(t, http.StatusOK, rec.status)
	})

	t.Run("flush marks stream and forwards", func(t *testing.T) {
		inner := httptest.NewRecorder()
		rec := &statusRecorder{ResponseWriter: inner, status: http.StatusOK}

		var w http.ResponseWriter = rec
		flusher, ok := w.(http.Flusher)
		assert.True(t, ok)
		flusher.Flush()

		assert.True(t, rec.streamed)
		assert.True(t, inner.Flushed)
		assert.Same(t, inner, rec.Unwrap())
	})
}

func TestUnmatchedRoute(t *testing.T) {
	gw := newTestGateway(t, nil)
	h := gw.Handler()

	rec := doRequest(t, h, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := doRequest(t, h, http.MethodGet, "/metrics", nil).Body.String()
	assert.Contains(t, metrics, `route="unmatched",status="404"`)
}
