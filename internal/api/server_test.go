package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/medicore/internal/rag"
	"github.com/medicore/medicore/internal/testutil"
)

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Pipeline == nil {
		cfg.Pipeline = &fakePipeline{stream: testutil.ChatStream("ok")}
	}
	if cfg.Logger == nil {
		cfg.Logger = testutil.DiscardLogger()
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)
	return srv
}

func TestNewServer_RequiredFields(t *testing.T) {
	t.Parallel()

	_, err := NewServer(ServerConfig{Logger: testutil.DiscardLogger()})
	require.Error(t, err)

	_, err = NewServer(ServerConfig{Pipeline: &fakePipeline{}})
	require.Error(t, err)
}

func TestServer_Liveness(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServer_ReadinessWithoutPool(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestServer_CORSHeadersOnResponses(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RateLimitPerIP(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{RatePerSec: 0.001, RateBurst: 1})
	handler := srv.Handler()

	get := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, get("10.1.1.1:1000").Code)
	limited := get("10.1.1.1:1001")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// A different IP has its own budget.
	assert.Equal(t, http.StatusOK, get("10.1.1.2:1000").Code)
}

func TestServer_PreflightBypassesRateLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{RatePerSec: 0.001, RateBurst: 1})
	handler := srv.Handler()

	preflight := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.RemoteAddr = "10.2.2.2:1000"
		req.Header.Set("Origin", "https://example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for range 5 {
		assert.Equal(t, http.StatusOK, preflight().Code)
	}
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	panicking := &panicPipeline{}
	srv := newTestServer(t, ServerConfig{Pipeline: panicking})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.RemoteAddr = "10.3.3.3:1000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_BackfillRoute(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{
		Backfill: func(context.Context) (rag.BackfillReport, error) {
			return rag.BackfillReport{Total: 2, Embedded: 2}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/backfill", nil)
	req.RemoteAddr = "10.4.4.4:1000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"embedded":2`)
}

func TestServer_BackfillRouteAbsentWhenUnconfigured(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/api/backfill", nil)
	req.RemoteAddr = "10.5.5.5:1000"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type panicPipeline struct{}

func (*panicPipeline) Run(context.Context, rag.Request, rag.Sink) (rag.Result, error) {
	panic(fmt.Errorf("boom"))
}
