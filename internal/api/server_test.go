package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/vela/internal/analyzer"
	scanapp "github.com/khanhnv2901/vela/internal/application/scan"
	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/browser"
	"github.com/khanhnv2901/vela/internal/infrastructure/cache"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
	"github.com/khanhnv2901/vela/internal/infrastructure/kv"
	"github.com/khanhnv2901/vela/internal/infrastructure/metrics"
	"github.com/khanhnv2901/vela/internal/infrastructure/persistence/sqlite"
	"github.com/khanhnv2901/vela/internal/infrastructure/persistence/sqlite/sqlitetest"
	"github.com/khanhnv2901/vela/internal/infrastructure/ratelimit"
)

type testEnv struct {
	server *Server
	orch   *scanapp.Orchestrator
	events *events.Broadcaster
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	store := kv.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.Default()
	require.NoError(t, err)
	holder := catalog.NewHolder(cat)

	logger := zaptest.NewLogger(t)
	m := metrics.New()
	bus := events.NewBroadcaster()
	results := cache.New(store)
	limiter := ratelimit.New(store, ratelimit.WithMax(3))
	repo := sqlite.NewScanRepository(sqlitetest.OpenMemory(t))

	capturer := browser.CapturerFunc(func(ctx context.Context, u string) (*scan.Capture, error) {
		return &scan.Capture{
			Requests: []scan.NetworkRequest{
				{URL: u, Type: scan.ResourceDocument, Method: "GET", SizeBytes: 1000},
				{URL: "https://www.googletagmanager.com/gtm.js?id=GTM-1", Type: scan.ResourceScript, Method: "GET", SizeBytes: 40000, IsThirdParty: true},
			},
			DurationMs: 500,
		}, nil
	})
	orch := scanapp.NewOrchestrator(repo, results, capturer, analyzer.New(analyzer.Classifier{}), holder,
		scanapp.WithEvents(bus),
		scanapp.WithMetrics(m),
		scanapp.WithLogger(logger),
	)
	svc := scanapp.NewService(orch, limiter, results, m, logger)

	cfg := Config{
		Scans:   svc,
		Quota:   limiter,
		Catalog: holder,
		Events:  bus,
		Metrics: m,
		HealthChecks: map[string]func(context.Context) error{
			"database": orch.Ping,
		},
		Version:         "test",
		Logger:          logger,
		StreamKeepAlive: 50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(cfg)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Wait(ctx)
	})
	return &testEnv{server: srv, orch: orch, events: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"status": "ok"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected application/json content-type, got %s", got)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestWriteErrorInternal(t *testing.T) {
	s := &Server{cfg: Config{Logger: zaptest.NewLogger(t)}}

	rr := httptest.NewRecorder()
	s.writeError(rr, httptest.NewRequest(http.MethodGet, "/scans", nil), http.StatusInternalServerError, errors.New("boom"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal server error") || strings.Contains(rr.Body.String(), "boom") {
		t.Fatalf("expected sanitized message, got %s", rr.Body.String())
	}
}

func TestWriteErrorClient(t *testing.T) {
	s := &Server{}
	rr := httptest.NewRecorder()
	s.writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, errors.New("bad input"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bad input") {
		t.Fatalf("expected original error message, got %s", rr.Body.String())
	}
}

func TestWriteStreamChunk(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, writeStreamChunk(rr, "scan", map[string]string{"scan_id": "abc"}))
	assert.Equal(t, "event: scan\ndata: {\"scan_id\":\"abc\"}\n\n", rr.Body.String())

	assert.Error(t, writeStreamChunk(&failingWriter{}, "scan", map[string]string{}))
}

type failingWriter struct{}

func (f *failingWriter) Header() http.Header        { return http.Header{} }
func (f *failingWriter) Write([]byte) (int, error)  { return 0, errors.New("write failed") }
func (f *failingWriter) WriteHeader(statusCode int) {}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "3.3.3.3"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "untrusted peer ignores cloudflare header", headers: map[string]string{"CF-Connecting-IP": "1.1.1.1"}, remote: "4.4.4.4:1234", want: "4.4.4.4"},
		{name: "untrusted peer ignores forwarded header", headers: map[string]string{"X-Forwarded-For": "2.2.2.2"}, remote: "4.4.4.4:1234", want: "4.4.4.4"},
		{name: "cloudflare header from trusted peer", headers: map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, remote: "3.3.3.3:1234", want: "1.1.1.1"},
		{name: "nearest untrusted forwarded hop", headers: map[string]string{"X-Forwarded-For": "9.9.9.9, 2.2.2.2, 10.0.0.1"}, remote: "3.3.3.3:1234", want: "2.2.2.2"},
		{name: "all hops trusted", headers: map[string]string{"X-Forwarded-For": "10.0.0.2, 10.0.0.1"}, remote: "3.3.3.3:1234", want: "10.0.0.2"},
		{name: "trusted peer without headers", remote: "10.1.2.3:1234", want: "10.1.2.3"},
		{name: "remote address", remote: "3.3.3.3:1234", want: "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, trusted))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"192.168.1.7/16", " ::1 ", ""})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "192.168.0.0/16", got[0].String())
	assert.Equal(t, "::1/128", got[1].String())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestRootAndNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "Vela API", body["name"])
	assert.Equal(t, "test", body["version"])

	rr = env.do(t, http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "Route GET /nope not found", body["message"])
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"api": "ok", "database": "ok"}, body["checks"])

	assert.JSONEq(t, `{"ready":true}`, env.do(t, http.MethodGet, "/health/ready", "").Body.String())
	assert.JSONEq(t, `{"live":true}`, env.do(t, http.MethodGet, "/health/live", "").Body.String())
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.HealthChecks["cache"] = func(context.Context) error { return errors.New("down") }
	})

	rr := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "error", checks["cache"])
	assert.Equal(t, "ok", checks["database"])
}

func TestCreateScanValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/scans", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"URL is required"}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/scans", `{"url":"ftp://example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid URL format"}`, rr.Body.String())

	rr = env.do(t, http.MethodDelete, "/scans", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestCreateScanLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/scans", `{"url":"https://shop.example.com/"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "Scan queued successfully", body["message"])
	id := body["id"].(string)
	assert.Equal(t, "/scans/"+id, rr.Header().Get("Location"))
	assert.Equal(t, "3", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Reset"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.orch.Wait(ctx))

	rr = env.do(t, http.MethodGet, "/scans/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap scan.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, scan.StatusCompleted, snap.Status)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, 1, snap.Summary.TotalScripts)

	// A completed scan of the same URL is served from the cache.
	rr = env.do(t, http.MethodPost, "/scans", `{"url":"https://shop.example.com/"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, "Recent scan found in cache", body["message"])

	rr = env.do(t, http.MethodGet, "/scans?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	assert.Len(t, body["scans"], 1)
	assert.Equal(t, map[string]interface{}{"limit": float64(1), "offset": float64(0), "has_more": true}, body["pagination"])
}

func TestCreateScanRateLimited(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		rr := env.do(t, http.MethodPost, "/scans", `{"url":"https://site`+string(rune('a'+i))+`.example.com/"}`)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	}

	rr := env.do(t, http.MethodPost, "/scans", `{"url":"https://sited.example.com/"}`)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded","message":"Please wait before making another request"}`, rr.Body.String())
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func postScanFrom(t *testing.T, env *testEnv, remote, forwarded, pageURL string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/scans", strings.NewReader(`{"url":"`+pageURL+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	req.Header.Set("X-Forwarded-For", forwarded)
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	return rr
}

func TestCreateScanForwardedHeaderFromUntrustedPeer(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		rr := postScanFrom(t, env, "203.0.113.7:5555", fmt.Sprintf("10.0.0.%d", i+1), fmt.Sprintf("https://site%d.example.com/", i))
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	}

	rr := postScanFrom(t, env, "203.0.113.7:5555", "10.0.0.99", "https://site99.example.com/")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
}

func TestCreateScanForwardedHeaderFromTrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"203.0.113.7"})
	require.NoError(t, err)
	env := newTestEnv(t, func(cfg *Config) { cfg.TrustedProxies = trusted })

	for i := 0; i < 4; i++ {
		rr := postScanFrom(t, env, "203.0.113.7:5555", fmt.Sprintf("198.51.100.%d", i+1), fmt.Sprintf("https://site%d.example.com/", i))
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestGetScanErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/scans/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid scan ID format"}`, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/scans/6f1c2a8e-4b7d-4c3e-9a51-2d8f0b6e7c19", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Scan not found"}`, rr.Body.String())
}

func TestScanStream(t *testing.T) {
	env := newTestEnv(t, nil)
	env.events.Publish(events.ScanEvent{ScanID: "seed", URL: "https://a.example.com/", Status: scan.StatusCompleted, At: time.Now()})

	ts := httptest.NewServer(env.server)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/scans-stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() events.ScanEvent {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var ev events.ScanEvent
				require.NoError(t, json.Unmarshal([]byte(data), &ev))
				return ev
			}
		}
	}

	seeded := readEvent()
	assert.Equal(t, "seed", seeded.ScanID)

	env.events.Publish(events.ScanEvent{ScanID: "live", URL: "https://b.example.com/", Status: scan.StatusRunning, At: time.Now()})
	live := readEvent()
	assert.Equal(t, "live", live.ScanID)
	assert.Equal(t, scan.StatusRunning, live.Status)
}

func TestAuthToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.AuthToken = "secret" })

	rr := env.do(t, http.MethodGet, "/scans", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	req.Header.Set("X-Auth-Token", "secret")
	rr = httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// health stays open
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.CORSOrigins = []string{"https://app.example.com"} })

	req := httptest.NewRequest(http.MethodOptions, "/scans", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/scans", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.RateLimit = 1
		cfg.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/health/live", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/health/live", "")

	rr := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `vela_http_request_duration_seconds_count{method="GET",route="/health/live",status="200"} 1`)
}
