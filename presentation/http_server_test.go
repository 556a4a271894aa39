package presentation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowpilot-go/application"
	"flowpilot-go/application/session"
	"flowpilot-go/core/state"
	"flowpilot-go/domain/generation"
	"flowpilot-go/infrastructure/config"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mu         sync.Mutex
	state      state.SessionState
	result     *generation.Result
	image      []byte
	records    []*generation.Record
	err        error
	lastReq    generation.Request
	refData    [][]byte
	lastLimit  int
	lastScale  string
	lastIndex  int
	lastPrompt string

	// keepReferences leaves the release to the test, like a session that
	// is still working after the caller gave up.
	keepReferences bool
	release        func()
}

func (f *fakeEngine) GenerateRequest(_ context.Context, req generation.Request) (*generation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	// Reference files only live for the duration of the call.
	for _, p := range req.ReferenceImages {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		f.refData = append(f.refData, data)
	}
	if f.keepReferences {
		f.release = req.ReleaseReferences
	} else {
		req.ReleaseReferences()
	}
	return f.result, f.err
}

func (f *fakeEngine) Upscale(_ context.Context, prompt string, index int, scale string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrompt, f.lastIndex, f.lastScale = prompt, index, scale
	return f.image, f.err
}

func (f *fakeEngine) History(_ context.Context, limit int) ([]*generation.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	return f.records, f.err
}

func (f *fakeEngine) State() state.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func newTestServer(engine Engine, cfg config.HTTPConfig) http.Handler {
	return NewHTTPServer(engine, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))).Handler()
}

func defaultHTTPConfig() config.HTTPConfig {
	return config.Default().HTTP
}

func post(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestGenerate(t *testing.T) {
	engine := &fakeEngine{result: &generation.Result{Images: [][]byte{[]byte("img-a"), []byte("img-b")}}}
	h := newTestServer(engine, defaultHTTPConfig())

	ref := base64.StdEncoding.EncodeToString([]byte("reference"))
	rec := post(t, h, "/v1/generate", GenerateBody{Prompt: "a red circle", Images: []string{ref}, TimeoutMs: 5000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp GenerateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Images, 2)
	data, err := base64.StdEncoding.DecodeString(resp.Images[1])
	require.NoError(t, err)
	assert.Equal(t, "img-b", string(data))

	assert.Equal(t, "a red circle", engine.lastReq.Prompt)
	assert.Equal(t, 5000, engine.lastReq.TimeoutMs)
	require.Len(t, engine.refData, 1)
	assert.Equal(t, "reference", string(engine.refData[0]))

	_, err = os.Stat(engine.lastReq.ReferenceImages[0])
	assert.True(t, os.IsNotExist(err), "reference files are removed after the call")
}

func TestGenerate_ReferencesKeptUntilReleased(t *testing.T) {
	engine := &fakeEngine{err: context.Canceled, keepReferences: true}
	h := newTestServer(engine, defaultHTTPConfig())

	ref := base64.StdEncoding.EncodeToString([]byte("reference"))
	rec := post(t, h, "/v1/generate", GenerateBody{Prompt: "a red circle", Images: []string{ref}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	path := engine.lastReq.ReferenceImages[0]
	data, err := os.ReadFile(path)
	require.NoError(t, err, "references must survive the HTTP call")
	assert.Equal(t, "reference", string(data))

	engine.release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestGenerate_BadInput(t *testing.T) {
	engine := &fakeEngine{result: &generation.Result{}}
	h := newTestServer(engine, defaultHTTPConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/generate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/v1/generate", GenerateBody{Prompt: "x", Images: []string{"%%%"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Kind)
}

func TestGenerate_BodyTooLarge(t *testing.T) {
	cfg := defaultHTTPConfig()
	cfg.MaxUploadMB = 1
	h := newTestServer(&fakeEngine{}, cfg)

	big := base64.StdEncoding.EncodeToString(make([]byte, 2<<20))
	rec := post(t, h, "/v1/generate", GenerateBody{Prompt: "x", Images: []string{big}})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"rejected", generation.NewWebsiteRejected(&generation.ErrorEvent{Message: "Something went wrong"}), http.StatusUnprocessableEntity, "Something went wrong"},
		{"access denied", fmt.Errorf("%w (403 Forbidden)", generation.ErrAccessDenied), http.StatusForbidden, ""},
		{"image not found", fmt.Errorf("%w: index 5", generation.ErrImageNotFound), http.StatusNotFound, ""},
		{"generation timeout", generation.ErrGenerationTimeout, http.StatusGatewayTimeout, ""},
		{"download timeout", generation.ErrDownloadTimeout, http.StatusGatewayTimeout, ""},
		{"control not found", generation.ErrControlNotFound, http.StatusBadGateway, ""},
		{"queue full", session.ErrQueueFull, http.StatusTooManyRequests, ""},
		{"no session", application.ErrNoSession, http.StatusServiceUnavailable, ""},
		{"invalid", fmt.Errorf("%w: prompt is required", application.ErrInvalidRequest), http.StatusBadRequest, ""},
		{"fault", generation.Fault("submit", errors.New("selector exploded")), http.StatusInternalServerError, "internal error, see server logs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeEngine{err: tt.err}, defaultHTTPConfig())
			rec := post(t, h, "/v1/generate", GenerateBody{Prompt: "a red circle"})

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Error)
			}
			assert.NotEmpty(t, resp.Kind)
		})
	}
}

func TestUpscale(t *testing.T) {
	engine := &fakeEngine{image: []byte("\x89PNG upscaled")}
	h := newTestServer(engine, defaultHTTPConfig())

	rec := post(t, h, "/v1/upscale", UpscaleBody{Prompt: "a red circle", Index: 1, Scale: "2K"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG upscaled", rec.Body.String())
	assert.Equal(t, 1, engine.lastIndex)
	assert.Equal(t, "2K", engine.lastScale)
}

func TestHistory(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	engine := &fakeEngine{records: []*generation.Record{{
		ID:          "r1",
		Operation:   generation.OpGenerate,
		Prompt:      "a red circle",
		ResultCount: 2,
		Outcome:     "ok",
		StartedAt:   started,
		Duration:    1500 * time.Millisecond,
	}}}
	h := newTestServer(engine, defaultHTTPConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history?limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []HistoryEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "generate", entries[0].Operation)
	assert.Equal(t, int64(1500), entries[0].DurationMs)
	assert.Equal(t, maxHistoryLimit, engine.lastLimit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		state      state.SessionState
		wantStatus int
		wantReady  bool
	}{
		{state.StateReady, http.StatusOK, true},
		{state.StateBusy, http.StatusOK, false},
		{state.StateIdle, http.StatusServiceUnavailable, false},
		{state.StateStopped, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := newTestServer(&fakeEngine{state: tt.state}, defaultHTTPConfig())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.state.String(), resp.State)
			assert.Equal(t, tt.wantReady, resp.Ready)
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := defaultHTTPConfig()
	cfg.RatePerMinute = 1
	cfg.Burst = 2
	h := newTestServer(&fakeEngine{result: &generation.Result{}}, cfg)

	for i := 0; i < 2; i++ {
		rec := post(t, h, "/v1/generate", GenerateBody{Prompt: "a red circle"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := post(t, h, "/v1/generate", GenerateBody{Prompt: "a red circle"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec).Kind)

	// Reads are not limited.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakeEngine{state: state.StateReady}, defaultHTTPConfig())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `flowpilot_http_requests_total{route="/healthz",status="200"}`)
}
