// Package presentation exposes the engine over an HTTP/JSON API.
package presentation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"flowpilot-go/application"
	"flowpilot-go/application/session"
	"flowpilot-go/core/state"
	"flowpilot-go/domain/generation"
	"flowpilot-go/infrastructure/config"
	"flowpilot-go/infrastructure/logging"
	"flowpilot-go/infrastructure/metrics"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Engine is the part of the coordinator the API serves.
type Engine interface {
	// GenerateRequest takes ownership of req.Release.
	GenerateRequest(ctx context.Context, req generation.Request) (*generation.Result, error)
	Upscale(ctx context.Context, prompt string, index int, scale string) ([]byte, error)
	History(ctx context.Context, limit int) ([]*generation.Record, error)
	State() state.SessionState
}

// HTTPServer serves the generation API.
type HTTPServer struct {
	engine  Engine
	cfg     config.HTTPConfig
	limiter *rate.Limiter
	router  chi.Router
	server  *http.Server
	logger  *slog.Logger
}

// GenerateBody is the JSON body of POST /v1/generate.
type GenerateBody struct {
	Prompt string `json:"prompt"`
	// Images are base64-encoded reference images.
	Images    []string `json:"images,omitempty"`
	TimeoutMs int      `json:"timeout_ms,omitempty"`
}

// GenerateResponse carries base64-encoded PNG images.
type GenerateResponse struct {
	Images []string `json:"images"`
}

// UpscaleBody is the JSON body of POST /v1/upscale.
type UpscaleBody struct {
	Prompt string `json:"prompt"`
	Index  int    `json:"index"`
	Scale  string `json:"scale"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// HealthResponse reports the session state.
type HealthResponse struct {
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

// HistoryEntry is one record in GET /v1/history.
type HistoryEntry struct {
	ID             string    `json:"id"`
	Operation      string    `json:"operation"`
	Prompt         string    `json:"prompt"`
	ReferenceCount int       `json:"reference_count,omitempty"`
	Index          int       `json:"index,omitempty"`
	Scale          string    `json:"scale,omitempty"`
	ResultCount    int       `json:"result_count"`
	ResultBytes    int       `json:"result_bytes"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	DurationMs     int64     `json:"duration_ms"`
}

// NewHTTPServer creates the API server.
func NewHTTPServer(engine Engine, cfg config.HTTPConfig, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	perSecond := rate.Limit(float64(cfg.RatePerMinute) / 60)
	if cfg.RatePerMinute <= 0 {
		perSecond = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	s := &HTTPServer{
		engine:  engine,
		cfg:     cfg,
		limiter: rate.NewLimiter(perSecond, burst),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Group(func(r chi.Router) {
			r.Use(s.admit)
			r.Post("/generate", s.handleGenerate)
			r.Post("/upscale", s.handleUpscale)
		})
	})

	s.router = r
	return s
}

// Handler returns the API router.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until Shutdown.
func (s *HTTPServer) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// observe tags the request logger and counts responses per route.
func (s *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := logging.With(r.Context(), s.logger.With("http_request_id", middleware.GetReqID(r.Context())))
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		if route != "/metrics" && route != "/healthz" {
			logging.From(ctx).Info("HTTP request", "method", r.Method, "route", route, "status", status, "duration", time.Since(start))
		}
	})
}

// admit applies the request rate limit to page operations.
func (s *HTTPServer) admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.State()
	resp := HealthResponse{State: st.String(), Ready: st.CanServe()}
	status := http.StatusOK
	if !st.IsActive() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateBody
	if !s.decode(w, r, &body) {
		return
	}

	req := generation.Request{Prompt: body.Prompt, TimeoutMs: body.TimeoutMs}
	if len(body.Images) > 0 {
		dir, err := os.MkdirTemp("", "flowpilot-refs-*")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		// The session may still be uploading after the client went away,
		// so the files go when the engine releases them.
		req.Release = func() {
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("Failed to remove reference images", "dir", dir, "error", err)
			}
		}

		req.ReferenceImages, err = writeReferences(dir, body.Images)
		if err != nil {
			req.ReleaseReferences()
			s.fail(w, r, fmt.Errorf("%w: %v", application.ErrInvalidRequest, err))
			return
		}
	}

	res, err := s.engine.GenerateRequest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := GenerateResponse{Images: make([]string, len(res.Images))}
	for i, img := range res.Images {
		resp.Images[i] = base64.StdEncoding.EncodeToString(img)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleUpscale(w http.ResponseWriter, r *http.Request) {
	var body UpscaleBody
	if !s.decode(w, r, &body) {
		return
	}

	data, err := s.engine.Upscale(r.Context(), body.Prompt, body.Index, body.Scale)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer", Kind: "invalid_request"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	entries := make([]HistoryEntry, len(records))
	for i, rec := range records {
		entries[i] = HistoryEntry{
			ID:             rec.ID,
			Operation:      string(rec.Operation),
			Prompt:         rec.Prompt,
			ReferenceCount: rec.ReferenceCount,
			Index:          rec.Index,
			Scale:          string(rec.Scale),
			ResultCount:    rec.ResultCount,
			ResultBytes:    rec.ResultBytes,
			Outcome:        rec.Outcome,
			Error:          rec.ErrorMessage,
			StartedAt:      rec.StartedAt,
			DurationMs:     rec.Duration.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	limit := int64(s.cfg.MaxUploadMB) << 20
	if limit <= 0 {
		limit = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large", Kind: "invalid_request"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error(), Kind: "invalid_request"})
		return false
	}
	return true
}

// fail writes err with the status its kind maps to. Unexpected errors are
// logged and answered with a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := StatusFor(err)
	msg := err.Error()
	if rejected, ok := generation.RejectionMessage(err); ok {
		msg = rejected
	}
	if status == http.StatusInternalServerError {
		logging.From(r.Context()).Error("Request failed", "error", err)
		msg = "internal error, see server logs"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

// StatusFor maps an engine error to an HTTP status and a short kind label.
func StatusFor(err error) (int, string) {
	var rejected *generation.WebsiteRejectedError
	switch {
	case errors.Is(err, application.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, generation.Classify(err)
	case errors.Is(err, generation.ErrAccessDenied):
		return http.StatusForbidden, generation.Classify(err)
	case errors.Is(err, generation.ErrImageNotFound):
		return http.StatusNotFound, generation.Classify(err)
	case errors.Is(err, generation.ErrGenerationTimeout), errors.Is(err, generation.ErrDownloadTimeout):
		return http.StatusGatewayTimeout, generation.Classify(err)
	case errors.Is(err, generation.ErrControlNotFound):
		return http.StatusBadGateway, generation.Classify(err)
	case errors.Is(err, session.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, application.ErrNoSession), errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrSessionStopped):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded"
	default:
		return http.StatusInternalServerError, generation.Classify(err)
	}
}

// writeReferences decodes base64 images into dir and returns their paths in order.
func writeReferences(dir string, images []string) ([]string, error) {
	paths := make([]string, 0, len(images))
	for i, encoded := range images {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("image %d is not valid base64: %w", i, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("image %d is empty", i)
		}
		path := filepath.Join(dir, fmt.Sprintf("reference_%d.png", i))
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
