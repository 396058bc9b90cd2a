package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clinic-backend/internal/observability/metrics"
	"clinic-backend/internal/observability/tracing"
	"clinic-backend/internal/resilience"
	"clinic-backend/internal/resilience/circuitbreaker"
)

const (
	providerOpenAI    = "openai"
	providerAnthropic = "anthropic"

	// maxAudioBytes bounds transcription uploads (the provider limit is 25 MB).
	maxAudioBytes = 25 << 20
	maxChatBytes  = 1 << 20
)

type chatter interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// gatewayDeps holds what the handlers need. chat, transcriber and db are
// optional; routes for missing ones answer 503.
type gatewayDeps struct {
	ex          *resilience.Executor
	logger      *slog.Logger
	chat        map[string]chatter
	transcriber transcriber
	db          pinger
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// BreakerHealthResponse is the body of GET /health/breakers.
type BreakerHealthResponse struct {
	Healthy  bool                      `json:"healthy"`
	Breakers []circuitbreaker.Snapshot `json:"breakers"`
}

// ChatRequest is the body of POST /v1/chat/{provider}.
type ChatRequest struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// ChatResponse is returned by POST /v1/chat/{provider}.
type ChatResponse struct {
	Provider string `json:"provider"`
	Reply    string `json:"reply"`
}

// TranscriptionResponse is returned by POST /v1/transcriptions.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// newHandler builds the gateway's routes:
//   - GET  /metrics                      Prometheus metrics
//   - GET  /health                       liveness, always 200
//   - GET  /health/breakers              breaker snapshots, 503 if any is open
//   - GET  /health/db                    database ping through the guard
//   - GET  /stats                        call stats per operation
//   - POST /v1/chat/{provider}           chat completion via openai or anthropic
//   - POST /v1/transcriptions            multipart audio upload ("file")
//   - POST /admin/breakers/{name}/reset  forget one breaker
//   - POST /admin/stats/reset            clear stats (?operation= for one)
func newHandler(d *gatewayDeps) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /health/breakers", d.breakerHealth)
	mux.HandleFunc("GET /health/db", d.dbHealth)
	mux.HandleFunc("GET /stats", d.statsHandler)
	mux.HandleFunc("POST /v1/chat/{provider}", d.chatHandler)
	mux.HandleFunc("POST /v1/transcriptions", d.transcribeHandler)
	mux.HandleFunc("POST /admin/breakers/{name}/reset", d.resetBreaker)
	mux.HandleFunc("POST /admin/stats/reset", d.resetStats)

	// metrics must sit inside tracing: the mux records the matched pattern on
	// the request it receives, and tracing passes down a copy.
	return tracing.Middleware(metrics.Middleware(mux))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (d *gatewayDeps) breakerHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := d.ex.Breakers.Snapshots()

	healthy := true
	for _, s := range snapshots {
		if s.State == circuitbreaker.StateOpen {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, BreakerHealthResponse{Healthy: healthy, Breakers: snapshots})
}

func (d *gatewayDeps) dbHealth(w http.ResponseWriter, r *http.Request) {
	if d.db == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := d.db.PingContext(ctx); err != nil {
		d.logger.WarnContext(ctx, "database health check failed", slog.Any("error", err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (d *gatewayDeps) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.ex.Stats.All())
}

func (d *gatewayDeps) chatHandler(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	client, ok := d.chat[provider]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or unconfigured provider: "+provider)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.User == "" {
		writeError(w, http.StatusBadRequest, "user message is required")
		return
	}

	reply, err := client.Chat(r.Context(), req.System, req.User)
	if err != nil {
		d.logger.ErrorContext(r.Context(), "chat request failed",
			slog.String("provider", provider),
			slog.Any("error", err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Provider: provider, Reply: reply})
}

func (d *gatewayDeps) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if d.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "transcription not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	text, err := d.transcriber.Transcribe(r.Context(), header.Filename, audio)
	if err != nil {
		d.logger.ErrorContext(r.Context(), "transcription failed",
			slog.String("filename", header.Filename),
			slog.Int("bytes", len(audio)),
			slog.Any("error", err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TranscriptionResponse{Text: text})
}

func (d *gatewayDeps) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	d.ex.Breakers.Reset(name)
	d.logger.InfoContext(r.Context(), "circuit breaker reset", slog.String("circuit", name))
	w.WriteHeader(http.StatusNoContent)
}

func (d *gatewayDeps) resetStats(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("operation"); name != "" {
		d.ex.Stats.Reset(name)
	} else {
		d.ex.Stats.ResetAll()
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps a failed upstream call to the gateway's response status.
// Rejections by an open circuit are 503 so callers back off; everything else
// is reported as a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 30
