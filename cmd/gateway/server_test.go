package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-backend/internal/config"
	"clinic-backend/internal/resilience"
	"clinic-backend/internal/resilience/circuitbreaker"
	"clinic-backend/internal/resilience/retry"
)

type fakeChatter struct {
	reply      string
	err        error
	gotSystem  string
	gotUser    string
	callsCount int
}

func (f *fakeChatter) Chat(_ context.Context, system, user string) (string, error) {
	f.callsCount++
	f.gotSystem, f.gotUser = system, user
	return f.reply, f.err
}

type fakeTranscriber struct {
	gotName  string
	gotAudio []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, filename string, audio []byte) (string, error) {
	f.gotName, f.gotAudio = filename, audio
	return "Patient reports improved sleep.", nil
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func newTestDeps() *gatewayDeps {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &gatewayDeps{ex: resilience.New(logger), logger: logger}
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func openBreaker(t *testing.T, ex *resilience.Executor, name string) {
	t.Helper()
	_, err := circuitbreaker.Execute(context.Background(), ex.Breakers, name,
		func(context.Context) (int, error) { return 0, errors.New("upstream down") },
		circuitbreaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	rec := serve(t, newHandler(newTestDeps()), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestBreakerHealth(t *testing.T) {
	d := newTestDeps()
	h := newHandler(d)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/health/breakers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"healthy":true,"breakers":[]}`, rec.Body.String())

	openBreaker(t, d.ex, config.OperationAnthropicChat)

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/health/breakers", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body BreakerHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Healthy)
	require.Len(t, body.Breakers, 1)
	assert.Equal(t, config.OperationAnthropicChat, body.Breakers[0].Name)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)
}

func TestDBHealth(t *testing.T) {
	tests := []struct {
		name   string
		db     pinger
		status int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"healthy", fakePinger{}, http.StatusOK},
		{"ping failed", fakePinger{err: errors.New("connection refused")}, http.StatusBadGateway},
		{"circuit open", fakePinger{err: &circuitbreaker.CircuitOpenError{Name: "database", State: circuitbreaker.StateOpen}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps()
			d.db = tt.db

			rec := serve(t, newHandler(d), httptest.NewRequest(http.MethodGet, "/health/db", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestStats(t *testing.T) {
	d := newTestDeps()
	h := newHandler(d)

	rec := serve(t, h, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())

	d.ex.Stats.Track(config.OperationOpenAIChat, true, 1)
	d.ex.Stats.Track(config.OperationOpenAIChat, false, 2)

	rec = serve(t, h, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{
		"name": "openai.chat",
		"total_calls": 2,
		"successful_calls": 1,
		"failed_calls": 1,
		"total_retries": 3,
		"average_retries": 1.5
	}]`, rec.Body.String())
}

func TestChat(t *testing.T) {
	claude := &fakeChatter{reply: "Drink plenty of fluids."}
	d := newTestDeps()
	d.chat = map[string]chatter{providerAnthropic: claude}
	h := newHandler(d)

	body := `{"system":"You are a triage nurse.","user":"I have a mild fever."}`
	rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/v1/chat/anthropic", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"provider":"anthropic","reply":"Drink plenty of fluids."}`, rec.Body.String())
	assert.Equal(t, "You are a triage nurse.", claude.gotSystem)
	assert.Equal(t, "I have a mild fever.", claude.gotUser)
}

func TestChat_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		body     string
		err      error
		status   int
	}{
		{"unknown provider", "gemini", `{"user":"hi"}`, nil, http.StatusNotFound},
		{"invalid json", providerOpenAI, `{`, nil, http.StatusBadRequest},
		{"missing user", providerOpenAI, `{"system":"x"}`, nil, http.StatusBadRequest},
		{"upstream failure", providerOpenAI, `{"user":"hi"}`, &retry.StatusError{StatusCode: 500, Message: "boom"}, http.StatusBadGateway},
		{"circuit open", providerOpenAI, `{"user":"hi"}`, &circuitbreaker.CircuitOpenError{Name: "openai.chat", State: circuitbreaker.StateOpen}, http.StatusServiceUnavailable},
		{"timeout", providerOpenAI, `{"user":"hi"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps()
			d.chat = map[string]chatter{providerOpenAI: &fakeChatter{err: tt.err}}

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/"+tt.provider, strings.NewReader(tt.body))
			rec := serve(t, newHandler(d), req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "30", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	fake := &fakeTranscriber{}
	d := newTestDeps()
	d.transcriber = fake

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "visit.m4a")
	require.NoError(t, err)
	_, err = part.Write([]byte("audio-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := serve(t, newHandler(d), req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"text":"Patient reports improved sleep."}`, rec.Body.String())
	assert.Equal(t, "visit.m4a", fake.gotName)
	assert.Equal(t, []byte("audio-bytes"), fake.gotAudio)
}

func TestTranscribe_Errors(t *testing.T) {
	rec := serve(t, newHandler(newTestDeps()),
		httptest.NewRequest(http.MethodPost, "/v1/transcriptions", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d := newTestDeps()
	d.transcriber = &fakeTranscriber{}
	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", strings.NewReader("not multipart"))
	rec = serve(t, newHandler(d), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminReset(t *testing.T) {
	d := newTestDeps()
	h := newHandler(d)

	openBreaker(t, d.ex, config.OperationDatabase)
	d.ex.Stats.Track(config.OperationDatabase, false, 0)
	d.ex.Stats.Track(config.OperationOpenAIChat, true, 0)

	rec := serve(t, h, httptest.NewRequest(http.MethodPost, "/admin/breakers/database/reset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := d.ex.Breakers.Status(config.OperationDatabase)
	assert.False(t, ok)

	rec = serve(t, h, httptest.NewRequest(http.MethodPost, "/admin/stats/reset?operation=database", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{config.OperationOpenAIChat}, d.ex.Stats.Names())

	rec = serve(t, h, httptest.NewRequest(http.MethodPost, "/admin/stats/reset", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, d.ex.Stats.Names())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(t, newHandler(newTestDeps()), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_in_flight")
}

func TestNewExecutor(t *testing.T) {
	cfg := &config.ResilienceConfig{
		DefaultBreaker: circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute},
		Policies:       config.DefaultOperationPolicies(),
		Breakers:       config.DefaultOperationBreakers(),
	}

	ex := newExecutor(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, retry.TranscriptionPolicy().MaxRetries, ex.Policies[config.OperationOpenAITranscribe].MaxRetries)
	assert.Equal(t, circuitbreaker.DatabaseConfig(), ex.BreakerConfigs[config.OperationDatabase])

	_, err := circuitbreaker.Execute(context.Background(), ex.Breakers, "custom.op",
		func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	s, ok := ex.Breakers.Status("custom.op")
	require.True(t, ok)
	assert.Equal(t, uint32(2), s.FailureThreshold, "unknown operations use the configured default")
}
