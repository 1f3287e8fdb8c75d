package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/store"
	"remedy-copilot/pkg/types"
	"remedy-copilot/pkg/webhook"
)

const testSecret = "hunter2"

const failedJobPayload = `{
  "action": "completed",
  "workflow_job": {
    "id": 42, "run_id": 100, "run_attempt": 1, "name": "test",
    "status": "completed", "conclusion": "failure",
    "head_sha": "abc123", "head_branch": "main"
  },
  "repository": {"full_name": "acme/app", "clone_url": "https://github.com/acme/app.git"}
}`

type captureDispatcher struct {
	events []*types.PipelineEvent
	err    error
}

func (d *captureDispatcher) Dispatch(event *types.PipelineEvent) error {
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

type failingEventStore struct {
	store.EventStore
}

func (f *failingEventStore) Insert(context.Context, *types.PipelineEvent) (*types.PipelineEvent, bool, error) {
	return nil, false, errors.New("connection refused")
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(events store.EventStore, d Dispatcher) *Server {
	return New(events, webhook.NewRegistry(webhook.Secrets{GitHub: testSecret}), d, prometheus.NewRegistry(), zerolog.Nop())
}

func post(t *testing.T, s *Server, path, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptedThenDuplicate(t *testing.T) {
	dispatcher := &captureDispatcher{}
	s := newTestServer(store.NewMemoryEventStore(), dispatcher)

	first := post(t, s, "/webhooks/github", failedJobPayload, sign(failedJobPayload))
	assert.Equal(t, http.StatusAccepted, first.Code)

	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		EventID string `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.NotEmpty(t, resp.EventID)

	second := post(t, s, "/webhooks/github", failedJobPayload, sign(failedJobPayload))
	assert.Equal(t, http.StatusOK, second.Code)
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp.Status)
	assert.Equal(t, "Duplicate event", resp.Message)

	assert.Len(t, dispatcher.events, 1, "only the first delivery reaches a worker")
}

func TestWebhookBadSignature(t *testing.T) {
	s := newTestServer(store.NewMemoryEventStore(), &captureDispatcher{})
	rec := post(t, s, "/webhooks/github", failedJobPayload, "sha256=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIgnoresNonFailure(t *testing.T) {
	s := newTestServer(store.NewMemoryEventStore(), &captureDispatcher{})
	body := `{"action":"completed","workflow_job":{"id":42,"run_id":100,"conclusion":"success"},"repository":{"full_name":"acme/app"}}`
	rec := post(t, s, "/webhooks/github", body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
}

func TestWebhookMalformedPayload(t *testing.T) {
	s := newTestServer(store.NewMemoryEventStore(), &captureDispatcher{})
	body := `{"action":"completed"}`
	rec := post(t, s, "/webhooks/github", body, sign(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookUnknownProvider(t *testing.T) {
	s := newTestServer(store.NewMemoryEventStore(), &captureDispatcher{})
	rec := post(t, s, "/webhooks/bitbucket", failedJobPayload, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookStorageFailureAsksForRetry(t *testing.T) {
	s := newTestServer(&failingEventStore{}, &captureDispatcher{})
	rec := post(t, s, "/webhooks/github", failedJobPayload, sign(failedJobPayload))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestWebhookQueueFullAsksForRetry(t *testing.T) {
	s := newTestServer(store.NewMemoryEventStore(), &captureDispatcher{err: errors.New("queue full")})
	rec := post(t, s, "/webhooks/github", failedJobPayload, sign(failedJobPayload))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(store.NewMemoryEventStore(), &captureDispatcher{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
