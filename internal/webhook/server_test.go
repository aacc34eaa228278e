package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopatch-dev/autopatch/internal/ingest"
	"github.com/autopatch-dev/autopatch/internal/ledger"
)

const testSecret = "s3cret"

const pullRequestBody = `{
  "action": "opened",
  "pull_request": {
    "number": 42,
    "head": {"sha": "feedface00", "ref": "feature/login"},
    "base": {"sha": "cafebabe11"}
  },
  "repository": {
    "name": "shop",
    "clone_url": "https://github.com/acme/shop.git",
    "owner": {"login": "acme"}
  }
}`

type recordingHandler struct {
	mu     sync.Mutex
	events []ingest.Event
	seen   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, 8)}
}

func (h *recordingHandler) HandleEvent(_ context.Context, event ingest.Event) {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	h.seen <- struct{}{}
}

func (h *recordingHandler) waitForEvent(t *testing.T) ingest.Event {
	t.Helper()
	select {
	case <-h.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the event")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T) (*Server, *recordingHandler) {
	t.Helper()
	handler := newRecordingHandler()
	led := ledger.New(ledger.NewMemoryStore(), hclog.NewNullLogger())
	return New(testSecret, led, handler, hclog.NewNullLogger()), handler
}

func deliver(s *Server, body []byte, deliveryID string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(ingest.SignatureHeader, sign(testSecret, body))
	req.Header.Set(ingest.EventHeader, "pull_request")
	req.Header.Set(ingest.DeliveryHeader, deliveryID)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestWebhookAcceptsValidDelivery(t *testing.T) {
	s, handler := newTestServer(t)

	rec := deliver(s, []byte(pullRequestBody), "delivery-1", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted"`)

	event := handler.waitForEvent(t)
	assert.Equal(t, "acme/shop", event.Repository())
	assert.Equal(t, 42, event.ChangeRequest)
	assert.Equal(t, "feedface00", event.HeadSHA)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s, handler := newTestServer(t)

	rec := deliver(s, []byte(pullRequestBody), "delivery-1", func(req *http.Request) {
		req.Header.Set(ingest.SignatureHeader, sign("wrong-secret", []byte(pullRequestBody)))
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, handler.events)
}

func TestWebhookAcknowledgesDuplicateDelivery(t *testing.T) {
	s, handler := newTestServer(t)

	first := deliver(s, []byte(pullRequestBody), "delivery-dup", nil)
	require.Equal(t, http.StatusAccepted, first.Code)
	handler.waitForEvent(t)

	second := deliver(s, []byte(pullRequestBody), "delivery-dup", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), `"duplicate"`)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Len(t, handler.events, 1)
}

func TestWebhookIgnoresDeliveryWithoutID(t *testing.T) {
	s, handler := newTestServer(t)

	rec := deliver(s, []byte(pullRequestBody), "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "delivery identifier")
	assert.Empty(t, handler.events)
}

func TestWebhookIgnoresUnhandledEventTypes(t *testing.T) {
	s, handler := newTestServer(t)

	rec := deliver(s, []byte(pullRequestBody), "delivery-1", func(req *http.Request) {
		req.Header.Set(ingest.EventHeader, "push")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ignored"`)
	assert.Empty(t, handler.events)
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	s, handler := newTestServer(t)

	oversized := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	rec := deliver(s, oversized, "delivery-1", nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, handler.events)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
