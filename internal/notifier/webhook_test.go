package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelayMs: 1,
		MaxDelayMs:     5,
		Multiplier:     2.0,
	}
}

func TestWebhookDelivery(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))

		mu.Lock()
		received = append(received, event)
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(WebhookConfig{
		URL:     server.URL,
		Timeout: time.Second,
		Workers: 1,
		Retry:   fastRetry(),
	})

	webhook.Publish(SessionEvent(EventScheduledSessionStarted, "abc123"))
	webhook.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventScheduledSessionStarted, received[0].Type)
	assert.Equal(t, "abc123", received[0].Data["session_id"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		failing := attempts < 3
		mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(WebhookConfig{
		URL:     server.URL,
		Timeout: time.Second,
		Workers: 1,
		Retry:   fastRetry(),
	})

	webhook.Publish(SessionEvent(EventSessionStarted, "abc123"))
	webhook.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, attempts)
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	webhook := NewWebhook(WebhookConfig{
		URL:     server.URL,
		Timeout: time.Second,
		Workers: 1,
		Retry:   fastRetry(),
	})

	webhook.Publish(SessionEvent(EventSessionStopped, "abc123"))
	webhook.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestWebhookCloseIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(WebhookConfig{
		URL:     server.URL,
		Timeout: time.Second,
		Retry:   fastRetry(),
	})

	webhook.Close()
	webhook.Close()
}

func TestFailureEvent(t *testing.T) {
	event := FailureEvent("abc123", "unit start timed out")

	assert.Equal(t, EventScheduledSessionFailed, event.Type)
	assert.Equal(t, "abc123", event.Data["session_id"])
	assert.Equal(t, "unit start timed out", event.Data["reason"])
}
