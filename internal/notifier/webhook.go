package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// WebhookConfig holds webhook notifier settings.
type WebhookConfig struct {
	URL       string
	Timeout   time.Duration
	Workers   int
	QueueSize int
	Retry     RetryConfig
}

// Webhook delivers orchestration events to a single observer endpoint through a
// bounded queue drained by a fixed pool of delivery workers. A full queue drops
// the event: the notifier gives no delivery guarantee.
type Webhook struct {
	cfg        WebhookConfig
	httpClient *http.Client
	breaker    *CircuitBreaker
	retry      *RetryStrategy

	queue chan Event
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewWebhook creates a webhook notifier and starts its delivery workers.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	cfg.Retry.SetDefaults()

	w := &Webhook{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(),
		retry:   NewRetryStrategy(cfg.Retry),
		queue:   make(chan Event, cfg.QueueSize),
	}

	slog.Info("Starting notifier workers", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	return w
}

// Publish enqueues an event for delivery. Never blocks; drops when full.
func (w *Webhook) Publish(event Event) {
	select {
	case w.queue <- event:
	default:
		slog.Warn("Notifier queue full, dropping event", "event", event.Type)
	}
}

// Close stops accepting events and waits for in-flight deliveries.
func (w *Webhook) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
}

// worker drains the event queue.
func (w *Webhook) worker(id int) {
	defer w.wg.Done()

	slog.Debug("Notifier worker started", "worker_id", id)

	for event := range w.queue {
		w.dispatch(event)
	}

	slog.Debug("Notifier worker stopped", "worker_id", id)
}

// dispatch delivers one event with retry and circuit breaker protection.
func (w *Webhook) dispatch(event Event) {
	if !w.breaker.CanAttempt() {
		slog.Warn("Circuit breaker is open, skipping event delivery",
			"event", event.Type,
			"circuit_state", w.breaker.GetStateName(),
		)
		return
	}

	for attempt := 1; attempt <= w.retry.GetMaxAttempts(); attempt++ {
		statusCode, err := w.deliver(event)

		if err == nil && statusCode >= 200 && statusCode < 300 {
			slog.Debug("Event delivered",
				"event", event.Type,
				"attempt", attempt,
				"status_code", statusCode,
			)
			w.breaker.RecordSuccess()
			return
		}

		if !w.retry.ShouldRetry(attempt, statusCode, err) {
			slog.Error("Event delivery failed, no retry",
				"event", event.Type,
				"attempt", attempt,
				"status_code", statusCode,
				"error", err,
			)
			w.breaker.RecordFailure()
			return
		}

		if attempt < w.retry.GetMaxAttempts() {
			delay := w.retry.CalculateDelay(attempt)
			slog.Warn("Event delivery failed, retrying",
				"event", event.Type,
				"attempt", attempt,
				"next_retry_ms", delay.Milliseconds(),
				"error", err,
			)
			time.Sleep(delay)
		}
	}

	slog.Error("Event delivery failed after all retries",
		"event", event.Type,
		"attempts", w.retry.GetMaxAttempts(),
	)
	w.breaker.RecordFailure()
}

// deliver performs a single delivery attempt.
func (w *Webhook) deliver(event Event) (int, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return resp.StatusCode, nil
}
