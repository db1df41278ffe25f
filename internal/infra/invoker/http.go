package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/resilience/metrics"
)

// DefaultTimeout bounds a single redelivery request.
const DefaultTimeout = 10 * time.Second

// Stats summarizes the calls made through one invoker.
type Stats struct {
	Requests      int
	Failures      int
	ErrorRate     float64
	AvgLatency    time.Duration
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// HTTPInvoker redelivers a capability call as a JSON POST to the capability's endpoint.
type HTTPInvoker struct {
	name       string
	endpoint   string
	httpClient *http.Client

	mu           sync.RWMutex
	stats        Stats
	totalLatency time.Duration
}

// NewHTTPInvoker creates an invoker for one capability endpoint.
func NewHTTPInvoker(name, endpoint string, timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPInvoker{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type invokeRequest struct {
	Capability   domain.Capability `json:"capability"`
	RequestID    string            `json:"request_id"`
	UserID       string            `json:"user_id,omitempty"`
	AttemptCount int               `json:"attempt_count"`
	Refs         map[string]string `json:"refs,omitempty"`
}

// Invoke posts the invocation. Non-2xx answers become *domain.CapabilityError
// carrying the status so the classifier can map them.
func (h *HTTPInvoker) Invoke(ctx context.Context, capability domain.Capability, inv domain.Invocation) error {
	start := time.Now()
	defer func() {
		metrics.InvokeLatency.WithLabelValues(string(capability)).Observe(time.Since(start).Seconds())
	}()

	requestID := inv.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	jsonData, err := json.Marshal(invokeRequest{
		Capability:   capability,
		RequestID:    requestID,
		UserID:       inv.UserID,
		AttemptCount: inv.AttemptCount,
		Refs:         inv.Refs,
	})
	if err != nil {
		h.recordFailure()
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		h.recordFailure()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", requestID)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.recordFailure()
		return fmt.Errorf("invoke %s: %w", capability, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		h.recordFailure()
		return &domain.CapabilityError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(body)),
		}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	h.recordSuccess(time.Since(start))
	return nil
}

// Name returns the invoker's name.
func (h *HTTPInvoker) Name() string {
	return h.name
}

// Stats returns a snapshot of call statistics.
func (h *HTTPInvoker) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// Close cleans up resources.
func (h *HTTPInvoker) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

func (h *HTTPInvoker) recordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Requests++
	h.totalLatency += latency
	h.stats.LastSuccessAt = time.Now()
	h.refresh()
}

func (h *HTTPInvoker) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Requests++
	h.stats.Failures++
	h.stats.LastFailureAt = time.Now()
	h.refresh()
}

// refresh must be called with mu held.
func (h *HTTPInvoker) refresh() {
	h.stats.ErrorRate = float64(h.stats.Failures) / float64(h.stats.Requests)
	if ok := h.stats.Requests - h.stats.Failures; ok > 0 {
		h.stats.AvgLatency = h.totalLatency / time.Duration(ok)
	}
}
