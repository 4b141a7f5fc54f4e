package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope POSTed to the outbound endpoint.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// DeliveryAttempt records the last attempt made for an event.
type DeliveryAttempt struct {
	EventID      string        `json:"event_id"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body"`
	Duration     time.Duration `json:"duration_ns"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"` // "success", "failed"
	Error        string        `json:"error,omitempty"`
}

type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithRetryDelays sets the wait before each retry. Its length is the number
// of retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

// Dispatcher posts signed events to a single configured endpoint.
type Dispatcher struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

func NewDispatcher(url, secret string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		url:         url,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send delivers an event of eventType carrying payload, retrying on transport
// errors and 5xx responses. It returns the last attempt and an error when no
// attempt succeeded.
func (d *Dispatcher) Send(ctx context.Context, eventType string, payload interface{}) (*DeliveryAttempt, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook event: %w", err)
	}

	var attempt *DeliveryAttempt
	for i := 0; ; i++ {
		attempt = d.deliver(ctx, ev, body)
		attempt.Attempt = i + 1
		if attempt.Status == "success" {
			return attempt, nil
		}
		if i >= len(d.retryDelays) || (attempt.StatusCode >= 400 && attempt.StatusCode < 500) {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("webhook delivery to %s: %w", d.url, ctx.Err())
		case <-time.After(d.retryDelays[i]):
		}
	}
	return attempt, fmt.Errorf("webhook delivery to %s failed after %d attempt(s): %s", d.url, attempt.Attempt, attempt.Error)
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event, body []byte) *DeliveryAttempt {
	attempt := &DeliveryAttempt{EventID: ev.ID}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		return attempt
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "sha256="+SignPayload(body, d.secret))
	req.Header.Set("X-Webhook-Event", ev.Type)
	req.Header.Set("X-Webhook-Timestamp", ev.Timestamp.Format(time.RFC3339))

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	attempt.Duration = time.Since(start)

	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode

	// Read at most 1KB of response body.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(bodyBytes)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = "success"
	} else {
		attempt.Status = "failed"
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return attempt
}
