// Package webhook delivers processed effect batches to a configured callback
// URL. Payloads are signed with HMAC-SHA256, failed deliveries are retried and
// every attempt is recorded in a delivery log.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/platform/auth"
	"github.com/ehr/docproc/pkg/pagination"
)

// EventDocumentProcessed is sent once per completed processing run.
const EventDocumentProcessed = "document.processed"

// ---------------------------------------------------------------------------
// Domain structs
// ---------------------------------------------------------------------------

// Event is the envelope POSTed to the callback URL.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id"`
	RunID      string          `json:"run_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewEvent wraps payload in a document.processed event.
func NewEvent(documentID, runID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode event payload: %w", err)
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       EventDocumentProcessed,
		DocumentID: documentID,
		RunID:      runID,
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// DeliveryAttempt records a single delivery attempt for an event.
type DeliveryAttempt struct {
	ID           string        `json:"id"`
	EventID      string        `json:"event_id"`
	EventType    string        `json:"event_type"`
	DocumentID   string        `json:"document_id"`
	Signature    string        `json:"signature"`
	StatusCode   int           `json:"status_code"`
	ResponseBody string        `json:"response_body,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	Attempt      int           `json:"attempt"`
	Status       string        `json:"status"` // "success", "failed"
	Error        string        `json:"error,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// DeliveryStore persists delivery attempts.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, attempt *DeliveryAttempt) error
	ListDeliveries(ctx context.Context, limit, offset int) ([]*DeliveryAttempt, int, error)
}

// InMemoryDeliveryStore keeps the most recent attempts, newest first.
type InMemoryDeliveryStore struct {
	mu         sync.RWMutex
	deliveries []*DeliveryAttempt
	capacity   int
}

func NewInMemoryDeliveryStore(capacity int) *InMemoryDeliveryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemoryDeliveryStore{capacity: capacity}
}

func (s *InMemoryDeliveryStore) RecordDelivery(_ context.Context, attempt *DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append([]*DeliveryAttempt{attempt}, s.deliveries...)
	if len(s.deliveries) > s.capacity {
		s.deliveries = s.deliveries[:s.capacity]
	}
	return nil
}

func (s *InMemoryDeliveryStore) ListDeliveries(_ context.Context, limit, offset int) ([]*DeliveryAttempt, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.deliveries)
	if offset >= total {
		return []*DeliveryAttempt{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]*DeliveryAttempt, end-offset)
	copy(out, s.deliveries[offset:end])
	return out, total, nil
}

// ---------------------------------------------------------------------------
// Signature helpers
// ---------------------------------------------------------------------------

// SignPayload computes an HMAC-SHA256 signature of the payload using the given secret,
// returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithRetryDelays sets the wait before each retry; its length is the retry count.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher signs events and POSTs them to a single callback URL.
type Dispatcher struct {
	url         string
	secret      string
	store       DeliveryStore
	httpClient  *http.Client
	retryDelays []time.Duration
	logger      zerolog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewDispatcher validates the callback URL and creates a dispatcher.
func NewDispatcher(rawURL, secret string, store DeliveryStore, opts ...Option) (*Dispatcher, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("callback secret is required")
	}
	d := &Dispatcher{
		url:         rawURL,
		secret:      secret,
		store:       store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
		logger:      zerolog.Nop(),
		sleep:       sleepContext,
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With().Str("component", "webhook").Logger()
	return d, nil
}

// validateWebhookURL checks that the URL is non-empty and uses http or https.
func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Deliver sends the event, retrying transport failures and 5xx responses.
// The last attempt is returned along with an error when none succeeded.
func (d *Dispatcher) Deliver(ctx context.Context, event Event) (*DeliveryAttempt, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	var attempt *DeliveryAttempt
	for n := 1; n <= len(d.retryDelays)+1; n++ {
		attempt = d.deliverOnce(ctx, event, payload, n)
		if attempt.Status == "success" {
			return attempt, nil
		}
		if attempt.StatusCode >= 400 && attempt.StatusCode < 500 {
			break
		}
		if n <= len(d.retryDelays) {
			d.logger.Warn().Str("document_id", event.DocumentID).Int("attempt", n).Str("error", attempt.Error).Msg("retrying callback delivery")
			if err := d.sleep(ctx, d.retryDelays[n-1]); err != nil {
				return attempt, err
			}
		}
	}
	return attempt, fmt.Errorf("callback delivery failed after %d attempt(s): %s", attempt.Attempt, attempt.Error)
}

func (d *Dispatcher) deliverOnce(ctx context.Context, event Event, payload []byte, n int) *DeliveryAttempt {
	sig := SignPayload(payload, d.secret)
	now := time.Now()

	attempt := &DeliveryAttempt{
		ID:         uuid.New().String(),
		EventID:    event.ID,
		EventType:  event.Type,
		DocumentID: event.DocumentID,
		Signature:  sig,
		Attempt:    n,
		CreatedAt:  now,
	}
	defer func() {
		if err := d.store.RecordDelivery(ctx, attempt); err != nil {
			d.logger.Error().Err(err).Msg("failed to record delivery")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = "failed"
		attempt.Error = err.Error()
		return attempt
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	req.Header.Set("X-Webhook-ID", event.ID)
	req.Header.Set("X-Webhook-Timestamp", now.UTC().Format(time.RFC3339))

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

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

// Handler exposes the delivery log.
type Handler struct {
	store DeliveryStore
}

func NewHandler(store DeliveryStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("", auth.RequireRole("admin"))
	admin.GET("/webhooks/deliveries", h.ListDeliveries)
}

// ListDeliveries handles GET /webhooks/deliveries.
func (h *Handler) ListDeliveries(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.store.ListDeliveries(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
