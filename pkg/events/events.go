package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopcart/recur/pkg/async"
)

// Type represents the type of an outbound engine event
type Type string

const (
	EventPlanPublished          Type = "plan.published"
	EventPlanArchived           Type = "plan.archived"
	EventLoyaltyUpgraded        Type = "subscription.loyalty_upgraded"
	EventPriceLocked            Type = "subscription.price_locked"
	EventPriceLockExpired       Type = "subscription.price_lock_expired"
	EventEarlyRenewal           Type = "subscription.early_renewal"
	EventOfferPresented         Type = "retention.offer_presented"
	EventOfferAccepted          Type = "retention.offer_accepted"
	EventOfferDeclined          Type = "retention.offer_declined"
	EventOfferExpired           Type = "retention.offer_expired"
	EventWinbackSent            Type = "winback.offer_sent"
	EventSubscriptionReactivate Type = "subscription.reactivated"
)

// Event is one outbound notification. Delivery guarantees are the
// receiver's concern; the engine only emits after a committed state change.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives engine events. Emit must never block request handling;
// implementations deliver asynchronously.
type Sink interface {
	Emit(ctx context.Context, eventType Type, data map[string]any)
}

// NopSink discards all events
type NopSink struct{}

// Emit discards the event
func (NopSink) Emit(ctx context.Context, eventType Type, data map[string]any) {}

// Endpoint is a registered webhook receiver
type Endpoint struct {
	URL    string
	Secret string
	Types  []Type
}

// wants reports whether the endpoint subscribed to the event type; an
// empty Types list means all events
func (e *Endpoint) wants(t Type) bool {
	if len(e.Types) == 0 {
		return true
	}
	for _, want := range e.Types {
		if want == t {
			return true
		}
	}
	return false
}

// WebhookSink delivers events to registered HTTP endpoints with
// HMAC-SHA256 payload signing and bounded retries
type WebhookSink struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	client    *http.Client
	retries   int
}

// NewWebhookSink creates a new WebhookSink
func NewWebhookSink() *WebhookSink {
	return &WebhookSink{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		retries: 3,
	}
}

// Register adds a webhook endpoint
func (s *WebhookSink) Register(endpoint *Endpoint) error {
	if endpoint.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints = append(s.endpoints, endpoint)
	return nil
}

// Emit delivers the event to all interested endpoints asynchronously
func (s *WebhookSink) Emit(ctx context.Context, eventType Type, data map[string]any) {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, endpoint := range s.endpoints {
		if !endpoint.wants(eventType) {
			continue
		}
		endpoint := endpoint
		// Deliveries outlive the request that triggered them.
		async.SafeGo(context.Background(), time.Minute, "webhook delivery", func(ctx context.Context) error {
			return s.deliver(ctx, endpoint, event)
		})
	}
}

// deliver posts the event with retry; delivery is best-effort
func (s *WebhookSink) deliver(ctx context.Context, endpoint *Endpoint, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = s.post(ctx, endpoint, event, payload); err == nil {
			return nil
		}
	}
	return fmt.Errorf("delivery to %s failed after %d attempts: %w", endpoint.URL, s.retries, err)
}

func (s *WebhookSink) post(ctx context.Context, endpoint *Endpoint, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Recur-Event", string(event.Type))
	req.Header.Set("X-Recur-Delivery", event.ID)
	if endpoint.Secret != "" {
		req.Header.Set("X-Recur-Signature", Sign(endpoint.Secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature of a payload
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a payload signature in constant time
func VerifySignature(secret string, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}
