package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedDelivery struct {
	event     Event
	signature string
	eventType string
}

func TestWebhookSink_Emit(t *testing.T) {
	received := make(chan receivedDelivery, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var event Event
		require.NoError(t, json.Unmarshal(body, &event))
		assert.True(t, VerifySignature("test-secret", body, r.Header.Get("X-Recur-Signature")))

		received <- receivedDelivery{
			event:     event,
			signature: r.Header.Get("X-Recur-Signature"),
			eventType: r.Header.Get("X-Recur-Event"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink()
	require.NoError(t, sink.Register(&Endpoint{URL: server.URL, Secret: "test-secret"}))

	sink.Emit(context.Background(), EventPriceLocked, map[string]any{"subscription_id": float64(5)})

	select {
	case delivery := <-received:
		assert.Equal(t, EventPriceLocked, delivery.event.Type)
		assert.NotEmpty(t, delivery.event.ID)
		assert.Equal(t, "subscription.price_locked", delivery.eventType)
		assert.Equal(t, float64(5), delivery.event.Data["subscription_id"])
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery not received")
	}
}

func TestWebhookSink_TypeFilter(t *testing.T) {
	received := make(chan Type, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&event))
		received <- event.Type
	}))
	defer server.Close()

	sink := NewWebhookSink()
	require.NoError(t, sink.Register(&Endpoint{
		URL:   server.URL,
		Types: []Type{EventOfferAccepted},
	}))

	sink.Emit(context.Background(), EventOfferPresented, nil)
	sink.Emit(context.Background(), EventOfferAccepted, nil)

	select {
	case got := <-received:
		assert.Equal(t, EventOfferAccepted, got)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery not received")
	}

	// The filtered event must not arrive.
	select {
	case got := <-received:
		t.Fatalf("unexpected delivery for %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookSink_Register_RequiresURL(t *testing.T) {
	sink := NewWebhookSink()
	assert.Error(t, sink.Register(&Endpoint{}))
}

func TestEndpoint_Wants(t *testing.T) {
	all := &Endpoint{URL: "http://example.com"}
	assert.True(t, all.wants(EventPlanPublished))
	assert.True(t, all.wants(EventWinbackSent))

	scoped := &Endpoint{URL: "http://example.com", Types: []Type{EventPlanPublished}}
	assert.True(t, scoped.wants(EventPlanPublished))
	assert.False(t, scoped.wants(EventWinbackSent))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"plan.published"}`)
	sig := Sign("secret", payload)

	assert.True(t, VerifySignature("secret", payload, sig))
	assert.False(t, VerifySignature("wrong", payload, sig))
	assert.False(t, VerifySignature("secret", []byte("tampered"), sig))
}

func TestNopSink_Emit(t *testing.T) {
	var sink Sink = NopSink{}
	sink.Emit(context.Background(), EventPlanArchived, nil)
}
