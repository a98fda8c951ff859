package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/pkg/config"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	changeOrderID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.ChangeOrderAcceptedEvent{
		ChangeOrderID: changeOrderID,
		QuoteID:       uuid.New(),
		InvoiceID:     uuid.New(),
		Total:         decimal.RequireFromString("125.50"),
	})

	event := models.OutboxEvent{
		EventType:     enums.EventChangeOrderAccepted,
		AggregateType: enums.AggregateChangeOrder,
		AggregateID:   changeOrderID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Channel != "fieldops.change_order_accepted" {
		t.Fatalf("unexpected channel %q", resolved.Descriptor.Channel)
	}
	payload, ok := resolved.Payload.(*payloads.ChangeOrderAcceptedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.ChangeOrderID != changeOrderID || !payload.Total.Equal(decimal.RequireFromString("125.5")) {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	good := mustEnvelope(t, mustMarshal(t, payloads.QuoteSavedEvent{QuoteID: uuid.New()}))

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name:  "unknown event",
			event: models.OutboxEvent{EventType: "quote_exploded", AggregateType: enums.AggregateQuote, AggregateID: uuid.New(), Payload: good},
		},
		{
			name:  "aggregate mismatch",
			event: models.OutboxEvent{EventType: enums.EventQuoteSaved, AggregateType: enums.AggregateInvoice, AggregateID: uuid.New(), Payload: good},
		},
		{
			name:  "missing aggregate id",
			event: models.OutboxEvent{EventType: enums.EventQuoteSaved, AggregateType: enums.AggregateQuote, Payload: good},
		},
		{
			name:  "garbage envelope",
			event: models.OutboxEvent{EventType: enums.EventQuoteSaved, AggregateType: enums.AggregateQuote, AggregateID: uuid.New(), Payload: json.RawMessage(`{`)},
		},
		{
			name:  "null data",
			event: models.OutboxEvent{EventType: enums.EventQuoteSaved, AggregateType: enums.AggregateQuote, AggregateID: uuid.New(), Payload: mustEnvelope(t, []byte("null"))},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Resolve(tt.event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresPrefix(t *testing.T) {
	if _, err := NewEventRegistry(config.OutboxConfig{ChannelPrefix: " . "}); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
}

func TestChannelsCoverEveryEventType(t *testing.T) {
	reg := newTestEventRegistry(t)
	channels := reg.Channels()
	want := []string{
		"fieldops.change_order_accepted",
		"fieldops.change_order_discarded",
		"fieldops.change_order_upserted",
		"fieldops.invoice_created",
		"fieldops.invoice_recalculated",
		"fieldops.quote_saved",
	}
	if len(channels) != len(want) {
		t.Fatalf("unexpected channels %v", channels)
	}
	for i := range want {
		if channels[i] != want[i] {
			t.Fatalf("unexpected channels %v", channels)
		}
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.OutboxConfig{ChannelPrefix: "fieldops."})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func mustEnvelope(t *testing.T, data []byte) json.RawMessage {
	t.Helper()
	return mustMarshal(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       data,
	})
}
