// Package registry maps outbox rows to the redis channel they are relayed on and
// validates their payloads before they leave the database.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldops-backend/pkg/config"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox/payloads"
)

// payloadTypes builds an empty data struct per event type for decoding.
var payloadTypes = map[enums.OutboxEventType]func() any{
	enums.EventQuoteSaved:           func() any { return new(payloads.QuoteSavedEvent) },
	enums.EventChangeOrderUpserted:  func() any { return new(payloads.ChangeOrderUpsertedEvent) },
	enums.EventChangeOrderDiscarded: func() any { return new(payloads.ChangeOrderDiscardedEvent) },
	enums.EventChangeOrderAccepted:  func() any { return new(payloads.ChangeOrderAcceptedEvent) },
	enums.EventInvoiceCreated:       func() any { return new(payloads.InvoiceCreatedEvent) },
	enums.EventInvoiceRecalculated:  func() any { return new(payloads.InvoiceRecalculatedEvent) },
}

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Channel        string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	byType map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row the relay must park instead of retrying.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func permanent(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// NewEventRegistry routes each event type to `{prefix}.{event_type}`.
func NewEventRegistry(cfg config.OutboxConfig) (*EventRegistry, error) {
	prefix := strings.Trim(strings.TrimSpace(cfg.ChannelPrefix), ".")
	if prefix == "" {
		return nil, errors.New("outbox channel prefix is required")
	}

	byType := make(map[enums.OutboxEventType]EventDescriptor, len(payloadTypes))
	for _, eventType := range enums.OutboxEventTypes() {
		factory, ok := payloadTypes[eventType]
		if !ok {
			return nil, fmt.Errorf("no payload type for outbox event %s", eventType)
		}
		aggregate, _ := eventType.Aggregate()
		byType[eventType] = EventDescriptor{
			EventType:      eventType,
			AggregateType:  aggregate,
			Channel:        prefix + "." + string(eventType),
			PayloadFactory: factory,
		}
	}
	return &EventRegistry{byType: byType}, nil
}

// Channels lists the channel of every event type in event type order.
func (r *EventRegistry) Channels() []string {
	channels := make([]string, 0, len(r.byType))
	for _, eventType := range enums.OutboxEventTypes() {
		if desc, ok := r.byType[eventType]; ok {
			channels = append(channels, desc.Channel)
		}
	}
	return channels
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure is permanent: retrying an invalid row cannot fix it.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, err := r.descriptorFor(event)
	if err != nil {
		return nil, err
	}
	envelope, err := decodeEnvelope(event)
	if err != nil {
		return nil, err
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, permanent("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func (r *EventRegistry) descriptorFor(event models.OutboxEvent) (EventDescriptor, error) {
	desc, ok := r.byType[event.EventType]
	switch {
	case !ok:
		return EventDescriptor{}, permanent("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return EventDescriptor{}, permanent("event %s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return EventDescriptor{}, permanent("event %s has no aggregate id", event.EventType)
	}
	return desc, nil
}

func decodeEnvelope(event models.OutboxEvent) (outbox.PayloadEnvelope, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return envelope, permanent("decode envelope: %w", err)
	}
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		return envelope, permanent("envelope event id: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return envelope, permanent("payload missing for %s", event.EventType)
	}
	return envelope, nil
}
