package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// envelopeVersion is bumped when the envelope shape changes incompatibly.
const envelopeVersion = 1

// ActorRef names the company behind an event and the surface it came from.
type ActorRef struct {
	CompanyID uuid.UUID `json:"companyId"`
	Source    string    `json:"source,omitempty"`
}

// PayloadEnvelope is stored in outbox_events.payload and published unchanged.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(event DomainEvent, data json.RawMessage) PayloadEnvelope {
	version := event.Version
	if version <= 0 {
		version = envelopeVersion
	}
	return PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		EventType:  string(event.EventType),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	}
}
