// Package idempotency remembers which outbox events a relay already delivered so a
// crash between publish and commit does not fan the same event out twice.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fieldops-backend/pkg/redis"
)

// Guard claims event ids per relay using SETNX with a TTL. Keys follow
// `fo:idempotency:relay:<relay>:<event_id>`.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// Claim returns true when this call is the first to see eventID for relay.
func (g *Guard) Claim(ctx context.Context, relay string, eventID uuid.UUID) (bool, error) {
	key, err := g.key(relay, eventID)
	if err != nil {
		return false, err
	}
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release forgets a claim so a failed delivery can be retried.
func (g *Guard) Release(ctx context.Context, relay string, eventID uuid.UUID) error {
	key, err := g.key(relay, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(relay string, eventID uuid.UUID) (string, error) {
	if relay == "" {
		return "", errors.New("relay name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("relay:"+relay, eventID.String()), nil
}
