package changeorderdraft

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// Coordinator turns a pending change order into an accepted one tied to an invoice.
// It does no invoice math; listeners registered with OnAccepted drop cached invoice
// data so callers re-read the authoritative balance.
type Coordinator struct {
	remote Acceptor
	logg   *logger.Logger
	newKey func() string

	mu        sync.RWMutex
	listeners []func(context.Context, *types.ChangeOrderRecord)
	// attempts holds the idempotency key of each unresolved acceptance, keyed
	// by change order and invoice.
	attempts map[string]string
}

func NewCoordinator(remote Acceptor, logg *logger.Logger) (*Coordinator, error) {
	if remote == nil {
		return nil, errors.New("acceptor is required")
	}
	return &Coordinator{
		remote:   remote,
		logg:     logg,
		newKey:   uuid.NewString,
		attempts: map[string]string{},
	}, nil
}

// OnAccepted registers fn to run after every successful acceptance.
func (c *Coordinator) OnAccepted(fn func(context.Context, *types.ChangeOrderRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) Accept(ctx context.Context, changeOrderID, invoiceID string) (*types.ChangeOrderRecord, error) {
	if changeOrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "change order id is required")
	}
	if invoiceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePrerequisite, "an invoice is required before accepting a change order")
	}

	attempt := changeOrderID + "/" + invoiceID
	key := c.attemptKey(attempt)
	rec, err := c.remote.AcceptChangeOrder(ctx, changeOrderID, types.AcceptChangeOrderPayload{
		InvoiceID:      invoiceID,
		IdempotencyKey: key,
	})
	// Only an unknown outcome keeps the key, so a retry replays the original request.
	if err == nil || !isUnknownOutcome(err) {
		c.forgetAttempt(attempt)
	}
	if err != nil {
		if c.logg != nil {
			c.logg.Error(c.logg.WithChangeOrderID(ctx, changeOrderID), "accept change order failed", err)
		}
		return nil, pkgerrors.WrapDependency(err, "accept change order")
	}
	if rec == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "quote store returned no change order")
	}

	c.mu.RLock()
	listeners := append([]func(context.Context, *types.ChangeOrderRecord){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, rec)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithFields(ctx, map[string]any{"change_order_id": rec.ID, "invoice_id": invoiceID}), "change order accepted")
	}
	return rec, nil
}

func (c *Coordinator) attemptKey(attempt string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	key, ok := c.attempts[attempt]
	if !ok {
		key = c.newKey()
		c.attempts[attempt] = key
	}
	return key
}

func (c *Coordinator) forgetAttempt(attempt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, attempt)
}

// isUnknownOutcome reports failures after which the store may still have
// applied the acceptance.
func isUnknownOutcome(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	switch typed.Code() {
	case pkgerrors.CodeDependency, pkgerrors.CodeIdempotency:
		return true
	default:
		return false
	}
}
