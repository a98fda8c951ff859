package changeorders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/internal/pricing"
	dbpkg "github.com/angelmondragon/fieldops-backend/pkg/db"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/metrics"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fieldops-backend/pkg/redis"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

const defaultLockTTL = 10 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type invoiceReconciler interface {
	RecalculateTx(ctx context.Context, tx *gorm.DB, companyID, invoiceID uuid.UUID) (*models.Invoice, error)
	Invalidate(ctx context.Context, quoteID uuid.UUID)
}

// Service exposes change-order persistence and acceptance.
type Service interface {
	Upsert(ctx context.Context, companyID uuid.UUID, payload types.ChangeOrderPayload) (*types.ChangeOrderRecord, error)
	Discard(ctx context.Context, companyID, changeOrderID uuid.UUID) error
	Accept(ctx context.Context, companyID, changeOrderID uuid.UUID, invoiceID uuid.UUID) (*types.ChangeOrderRecord, error)
	ListByDeal(ctx context.Context, companyID, dealID uuid.UUID) ([]types.ChangeOrderRecord, error)
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxEmitter
	Invoices invoiceReconciler
	Locker   redis.Locker
	LockTTL  time.Duration
	Logger   *logger.Logger
	Metrics  *metrics.OperationMetrics
	Now      func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxEmitter
	invoices invoiceReconciler
	locker   redis.Locker
	lockTTL  time.Duration
	logg     *logger.Logger
	metrics  *metrics.OperationMetrics
	now      func() time.Time
}

// NewService builds a change-order service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("change order repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice reconciler required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	ttl := params.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		invoices: params.Invoices,
		locker:   params.Locker,
		lockTTL:  ttl,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// Upsert replaces the single pending change order of a quote, creating it when absent.
func (s *service) Upsert(ctx context.Context, companyID uuid.UUID, payload types.ChangeOrderPayload) (*types.ChangeOrderRecord, error) {
	start := time.Now()
	rec, err := s.upsert(ctx, companyID, payload)
	s.metrics.Track("change_order_upsert", start, err)
	return rec, err
}

func (s *service) upsert(ctx context.Context, companyID uuid.UUID, payload types.ChangeOrderPayload) (*types.ChangeOrderRecord, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	if payload.CompanyID != "" && payload.CompanyID != companyID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "change order belongs to another company")
	}
	quoteID, err := parseID(payload.QuoteID, "quote id")
	if err != nil {
		return nil, err
	}
	dealID, err := parseID(payload.DealID, "deal id")
	if err != nil {
		return nil, err
	}
	var invoiceID *uuid.UUID
	if payload.InvoiceID != nil && strings.TrimSpace(*payload.InvoiceID) != "" {
		id, err := parseID(*payload.InvoiceID, "invoice id")
		if err != nil {
			return nil, err
		}
		invoiceID = &id
	}
	number := strings.TrimSpace(payload.ChangeOrderNumber)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "change order number is required")
	}
	items, err := buildItems(payload.Items)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	defer release()

	var saved *models.ChangeOrder
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		quote, err := repo.FindQuote(ctx, companyID, quoteID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
		}
		if err != nil {
			return err
		}
		if quote.DealID != dealID {
			return pkgerrors.New(pkgerrors.CodeValidation, "quote belongs to another deal")
		}
		if quote.Status != enums.QuoteStatusAccepted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "change orders require an accepted quote")
		}
		if invoiceID != nil {
			if err := s.checkInvoice(ctx, repo, companyID, *invoiceID, quote.ID); err != nil {
				return err
			}
		}

		total := itemsTotal(items)
		order, err := repo.FindPendingByQuote(ctx, quote.ID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			order = &models.ChangeOrder{
				CompanyID:         companyID,
				DealID:            quote.DealID,
				QuoteID:           quote.ID,
				InvoiceID:         invoiceID,
				ChangeOrderNumber: number,
				Status:            enums.ChangeOrderStatusPending,
				Total:             total,
			}
			if err := repo.Create(ctx, order); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			order.ChangeOrderNumber = number
			order.Total = total
			if invoiceID != nil {
				order.InvoiceID = invoiceID
			}
			if err := repo.Update(ctx, order); err != nil {
				return err
			}
		}
		if err := repo.ReplaceItems(ctx, order.ID, items); err != nil {
			return err
		}

		saved, err = repo.FindByID(ctx, companyID, order.ID)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChangeOrderUpserted,
			AggregateType: enums.AggregateChangeOrder,
			AggregateID:   saved.ID,
			Actor:         &outbox.ActorRef{CompanyID: companyID, Source: "api"},
			Data: payloads.ChangeOrderUpsertedEvent{
				ChangeOrderID:     saved.ID,
				QuoteID:           saved.QuoteID,
				DealID:            saved.DealID,
				ChangeOrderNumber: saved.ChangeOrderNumber,
				ItemCount:         len(saved.Items),
				Total:             saved.Total,
			},
		})
	})
	if err != nil {
		return nil, s.persistError(ctx, err, "persist change order")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithChangeOrderID(ctx, saved.ID.String()), "change order saved")
	}
	return ToRecord(saved), nil
}

// Discard removes a pending change order and its items.
func (s *service) Discard(ctx context.Context, companyID, changeOrderID uuid.UUID) error {
	if companyID == uuid.Nil || changeOrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "company id and change order id are required")
	}
	current, err := s.load(ctx, companyID, changeOrderID)
	if err != nil {
		return err
	}
	release, err := s.lock(ctx, current.QuoteID)
	if err != nil {
		return err
	}
	defer release()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, companyID, changeOrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "change order not found")
		}
		if err != nil {
			return err
		}
		if order.Status != enums.ChangeOrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "accepted change orders cannot be discarded")
		}
		if err := repo.Delete(ctx, order.ID); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChangeOrderDiscarded,
			AggregateType: enums.AggregateChangeOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{CompanyID: companyID, Source: "api"},
			Data: payloads.ChangeOrderDiscardedEvent{
				ChangeOrderID:     order.ID,
				QuoteID:           order.QuoteID,
				DealID:            order.DealID,
				ChangeOrderNumber: order.ChangeOrderNumber,
			},
		})
	})
	if err != nil {
		return s.persistError(ctx, err, "discard change order")
	}
	return nil
}

// Accept attaches the change order to the quote's invoice and recalculates the invoice
// in the same transaction. Accepting again with the same invoice returns the stored order.
func (s *service) Accept(ctx context.Context, companyID, changeOrderID, invoiceID uuid.UUID) (*types.ChangeOrderRecord, error) {
	start := time.Now()
	rec, err := s.accept(ctx, companyID, changeOrderID, invoiceID)
	s.metrics.Track("change_order_accept", start, err)
	return rec, err
}

func (s *service) accept(ctx context.Context, companyID, changeOrderID, invoiceID uuid.UUID) (*types.ChangeOrderRecord, error) {
	if companyID == uuid.Nil || changeOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id and change order id are required")
	}
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodePrerequisite, "an invoice is required to accept a change order")
	}
	current, err := s.load(ctx, companyID, changeOrderID)
	if err != nil {
		return nil, err
	}
	replay, err := acceptedReplay(current, invoiceID)
	if err != nil {
		return nil, err
	}
	if replay {
		return ToRecord(current), nil
	}

	release, err := s.lock(ctx, current.QuoteID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		accepted *models.ChangeOrder
		invoice  *models.Invoice
		replayed bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, companyID, changeOrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "change order not found")
		}
		if err != nil {
			return err
		}
		if replayed, err = acceptedReplay(order, invoiceID); replayed || err != nil {
			accepted = order
			return err
		}
		if err := s.checkInvoice(ctx, repo, companyID, invoiceID, order.QuoteID); err != nil {
			return err
		}

		at := s.now().UTC()
		if err := repo.MarkAccepted(ctx, order.ID, invoiceID, at); err != nil {
			return err
		}
		accepted, err = repo.FindByID(ctx, companyID, order.ID)
		if err != nil {
			return err
		}
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventChangeOrderAccepted,
			AggregateType: enums.AggregateChangeOrder,
			AggregateID:   accepted.ID,
			Actor:         &outbox.ActorRef{CompanyID: companyID, Source: "api"},
			Data: payloads.ChangeOrderAcceptedEvent{
				ChangeOrderID:     accepted.ID,
				QuoteID:           accepted.QuoteID,
				DealID:            accepted.DealID,
				InvoiceID:         invoiceID,
				ChangeOrderNumber: accepted.ChangeOrderNumber,
				Total:             accepted.Total,
				AcceptedAt:        at,
			},
		}); err != nil {
			return err
		}
		invoice, err = s.invoices.RecalculateTx(ctx, tx, companyID, invoiceID)
		return err
	})
	if err != nil {
		return nil, s.persistError(ctx, err, "accept change order")
	}
	if replayed {
		return ToRecord(accepted), nil
	}

	s.invoices.Invalidate(ctx, accepted.QuoteID)
	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithChangeOrderID(ctx, accepted.ID.String()), map[string]any{
			"invoice_id":  invoiceID.String(),
			"balance_due": invoice.BalanceDue.String(),
		})
		s.logg.Info(logCtx, "change order accepted")
	}
	return ToRecord(accepted), nil
}

func (s *service) ListByDeal(ctx context.Context, companyID, dealID uuid.UUID) ([]types.ChangeOrderRecord, error) {
	if companyID == uuid.Nil || dealID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id and deal id are required")
	}
	orders, err := s.repo.ListByDeal(ctx, companyID, dealID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list change orders")
	}
	out := make([]types.ChangeOrderRecord, 0, len(orders))
	for i := range orders {
		out = append(out, *ToRecord(&orders[i]))
	}
	return out, nil
}

func (s *service) load(ctx context.Context, companyID, id uuid.UUID) (*models.ChangeOrder, error) {
	order, err := s.repo.FindByID(ctx, companyID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "change order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load change order")
	}
	return order, nil
}

// lock serializes writes to the change orders of one quote across API instances.
func (s *service) lock(ctx context.Context, quoteID uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, redis.ChangeOrderLockKey(quoteID.String()), s.lockTTL)
	if errors.Is(err, redis.ErrLockHeld) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "change order is being modified, retry shortly")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire change order lock")
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "release change order lock failed")
		}
	}, nil
}

func (s *service) checkInvoice(ctx context.Context, repo Repository, companyID, invoiceID, quoteID uuid.UUID) error {
	invoice, err := repo.FindInvoice(ctx, companyID, invoiceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if err != nil {
		return err
	}
	if invoice.QuoteID != quoteID {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice belongs to another quote")
	}
	if invoice.Status == enums.InvoiceStatusVoid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is void")
	}
	return nil
}

func (s *service) persistError(ctx context.Context, err error, msg string) error {
	if dbpkg.IsUniqueViolation(err, "ux_change_orders_pending_quote") {
		return pkgerrors.New(pkgerrors.CodeConflict, "quote already has a pending change order")
	}
	if dbpkg.IsUniqueViolation(err, "change_order_items_pkey") {
		return pkgerrors.New(pkgerrors.CodeConflict, "change order item id already in use")
	}
	if pkgerrors.As(err) == nil && s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
	return pkgerrors.WrapUntyped(pkgerrors.CodeInternal, err, msg)
}

// acceptedReplay reports whether order was already accepted against invoiceID.
// An order accepted against another invoice is a conflict.
func acceptedReplay(order *models.ChangeOrder, invoiceID uuid.UUID) (bool, error) {
	if order.Status != enums.ChangeOrderStatusAccepted {
		return false, nil
	}
	if order.InvoiceID != nil && *order.InvoiceID == invoiceID {
		return true, nil
	}
	return false, pkgerrors.New(pkgerrors.CodeConflict, "change order was accepted against another invoice")
}

func buildItems(inputs []types.ChangeOrderItemInput) ([]models.ChangeOrderItem, error) {
	if len(inputs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "change order must contain at least one item")
	}
	seen := make(map[uuid.UUID]struct{}, len(inputs))
	items := make([]models.ChangeOrderItem, 0, len(inputs))
	for i, in := range inputs {
		details := map[string]any{"index": i}
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item name is required").WithDetails(details)
		}
		if !in.UnitPrice.Abs().IsPositive() || (!in.IsDiscount && in.UnitPrice.IsNegative()) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item price must be greater than zero").WithDetails(details)
		}
		var id uuid.UUID
		if in.ID != "" {
			parsed, err := parseID(in.ID, "item id")
			if err != nil {
				return nil, err
			}
			if _, dup := seen[parsed]; dup {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "item ids must be unique").WithDetails(details)
			}
			seen[parsed] = struct{}{}
			id = parsed
		}
		items = append(items, models.ChangeOrderItem{
			ID:          id,
			Position:    i,
			Name:        name,
			Description: in.Description,
			Quantity:    1,
			UnitPrice:   pricing.NormalizeDiscount(in.UnitPrice, in.IsDiscount).Round(2),
			IsDiscount:  in.IsDiscount,
		})
	}
	return items, nil
}

func itemsTotal(items []models.ChangeOrderItem) decimal.Decimal {
	return pricing.SumItems(items, func(it models.ChangeOrderItem) decimal.Decimal {
		return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
	}, decimal.Zero).Total
}

// ToRecord maps a stored change order onto its API shape.
func ToRecord(order *models.ChangeOrder) *types.ChangeOrderRecord {
	if order == nil {
		return nil
	}
	rec := &types.ChangeOrderRecord{
		ID:                order.ID.String(),
		CompanyID:         order.CompanyID.String(),
		DealID:            order.DealID.String(),
		QuoteID:           order.QuoteID.String(),
		ChangeOrderNumber: order.ChangeOrderNumber,
		Status:            order.Status,
		Total:             order.Total,
		AcceptedAt:        order.AcceptedAt,
		CreatedAt:         order.CreatedAt,
		Items:             make([]types.ChangeOrderItemRecord, 0, len(order.Items)),
	}
	if order.InvoiceID != nil {
		id := order.InvoiceID.String()
		rec.InvoiceID = &id
	}
	for _, item := range order.Items {
		rec.Items = append(rec.Items, types.ChangeOrderItemRecord{
			ID:          item.ID.String(),
			Name:        item.Name,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			IsDiscount:  item.IsDiscount,
		})
	}
	return rec
}

func parseID(value, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, field+" is invalid")
	}
	return id, nil
}
