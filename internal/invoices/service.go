package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/internal/quotes"
	dbpkg "github.com/angelmondragon/fieldops-backend/pkg/db"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fieldops-backend/pkg/redis"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

const invoiceNumberPrefix = "INV-"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes invoice reads and the reconciliation used by change-order acceptance.
type Service interface {
	GetByQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*types.InvoiceRecord, error)
	CreateFromQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*types.InvoiceRecord, error)
	RecalculateTx(ctx context.Context, tx *gorm.DB, companyID, invoiceID uuid.UUID) (*models.Invoice, error)
	Invalidate(ctx context.Context, quoteID uuid.UUID)
}

type ServiceParams struct {
	Repo     Repository
	Tx       txRunner
	Outbox   outboxEmitter
	Cache    redis.Cache
	CacheTTL time.Duration
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxEmitter
	cache    redis.Cache
	cacheTTL time.Duration
	logg     *logger.Logger
}

// NewService wires an invoice service. The cache is optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		outbox:   params.Outbox,
		cache:    params.Cache,
		cacheTTL: params.CacheTTL,
		logg:     params.Logger,
	}, nil
}

// GetByQuote reads through the invoice cache. A quote without invoice is NOT_FOUND.
func (s *service) GetByQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*types.InvoiceRecord, error) {
	if companyID == uuid.Nil || quoteID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id and quote id are required")
	}
	key := redis.InvoiceCacheKey(quoteID.String())
	if s.cache != nil {
		var cached types.InvoiceRecord
		hit, err := s.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			s.warn(ctx, "invoice cache read failed", err)
		}
		if hit && cached.CompanyID == companyID.String() {
			return &cached, nil
		}
	}

	invoice, err := s.repo.FindByQuote(ctx, companyID, quoteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	rec := ToRecord(invoice)
	s.store(ctx, rec)
	return rec, nil
}

// CreateFromQuote bills an accepted quote. An existing invoice is returned unchanged.
func (s *service) CreateFromQuote(ctx context.Context, companyID, quoteID uuid.UUID) (*types.InvoiceRecord, error) {
	if companyID == uuid.Nil || quoteID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id and quote id are required")
	}

	var invoice *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindByQuote(ctx, companyID, quoteID)
		if err == nil {
			invoice = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		quote, err := repo.FindQuote(ctx, companyID, quoteID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
		}
		if err != nil {
			return err
		}
		if quote.Status != enums.QuoteStatusAccepted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only accepted quotes can be invoiced")
		}

		coAmount, err := repo.SumAcceptedChangeOrders(ctx, quote.ID)
		if err != nil {
			return err
		}
		base := quotes.Totals(quote).Total
		total := base.Add(coAmount)
		invoice = &models.Invoice{
			CompanyID:         companyID,
			DealID:            quote.DealID,
			QuoteID:           quote.ID,
			InvoiceNumber:     invoiceNumberPrefix + quote.QuoteNumber,
			Status:            enums.InvoiceStatusOpen,
			TaxRate:           quote.TaxRate,
			BaseAmount:        base,
			ChangeOrderAmount: coAmount,
			Total:             total,
			BalanceDue:        total,
		}
		if err := repo.Create(ctx, invoice); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceCreated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Actor:         &outbox.ActorRef{CompanyID: companyID, Source: "api"},
			Data: payloads.InvoiceCreatedEvent{
				InvoiceID:     invoice.ID,
				QuoteID:       quote.ID,
				DealID:        quote.DealID,
				InvoiceNumber: invoice.InvoiceNumber,
				Total:         total,
			},
		})
	})
	if err != nil && dbpkg.IsUniqueViolation(err, "ux_invoices_quote") {
		// another request billed the quote first
		return s.GetByQuote(ctx, companyID, quoteID)
	}
	if err != nil {
		return nil, pkgerrors.WrapUntyped(pkgerrors.CodeInternal, err, "create invoice")
	}

	rec := ToRecord(invoice)
	s.store(ctx, rec)
	if s.logg != nil {
		logCtx := s.logg.WithField(s.logg.WithQuoteID(ctx, quoteID.String()), "invoice_id", rec.ID)
		s.logg.Info(logCtx, "invoice ready")
	}
	return rec, nil
}

// RecalculateTx reapplies every accepted change order to the invoice inside tx:
// total = base + change orders, balance = total - paid.
func (s *service) RecalculateTx(ctx context.Context, tx *gorm.DB, companyID, invoiceID uuid.UUID) (*models.Invoice, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	repo := s.repo.WithTx(tx)
	invoice, err := repo.FindByIDForUpdate(ctx, companyID, invoiceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if err != nil {
		return nil, err
	}
	if invoice.Status == enums.InvoiceStatusVoid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "invoice is void")
	}

	coAmount, err := repo.SumAcceptedChangeOrders(ctx, invoice.QuoteID)
	if err != nil {
		return nil, err
	}
	invoice.ChangeOrderAmount = coAmount
	invoice.Total = invoice.BaseAmount.Add(coAmount)
	invoice.BalanceDue = invoice.Total.Sub(invoice.AmountPaid)
	if err := repo.Update(ctx, invoice); err != nil {
		return nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoiceRecalculated,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Actor:         &outbox.ActorRef{CompanyID: companyID, Source: "api"},
		Data: payloads.InvoiceRecalculatedEvent{
			InvoiceID:         invoice.ID,
			QuoteID:           invoice.QuoteID,
			BaseAmount:        invoice.BaseAmount,
			ChangeOrderAmount: invoice.ChangeOrderAmount,
			Total:             invoice.Total,
			BalanceDue:        invoice.BalanceDue,
		},
	}); err != nil {
		return nil, err
	}
	return invoice, nil
}

// Invalidate drops the cached invoice of quoteID. Call it after the recalculating transaction commits.
func (s *service) Invalidate(ctx context.Context, quoteID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, redis.InvoiceCacheKey(quoteID.String())); err != nil {
		s.warn(ctx, "invoice cache invalidation failed", err)
	}
}

func (s *service) store(ctx context.Context, rec *types.InvoiceRecord) {
	if s.cache == nil || rec == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, redis.InvoiceCacheKey(rec.QuoteID), rec, s.cacheTTL); err != nil {
		s.warn(ctx, "invoice cache write failed", err)
	}
}

func (s *service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

// ToRecord maps a stored invoice onto its API shape.
func ToRecord(invoice *models.Invoice) *types.InvoiceRecord {
	if invoice == nil {
		return nil
	}
	return &types.InvoiceRecord{
		ID:                invoice.ID.String(),
		CompanyID:         invoice.CompanyID.String(),
		DealID:            invoice.DealID.String(),
		QuoteID:           invoice.QuoteID.String(),
		InvoiceNumber:     invoice.InvoiceNumber,
		Status:            invoice.Status,
		TaxRate:           invoice.TaxRate,
		BaseAmount:        invoice.BaseAmount,
		ChangeOrderAmount: invoice.ChangeOrderAmount,
		Total:             invoice.Total,
		AmountPaid:        invoice.AmountPaid,
		BalanceDue:        invoice.BalanceDue,
		CreatedAt:         invoice.CreatedAt,
		UpdatedAt:         invoice.UpdatedAt,
	}
}
