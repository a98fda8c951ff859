package quotes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fieldops-backend/internal/pricing"
	"github.com/angelmondragon/fieldops-backend/pkg/db/models"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/metrics"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox"
	"github.com/angelmondragon/fieldops-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

const quoteNumberOffset = 100

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes quote persistence operations.
type Service interface {
	Upsert(ctx context.Context, companyID uuid.UUID, payload types.UpsertQuotePayload) (*types.QuoteRecord, error)
	Get(ctx context.Context, companyID, quoteID uuid.UUID) (*types.QuoteRecord, error)
}

type ServiceParams struct {
	Repo         Repository
	Tx           txRunner
	Outbox       outboxEmitter
	Logger       *logger.Logger
	Metrics      *metrics.OperationMetrics
	NumberPrefix string
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxEmitter
	logg    *logger.Logger
	metrics *metrics.OperationMetrics
	prefix  string
}

// NewService builds a quote service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("quote repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		prefix:  params.NumberPrefix,
	}, nil
}

// Upsert creates or updates a quote and applies the line item diff atomically.
func (s *service) Upsert(ctx context.Context, companyID uuid.UUID, payload types.UpsertQuotePayload) (*types.QuoteRecord, error) {
	start := time.Now()
	rec, err := s.upsert(ctx, companyID, payload)
	s.metrics.Track("quote_upsert", start, err)
	return rec, err
}

func (s *service) upsert(ctx context.Context, companyID uuid.UUID, payload types.UpsertQuotePayload) (*types.QuoteRecord, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	input := payload.Quote
	if input.CompanyID != "" && input.CompanyID != companyID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "quote belongs to another company")
	}
	dealID, err := parseID(input.DealID, "deal id")
	if err != nil {
		return nil, err
	}
	if input.TaxRate.IsNegative() || input.TaxRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tax rate must be between 0 and 100")
	}
	if input.Status != "" && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid quote status %q", input.Status))
	}
	deleted, err := parseIDs(payload.DeletedLineItemIDs)
	if err != nil {
		return nil, err
	}
	items, err := buildLineItems(payload.LineItems, deleted)
	if err != nil {
		return nil, err
	}

	var (
		saved        *models.Quote
		created      bool
		deletedCount int64
		dealArchived bool
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		deal, err := repo.FindDeal(ctx, companyID, dealID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deal not found")
		}
		if err != nil {
			return err
		}
		dealArchived = deal.IsArchived()

		var quote *models.Quote
		if input.ID == "" {
			if dealArchived && len(items) > 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "deal is archived")
			}
			quote, err = s.newQuote(ctx, repo, companyID, deal, input)
			if err != nil {
				return err
			}
			created = true
		} else {
			quoteID, err := parseID(input.ID, "quote id")
			if err != nil {
				return err
			}
			quote, err = repo.FindByIDForUpdate(ctx, companyID, quoteID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
			}
			if err != nil {
				return err
			}
			if quote.DealID != deal.ID {
				return pkgerrors.New(pkgerrors.CodeValidation, "quote belongs to another deal")
			}
			if (quote.Status.LocksLineItems() || dealArchived) && lineItemsChanged(quote.LineItems, items, deleted) {
				if dealArchived {
					return pkgerrors.New(pkgerrors.CodeStateConflict, "deal is archived")
				}
				return pkgerrors.New(pkgerrors.CodeStateConflict, "line items of an accepted quote cannot change")
			}
			if err := applyMetadata(quote, input); err != nil {
				return err
			}
			if err := repo.Update(ctx, quote); err != nil {
				return err
			}
		}

		deletedCount, err = repo.DeleteLineItems(ctx, quote.ID, deleted)
		if err != nil {
			return err
		}
		if err := repo.SaveLineItems(ctx, quote.ID, reconcileIDs(quote.LineItems, deleted, items)); err != nil {
			return err
		}

		saved, err = repo.FindByID(ctx, companyID, quote.ID)
		if err != nil {
			return err
		}

		totals := Totals(saved)
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventQuoteSaved,
			AggregateType: enums.AggregateQuote,
			AggregateID:   saved.ID,
			Actor:         &outbox.ActorRef{CompanyID: companyID, Source: "api"},
			Data: payloads.QuoteSavedEvent{
				QuoteID:          saved.ID,
				DealID:           saved.DealID,
				QuoteNumber:      saved.QuoteNumber,
				Status:           saved.Status,
				Created:          created,
				LineItemCount:    len(saved.LineItems),
				DeletedLineItems: int(deletedCount),
				Total:            totals.Total,
			},
		})
	})
	if err != nil {
		if s.logg != nil && pkgerrors.As(err) == nil {
			s.logg.Error(s.logg.WithDealID(ctx, input.DealID), "upsert quote failed", err)
		}
		return nil, pkgerrors.WrapUntyped(pkgerrors.CodeInternal, err, "persist quote")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(s.logg.WithQuoteID(ctx, saved.ID.String()), map[string]any{
			"created":            created,
			"line_items":         len(saved.LineItems),
			"deleted_line_items": deletedCount,
		})
		s.logg.Info(logCtx, "quote saved")
	}
	return ToRecord(saved, dealArchived), nil
}

func (s *service) Get(ctx context.Context, companyID, quoteID uuid.UUID) (*types.QuoteRecord, error) {
	if companyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company id is required")
	}
	if quoteID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote id is required")
	}
	quote, err := s.repo.FindByID(ctx, companyID, quoteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load quote")
	}
	deal, err := s.repo.FindDeal(ctx, companyID, quote.DealID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load deal")
	}
	return ToRecord(quote, deal != nil && deal.IsArchived()), nil
}

func (s *service) newQuote(ctx context.Context, repo Repository, companyID uuid.UUID, deal *models.Deal, input types.QuoteInput) (*models.Quote, error) {
	status := enums.QuoteStatusDraft
	if input.Status != "" {
		if !status.CanTransitionTo(input.Status) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("a new quote cannot start as %s", input.Status))
		}
		status = input.Status
	}
	number := strings.TrimSpace(input.QuoteNumber)
	if number == "" {
		count, err := repo.CountByCompany(ctx, companyID)
		if err != nil {
			return nil, err
		}
		number = fmt.Sprintf("%s%d", s.prefix, count+quoteNumberOffset)
	}
	quote := &models.Quote{
		CompanyID:     companyID,
		DealID:        deal.ID,
		QuoteNumber:   number,
		Title:         input.Title,
		ClientMessage: input.ClientMessage,
		Disclaimer:    input.Disclaimer,
		Status:        status,
		TaxRate:       input.TaxRate,
	}
	if err := repo.Create(ctx, quote); err != nil {
		return nil, err
	}
	return quote, nil
}

func applyMetadata(quote *models.Quote, input types.QuoteInput) error {
	if input.Status != "" && input.Status != quote.Status {
		if !quote.Status.CanTransitionTo(input.Status) {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quote cannot move from %s to %s", quote.Status, input.Status))
		}
		quote.Status = input.Status
	}
	if number := strings.TrimSpace(input.QuoteNumber); number != "" {
		quote.QuoteNumber = number
	}
	quote.Title = input.Title
	quote.ClientMessage = input.ClientMessage
	quote.Disclaimer = input.Disclaimer
	quote.TaxRate = input.TaxRate
	return nil
}

// buildLineItems orders the desired rows by their requested position and
// renumbers them 0..n-1. Discount prices are stored negative.
func buildLineItems(inputs []types.LineItemInput, deleted []uuid.UUID) ([]models.QuoteLineItem, error) {
	sorted := make([]types.LineItemInput, len(inputs))
	copy(sorted, inputs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	deletedSet := make(map[uuid.UUID]struct{}, len(deleted))
	for _, id := range deleted {
		deletedSet[id] = struct{}{}
	}
	seen := map[uuid.UUID]struct{}{}

	items := make([]models.QuoteLineItem, 0, len(sorted))
	for i, in := range sorted {
		var id uuid.UUID
		if in.ID != "" {
			parsed, err := parseID(in.ID, "line item id")
			if err != nil {
				return nil, err
			}
			if _, dup := seen[parsed]; dup {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item ids must be unique")
			}
			if _, gone := deletedSet[parsed]; gone {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item is both kept and deleted")
			}
			seen[parsed] = struct{}{}
			id = parsed
		}
		if !in.IsDiscount && in.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "only discounts may carry a negative price").
				WithDetails(map[string]any{"position": in.Position})
		}
		items = append(items, models.QuoteLineItem{
			ID:          id,
			Position:    i,
			Name:        strings.TrimSpace(in.Name),
			Description: in.Description,
			Quantity:    1,
			UnitPrice:   pricing.NormalizeDiscount(in.UnitPrice, in.IsDiscount).Round(2),
			IsDiscount:  in.IsDiscount,
		})
	}
	return items, nil
}

// reconcileIDs clears ids that are not (or no longer) rows of the quote so they
// are inserted fresh. Another session may have removed them.
func reconcileIDs(existing []models.QuoteLineItem, deleted []uuid.UUID, items []models.QuoteLineItem) []models.QuoteLineItem {
	known := make(map[uuid.UUID]struct{}, len(existing))
	for _, row := range existing {
		known[row.ID] = struct{}{}
	}
	for _, id := range deleted {
		delete(known, id)
	}
	for i := range items {
		if _, ok := known[items[i].ID]; !ok {
			items[i].ID = uuid.Nil
		}
	}
	return items
}

func lineItemsChanged(existing, desired []models.QuoteLineItem, deleted []uuid.UUID) bool {
	byID := make(map[uuid.UUID]models.QuoteLineItem, len(existing))
	for _, row := range existing {
		byID[row.ID] = row
	}
	for _, id := range deleted {
		if _, ok := byID[id]; ok {
			return true
		}
	}
	if len(existing) != len(desired) {
		return true
	}
	for i, want := range desired {
		have, ok := byID[want.ID]
		if !ok || existing[i].ID != want.ID {
			return true
		}
		if have.Name != want.Name || have.Description != want.Description ||
			have.IsDiscount != want.IsDiscount || !have.UnitPrice.Equal(want.UnitPrice) {
			return true
		}
	}
	return false
}

// Totals prices a stored quote at its own tax rate.
func Totals(quote *models.Quote) pricing.Totals {
	return pricing.SumItems(quote.LineItems, func(item models.QuoteLineItem) decimal.Decimal {
		return pricing.NormalizeDiscount(item.UnitPrice, item.IsDiscount)
	}, quote.TaxRate)
}

// ToRecord maps a stored quote onto its API shape with computed totals.
func ToRecord(quote *models.Quote, dealArchived bool) *types.QuoteRecord {
	if quote == nil {
		return nil
	}
	totals := Totals(quote)
	rec := &types.QuoteRecord{
		ID:            quote.ID.String(),
		CompanyID:     quote.CompanyID.String(),
		DealID:        quote.DealID.String(),
		QuoteNumber:   quote.QuoteNumber,
		Title:         quote.Title,
		ClientMessage: quote.ClientMessage,
		Disclaimer:    quote.Disclaimer,
		Status:        quote.Status,
		TaxRate:       quote.TaxRate,
		Subtotal:      totals.Subtotal,
		TaxAmount:     totals.TaxAmount,
		Total:         totals.Total,
		DealArchived:  dealArchived,
		PublicShareID: quote.PublicShareID.String(),
		CreatedAt:     quote.CreatedAt,
		UpdatedAt:     quote.UpdatedAt,
		LineItems:     make([]types.LineItemRecord, 0, len(quote.LineItems)),
	}
	for _, item := range quote.LineItems {
		rec.LineItems = append(rec.LineItems, types.LineItemRecord{
			ID:          item.ID.String(),
			Position:    item.Position,
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

func parseIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	seen := make(map[uuid.UUID]struct{}, len(values))
	for _, raw := range values {
		id, err := parseID(raw, "deleted line item id")
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
