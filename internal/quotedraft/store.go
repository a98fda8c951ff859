package quotedraft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/internal/notify"
	"github.com/angelmondragon/fieldops-backend/internal/pricing"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// QuoteRemote is the quote store surface the draft saves through.
type QuoteRemote interface {
	UpsertQuote(ctx context.Context, payload types.UpsertQuotePayload) (*types.QuoteRecord, error)
	GetQuote(ctx context.Context, quoteID string) (*types.QuoteRecord, error)
}

// TemplateCatalog lists the product templates of a company.
type TemplateCatalog interface {
	ListProductTemplates(ctx context.Context, companyID string) ([]types.ProductTemplate, error)
}

// Quote is the metadata half of the draft. ID is empty until the first save.
type Quote struct {
	ID            ServerID
	CompanyID     string
	DealID        string
	QuoteNumber   string
	Title         string
	ClientMessage string
	Disclaimer    string
	Status        enums.QuoteStatus
	TaxRate       decimal.Decimal
	PublicShareID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QuoteField names an editable quote metadata field.
type QuoteField string

const (
	QuoteFieldNumber        QuoteField = "quoteNumber"
	QuoteFieldTitle         QuoteField = "title"
	QuoteFieldClientMessage QuoteField = "clientMessage"
	QuoteFieldDisclaimer    QuoteField = "disclaimer"
)

// StateView is an immutable copy of the draft handed to readers and subscribers.
type StateView struct {
	Quote              Quote
	LineItems          []LineItem
	DeletedLineItemIDs []ServerID
	DealArchived       bool
	Editing            []ClientID
	Saving             bool
	Deleting           bool
	HasPendingChanges  bool
	LastError          error
	Totals             pricing.Totals
}

// Locked reports whether line items are frozen.
func (v StateView) Locked() bool {
	return v.Quote.Status.LocksLineItems() || v.DealArchived
}

type StoreParams struct {
	Remote       QuoteRemote
	Catalog      TemplateCatalog
	Notifier     notify.Notifier
	Logger       *logger.Logger
	NewID        func() ClientID
	Quote        Quote
	LineItems    []LineItem
	DealArchived bool
}

// Store owns one editable quote. It is safe for concurrent use; saves are queued so
// at most one upsert per store is in flight and each sends the newest state.
type Store struct {
	remote  QuoteRemote
	catalog TemplateCatalog
	notify  notify.Notifier
	logg    *logger.Logger
	newID   func() ClientID

	saveMu sync.Mutex

	mu           sync.Mutex
	quote        Quote
	items        []LineItem
	deleted      []ServerID
	dealArchived bool
	editing      map[ClientID]struct{}
	saving       bool
	deleting     bool
	baseline     *string
	pending      bool
	lastErr      error
	subscribers  map[int]func(StateView)
	nextSub      int
}

func NewStore(params StoreParams) (*Store, error) {
	if params.Remote == nil {
		return nil, errors.New("quote remote is required")
	}
	if params.Quote.CompanyID == "" || params.Quote.DealID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "company and deal are required")
	}
	newID := params.NewID
	if newID == nil {
		newID = NewClientID
	}
	q := params.Quote
	if q.Status == "" {
		q.Status = enums.QuoteStatusDraft
	}
	s := &Store{
		remote:       params.Remote,
		catalog:      params.Catalog,
		notify:       notify.OrNop(params.Notifier),
		logg:         params.Logger,
		newID:        newID,
		quote:        q,
		items:        cloneItems(params.LineItems),
		dealArchived: params.DealArchived,
		editing:      map[ClientID]struct{}{},
		subscribers:  map[int]func(StateView){},
	}
	s.refreshDirtyLocked()
	return s, nil
}

// AddLineItem appends an empty item and returns its client id. Discounts start named "Discount".
func (s *Store) AddLineItem(isDiscount bool) (ClientID, bool) {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return "", false
	}
	id := s.newID()
	item := LineItem{Identity: DraftIdentity(id), PriceText: "0", IsDiscount: isDiscount}
	if isDiscount {
		item.Name = discountName
	}
	s.items = append(s.items, item)
	s.changedLocked()
	return id, true
}

// EditField replaces a text field of the item identified by id.
func (s *Store) EditField(id ClientID, field Field, value string) bool {
	return s.mutateItem(id, func(item *LineItem) bool {
		switch field {
		case FieldName:
			item.Name = value
		case FieldDescription:
			item.Description = value
		default:
			return false
		}
		return true
	})
}

// EditPrice stores the price text exactly as typed. Parsing happens at save.
func (s *Store) EditPrice(id ClientID, text string) bool {
	return s.mutateItem(id, func(item *LineItem) bool {
		item.PriceText = text
		return true
	})
}

// ApplyTemplate copies a catalog template onto an item. Missing templates, empty ids
// and locked drafts leave the item untouched.
func (s *Store) ApplyTemplate(ctx context.Context, id ClientID, templateID string) (bool, error) {
	if templateID == "" || s.catalog == nil {
		return false, nil
	}
	s.mu.Lock()
	locked := !s.editableLocked()
	companyID := s.quote.CompanyID
	s.mu.Unlock()
	if locked {
		return false, nil
	}

	templates, err := s.catalog.ListProductTemplates(ctx, companyID)
	if err != nil {
		return false, asPersistence(err, "list product templates")
	}
	var found *types.ProductTemplate
	for i := range templates {
		if templates[i].ID == templateID {
			found = &templates[i]
			break
		}
	}
	if found == nil {
		return false, nil
	}

	return s.mutateItem(id, func(item *LineItem) bool {
		item.Name = found.Name
		item.Description = found.Description
		if pricing.ParsePrice(item.PriceText).IsZero() && !found.UnitPrice.IsZero() {
			item.PriceText = found.UnitPrice.String()
		}
		return true
	}), nil
}

// DeleteLineItem removes an item. Persisted items leave a tombstone for the next save.
func (s *Store) DeleteLineItem(id ClientID) bool {
	s.mu.Lock()
	if !s.deleteLocked(id) {
		s.mu.Unlock()
		return false
	}
	s.changedLocked()
	return true
}

// DeleteLineItemAndSave removes an item and persists the draft right away. Dirty
// detection is frozen while the call is in flight.
func (s *Store) DeleteLineItemAndSave(ctx context.Context, id ClientID) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.deleteLocked(id) {
		s.mu.Unlock()
		return nil
	}
	s.deleting = true
	s.changedLocked()

	s.mu.Lock()
	_, err := s.saveQueued(ctx, saveOptions{})

	s.mu.Lock()
	s.deleting = false
	s.changedLocked()
	return err
}

func (s *Store) deleteLocked(id ClientID) bool {
	if !s.editableLocked() {
		return false
	}
	idx := indexOf(s.items, id)
	if idx < 0 {
		return false
	}
	if sid, ok := s.items[idx].Identity.Persisted(); ok && !containsServerID(s.deleted, sid) {
		s.deleted = append(s.deleted, sid)
	}
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	delete(s.editing, id)
	return true
}

// EditQuoteField updates quote metadata. Locked drafts reject edits, as do
// drafts with a save in flight.
func (s *Store) EditQuoteField(field QuoteField, value string) bool {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return false
	}
	switch field {
	case QuoteFieldNumber:
		s.quote.QuoteNumber = value
	case QuoteFieldTitle:
		s.quote.Title = value
	case QuoteFieldClientMessage:
		s.quote.ClientMessage = value
	case QuoteFieldDisclaimer:
		s.quote.Disclaimer = value
	default:
		s.mu.Unlock()
		return false
	}
	s.changedLocked()
	return true
}

// SetTaxRate changes the rate used for totals. It does not affect dirty detection.
func (s *Store) SetTaxRate(rate decimal.Decimal) bool {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return false
	}
	s.quote.TaxRate = pricing.ClampRate(rate)
	s.changedLocked()
	return true
}

// SetDealArchived records the owning deal's archive state.
func (s *Store) SetDealArchived(archived bool) {
	s.mu.Lock()
	s.dealArchived = archived
	s.changedLocked()
}

func (s *Store) BeginEdit(id ClientID) {
	s.mu.Lock()
	if indexOf(s.items, id) < 0 {
		s.mu.Unlock()
		return
	}
	s.editing[id] = struct{}{}
	s.changedLocked()
}

func (s *Store) EndEdit(id ClientID) {
	s.mu.Lock()
	delete(s.editing, id)
	s.changedLocked()
}

func (s *Store) IsEditing(id ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.editing[id]
	return ok
}

// SaveOption customizes a single Save call.
type SaveOption func(*saveOptions)

type saveOptions struct {
	snapshot *Snapshot
	status   *enums.QuoteStatus
}

// WithSnapshotOverride declares the baseline to record after a successful save instead
// of the snapshot computed from the reconciled state.
func WithSnapshotOverride(snap Snapshot) SaveOption {
	return func(o *saveOptions) {
		o.snapshot = &snap
	}
}

// Save upserts the draft. Calls are queued; a waiting call sends the state current
// when its turn comes. On failure the draft is untouched and LastError is set.
func (s *Store) Save(ctx context.Context, opts ...SaveOption) (*types.QuoteRecord, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	return s.saveQueued(ctx, o)
}

// Create persists a never-saved quote and returns its id. Once an id exists it
// returns it without another call, so duplicate triggers create one quote.
func (s *Store) Create(ctx context.Context) (ServerID, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	if s.quote.ID != "" {
		id := s.quote.ID
		s.mu.Unlock()
		return id, nil
	}
	rec, err := s.saveQueued(ctx, saveOptions{})
	if err != nil {
		return "", err
	}
	return ServerID(rec.ID), nil
}

// Send moves a saved draft to sent. A quote that was never saved cannot be sent.
func (s *Store) Send(ctx context.Context) (*types.QuoteRecord, error) {
	s.mu.Lock()
	saved := s.quote.ID != ""
	s.mu.Unlock()
	if !saved {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "save the quote before sending it")
	}
	return s.Transition(ctx, enums.QuoteStatusSent)
}

// Transition saves the draft with a new status. Local status changes only after the
// store accepts it.
func (s *Store) Transition(ctx context.Context, next enums.QuoteStatus) (*types.QuoteRecord, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.mu.Lock()
	current := s.quote.Status
	if !next.IsValid() || !current.CanTransitionTo(next) {
		s.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cannot move quote from %s to %s", current, next)).
			WithDetails(map[string]any{"from": current, "to": next})
	}
	return s.saveQueued(ctx, saveOptions{status: &next})
}

// saveQueued runs one upsert. Caller holds saveMu and mu; mu is released on return.
func (s *Store) saveQueued(ctx context.Context, o saveOptions) (*types.QuoteRecord, error) {
	payload := s.payloadLocked(o.status)
	sentDeleted := append([]ServerID(nil), s.deleted...)
	s.saving = true
	s.changedLocked()

	rec, err := s.remote.UpsertQuote(ctx, payload)

	s.mu.Lock()
	s.saving = false
	if err == nil && rec == nil {
		err = errors.New("quote store returned no quote")
	}
	if err != nil {
		err = asPersistence(err, "save quote")
		s.lastErr = err
		s.changedLocked()
		s.notify.Error(ctx, "Could not save quote", err)
		s.logError(ctx, "quote save failed", err)
		return nil, err
	}

	s.adoptLocked(rec, sentDeleted)
	if o.snapshot != nil {
		key := o.snapshot.Key()
		s.baseline = &key
	}
	s.pending = false
	s.changedLocked()
	return rec, nil
}

// Load replaces the draft with the stored quote, keeping client ids of known items.
func (s *Store) Load(ctx context.Context, quoteID ServerID) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	rec, err := s.remote.GetQuote(ctx, string(quoteID))
	if err != nil {
		err = asPersistence(err, "load quote")
		s.mu.Lock()
		s.lastErr = err
		s.changedLocked()
		return err
	}
	s.mu.Lock()
	s.adoptLocked(rec, s.deleted)
	s.changedLocked()
	return nil
}

// adoptLocked folds a server quote into the draft and resets the dirty baseline.
func (s *Store) adoptLocked(rec *types.QuoteRecord, sentDeleted []ServerID) {
	s.items = Reconcile(rec.LineItems, s.items, s.newID)
	s.deleted = withoutServerIDs(s.deleted, sentDeleted)
	s.quote = Quote{
		ID:            ServerID(rec.ID),
		CompanyID:     rec.CompanyID,
		DealID:        rec.DealID,
		QuoteNumber:   rec.QuoteNumber,
		Title:         rec.Title,
		ClientMessage: rec.ClientMessage,
		Disclaimer:    rec.Disclaimer,
		Status:        rec.Status,
		TaxRate:       rec.TaxRate,
		PublicShareID: rec.PublicShareID,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	s.dealArchived = rec.DealArchived
	for id := range s.editing {
		if indexOf(s.items, id) < 0 {
			delete(s.editing, id)
		}
	}
	s.lastErr = nil
	key := takeSnapshot(s.quote, s.items, s.deleted).Key()
	s.baseline = &key
	s.pending = false
}

func (s *Store) payloadLocked(status *enums.QuoteStatus) types.UpsertQuotePayload {
	q := s.quote
	if status != nil {
		q.Status = *status
	}
	payload := types.UpsertQuotePayload{
		Quote: types.QuoteInput{
			ID:            string(q.ID),
			CompanyID:     q.CompanyID,
			DealID:        q.DealID,
			QuoteNumber:   q.QuoteNumber,
			Title:         q.Title,
			ClientMessage: q.ClientMessage,
			Disclaimer:    q.Disclaimer,
			Status:        q.Status,
			TaxRate:       q.TaxRate,
		},
		LineItems:          make([]types.LineItemInput, 0, len(s.items)),
		DeletedLineItemIDs: make([]string, 0, len(s.deleted)),
	}
	for i, item := range s.items {
		sid, _ := item.Identity.Persisted()
		payload.LineItems = append(payload.LineItems, types.LineItemInput{
			ID:          string(sid),
			Position:    i,
			Name:        item.Name,
			Description: item.Description,
			UnitPrice:   item.UnitPrice(),
			IsDiscount:  item.IsDiscount,
		})
	}
	for _, sid := range s.deleted {
		payload.DeletedLineItemIDs = append(payload.DeletedLineItemIDs, string(sid))
	}
	return payload
}

func (s *Store) mutateItem(id ClientID, fn func(*LineItem) bool) bool {
	s.mu.Lock()
	if !s.editableLocked() {
		s.mu.Unlock()
		return false
	}
	idx := indexOf(s.items, id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	item := s.items[idx]
	if !fn(&item) {
		s.mu.Unlock()
		return false
	}
	s.items[idx] = item
	s.changedLocked()
	return true
}

func (s *Store) lockedLocked() bool {
	return s.quote.Status.LocksLineItems() || s.dealArchived
}

// editableLocked reports whether user edits are accepted. Edits are refused
// while a save or delete is in flight since the response replaces local state.
func (s *Store) editableLocked() bool {
	return !s.lockedLocked() && !s.saving && !s.deleting
}

// refreshDirtyLocked derives the pending flag. The first call establishes the
// baseline; the flag is frozen while a save or delete is in flight.
func (s *Store) refreshDirtyLocked() {
	key := takeSnapshot(s.quote, s.items, s.deleted).Key()
	if s.baseline == nil {
		s.baseline = &key
		s.pending = false
		return
	}
	if s.saving || s.deleting {
		return
	}
	s.pending = key != *s.baseline
}

// changedLocked recomputes derived state, releases mu and notifies subscribers.
func (s *Store) changedLocked() {
	s.refreshDirtyLocked()
	view := s.viewLocked()
	subs := make([]func(StateView), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(view)
	}
}

func (s *Store) viewLocked() StateView {
	editing := make([]ClientID, 0, len(s.editing))
	for _, item := range s.items {
		if _, ok := s.editing[item.Identity.Client()]; ok {
			editing = append(editing, item.Identity.Client())
		}
	}
	return StateView{
		Quote:              s.quote,
		LineItems:          cloneItems(s.items),
		DeletedLineItemIDs: append([]ServerID(nil), s.deleted...),
		DealArchived:       s.dealArchived,
		Editing:            editing,
		Saving:             s.saving,
		Deleting:           s.deleting,
		HasPendingChanges:  s.pending,
		LastError:          s.lastErr,
		Totals:             pricing.SumItems(s.items, LineItem.UnitPrice, s.quote.TaxRate),
	}
}

// State returns a copy of the current draft.
func (s *Store) State() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Snapshot returns the dirty-detection projection of the current draft.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return takeSnapshot(s.quote, s.items, s.deleted)
}

func (s *Store) Totals() pricing.Totals {
	return s.State().Totals
}

func (s *Store) HasPendingChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Store) IsSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

func (s *Store) IsDeleting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleting
}

func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers fn for every state change and returns the unsubscribe func.
// fn runs on the goroutine that made the change, after the store lock is released.
func (s *Store) Subscribe(fn func(StateView)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

func (s *Store) logError(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.mu.Lock()
	quoteID := s.quote.ID
	s.mu.Unlock()
	s.logg.Error(s.logg.WithQuoteID(ctx, string(quoteID)), msg, err)
}

func asPersistence(err error, msg string) error {
	return pkgerrors.WrapDependency(err, msg)
}

func containsServerID(ids []ServerID, id ServerID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func withoutServerIDs(ids, remove []ServerID) []ServerID {
	if len(remove) == 0 {
		return ids
	}
	out := make([]ServerID, 0, len(ids))
	for _, id := range ids {
		if !containsServerID(remove, id) {
			out = append(out, id)
		}
	}
	return out
}
