package changeorderdraft

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/internal/notify"
	"github.com/angelmondragon/fieldops-backend/internal/pricing"
	"github.com/angelmondragon/fieldops-backend/internal/quotedraft"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/logger"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

// QuoteRef identifies the accepted quote the change order is layered on.
type QuoteRef struct {
	ID          string
	CompanyID   string
	DealID      string
	QuoteNumber string
}

// QuoteRefFrom reads the quote identity out of a draft store view.
func QuoteRefFrom(view quotedraft.StateView) QuoteRef {
	return QuoteRef{
		ID:          string(view.Quote.ID),
		CompanyID:   view.Quote.CompanyID,
		DealID:      view.Quote.DealID,
		QuoteNumber: view.Quote.QuoteNumber,
	}
}

// Item is one change order line. Price is always positive; discounts are signed on send.
type Item struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	IsDiscount  bool
}

// ItemInput adds a new item (empty ID) or replaces the item with the same ID.
type ItemInput struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	IsDiscount  bool
}

// Draft is the locally held pending change order. ID is empty until persisted.
type Draft struct {
	ID        string
	Number    string
	InvoiceID *string
	Items     []Item
}

func (d Draft) clone() Draft {
	d.Items = append([]Item(nil), d.Items...)
	return d
}

// Empty reports whether there is no draft at all.
func (d Draft) Empty() bool {
	return d.ID == "" && len(d.Items) == 0
}

// FormField names an editable field of the item form.
type FormField string

const (
	FormName        FormField = "name"
	FormDescription FormField = "description"
	FormPrice       FormField = "price"
)

// Form is the add/edit item form. EditingID is empty when adding.
type Form struct {
	Visible     bool
	EditingID   string
	Name        string
	Description string
	Price       string
}

// View is an immutable copy of the manager state.
type View struct {
	Quote     QuoteRef
	Draft     Draft
	Form      Form
	Saving    bool
	Accepting bool
	LastError error
	Total     decimal.Decimal
}

type ManagerParams struct {
	Remote      Persister
	Invoices    InvoiceLookup
	Coordinator *Coordinator
	Notifier    notify.Notifier
	Logger      *logger.Logger
	NewItemID   func() string
	Quote       QuoteRef
}

// Manager owns at most one pending change order for a quote. Operations are
// serialized; each applies its local effect before the remote call returns and
// rolls it back on failure.
type Manager struct {
	remote      Persister
	invoices    InvoiceLookup
	coordinator *Coordinator
	notify      notify.Notifier
	logg        *logger.Logger
	newItemID   func() string

	opMu sync.Mutex

	mu          sync.Mutex
	quote       QuoteRef
	draft       Draft
	form        Form
	existing    []string
	saving      bool
	accepting   bool
	lastErr     error
	subscribers map[int]func(View)
	nextSub     int
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Remote == nil {
		return nil, errors.New("change order persister is required")
	}
	if params.Coordinator == nil {
		return nil, errors.New("acceptance coordinator is required")
	}
	newItemID := params.NewItemID
	if newItemID == nil {
		newItemID = uuid.NewString
	}
	return &Manager{
		remote:      params.Remote,
		invoices:    params.Invoices,
		coordinator: params.Coordinator,
		notify:      notify.OrNop(params.Notifier),
		logg:        params.Logger,
		newItemID:   newItemID,
		quote:       params.Quote,
		subscribers: map[int]func(View){},
	}, nil
}

// SetQuote updates the quote identity, e.g. after the draft store saved.
func (m *Manager) SetQuote(ref QuoteRef) {
	m.mu.Lock()
	m.quote = ref
	m.changedLocked()
}

// Sync adopts the newest pending change order of this quote from the deal-wide list.
// A previously adopted draft that is no longer pending is dropped locally. While an
// operation is in flight only the known numbers are refreshed.
func (m *Manager) Sync(records []types.ChangeOrderRecord) {
	m.mu.Lock()
	var (
		numbers      []string
		newest       *types.ChangeOrderRecord
		stillPending bool
	)
	for i := range records {
		rec := &records[i]
		if rec.QuoteID != m.quote.ID {
			continue
		}
		numbers = append(numbers, rec.ChangeOrderNumber)
		if rec.Status != enums.ChangeOrderStatusPending {
			continue
		}
		if rec.ID == m.draft.ID {
			stillPending = true
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	m.existing = numbers

	if m.saving || m.accepting {
		m.changedLocked()
		return
	}
	switch {
	case newest != nil:
		m.draft = draftFromRecord(*newest)
	case m.draft.ID != "" && !stillPending:
		m.draft = Draft{}
	}
	m.changedLocked()
}

// AddOrEditItem validates the input, shows the new list and the success message
// immediately, then persists the whole list. A failed persist restores the previous
// list and form.
func (m *Manager) AddOrEditItem(ctx context.Context, in ItemInput) error {
	if err := validateItem(in); err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.quote.ID == "" {
		m.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation, "save the quote before adding change order items")
	}
	saga := m.beginLocked()

	item := Item{ID: in.ID, Name: strings.TrimSpace(in.Name), Description: in.Description, Price: in.Price, IsDiscount: in.IsDiscount}
	replaced := false
	if item.ID != "" {
		for i := range m.draft.Items {
			if m.draft.Items[i].ID == item.ID {
				m.draft.Items[i] = item
				replaced = true
				break
			}
		}
	}
	if !replaced {
		if item.ID == "" {
			item.ID = m.newItemID()
		}
		m.draft.Items = append(m.draft.Items, item)
	}
	m.form = Form{}
	m.saving = true
	m.changedLocked()
	m.notify.Success(ctx, "Change order updated")

	err := m.persist(ctx)
	m.finish(ctx, saga, err, "Could not save change order")
	return err
}

// DeleteItem removes an item. Removing the last one discards the change order.
func (m *Manager) DeleteItem(ctx context.Context, itemID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	idx := -1
	for i := range m.draft.Items {
		if m.draft.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	saga := m.beginLocked()
	m.draft.Items = append(m.draft.Items[:idx:idx], m.draft.Items[idx+1:]...)
	if m.form.EditingID == itemID {
		m.form = Form{}
	}

	var err error
	if len(m.draft.Items) == 0 {
		discardID := m.draft.ID
		m.draft = Draft{}
		m.saving = true
		m.changedLocked()
		if discardID != "" {
			if derr := m.remote.DiscardChangeOrder(ctx, discardID); derr != nil {
				err = pkgerrors.WrapDependency(derr, "discard change order")
			} else {
				m.mu.Lock()
				m.existing = removeString(m.existing, saga.draft.Number)
				m.mu.Unlock()
			}
		}
	} else {
		m.saving = true
		m.changedLocked()
		err = m.persist(ctx)
	}
	m.finish(ctx, saga, err, "Could not remove change order item")
	return err
}

// AcceptDraft accepts the pending change order against the quote's invoice. Without
// an invoice nothing is sent and a prerequisite error is returned.
func (m *Manager) AcceptDraft(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	draftID := m.draft.ID
	quoteID := m.quote.ID
	m.mu.Unlock()
	if draftID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "there is no pending change order to accept")
	}

	invoiceID, err := m.invoiceID(ctx, quoteID)
	if err != nil {
		m.fail(ctx, err, "Could not load invoice")
		return err
	}
	if invoiceID == "" {
		err := pkgerrors.New(pkgerrors.CodePrerequisite, "an invoice is required before accepting a change order")
		m.fail(ctx, err, "Create an invoice before accepting the change order")
		return err
	}

	m.mu.Lock()
	m.accepting = true
	m.changedLocked()

	rec, err := m.coordinator.Accept(ctx, draftID, invoiceID)

	m.mu.Lock()
	m.accepting = false
	if err != nil {
		m.lastErr = err
		m.changedLocked()
		m.notify.Error(ctx, "Could not accept change order", err)
		return err
	}
	m.draft = Draft{}
	m.form = Form{}
	m.lastErr = nil
	if !containsString(m.existing, rec.ChangeOrderNumber) {
		m.existing = append(m.existing, rec.ChangeOrderNumber)
	}
	m.changedLocked()
	m.notify.Success(ctx, "Change order accepted")
	return nil
}

// persist sends the current draft. Caller holds opMu; mu must be unlocked.
func (m *Manager) persist(ctx context.Context) error {
	m.mu.Lock()
	quote := m.quote
	if m.draft.Number == "" {
		m.draft.Number = NextChangeOrderNumber(quote.QuoteNumber, m.existing)
	}
	draft := m.draft.clone()
	m.mu.Unlock()

	invoiceID := draft.InvoiceID
	if invoiceID == nil {
		if id, err := m.invoiceID(ctx, quote.ID); err == nil && id != "" {
			invoiceID = &id
		} else if err != nil && m.logg != nil {
			m.logg.Warn(m.logg.WithField(m.logg.WithQuoteID(ctx, quote.ID), "error", err.Error()), "invoice lookup failed, saving change order without invoice")
		}
	}

	payload := types.ChangeOrderPayload{
		CompanyID:         quote.CompanyID,
		DealID:            quote.DealID,
		QuoteID:           quote.ID,
		InvoiceID:         invoiceID,
		ChangeOrderNumber: draft.Number,
		Items:             make([]types.ChangeOrderItemInput, 0, len(draft.Items)),
	}
	for _, item := range draft.Items {
		payload.Items = append(payload.Items, types.ChangeOrderItemInput{
			ID:          item.ID,
			Name:        item.Name,
			Description: item.Description,
			UnitPrice:   pricing.NormalizeDiscount(item.Price, item.IsDiscount),
			IsDiscount:  item.IsDiscount,
		})
	}

	rec, err := m.remote.CreateOrReplaceChangeOrder(ctx, payload)
	if err != nil {
		return pkgerrors.WrapDependency(err, "save change order")
	}
	if rec == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "quote store returned no change order")
	}

	m.mu.Lock()
	m.draft = draftFromRecord(*rec)
	if !containsString(m.existing, rec.ChangeOrderNumber) {
		m.existing = append(m.existing, rec.ChangeOrderNumber)
	}
	m.mu.Unlock()
	return nil
}

// finish ends an optimistic operation: rollback and report on err, clear flags otherwise.
func (m *Manager) finish(ctx context.Context, saga *optimistic, err error, failMsg string) {
	if err != nil {
		saga.rollback()
		m.mu.Lock()
		m.saving = false
		m.lastErr = err
		m.changedLocked()
		m.notify.Error(ctx, failMsg, err)
		if m.logg != nil {
			m.logg.Error(m.logg.WithQuoteID(ctx, saga.quoteID), failMsg, err)
		}
		return
	}
	m.mu.Lock()
	m.saving = false
	m.lastErr = nil
	m.changedLocked()
}

func (m *Manager) fail(ctx context.Context, err error, msg string) {
	m.mu.Lock()
	m.lastErr = err
	m.changedLocked()
	m.notify.Error(ctx, msg, err)
}

func (m *Manager) invoiceID(ctx context.Context, quoteID string) (string, error) {
	if m.invoices == nil || quoteID == "" {
		return "", nil
	}
	inv, err := m.invoices.GetInvoiceByQuoteID(ctx, quoteID)
	if err != nil {
		return "", pkgerrors.WrapDependency(err, "load invoice")
	}
	if inv == nil {
		return "", nil
	}
	return inv.ID, nil
}

// OpenNewItemForm shows an empty form for adding an item.
func (m *Manager) OpenNewItemForm() {
	m.mu.Lock()
	m.form = Form{Visible: true}
	m.changedLocked()
}

// OpenEditForm shows the form prefilled with the item. Unknown ids are ignored.
func (m *Manager) OpenEditForm(itemID string) bool {
	m.mu.Lock()
	for _, item := range m.draft.Items {
		if item.ID == itemID {
			m.form = Form{
				Visible:     true,
				EditingID:   item.ID,
				Name:        item.Name,
				Description: item.Description,
				Price:       item.Price.String(),
			}
			m.changedLocked()
			return true
		}
	}
	m.mu.Unlock()
	return false
}

func (m *Manager) SetFormField(field FormField, value string) {
	m.mu.Lock()
	switch field {
	case FormName:
		m.form.Name = value
	case FormDescription:
		m.form.Description = value
	case FormPrice:
		m.form.Price = value
	}
	m.changedLocked()
}

func (m *Manager) CloseForm() {
	m.mu.Lock()
	m.form = Form{}
	m.changedLocked()
}

// SubmitForm runs AddOrEditItem with the form's values.
func (m *Manager) SubmitForm(ctx context.Context) error {
	m.mu.Lock()
	form := m.form
	var isDiscount bool
	for _, item := range m.draft.Items {
		if item.ID == form.EditingID {
			isDiscount = item.IsDiscount
		}
	}
	m.mu.Unlock()
	return m.AddOrEditItem(ctx, ItemInput{
		ID:          form.EditingID,
		Name:        form.Name,
		Description: form.Description,
		Price:       pricing.ParsePrice(form.Price),
		IsDiscount:  isDiscount,
	})
}

// State returns a copy of the manager state.
func (m *Manager) State() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Subscribe registers fn for every state change and returns the unsubscribe func.
func (m *Manager) Subscribe(fn func(View)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *Manager) viewLocked() View {
	return View{
		Quote:     m.quote,
		Draft:     m.draft.clone(),
		Form:      m.form,
		Saving:    m.saving,
		Accepting: m.accepting,
		LastError: m.lastErr,
		Total:     itemsTotal(m.draft.Items),
	}
}

// changedLocked releases mu and notifies subscribers with the new view.
func (m *Manager) changedLocked() {
	view := m.viewLocked()
	subs := make([]func(View), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(view)
	}
}

func validateItem(in ItemInput) error {
	details := map[string]string{}
	if strings.TrimSpace(in.Name) == "" {
		details["name"] = "name is required"
	}
	if !in.Price.IsPositive() {
		details["price"] = "price must be greater than zero"
	}
	if len(details) == 0 {
		return nil
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return pkgerrors.New(pkgerrors.CodeValidation, details[keys[0]]).WithDetails(details)
}

func draftFromRecord(rec types.ChangeOrderRecord) Draft {
	d := Draft{
		ID:        rec.ID,
		Number:    rec.ChangeOrderNumber,
		InvoiceID: rec.InvoiceID,
		Items:     make([]Item, 0, len(rec.Items)),
	}
	for _, it := range rec.Items {
		d.Items = append(d.Items, Item{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.UnitPrice.Abs(),
			IsDiscount:  it.IsDiscount,
		})
	}
	return d
}

func itemsTotal(items []Item) decimal.Decimal {
	return pricing.SumItems(items, func(it Item) decimal.Decimal {
		return pricing.NormalizeDiscount(it.Price, it.IsDiscount)
	}, decimal.Zero).Total
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func removeString(values []string, v string) []string {
	out := values[:0:0]
	for _, candidate := range values {
		if candidate != v {
			out = append(out, candidate)
		}
	}
	return out
}
