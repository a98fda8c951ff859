package quotedraft

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fieldops-backend/internal/notify"
	"github.com/angelmondragon/fieldops-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fieldops-backend/pkg/errors"
	"github.com/angelmondragon/fieldops-backend/pkg/types"
)

const (
	testCompanyID = "9f1c4e0a-3a57-4d1e-8f0b-5d6b3f6a2c11"
	testDealID    = "0b7a9c2e-6d44-4c8f-a1b3-2e5f7d9c4a60"
)

// fakeRemote mimics the quote store: it assigns ids, rewrites positions and applies
// deletions scoped to the quote.
type fakeRemote struct {
	mu       sync.Mutex
	quote    *types.QuoteRecord
	payloads []types.UpsertQuotePayload
	failWith error
	block    chan struct{}
	started  chan struct{}
	calls    int
}

func (f *fakeRemote) UpsertQuote(ctx context.Context, payload types.UpsertQuotePayload) (*types.QuoteRecord, error) {
	f.mu.Lock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	block, started := f.block, f.started
	failWith := f.failWith
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if failWith != nil {
		return nil, failWith
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quote == nil {
		f.quote = &types.QuoteRecord{
			ID:            uuid.NewString(),
			CompanyID:     payload.Quote.CompanyID,
			DealID:        payload.Quote.DealID,
			QuoteNumber:   "Q100",
			PublicShareID: uuid.NewString(),
			CreatedAt:     time.Now(),
		}
	}
	q := f.quote
	if payload.Quote.QuoteNumber != "" {
		q.QuoteNumber = payload.Quote.QuoteNumber
	}
	q.Title = payload.Quote.Title
	q.ClientMessage = payload.Quote.ClientMessage
	q.Disclaimer = payload.Quote.Disclaimer
	q.TaxRate = payload.Quote.TaxRate
	if payload.Quote.Status != "" {
		q.Status = payload.Quote.Status
	} else if q.Status == "" {
		q.Status = enums.QuoteStatusDraft
	}
	q.UpdatedAt = time.Now()

	deleted := map[string]bool{}
	for _, id := range payload.DeletedLineItemIDs {
		deleted[id] = true
	}
	items := make([]types.LineItemRecord, 0, len(payload.LineItems))
	for i, in := range payload.LineItems {
		id := in.ID
		if id == "" {
			id = uuid.NewString()
		}
		if deleted[id] {
			continue
		}
		items = append(items, types.LineItemRecord{
			ID:          id,
			Position:    i,
			Name:        in.Name,
			Description: in.Description,
			Quantity:    1,
			UnitPrice:   in.UnitPrice,
			IsDiscount:  in.IsDiscount,
		})
	}
	q.LineItems = items
	copied := *q
	copied.LineItems = append([]types.LineItemRecord(nil), items...)
	return &copied, nil
}

func (f *fakeRemote) GetQuote(ctx context.Context, quoteID string) (*types.QuoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quote == nil || f.quote.ID != quoteID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
	}
	copied := *f.quote
	copied.LineItems = append([]types.LineItemRecord(nil), f.quote.LineItems...)
	return &copied, nil
}

func (f *fakeRemote) lastPayload(t *testing.T) types.UpsertQuotePayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		t.Fatalf("no upsert was sent")
	}
	return f.payloads[len(f.payloads)-1]
}

type stubCatalog struct {
	templates []types.ProductTemplate
	err       error
}

func (s stubCatalog) ListProductTemplates(ctx context.Context, companyID string) ([]types.ProductTemplate, error) {
	return s.templates, s.err
}

func sequentialIDs() func() ClientID {
	var mu sync.Mutex
	n := 0
	return func() ClientID {
		mu.Lock()
		defer mu.Unlock()
		n++
		return ClientID(fmt.Sprintf("c%d", n))
	}
}

func newTestStore(t *testing.T, remote *fakeRemote) *Store {
	t.Helper()
	store, err := NewStore(StoreParams{
		Remote:  remote,
		Catalog: stubCatalog{},
		NewID:   sequentialIDs(),
		Quote:   Quote{CompanyID: testCompanyID, DealID: testDealID, TaxRate: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestIdentityStabilityAcrossSaveAndReload(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	first, _ := store.AddLineItem(false)
	second, _ := store.AddLineItem(false)
	store.EditField(first, FieldName, "Gutter clean")
	store.EditField(second, FieldName, "Downspout repair")

	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// fresh ids after the first save; these must survive every later round trip
	afterFirst := store.State().LineItems
	store.BeginEdit(afterFirst[1].Identity.Client())

	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := store.Load(ctx, store.State().Quote.ID); err != nil {
		t.Fatalf("reload: %v", err)
	}

	afterReload := store.State().LineItems
	if len(afterReload) != 2 {
		t.Fatalf("expected 2 items got %d", len(afterReload))
	}
	for i := range afterFirst {
		if afterFirst[i].Identity.Client() != afterReload[i].Identity.Client() {
			t.Fatalf("client id changed for item %d: %s -> %s", i, afterFirst[i].Identity.Client(), afterReload[i].Identity.Client())
		}
	}
	if !store.IsEditing(afterFirst[1].Identity.Client()) {
		t.Fatalf("editing state should survive the round trip")
	}
}

func TestDeletionRoundTrip(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	id, _ := store.AddLineItem(false)
	store.EditField(id, FieldName, "Window wash")
	keep, _ := store.AddLineItem(false)
	store.EditField(keep, FieldName, "Screen repair")
	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}

	target := store.State().LineItems[0]
	serverID, ok := target.Identity.Persisted()
	if !ok {
		t.Fatalf("saved item should be persisted")
	}
	if !store.DeleteLineItem(target.Identity.Client()) {
		t.Fatalf("delete should apply")
	}
	if got := store.State().DeletedLineItemIDs; !reflect.DeepEqual(got, []ServerID{serverID}) {
		t.Fatalf("expected tombstone %s got %v", serverID, got)
	}

	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("save after delete: %v", err)
	}
	payload := remote.lastPayload(t)
	if !reflect.DeepEqual(payload.DeletedLineItemIDs, []string{string(serverID)}) {
		t.Fatalf("payload should carry exactly the deleted id, got %v", payload.DeletedLineItemIDs)
	}
	if len(store.State().DeletedLineItemIDs) != 0 {
		t.Fatalf("tombstones should clear after save")
	}

	if err := store.Load(ctx, store.State().Quote.ID); err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, item := range store.State().LineItems {
		if sid, _ := item.Identity.Persisted(); sid == serverID {
			t.Fatalf("deleted item reappeared after reload")
		}
	}
}

func TestUnsavedItemDeletionLeavesNoTombstone(t *testing.T) {
	store := newTestStore(t, &fakeRemote{})
	id, _ := store.AddLineItem(false)
	if !store.DeleteLineItem(id) {
		t.Fatalf("delete should apply")
	}
	if got := store.State().DeletedLineItemIDs; len(got) != 0 {
		t.Fatalf("unsaved delete should not add tombstones, got %v", got)
	}
}

func TestDuplicateDeleteIsDeduplicated(t *testing.T) {
	store := newTestStore(t, &fakeRemote{})
	store.mu.Lock()
	store.items = []LineItem{
		{Identity: PersistedIdentity("a", "srv-1"), Name: "A", PriceText: "1"},
		{Identity: PersistedIdentity("b", "srv-1"), Name: "B", PriceText: "1"},
	}
	store.mu.Unlock()

	store.DeleteLineItem("a")
	store.DeleteLineItem("b")
	if got := store.State().DeletedLineItemIDs; len(got) != 1 {
		t.Fatalf("expected a single tombstone got %v", got)
	}
}

func TestLockedDraftIgnoresMutations(t *testing.T) {
	cases := []struct {
		name     string
		status   enums.QuoteStatus
		archived bool
	}{
		{name: "accepted quote", status: enums.QuoteStatusAccepted},
		{name: "archived deal", status: enums.QuoteStatusSent, archived: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := NewStore(StoreParams{
				Remote: &fakeRemote{},
				Catalog: stubCatalog{templates: []types.ProductTemplate{
					{ID: "tpl-1", Name: "Template", UnitPrice: decimal.NewFromInt(5)},
				}},
				Quote:        Quote{ID: "q1", CompanyID: testCompanyID, DealID: testDealID, Status: tc.status},
				LineItems:    []LineItem{{Identity: PersistedIdentity("c1", "srv-1"), Name: "Roof", PriceText: "100"}},
				DealArchived: tc.archived,
			})
			if err != nil {
				t.Fatalf("new store: %v", err)
			}
			before := store.State()

			if _, ok := store.AddLineItem(false); ok {
				t.Fatalf("add should be rejected")
			}
			if store.EditField("c1", FieldName, "changed") {
				t.Fatalf("edit should be rejected")
			}
			if store.EditPrice("c1", "1") {
				t.Fatalf("price edit should be rejected")
			}
			if store.DeleteLineItem("c1") {
				t.Fatalf("delete should be rejected")
			}
			applied, err := store.ApplyTemplate(context.Background(), "c1", "tpl-1")
			if err != nil || applied {
				t.Fatalf("template should be rejected, applied=%v err=%v", applied, err)
			}

			if after := store.State(); !reflect.DeepEqual(before, after) {
				t.Fatalf("locked state changed:\nbefore %+v\nafter  %+v", before, after)
			}
		})
	}
}

func TestDirtyDetection(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, &fakeRemote{})
	if store.HasPendingChanges() {
		t.Fatalf("first computation establishes the baseline")
	}

	id, _ := store.AddLineItem(false)
	if !store.HasPendingChanges() {
		t.Fatalf("adding an item should be pending")
	}
	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.HasPendingChanges() {
		t.Fatalf("no pending changes right after save")
	}

	id = store.State().LineItems[0].Identity.Client()
	store.EditField(id, FieldDescription, "north side")
	if !store.HasPendingChanges() {
		t.Fatalf("field edit after save should be pending")
	}
	store.EditField(id, FieldDescription, "")
	if store.HasPendingChanges() {
		t.Fatalf("reverting the edit should clear pending")
	}
}

func TestDirtyFlagFrozenWhileSaving(t *testing.T) {
	remote := &fakeRemote{block: make(chan struct{}), started: make(chan struct{}, 1)}
	store := newTestStore(t, remote)

	done := make(chan error, 1)
	go func() {
		_, err := store.Save(context.Background())
		done <- err
	}()
	<-remote.started

	if !store.IsSaving() {
		t.Fatalf("expected saving flag while upsert in flight")
	}
	if store.HasPendingChanges() {
		t.Fatalf("pending flag should not flip while saving")
	}

	close(remote.block)
	if err := <-done; err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.IsSaving() {
		t.Fatalf("saving flag should clear")
	}
}

func TestEditsRejectedWhileSaveInFlight(t *testing.T) {
	ctx := context.Background()
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	first, _ := store.AddLineItem(false)
	store.EditField(first, FieldName, "Gutter clean")
	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("first save: %v", err)
	}
	persisted := store.State().LineItems[0]
	serverID, ok := persisted.Identity.Persisted()
	if !ok {
		t.Fatalf("expected persisted identity after save")
	}

	remote.mu.Lock()
	remote.block = make(chan struct{})
	remote.started = make(chan struct{}, 1)
	block := remote.block
	started := remote.started
	remote.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := store.Save(ctx)
		done <- err
	}()
	<-started

	if _, ok := store.AddLineItem(false); ok {
		t.Fatalf("add should be refused while saving")
	}
	if store.DeleteLineItem(persisted.Identity.Client()) {
		t.Fatalf("delete should be refused while saving")
	}
	if store.EditField(persisted.Identity.Client(), FieldName, "Roof wash") {
		t.Fatalf("field edit should be refused while saving")
	}
	if store.EditQuoteField(QuoteFieldTitle, "Spring maintenance") {
		t.Fatalf("quote edit should be refused while saving")
	}
	if store.SetTaxRate(decimal.NewFromInt(5)) {
		t.Fatalf("tax rate change should be refused while saving")
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("second save: %v", err)
	}

	state := store.State()
	if len(state.LineItems) != 1 || state.LineItems[0].Name != "Gutter clean" {
		t.Fatalf("unexpected items after save: %+v", state.LineItems)
	}
	if len(state.DeletedLineItemIDs) != 0 {
		t.Fatalf("expected no tombstones, got %v", state.DeletedLineItemIDs)
	}
	if state.Quote.Title != "" {
		t.Fatalf("title should be unchanged, got %q", state.Quote.Title)
	}
	if store.HasPendingChanges() {
		t.Fatalf("draft should be clean after save")
	}

	remote.mu.Lock()
	remote.block, remote.started = nil, nil
	remote.mu.Unlock()

	if !store.DeleteLineItem(persisted.Identity.Client()) {
		t.Fatalf("delete should succeed once the save settles")
	}
	if _, err := store.Save(ctx); err != nil {
		t.Fatalf("third save: %v", err)
	}
	payload := remote.lastPayload(t)
	if !reflect.DeepEqual(payload.DeletedLineItemIDs, []string{string(serverID)}) {
		t.Fatalf("unexpected deleted ids: %v", payload.DeletedLineItemIDs)
	}
	for _, item := range payload.LineItems {
		if item.ID == string(serverID) {
			t.Fatalf("item %s sent as both kept and deleted", serverID)
		}
	}
}

func TestSaveFailureLeavesDraftUntouched(t *testing.T) {
	remote := &fakeRemote{failWith: errors.New("connection reset")}
	rec := &notify.Recorder{}
	store, err := NewStore(StoreParams{
		Remote:   remote,
		Notifier: rec,
		NewID:    sequentialIDs(),
		Quote:    Quote{CompanyID: testCompanyID, DealID: testDealID},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	id, _ := store.AddLineItem(false)
	store.EditField(id, FieldName, "Pressure wash")
	before := store.State()

	_, err = store.Save(context.Background())
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	after := store.State()
	if !reflect.DeepEqual(before.LineItems, after.LineItems) || !reflect.DeepEqual(before.Quote, after.Quote) {
		t.Fatalf("draft changed after failed save")
	}
	if after.LastError == nil || !after.HasPendingChanges {
		t.Fatalf("expected error flag and pending changes, got %+v", after)
	}
	if msg, ok := rec.Last(); !ok || msg.Kind != notify.KindError {
		t.Fatalf("expected error notification")
	}

	remote.mu.Lock()
	remote.failWith = nil
	remote.mu.Unlock()
	if _, err := store.Save(context.Background()); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if store.LastError() != nil {
		t.Fatalf("error flag should clear after a successful save")
	}
}

func TestServerStateConflictKeepsCode(t *testing.T) {
	remote := &fakeRemote{failWith: pkgerrors.New(pkgerrors.CodeStateConflict, "quote is accepted")}
	store := newTestStore(t, remote)
	_, err := store.Save(context.Background())
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict to pass through, got %v", err)
	}
}

func TestPayloadPositionsAndDiscountSign(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	item, _ := store.AddLineItem(false)
	store.EditField(item, FieldName, "Install")
	store.EditPrice(item, " $1,250.00 ")
	disc, _ := store.AddLineItem(true)
	store.EditPrice(disc, "50")

	if got := store.State().LineItems[0].PriceText; got != " $1,250.00 " {
		t.Fatalf("price text should be kept as typed, got %q", got)
	}
	if _, err := store.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}

	payload := remote.lastPayload(t)
	if len(payload.LineItems) != 2 {
		t.Fatalf("expected 2 payload items got %d", len(payload.LineItems))
	}
	for i, li := range payload.LineItems {
		if li.Position != i {
			t.Fatalf("item %d has position %d", i, li.Position)
		}
	}
	if !payload.LineItems[0].UnitPrice.Equal(decimal.RequireFromString("1250")) {
		t.Fatalf("unexpected parsed price %s", payload.LineItems[0].UnitPrice)
	}
	if payload.LineItems[1].Name != "Discount" || !payload.LineItems[1].UnitPrice.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("discount should be named and negative, got %+v", payload.LineItems[1])
	}

	totals := store.Totals()
	if !totals.Subtotal.Equal(decimal.NewFromInt(1200)) || !totals.Total.Equal(decimal.NewFromInt(1320)) {
		t.Fatalf("unexpected totals %+v", totals)
	}
}

func TestApplyTemplate(t *testing.T) {
	store, err := NewStore(StoreParams{
		Remote: &fakeRemote{},
		Catalog: stubCatalog{templates: []types.ProductTemplate{
			{ID: "tpl-1", Name: "Gutter guard", Description: "per 10ft", UnitPrice: decimal.NewFromInt(80)},
		}},
		NewID: sequentialIDs(),
		Quote: Quote{CompanyID: testCompanyID, DealID: testDealID},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	id, _ := store.AddLineItem(false)
	ctx := context.Background()

	if applied, _ := store.ApplyTemplate(ctx, id, ""); applied {
		t.Fatalf("empty template id should be a no-op")
	}
	if applied, _ := store.ApplyTemplate(ctx, id, "missing"); applied {
		t.Fatalf("unknown template should be a no-op")
	}
	applied, err := store.ApplyTemplate(ctx, id, "tpl-1")
	if err != nil || !applied {
		t.Fatalf("expected template applied, err=%v", err)
	}
	item := store.State().LineItems[0]
	if item.Name != "Gutter guard" || item.Description != "per 10ft" || item.PriceText != "80" {
		t.Fatalf("unexpected item after template %+v", item)
	}
}

func TestApplyTemplateCatalogFailure(t *testing.T) {
	store, err := NewStore(StoreParams{
		Remote:  &fakeRemote{},
		Catalog: stubCatalog{err: errors.New("503")},
		Quote:   Quote{CompanyID: testCompanyID, DealID: testDealID},
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	id, _ := store.AddLineItem(false)
	if _, err := store.ApplyTemplate(context.Background(), id, "tpl-1"); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error got %v", err)
	}
}

func TestConcurrentCreateIssuesSingleUpsert(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	var wg sync.WaitGroup
	ids := make([]ServerID, 5)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := store.Create(context.Background())
			if err != nil {
				t.Errorf("create: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if remote.calls != 1 {
		t.Fatalf("expected exactly one upsert, got %d", remote.calls)
	}
	for _, id := range ids {
		if id == "" || id != ids[0] {
			t.Fatalf("all callers should see the same id, got %v", ids)
		}
	}
}

func TestSavesAreQueued(t *testing.T) {
	remote := &fakeRemote{block: make(chan struct{}), started: make(chan struct{}, 2)}
	store := newTestStore(t, remote)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.Save(context.Background())
	}()
	<-remote.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = store.Save(context.Background())
	}()

	// the second save must wait for the first
	select {
	case <-remote.started:
		t.Fatalf("second upsert started before the first returned")
	case <-time.After(50 * time.Millisecond):
	}
	close(remote.block)
	<-remote.started
	wg.Wait()

	if remote.calls != 2 {
		t.Fatalf("expected two upserts, got %d", remote.calls)
	}
	if got := remote.lastPayload(t).Quote.ID; got == "" || got != string(store.State().Quote.ID) {
		t.Fatalf("queued save should carry the id adopted from the first, got %q", got)
	}
}

func TestSendRequiresSavedQuote(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)

	if _, err := store.Send(context.Background()); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if remote.calls != 0 {
		t.Fatalf("validation failures must not reach the store")
	}

	if _, err := store.Create(context.Background()); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := store.Send(context.Background())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if rec.Status != enums.QuoteStatusSent || store.State().Quote.Status != enums.QuoteStatusSent {
		t.Fatalf("expected sent status")
	}
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	if _, err := store.Transition(context.Background(), enums.QuoteStatusAccepted); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("draft cannot jump to accepted, got %v", err)
	}
	if store.State().Quote.Status != enums.QuoteStatusDraft {
		t.Fatalf("status should not change")
	}
}

func TestSnapshotOverrideBecomesBaseline(t *testing.T) {
	store := newTestStore(t, &fakeRemote{})
	override := store.Snapshot()
	override.Title = "declared elsewhere"

	if _, err := store.Save(context.Background(), WithSnapshotOverride(override)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !store.HasPendingChanges() {
		t.Fatalf("state differs from the declared baseline")
	}
	store.EditQuoteField(QuoteFieldTitle, "declared elsewhere")
	if store.HasPendingChanges() {
		t.Fatalf("matching the declared baseline clears pending")
	}
}

func TestDeleteLineItemAndSave(t *testing.T) {
	remote := &fakeRemote{}
	store := newTestStore(t, remote)
	id, _ := store.AddLineItem(false)
	store.EditField(id, FieldName, "Trim")
	if _, err := store.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	saved := store.State().LineItems[0]

	remote.block = make(chan struct{})
	remote.started = make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- store.DeleteLineItemAndSave(context.Background(), saved.Identity.Client()) }()
	<-remote.started
	if !store.IsDeleting() {
		t.Fatalf("deleting flag should be set while in flight")
	}
	if store.HasPendingChanges() {
		t.Fatalf("pending flag frozen while deleting")
	}
	close(remote.block)
	if err := <-done; err != nil {
		t.Fatalf("delete and save: %v", err)
	}
	state := store.State()
	if state.Deleting || state.HasPendingChanges || len(state.LineItems) != 0 || len(state.DeletedLineItemIDs) != 0 {
		t.Fatalf("unexpected state after delete %+v", state)
	}
}

func TestSubscribersSeeChanges(t *testing.T) {
	store := newTestStore(t, &fakeRemote{})
	var views []StateView
	unsubscribe := store.Subscribe(func(v StateView) { views = append(views, v) })

	store.AddLineItem(false)
	if len(views) != 1 || len(views[0].LineItems) != 1 {
		t.Fatalf("expected one notification with the new item, got %d", len(views))
	}
	unsubscribe()
	store.AddLineItem(false)
	if len(views) != 1 {
		t.Fatalf("unsubscribed callback should not fire")
	}
}
