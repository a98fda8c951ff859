package enums

import "slices"

// OutboxAggregateType names the document an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateQuote       OutboxAggregateType = "quote"
	AggregateChangeOrder OutboxAggregateType = "change_order"
	AggregateInvoice     OutboxAggregateType = "invoice"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateQuote, AggregateChangeOrder, AggregateInvoice:
		return true
	}
	return false
}

// OutboxEventType names the domain event stored in outbox_events.
type OutboxEventType string

const (
	EventQuoteSaved           OutboxEventType = "quote_saved"
	EventChangeOrderUpserted  OutboxEventType = "change_order_upserted"
	EventChangeOrderDiscarded OutboxEventType = "change_order_discarded"
	EventChangeOrderAccepted  OutboxEventType = "change_order_accepted"
	EventInvoiceCreated       OutboxEventType = "invoice_created"
	EventInvoiceRecalculated  OutboxEventType = "invoice_recalculated"
)

// eventAggregates pins every event type to the only aggregate allowed to emit it.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventQuoteSaved:           AggregateQuote,
	EventChangeOrderUpserted:  AggregateChangeOrder,
	EventChangeOrderDiscarded: AggregateChangeOrder,
	EventChangeOrderAccepted:  AggregateChangeOrder,
	EventInvoiceCreated:       AggregateInvoice,
	EventInvoiceRecalculated:  AggregateInvoice,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type that owns e.
func (e OutboxEventType) Aggregate() (OutboxAggregateType, bool) {
	agg, ok := eventAggregates[e]
	return agg, ok
}

// OutboxEventTypes lists the known event types in lexical order.
func OutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, 0, len(eventAggregates))
	for e := range eventAggregates {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}
