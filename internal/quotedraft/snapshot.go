package quotedraft

import (
	"encoding/json"

	"github.com/angelmondragon/fieldops-backend/pkg/enums"
)

// Snapshot is the projection compared to decide whether the draft has unsaved changes.
type Snapshot struct {
	QuoteNumber        string            `json:"quoteNumber"`
	Title              string            `json:"title"`
	ClientMessage      string            `json:"clientMessage"`
	Disclaimer         string            `json:"disclaimer"`
	Status             enums.QuoteStatus `json:"status"`
	LineItems          []snapshotItem    `json:"lineItems"`
	DeletedLineItemIDs []ServerID        `json:"deletedLineItemIds"`
}

type snapshotItem struct {
	ServerID    ServerID `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       string   `json:"unitPrice"`
	IsDiscount  bool     `json:"isDiscount"`
}

func takeSnapshot(q Quote, items []LineItem, deleted []ServerID) Snapshot {
	snap := Snapshot{
		QuoteNumber:        q.QuoteNumber,
		Title:              q.Title,
		ClientMessage:      q.ClientMessage,
		Disclaimer:         q.Disclaimer,
		Status:             q.Status,
		LineItems:          make([]snapshotItem, 0, len(items)),
		DeletedLineItemIDs: append([]ServerID{}, deleted...),
	}
	for _, item := range items {
		sid, _ := item.Identity.Persisted()
		snap.LineItems = append(snap.LineItems, snapshotItem{
			ServerID:    sid,
			Name:        item.Name,
			Description: item.Description,
			Price:       item.UnitPrice().String(),
			IsDiscount:  item.IsDiscount,
		})
	}
	return snap
}

// Key serializes the snapshot for structural comparison.
func (s Snapshot) Key() string {
	raw, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(raw)
}
