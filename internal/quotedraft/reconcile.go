package quotedraft

import "github.com/angelmondragon/fieldops-backend/pkg/types"

// Reconcile rebuilds the editable list from the server's line items. Items whose
// server id was known before keep their previous client id; everything else gets a
// fresh one from newID. The server's order is preserved.
func Reconcile(server []types.LineItemRecord, previous []LineItem, newID func() ClientID) []LineItem {
	if newID == nil {
		newID = NewClientID
	}
	known := make(map[ServerID]ClientID, len(previous))
	for _, item := range previous {
		if sid, ok := item.Identity.Persisted(); ok {
			known[sid] = item.Identity.Client()
		}
	}

	out := make([]LineItem, 0, len(server))
	for _, rec := range server {
		sid := ServerID(rec.ID)
		cid, ok := known[sid]
		if !ok || sid == "" {
			cid = newID()
		}
		identity := PersistedIdentity(cid, sid)
		if sid == "" {
			identity = DraftIdentity(cid)
		}
		out = append(out, LineItem{
			Identity:    identity,
			Name:        rec.Name,
			Description: rec.Description,
			PriceText:   rec.UnitPrice.String(),
			IsDiscount:  rec.IsDiscount,
		})
	}
	return out
}
