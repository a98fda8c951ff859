// Package quotedraft keeps an editable quote in memory and synchronizes it with the
// quote store, preserving local line item identity across save and reload.
package quotedraft

import "github.com/google/uuid"

// ClientID is generated locally and is the only stable key across a line item's lifetime.
type ClientID string

// ServerID is assigned by the quote store once a row has been persisted.
type ServerID string

// Identity is either a draft (client id only) or persisted (client and server id).
type Identity struct {
	client ClientID
	server ServerID
}

// DraftIdentity identifies an item that has never been saved.
func DraftIdentity(client ClientID) Identity {
	return Identity{client: client}
}

// PersistedIdentity identifies an item the store knows as server.
func PersistedIdentity(client ClientID, server ServerID) Identity {
	return Identity{client: client, server: server}
}

func (i Identity) Client() ClientID {
	return i.client
}

// Persisted returns the server id and true once the item has been saved at least once.
func (i Identity) Persisted() (ServerID, bool) {
	return i.server, i.server != ""
}

// NewClientID generates a random client id.
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}
