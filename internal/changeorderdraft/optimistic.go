package changeorderdraft

// optimistic captures the draft and form before a local change is applied so a
// failed remote call can put both back.
type optimistic struct {
	m       *Manager
	quoteID string
	draft   Draft
	form    Form
}

// beginLocked must be called with m.mu held.
func (m *Manager) beginLocked() *optimistic {
	return &optimistic{
		m:       m,
		quoteID: m.quote.ID,
		draft:   m.draft.clone(),
		form:    m.form,
	}
}

// rollback restores the captured state. Subscribers are notified by the caller.
func (o *optimistic) rollback() {
	o.m.mu.Lock()
	defer o.m.mu.Unlock()
	o.m.draft = o.draft.clone()
	o.m.form = o.form
}
