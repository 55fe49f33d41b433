package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"wex-mcp-api/internal/model"
	"wex-mcp-api/pkg/uid"
)

var (
	// ErrItemNotFound is returned when a mutation targets an unknown item id.
	ErrItemNotFound = errors.New("item not found")
	// ErrInvalidItem is returned when an item cannot be staged.
	ErrInvalidItem = errors.New("invalid item")
)

// Profile wraps one profile document with its pending change journal and
// notifications. Mutators only stage records; nothing touches the document
// until Flush.
type Profile struct {
	mu            sync.RWMutex
	doc           *model.Profile
	journal       []model.Change
	notifications []model.Notification

	// staged item ids, kept so mutators can validate against pending work
	added   map[string]*model.Item
	removed map[string]struct{}

	dirty bool
}

// New wraps doc. The document is normalized and owned by the returned Profile.
func New(doc *model.Profile) *Profile {
	doc.Normalize()
	return &Profile{
		doc:     doc,
		added:   make(map[string]*model.Item),
		removed: make(map[string]struct{}),
	}
}

// Kind returns the profile kind.
func (p *Profile) Kind() model.ProfileKind {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.ProfileID
}

// AccountID returns the owning account id.
func (p *Profile) AccountID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.AccountID
}

// Revision returns the committed rvn.
func (p *Profile) Revision() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Revision
}

// CommandRevision returns the committed command revision.
func (p *Profile) CommandRevision() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.CommandRevision
}

// Updated returns the last update time of the document.
func (p *Profile) Updated() model.Timestamp {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Updated
}

// Document returns a deep copy of the committed document.
func (p *Profile) Document() *model.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Clone()
}

// AddItem stages a new item and returns its id. A fresh id is generated when
// id is empty.
func (p *Profile) AddItem(item *model.Item, id string) (string, error) {
	if item == nil || item.TemplateID == "" {
		return "", fmt.Errorf("add item: %w: missing template id", ErrInvalidItem)
	}
	if id == "" {
		id = uid.New()
	}
	staged := item.Clone()
	if staged.Attributes == nil {
		staged.Attributes = model.Attributes{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.journal = append(p.journal, model.ItemAdded(id, staged))
	p.added[id] = staged
	delete(p.removed, id)
	return id, nil
}

// RemoveItem stages the removal of id.
func (p *Profile) RemoveItem(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.existsLocked(id) {
		return fmt.Errorf("remove item %s: %w", id, ErrItemNotFound)
	}
	p.journal = append(p.journal, model.ItemRemoved(id))
	delete(p.added, id)
	p.removed[id] = struct{}{}
	return nil
}

// ChangeAttribute stages an attribute assignment on id.
func (p *Profile) ChangeAttribute(id, name string, value model.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.existsLocked(id) {
		return fmt.Errorf("change attribute %s of %s: %w", name, id, ErrItemNotFound)
	}
	p.journal = append(p.journal, model.ItemAttrChanged(id, name, value))
	return nil
}

// ChangeQuantity stages a quantity assignment on id.
func (p *Profile) ChangeQuantity(id string, quantity int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.existsLocked(id) {
		return fmt.Errorf("change quantity of %s: %w", id, ErrItemNotFound)
	}
	p.journal = append(p.journal, model.ItemQuantityChanged(id, quantity))
	return nil
}

// SetStat stages a stat assignment.
func (p *Profile) SetStat(name string, value model.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.journal = append(p.journal, model.StatModified(name, value))
}

// Stat returns the committed value of a stat, or null.
func (p *Profile) Stat(name string) model.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Stats.Attributes[name]
}

func (p *Profile) existsLocked(id string) bool {
	if _, ok := p.added[id]; ok {
		return true
	}
	if _, ok := p.removed[id]; ok {
		return false
	}
	_, ok := p.doc.Items[id]
	return ok
}

// Item returns a copy of a committed item.
func (p *Profile) Item(id string) (*model.Item, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.doc.Items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// FindByTemplateID returns the ids of committed items with exactly this template id.
func (p *Profile) FindByTemplateID(templateID string) []string {
	return p.find(func(item *model.Item) bool { return item.TemplateID == templateID })
}

// FindByTypePrefix returns the ids of committed items whose template id starts with prefix.
func (p *Profile) FindByTypePrefix(prefix string) []string {
	return p.find(func(item *model.Item) bool { return strings.HasPrefix(item.TemplateID, prefix) })
}

// FindBySpecific returns the ids of committed items whose template id ends in ":"+specific.
func (p *Profile) FindBySpecific(specific string) []string {
	return p.find(func(item *model.Item) bool { return item.Specific() == specific })
}

func (p *Profile) find(match func(*model.Item) bool) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for id, item := range p.doc.Items {
		if match(item) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// PendingItems returns copies of items staged for addition and not yet flushed.
func (p *Profile) PendingItems() map[string]*model.Item {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*model.Item, len(p.added))
	for id, item := range p.added {
		out[id] = item.Clone()
	}
	return out
}

// PendingRemoval reports whether the removal of id is staged and not yet flushed.
func (p *Profile) PendingRemoval(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.removed[id]
	return ok
}

// Journal returns a copy of the pending change records.
func (p *Profile) Journal() []model.Change {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.Change(nil), p.journal...)
}

// HasChanges reports whether the journal holds staged records.
func (p *Profile) HasChanges() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.journal) > 0
}

// AddNotification queues a notification for the next response.
func (p *Profile) AddNotification(n model.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
}

// Notifications returns the queued notifications.
func (p *Profile) Notifications() []model.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]model.Notification(nil), p.notifications...)
}

// ClearNotifications drops every queued notification.
func (p *Profile) ClearNotifications() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = nil
}

// Flush applies the journal to the document in order and clears it.
func (p *Profile) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

func (p *Profile) flushLocked() {
	if len(p.journal) == 0 {
		return
	}
	for _, change := range p.journal {
		apply(p.doc, change)
	}
	p.journal = nil
	p.added = make(map[string]*model.Item)
	p.removed = make(map[string]struct{})
	p.dirty = true
}

// apply mutates doc with a single change record.
func apply(doc *model.Profile, change model.Change) {
	switch change.Type {
	case model.ChangeStatModified:
		doc.Stats.Attributes[change.Name] = change.Value
	case model.ChangeItemAdded:
		item := change.Item.Clone()
		if item.Attributes == nil {
			item.Attributes = model.Attributes{}
		}
		doc.Items[change.ItemID] = item
	case model.ChangeItemRemoved:
		delete(doc.Items, change.ItemID)
	case model.ChangeItemAttrChanged:
		if item, ok := doc.Items[change.ItemID]; ok {
			item.Attributes[change.Attribute] = change.Value
		}
	case model.ChangeItemQuantityChanged:
		if item, ok := doc.Items[change.ItemID]; ok {
			item.Quantity = change.Quantity
		}
	}
}

// bump advances rvn and commandRevision together.
func (p *Profile) bump(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc.Revision++
	p.doc.CommandRevision++
	p.doc.Updated = model.NewTimestamp(now)
	p.dirty = true
}

func (p *Profile) markDirty() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
}

// Dirty reports whether the document changed since it was last persisted.
func (p *Profile) Dirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

func (p *Profile) markClean() {
	p.mu.Lock()
	p.dirty = false
	p.mu.Unlock()
}
