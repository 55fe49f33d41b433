package model

import (
	"fmt"
	"sort"
	"strings"
)

// ProfileKind names one of the per-account profile documents.
type ProfileKind string

const (
	ProfileMain        ProfileKind = "profile0"
	ProfileLevels      ProfileKind = "levels"
	ProfileFriends     ProfileKind = "friends"
	ProfileMonsterPit  ProfileKind = "monsterpit"
	ProfileMultiplayer ProfileKind = "multiplayer"
)

// ProfileKinds lists every kind in response order.
var ProfileKinds = []ProfileKind{
	ProfileMain,
	ProfileLevels,
	ProfileFriends,
	ProfileMonsterPit,
	ProfileMultiplayer,
}

// ParseProfileKind resolves a profile id case-insensitively.
func ParseProfileKind(s string) (ProfileKind, error) {
	for _, kind := range ProfileKinds {
		if strings.EqualFold(string(kind), s) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%q is not a valid profile", s)
}

// Item is one typed record inside a profile. Its id is the key in Profile.Items.
type Item struct {
	TemplateID string     `json:"templateId"`
	Attributes Attributes `json:"attributes"`
	Quantity   int64      `json:"quantity"`
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	return &Item{
		TemplateID: i.TemplateID,
		Attributes: i.Attributes.Clone(),
		Quantity:   i.Quantity,
	}
}

// Category returns the part of the template id before the first colon.
func (i *Item) Category() string {
	category, _, _ := strings.Cut(i.TemplateID, ":")
	return category
}

// Specific returns the part of the template id after the last colon.
func (i *Item) Specific() string {
	if idx := strings.LastIndex(i.TemplateID, ":"); idx >= 0 {
		return i.TemplateID[idx+1:]
	}
	return i.TemplateID
}

// Attr returns the named attribute or null.
func (i *Item) Attr(name string) Value {
	if i == nil || i.Attributes == nil {
		return Null()
	}
	return i.Attributes[name]
}

// ProfileStats wraps the stat bag the way clients expect it on the wire.
type ProfileStats struct {
	Attributes Attributes `json:"attributes"`
}

// Profile is the persisted per-account, per-kind document.
type Profile struct {
	ID              string           `json:"_id"`
	Created         Timestamp        `json:"created"`
	Updated         Timestamp        `json:"updated"`
	Revision        int64            `json:"rvn"`
	WipeNumber      int              `json:"wipeNumber"`
	AccountID       string           `json:"accountId"`
	ProfileID       ProfileKind      `json:"profileId"`
	Version         string           `json:"version"`
	Items           map[string]*Item `json:"items"`
	Stats           ProfileStats     `json:"stats"`
	CommandRevision int64            `json:"commandRevision"`
}

// Clone returns a deep copy of the document.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Items = make(map[string]*Item, len(p.Items))
	for id, item := range p.Items {
		out.Items[id] = item.Clone()
	}
	out.Stats = ProfileStats{Attributes: p.Stats.Attributes.Clone()}
	return &out
}

// Normalize fills nil maps so the document always serializes as objects.
func (p *Profile) Normalize() {
	if p.Items == nil {
		p.Items = map[string]*Item{}
	}
	for id, item := range p.Items {
		if item == nil {
			delete(p.Items, id)
			continue
		}
		if item.Attributes == nil {
			item.Attributes = Attributes{}
		}
	}
	if p.Stats.Attributes == nil {
		p.Stats.Attributes = Attributes{}
	}
}

// ItemIDs returns the committed item ids in sorted order.
func (p *Profile) ItemIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for id := range p.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
