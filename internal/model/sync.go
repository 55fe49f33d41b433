package model

import (
	"encoding/json"
	"sort"
)

// ResponseVersion is echoed in every profile response.
const ResponseVersion = 1

// Notification is an ephemeral event record attached to a profile response.
// Fields holds everything besides type and primary.
type Notification struct {
	Type    string
	Primary bool
	Fields  Attributes
}

// MarshalJSON flattens Fields next to type and primary.
func (n Notification) MarshalJSON() ([]byte, error) {
	m := make(map[string]Value, len(n.Fields)+2)
	for k, v := range n.Fields {
		m[k] = v
	}
	m["type"] = String(n.Type)
	m["primary"] = Bool(n.Primary)
	return Map(m).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m, _ := v.AsMap()
	n.Type = v.Get("type").StringOr("")
	n.Primary = v.Get("primary").BoolOr(false)
	n.Fields = Attributes{}
	for k, field := range m {
		if k == "type" || k == "primary" {
			continue
		}
		n.Fields[k] = field
	}
	return nil
}

// ClientRevision is one entry of the client's per-profile command revision header.
type ClientRevision struct {
	ProfileID             ProfileKind `json:"profileId"`
	ClientCommandRevision int64       `json:"clientCommandRevision"`
}

// ClientRevisions is the decoded X-EpicGames-ProfileRevisions header.
type ClientRevisions []ClientRevision

// Lookup returns the revision for kind, or -1 when absent.
func (r ClientRevisions) Lookup(kind ProfileKind) int64 {
	for _, entry := range r {
		if entry.ProfileID == kind {
			return entry.ClientCommandRevision
		}
	}
	return -1
}

// Sorted returns a copy ordered by profile id.
func (r ClientRevisions) Sorted() ClientRevisions {
	out := append(ClientRevisions(nil), r...)
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID < out[j].ProfileID })
	return out
}

// ProfileUpdate is one entry of a multiUpdate list.
type ProfileUpdate struct {
	ProfileRevision            int64          `json:"profileRevision"`
	ProfileID                  ProfileKind    `json:"profileId"`
	ProfileChangesBaseRevision int64          `json:"profileChangesBaseRevision"`
	ProfileChanges             []Change       `json:"profileChanges"`
	ProfileCommandRevision     int64          `json:"profileCommandRevision"`
	Notifications              []Notification `json:"notifications,omitempty"`
}

// SyncResponse is the envelope returned by every profile command.
type SyncResponse struct {
	ProfileRevision            int64           `json:"profileRevision"`
	ProfileID                  ProfileKind     `json:"profileId"`
	ProfileChangesBaseRevision int64           `json:"profileChangesBaseRevision"`
	ProfileChanges             []Change        `json:"profileChanges"`
	ProfileCommandRevision     int64           `json:"profileCommandRevision"`
	ServerTime                 Timestamp       `json:"serverTime"`
	Notifications              []Notification  `json:"notifications,omitempty"`
	MultiUpdate                []ProfileUpdate `json:"multiUpdate,omitempty"`
	ResponseVersion            int             `json:"responseVersion"`
}

// SyncRequest carries the inputs of a sync response.
type SyncRequest struct {
	Kind ProfileKind
	// Revision is the client's last known rvn, -1 when absent.
	Revision int64
	// ClientRevisions is nil when the header was not sent.
	ClientRevisions       ClientRevisions
	ClearNotifications    bool
	ClearAllNotifications bool
}
