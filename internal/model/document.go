package model

import "time"

// DocumentFamily groups persisted documents by shape.
type DocumentFamily string

const (
	FamilyProfile     DocumentFamily = "profile"
	FamilyFriendGraph DocumentFamily = "friendgraph"
)

// DocumentKey identifies one persisted document. Kind is empty for friend graphs.
type DocumentKey struct {
	Family    DocumentFamily `json:"family"`
	AccountID string         `json:"account_id"`
	Kind      ProfileKind    `json:"kind,omitempty"`
}

// String renders the key as family:account[:kind].
func (k DocumentKey) String() string {
	if k.Kind == "" {
		return string(k.Family) + ":" + k.AccountID
	}
	return string(k.Family) + ":" + k.AccountID + ":" + string(k.Kind)
}

// ProfileKey builds the key of a profile document.
func ProfileKey(accountID string, kind ProfileKind) DocumentKey {
	return DocumentKey{Family: FamilyProfile, AccountID: accountID, Kind: kind}
}

// FriendGraphKey builds the key of a friend graph document.
func FriendGraphKey(accountID string) DocumentKey {
	return DocumentKey{Family: FamilyFriendGraph, AccountID: accountID}
}

// RawDocument represents raw JSON document data as stored.
type RawDocument struct {
	Key       DocumentKey `json:"key"`
	RawJSON   []byte      `json:"raw_json"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BufferedDocument represents a pending document write in the buffer.
type BufferedDocument struct {
	Key       DocumentKey `json:"key"`
	RawJSON   []byte      `json:"raw_json"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// StoreStats summarizes the contents of a document store.
type StoreStats struct {
	Driver       string `json:"driver"`
	Profiles     int64  `json:"profiles"`
	FriendGraphs int64  `json:"friend_graphs"`
	Accounts     int64  `json:"accounts"`
}
