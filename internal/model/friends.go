package model

// FriendStatus is the status attribute of a Friend:Instance item.
type FriendStatus string

const (
	FriendStatusNone                  FriendStatus = "None"
	FriendStatusSuggested             FriendStatus = "Suggested"
	FriendStatusRequested             FriendStatus = "Requested"
	FriendStatusInvited               FriendStatus = "Invited"
	FriendStatusFriend                FriendStatus = "Friend"
	FriendStatusEpicFriend            FriendStatus = "EpicFriend"
	FriendStatusEpicNonPlatformFriend FriendStatus = "EpicNonPlatformFriend"
	FriendStatusPlatformOnlyFriend    FriendStatus = "PlatformOnlyFriend"
	FriendStatusSuggestedRequest      FriendStatus = "SuggestedRequest"
	FriendStatusSuggestedLegacy       FriendStatus = "SuggestedLegacy"
	FriendStatusNotPlaying            FriendStatus = "NotPlaying"
	FriendStatusPlatformNotPlaying    FriendStatus = "PlatformNotPlaying"
	FriendStatusMax                   FriendStatus = "Max_None"
)

// FriendInstanceTemplate is the template id of cached friend snapshot items.
const FriendInstanceTemplate = "Friend:Instance"

// Direction records which side initiated a relation.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Accept invite settings.
const (
	AcceptInvitesPublic  = "public"
	AcceptInvitesPrivate = "private"
)

// Relation is an entry of the friends, incoming or outgoing list.
type Relation struct {
	AccountID string    `json:"accountId"`
	Groups    []string  `json:"groups,omitempty"`
	Mutual    int       `json:"mutual"`
	Alias     string    `json:"alias,omitempty"`
	Note      string    `json:"note,omitempty"`
	Favorite  bool      `json:"favorite"`
	Created   Timestamp `json:"created"`
	Direction Direction `json:"direction,omitempty"`
}

// Suggestion is an entry of the suggested list.
type Suggestion struct {
	AccountID string `json:"accountId"`
	Mutual    int    `json:"mutual"`
}

// BlockedAccount is an entry of the blocklist.
type BlockedAccount struct {
	AccountID string `json:"accountId"`
}

// FriendSettings holds the privacy settings of an account.
type FriendSettings struct {
	AcceptInvites string `json:"acceptInvites"`
	MutualPrivacy string `json:"mutualPrivacy"`
}

// LimitsReached mirrors the summary limit flags.
type LimitsReached struct {
	Incoming bool `json:"incoming"`
	Outgoing bool `json:"outgoing"`
	Accepted bool `json:"accepted"`
}

// FriendGraph is the per-account relationship document.
type FriendGraph struct {
	AccountID     string           `json:"accountId"`
	Friends       []Relation       `json:"friends"`
	Incoming      []Relation       `json:"incoming"`
	Outgoing      []Relation       `json:"outgoing"`
	Suggested     []Suggestion     `json:"suggested"`
	Blocklist     []BlockedAccount `json:"blocklist"`
	Settings      FriendSettings   `json:"settings"`
	LimitsReached LimitsReached    `json:"limitsReached"`
}

// NewFriendGraph returns the document of an account with no relations.
func NewFriendGraph(accountID string) *FriendGraph {
	g := &FriendGraph{
		AccountID: accountID,
		Settings: FriendSettings{
			AcceptInvites: AcceptInvitesPublic,
			MutualPrivacy: "ALL",
		},
	}
	g.Normalize()
	return g
}

// Normalize fills nil lists so the document always serializes as arrays.
func (g *FriendGraph) Normalize() {
	if g.Friends == nil {
		g.Friends = []Relation{}
	}
	if g.Incoming == nil {
		g.Incoming = []Relation{}
	}
	if g.Outgoing == nil {
		g.Outgoing = []Relation{}
	}
	if g.Suggested == nil {
		g.Suggested = []Suggestion{}
	}
	if g.Blocklist == nil {
		g.Blocklist = []BlockedAccount{}
	}
	if g.Settings.AcceptInvites == "" {
		g.Settings.AcceptInvites = AcceptInvitesPublic
	}
	if g.Settings.MutualPrivacy == "" {
		g.Settings.MutualPrivacy = "ALL"
	}
}

// Clone returns a deep copy of the graph.
func (g *FriendGraph) Clone() *FriendGraph {
	if g == nil {
		return nil
	}
	out := *g
	out.Friends = cloneRelations(g.Friends)
	out.Incoming = cloneRelations(g.Incoming)
	out.Outgoing = cloneRelations(g.Outgoing)
	out.Suggested = append([]Suggestion{}, g.Suggested...)
	out.Blocklist = append([]BlockedAccount{}, g.Blocklist...)
	return &out
}

func cloneRelations(in []Relation) []Relation {
	out := make([]Relation, len(in))
	for i, r := range in {
		r.Groups = append([]string(nil), r.Groups...)
		out[i] = r
	}
	return out
}

// LegacyFriend is one entry of the pre-summary friends listing.
type LegacyFriend struct {
	AccountID string    `json:"accountId"`
	Status    string    `json:"status"`
	Direction Direction `json:"direction"`
	Created   Timestamp `json:"created"`
	Favorite  bool      `json:"favorite"`
}
