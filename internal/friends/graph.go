package friends

import (
	"time"

	"wex-mcp-api/internal/model"
)

func indexOf(list []model.Relation, accountID string) int {
	for i, r := range list {
		if r.AccountID == accountID {
			return i
		}
	}
	return -1
}

func contains(list []model.Relation, accountID string) bool {
	return indexOf(list, accountID) >= 0
}

// without returns list minus the entry for accountID and whether one was dropped.
func without(list []model.Relation, accountID string) ([]model.Relation, bool) {
	i := indexOf(list, accountID)
	if i < 0 {
		return list, false
	}
	out := make([]model.Relation, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...), true
}

func blocks(g *model.FriendGraph, accountID string) bool {
	for _, b := range g.Blocklist {
		if b.AccountID == accountID {
			return true
		}
	}
	return false
}

func related(g *model.FriendGraph, accountID string) bool {
	return contains(g.Friends, accountID) || contains(g.Incoming, accountID) || contains(g.Outgoing, accountID)
}

// relationStatus maps the list an account sits in to a Friend:Instance status.
func relationStatus(g *model.FriendGraph, accountID string) model.FriendStatus {
	switch {
	case contains(g.Friends, accountID):
		return model.FriendStatusFriend
	case contains(g.Incoming, accountID):
		return model.FriendStatusInvited
	case contains(g.Outgoing, accountID):
		return model.FriendStatusRequested
	}
	for _, s := range g.Suggested {
		if s.AccountID == accountID {
			return model.FriendStatusSuggested
		}
	}
	return model.FriendStatusNone
}

// dropRelation removes accountID from friends, incoming and outgoing.
func dropRelation(g *model.FriendGraph, accountID string) bool {
	var a, b, c bool
	g.Friends, a = without(g.Friends, accountID)
	g.Incoming, b = without(g.Incoming, accountID)
	g.Outgoing, c = without(g.Outgoing, accountID)
	return a || b || c
}

// promote moves accountID into friends, keeping the direction of the pending
// request it came from. Unknown accounts are added as inbound.
func promote(g *model.FriendGraph, accountID string, now time.Time) {
	direction := model.DirectionInbound
	var moved bool
	if g.Incoming, moved = without(g.Incoming, accountID); !moved {
		if g.Outgoing, moved = without(g.Outgoing, accountID); moved {
			direction = model.DirectionOutbound
		}
	}
	g.Friends = append(g.Friends, model.Relation{
		AccountID: accountID,
		Groups:    []string{},
		Favorite:  false,
		Created:   model.NewTimestamp(now),
		Direction: direction,
	})
}

func pending(accountID string, now time.Time) model.Relation {
	return model.Relation{AccountID: accountID, Created: model.NewTimestamp(now)}
}

// legacySummary flattens a graph into the pre-summary listing.
func legacySummary(g *model.FriendGraph) []model.LegacyFriend {
	out := make([]model.LegacyFriend, 0, len(g.Friends)+len(g.Incoming)+len(g.Outgoing))
	for _, r := range g.Friends {
		direction := r.Direction
		if direction == "" {
			direction = model.DirectionInbound
		}
		out = append(out, model.LegacyFriend{
			AccountID: r.AccountID,
			Status:    "ACCEPTED",
			Direction: direction,
			Created:   r.Created,
			Favorite:  r.Favorite,
		})
	}
	for _, r := range g.Incoming {
		out = append(out, model.LegacyFriend{
			AccountID: r.AccountID,
			Status:    "PENDING",
			Direction: model.DirectionInbound,
			Created:   r.Created,
		})
	}
	for _, r := range g.Outgoing {
		out = append(out, model.LegacyFriend{
			AccountID: r.AccountID,
			Status:    "PENDING",
			Direction: model.DirectionOutbound,
			Created:   r.Created,
		})
	}
	return out
}
