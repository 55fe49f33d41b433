package friends

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/profile"
)

var (
	ErrDuplicateFriendship = errors.New("duplicate friendship")
	ErrRequestAlreadySent  = errors.New("friend request already sent")
	ErrCannotFriend        = errors.New("cannot friend due to target settings")
	ErrFriendshipNotFound  = errors.New("friendship not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrSelfRelation        = errors.New("cannot relate an account to itself")
	ErrInvalidSettings     = errors.New("invalid friend settings")
	ErrFriendUnavailable   = errors.New("friend has not imported their account")
)

// Registry hands out the live per-account documents.
type Registry interface {
	ProfileSet(ctx context.Context, accountID string) (*profile.Set, error)
	FriendGraph(ctx context.Context, accountID string) (*model.FriendGraph, error)
	SaveFriendGraph(ctx context.Context, graph *model.FriendGraph) error
}

// AccountDirectory resolves account identities.
type AccountDirectory interface {
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	AccountExists(ctx context.Context, accountID string) (bool, error)
}

// CandidateSource lists accounts whose settings accept friend requests.
type CandidateSource interface {
	ListAcceptingAccounts(ctx context.Context) ([]string, error)
}

// Options tunes the service.
type Options struct {
	SnapshotTTL     time.Duration
	SuggestionLimit int
	AvatarURL       string
	Now             func() time.Time
	Rand            *rand.Rand
}

func (o *Options) defaults() {
	if o.SnapshotTTL <= 0 {
		o.SnapshotTTL = 3 * time.Hour
	}
	if o.SuggestionLimit <= 0 {
		o.SuggestionLimit = 10
	}
	if o.AvatarURL == "" {
		o.AvatarURL = "wex-temp-avatar.png"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// Service implements the friend graph operations. Callers must hold the
// registry lock of every account an operation mutates.
type Service struct {
	registry   Registry
	accounts   AccountDirectory
	candidates CandidateSource
	opts       Options
	randMu     sync.Mutex
}

// NewService creates a new friend service.
func NewService(registry Registry, accounts AccountDirectory, candidates CandidateSource, opts Options) *Service {
	opts.defaults()
	return &Service{
		registry:   registry,
		accounts:   accounts,
		candidates: candidates,
		opts:       opts,
	}
}

// RemoveResult reports the outcome of RemoveFriend. MirrorErr is set when the
// counterpart side could not be updated; the local side is kept regardless.
type RemoveResult struct {
	Removed          bool
	InstancesRemoved int
	MirrorErr        error
}

func (s *Service) save(ctx context.Context, g *model.FriendGraph) {
	if err := s.registry.SaveFriendGraph(ctx, g); err != nil {
		log.Printf("[FriendService] Failed to save friend graph of %s: %v", g.AccountID, err)
	}
}

func (s *Service) requireAccount(ctx context.Context, accountID string) error {
	exists, err := s.accounts.AccountExists(ctx, accountID)
	if err != nil {
		return fmt.Errorf("lookup account %s: %w", accountID, err)
	}
	if !exists {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	return nil
}

// Summary returns a copy of the friend graph of accountID.
func (s *Service) Summary(ctx context.Context, accountID string) (*model.FriendGraph, error) {
	g, err := s.registry.FriendGraph(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// LegacySummary returns the flat ACCEPTED/PENDING listing used by old clients.
func (s *Service) LegacySummary(ctx context.Context, accountID string) ([]model.LegacyFriend, error) {
	g, err := s.registry.FriendGraph(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return legacySummary(g), nil
}

// SendRequest asks otherID to become a friend of selfID. A pending request in
// the opposite direction is accepted instead.
func (s *Service) SendRequest(ctx context.Context, selfID, otherID string) error {
	if selfID == otherID {
		return ErrSelfRelation
	}
	if err := s.requireAccount(ctx, otherID); err != nil {
		return err
	}

	self, err := s.registry.FriendGraph(ctx, selfID)
	if err != nil {
		return err
	}
	other, err := s.registry.FriendGraph(ctx, otherID)
	if err != nil {
		return err
	}

	if blocks(other, selfID) || blocks(self, otherID) {
		return fmt.Errorf("request to %s: %w", otherID, ErrCannotFriend)
	}
	if contains(self.Friends, otherID) {
		return fmt.Errorf("request to %s: %w", otherID, ErrDuplicateFriendship)
	}
	if contains(self.Outgoing, otherID) {
		return fmt.Errorf("request to %s: %w", otherID, ErrRequestAlreadySent)
	}
	if contains(self.Incoming, otherID) || contains(other.Outgoing, selfID) {
		if err := s.AddFriend(ctx, otherID, selfID); err != nil {
			return err
		}
		return s.AddFriend(ctx, selfID, otherID)
	}
	if other.Settings.AcceptInvites != model.AcceptInvitesPublic {
		return fmt.Errorf("request to %s: %w", otherID, ErrCannotFriend)
	}

	selfPlan, err := s.planInstance(ctx, selfID, otherID)
	if err != nil {
		return err
	}
	otherPlan, err := s.planInstance(ctx, otherID, selfID)
	if err != nil {
		return err
	}

	if err := selfPlan.stage(model.FriendStatusRequested); err != nil {
		return err
	}
	if err := otherPlan.stage(model.FriendStatusInvited); err != nil {
		return err
	}

	now := s.opts.Now()
	self.Outgoing = append(self.Outgoing, pending(otherID, now))
	other.Incoming = append(other.Incoming, pending(selfID, now))
	s.save(ctx, self)
	s.save(ctx, other)
	return nil
}

// AddFriend moves otherID into the friends list of selfID. Only selfID's side
// is touched; it is a no-op when they are already friends.
func (s *Service) AddFriend(ctx context.Context, selfID, otherID string) error {
	if selfID == otherID {
		return ErrSelfRelation
	}
	g, err := s.registry.FriendGraph(ctx, selfID)
	if err != nil {
		return err
	}
	if contains(g.Friends, otherID) {
		return nil
	}
	plan, err := s.planInstance(ctx, selfID, otherID)
	if err != nil {
		return err
	}
	if err := plan.stage(model.FriendStatusFriend); err != nil {
		return err
	}
	promote(g, otherID, s.opts.Now())
	s.save(ctx, g)
	return nil
}

// Accept accepts a pending incoming request on both sides.
func (s *Service) Accept(ctx context.Context, selfID, otherID string) error {
	g, err := s.registry.FriendGraph(ctx, selfID)
	if err != nil {
		return err
	}
	if contains(g.Friends, otherID) {
		return nil
	}
	if !contains(g.Incoming, otherID) {
		return fmt.Errorf("accept %s: %w", otherID, ErrFriendshipNotFound)
	}
	if err := s.AddFriend(ctx, otherID, selfID); err != nil {
		return err
	}
	return s.AddFriend(ctx, selfID, otherID)
}

// RemoveFriend cancels, declines or ends the relation between selfID and
// otherID. The counterpart side is updated best effort.
func (s *Service) RemoveFriend(ctx context.Context, selfID, otherID string) (*RemoveResult, error) {
	g, err := s.registry.FriendGraph(ctx, selfID)
	if err != nil {
		return nil, err
	}
	set, err := s.registry.ProfileSet(ctx, selfID)
	if err != nil {
		return nil, err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return nil, err
	}

	result := &RemoveResult{}
	result.Removed = dropRelation(g, otherID)
	result.InstancesRemoved = removeInstances(p, otherID)
	if result.Removed {
		s.save(ctx, g)
	}

	if err := s.mirrorRemove(ctx, otherID, selfID); err != nil {
		result.MirrorErr = err
		log.Printf("[FriendService] Failed to mirror removal of %s on %s: %v", selfID, otherID, err)
	}
	return result, nil
}

func (s *Service) mirrorRemove(ctx context.Context, ownerID, friendID string) error {
	if err := s.requireAccount(ctx, ownerID); err != nil {
		return err
	}
	g, err := s.registry.FriendGraph(ctx, ownerID)
	if err != nil {
		return err
	}
	set, err := s.registry.ProfileSet(ctx, ownerID)
	if err != nil {
		return err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return err
	}
	removeInstances(p, friendID)
	if dropRelation(g, friendID) {
		return s.registry.SaveFriendGraph(ctx, g)
	}
	return nil
}

// SuggestFriends replaces the suggested list of accountID with a uniform
// random sample of unrelated accounts that accept requests.
func (s *Service) SuggestFriends(ctx context.Context, accountID string) ([]string, error) {
	g, err := s.registry.FriendGraph(ctx, accountID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.candidates.ListAcceptingAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	eligible := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == accountID || related(g, id) || blocks(g, id) {
			continue
		}
		eligible = append(eligible, id)
	}

	s.randMu.Lock()
	s.opts.Rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	s.randMu.Unlock()
	if len(eligible) > s.opts.SuggestionLimit {
		eligible = eligible[:s.opts.SuggestionLimit]
	}

	plans := make([]*instancePlan, 0, len(eligible))
	for _, id := range eligible {
		plan, err := s.planInstance(ctx, accountID, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	for _, plan := range plans {
		if err := plan.stage(model.FriendStatusSuggested); err != nil {
			return nil, err
		}
	}
	g.Suggested = make([]model.Suggestion, 0, len(eligible))
	for _, id := range eligible {
		g.Suggested = append(g.Suggested, model.Suggestion{AccountID: id})
	}
	s.save(ctx, g)
	return eligible, nil
}

// Reconcile reports which of ids have an account here and queues a
// WExpReconcileNotification on the friends profile of accountID.
func (s *Service) Reconcile(ctx context.Context, accountID string, ids []string) (map[string]bool, error) {
	results := make(map[string]bool, len(ids))
	for _, id := range ids {
		exists, err := s.accounts.AccountExists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lookup account %s: %w", id, err)
		}
		results[id] = exists
	}

	set, err := s.registry.ProfileSet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]model.Value, len(results))
	for id, ok := range results {
		fields[id] = model.Bool(ok)
	}
	p.AddNotification(model.Notification{
		Type:    "WExpReconcileNotification",
		Primary: true,
		Fields:  model.Attributes{"results": model.Map(fields)},
	})
	return results, nil
}

// RespondToSuggestions drops the Friend:Instance items of answered
// suggestions. Invited legacy friends without an account are refused.
func (s *Service) RespondToSuggestions(ctx context.Context, accountID string, invited, rejected []string) error {
	set, err := s.registry.ProfileSet(ctx, accountID)
	if err != nil {
		return err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return err
	}

	for _, id := range invited {
		item, ok := p.Item(id)
		if !ok {
			return fmt.Errorf("suggestion %s: %w", id, profile.ErrItemNotFound)
		}
		if model.FriendStatus(item.Attr(attrStatus).StringOr("")) != model.FriendStatusSuggestedLegacy {
			continue
		}
		friendID := item.Attr(attrAccountID).StringOr("")
		exists, err := s.accounts.AccountExists(ctx, friendID)
		if err != nil {
			return fmt.Errorf("lookup account %s: %w", friendID, err)
		}
		if !exists {
			return fmt.Errorf("suggestion %s: %w", id, ErrFriendUnavailable)
		}
	}
	for _, id := range rejected {
		if _, ok := p.Item(id); !ok {
			return fmt.Errorf("suggestion %s: %w", id, profile.ErrItemNotFound)
		}
	}

	seen := make(map[string]bool)
	for _, id := range append(append([]string(nil), invited...), rejected...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := p.RemoveItem(id); err != nil {
			return err
		}
	}
	return nil
}

// FriendAccountID resolves the account a Friend:Instance item points at.
func (s *Service) FriendAccountID(ctx context.Context, accountID, instanceID string) (string, error) {
	set, err := s.registry.ProfileSet(ctx, accountID)
	if err != nil {
		return "", err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return "", err
	}
	item, ok := p.Item(instanceID)
	if !ok {
		return "", fmt.Errorf("friend instance %s: %w", instanceID, profile.ErrItemNotFound)
	}
	return item.Attr(attrAccountID).StringOr(""), nil
}

// SettingsPatch holds optional settings updates.
type SettingsPatch struct {
	AcceptInvites *string `json:"acceptInvites"`
	MutualPrivacy *string `json:"mutualPrivacy"`
}

// UpdateSettings applies patch to the settings of accountID.
func (s *Service) UpdateSettings(ctx context.Context, accountID string, patch SettingsPatch) (model.FriendSettings, error) {
	if patch.AcceptInvites != nil {
		switch *patch.AcceptInvites {
		case model.AcceptInvitesPublic, model.AcceptInvitesPrivate:
		default:
			return model.FriendSettings{}, fmt.Errorf("acceptInvites %q: %w", *patch.AcceptInvites, ErrInvalidSettings)
		}
	}
	if patch.MutualPrivacy != nil {
		switch *patch.MutualPrivacy {
		case "ALL", "FRIENDS", "NONE":
		default:
			return model.FriendSettings{}, fmt.Errorf("mutualPrivacy %q: %w", *patch.MutualPrivacy, ErrInvalidSettings)
		}
	}

	g, err := s.registry.FriendGraph(ctx, accountID)
	if err != nil {
		return model.FriendSettings{}, err
	}
	if patch.AcceptInvites != nil {
		g.Settings.AcceptInvites = *patch.AcceptInvites
	}
	if patch.MutualPrivacy != nil {
		g.Settings.MutualPrivacy = *patch.MutualPrivacy
	}
	s.save(ctx, g)
	return g.Settings, nil
}

// Block adds otherID to the blocklist of selfID and ends any relation
// between them.
func (s *Service) Block(ctx context.Context, selfID, otherID string) (*RemoveResult, error) {
	if selfID == otherID {
		return nil, ErrSelfRelation
	}
	if err := s.requireAccount(ctx, otherID); err != nil {
		return nil, err
	}
	g, err := s.registry.FriendGraph(ctx, selfID)
	if err != nil {
		return nil, err
	}
	if !blocks(g, otherID) {
		g.Blocklist = append(g.Blocklist, model.BlockedAccount{AccountID: otherID})
	}
	suggested := g.Suggested[:0]
	for _, sug := range g.Suggested {
		if sug.AccountID != otherID {
			suggested = append(suggested, sug)
		}
	}
	g.Suggested = suggested
	s.save(ctx, g)
	return s.RemoveFriend(ctx, selfID, otherID)
}

// Unblock removes otherID from the blocklist of selfID.
func (s *Service) Unblock(ctx context.Context, selfID, otherID string) error {
	g, err := s.registry.FriendGraph(ctx, selfID)
	if err != nil {
		return err
	}
	out := g.Blocklist[:0]
	found := false
	for _, b := range g.Blocklist {
		if b.AccountID == otherID {
			found = true
			continue
		}
		out = append(out, b)
	}
	if !found {
		return fmt.Errorf("unblock %s: %w", otherID, ErrFriendshipNotFound)
	}
	g.Blocklist = out
	s.save(ctx, g)
	return nil
}
