package friends

import (
	"context"
	"fmt"

	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/profile"
)

// Friend:Instance attribute names.
const (
	attrAccountID       = "accountId"
	attrStatus          = "status"
	attrSnapshot        = "snapshot"
	attrSnapshotExpires = "snapshot_expires"
	attrCanBeSparred    = "canBeSparred"
)

var accountPerks = []string{
	"MaxHitPoints",
	"RegenStat",
	"PetStrength",
	"BasicAttack",
	"Attack",
	"SpecialAttack",
	"DamageReduction",
	"MaxMana",
}

// snapshot is the public view of an account copied into a Friend:Instance.
type snapshot struct {
	value        model.Value
	canBeSparred bool
}

// buildSnapshot reads the committed primary profile of account.
func (s *Service) buildSnapshot(ctx context.Context, account *model.Account) (*snapshot, error) {
	set, err := s.registry.ProfileSet(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	main, err := set.Profile(ctx, model.ProfileMain)
	if err != nil {
		return nil, err
	}

	level := main.Stat("level").IntOr(0)
	perkStats := main.Stat("account_perks")
	perks := make([]model.Value, len(accountPerks))
	for i, name := range accountPerks {
		perks[i] = model.Int(perkStats.Get(name).IntOr(0))
	}

	repIDs, _ := main.Stat("rep_hero_ids").AsList()
	heroes := make([]model.Value, 0, len(repIDs))
	for _, raw := range repIDs {
		heroID, ok := raw.AsString()
		if !ok {
			continue
		}
		hero, ok := main.Item(heroID)
		if !ok {
			continue
		}
		heroes = append(heroes, model.Map(map[string]model.Value{
			"itemId":       model.String(heroID),
			"templateId":   model.String(hero.TemplateID),
			"bIsCommander": model.Bool(true),
			"level":        hero.Attr("level"),
			"skillLevel":   hero.Attr("skill_level"),
			"upgrades":     hero.Attr("upgrades"),
			"accountInfo": model.Map(map[string]model.Value{
				"level": model.Int(level),
				"perks": model.List(perks...),
			}),
			"foilLevel":      model.Int(hero.Attr("foil_lvl").IntOr(-1)),
			"gearTemplateId": model.String(hero.Attr("sidekick_template_id").StringOr("")),
		}))
	}

	pvp := main.Stat("is_pvp_unlocked").BoolOr(false)
	return &snapshot{
		canBeSparred: pvp,
		value: model.Map(map[string]model.Value{
			"displayName":           model.String(account.DisplayName),
			"avatarUrl":             model.String(s.opts.AvatarURL),
			"repHeroes":             model.List(heroes...),
			"lastPlayTime":          main.Updated().Value(),
			"numLevelsCompleted":    model.Int(main.Stat("num_levels_completed").IntOr(0)),
			"numTerritoriesClaimed": model.Int(main.Stat("num_territories_claimed").IntOr(0)),
			"accountLevel":          model.Int(level),
			"numRepHeroes":          model.Int(int64(len(repIDs))),
			"isPvPUnlocked":         model.Bool(pvp),
		}),
	}, nil
}

func (s *Service) expiry() model.Value {
	return model.NewTimestamp(s.opts.Now().Add(s.opts.SnapshotTTL)).Value()
}

func (s *Service) newInstance(accountID string, snap *snapshot, status model.FriendStatus) *model.Item {
	return &model.Item{
		TemplateID: model.FriendInstanceTemplate,
		Attributes: model.Attributes{
			"lifetime_claimed":  model.Int(0),
			attrAccountID:       model.String(accountID),
			attrCanBeSparred:    model.Bool(snap.canBeSparred),
			attrSnapshotExpires: s.expiry(),
			"best_gift":         model.Int(0),
			"lifetime_gifted":   model.Int(0),
			attrSnapshot:        snap.value,
			"remoteFriendId":    model.String(""),
			attrStatus:          model.String(string(status)),
			"gifts":             model.Map(nil),
		},
		Quantity: 1,
	}
}

// instancesFor returns the ids of Friend:Instance items for accountID,
// committed or staged. Committed items whose removal is staged are skipped.
func instancesFor(p *profile.Profile, accountID string) []string {
	var ids []string
	for _, id := range p.FindByTemplateID(model.FriendInstanceTemplate) {
		if p.PendingRemoval(id) {
			continue
		}
		item, ok := p.Item(id)
		if ok && item.Attr(attrAccountID).StringOr("") == accountID {
			ids = append(ids, id)
		}
	}
	for id, item := range p.PendingItems() {
		if item.TemplateID == model.FriendInstanceTemplate && item.Attr(attrAccountID).StringOr("") == accountID {
			ids = append(ids, id)
		}
	}
	return ids
}

// instancePlan holds everything needed to stage a Friend:Instance so the
// reads can fail before any record is staged.
type instancePlan struct {
	svc      *Service
	owner    *profile.Profile
	friendID string
	snap     *snapshot
}

// planInstance reads the snapshot of friendID and the friends profile of ownerID.
func (s *Service) planInstance(ctx context.Context, ownerID, friendID string) (*instancePlan, error) {
	account, err := s.accounts.GetAccount(ctx, friendID)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", friendID, err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s: %w", friendID, ErrAccountNotFound)
	}
	snap, err := s.buildSnapshot(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("snapshot of %s: %w", friendID, err)
	}

	set, err := s.registry.ProfileSet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return nil, err
	}
	return &instancePlan{svc: s, owner: p, friendID: friendID, snap: snap}, nil
}

// stage creates the instance, or refreshes the existing ones with status.
func (pl *instancePlan) stage(status model.FriendStatus) error {
	ids := instancesFor(pl.owner, pl.friendID)
	if len(ids) == 0 {
		_, err := pl.owner.AddItem(pl.svc.newInstance(pl.friendID, pl.snap, status), "")
		return err
	}
	for _, id := range ids {
		if err := pl.svc.refreshInstance(pl.owner, id, pl.snap, status); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) refreshInstance(p *profile.Profile, id string, snap *snapshot, status model.FriendStatus) error {
	if err := p.ChangeAttribute(id, attrSnapshot, snap.value); err != nil {
		return err
	}
	if err := p.ChangeAttribute(id, attrCanBeSparred, model.Bool(snap.canBeSparred)); err != nil {
		return err
	}
	if err := p.ChangeAttribute(id, attrStatus, model.String(string(status))); err != nil {
		return err
	}
	return p.ChangeAttribute(id, attrSnapshotExpires, s.expiry())
}

// removeInstances stages the removal of every instance for friendID.
func removeInstances(p *profile.Profile, friendID string) int {
	removed := 0
	for _, id := range instancesFor(p, friendID) {
		if err := p.RemoveItem(id); err == nil {
			removed++
		}
	}
	return removed
}

// RefreshSnapshots reconciles the Friend:Instance items of accountID with its
// friend graph. Missing items are created, expired snapshots are re-read and
// instances of deleted accounts become SuggestedLegacy with their old snapshot
// kept. Once its changes are flushed, running it again stages nothing.
func (s *Service) RefreshSnapshots(ctx context.Context, accountID string) error {
	graph, err := s.registry.FriendGraph(ctx, accountID)
	if err != nil {
		return err
	}
	set, err := s.registry.ProfileSet(ctx, accountID)
	if err != nil {
		return err
	}
	p, err := set.Profile(ctx, model.ProfileFriends)
	if err != nil {
		return err
	}

	missing := make(map[string]model.FriendStatus)
	var order []string
	collect := func(list []model.Relation, status model.FriendStatus) error {
		for _, r := range list {
			exists, err := s.accounts.AccountExists(ctx, r.AccountID)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			if _, seen := missing[r.AccountID]; !seen {
				order = append(order, r.AccountID)
			}
			missing[r.AccountID] = status
		}
		return nil
	}
	if err := collect(graph.Friends, model.FriendStatusFriend); err != nil {
		return err
	}
	if err := collect(graph.Incoming, model.FriendStatusInvited); err != nil {
		return err
	}
	if err := collect(graph.Outgoing, model.FriendStatusRequested); err != nil {
		return err
	}

	for _, item := range p.PendingItems() {
		if item.TemplateID == model.FriendInstanceTemplate {
			delete(missing, item.Attr(attrAccountID).StringOr(""))
		}
	}

	// Every read happens before anything is staged so a failed lookup leaves
	// the journal untouched.
	type refresh struct {
		id     string
		snap   *snapshot
		status model.FriendStatus
	}
	var refreshes []refresh
	var legacy []string

	now := s.opts.Now()
	for _, id := range p.FindByTemplateID(model.FriendInstanceTemplate) {
		if p.PendingRemoval(id) {
			continue
		}
		item, _ := p.Item(id)
		friendID := item.Attr(attrAccountID).StringOr("")
		delete(missing, friendID)

		expires, err := model.ParseTimestamp(item.Attr(attrSnapshotExpires).StringOr(""))
		if err == nil && expires.After(now) {
			continue
		}

		account, err := s.accounts.GetAccount(ctx, friendID)
		if err != nil {
			return fmt.Errorf("get account %s: %w", friendID, err)
		}
		if account == nil {
			legacy = append(legacy, id)
			continue
		}

		snap, err := s.buildSnapshot(ctx, account)
		if err != nil {
			return fmt.Errorf("snapshot of %s: %w", friendID, err)
		}
		status := relationStatus(graph, friendID)
		if status == model.FriendStatusNone {
			status = model.FriendStatus(item.Attr(attrStatus).StringOr(string(model.FriendStatusNone)))
		}
		refreshes = append(refreshes, refresh{id: id, snap: snap, status: status})
	}

	var adds []*model.Item
	for _, friendID := range order {
		status, ok := missing[friendID]
		if !ok {
			continue
		}
		account, err := s.accounts.GetAccount(ctx, friendID)
		if err != nil {
			return fmt.Errorf("get account %s: %w", friendID, err)
		}
		if account == nil {
			continue
		}
		snap, err := s.buildSnapshot(ctx, account)
		if err != nil {
			return fmt.Errorf("snapshot of %s: %w", friendID, err)
		}
		adds = append(adds, s.newInstance(friendID, snap, status))
	}

	for _, id := range legacy {
		if err := p.ChangeAttribute(id, attrStatus, model.String(string(model.FriendStatusSuggestedLegacy))); err != nil {
			return err
		}
		if err := p.ChangeAttribute(id, attrSnapshotExpires, s.expiry()); err != nil {
			return err
		}
	}
	for _, r := range refreshes {
		if err := s.refreshInstance(p, r.id, r.snap, r.status); err != nil {
			return err
		}
	}
	for _, item := range adds {
		if _, err := p.AddItem(item, ""); err != nil {
			return err
		}
	}
	return nil
}
