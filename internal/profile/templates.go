package profile

import (
	"time"

	"wex-mcp-api/internal/model"
	"wex-mcp-api/pkg/uid"
)

// Versions holds the schema version tag written into new documents.
type Versions map[model.ProfileKind]string

// DefaultVersions are the version tags of freshly created profiles.
var DefaultVersions = Versions{
	model.ProfileMain:        "initialize_season_end_date",
	model.ProfileLevels:      "grant_pvp_item",
	model.ProfileFriends:     "force_max_friends_to_100",
	model.ProfileMonsterPit:  "remove_pet_upgrades",
	model.ProfileMultiplayer: "initial",
}

const epochPlaceholder = "0021-12-01T21:12:00.000Z"

// NewDocument builds the initial document of kind for a new account.
func NewDocument(accountID string, kind model.ProfileKind, now time.Time, versions Versions) *model.Profile {
	version := versions[kind]
	if version == "" {
		version = DefaultVersions[kind]
	}
	ts := model.NewTimestamp(now)
	doc := &model.Profile{
		ID:              uid.NewHex(),
		Created:         ts,
		Updated:         ts,
		Revision:        1,
		WipeNumber:      4,
		AccountID:       accountID,
		ProfileID:       kind,
		Version:         version,
		Items:           map[string]*model.Item{},
		Stats:           model.ProfileStats{Attributes: model.Attributes{}},
		CommandRevision: 0,
	}

	switch kind {
	case model.ProfileMain:
		doc.Items = mainItems()
		doc.Stats.Attributes = mainStats(now)
	case model.ProfileLevels:
		doc.Stats.Attributes = model.Attributes{
			"last_played_level":   model.String(""),
			"last_used_friend_id": model.String(""),
			"portal_level":        model.String(""),
		}
	case model.ProfileFriends:
		doc.Stats.Attributes = model.Attributes{
			"daily_friends":     model.Map(nil),
			"max_friend_count":  model.Int(100),
			"daily_friend_uses": model.Int(2),
		}
	case model.ProfileMonsterPit:
		doc.Stats.Attributes = model.Attributes{
			"highest_pit_power": model.Int(0),
			"pit_power_dirty":   model.Bool(true),
			"pit_power":         model.Int(0),
			"pit_level":         model.Int(1),
		}
	case model.ProfileMultiplayer:
		doc.WipeNumber = 5
		doc.Items = map[string]*model.Item{
			uid.New(): {
				TemplateID: "MultiplayerMode:PvpDuel",
				Attributes: model.Attributes{
					"lifetime_wins":             model.Int(0),
					"current_enemies_defeated":  model.Int(0),
					"defense_rating":            model.Int(0),
					"current_losses":            model.Int(0),
					"attack_rating":             model.Int(0),
					"match_roster":              model.List(),
					"lifetime_enemies_defeated": model.Int(0),
					"recent_matches":            model.List(),
					"pvp_match_count":           model.Int(0),
					"match_refresh":             model.Map(nil),
					"current_wins":              model.Int(0),
					"recent_opponents":          model.List(),
					"lifetime_losses":           model.Int(0),
				},
				Quantity: 1,
			},
		}
		doc.Stats.Attributes = model.Attributes{
			"daily_pvp_wins":         model.Int(0),
			"last_refresh":           model.String(epochPlaceholder),
			"current_pvp_win_date":   model.String(epochPlaceholder),
			"pvp_taunt":              model.String(""),
			"default_parties":        model.Map(nil),
			"matchmaking_id":         model.String(""),
			"daily_pvp_reward_limit": model.Int(25),
		}
	}
	return doc
}

func mainItems() map[string]*model.Item {
	currencies := map[string]int64{
		"Currency:SB_Silver":          40000,
		"Currency:SB_Gold":            0,
		"Currency:SB_Bronze":          0,
		"Currency:SB_Platinum":        15000,
		"Currency:SB_Mine":            0,
		"Currency:SB_WS":              0,
		"Currency:SB_LevelCompletion": 0,
	}
	items := make(map[string]*model.Item, len(currencies)+4)
	for templateID, quantity := range currencies {
		items[uid.New()] = &model.Item{TemplateID: templateID, Attributes: model.Attributes{}, Quantity: quantity}
	}
	for _, building := range []string{
		"HqBuilding:HQ_Market",
		"HqBuilding:HQ_SpiralTower",
		"HqBuilding:HQ_CrystalForge",
		"HqBuilding:HQ_AncientFactory",
	} {
		items[uid.New()] = &model.Item{
			TemplateID: building,
			Attributes: model.Attributes{"level": model.Int(0)},
			Quantity:   1,
		}
	}
	return items
}

func mainStats(now time.Time) model.Attributes {
	return model.Attributes{
		"level":                    model.Int(1),
		"xp":                       model.Int(0),
		"season_xp":                model.Int(0),
		"hero_limit":               model.Int(15),
		"weapon_limit":             model.Int(500),
		"armor_limit":              model.Int(500),
		"max_rep_heroes":           model.Int(1),
		"rep_hero_ids":             model.List(),
		"account_perks":            model.Map(nil),
		"is_pvp_unlocked":          model.Bool(false),
		"has_started":              model.Bool(false),
		"num_levels_completed":     model.Int(0),
		"num_territories_claimed":  model.Int(0),
		"avatar_url":               model.String("wex-temp-avatar.png"),
		"current_battlepass":       model.String("Battlepass4"),
		"current_season_end_date":  model.String("2022-12-28T00:00:00.000Z"),
		"daily_quest_last_refresh": model.String(epochPlaceholder),
		"login_reward": model.Map(map[string]model.Value{
			"last_claim_time": model.String(epochPlaceholder),
			"next_level":      model.Int(1),
		}),
		"activity": model.Map(map[string]model.Value{
			"a": model.Map(map[string]model.Value{
				"date":    model.String(now.UTC().Format("2006-01-02") + "T00:00:00.000Z"),
				"claimed": model.Bool(false),
				"props":   model.Map(map[string]model.Value{"BaseBonus": model.Int(10)}),
			}),
			"standardGift": model.Int(10),
		}),
		"standard_gift":   model.Int(10),
		"default_parties": model.Map(nil),
		"rewards_claimed": model.Map(nil),
	}
}
