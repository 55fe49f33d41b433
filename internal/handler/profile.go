package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"wex-mcp-api/internal/friends"
	"wex-mcp-api/internal/middleware"
	"wex-mcp-api/internal/model"
	"wex-mcp-api/internal/profile"
	"wex-mcp-api/pkg/apierror"
	"wex-mcp-api/pkg/response"

	"github.com/go-chi/chi/v5"
)

const (
	mcpVersion             = "prod Release-1.88-1.88 build 107 cl 19310354"
	profileRevisionsHeader = "X-EpicGames-ProfileRevisions"
)

// Registry is the subset of the account registry used by handlers.
type Registry interface {
	Lock(ids ...string) func()
	ProfileSet(ctx context.Context, accountID string) (*profile.Set, error)
}

// AccountChecker reports whether an account exists.
type AccountChecker interface {
	AccountExists(ctx context.Context, accountID string) (bool, error)
}

// ProfileHandler serves the MCP profile command endpoint.
type ProfileHandler struct {
	registry Registry
	friends  *friends.Service
	accounts AccountChecker
	commands map[string]mcpCommand
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(registry Registry, friendService *friends.Service, accounts AccountChecker) *ProfileHandler {
	h := &ProfileHandler{
		registry: registry,
		friends:  friendService,
		accounts: accounts,
	}
	h.commands = h.commandTable()
	return h
}

// mcpRequest is the parsed form of one profile command call.
type mcpRequest struct {
	accountID string
	command   string
	sync      model.SyncRequest
	r         *http.Request

	// friendIDs holds the accounts resolved by a command's targets step.
	friendIDs []string
}

// mcpCommand is one profile command. targets runs first under the caller's
// lock and names the other accounts run mutates; run then executes with all
// of them locked.
type mcpCommand struct {
	targets func(ctx context.Context, req *mcpRequest) ([]string, error)
	run     func(ctx context.Context, req *mcpRequest) error

	clearNotifications bool
}

// stubCommands are gameplay commands answered with an unchanged profile.
var stubCommands = []string{
	"AbandonLevel", "AddToMonsterPit", "BlitzLevel", "BulkImproveHeroes",
	"BuyBackFromMonsterPit", "CashOutWorkshop", "ClaimAccountReward",
	"ClaimComeBackReward", "ClaimEventRewards", "ClaimLoginReward",
	"ClaimNotificationOptInReward", "ClaimQuestReward", "ClaimTerritory",
	"ClientTrackedRetentionAnalytics", "CollectHammerQuestEnergy",
	"CollectHammerQuestRealtime", "CraftRecipe", "EvolveHero", "FinalizeLevel",
	"FoilHero", "GenerateDailyQuests", "GenerateMatchWithFriend", "GenerateMatches",
	"InitializeLevel", "JoinMatchmaking", "LevelUpHero", "MarkHeroSeen",
	"ModifyHeroArmor", "ModifyHeroGear", "ModifyHeroWeapon", "OpenGiftBox",
	"OpenHeroChest", "PickHeroChest", "PromoteHero", "PurchaseCatalogEntry",
	"RedeemToken", "RefreshRunCount", "RemoveFromMonsterPit",
	"RemoveHeroFromAllParties", "RollHammerChests", "SelectHammerChest",
	"SelectStartOptions", "SellGear", "SellHero", "SellMultipleGear", "SellTreasure",
	"SendGiftPoints", "SetAffiliate", "SetDefaultParty", "SetRepHero",
	"TapHammerChest", "UnlockArmorGear", "UnlockHeroGear", "UnlockRegion",
	"UnlockWeaponGear", "UpdateAccountHeadlessStatus", "UpdateMonsterPitPower",
	"UpdateParty", "UpgradeBuilding", "UpgradeHero", "UpgradeHeroSkills",
	"VerifyRealMoneyPurchase",
}

func (h *ProfileHandler) commandTable() map[string]mcpCommand {
	removeFriends := mcpCommand{targets: h.resolveInstances, run: h.removeFriends}
	addFriend := mcpCommand{targets: friendAccountTarget, run: h.addFriend}
	table := map[string]mcpCommand{
		"QueryProfile":       {},
		"MarkItemSeen":       {run: h.markItemSeen},
		"AddEpicFriend":      {targets: friendAccountTarget, run: h.addEpicFriend},
		"AddFriend":          addFriend,
		"RemoveFriend":       removeFriends,
		"DeleteFriend":       removeFriends,
		"UpdateFriends":      {run: h.updateFriends},
		"SuggestFriends":     {run: h.suggestFriends},
		"Reconcile":          {run: h.reconcile, clearNotifications: true},
		"SuggestionResponse": {run: h.suggestionResponse},
	}
	for _, name := range stubCommands {
		table[name] = mcpCommand{run: stubCommand}
	}
	return table
}

// Execute handles POST /wex/api/game/v2/profile/{accountId}/{command}
func (h *ProfileHandler) Execute(w http.ResponseWriter, r *http.Request) {
	setMCPHeaders(w, r)

	req, apiErr := h.parseRequest(r)
	if apiErr != nil {
		response.EpicError(w, apiErr)
		return
	}
	cmd, ok := h.commands[req.command]
	if !ok {
		response.EpicError(w, apierror.OperationNotFound(req.command))
		return
	}

	ctx := r.Context()
	exists, err := h.accounts.AccountExists(ctx, req.accountID)
	if err != nil {
		response.EpicError(w, toAPIError(err, req.accountID))
		return
	}
	if !exists {
		response.EpicError(w, apierror.AccountNotFound(req.accountID))
		return
	}

	resp, err := h.run(ctx, cmd, req)
	if err != nil {
		response.EpicError(w, toAPIError(err, ""))
		return
	}
	response.Raw(w, http.StatusOK, resp)
}

func (h *ProfileHandler) run(ctx context.Context, cmd mcpCommand, req *mcpRequest) (*model.SyncResponse, error) {
	var others []string
	if cmd.targets != nil {
		unlock := h.registry.Lock(req.accountID)
		ids, err := cmd.targets(ctx, req)
		unlock()
		if err != nil {
			return nil, err
		}
		others = ids
	}

	unlock := h.registry.Lock(append([]string{req.accountID}, others...)...)
	defer unlock()

	if cmd.run != nil {
		if err := cmd.run(ctx, req); err != nil {
			return nil, err
		}
	}

	set, err := h.registry.ProfileSet(ctx, req.accountID)
	if err != nil {
		return nil, err
	}
	syncReq := req.sync
	syncReq.ClearNotifications = cmd.clearNotifications
	return set.ConstructResponse(ctx, syncReq)
}

func (h *ProfileHandler) parseRequest(r *http.Request) (*mcpRequest, *apierror.Error) {
	req := &mcpRequest{
		accountID: chi.URLParam(r, "accountId"),
		command:   chi.URLParam(r, "command"),
		r:         r,
	}
	if req.accountID == "" {
		return nil, apierror.BadRequest("accountId is required")
	}

	profileID := r.URL.Query().Get("profileId")
	if profileID == "" {
		profileID = string(model.ProfileMain)
	}
	kind, err := model.ParseProfileKind(profileID)
	if err != nil {
		return nil, apierror.InvalidProfileID(profileID)
	}

	req.sync = model.SyncRequest{
		Kind:            kind,
		Revision:        parseRevision(r.URL.Query().Get("rvn")),
		ClientRevisions: parseClientRevisions(r.Header.Get(profileRevisionsHeader)),
	}
	return req, nil
}

// parseRevision returns -1 when rvn is absent or malformed.
func parseRevision(raw string) int64 {
	if raw == "" {
		return -1
	}
	rvn, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return rvn
}

// parseClientRevisions returns nil when the header is absent or malformed.
func parseClientRevisions(raw string) model.ClientRevisions {
	if raw == "" {
		return nil
	}
	var revisions model.ClientRevisions
	if err := json.Unmarshal([]byte(raw), &revisions); err != nil {
		log.Printf("[ProfileHandler] Ignoring malformed %s header: %v", profileRevisionsHeader, err)
		return nil
	}
	return revisions
}

func setMCPHeaders(w http.ResponseWriter, r *http.Request) {
	correlationID := r.Header.Get("X-Epic-Correlation-ID")
	if correlationID == "" {
		correlationID = middleware.GetRequestID(r.Context())
	}
	w.Header().Set("X-EpicGames-McpVersion", mcpVersion)
	w.Header().Set("X-EpicGames-MinBuild", "-1")
	w.Header().Set("X-Epic-Correlation-ID", correlationID)
}

func stubCommand(_ context.Context, req *mcpRequest) error {
	log.Printf("[ProfileHandler] %s for %s is a no-op", req.command, req.accountID)
	return nil
}

func (h *ProfileHandler) targetProfile(ctx context.Context, req *mcpRequest) (*profile.Profile, error) {
	set, err := h.registry.ProfileSet(ctx, req.accountID)
	if err != nil {
		return nil, err
	}
	return set.Profile(ctx, req.sync.Kind)
}

func (h *ProfileHandler) markItemSeen(ctx context.Context, req *mcpRequest) error {
	var body struct {
		ItemID  string   `json:"itemId"`
		ItemIDs []string `json:"itemIds"`
	}
	if err := decodeBody(req.r, &body); err != nil {
		return err
	}
	ids := body.ItemIDs
	if body.ItemID != "" {
		ids = append(ids, body.ItemID)
	}
	if len(ids) == 0 {
		return apierror.ValidationError("itemId is required",
			apierror.FieldError{Field: "itemId", Message: "required"})
	}

	p, err := h.targetProfile(ctx, req)
	if err != nil {
		return err
	}
	// Validate every id first so a bad one stages nothing.
	for _, id := range ids {
		if _, ok := p.Item(id); !ok {
			return apierror.ItemNotFound(id)
		}
	}
	for _, id := range ids {
		if err := p.ChangeAttribute(id, "is_new", model.Bool(false)); err != nil {
			return toAPIError(err, id)
		}
	}
	return nil
}

// friendAccountTarget reads friendAccountId from the body.
func friendAccountTarget(_ context.Context, req *mcpRequest) ([]string, error) {
	var body struct {
		FriendAccountID string `json:"friendAccountId"`
	}
	if err := decodeBody(req.r, &body); err != nil {
		return nil, err
	}
	if body.FriendAccountID == "" {
		return nil, apierror.ValidationError("friendAccountId is required",
			apierror.FieldError{Field: "friendAccountId", Message: "required"})
	}
	req.friendIDs = []string{body.FriendAccountID}
	return req.friendIDs, nil
}

// addEpicFriend records a friendship that already exists on the platform.
func (h *ProfileHandler) addEpicFriend(ctx context.Context, req *mcpRequest) error {
	friendID := req.friendIDs[0]
	exists, err := h.accounts.AccountExists(ctx, friendID)
	if err != nil {
		return err
	}
	if !exists {
		e := apierror.ItemNotFound(friendID)
		e.Message = "Could not find friend account"
		return e
	}
	if err := h.friends.AddFriend(ctx, req.accountID, friendID); err != nil {
		return toAPIError(err, friendID)
	}
	return nil
}

// addFriend is the legacy in-game friend request.
func (h *ProfileHandler) addFriend(ctx context.Context, req *mcpRequest) error {
	friendID := req.friendIDs[0]
	if err := h.friends.SendRequest(ctx, req.accountID, friendID); err != nil {
		return toAPIError(err, friendID)
	}
	return nil
}

// resolveInstances maps friendInstanceId(s) to the accounts they point at.
func (h *ProfileHandler) resolveInstances(ctx context.Context, req *mcpRequest) ([]string, error) {
	var body struct {
		FriendInstanceID  string   `json:"friendInstanceId"`
		FriendInstanceIDs []string `json:"friendInstanceIds"`
	}
	if err := decodeBody(req.r, &body); err != nil {
		return nil, err
	}
	instances := body.FriendInstanceIDs
	if instances == nil && body.FriendInstanceID != "" {
		instances = []string{body.FriendInstanceID}
	}
	if len(instances) == 0 {
		return nil, apierror.ValidationError("friendInstanceId is required",
			apierror.FieldError{Field: "friendInstanceId", Message: "required"})
	}

	ids := make([]string, 0, len(instances))
	for _, instanceID := range instances {
		friendID, err := h.friends.FriendAccountID(ctx, req.accountID, instanceID)
		if err != nil {
			return nil, toAPIError(err, instanceID)
		}
		if friendID != "" {
			ids = append(ids, friendID)
		}
	}
	req.friendIDs = ids
	return ids, nil
}

func (h *ProfileHandler) removeFriends(ctx context.Context, req *mcpRequest) error {
	for _, friendID := range req.friendIDs {
		if _, err := h.friends.RemoveFriend(ctx, req.accountID, friendID); err != nil {
			return toAPIError(err, friendID)
		}
	}
	return nil
}

func (h *ProfileHandler) updateFriends(ctx context.Context, req *mcpRequest) error {
	return h.friends.RefreshSnapshots(ctx, req.accountID)
}

func (h *ProfileHandler) suggestFriends(ctx context.Context, req *mcpRequest) error {
	_, err := h.friends.SuggestFriends(ctx, req.accountID)
	return err
}

func (h *ProfileHandler) reconcile(ctx context.Context, req *mcpRequest) error {
	var body struct {
		FriendIDList   []string `json:"friendIdList"`
		OutgoingIDList []string `json:"outgoingIdList"`
		IncomingIDList []string `json:"incomingIdList"`
	}
	if err := decodeBody(req.r, &body); err != nil {
		return err
	}
	ids := make([]string, 0, len(body.FriendIDList)+len(body.OutgoingIDList)+len(body.IncomingIDList))
	ids = append(ids, body.FriendIDList...)
	ids = append(ids, body.OutgoingIDList...)
	ids = append(ids, body.IncomingIDList...)

	set, err := h.registry.ProfileSet(ctx, req.accountID)
	if err != nil {
		return err
	}
	set.ClearNotifications("")
	_, err = h.friends.Reconcile(ctx, req.accountID, ids)
	return err
}

func (h *ProfileHandler) suggestionResponse(ctx context.Context, req *mcpRequest) error {
	var body struct {
		Invited  []string `json:"invitedFriendInstanceIds"`
		Rejected []string `json:"rejectedFriendInstanceIds"`
	}
	if err := decodeBody(req.r, &body); err != nil {
		return err
	}
	if err := h.friends.RespondToSuggestions(ctx, req.accountID, body.Invited, body.Rejected); err != nil {
		return toAPIError(err, "")
	}
	return nil
}

