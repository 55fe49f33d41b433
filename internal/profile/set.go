package profile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"wex-mcp-api/internal/model"
)

// Store loads and persists profile documents. LoadProfile returns nil, nil
// when the document does not exist.
type Store interface {
	LoadProfile(ctx context.Context, accountID string, kind model.ProfileKind) (*model.Profile, error)
	SaveProfile(ctx context.Context, doc *model.Profile) error
}

// Option configures a Set.
type Option func(*Set)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// WithVersions overrides the version tags of new documents.
func WithVersions(v Versions) Option {
	return func(s *Set) { s.versions = v }
}

// Set is the bundle of every profile kind of one account.
type Set struct {
	accountID string
	store     Store
	now       func() time.Time
	versions  Versions

	mu       sync.Mutex
	profiles map[model.ProfileKind]*Profile
	// tracked is the last command revision handed to the client, per kind.
	tracked map[model.ProfileKind]int64
}

// NewSet creates an empty set. Profiles load lazily on first access.
func NewSet(accountID string, store Store, opts ...Option) *Set {
	s := &Set{
		accountID: accountID,
		store:     store,
		now:       time.Now,
		versions:  DefaultVersions,
		profiles:  make(map[model.ProfileKind]*Profile),
		tracked:   make(map[model.ProfileKind]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccountID returns the owning account id.
func (s *Set) AccountID() string {
	return s.accountID
}

// Profile returns the live profile of kind, loading or creating it on first use.
func (s *Set) Profile(ctx context.Context, kind model.ProfileKind) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileLocked(ctx, kind)
}

func (s *Set) profileLocked(ctx context.Context, kind model.ProfileKind) (*Profile, error) {
	if p, ok := s.profiles[kind]; ok {
		return p, nil
	}

	doc, err := s.store.LoadProfile(ctx, s.accountID, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s profile of %s: %w", kind, s.accountID, err)
	}

	created := doc == nil
	if created {
		doc = NewDocument(s.accountID, kind, s.now(), s.versions)
	}

	p := New(doc)
	if created {
		p.markDirty()
	}
	s.profiles[kind] = p
	s.tracked[kind] = doc.CommandRevision
	return p, nil
}

// LoadAll loads every profile kind.
func (s *Set) LoadAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range model.ProfileKinds {
		if _, err := s.profileLocked(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

// TrackedRevisions returns the tracked client command revisions of loaded kinds.
func (s *Set) TrackedRevisions() model.ClientRevisions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackedLocked()
}

func (s *Set) trackedLocked() model.ClientRevisions {
	out := make(model.ClientRevisions, 0, len(s.tracked))
	for _, kind := range model.ProfileKinds {
		if rev, ok := s.tracked[kind]; ok {
			out = append(out, model.ClientRevision{ProfileID: kind, ClientCommandRevision: rev})
		}
	}
	return out
}

// ClearNotifications drops queued notifications of kind, or of every kind when kind is empty.
func (s *Set) ClearNotifications(kind model.ProfileKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.profiles {
		if kind == "" || k == kind {
			p.ClearNotifications()
		}
	}
}

// ConstructResponse flushes pending work and assembles the sync response for
// req.Kind. Changes staged on other kinds are reported in MultiUpdate.
func (s *Set) ConstructResponse(ctx context.Context, req model.SyncRequest) (*model.SyncResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.profileLocked(ctx, req.Kind)
	if err != nil {
		return nil, err
	}

	revisions := req.ClientRevisions
	if revisions == nil {
		revisions = s.trackedLocked()
	}
	clientRevision := revisions.Lookup(req.Kind)
	if clientRevision <= 0 {
		clientRevision = target.CommandRevision()
	}

	now := s.now()
	resp := &model.SyncResponse{
		ProfileRevision:            target.Revision(),
		ProfileID:                  req.Kind,
		ProfileChangesBaseRevision: target.Revision(),
		ProfileChanges:             []model.Change{},
		ProfileCommandRevision:     clientRevision,
		ServerTime:                 model.NewTimestamp(now),
		ResponseVersion:            model.ResponseVersion,
	}

	if req.Revision != target.Revision() {
		target.Flush()
		resp.ProfileChanges = []model.Change{model.FullProfileUpdate(target.Document())}
	} else if changes := target.Journal(); len(changes) > 0 {
		resp.ProfileChanges = changes
		target.bump(now)
		resp.ProfileRevision = target.Revision()
		resp.ProfileChangesBaseRevision = resp.ProfileRevision - 1
		resp.ProfileCommandRevision = target.CommandRevision()
		s.tracked[req.Kind]++
	}

	for _, kind := range model.ProfileKinds {
		if kind == req.Kind {
			continue
		}
		other, ok := s.profiles[kind]
		if !ok {
			continue
		}
		changes := other.Journal()
		if len(changes) == 0 {
			continue
		}

		otherRevision := revisions.Lookup(kind)
		if otherRevision <= 0 {
			otherRevision = other.CommandRevision()
		}
		base := other.Revision()
		other.bump(now)
		s.tracked[kind]++

		resp.MultiUpdate = append(resp.MultiUpdate, model.ProfileUpdate{
			ProfileRevision:            other.Revision(),
			ProfileID:                  kind,
			ProfileChangesBaseRevision: base,
			ProfileChanges:             changes,
			ProfileCommandRevision:     otherRevision,
			Notifications:              other.Notifications(),
		})
	}

	if notifications := target.Notifications(); len(notifications) > 0 {
		resp.Notifications = notifications
	}

	if req.ClearAllNotifications {
		for _, p := range s.profiles {
			p.ClearNotifications()
		}
	} else if req.ClearNotifications {
		target.ClearNotifications()
	}

	for _, p := range s.profiles {
		p.Flush()
	}
	s.saveLocked(ctx)

	return resp, nil
}

// Dirty reports whether any loaded profile has unsaved changes.
func (s *Set) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.Dirty() || p.HasChanges() {
			return true
		}
	}
	return false
}

// HasChanges reports whether any loaded profile holds staged records.
func (s *Set) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if p.HasChanges() {
			return true
		}
	}
	return false
}

// Commit applies every pending journal outside of a sync response, bumping
// each affected revision so clients full-sync on their next call. It returns
// the number of committed kinds.
func (s *Set) Commit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	committed := 0
	for _, kind := range model.ProfileKinds {
		p, ok := s.profiles[kind]
		if !ok || !p.HasChanges() {
			continue
		}
		p.Flush()
		p.bump(now)
		committed++
	}
	return committed
}

// Save persists every dirty profile. Failures are logged and leave the
// profile dirty so a later save retries it.
func (s *Set) Save(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Set) saveLocked(ctx context.Context) int {
	failed := 0
	for _, kind := range model.ProfileKinds {
		p, ok := s.profiles[kind]
		if !ok || !p.Dirty() {
			continue
		}
		if err := s.store.SaveProfile(ctx, p.Document()); err != nil {
			log.Printf("[ProfileSet] Failed to save %s profile of %s: %v", kind, s.accountID, err)
			failed++
			continue
		}
		p.markClean()
	}
	return failed
}
