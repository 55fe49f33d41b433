package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FriendsTuning holds friend system settings.
type FriendsTuning struct {
	SnapshotTTL     Duration `toml:"snapshot_ttl"`
	SuggestionLimit int      `toml:"suggestion_limit"`
	AvatarURL       string   `toml:"avatar_url"`
}

// ProfileVersions overrides the version tag written into new profiles, per kind.
type ProfileVersions struct {
	Profile0    string `toml:"profile0"`
	Levels      string `toml:"levels"`
	Friends     string `toml:"friends"`
	MonsterPit  string `toml:"monsterpit"`
	Multiplayer string `toml:"multiplayer"`
}

// ByKind returns the non-empty overrides keyed by profile id.
func (v ProfileVersions) ByKind() map[string]string {
	out := make(map[string]string)
	for kind, version := range map[string]string{
		"profile0":    v.Profile0,
		"levels":      v.Levels,
		"friends":     v.Friends,
		"monsterpit":  v.MonsterPit,
		"multiplayer": v.Multiplayer,
	} {
		if version != "" {
			out[kind] = version
		}
	}
	return out
}

// Gameplay is the optional TOML tuning file.
type Gameplay struct {
	Friends  FriendsTuning   `toml:"friends"`
	Versions ProfileVersions `toml:"profile_versions"`
}

// Duration parses TOML strings such as "3h" or "90m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultGameplay returns the tuning used when no file is present.
func DefaultGameplay() *Gameplay {
	return &Gameplay{
		Friends: FriendsTuning{
			SnapshotTTL:     Duration{3 * time.Hour},
			SuggestionLimit: 10,
			AvatarURL:       "wex-temp-avatar.png",
		},
	}
}

// LoadGameplay reads path over the defaults. A missing file is not an error.
func LoadGameplay(path string) (*Gameplay, error) {
	cfg := DefaultGameplay()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read gameplay file '%s': %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if cfg.Friends.SnapshotTTL.Duration <= 0 {
		return nil, fmt.Errorf("friends.snapshot_ttl must be positive")
	}
	if cfg.Friends.SuggestionLimit < 0 {
		return nil, fmt.Errorf("friends.suggestion_limit must not be negative")
	}
	return cfg, nil
}
