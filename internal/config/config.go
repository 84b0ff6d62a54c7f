package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.atendo/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Reconcile      Reconcile `toml:"reconcile"`
	Cache          Cache     `toml:"cache"`
}

// Reconcile holds the tunable reconciliation constants. The defaults
// match typical network latency but are not guaranteed-correct for
// every deployment, hence config keys rather than compile-time values.
type Reconcile struct {
	// MatchWindowMS bounds how far apart a pending message and its
	// stream-delivered confirmation may be to still be correlated.
	MatchWindowMS int `toml:"match_window_ms"`
	// SendGraceMS is how long a confirmed send's optimistic entry stays
	// visible so the settled copy can land without a flicker.
	SendGraceMS int `toml:"send_grace_ms"`
}

// Cache holds the TTLs for the roster caches.
type Cache struct {
	ThreadsTTLMS int `toml:"threads_ttl_ms"`
	TagsTTLMS    int `toml:"tags_ttl_ms"`
}

// Default returns a config with all tunables at their defaults.
func Default() *Config {
	return &Config{
		Reconcile: Reconcile{
			MatchWindowMS: 3000,
			SendGraceMS:   500,
		},
		Cache: Cache{
			ThreadsTTLMS: int(5 * time.Minute / time.Millisecond),
			TagsTTLMS:    int(8 * time.Minute / time.Millisecond),
		},
	}
}

// MatchWindow returns the pending-message correlation window.
func (r Reconcile) MatchWindow() time.Duration {
	return time.Duration(r.MatchWindowMS) * time.Millisecond
}

// SendGrace returns the post-send grace delay.
func (r Reconcile) SendGrace() time.Duration {
	return time.Duration(r.SendGraceMS) * time.Millisecond
}

// ThreadsTTL returns the roster cache TTL.
func (c Cache) ThreadsTTL() time.Duration {
	return time.Duration(c.ThreadsTTLMS) * time.Millisecond
}

// TagsTTL returns the tag list cache TTL.
func (c Cache) TagsTTL() time.Duration {
	return time.Duration(c.TagsTTLMS) * time.Millisecond
}

// Load reads config from the given path. Keys absent from the file keep
// their defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when
// the file does not exist yet.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
