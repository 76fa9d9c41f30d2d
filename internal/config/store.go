package config

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Store holds the live configuration snapshot. Readers get a complete,
// immutable *Config via Current; reloads swap the whole pointer under a
// single-writer lock so no reader ever observes a half-updated set.
type Store struct {
	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []func(old, updated *Config)
	path        string
	logger      zerolog.Logger
}

// NewStore creates a store seeded with cfg. path is re-read on Reload and may
// be empty.
func NewStore(cfg *Config, path string, logger zerolog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger.With().Str("component", "config").Logger(),
	}
	s.current.Store(cfg)
	return s
}

// Current returns the live configuration snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Subscribe registers fn to run after every successful swap. fn is called
// from the reloading goroutine with both the previous and the new snapshot.
func (s *Store) Subscribe(fn func(old, updated *Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Reload re-reads the config file and environment and applies the result.
// An invalid configuration is rejected and the previous snapshot stays live.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Error().Err(err).Msg("config reload rejected")
		return err
	}
	if err := s.Apply(cfg); err != nil {
		s.logger.Error().Err(err).Msg("config reload rejected")
		return err
	}
	s.logger.Info().Msg("config reloaded")
	return nil
}

// Apply validates and swaps in cfg, notifying subscribers. Used by Reload and
// by the admin API for live updates. An invalid cfg is rejected without
// touching the live snapshot.
func (s *Store) Apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	s.current.Store(cfg)
	for _, fn := range s.subscribers {
		fn(old, cfg)
	}
	return nil
}
