package shelly

import (
	"sync"

	"shelly-dtu/internal/schema"
)

// Store holds the active integration settings. They can be replaced at
// runtime through the web API.
type Store struct {
	mu  sync.RWMutex
	cfg schema.ShellyConfig
}

func NewStore(cfg schema.ShellyConfig) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() schema.ShellyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) Set(cfg schema.ShellyConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Hostname returns the configured host of a device kind, or "" when the
// integration is disabled.
func (s *Store) Hostname(kind Kind) string {
	cfg := s.Get()
	if !cfg.ShellyEnable {
		return ""
	}
	if kind == KindPro3EM {
		return cfg.HostnamePro3EM
	}
	return cfg.HostnamePlugs
}
