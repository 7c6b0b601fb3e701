package rules

import (
	"context"
	"fmt"
	"sync"
)

// Settings namespaces read from the settings collection.
const (
	RulesSettings = "rules"
	APISettings   = "api"
)

// SettingsSource reads a settings document.
type SettingsSource interface {
	GetSettings(ctx context.Context, namespace string) (map[string]any, error)
}

// Settings is the process-wide engine configuration: the rules debug flag
// and the api version.
//
// It is loaded at most once. Concurrent first readers wait for a single
// load; a failed load is retried by the next reader. Once loaded the values
// never change for the life of the process.
type Settings struct {
	src SettingsSource

	mu         sync.Mutex
	loaded     bool
	debug      bool
	apiVersion string
}

// NewSettings creates a settings cache over src.
func NewSettings(src SettingsSource) *Settings {
	return &Settings{src: src}
}

// StaticSettings returns settings that are already loaded.
func StaticSettings(debug bool, apiVersion string) *Settings {
	return &Settings{loaded: true, debug: debug, apiVersion: apiVersion}
}

// Load reads the settings documents unless they are already loaded.
func (s *Settings) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	rules, err := s.src.GetSettings(ctx, RulesSettings)
	if err != nil {
		return fmt.Errorf("load %s settings: %w", RulesSettings, err)
	}
	api, err := s.src.GetSettings(ctx, APISettings)
	if err != nil {
		return fmt.Errorf("load %s settings: %w", APISettings, err)
	}

	s.debug, _ = rules["debug"].(bool)
	switch v := api["version"].(type) {
	case string:
		s.apiVersion = v
	case float64:
		s.apiVersion = fmt.Sprint(v)
	}
	s.loaded = true
	return nil
}

// Debug reports the rules debug flag. It is false until loaded.
func (s *Settings) Debug() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debug
}

// APIVersion returns the api version string.
func (s *Settings) APIVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiVersion
}
