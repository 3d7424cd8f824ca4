package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
	"tally.bridge/internal/core/validation"
)

// ConfigService owns the operator-editable BridgeConfig.
type ConfigService struct {
	mu       sync.RWMutex
	current  domain.BridgeConfig
	store    ports.ConfigStore
	validate *validation.Validator
}

// NewConfigService starts from defaults; store may be nil.
func NewConfigService(defaults domain.BridgeConfig, store ports.ConfigStore) *ConfigService {
	return &ConfigService{
		current:  defaults.Merge(domain.BridgeConfigPatch{}),
		store:    store,
		validate: validation.New(),
	}
}

// Load replaces the defaults with the persisted config, if any.
func (s *ConfigService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	cfg, err := s.store.LoadConfig(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading bridge config: %w", err)
	}

	s.mu.Lock()
	s.current = *cfg
	s.mu.Unlock()
	logger.InfoContext(ctx, "Loaded persisted bridge config", "sync_mode", cfg.SyncMode)
	return nil
}

func (s *ConfigService) Get() domain.BridgeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Merge(domain.BridgeConfigPatch{})
}

// Update merges patch over the current config. Nothing changes when validation or
// persistence fails.
func (s *ConfigService) Update(ctx context.Context, patch domain.BridgeConfigPatch) (domain.BridgeConfig, error) {
	if err := s.validate.Struct(&patch); err != nil {
		return domain.BridgeConfig{}, err
	}
	for _, dt := range patch.DataTypes {
		if _, err := domain.ParseEntityType(dt); err != nil {
			return domain.BridgeConfig{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Merge(patch)
	if s.store != nil {
		if err := s.store.SaveConfig(ctx, next); err != nil {
			return domain.BridgeConfig{}, fmt.Errorf("saving bridge config: %w", err)
		}
	}
	s.current = next
	return next.Merge(domain.BridgeConfigPatch{}), nil
}

// EnabledEntityTypes resolves the configured data types.
func (s *ConfigService) EnabledEntityTypes() []domain.EntityType {
	cfg := s.Get()
	return uniqueEntityTypes(cfg.DataTypes)
}

func uniqueEntityTypes(names []string) []domain.EntityType {
	seen := make(map[domain.EntityType]bool)
	var out []domain.EntityType
	for _, n := range names {
		et, err := domain.ParseEntityType(n)
		if err != nil || seen[et] {
			continue
		}
		seen[et] = true
		out = append(out, et)
	}
	return out
}
