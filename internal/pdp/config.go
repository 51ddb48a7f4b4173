// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"context"

	"github.com/aegis-pdp/aegis/internal/config"
	"github.com/aegis-pdp/aegis/internal/event"
)

// GetConfig returns the current configuration.
func (s *Service) GetConfig() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig replaces the configuration. The new session timeout applies
// to sessions issued afterwards; existing sessions keep their expiry. A
// changed sweep interval reschedules the sweep.
func (s *Service) UpdateConfig(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	err := s.updateConfig(cfg)
	s.mu.Unlock()
	s.flush()
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "configuration updated",
		"rbac", cfg.EnableRoleBasedAccess,
		"abac", cfg.EnableAttributeBasedAccess,
		"mfa", cfg.EnableMultiFactorAuth,
		"sessions", cfg.EnableSessionManagement,
		"audit", cfg.EnableAuditLogging)
	return nil
}

func (s *Service) updateConfig(cfg config.Config) error {
	if cfg.SweepInterval != s.cfg.SweepInterval && !s.stopped.Load() {
		if err := s.armSweep(cfg.SweepInterval); err != nil {
			return err
		}
	}
	s.cfg = cfg
	s.users.SetConfig(cfg)
	s.sessions.SetTimeout(cfg.SessionTimeout)
	s.pending.Emit(event.KindConfigUpdated, event.ConfigUpdated{Config: cfg})
	return nil
}
