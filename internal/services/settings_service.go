package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/repositories/interfaces"
	"loyaltyengine/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const settingsCacheTTL = 5 * time.Minute

// SettingsService provides the loyalty configuration snapshot the engines run
// against. The snapshot is cached in process for five minutes; a fetch
// failure is surfaced to the caller rather than silently serving a snapshot
// past its TTL.
type SettingsService interface {
	// GetConfig returns the cached snapshot, re-fetching all four settings
	// sections when the cache is empty or expired.
	GetConfig(ctx context.Context) (*models.LoyaltyProgramConfig, error)

	// Invalidate drops the cached snapshot. Called after an admin settings
	// write so the next read sees fresh rules.
	Invalidate()
}

type settingsService struct {
	source interfaces.SettingsSource
	logger *logger.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	snapshot  *models.LoyaltyProgramConfig
	fetchedAt time.Time
}

func NewSettingsService(source interfaces.SettingsSource, log *logger.Logger) SettingsService {
	return &settingsService{
		source: source,
		logger: log,
		ttl:    settingsCacheTTL,
		now:    time.Now,
	}
}

func (s *settingsService) GetConfig(ctx context.Context) (*models.LoyaltyProgramConfig, error) {
	s.mu.RLock()
	if s.snapshot != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		snapshot := s.snapshot
		s.mu.RUnlock()
		return snapshot, nil
	}
	s.mu.RUnlock()

	snapshot, err := s.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.fetchedAt = s.now()
	s.mu.Unlock()

	return snapshot, nil
}

func (s *settingsService) Invalidate() {
	s.mu.Lock()
	s.snapshot = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("loyalty settings cache invalidated")
	}
}

// fetchSnapshot pulls the four sections in parallel and assembles one
// validated snapshot. Any section failure fails the whole fetch.
func (s *settingsService) fetchSnapshot(ctx context.Context) (*models.LoyaltyProgramConfig, error) {
	var (
		program    *models.ProgramSettings
		earning    *models.EarningSettings
		redemption *models.RedemptionSettings
		referral   *models.ReferralSettings
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		program, err = s.source.FetchProgram(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		earning, err = s.source.FetchEarning(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		redemption, err = s.source.FetchRedemption(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		referral, err = s.source.FetchReferral(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to fetch loyalty settings: %w", err)
	}

	snapshot := &models.LoyaltyProgramConfig{
		IsEnabled:      program.IsEnabled,
		PunchThreshold: program.PunchThreshold,
		Earning:        *earning,
		Redemption:     *redemption,
		Referral:       *referral,
	}

	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loyalty settings: %w", err)
	}

	return snapshot, nil
}
