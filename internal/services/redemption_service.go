package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/repositories/interfaces"
	"loyaltyengine/pkg/logger"
	"loyaltyengine/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type RedemptionService interface {
	// CheckEligibility decides whether the customer can spend a reward on the
	// service and what the redemption would be worth. Read-only.
	CheckEligibility(ctx context.Context, candidate *models.CheckoutCandidate) (*models.EligibilityResult, error)

	// Redeem re-runs the eligibility check inside the commit transaction and
	// consumes the oldest pending reward.
	Redeem(ctx context.Context, request *models.RedeemRequest) (*models.RedemptionResult, error)

	// MarkExpiredRewards bulk-transitions stale pending rewards to expired.
	// The engine is correct without it (expiry is checked lazily on every
	// read); this exists for reporting and cleanup.
	MarkExpiredRewards(ctx context.Context) (int64, error)
}

type redemptionService struct {
	repo     interfaces.LoyaltyRepository
	settings SettingsService
	logger   *logger.Logger
}

func NewRedemptionService(repo interfaces.LoyaltyRepository, settings SettingsService, log *logger.Logger) RedemptionService {
	return &redemptionService{
		repo:     repo,
		settings: settings,
		logger:   log,
	}
}

func (s *redemptionService) CheckEligibility(ctx context.Context, candidate *models.CheckoutCandidate) (*models.EligibilityResult, error) {
	config, err := s.settings.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty config: %w", err)
	}

	return s.evaluate(ctx, config, candidate.CustomerID, candidate.ServiceID, candidate.ServicePrice)
}

// evaluate runs the eligibility rules against the current ledger state. It is
// shared by the read-only check and the commit path so the two can never
// drift apart.
func (s *redemptionService) evaluate(ctx context.Context, config *models.LoyaltyProgramConfig, customerID, serviceID primitive.ObjectID, servicePrice float64) (*models.EligibilityResult, error) {
	if !config.IsEnabled {
		return &models.EligibilityResult{Reason: "loyalty program is disabled"}, nil
	}
	if !config.ServiceEligibleForRedemption(serviceID) {
		return &models.EligibilityResult{Reason: "service is not eligible for reward redemption"}, nil
	}

	pending, err := s.repo.GetPendingRedemptions(ctx, customerID)
	if err != nil {
		return nil, err
	}

	// Oldest-first; expiry is checked lazily so a stale pending row can
	// never be consumed.
	now := time.Now()
	for _, redemption := range pending {
		if redemption.IsExpired(now) {
			continue
		}

		value := servicePrice
		if config.Redemption.MaxValue != nil && value > *config.Redemption.MaxValue {
			value = *config.Redemption.MaxValue
		}

		rewardID := redemption.ID
		return &models.EligibilityResult{
			Allowed:         true,
			RedemptionValue: value,
			PendingRewardID: &rewardID,
		}, nil
	}

	return &models.EligibilityResult{Reason: "no pending rewards available"}, nil
}

func (s *redemptionService) Redeem(ctx context.Context, request *models.RedeemRequest) (*models.RedemptionResult, error) {
	config, err := s.settings.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty config: %w", err)
	}

	var result *models.RedemptionResult
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		result, err = s.tryRedeem(ctx, config, request)
		if err == nil {
			break
		}
		if errors.Is(err, interfaces.ErrVersionConflict) {
			metrics.AccountConflicts.Inc()
			continue
		}
		return nil, err
	}
	if err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			return nil, ErrTooManyConflicts
		}
		return nil, err
	}

	if result.Allowed {
		s.logger.WithFields(map[string]interface{}{
			"customer_id":      request.CustomerID.Hex(),
			"appointment_id":   request.AppointmentID.Hex(),
			"redemption_id":    result.RedemptionID.Hex(),
			"redemption_value": result.RedemptionValue,
		}).Info("reward redeemed")
		metrics.RewardsRedeemed.Inc()
	}
	return result, nil
}

func (s *redemptionService) tryRedeem(ctx context.Context, config *models.LoyaltyProgramConfig, request *models.RedeemRequest) (*models.RedemptionResult, error) {
	var result *models.RedemptionResult

	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		eligibility, err := s.evaluate(txCtx, config, request.CustomerID, request.ServiceID, request.ServicePrice)
		if err != nil {
			return err
		}
		if !eligibility.Allowed {
			result = &models.RedemptionResult{Reason: eligibility.Reason}
			return nil
		}

		if err := s.repo.MarkRedemptionRedeemed(txCtx, *eligibility.PendingRewardID, request.AppointmentID, time.Now()); err != nil {
			return err
		}

		account, err := s.repo.GetAccount(txCtx, request.CustomerID)
		if err != nil {
			return err
		}
		account.LifetimeRedeemed++
		if err := s.repo.UpdateAccount(txCtx, account); err != nil {
			return err
		}

		remaining, err := s.countRemainingRewards(txCtx, request.CustomerID)
		if err != nil {
			return err
		}

		result = &models.RedemptionResult{
			Allowed:          true,
			RedemptionID:     *eligibility.PendingRewardID,
			RedemptionValue:  eligibility.RedemptionValue,
			RemainingRewards: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *redemptionService) countRemainingRewards(ctx context.Context, customerID primitive.ObjectID) (int, error) {
	pending, err := s.repo.GetPendingRedemptions(ctx, customerID)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	remaining := 0
	for _, redemption := range pending {
		if !redemption.IsExpired(now) {
			remaining++
		}
	}
	return remaining, nil
}

func (s *redemptionService) MarkExpiredRewards(ctx context.Context) (int64, error) {
	count, err := s.repo.MarkExpiredRedemptions(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.WithField("count", count).Info("expired stale rewards")
	}
	return count, nil
}
