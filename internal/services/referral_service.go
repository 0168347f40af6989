package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/repositories/interfaces"
	"loyaltyengine/internal/utils"
	"loyaltyengine/pkg/logger"
	"loyaltyengine/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// maxCodeAttempts bounds regeneration on referral-code uniqueness collisions.
const maxCodeAttempts = 5

type ReferralService interface {
	// GenerateCode returns the customer's active referral code, creating one
	// when none exists.
	GenerateCode(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCode, error)

	// GetCodeSummary pairs the active code with its share stats.
	GetCodeSummary(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCodeSummary, error)

	// ApplyCode links a newly registered customer to the code's owner.
	// Validation failures (bad code, exhausted code, self-referral, already
	// referred) come back as rejection results, not errors.
	ApplyCode(ctx context.Context, newCustomerID primitive.ObjectID, code string) (*models.ApplyResult, error)

	// SettleOnFirstAppointment awards both referral bonuses once the referee
	// completes their first billable service. Calling it again after
	// settlement is a no-op.
	SettleOnFirstAppointment(ctx context.Context, refereeID, appointmentID primitive.ObjectID) (*models.SettleResult, error)
}

type referralService struct {
	repo     interfaces.LoyaltyRepository
	settings SettingsService
	logger   *logger.Logger
}

func NewReferralService(repo interfaces.LoyaltyRepository, settings SettingsService, log *logger.Logger) ReferralService {
	return &referralService{
		repo:     repo,
		settings: settings,
		logger:   log,
	}
}

func (s *referralService) GenerateCode(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCode, error) {
	existing, err := s.repo.GetActiveCodeByCustomer(ctx, customerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := &models.ReferralCode{
			CustomerID: customerID,
			Code:       utils.GenerateReferralCode(),
			IsActive:   true,
		}
		err = s.repo.InsertReferralCode(ctx, code)
		if err == nil {
			s.logger.WithFields(map[string]interface{}{
				"customer_id": customerID.Hex(),
				"code":        code.Code,
			}).Info("referral code issued")
			return code, nil
		}
		if !errors.Is(err, interfaces.ErrCodeCollision) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to generate a unique referral code after %d attempts", maxCodeAttempts)
}

func (s *referralService) GetCodeSummary(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCodeSummary, error) {
	code, err := s.GenerateCode(ctx, customerID)
	if err != nil {
		return nil, err
	}

	completed, err := s.repo.CountCompletedReferrals(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return &models.ReferralCodeSummary{
		Code:               code.Code,
		UsesCount:          code.UsesCount,
		MaxUses:            code.MaxUses,
		CompletedReferrals: int(completed),
	}, nil
}

func (s *referralService) ApplyCode(ctx context.Context, newCustomerID primitive.ObjectID, codeValue string) (*models.ApplyResult, error) {
	config, err := s.settings.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty config: %w", err)
	}
	if !config.IsEnabled {
		return &models.ApplyResult{Reason: "loyalty program is disabled"}, nil
	}
	if !config.Referral.IsEnabled {
		return &models.ApplyResult{Reason: "referral program is disabled"}, nil
	}

	code, err := s.repo.GetCodeByValue(ctx, utils.NormalizeReferralCode(codeValue))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return &models.ApplyResult{Reason: "referral code not found"}, nil
		}
		return nil, err
	}
	if !code.IsActive {
		return &models.ApplyResult{Reason: "referral code is no longer active"}, nil
	}
	if !code.HasUsesLeft() {
		return &models.ApplyResult{Reason: "referral code has reached its use limit"}, nil
	}
	if code.CustomerID == newCustomerID {
		return &models.ApplyResult{Reason: "customers cannot refer themselves"}, nil
	}

	if _, err := s.repo.GetReferralByReferee(ctx, newCustomerID); err == nil {
		return &models.ApplyResult{Reason: "customer has already been referred"}, nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	referral := &models.Referral{
		ReferrerID:     code.CustomerID,
		RefereeID:      newCustomerID,
		ReferralCodeID: code.ID,
		Status:         models.ReferralStatusPending,
	}

	var result *models.ApplyResult
	err = s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.repo.InsertReferral(txCtx, referral); err != nil {
			if errors.Is(err, interfaces.ErrDuplicateReferral) {
				result = &models.ApplyResult{Reason: "customer has already been referred"}
				return nil
			}
			return err
		}
		if err := s.repo.IncrementCodeUses(txCtx, code.ID); err != nil {
			if errors.Is(err, interfaces.ErrCodeExhausted) {
				// Lost the race for the last use; roll the referral back.
				return errRaceForLastUse
			}
			return err
		}
		result = &models.ApplyResult{Applied: true, ReferralID: &referral.ID}
		return nil
	})
	if err != nil {
		if errors.Is(err, errRaceForLastUse) {
			return &models.ApplyResult{Reason: "referral code has reached its use limit"}, nil
		}
		return nil, err
	}

	if result.Applied {
		s.logger.WithFields(map[string]interface{}{
			"referrer_id": code.CustomerID.Hex(),
			"referee_id":  newCustomerID.Hex(),
			"code":        code.Code,
		}).Info("referral code applied")
	}
	return result, nil
}

var errRaceForLastUse = errors.New("referral code exhausted concurrently")

func (s *referralService) SettleOnFirstAppointment(ctx context.Context, refereeID, appointmentID primitive.ObjectID) (*models.SettleResult, error) {
	config, err := s.settings.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty config: %w", err)
	}
	if !config.Referral.IsEnabled {
		return &models.SettleResult{Reason: "referral program is disabled"}, nil
	}

	referral, err := s.repo.GetReferralByReferee(ctx, refereeID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return &models.SettleResult{Reason: "no referral on record for customer"}, nil
		}
		return nil, err
	}
	if referral.IsSettled() {
		return &models.SettleResult{Reason: "referral bonuses already awarded"}, nil
	}
	if referral.Status != models.ReferralStatusPending {
		return &models.SettleResult{Reason: "referral is not pending"}, nil
	}

	var result *models.SettleResult
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		result, err = s.trySettle(ctx, config, referral, appointmentID)
		if err == nil {
			break
		}
		if errors.Is(err, interfaces.ErrVersionConflict) {
			metrics.AccountConflicts.Inc()
			// Re-read the referral: a concurrent settlement may have won.
			// The conflict stays in err so an exhausted budget surfaces as
			// ErrTooManyConflicts below.
			latest, readErr := s.repo.GetReferralByReferee(ctx, refereeID)
			if readErr != nil {
				return nil, readErr
			}
			if latest.IsSettled() {
				return &models.SettleResult{Reason: "referral bonuses already awarded"}, nil
			}
			referral = latest
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

	if result.Settled {
		s.logger.WithFields(map[string]interface{}{
			"referrer_id":    referral.ReferrerID.Hex(),
			"referee_id":     referral.RefereeID.Hex(),
			"appointment_id": appointmentID.Hex(),
		}).Info("referral settled")
		metrics.ReferralsSettled.Inc()
		metrics.PunchesAwarded.Add(float64(result.ReferrerPunchesAwarded + result.RefereePunchesAwarded))
	}

	return result, nil
}

// trySettle awards both bonuses and completes the referral in one
// transaction. Bonus punches run through the same threshold and overflow
// arithmetic as earned punches, so a bonus can complete a card and issue a
// reward of its own.
func (s *referralService) trySettle(ctx context.Context, config *models.LoyaltyProgramConfig, referral *models.Referral, appointmentID primitive.ObjectID) (*models.SettleResult, error) {
	now := time.Now()
	var result *models.SettleResult

	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		// Re-read inside the transaction: mongo re-executes an aborted
		// transaction body, and a rival settlement may have committed in
		// between. The bonuses must be awarded exactly once.
		current, err := s.repo.GetReferralByReferee(txCtx, referral.RefereeID)
		if err != nil {
			return err
		}
		if current.IsSettled() || current.Status != models.ReferralStatusPending {
			result = &models.SettleResult{Reason: "referral bonuses already awarded"}
			return nil
		}

		if err := s.awardBonus(txCtx, config, current.ReferrerID, config.Referral.ReferrerBonusPunches, models.PunchSourceReferralReferrer, now); err != nil {
			return err
		}
		if err := s.awardBonus(txCtx, config, current.RefereeID, config.Referral.RefereeBonusPunches, models.PunchSourceReferralReferee, now); err != nil {
			return err
		}

		current.Status = models.ReferralStatusCompleted
		current.ReferrerBonusAwarded = true
		current.RefereeBonusAwarded = true
		current.CompletedAt = &now
		current.SettledByAppointmentID = &appointmentID
		if err := s.repo.UpdateReferral(txCtx, current); err != nil {
			return err
		}

		result = &models.SettleResult{
			Settled:                true,
			ReferrerPunchesAwarded: config.Referral.ReferrerBonusPunches,
			RefereePunchesAwarded:  config.Referral.RefereeBonusPunches,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *referralService) awardBonus(ctx context.Context, config *models.LoyaltyProgramConfig, customerID primitive.ObjectID, punchCount int, source models.PunchSource, now time.Time) error {
	if punchCount <= 0 {
		return nil
	}

	account, err := loadOrCreateAccount(ctx, s.repo, customerID)
	if err != nil {
		return err
	}

	sources := make([]models.PunchSource, punchCount)
	for i := range sources {
		sources[i] = source
	}
	application := applyPunches(account, config, sources, nil, now)

	if err := s.repo.InsertPunches(ctx, application.Punches); err != nil {
		return err
	}
	if err := s.repo.InsertRedemptions(ctx, application.Redemptions); err != nil {
		return err
	}
	return s.repo.UpdateAccount(ctx, account)
}
