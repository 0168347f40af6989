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

// maxWriteAttempts bounds the optimistic-concurrency retry loop on account
// writes. Exhausting it surfaces ErrTooManyConflicts to the caller, who may
// retry the whole operation.
const maxWriteAttempts = 3

// ErrTooManyConflicts is returned when concurrent writers kept the engine
// from committing within the retry budget. The operation left no partial
// writes and is safe to retry.
var ErrTooManyConflicts = errors.New("too many concurrent account updates, retry later")

type EarningService interface {
	// AwardForAppointment decides whether a completed, billable service event
	// earns punches and applies them. Business rejections (program disabled,
	// service not qualifying, spend below minimum) come back as no-op
	// results, not errors. Calling it again for the same appointment returns
	// the result the first call produced.
	AwardForAppointment(ctx context.Context, event *models.AppointmentCompletedEvent) (*models.EarnResult, error)

	// GetAccountSummary reports a customer's card state for display.
	GetAccountSummary(ctx context.Context, customerID primitive.ObjectID) (*models.AccountSummary, error)
}

type earningService struct {
	repo     interfaces.LoyaltyRepository
	settings SettingsService
	logger   *logger.Logger
}

func NewEarningService(repo interfaces.LoyaltyRepository, settings SettingsService, log *logger.Logger) EarningService {
	return &earningService{
		repo:     repo,
		settings: settings,
		logger:   log,
	}
}

func (s *earningService) AwardForAppointment(ctx context.Context, event *models.AppointmentCompletedEvent) (*models.EarnResult, error) {
	config, err := s.settings.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty config: %w", err)
	}

	if !config.IsEnabled {
		return &models.EarnResult{Message: "loyalty program is disabled"}, nil
	}
	if !config.ServiceQualifiesForEarning(event.ServiceID) {
		return &models.EarnResult{Message: "service does not qualify for punches"}, nil
	}
	if event.AppointmentTotal < config.Earning.MinimumSpend {
		return &models.EarnResult{Message: "appointment total below minimum spend"}, nil
	}

	// Duplicate completion events (webhook retries, admin re-runs) return the
	// previously computed result instead of double-counting.
	alreadyPunched, err := s.repo.HasServicePunch(ctx, event.CustomerID, event.AppointmentID)
	if err != nil {
		return nil, err
	}
	if alreadyPunched {
		return s.reconstructResult(ctx, event, config)
	}

	var result *models.EarnResult
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		result, err = s.tryAward(ctx, event, config)
		if err == nil {
			break
		}
		if errors.Is(err, interfaces.ErrDuplicatePunch) {
			// A concurrent call for the same appointment won the insert race.
			return s.reconstructResult(ctx, event, config)
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

	s.logger.WithFields(map[string]interface{}{
		"customer_id":     event.CustomerID.Hex(),
		"appointment_id":  event.AppointmentID.Hex(),
		"punches_awarded": result.PunchesAwarded,
		"reward_earned":   result.RewardEarned,
	}).Info("punches awarded")

	metrics.PunchesAwarded.Add(float64(result.PunchesAwarded))
	if result.RewardEarned {
		metrics.RewardsIssued.Inc()
	}
	return result, nil
}

// tryAward runs one attempt of the earning transaction: read the account
// fresh, stamp punch rows, roll the threshold arithmetic, and commit
// everything or nothing.
func (s *earningService) tryAward(ctx context.Context, event *models.AppointmentCompletedEvent, config *models.LoyaltyProgramConfig) (*models.EarnResult, error) {
	var result *models.EarnResult

	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		account, err := loadOrCreateAccount(txCtx, s.repo, event.CustomerID)
		if err != nil {
			return err
		}

		sources := []models.PunchSource{models.PunchSourceServiceCompletion}
		if config.Earning.FirstVisitBonusPunches > 0 {
			firstVisit, err := s.isFirstVisit(txCtx, event.CustomerID)
			if err != nil {
				return err
			}
			if firstVisit {
				for i := 0; i < config.Earning.FirstVisitBonusPunches; i++ {
					sources = append(sources, models.PunchSourceFirstVisitBonus)
				}
			}
		}

		appointmentID := event.AppointmentID
		application := applyPunches(account, config, sources, &appointmentID, time.Now())

		if err := s.repo.InsertPunches(txCtx, application.Punches); err != nil {
			return err
		}
		if err := s.repo.InsertRedemptions(txCtx, application.Redemptions); err != nil {
			return err
		}
		if err := s.repo.UpdateAccount(txCtx, account); err != nil {
			return err
		}

		result = &models.EarnResult{
			PunchesAwarded: len(sources),
			CurrentPunches: account.CurrentPunches,
			Threshold:      account.EffectiveThreshold(config),
			RewardEarned:   len(application.Redemptions) > 0,
			CycleNumber:    account.CycleNumber,
			Message:        earnMessage(len(sources), len(application.Redemptions) > 0),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loadOrCreateAccount reads the customer's account, lazily creating an empty
// one on the first punch. The empty row is inserted before the arithmetic so
// the subsequent version-checked update covers the whole application.
func loadOrCreateAccount(ctx context.Context, repo interfaces.LoyaltyRepository, customerID primitive.ObjectID) (*models.CustomerLoyaltyAccount, error) {
	account, err := repo.GetAccount(ctx, customerID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	account = &models.CustomerLoyaltyAccount{
		CustomerID:  customerID,
		CycleNumber: 1,
	}
	if err := repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// isFirstVisit treats a customer with no prior service-completion punches as
// new. The engine owns only the loyalty ledger, so visits that never earned a
// punch do not count against the welcome bonus.
func (s *earningService) isFirstVisit(ctx context.Context, customerID primitive.ObjectID) (bool, error) {
	count, err := s.repo.CountPunchesBySource(ctx, customerID, models.PunchSourceServiceCompletion)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// reconstructResult rebuilds the result of an already-processed event from
// the ledger so a repeated call answers identically to the first.
func (s *earningService) reconstructResult(ctx context.Context, event *models.AppointmentCompletedEvent, config *models.LoyaltyProgramConfig) (*models.EarnResult, error) {
	punches, err := s.repo.GetPunchesByAppointment(ctx, event.CustomerID, event.AppointmentID)
	if err != nil {
		return nil, err
	}
	if len(punches) == 0 {
		return nil, fmt.Errorf("punch records missing for appointment %s", event.AppointmentID.Hex())
	}

	account, err := s.repo.GetAccount(ctx, event.CustomerID)
	if err != nil {
		return nil, err
	}

	rewardEarned, err := s.eventIssuedReward(ctx, event.CustomerID, punches)
	if err != nil {
		return nil, err
	}

	return &models.EarnResult{
		PunchesAwarded: len(punches),
		CurrentPunches: account.CurrentPunches,
		Threshold:      account.EffectiveThreshold(config),
		RewardEarned:   rewardEarned,
		CycleNumber:    account.CycleNumber,
		Message:        earnMessage(len(punches), rewardEarned),
	}, nil
}

// eventIssuedReward checks whether the event's punch batch completed a cycle.
// A redemption issued by this event carries the same earned-at instant as the
// batch's punch rows.
func (s *earningService) eventIssuedReward(ctx context.Context, customerID primitive.ObjectID, punches []*models.LoyaltyPunch) (bool, error) {
	eventTime := punches[0].CreatedAt
	seen := make(map[int]bool)
	for _, punch := range punches {
		if seen[punch.CycleNumber] {
			continue
		}
		seen[punch.CycleNumber] = true

		redemption, err := s.repo.GetRedemptionByCycle(ctx, customerID, punch.CycleNumber)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				continue
			}
			return false, err
		}
		if redemption.EarnedAt.Equal(eventTime) {
			return true, nil
		}
	}
	return false, nil
}

func (s *earningService) GetAccountSummary(ctx context.Context, customerID primitive.ObjectID) (*models.AccountSummary, error) {
	config, err := s.settings.GetConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty config: %w", err)
	}

	account, err := s.repo.GetAccount(ctx, customerID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			// No punches yet: an empty card at the program threshold.
			return &models.AccountSummary{
				CustomerID:     customerID,
				Threshold:      config.PunchThreshold,
				CycleNumber:    1,
				PendingRewards: []models.PendingReward{},
			}, nil
		}
		return nil, err
	}

	pending, err := s.repo.GetPendingRedemptions(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rewards := make([]models.PendingReward, 0, len(pending))
	for _, redemption := range pending {
		if redemption.IsExpired(now) {
			continue
		}
		rewards = append(rewards, models.PendingReward{
			ID:        redemption.ID,
			EarnedAt:  redemption.EarnedAt,
			ExpiresAt: redemption.ExpiresAt,
		})
	}

	return &models.AccountSummary{
		CustomerID:       customerID,
		CurrentPunches:   account.CurrentPunches,
		Threshold:        account.EffectiveThreshold(config),
		CycleNumber:      account.CycleNumber,
		LifetimeEarned:   account.LifetimeEarned,
		LifetimeRedeemed: account.LifetimeRedeemed,
		PendingRewards:   rewards,
	}, nil
}

func earnMessage(punchesAwarded int, rewardEarned bool) string {
	if rewardEarned {
		return fmt.Sprintf("earned %d punches and completed a card, reward issued", punchesAwarded)
	}
	return fmt.Sprintf("earned %d punches", punchesAwarded)
}

// punchApplication is the outcome of rolling punches onto an account: the
// ledger rows to insert and the mutated account state to persist.
type punchApplication struct {
	Punches     []*models.LoyaltyPunch
	Redemptions []*models.LoyaltyRedemption
}

// applyPunches applies one punch per source entry to the account, carrying
// overflow into the next cycle rather than discarding it. Each time the
// running total reaches the effective threshold a pending redemption for the
// completed cycle is issued and the cycle number advances. Referral
// settlement routes through the same arithmetic, since a referral bonus can
// itself complete a card.
func applyPunches(account *models.CustomerLoyaltyAccount, config *models.LoyaltyProgramConfig, sources []models.PunchSource, appointmentID *primitive.ObjectID, now time.Time) *punchApplication {
	threshold := account.EffectiveThreshold(config)
	application := &punchApplication{}

	for _, source := range sources {
		application.Punches = append(application.Punches, &models.LoyaltyPunch{
			CustomerID:    account.CustomerID,
			AppointmentID: appointmentID,
			Amount:        1,
			CycleNumber:   account.CycleNumber,
			Source:        source,
			CreatedAt:     now,
		})

		account.CurrentPunches++
		account.LifetimeEarned++

		if account.CurrentPunches >= threshold {
			application.Redemptions = append(application.Redemptions, &models.LoyaltyRedemption{
				CustomerID:  account.CustomerID,
				CycleNumber: account.CycleNumber,
				Status:      models.RedemptionStatusPending,
				EarnedAt:    now,
				ExpiresAt:   redemptionExpiry(config, now),
			})
			account.CycleNumber++
			account.CurrentPunches -= threshold
		}
	}

	return application
}

func redemptionExpiry(config *models.LoyaltyProgramConfig, earnedAt time.Time) *time.Time {
	if config.Redemption.ExpirationDays <= 0 {
		return nil
	}
	expiry := earnedAt.AddDate(0, 0, config.Redemption.ExpirationDays)
	return &expiry
}
