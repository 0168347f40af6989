package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"loyaltyengine/internal/models"
	"loyaltyengine/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newReferralFixture(config *models.LoyaltyProgramConfig) (*fakeRepo, ReferralService) {
	repo := newFakeRepo()
	svc := NewReferralService(repo, &staticSettings{config: config}, logger.NewNop())
	return repo, svc
}

var codeShape = regexp.MustCompile(`^[A-Z2-9]+$`)

func TestGenerateCodeIssuesAndReuses(t *testing.T) {
	_, svc := newReferralFixture(testConfig())
	customerID := primitive.NewObjectID()

	first, err := svc.GenerateCode(context.Background(), customerID)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if !codeShape.MatchString(first.Code) {
		t.Errorf("code %q contains confusable or lowercase characters", first.Code)
	}
	if !first.IsActive {
		t.Error("IsActive = false on a fresh code")
	}

	second, err := svc.GenerateCode(context.Background(), customerID)
	if err != nil {
		t.Fatalf("second GenerateCode: %v", err)
	}
	if second.Code != first.Code {
		t.Errorf("second call minted a new code: %q vs %q", second.Code, first.Code)
	}
}

func TestApplyCodeHappyPath(t *testing.T) {
	repo, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()

	code, err := svc.GenerateCode(context.Background(), referrerID)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	result, err := svc.ApplyCode(context.Background(), refereeID, code.Code)
	if err != nil {
		t.Fatalf("ApplyCode: %v", err)
	}
	if !result.Applied {
		t.Fatalf("Applied = false: %s", result.Reason)
	}

	referral, err := repo.GetReferralByReferee(context.Background(), refereeID)
	if err != nil {
		t.Fatalf("GetReferralByReferee: %v", err)
	}
	if referral.ReferrerID != referrerID {
		t.Error("referral points at the wrong referrer")
	}
	if referral.Status != models.ReferralStatusPending {
		t.Errorf("Status = %s, want pending", referral.Status)
	}

	stored, _ := repo.GetCodeByValue(context.Background(), code.Code)
	if stored.UsesCount != 1 {
		t.Errorf("UsesCount = %d, want 1", stored.UsesCount)
	}
}

func TestApplyCodeNormalizesInput(t *testing.T) {
	_, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()

	code, err := svc.GenerateCode(context.Background(), referrerID)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	lowered := "  " + toLower(code.Code) + " "
	result, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), lowered)
	if err != nil {
		t.Fatalf("ApplyCode: %v", err)
	}
	if !result.Applied {
		t.Errorf("Applied = false for case-folded padded input: %s", result.Reason)
	}
}

func toLower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

func TestApplyCodeRejections(t *testing.T) {
	repo, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()

	code, err := svc.GenerateCode(context.Background(), referrerID)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	t.Run("unknown code", func(t *testing.T) {
		result, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), "ZZZZZZ")
		if err != nil {
			t.Fatalf("ApplyCode: %v", err)
		}
		if result.Applied {
			t.Error("Applied = true for an unknown code")
		}
	})

	t.Run("self referral", func(t *testing.T) {
		result, err := svc.ApplyCode(context.Background(), referrerID, code.Code)
		if err != nil {
			t.Fatalf("ApplyCode: %v", err)
		}
		if result.Applied {
			t.Error("Applied = true for a self-referral")
		}
	})

	t.Run("already referred", func(t *testing.T) {
		refereeID := primitive.NewObjectID()
		if _, err := svc.ApplyCode(context.Background(), refereeID, code.Code); err != nil {
			t.Fatalf("first ApplyCode: %v", err)
		}
		result, err := svc.ApplyCode(context.Background(), refereeID, code.Code)
		if err != nil {
			t.Fatalf("second ApplyCode: %v", err)
		}
		if result.Applied {
			t.Error("Applied = true for an already-referred customer")
		}
	})

	t.Run("inactive code", func(t *testing.T) {
		stored, _ := repo.GetCodeByValue(context.Background(), code.Code)
		stored.IsActive = false
		repo.codes[stored.ID.Hex()] = *stored

		result, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), code.Code)
		if err != nil {
			t.Fatalf("ApplyCode: %v", err)
		}
		if result.Applied {
			t.Error("Applied = true for a deactivated code")
		}
	})
}

func TestApplyCodeUseLimit(t *testing.T) {
	repo, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()
	maxUses := 1

	code := &models.ReferralCode{
		CustomerID: referrerID,
		Code:       "FRIEND",
		MaxUses:    &maxUses,
		IsActive:   true,
	}
	if err := repo.InsertReferralCode(context.Background(), code); err != nil {
		t.Fatalf("InsertReferralCode: %v", err)
	}

	first, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), "FRIEND")
	if err != nil {
		t.Fatalf("first ApplyCode: %v", err)
	}
	if !first.Applied {
		t.Fatalf("first use rejected: %s", first.Reason)
	}

	second, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), "FRIEND")
	if err != nil {
		t.Fatalf("second ApplyCode: %v", err)
	}
	if second.Applied {
		t.Error("Applied = true past the use limit")
	}
}

func TestApplyCodeProgramDisabled(t *testing.T) {
	config := testConfig()
	config.IsEnabled = false
	_, svc := newReferralFixture(config)

	result, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), "FRIEND")
	if err != nil {
		t.Fatalf("ApplyCode: %v", err)
	}
	if result.Applied {
		t.Error("Applied = true while program disabled")
	}
}

func TestApplyCodeReferralProgramDisabled(t *testing.T) {
	config := testConfig()
	config.Referral.IsEnabled = false
	repo, svc := newReferralFixture(config)

	code := &models.ReferralCode{
		CustomerID: primitive.NewObjectID(),
		Code:       "FRIEND",
		IsActive:   true,
	}
	if err := repo.InsertReferralCode(context.Background(), code); err != nil {
		t.Fatalf("InsertReferralCode: %v", err)
	}

	result, err := svc.ApplyCode(context.Background(), primitive.NewObjectID(), "FRIEND")
	if err != nil {
		t.Fatalf("ApplyCode: %v", err)
	}
	if result.Applied {
		t.Error("Applied = true while referral program disabled")
	}
}

func applyReferral(t *testing.T, svc ReferralService, referrerID, refereeID primitive.ObjectID) {
	t.Helper()
	code, err := svc.GenerateCode(context.Background(), referrerID)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	result, err := svc.ApplyCode(context.Background(), refereeID, code.Code)
	if err != nil {
		t.Fatalf("ApplyCode: %v", err)
	}
	if !result.Applied {
		t.Fatalf("ApplyCode rejected: %s", result.Reason)
	}
}

func TestSettleAwardsBothSides(t *testing.T) {
	repo, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()
	applyReferral(t, svc, referrerID, refereeID)

	result, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("SettleOnFirstAppointment: %v", err)
	}
	if !result.Settled {
		t.Fatalf("Settled = false: %s", result.Reason)
	}
	if result.ReferrerPunchesAwarded != 1 || result.RefereePunchesAwarded != 1 {
		t.Errorf("awarded %d/%d, want 1/1", result.ReferrerPunchesAwarded, result.RefereePunchesAwarded)
	}

	referrerPunches, _ := repo.CountPunchesBySource(context.Background(), referrerID, models.PunchSourceReferralReferrer)
	refereePunches, _ := repo.CountPunchesBySource(context.Background(), refereeID, models.PunchSourceReferralReferee)
	if referrerPunches != 1 || refereePunches != 1 {
		t.Errorf("ledger punches %d/%d, want 1/1", referrerPunches, refereePunches)
	}

	referral, _ := repo.GetReferralByReferee(context.Background(), refereeID)
	if referral.Status != models.ReferralStatusCompleted {
		t.Errorf("Status = %s, want completed", referral.Status)
	}
	if !referral.IsSettled() {
		t.Error("bonus award flags not set")
	}
	if referral.SettledByAppointmentID == nil {
		t.Error("settling appointment not recorded")
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	repo, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()
	applyReferral(t, svc, referrerID, refereeID)

	if _, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID()); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if second.Settled {
		t.Error("second settlement awarded bonuses again")
	}

	referrerPunches, _ := repo.CountPunchesBySource(context.Background(), referrerID, models.PunchSourceReferralReferrer)
	if referrerPunches != 1 {
		t.Errorf("referrer punches = %d, want 1", referrerPunches)
	}
}

func TestSettleBonusCanCompleteCard(t *testing.T) {
	config := testConfig()
	config.PunchThreshold = 5

	repo, svc := newReferralFixture(config)
	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()
	applyReferral(t, svc, referrerID, refereeID)

	// Referrer sits one punch short of a full card.
	if err := repo.CreateAccount(context.Background(), &models.CustomerLoyaltyAccount{
		CustomerID:     referrerID,
		CurrentPunches: 4,
		CycleNumber:    1,
	}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if _, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID()); err != nil {
		t.Fatalf("SettleOnFirstAppointment: %v", err)
	}

	pending, _ := repo.GetPendingRedemptions(context.Background(), referrerID)
	if len(pending) != 1 {
		t.Fatalf("referrer pending rewards = %d, want 1 (bonus completed the card)", len(pending))
	}
	account, _ := repo.GetAccount(context.Background(), referrerID)
	if account.CurrentPunches != 0 || account.CycleNumber != 2 {
		t.Errorf("account = %d punches cycle %d, want 0 punches cycle 2", account.CurrentPunches, account.CycleNumber)
	}
}

func TestSettleGivesUpAfterRepeatedConflicts(t *testing.T) {
	repo, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()
	applyReferral(t, svc, referrerID, refereeID)

	repo.conflictsToInject = maxWriteAttempts

	_, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID())
	if !errors.Is(err, ErrTooManyConflicts) {
		t.Fatalf("err = %v, want ErrTooManyConflicts", err)
	}

	referral, getErr := repo.GetReferralByReferee(context.Background(), refereeID)
	if getErr != nil {
		t.Fatalf("GetReferralByReferee: %v", getErr)
	}
	if referral.IsSettled() {
		t.Error("referral settled despite exhausted retry budget")
	}
	referrerPunches, _ := repo.CountPunchesBySource(context.Background(), referrerID, models.PunchSourceReferralReferrer)
	if referrerPunches != 0 {
		t.Errorf("referrer punches = %d, want 0 after rolled-back attempts", referrerPunches)
	}
}

// racingRepo lets another settlement commit just before a transaction body
// runs, the serialization order a store-side transaction retry produces.
type racingRepo struct {
	*fakeRepo
	rival func()
}

func (r *racingRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.rival != nil {
		rival := r.rival
		r.rival = nil
		rival()
	}
	return r.fakeRepo.WithTransaction(ctx, fn)
}

func TestSettleAwardsExactlyOnceUnderRace(t *testing.T) {
	base := newFakeRepo()
	racing := &racingRepo{fakeRepo: base}
	svc := NewReferralService(racing, &staticSettings{config: testConfig()}, logger.NewNop())
	rival := NewReferralService(base, &staticSettings{config: testConfig()}, logger.NewNop())

	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()
	applyReferral(t, svc, referrerID, refereeID)

	racing.rival = func() {
		if _, err := rival.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID()); err != nil {
			t.Fatalf("rival settlement: %v", err)
		}
	}

	result, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("SettleOnFirstAppointment: %v", err)
	}
	if result.Settled {
		t.Error("both settlements claimed the award")
	}

	referrerPunches, _ := base.CountPunchesBySource(context.Background(), referrerID, models.PunchSourceReferralReferrer)
	refereePunches, _ := base.CountPunchesBySource(context.Background(), refereeID, models.PunchSourceReferralReferee)
	if referrerPunches != 1 || refereePunches != 1 {
		t.Errorf("bonus punches awarded %d/%d times, want exactly 1/1", referrerPunches, refereePunches)
	}
}

func TestSettleWithoutReferral(t *testing.T) {
	_, svc := newReferralFixture(testConfig())

	result, err := svc.SettleOnFirstAppointment(context.Background(), primitive.NewObjectID(), primitive.NewObjectID())
	if err != nil {
		t.Fatalf("SettleOnFirstAppointment: %v", err)
	}
	if result.Settled {
		t.Error("Settled = true with no referral on record")
	}
}

func TestSettleReferralProgramDisabled(t *testing.T) {
	config := testConfig()
	config.Referral.IsEnabled = false
	_, svc := newReferralFixture(config)

	result, err := svc.SettleOnFirstAppointment(context.Background(), primitive.NewObjectID(), primitive.NewObjectID())
	if err != nil {
		t.Fatalf("SettleOnFirstAppointment: %v", err)
	}
	if result.Settled {
		t.Error("Settled = true while referral program disabled")
	}
}

func TestGetCodeSummaryCountsCompletions(t *testing.T) {
	_, svc := newReferralFixture(testConfig())
	referrerID := primitive.NewObjectID()
	refereeID := primitive.NewObjectID()
	applyReferral(t, svc, referrerID, refereeID)

	if _, err := svc.SettleOnFirstAppointment(context.Background(), refereeID, primitive.NewObjectID()); err != nil {
		t.Fatalf("SettleOnFirstAppointment: %v", err)
	}

	summary, err := svc.GetCodeSummary(context.Background(), referrerID)
	if err != nil {
		t.Fatalf("GetCodeSummary: %v", err)
	}
	if summary.UsesCount != 1 {
		t.Errorf("UsesCount = %d, want 1", summary.UsesCount)
	}
	if summary.CompletedReferrals != 1 {
		t.Errorf("CompletedReferrals = %d, want 1", summary.CompletedReferrals)
	}
}
