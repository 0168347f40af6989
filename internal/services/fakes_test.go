package services

import (
	"context"
	"sort"
	"time"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/repositories/interfaces"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeRepo is an in-memory LoyaltyRepository for exercising the engines
// without MongoDB. It mirrors the store's contract: reads hand out copies,
// account updates are version-checked, and WithTransaction restores the
// prior state when fn fails.
type fakeRepo struct {
	accounts    map[string]models.CustomerLoyaltyAccount // by customer ID hex
	punches     []models.LoyaltyPunch
	redemptions map[string]models.LoyaltyRedemption // by redemption ID hex
	codes       map[string]models.ReferralCode      // by code ID hex
	referrals   map[string]models.Referral          // by referral ID hex

	// conflictsToInject makes the next N account updates lose the version
	// race regardless of the supplied token.
	conflictsToInject int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:    make(map[string]models.CustomerLoyaltyAccount),
		redemptions: make(map[string]models.LoyaltyRedemption),
		codes:       make(map[string]models.ReferralCode),
		referrals:   make(map[string]models.Referral),
	}
}

func (f *fakeRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snapshot := f.clone()
	if err := fn(ctx); err != nil {
		f.restore(snapshot)
		return err
	}
	return nil
}

func (f *fakeRepo) clone() *fakeRepo {
	c := newFakeRepo()
	for k, v := range f.accounts {
		c.accounts[k] = v
	}
	c.punches = append(c.punches, f.punches...)
	for k, v := range f.redemptions {
		c.redemptions[k] = v
	}
	for k, v := range f.codes {
		c.codes[k] = v
	}
	for k, v := range f.referrals {
		c.referrals[k] = v
	}
	return c
}

func (f *fakeRepo) restore(snapshot *fakeRepo) {
	f.accounts = snapshot.accounts
	f.punches = snapshot.punches
	f.redemptions = snapshot.redemptions
	f.codes = snapshot.codes
	f.referrals = snapshot.referrals
}

func (f *fakeRepo) GetAccount(ctx context.Context, customerID primitive.ObjectID) (*models.CustomerLoyaltyAccount, error) {
	account, ok := f.accounts[customerID.Hex()]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &account, nil
}

func (f *fakeRepo) CreateAccount(ctx context.Context, account *models.CustomerLoyaltyAccount) error {
	if account.ID.IsZero() {
		account.ID = primitive.NewObjectID()
	}
	f.accounts[account.CustomerID.Hex()] = *account
	return nil
}

func (f *fakeRepo) UpdateAccount(ctx context.Context, account *models.CustomerLoyaltyAccount) error {
	if f.conflictsToInject > 0 {
		f.conflictsToInject--
		return interfaces.ErrVersionConflict
	}
	stored, ok := f.accounts[account.CustomerID.Hex()]
	if !ok || stored.Version != account.Version {
		return interfaces.ErrVersionConflict
	}
	account.Version++
	f.accounts[account.CustomerID.Hex()] = *account
	return nil
}

func (f *fakeRepo) InsertPunches(ctx context.Context, punches []*models.LoyaltyPunch) error {
	for _, punch := range punches {
		if punch.Source == models.PunchSourceServiceCompletion && punch.AppointmentID != nil {
			exists, _ := f.HasServicePunch(ctx, punch.CustomerID, *punch.AppointmentID)
			if exists {
				return interfaces.ErrDuplicatePunch
			}
		}
	}
	for _, punch := range punches {
		stored := *punch
		if stored.ID.IsZero() {
			stored.ID = primitive.NewObjectID()
		}
		f.punches = append(f.punches, stored)
	}
	return nil
}

func (f *fakeRepo) GetPunchesByAppointment(ctx context.Context, customerID, appointmentID primitive.ObjectID) ([]*models.LoyaltyPunch, error) {
	var out []*models.LoyaltyPunch
	for i := range f.punches {
		punch := f.punches[i]
		if punch.CustomerID == customerID && punch.AppointmentID != nil && *punch.AppointmentID == appointmentID {
			out = append(out, &punch)
		}
	}
	return out, nil
}

func (f *fakeRepo) HasServicePunch(ctx context.Context, customerID, appointmentID primitive.ObjectID) (bool, error) {
	for _, punch := range f.punches {
		if punch.CustomerID == customerID &&
			punch.Source == models.PunchSourceServiceCompletion &&
			punch.AppointmentID != nil && *punch.AppointmentID == appointmentID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CountPunchesBySource(ctx context.Context, customerID primitive.ObjectID, source models.PunchSource) (int64, error) {
	var count int64
	for _, punch := range f.punches {
		if punch.CustomerID == customerID && punch.Source == source {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) InsertRedemptions(ctx context.Context, redemptions []*models.LoyaltyRedemption) error {
	for _, redemption := range redemptions {
		stored := *redemption
		if stored.ID.IsZero() {
			stored.ID = primitive.NewObjectID()
			redemption.ID = stored.ID
		}
		f.redemptions[stored.ID.Hex()] = stored
	}
	return nil
}

func (f *fakeRepo) GetPendingRedemptions(ctx context.Context, customerID primitive.ObjectID) ([]*models.LoyaltyRedemption, error) {
	var out []*models.LoyaltyRedemption
	for key := range f.redemptions {
		redemption := f.redemptions[key]
		if redemption.CustomerID == customerID && redemption.Status == models.RedemptionStatusPending {
			out = append(out, &redemption)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (f *fakeRepo) GetRedemptionByCycle(ctx context.Context, customerID primitive.ObjectID, cycleNumber int) (*models.LoyaltyRedemption, error) {
	for key := range f.redemptions {
		redemption := f.redemptions[key]
		if redemption.CustomerID == customerID && redemption.CycleNumber == cycleNumber {
			return &redemption, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRepo) MarkRedemptionRedeemed(ctx context.Context, redemptionID, appointmentID primitive.ObjectID, redeemedAt time.Time) error {
	redemption, ok := f.redemptions[redemptionID.Hex()]
	if !ok || redemption.Status != models.RedemptionStatusPending {
		return interfaces.ErrVersionConflict
	}
	redemption.Status = models.RedemptionStatusRedeemed
	redemption.RedeemedAt = &redeemedAt
	redemption.ConsumedByAppointmentID = &appointmentID
	f.redemptions[redemptionID.Hex()] = redemption
	return nil
}

func (f *fakeRepo) MarkExpiredRedemptions(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for key, redemption := range f.redemptions {
		if redemption.Status == models.RedemptionStatusPending && redemption.IsExpired(now) {
			redemption.Status = models.RedemptionStatusExpired
			f.redemptions[key] = redemption
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) GetActiveCodeByCustomer(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCode, error) {
	for key := range f.codes {
		code := f.codes[key]
		if code.CustomerID == customerID && code.IsActive {
			return &code, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRepo) GetCodeByValue(ctx context.Context, value string) (*models.ReferralCode, error) {
	for key := range f.codes {
		code := f.codes[key]
		if code.Code == value {
			return &code, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRepo) InsertReferralCode(ctx context.Context, code *models.ReferralCode) error {
	if _, err := f.GetCodeByValue(ctx, code.Code); err == nil {
		return interfaces.ErrCodeCollision
	}
	if code.ID.IsZero() {
		code.ID = primitive.NewObjectID()
	}
	f.codes[code.ID.Hex()] = *code
	return nil
}

func (f *fakeRepo) IncrementCodeUses(ctx context.Context, codeID primitive.ObjectID) error {
	code, ok := f.codes[codeID.Hex()]
	if !ok {
		return interfaces.ErrNotFound
	}
	if !code.HasUsesLeft() {
		return interfaces.ErrCodeExhausted
	}
	code.UsesCount++
	f.codes[codeID.Hex()] = code
	return nil
}

func (f *fakeRepo) GetReferralByReferee(ctx context.Context, refereeID primitive.ObjectID) (*models.Referral, error) {
	for key := range f.referrals {
		referral := f.referrals[key]
		if referral.RefereeID == refereeID {
			return &referral, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeRepo) InsertReferral(ctx context.Context, referral *models.Referral) error {
	if _, err := f.GetReferralByReferee(ctx, referral.RefereeID); err == nil {
		return interfaces.ErrDuplicateReferral
	}
	if referral.ID.IsZero() {
		referral.ID = primitive.NewObjectID()
	}
	f.referrals[referral.ID.Hex()] = *referral
	return nil
}

func (f *fakeRepo) UpdateReferral(ctx context.Context, referral *models.Referral) error {
	if _, ok := f.referrals[referral.ID.Hex()]; !ok {
		return interfaces.ErrNotFound
	}
	f.referrals[referral.ID.Hex()] = *referral
	return nil
}

func (f *fakeRepo) CountCompletedReferrals(ctx context.Context, referrerID primitive.ObjectID) (int64, error) {
	var count int64
	for _, referral := range f.referrals {
		if referral.ReferrerID == referrerID && referral.Status == models.ReferralStatusCompleted {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) EnsureIndexes(ctx context.Context) error { return nil }

// staticSettings serves one fixed config snapshot.
type staticSettings struct {
	config *models.LoyaltyProgramConfig
	err    error
}

func (s *staticSettings) GetConfig(ctx context.Context) (*models.LoyaltyProgramConfig, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.config, nil
}

func (s *staticSettings) Invalidate() {}

func testConfig() *models.LoyaltyProgramConfig {
	return &models.LoyaltyProgramConfig{
		IsEnabled:      true,
		PunchThreshold: 10,
		Earning: models.EarningSettings{
			MinimumSpend:           0,
			FirstVisitBonusPunches: 0,
		},
		Redemption: models.RedemptionSettings{
			EligibleServiceIDs: []primitive.ObjectID{eligibleServiceID},
			ExpirationDays:     90,
		},
		Referral: models.ReferralSettings{
			IsEnabled:            true,
			ReferrerBonusPunches: 1,
			RefereeBonusPunches:  1,
		},
	}
}

var eligibleServiceID = primitive.NewObjectID()
