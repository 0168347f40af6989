package mongodb

import (
	"context"
	"fmt"
	"time"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/repositories/interfaces"
	"loyaltyengine/pkg/cache"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const codeCacheTTL = 10 * time.Minute

type loyaltyRepository struct {
	client      *mongo.Client
	accounts    *mongo.Collection
	punches     *mongo.Collection
	redemptions *mongo.Collection
	codes       *mongo.Collection
	referrals   *mongo.Collection
	cache       *cache.RedisCache
}

func NewLoyaltyRepository(db *mongo.Database, cache *cache.RedisCache) interfaces.LoyaltyRepository {
	return &loyaltyRepository{
		client:      db.Client(),
		accounts:    db.Collection("loyalty_accounts"),
		punches:     db.Collection("loyalty_punches"),
		redemptions: db.Collection("loyalty_redemptions"),
		codes:       db.Collection("referral_codes"),
		referrals:   db.Collection("referrals"),
		cache:       cache,
	}
}

func (r *loyaltyRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// Account operations

func (r *loyaltyRepository) GetAccount(ctx context.Context, customerID primitive.ObjectID) (*models.CustomerLoyaltyAccount, error) {
	var account models.CustomerLoyaltyAccount
	err := r.accounts.FindOne(ctx, bson.M{"customer_id": customerID}).Decode(&account)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loyalty account: %w", err)
	}
	return &account, nil
}

func (r *loyaltyRepository) CreateAccount(ctx context.Context, account *models.CustomerLoyaltyAccount) error {
	account.ID = primitive.NewObjectID()
	account.Version = 1
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt

	_, err := r.accounts.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Another writer created the account first; the caller re-reads.
			return interfaces.ErrVersionConflict
		}
		return fmt.Errorf("failed to create loyalty account: %w", err)
	}
	return nil
}

func (r *loyaltyRepository) UpdateAccount(ctx context.Context, account *models.CustomerLoyaltyAccount) error {
	account.UpdatedAt = time.Now()

	result, err := r.accounts.UpdateOne(
		ctx,
		bson.M{"_id": account.ID, "version": account.Version},
		bson.M{"$set": bson.M{
			"current_punches":           account.CurrentPunches,
			"cycle_number":              account.CycleNumber,
			"lifetime_earned":           account.LifetimeEarned,
			"lifetime_redeemed":         account.LifetimeRedeemed,
			"custom_threshold_override": account.CustomThresholdOverride,
			"version":                   account.Version + 1,
			"updated_at":                account.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update loyalty account: %w", err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrVersionConflict
	}

	account.Version++
	return nil
}

// Punch ledger operations

func (r *loyaltyRepository) InsertPunches(ctx context.Context, punches []*models.LoyaltyPunch) error {
	if len(punches) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(punches))
	now := time.Now()
	for _, punch := range punches {
		punch.ID = primitive.NewObjectID()
		punch.Amount = 1
		if punch.CreatedAt.IsZero() {
			punch.CreatedAt = now
		}
		docs = append(docs, punch)
	}

	_, err := r.punches.InsertMany(ctx, docs)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrDuplicatePunch
		}
		return fmt.Errorf("failed to insert punches: %w", err)
	}
	return nil
}

func (r *loyaltyRepository) GetPunchesByAppointment(ctx context.Context, customerID, appointmentID primitive.ObjectID) ([]*models.LoyaltyPunch, error) {
	cursor, err := r.punches.Find(
		ctx,
		bson.M{"customer_id": customerID, "appointment_id": appointmentID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get punches for appointment: %w", err)
	}
	defer cursor.Close(ctx)

	var punches []*models.LoyaltyPunch
	if err := cursor.All(ctx, &punches); err != nil {
		return nil, fmt.Errorf("failed to decode punches: %w", err)
	}
	return punches, nil
}

func (r *loyaltyRepository) HasServicePunch(ctx context.Context, customerID, appointmentID primitive.ObjectID) (bool, error) {
	count, err := r.punches.CountDocuments(ctx, bson.M{
		"customer_id":    customerID,
		"appointment_id": appointmentID,
		"source":         models.PunchSourceServiceCompletion,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check for existing punch: %w", err)
	}
	return count > 0, nil
}

func (r *loyaltyRepository) CountPunchesBySource(ctx context.Context, customerID primitive.ObjectID, source models.PunchSource) (int64, error) {
	count, err := r.punches.CountDocuments(ctx, bson.M{
		"customer_id": customerID,
		"source":      source,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count punches: %w", err)
	}
	return count, nil
}

// Redemption operations

func (r *loyaltyRepository) InsertRedemptions(ctx context.Context, redemptions []*models.LoyaltyRedemption) error {
	if len(redemptions) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(redemptions))
	now := time.Now()
	for _, redemption := range redemptions {
		redemption.ID = primitive.NewObjectID()
		redemption.CreatedAt = now
		redemption.UpdatedAt = now
		docs = append(docs, redemption)
	}

	_, err := r.redemptions.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to insert redemptions: %w", err)
	}
	return nil
}

func (r *loyaltyRepository) GetPendingRedemptions(ctx context.Context, customerID primitive.ObjectID) ([]*models.LoyaltyRedemption, error) {
	cursor, err := r.redemptions.Find(
		ctx,
		bson.M{"customer_id": customerID, "status": models.RedemptionStatusPending},
		options.Find().SetSort(bson.D{{Key: "earned_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending redemptions: %w", err)
	}
	defer cursor.Close(ctx)

	var redemptions []*models.LoyaltyRedemption
	if err := cursor.All(ctx, &redemptions); err != nil {
		return nil, fmt.Errorf("failed to decode redemptions: %w", err)
	}
	return redemptions, nil
}

func (r *loyaltyRepository) GetRedemptionByCycle(ctx context.Context, customerID primitive.ObjectID, cycleNumber int) (*models.LoyaltyRedemption, error) {
	var redemption models.LoyaltyRedemption
	err := r.redemptions.FindOne(ctx, bson.M{
		"customer_id":  customerID,
		"cycle_number": cycleNumber,
	}).Decode(&redemption)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get redemption by cycle: %w", err)
	}
	return &redemption, nil
}

func (r *loyaltyRepository) MarkRedemptionRedeemed(ctx context.Context, redemptionID, appointmentID primitive.ObjectID, redeemedAt time.Time) error {
	result, err := r.redemptions.UpdateOne(
		ctx,
		bson.M{"_id": redemptionID, "status": models.RedemptionStatusPending},
		bson.M{"$set": bson.M{
			"status":                     models.RedemptionStatusRedeemed,
			"redeemed_at":                redeemedAt,
			"consumed_by_appointment_id": appointmentID,
			"updated_at":                 time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark redemption redeemed: %w", err)
	}
	if result.MatchedCount == 0 {
		// The reward was consumed or expired between read and write.
		return interfaces.ErrVersionConflict
	}
	return nil
}

func (r *loyaltyRepository) MarkExpiredRedemptions(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.redemptions.UpdateMany(
		ctx,
		bson.M{
			"status":     models.RedemptionStatusPending,
			"expires_at": bson.M{"$ne": nil, "$lt": now},
		},
		bson.M{"$set": bson.M{
			"status":     models.RedemptionStatusExpired,
			"updated_at": now,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire redemptions: %w", err)
	}
	return result.ModifiedCount, nil
}

// Referral code operations

func (r *loyaltyRepository) GetActiveCodeByCustomer(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCode, error) {
	var code models.ReferralCode
	err := r.codes.FindOne(
		ctx,
		bson.M{"customer_id": customerID, "is_active": true},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&code)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}
	return &code, nil
}

func (r *loyaltyRepository) GetCodeByValue(ctx context.Context, codeValue string) (*models.ReferralCode, error) {
	if code := r.getCodeFromCache(ctx, codeValue); code != nil {
		return code, nil
	}

	var code models.ReferralCode
	err := r.codes.FindOne(ctx, bson.M{"code": codeValue}).Decode(&code)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}

	r.cacheCode(ctx, &code)
	return &code, nil
}

func (r *loyaltyRepository) InsertReferralCode(ctx context.Context, code *models.ReferralCode) error {
	code.ID = primitive.NewObjectID()
	code.CreatedAt = time.Now()
	code.UpdatedAt = code.CreatedAt

	_, err := r.codes.InsertOne(ctx, code)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrCodeCollision
		}
		return fmt.Errorf("failed to insert referral code: %w", err)
	}
	return nil
}

// IncrementCodeUses bumps the use counter. The filter enforces the use cap
// atomically so a stale cached read can never push a code past max_uses.
func (r *loyaltyRepository) IncrementCodeUses(ctx context.Context, codeID primitive.ObjectID) error {
	var code models.ReferralCode
	err := r.codes.FindOneAndUpdate(
		ctx,
		bson.M{
			"_id": codeID,
			"$or": bson.A{
				bson.M{"max_uses": nil},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$uses_count", "$max_uses"}}},
			},
		},
		bson.M{
			"$inc": bson.M{"uses_count": 1},
			"$set": bson.M{"updated_at": time.Now()},
		},
	).Decode(&code)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			count, countErr := r.codes.CountDocuments(ctx, bson.M{"_id": codeID})
			if countErr == nil && count > 0 {
				return interfaces.ErrCodeExhausted
			}
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to increment code uses: %w", err)
	}

	r.invalidateCodeCache(ctx, code.Code)
	return nil
}

// Referral operations

func (r *loyaltyRepository) GetReferralByReferee(ctx context.Context, refereeID primitive.ObjectID) (*models.Referral, error) {
	var referral models.Referral
	err := r.referrals.FindOne(ctx, bson.M{"referee_id": refereeID}).Decode(&referral)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return &referral, nil
}

func (r *loyaltyRepository) InsertReferral(ctx context.Context, referral *models.Referral) error {
	referral.ID = primitive.NewObjectID()
	referral.CreatedAt = time.Now()
	referral.UpdatedAt = referral.CreatedAt

	_, err := r.referrals.InsertOne(ctx, referral)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrDuplicateReferral
		}
		return fmt.Errorf("failed to insert referral: %w", err)
	}
	return nil
}

func (r *loyaltyRepository) UpdateReferral(ctx context.Context, referral *models.Referral) error {
	referral.UpdatedAt = time.Now()

	result, err := r.referrals.UpdateOne(
		ctx,
		bson.M{"_id": referral.ID},
		bson.M{"$set": bson.M{
			"status":                    referral.Status,
			"referrer_bonus_awarded":    referral.ReferrerBonusAwarded,
			"referee_bonus_awarded":     referral.RefereeBonusAwarded,
			"completed_at":              referral.CompletedAt,
			"settled_by_appointment_id": referral.SettledByAppointmentID,
			"updated_at":                referral.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *loyaltyRepository) CountCompletedReferrals(ctx context.Context, referrerID primitive.ObjectID) (int64, error) {
	count, err := r.referrals.CountDocuments(ctx, bson.M{
		"referrer_id": referrerID,
		"status":      models.ReferralStatusCompleted,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count completed referrals: %w", err)
	}
	return count, nil
}

// EnsureIndexes creates the indexes the ledger invariants depend on. The
// partial unique index on punches is the idempotency guarantee: at most one
// service-completion punch per (customer, appointment).
func (r *loyaltyRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "customer_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create account index: %w", err)
	}

	_, err = r.punches.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "appointment_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"source": models.PunchSourceServiceCompletion}),
		},
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "source", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create punch indexes: %w", err)
	}

	_, err = r.redemptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "status", Value: 1}, {Key: "earned_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create redemption indexes: %w", err)
	}

	_, err = r.codes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create referral code index: %w", err)
	}

	_, err = r.referrals.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "referee_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create referral index: %w", err)
	}

	return nil
}

// Cache helpers

func (r *loyaltyRepository) cacheCode(ctx context.Context, code *models.ReferralCode) {
	if r.cache == nil {
		return
	}
	cacheKey := fmt.Sprintf("referral_code_%s", code.Code)
	r.cache.Set(ctx, cacheKey, code, codeCacheTTL)
}

func (r *loyaltyRepository) getCodeFromCache(ctx context.Context, codeValue string) *models.ReferralCode {
	if r.cache == nil {
		return nil
	}
	cacheKey := fmt.Sprintf("referral_code_%s", codeValue)
	var code models.ReferralCode
	if err := r.cache.Get(ctx, cacheKey, &code); err != nil {
		return nil
	}
	return &code
}

func (r *loyaltyRepository) invalidateCodeCache(ctx context.Context, codeValue string) {
	if r.cache == nil {
		return
	}
	cacheKey := fmt.Sprintf("referral_code_%s", codeValue)
	r.cache.Delete(ctx, cacheKey)
}
