package interfaces

import (
	"context"
	"errors"
	"time"

	"loyaltyengine/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when an account write loses the
	// optimistic-concurrency race and should be retried from a fresh read.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrDuplicatePunch is returned when a service-completion punch already
	// exists for the appointment.
	ErrDuplicatePunch = errors.New("duplicate punch for appointment")
	// ErrDuplicateReferral is returned when the referee already appears in a
	// referral row.
	ErrDuplicateReferral = errors.New("customer already referred")
	// ErrCodeCollision is returned when a generated referral code is already
	// taken.
	ErrCodeCollision = errors.New("referral code already exists")
	// ErrCodeExhausted is returned when an increment would push a code past
	// its use cap.
	ErrCodeExhausted = errors.New("referral code has no uses left")
)

// LoyaltyRepository is the ledger store. It exclusively owns writes to the
// loyalty account, punch, redemption, referral-code and referral collections.
// Every method participates in the ambient transaction when called inside the
// function passed to WithTransaction.
type LoyaltyRepository interface {
	// WithTransaction runs fn inside one transaction; all repository calls
	// made with the ctx handed to fn commit or roll back together.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Account operations
	GetAccount(ctx context.Context, customerID primitive.ObjectID) (*models.CustomerLoyaltyAccount, error)
	CreateAccount(ctx context.Context, account *models.CustomerLoyaltyAccount) error
	UpdateAccount(ctx context.Context, account *models.CustomerLoyaltyAccount) error

	// Punch ledger operations
	InsertPunches(ctx context.Context, punches []*models.LoyaltyPunch) error
	GetPunchesByAppointment(ctx context.Context, customerID, appointmentID primitive.ObjectID) ([]*models.LoyaltyPunch, error)
	HasServicePunch(ctx context.Context, customerID, appointmentID primitive.ObjectID) (bool, error)
	CountPunchesBySource(ctx context.Context, customerID primitive.ObjectID, source models.PunchSource) (int64, error)

	// Redemption operations
	InsertRedemptions(ctx context.Context, redemptions []*models.LoyaltyRedemption) error
	GetPendingRedemptions(ctx context.Context, customerID primitive.ObjectID) ([]*models.LoyaltyRedemption, error)
	GetRedemptionByCycle(ctx context.Context, customerID primitive.ObjectID, cycleNumber int) (*models.LoyaltyRedemption, error)
	MarkRedemptionRedeemed(ctx context.Context, redemptionID, appointmentID primitive.ObjectID, redeemedAt time.Time) error
	MarkExpiredRedemptions(ctx context.Context, now time.Time) (int64, error)

	// Referral code operations
	GetActiveCodeByCustomer(ctx context.Context, customerID primitive.ObjectID) (*models.ReferralCode, error)
	GetCodeByValue(ctx context.Context, code string) (*models.ReferralCode, error)
	InsertReferralCode(ctx context.Context, code *models.ReferralCode) error
	IncrementCodeUses(ctx context.Context, codeID primitive.ObjectID) error

	// Referral operations
	GetReferralByReferee(ctx context.Context, refereeID primitive.ObjectID) (*models.Referral, error)
	InsertReferral(ctx context.Context, referral *models.Referral) error
	UpdateReferral(ctx context.Context, referral *models.Referral) error
	CountCompletedReferrals(ctx context.Context, referrerID primitive.ObjectID) (int64, error)

	// EnsureIndexes creates the unique indexes the invariants rely on.
	EnsureIndexes(ctx context.Context) error
}
