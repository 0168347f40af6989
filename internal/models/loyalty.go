package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PunchSource string

const (
	PunchSourceServiceCompletion PunchSource = "service_completion"
	PunchSourceFirstVisitBonus   PunchSource = "first_visit_bonus"
	PunchSourceReferralReferrer  PunchSource = "referral_referrer"
	PunchSourceReferralReferee   PunchSource = "referral_referee"
)

type RedemptionStatus string

const (
	RedemptionStatusPending  RedemptionStatus = "pending"
	RedemptionStatusRedeemed RedemptionStatus = "redeemed"
	RedemptionStatusExpired  RedemptionStatus = "expired"
)

// CustomerLoyaltyAccount holds one customer's punch-card state. Created lazily
// on the first punch. Version is the optimistic-concurrency token; every write
// goes through a compare-and-swap on it.
type CustomerLoyaltyAccount struct {
	ID                      primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CustomerID              primitive.ObjectID `json:"customer_id" bson:"customer_id" validate:"required"`
	CurrentPunches          int                `json:"current_punches" bson:"current_punches" default:"0"`
	CycleNumber             int                `json:"cycle_number" bson:"cycle_number" default:"1"`
	LifetimeEarned          int                `json:"lifetime_earned" bson:"lifetime_earned" default:"0"`
	LifetimeRedeemed        int                `json:"lifetime_redeemed" bson:"lifetime_redeemed" default:"0"`
	CustomThresholdOverride *int               `json:"custom_threshold_override" bson:"custom_threshold_override"`
	Version                 int64              `json:"version" bson:"version"`
	CreatedAt               time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at" bson:"updated_at"`
}

// EffectiveThreshold prefers the per-customer VIP override over the
// program-wide threshold.
func (a *CustomerLoyaltyAccount) EffectiveThreshold(config *LoyaltyProgramConfig) int {
	if a.CustomThresholdOverride != nil && *a.CustomThresholdOverride > 0 {
		return *a.CustomThresholdOverride
	}
	return config.PunchThreshold
}

// LoyaltyPunch is one append-only ledger line. Amount is always 1 so every
// punch stays individually auditable; bonuses are multiple records.
type LoyaltyPunch struct {
	ID            primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	CustomerID    primitive.ObjectID  `json:"customer_id" bson:"customer_id" validate:"required"`
	AppointmentID *primitive.ObjectID `json:"appointment_id" bson:"appointment_id"`
	Amount        int                 `json:"amount" bson:"amount" default:"1"`
	CycleNumber   int                 `json:"cycle_number" bson:"cycle_number"`
	Source        PunchSource         `json:"source" bson:"source" validate:"required"`
	CreatedAt     time.Time           `json:"created_at" bson:"created_at"`
}

// LoyaltyRedemption is one reward row per completed cycle. Redeemed and
// expired are terminal states.
type LoyaltyRedemption struct {
	ID                      primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	CustomerID              primitive.ObjectID  `json:"customer_id" bson:"customer_id" validate:"required"`
	CycleNumber             int                 `json:"cycle_number" bson:"cycle_number"`
	Status                  RedemptionStatus    `json:"status" bson:"status" default:"pending"`
	EarnedAt                time.Time           `json:"earned_at" bson:"earned_at"`
	RedeemedAt              *time.Time          `json:"redeemed_at" bson:"redeemed_at"`
	ConsumedByAppointmentID *primitive.ObjectID `json:"consumed_by_appointment_id" bson:"consumed_by_appointment_id"`
	ExpiresAt               *time.Time          `json:"expires_at" bson:"expires_at"`
	CreatedAt               time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at" bson:"updated_at"`
}

// IsExpired reports whether the reward has passed its expiry instant. Rewards
// with no expiry never expire.
func (r *LoyaltyRedemption) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}
