package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Facts handed to the engine by the booking subsystem.

type AppointmentCompletedEvent struct {
	CustomerID       primitive.ObjectID `json:"customer_id" validate:"required"`
	AppointmentID    primitive.ObjectID `json:"appointment_id" validate:"required"`
	ServiceID        primitive.ObjectID `json:"service_id" validate:"required"`
	AppointmentTotal float64            `json:"appointment_total"`
}

type CheckoutCandidate struct {
	CustomerID   primitive.ObjectID `json:"customer_id" validate:"required"`
	ServiceID    primitive.ObjectID `json:"service_id" validate:"required"`
	ServicePrice float64            `json:"service_price"`
}

type RedeemRequest struct {
	CustomerID    primitive.ObjectID `json:"customer_id" validate:"required"`
	AppointmentID primitive.ObjectID `json:"appointment_id" validate:"required"`
	ServiceID     primitive.ObjectID `json:"service_id" validate:"required"`
	ServicePrice  float64            `json:"service_price"`
}

// Results. Expected business outcomes ("not eligible", "program disabled")
// ride in these records; only infrastructure failures surface as errors.

type EarnResult struct {
	PunchesAwarded int    `json:"punches_awarded"`
	CurrentPunches int    `json:"current_punches"`
	Threshold      int    `json:"threshold"`
	RewardEarned   bool   `json:"reward_earned"`
	CycleNumber    int    `json:"cycle_number"`
	Message        string `json:"message,omitempty"`
}

type EligibilityResult struct {
	Allowed         bool                `json:"allowed"`
	Reason          string              `json:"reason,omitempty"`
	RedemptionValue float64             `json:"redemption_value,omitempty"`
	PendingRewardID *primitive.ObjectID `json:"pending_reward_id,omitempty"`
}

type RedemptionResult struct {
	Allowed          bool               `json:"allowed"`
	Reason           string             `json:"reason,omitempty"`
	RedemptionID     primitive.ObjectID `json:"redemption_id,omitempty"`
	RedemptionValue  float64            `json:"redemption_value,omitempty"`
	RemainingRewards int                `json:"remaining_rewards"`
}

type ApplyResult struct {
	Applied    bool                `json:"applied"`
	Reason     string              `json:"reason,omitempty"`
	ReferralID *primitive.ObjectID `json:"referral_id,omitempty"`
}

type SettleResult struct {
	Settled               bool   `json:"settled"`
	Reason                string `json:"reason,omitempty"`
	ReferrerPunchesAwarded int   `json:"referrer_punches_awarded"`
	RefereePunchesAwarded  int   `json:"referee_punches_awarded"`
}

// AccountSummary is what the caller's UI renders for a customer's card.
type AccountSummary struct {
	CustomerID     primitive.ObjectID  `json:"customer_id"`
	CurrentPunches int                 `json:"current_punches"`
	Threshold      int                 `json:"threshold"`
	CycleNumber    int                 `json:"cycle_number"`
	LifetimeEarned int                 `json:"lifetime_earned"`
	LifetimeRedeemed int               `json:"lifetime_redeemed"`
	PendingRewards []PendingReward     `json:"pending_rewards"`
}

type PendingReward struct {
	ID        primitive.ObjectID `json:"id"`
	EarnedAt  time.Time          `json:"earned_at"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// ReferralCodeSummary pairs a code with its share stats.
type ReferralCodeSummary struct {
	Code               string `json:"code"`
	UsesCount          int    `json:"uses_count"`
	MaxUses            *int   `json:"max_uses,omitempty"`
	CompletedReferrals int    `json:"completed_referrals"`
}
