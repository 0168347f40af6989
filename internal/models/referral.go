package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	// ReferralStatusExpired is reserved; no transition writes it yet.
	ReferralStatusExpired ReferralStatus = "expired"
)

// ReferralCode is a short customer-owned token handed out for sharing. A
// customer conventionally has one active code at a time.
type ReferralCode struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CustomerID primitive.ObjectID `json:"customer_id" bson:"customer_id" validate:"required"`
	Code       string             `json:"code" bson:"code" validate:"required"`
	UsesCount  int                `json:"uses_count" bson:"uses_count" default:"0"`
	MaxUses    *int               `json:"max_uses" bson:"max_uses"`
	IsActive   bool               `json:"is_active" bson:"is_active" default:"true"`
	CreatedAt  time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at" bson:"updated_at"`
}

// HasUsesLeft reports whether the code can still be applied. A nil MaxUses
// means unlimited.
func (c *ReferralCode) HasUsesLeft() bool {
	return c.MaxUses == nil || c.UsesCount < *c.MaxUses
}

// Referral links a referred customer to their referrer. The referee is unique
// across all rows: each customer may be referred at most once, ever.
type Referral struct {
	ID                    primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ReferrerID            primitive.ObjectID `json:"referrer_id" bson:"referrer_id" validate:"required"`
	RefereeID             primitive.ObjectID `json:"referee_id" bson:"referee_id" validate:"required"`
	ReferralCodeID        primitive.ObjectID `json:"referral_code_id" bson:"referral_code_id"`
	Status                ReferralStatus     `json:"status" bson:"status" default:"pending"`
	ReferrerBonusAwarded  bool               `json:"referrer_bonus_awarded" bson:"referrer_bonus_awarded"`
	RefereeBonusAwarded   bool               `json:"referee_bonus_awarded" bson:"referee_bonus_awarded"`
	CompletedAt           *time.Time         `json:"completed_at" bson:"completed_at"`
	SettledByAppointmentID *primitive.ObjectID `json:"settled_by_appointment_id" bson:"settled_by_appointment_id"`
	CreatedAt             time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at" bson:"updated_at"`
}

// IsSettled reports whether both bonus awards have already happened, which
// makes a repeated settlement call a no-op.
func (r *Referral) IsSettled() bool {
	return r.ReferrerBonusAwarded && r.RefereeBonusAwarded
}
