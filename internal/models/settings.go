package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Settings section keys as stored by the external settings collaborator.
const (
	SettingsSectionProgram    = "loyalty_program"
	SettingsSectionEarning    = "loyalty_earning"
	SettingsSectionRedemption = "loyalty_redemption"
	SettingsSectionReferral   = "loyalty_referral"
)

type ProgramSettings struct {
	IsEnabled      bool `json:"is_enabled" bson:"is_enabled"`
	PunchThreshold int  `json:"punch_threshold" bson:"punch_threshold" default:"10"`
}

type EarningSettings struct {
	QualifyingServiceIDs   []primitive.ObjectID `json:"qualifying_service_ids" bson:"qualifying_service_ids"`
	MinimumSpend           float64              `json:"minimum_spend" bson:"minimum_spend"`
	FirstVisitBonusPunches int                  `json:"first_visit_bonus_punches" bson:"first_visit_bonus_punches"`
}

type RedemptionSettings struct {
	EligibleServiceIDs []primitive.ObjectID `json:"eligible_service_ids" bson:"eligible_service_ids"`
	ExpirationDays     int                  `json:"expiration_days" bson:"expiration_days"`
	MaxValue           *float64             `json:"max_value" bson:"max_value"`
}

type ReferralSettings struct {
	IsEnabled            bool `json:"is_enabled" bson:"is_enabled"`
	ReferrerBonusPunches int  `json:"referrer_bonus_punches" bson:"referrer_bonus_punches"`
	RefereeBonusPunches  int  `json:"referee_bonus_punches" bson:"referee_bonus_punches"`
}

// LoyaltyProgramConfig is the immutable snapshot the engines run against. It
// is assembled from the four settings sections and validated once here, not
// re-checked at every read site.
type LoyaltyProgramConfig struct {
	IsEnabled      bool
	PunchThreshold int
	Earning        EarningSettings
	Redemption     RedemptionSettings
	Referral       ReferralSettings
}

// ServiceQualifiesForEarning reports whether a service earns punches. An
// empty qualifying list means every service qualifies.
func (c *LoyaltyProgramConfig) ServiceQualifiesForEarning(serviceID primitive.ObjectID) bool {
	if len(c.Earning.QualifyingServiceIDs) == 0 {
		return true
	}
	return containsID(c.Earning.QualifyingServiceIDs, serviceID)
}

// ServiceEligibleForRedemption reports whether a reward may be spent on the
// service.
func (c *LoyaltyProgramConfig) ServiceEligibleForRedemption(serviceID primitive.ObjectID) bool {
	return containsID(c.Redemption.EligibleServiceIDs, serviceID)
}

// Validate enforces the configured ranges at the snapshot boundary.
func (c *LoyaltyProgramConfig) Validate() error {
	if !c.IsEnabled {
		return nil
	}
	if c.PunchThreshold < 5 || c.PunchThreshold > 20 {
		return fmt.Errorf("punch threshold %d out of range [5, 20]", c.PunchThreshold)
	}
	if c.Earning.MinimumSpend < 0 {
		return fmt.Errorf("minimum spend must not be negative")
	}
	if c.Earning.FirstVisitBonusPunches < 0 || c.Earning.FirstVisitBonusPunches > 10 {
		return fmt.Errorf("first visit bonus %d out of range [0, 10]", c.Earning.FirstVisitBonusPunches)
	}
	if len(c.Redemption.EligibleServiceIDs) == 0 {
		return fmt.Errorf("redemption requires at least one eligible service")
	}
	if c.Redemption.ExpirationDays < 0 {
		return fmt.Errorf("expiration days must not be negative")
	}
	if c.Redemption.MaxValue != nil && *c.Redemption.MaxValue <= 0 {
		return fmt.Errorf("max redemption value must be positive when set")
	}
	if c.Referral.ReferrerBonusPunches < 0 || c.Referral.ReferrerBonusPunches > 10 {
		return fmt.Errorf("referrer bonus %d out of range [0, 10]", c.Referral.ReferrerBonusPunches)
	}
	if c.Referral.RefereeBonusPunches < 0 || c.Referral.RefereeBonusPunches > 10 {
		return fmt.Errorf("referee bonus %d out of range [0, 10]", c.Referral.RefereeBonusPunches)
	}
	return nil
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
