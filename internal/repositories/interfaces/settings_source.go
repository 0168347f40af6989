package interfaces

import (
	"context"

	"loyaltyengine/internal/models"
)

// SettingsSource reads the four loyalty settings sections owned by the
// external settings collaborator. Each section fetch is independent; a section
// that was never configured comes back as its zero-value default, not an
// error.
type SettingsSource interface {
	FetchProgram(ctx context.Context) (*models.ProgramSettings, error)
	FetchEarning(ctx context.Context) (*models.EarningSettings, error)
	FetchRedemption(ctx context.Context) (*models.RedemptionSettings, error)
	FetchReferral(ctx context.Context) (*models.ReferralSettings, error)
}
