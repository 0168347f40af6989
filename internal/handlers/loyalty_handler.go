package handlers

import (
	"errors"
	"net/http"

	"loyaltyengine/internal/models"
	"loyaltyengine/internal/services"
	"loyaltyengine/internal/utils"
	"loyaltyengine/internal/validators"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type LoyaltyHandler struct {
	earningService    services.EarningService
	redemptionService services.RedemptionService
	settingsService   services.SettingsService
}

func NewLoyaltyHandler(earningService services.EarningService, redemptionService services.RedemptionService, settingsService services.SettingsService) *LoyaltyHandler {
	return &LoyaltyHandler{
		earningService:    earningService,
		redemptionService: redemptionService,
		settingsService:   settingsService,
	}
}

// AwardPunches records a completed appointment and awards any punches due.
// Replaying the same appointment is safe and returns the original result.
func (h *LoyaltyHandler) AwardPunches(c *gin.Context) {
	var event models.AppointmentCompletedEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if err := validators.ValidateCompletionEvent(&event); err != nil {
		utils.BadRequestResponse(c, err.Error())
		return
	}

	result, err := h.earningService.AwardForAppointment(c.Request.Context(), &event)
	if err != nil {
		if errors.Is(err, services.ErrTooManyConflicts) {
			utils.ServiceUnavailableResponse(c, utils.ErrRetryLater)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "AWARD_FAILED", "Failed to award punches: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Punch award processed", result)
}

// GetAccount returns the customer's punch-card summary.
func (h *LoyaltyHandler) GetAccount(c *gin.Context) {
	customerID, err := primitive.ObjectIDFromHex(c.Param("customer_id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid customer ID")
		return
	}

	summary, err := h.earningService.GetAccountSummary(c.Request.Context(), customerID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "ACCOUNT_LOOKUP_FAILED", "Failed to load account: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Account retrieved", summary)
}

// CheckEligibility answers whether a reward can be spent on the candidate
// service, without committing anything.
func (h *LoyaltyHandler) CheckEligibility(c *gin.Context) {
	var candidate models.CheckoutCandidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if err := validators.ValidateCheckoutCandidate(&candidate); err != nil {
		utils.BadRequestResponse(c, err.Error())
		return
	}

	result, err := h.redemptionService.CheckEligibility(c.Request.Context(), &candidate)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "ELIGIBILITY_CHECK_FAILED", "Failed to check eligibility: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Eligibility evaluated", result)
}

// Redeem consumes the customer's oldest pending reward for the appointment.
func (h *LoyaltyHandler) Redeem(c *gin.Context) {
	var request models.RedeemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}
	if err := validators.ValidateRedeemRequest(&request); err != nil {
		utils.BadRequestResponse(c, err.Error())
		return
	}

	result, err := h.redemptionService.Redeem(c.Request.Context(), &request)
	if err != nil {
		if errors.Is(err, services.ErrTooManyConflicts) {
			utils.ServiceUnavailableResponse(c, utils.ErrRetryLater)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "REDEEM_FAILED", "Failed to redeem reward: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Redemption processed", result)
}

// ExpireRewards sweeps stale pending rewards into the expired state.
func (h *LoyaltyHandler) ExpireRewards(c *gin.Context) {
	count, err := h.redemptionService.MarkExpiredRewards(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "EXPIRE_SWEEP_FAILED", "Failed to expire rewards: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Expired rewards swept", gin.H{"expired_count": count})
}

// InvalidateSettings drops the cached settings snapshot after an admin
// settings write.
func (h *LoyaltyHandler) InvalidateSettings(c *gin.Context) {
	h.settingsService.Invalidate()
	utils.SuccessResponse(c, "Settings cache invalidated", nil)
}
