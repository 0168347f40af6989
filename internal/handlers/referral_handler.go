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

type ReferralHandler struct {
	referralService services.ReferralService
}

func NewReferralHandler(referralService services.ReferralService) *ReferralHandler {
	return &ReferralHandler{
		referralService: referralService,
	}
}

type generateCodeRequest struct {
	CustomerID primitive.ObjectID `json:"customer_id" binding:"required"`
}

type applyCodeRequest struct {
	CustomerID primitive.ObjectID `json:"customer_id" binding:"required"`
	Code       string             `json:"code" binding:"required"`
}

type settleRequest struct {
	RefereeID     primitive.ObjectID `json:"referee_id" binding:"required"`
	AppointmentID primitive.ObjectID `json:"appointment_id" binding:"required"`
}

// GenerateCode returns the customer's referral code, minting one if needed.
func (h *ReferralHandler) GenerateCode(c *gin.Context) {
	var request generateCodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	code, err := h.referralService.GenerateCode(c.Request.Context(), request.CustomerID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "CODE_GENERATION_FAILED", "Failed to generate referral code: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Referral code ready", models.ReferralCodeSummary{
		Code:      code.Code,
		UsesCount: code.UsesCount,
		MaxUses:   code.MaxUses,
	})
}

// GetCodeSummary returns the customer's code with its share stats.
func (h *ReferralHandler) GetCodeSummary(c *gin.Context) {
	customerID, err := primitive.ObjectIDFromHex(c.Param("customer_id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid customer ID")
		return
	}

	summary, err := h.referralService.GetCodeSummary(c.Request.Context(), customerID)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "CODE_LOOKUP_FAILED", "Failed to load referral code: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Referral code retrieved", summary)
}

// ApplyCode links a newly registered customer to a referrer's code.
func (h *ReferralHandler) ApplyCode(c *gin.Context) {
	var request applyCodeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	if request.CustomerID.IsZero() {
		utils.BadRequestResponse(c, validators.ErrInvalidObjectID.Error())
		return
	}
	if err := validators.ValidateReferralCodeInput(request.Code); err != nil {
		utils.BadRequestResponse(c, err.Error())
		return
	}

	result, err := h.referralService.ApplyCode(c.Request.Context(), request.CustomerID, request.Code)
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "CODE_APPLY_FAILED", "Failed to apply referral code: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Referral application processed", result)
}

// Settle awards both referral bonuses after the referee's first completed
// appointment. Safe to call more than once.
func (h *ReferralHandler) Settle(c *gin.Context) {
	var request settleRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid request: "+err.Error())
		return
	}

	result, err := h.referralService.SettleOnFirstAppointment(c.Request.Context(), request.RefereeID, request.AppointmentID)
	if err != nil {
		if errors.Is(err, services.ErrTooManyConflicts) {
			utils.ServiceUnavailableResponse(c, utils.ErrRetryLater)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "SETTLEMENT_FAILED", "Failed to settle referral: "+err.Error())
		return
	}

	utils.SuccessResponse(c, "Referral settlement processed", result)
}
