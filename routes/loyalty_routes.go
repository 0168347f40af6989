package routes

import (
	"loyaltyengine/internal/handlers"
	"loyaltyengine/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupLoyaltyRoutes sets up routes for punch-card earning and redemption
func SetupLoyaltyRoutes(r *gin.RouterGroup, loyaltyHandler *handlers.LoyaltyHandler, jwtSecret string) {
	loyalty := r.Group("/loyalty")
	loyalty.Use(middleware.AuthRequired(jwtSecret))
	{
		// Earning
		loyalty.POST("/punches", loyaltyHandler.AwardPunches)
		loyalty.GET("/accounts/:customer_id", loyaltyHandler.GetAccount)

		// Redemption
		loyalty.POST("/redemptions/check", loyaltyHandler.CheckEligibility)
		loyalty.POST("/redemptions", loyaltyHandler.Redeem)
	}

	admin := r.Group("/admin/loyalty")
	admin.Use(middleware.AuthRequired(jwtSecret), middleware.AdminRequired())
	{
		admin.POST("/rewards/expire", loyaltyHandler.ExpireRewards)
		admin.POST("/settings/invalidate", loyaltyHandler.InvalidateSettings)
	}
}

// SetupReferralRoutes sets up routes for referral codes and settlement
func SetupReferralRoutes(r *gin.RouterGroup, referralHandler *handlers.ReferralHandler, jwtSecret string) {
	referrals := r.Group("/referrals")
	referrals.Use(middleware.AuthRequired(jwtSecret))
	{
		referrals.POST("/codes", referralHandler.GenerateCode)
		referrals.GET("/codes/:customer_id", referralHandler.GetCodeSummary)
		referrals.POST("/apply", referralHandler.ApplyCode)
		referrals.POST("/settle", referralHandler.Settle)
	}
}
