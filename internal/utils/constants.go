package utils

// Application constants
const (
	AppName = "LoyaltyEngine"
)

// Loyalty defaults
const (
	DefaultPunchThreshold = 10
	MinPunchThreshold     = 5
	MaxPunchThreshold     = 20
	MaxBonusPunches       = 10
	ReferralCodeLength    = 6
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInvalidInput      = "invalid input"
	ErrInternalServer    = "internal server error"
	ErrUnauthorized      = "unauthorized"
	ErrForbidden         = "forbidden"
	ErrNotFound          = "not found"
	ErrConflict          = "conflict"
	ErrValidationFailed  = "validation failed"
	ErrRetryLater        = "temporarily unable to process, retry later"
	ErrAccountNotFound   = "loyalty account not found"
	ErrSettingsUnavailable = "loyalty settings unavailable"
)
