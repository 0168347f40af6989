package validators

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"loyaltyengine/internal/models"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	validate.RegisterValidation("object_id", validateObjectID)
	validate.RegisterValidation("referral_code", validateReferralCodeFormat)
}

var (
	ErrInvalidObjectID     = errors.New("invalid object ID format")
	ErrInvalidReferralCode = errors.New("invalid referral code format")
	ErrNegativeAmount      = errors.New("amount must not be negative")
)

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	var messages []string
	for _, err := range v {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// ValidateStruct validates a struct and returns detailed errors
func ValidateStruct(s interface{}) ValidationErrors {
	var validationErrors ValidationErrors

	err := validate.Struct(s)
	if err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			for _, fieldErr := range fieldErrors {
				validationErrors = append(validationErrors, ValidationError{
					Field:   fieldErr.Field(),
					Tag:     fieldErr.Tag(),
					Value:   fmt.Sprintf("%v", fieldErr.Value()),
					Message: getErrorMessage(fieldErr),
				})
			}
		}
	}

	return validationErrors
}

func getErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "this field is required"
	case "object_id":
		return ErrInvalidObjectID.Error()
	case "referral_code":
		return ErrInvalidReferralCode.Error()
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	default:
		return fmt.Sprintf("failed validation for '%s'", err.Tag())
	}
}

func validateObjectID(fl validator.FieldLevel) bool {
	if id, ok := fl.Field().Interface().(primitive.ObjectID); ok {
		return !id.IsZero()
	}
	_, err := primitive.ObjectIDFromHex(fl.Field().String())
	return err == nil
}

var referralCodePattern = regexp.MustCompile(`^[A-Z2-9]{4,12}$`)

func validateReferralCodeFormat(fl validator.FieldLevel) bool {
	return referralCodePattern.MatchString(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
}

// ValidateCompletionEvent checks a completion event before it reaches the
// earning engine. Zero IDs slip through JSON binding, so they are checked
// here.
func ValidateCompletionEvent(event *models.AppointmentCompletedEvent) error {
	if event.CustomerID.IsZero() || event.AppointmentID.IsZero() || event.ServiceID.IsZero() {
		return ErrInvalidObjectID
	}
	if event.AppointmentTotal < 0 {
		return ErrNegativeAmount
	}
	if errs := ValidateStruct(event); len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateCheckoutCandidate checks an eligibility probe.
func ValidateCheckoutCandidate(candidate *models.CheckoutCandidate) error {
	if candidate.CustomerID.IsZero() || candidate.ServiceID.IsZero() {
		return ErrInvalidObjectID
	}
	if candidate.ServicePrice < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// ValidateRedeemRequest checks a redemption request.
func ValidateRedeemRequest(request *models.RedeemRequest) error {
	if request.CustomerID.IsZero() || request.AppointmentID.IsZero() || request.ServiceID.IsZero() {
		return ErrInvalidObjectID
	}
	if request.ServicePrice < 0 {
		return ErrNegativeAmount
	}
	return nil
}

// ValidateReferralCodeInput checks a code string as submitted by a customer.
func ValidateReferralCodeInput(code string) error {
	if !referralCodePattern.MatchString(strings.ToUpper(strings.TrimSpace(code))) {
		return ErrInvalidReferralCode
	}
	return nil
}
