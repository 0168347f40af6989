package validators

import (
	"testing"

	"loyaltyengine/internal/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestValidateCompletionEvent(t *testing.T) {
	valid := &models.AppointmentCompletedEvent{
		CustomerID:       primitive.NewObjectID(),
		AppointmentID:    primitive.NewObjectID(),
		ServiceID:        primitive.NewObjectID(),
		AppointmentTotal: 60,
	}
	if err := ValidateCompletionEvent(valid); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	missing := *valid
	missing.AppointmentID = primitive.ObjectID{}
	if err := ValidateCompletionEvent(&missing); err == nil {
		t.Error("event with zero appointment ID accepted")
	}

	negative := *valid
	negative.AppointmentTotal = -1
	if err := ValidateCompletionEvent(&negative); err == nil {
		t.Error("event with negative total accepted")
	}
}

func TestValidateRedeemRequest(t *testing.T) {
	valid := &models.RedeemRequest{
		CustomerID:    primitive.NewObjectID(),
		AppointmentID: primitive.NewObjectID(),
		ServiceID:     primitive.NewObjectID(),
		ServicePrice:  60,
	}
	if err := ValidateRedeemRequest(valid); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}

	missing := *valid
	missing.ServiceID = primitive.ObjectID{}
	if err := ValidateRedeemRequest(&missing); err == nil {
		t.Error("request with zero service ID accepted")
	}
}

func TestValidateReferralCodeInput(t *testing.T) {
	good := []string{"ABC234", "  xyz789 ", "FRIEND"}
	for _, code := range good {
		if err := ValidateReferralCodeInput(code); err != nil {
			t.Errorf("ValidateReferralCodeInput(%q) = %v, want nil", code, err)
		}
	}

	bad := []string{"", "AB", "HAS SPACE", "SEMI;COLON", "WAYTOOLONGFORACODE"}
	for _, code := range bad {
		if err := ValidateReferralCodeInput(code); err == nil {
			t.Errorf("ValidateReferralCodeInput(%q) = nil, want error", code)
		}
	}
}
