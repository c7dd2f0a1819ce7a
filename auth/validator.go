package auth

import (
	"chat-relay/domain"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// objectid accepts a 24 character hex identifier
	_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return domain.IsValidID(fl.Field().String())
	})
	return v
}

// ValidatePayload checks the validate tags of an inbound payload.
func ValidatePayload(payload any) error {
	return validate.Struct(payload)
}
