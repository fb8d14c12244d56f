// internal/utils/validator.go
package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/printshop/storefront-backend/internal/models"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterValidation("frame_option", validateFrameOption)
	validate.RegisterValidation("fulfillment_status", validateFulfillmentStatus)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// Empty frame option means unframed.
func validateFrameOption(fl validator.FieldLevel) bool {
	switch models.FrameOption(fl.Field().String()) {
	case "", models.FrameOptionNone, models.FrameOptionFramed:
		return true
	}
	return false
}

func validateFulfillmentStatus(fl validator.FieldLevel) bool {
	return models.FulfillmentStatus(fl.Field().String()).Valid()
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "frame_option":
		return "Frame option must be one of: none, framed"
	case "fulfillment_status":
		return "Status must be one of: pending, processing, shipped, delivered"
	default:
		return e.Field() + " is invalid"
	}
}
