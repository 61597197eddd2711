package engine

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// registerDocumentValidators registers the custom validation functions
// used by graph document struct tags.
func registerDocumentValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration accepts non-negative Go duration strings such as
// "200ms" or "1.5s". Empty strings are handled by the omitempty tag.
func validateDuration(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	d, err := time.ParseDuration(raw)
	if err != nil {
		return false
	}
	return d >= 0
}

// parseDuration converts an already-validated duration string, treating
// empty as zero.
func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
