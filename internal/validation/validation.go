package validation

import (
	"fmt"
	"net/http"
	"unicode"

	"meshbridge/internal/constants"
	"meshbridge/internal/errors"
)

// ValidateIdentifier checks a user, circle or recipient ID: non-empty,
// bounded, and free of whitespace and control characters.
func ValidateIdentifier(id, fieldName string) error {
	if id == "" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s cannot be empty", fieldName))
	}
	if len(id) > constants.MaxIdentifierLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, constants.MaxIdentifierLength))
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("%s contains invalid characters", fieldName))
		}
	}
	return nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateStringLength validates string length against bounds
func ValidateStringLength(value, fieldName string, minLength, maxLength int) error {
	if len(value) < minLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too short (min %d characters)", fieldName, minLength))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	return nil
}

// validateNumericRange validates numeric values against bounds
func validateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateDeliveryOptions bounds the per-message knobs a caller may set.
// Zero means "use the configured default" for both.
func ValidateDeliveryOptions(timeoutMs, retryLimit int) error {
	if err := validateNumericRange(timeoutMs, "timeoutMs", 0, constants.MaxDeliveryTimeoutMs); err != nil {
		return err
	}
	return validateNumericRange(retryLimit, "retryLimit", 0, constants.MaxRequestedRetries)
}
