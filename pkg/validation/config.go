package validation

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"
)

// ConfigValidator is a fluent validator that collects every failure instead
// of stopping at the first one
type ConfigValidator struct {
	errors []error
	name   string // section name used as the error prefix
}

// NewConfigValidator creates a validator for one config section
func NewConfigValidator(section string) *ConfigValidator {
	return &ConfigValidator{name: section}
}

func (cv *ConfigValidator) fail(field, format string, args ...any) *ConfigValidator {
	cv.errors = append(cv.errors, fmt.Errorf("%s.%s: %s", cv.name, field, fmt.Sprintf(format, args...)))
	return cv
}

// Required validates that a string field is not empty
func (cv *ConfigValidator) Required(field, value string) *ConfigValidator {
	if value == "" {
		return cv.fail(field, "required field is empty")
	}
	return cv
}

// Positive validates that an int field is > 0
func (cv *ConfigValidator) Positive(field string, value int) *ConfigValidator {
	if value <= 0 {
		return cv.fail(field, "value %d must be positive", value)
	}
	return cv
}

// RangeInt validates that an int field is within [min, max]
func (cv *ConfigValidator) RangeInt(field string, value, min, max int) *ConfigValidator {
	if value < min || value > max {
		return cv.fail(field, "value %d is outside range [%d, %d]", value, min, max)
	}
	return cv
}

// MinDuration validates that a duration is at least min
func (cv *ConfigValidator) MinDuration(field string, value, min time.Duration) *ConfigValidator {
	if value < min {
		return cv.fail(field, "duration %v is below minimum %v", value, min)
	}
	return cv
}

// OneOf validates that a string field is one of the allowed values
func (cv *ConfigValidator) OneOf(field, value string, allowed []string) *ConfigValidator {
	if !slices.Contains(allowed, value) {
		return cv.fail(field, "value %q must be one of %v", value, allowed)
	}
	return cv
}

// HostPort validates a host:port listen or dial address
func (cv *ConfigValidator) HostPort(field, value string) *ConfigValidator {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return cv.fail(field, "invalid address %q: %v", value, err)
	}
	return cv
}

// Identifier validates a plugin/component/node name
func (cv *ConfigValidator) Identifier(field, value string) *ConfigValidator {
	if err := ValidateIdentifier(field, value); err != nil {
		return cv.fail(field, "%v", err)
	}
	return cv
}

// Custom applies a custom validation function
func (cv *ConfigValidator) Custom(field string, fn func() error) *ConfigValidator {
	if err := fn(); err != nil {
		cv.errors = append(cv.errors, fmt.Errorf("%s.%s: %w", cv.name, field, err))
	}
	return cv
}

// When applies validations only if condition holds
func (cv *ConfigValidator) When(condition bool, validations func(*ConfigValidator)) *ConfigValidator {
	if condition {
		validations(cv)
	}
	return cv
}

// HasErrors reports whether any validation failed
func (cv *ConfigValidator) HasErrors() bool {
	return len(cv.errors) > 0
}

// Errors returns all validation errors
func (cv *ConfigValidator) Errors() []error {
	return cv.errors
}

// Validate returns every failure joined, or nil
func (cv *ConfigValidator) Validate() error {
	return errors.Join(cv.errors...)
}

// DefaultOr returns value if it is non-zero, otherwise def
func DefaultOr[T comparable](value, def T) T {
	var zero T
	if value == zero {
		return def
	}
	return value
}
