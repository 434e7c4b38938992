// Package validation holds the shared struct validator and the fluent
// ConfigValidator used by node configuration.
package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// MaxIdentifierLength bounds plugin, component and schedule names
	MaxIdentifierLength = 128

	identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]*$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return IsIdentifier(fl.Field().String())
	})
}

// RegisterValidation adds a custom tag to the shared validator. Call from init.
func RegisterValidation(tag string, fn func(value string) bool) error {
	return validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	})
}

// Struct validates v against its `validate` tags and reports every failing
// field
func Struct(v any) error {
	if v == nil {
		return errors.New("value cannot be nil")
	}
	return formatValidationError(validate.Struct(v))
}

// IsIdentifier reports whether s is a valid plugin/component/schedule name
func IsIdentifier(s string) bool {
	return s != "" && len(s) <= MaxIdentifierLength && identifierPattern.MatchString(s)
}

// ValidateIdentifier returns a descriptive error for a bad identifier
func ValidateIdentifier(kind, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%s cannot be empty", kind)
	case len(s) > MaxIdentifierLength:
		return fmt.Errorf("%s %q exceeds maximum length of %d characters", kind, s, MaxIdentifierLength)
	case !identifierPattern.MatchString(s):
		return fmt.Errorf("%s %q is invalid (letters, digits, '_', '.', ':' and '-' only)", kind, s)
	}
	return nil
}

// formatValidationError converts validator errors to readable per-field errors
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	errs := make([]error, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Field()
		param := e.Param()

		switch e.Tag() {
		case "required":
			errs = append(errs, fmt.Errorf("%s: field is required", field))
		case "min":
			errs = append(errs, fmt.Errorf("%s: must be at least %s", field, param))
		case "max":
			errs = append(errs, fmt.Errorf("%s: must not exceed %s", field, param))
		case "oneof":
			errs = append(errs, fmt.Errorf("%s: must be one of [%s]", field, param))
		case "required_if":
			errs = append(errs, fmt.Errorf("%s: field is required when %s", field, param))
		case "excluded_unless", "excluded_if":
			errs = append(errs, fmt.Errorf("%s: field must be empty unless %s", field, param))
		case "identifier":
			errs = append(errs, fmt.Errorf("%s: %q is not a valid identifier", field, e.Value()))
		default:
			errs = append(errs, fmt.Errorf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return errors.Join(errs...)
}
