package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterStructValidation(validateAuth, AuthConfig{})
}

// Validate validates the configuration using struct tags and custom rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// validateAuth requires at least one way to log in; there is no default password.
func validateAuth(sl validator.StructLevel) {
	auth := sl.Current().Interface().(AuthConfig)
	if auth.Password == "" && auth.AuthorizedKeys == "" {
		sl.ReportError(auth.Password, "Password", "password", "password_or_keys", "")
	}
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		if e.Tag() == "password_or_keys" {
			return fmt.Errorf("%s: auth.password or auth.authorized_keys must be set", e.Namespace())
		}
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
