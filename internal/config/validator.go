package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/newacorn/nanohttp"
	"github.com/pkg/errors"
)

// RegisterCustomValidators registers the nanohttpd specific tags.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("access_rule", validateAccessRule); err != nil {
		return errors.Wrap(err, "failed to register access_rule validator")
	}
	return nil
}

// validateAccessRule accepts "allow <network>" and "deny <network>".
func validateAccessRule(fl validator.FieldLevel) bool {
	return nanohttp.NewAccessList(nanohttp.Deny).ParseRule(fl.Field().String()) == nil
}

// Validate checks the struct tags and the rules spanning several fields.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if c.Server.Executor == "pool" && c.Server.MaxWorkers < 1 {
		return errors.New("Config.Server.MaxWorkers must be at least 1 for the pool executor")
	}
	tls := c.Server.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return errors.New("Config.Server.TLS: cert_file and key_file must be set together")
	}
	if tls.Keystore != "" && tls.CertFile != "" {
		return errors.New("Config.Server.TLS: specify keystore OR cert_file/key_file, not both")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "file", "dir":
		return fmt.Sprintf("%s must be an existing %s: %v", field, e.Tag(), e.Value())
	case "access_rule":
		return fmt.Sprintf("%s must look like \"allow|deny <network>\": %v", field, e.Value())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
