// Package validate checks decoded request bodies against struct tags.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"reportdesk/internal/rbac"
)

// FieldError is one failed rule, keyed by the JSON field name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is returned by Struct when validation fails.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Message)
	}
	return strings.Join(parts, "; ")
}

// Usernames must survive mention extraction: no trailing dot, and only the
// characters an @mention can capture.
var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}\p{Mn}_.-]*[\p{L}\p{N}\p{Mn}_-]$`)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		_, ok := rbac.ParseRole(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("project", func(fl validator.FieldLevel) bool {
		return rbac.IsProject(fl.Field().String())
	})
	return &Validator{validate: v}
}

var std = New()

// Struct validates s with the package default validator.
func Struct(s any) error {
	return std.Struct(s)
}

// Struct returns Errors for rule failures and nil when s is valid.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	out := make(Errors, 0, len(validationErrors))
	for _, fe := range validationErrors {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe.Field(), fe.Tag(), fe.Param())})
	}
	return out
}

func message(field, tag, param string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, param)
	case "username":
		return fmt.Sprintf("%s may contain letters, digits, '_', '-' and '.', and must not end with '.'", field)
	case "role":
		return fmt.Sprintf("%s must be one of: %s", field, roleList())
	case "project":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(rbac.Projects(), ", "))
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}

func roleList() string {
	roles := rbac.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
