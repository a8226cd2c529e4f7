// Package validator provides struct validation with the custom tags used by
// membership and group inputs.
package validator

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openctemio/groups/pkg/domain/group"
	"github.com/openctemio/groups/pkg/domain/membership"
	"github.com/openctemio/groups/pkg/domain/shared"
)

var slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors. It matches
// shared.ErrInvalidArgument under errors.Is.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %s", e.Field, e.Message)
	}
	return sb.String()
}

// Unwrap ties validation failures to the domain taxonomy.
func (v ValidationErrors) Unwrap() error {
	return shared.ErrInvalidArgument
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// shared.ID validates as its string form, with the zero ID as "".
	v.RegisterCustomTypeFunc(idValue, shared.ID{})

	_ = v.RegisterValidation("role", validateRole)
	_ = v.RegisterValidation("invite_status", validateInviteStatus)
	_ = v.RegisterValidation("group_status", validateGroupStatus)
	_ = v.RegisterValidation("slug", validateSlug)

	return &Validator{validate: v}
}

func idValue(field reflect.Value) any {
	id, ok := field.Interface().(shared.ID)
	if !ok || id.IsZero() {
		return ""
	}
	return id.String()
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}
	return result
}

func validateRole(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := membership.ParseRole(value)
	return err == nil
}

func validateInviteStatus(fl validator.FieldLevel) bool {
	_, err := group.ParseInviteStatus(fl.Field().String())
	return err == nil
}

func validateGroupStatus(fl validator.FieldLevel) bool {
	_, err := group.ParseStatus(fl.Field().String())
	return err == nil
}

func validateSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return value == "" || slugRegex.MatchString(value)
}

func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "role":
		return "must be one of: regular, mod, admin"
	case "invite_status":
		return "must be one of: members, mods, admins"
	case "group_status":
		return "must be one of: public, private, hidden"
	case "slug":
		return "must be a valid slug (lowercase letters, numbers, hyphens only)"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "nefield":
		return fmt.Sprintf("must differ from %s", toSnakeCase(e.Param()))
	default:
		return fmt.Sprintf("failed on '%s' validation", e.Tag())
	}
}

// toSnakeCase converts PascalCase/camelCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
			result.WriteByte('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}
