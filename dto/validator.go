package dto

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var actionNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,49}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("action_name", validateActionName)
	validate.RegisterValidation("identifier", validateIdentifier)
}

func GetValidator() *validator.Validate {
	return validate
}

func validateActionName(fl validator.FieldLevel) bool {
	return actionNameRegex.MatchString(fl.Field().String())
}

// identifiers are opaque, but must be printable and free of whitespace so they survive key composition.
func validateIdentifier(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" || len(value) > 255 {
		return false
	}
	for _, char := range value {
		if unicode.IsSpace(char) || !unicode.IsPrint(char) {
			return false
		}
	}
	return !strings.ContainsAny(value, "*?[]")
}

type ValidationError struct {
	Field   string `json:"field" example:"identifier"`
	Message string `json:"message" example:"identifier is required"`
}

type ValidationErrorResponse struct {
	Code    int               `json:"code" example:"400"`
	Message string            `json:"message" example:"Validation failed"`
	Errors  []ValidationError `json:"errors"`
}

// fieldMessages renders a failed tag for a field; tags not listed fall back to "is invalid".
var fieldMessages = map[string]func(field, param string) string{
	"required":    func(f, _ string) string { return f + " is required" },
	"email":       func(string, string) string { return "Invalid email format" },
	"min":         func(f, p string) string { return f + " must be at least " + p },
	"max":         func(f, p string) string { return f + " must be at most " + p },
	"gt":          func(f, p string) string { return f + " must be greater than " + p },
	"gte":         func(f, p string) string { return f + " must be greater than or equal to " + p },
	"oneof":       func(f, p string) string { return f + " must be one of: " + p },
	"url":         func(f, _ string) string { return f + " must be a valid URL" },
	"action_name": func(f, _ string) string { return f + " must be a lowercase action name" },
	"identifier":  func(f, _ string) string { return f + " must be a printable identifier without glob characters" },
}

func FormatValidationErrors(err error) []ValidationError {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return nil
	}

	out := make([]ValidationError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		message := fe.Field() + " is invalid"
		if render, ok := fieldMessages[fe.Tag()]; ok {
			message = render(fe.Field(), fe.Param())
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: message})
	}
	return out
}

type Validator interface {
	Validate() error
}

func CreateValidationErrorResponse(err error) ValidationErrorResponse {
	return ValidationErrorResponse{
		Code:    400,
		Message: "Validation failed",
		Errors:  FormatValidationErrors(err),
	}
}
