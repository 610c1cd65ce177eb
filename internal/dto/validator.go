package dto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground validator with the domain enum rules.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return models.Category(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("report_status", func(fl validator.FieldLevel) bool {
		return models.ReportStatus(fl.Field().String()).Valid()
	})
	return &Validator{validate: v}
}

// Validate returns nil or a single error naming every failed field.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "category":
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(categoryNames(), ", "))
	case "report_status":
		return field + " must be one of pending, in_progress, resolved"
	case "uuid":
		return field + " must be a UUID"
	case "url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func categoryNames() []string {
	names := make([]string, 0, len(models.Categories))
	for _, c := range models.Categories {
		names = append(names, string(c))
	}
	return names
}
