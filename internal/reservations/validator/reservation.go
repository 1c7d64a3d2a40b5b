package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"rsvp/pkg/logger"
	"rsvp/pkg/model"

	"github.com/go-playground/validator/v10"
)

// identifierRegex accepts opaque IDs from upstream systems: UUIDs, ObjectIDs,
// slugs and emails. Whitespace and path separators are rejected.
var identifierRegex = regexp.MustCompile(`^[\p{L}\p{N}_.:@+\-]+$`)

const identifierRule = "required,max=128,identifier"

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

type ReservationValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewReservationValidator(log *logger.Logger) *ReservationValidator {
	v := validator.New()

	if err := v.RegisterValidation("identifier", validateIdentifier); err != nil {
		log.Fatal("Failed to register 'identifier' validator",
			"error", err,
		)
	}

	log.Debug("Reservation validator initialized")

	return &ReservationValidator{
		validate: v,
		logger:   log,
	}
}

func validateIdentifier(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}

func (v *ReservationValidator) ValidateRequest(req *model.ReservationRequest) error {
	return v.structErrors(v.validate.Struct(req))
}

func (v *ReservationValidator) ValidateLifecycle(req *model.LifecycleRequest) error {
	if err := v.structErrors(v.validate.Struct(req)); err != nil {
		return err
	}

	if req.Status == model.EventPublished && req.Capacity < 1 {
		return ValidationErrors{
			ValidationError{
				Field:   "Capacity",
				Message: "capacity must be at least 1 when publishing",
			},
		}
	}
	return nil
}

// ValidateID checks a bare identifier such as a path parameter.
func (v *ReservationValidator) ValidateID(field, value string) error {
	err := v.validate.Var(value, identifierRule)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return v.translateValidationErrors(validationErrs, field)
	}
	return err
}

func (v *ReservationValidator) structErrors(err error) error {
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return v.translateValidationErrors(validationErrs, "")
	}
	return err
}

// translateValidationErrors renders one message per failed rule. field names
// the value when validating a bare variable, which carries no field name.
func (v *ReservationValidator) translateValidationErrors(errs validator.ValidationErrors, field string) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		if err.Field() != "" {
			field = err.Field()
		}
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "min":
			message = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		case "identifier":
			message = fmt.Sprintf("%s may only contain letters, digits and _ . : @ + -", field)
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   field,
			Message: message,
		})
	}

	return validationErrors
}
