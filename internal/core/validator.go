package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"fairbill/internal/types"
)

// errCodeValidationFailed is the error code for struct-tag validation
// failures on request payloads. Local to the chassis layer like
// errCodeValidationInvalidJSON.
const errCodeValidationFailed types.ErrorCode = "validation_failed"

// Validator wraps go-playground/validator for request payload validation.
// Field names in error details use the json tag so clients see wire names,
// not Go identifiers.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with json tag names registered for error
// reporting. A nil logger falls back to slog.Default.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs tag validation on s and translates failures into a
// 400-class AppError listing each offending field and the rule it violated.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalidErr *validator.InvalidValidationError
	if errors.As(err, &invalidErr) {
		// Non-struct input is a programming error, not a client error.
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation target must be a struct",
			err,
		)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"unexpected validation failure",
			err,
		)
	}

	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = describeRule(fe)
	}

	v.logger.Debug("request payload failed validation",
		slog.Any("fields", fields),
	)

	return types.NewAppErrorWithDetails(
		errCodeValidationFailed,
		"request payload failed validation",
		err,
		map[string]any{"fields": fields},
	)
}

// describeRule renders a short human-readable description of the violated
// rule for inclusion in error details.
func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		if fe.Param() != "" {
			return "failed rule: " + fe.Tag() + "=" + fe.Param()
		}
		return "failed rule: " + fe.Tag()
	}
}
