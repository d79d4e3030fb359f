// Package command contains write operations (CQRS - Commands).
package command

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/studyforge/studyplanner/internal/domain/shared"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateCommand runs struct tag validation and converts failures into a
// shared validation error naming every offending field.
func validateCommand(domain, op string, cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.WrapError(domain, op, shared.ErrValidation, "invalid command", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Field() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return shared.NewValidationError(domain, op, "%s", strings.Join(msgs, "; "))
}
