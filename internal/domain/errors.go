package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationError marks an input as permanently rejected: it is never
// retried, and it identifies the offending record where one exists.
type ValidationError struct {
	Field     string
	Reason    string
	ProductID uuid.UUID
}

func (e *ValidationError) Error() string {
	if e.ProductID != uuid.Nil {
		return fmt.Sprintf("validation: %s: %s (product %s)", e.Field, e.Reason, e.ProductID)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
