package plans

import "errors"

// ErrPlanNotFound is returned when a plan does not exist or is soft-deleted
var ErrPlanNotFound = errors.New("subscription plan not found")

// ErrAssignmentNotFound is returned when a product-plan assignment is absent
var ErrAssignmentNotFound = errors.New("product plan assignment not found")

// ConflictError represents a state conflict (duplicate name, double
// archive, delete blocked by live assignments)
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return e.Reason
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ValidationError represents a rejected write (scope/id mismatch, bad
// tier ordering, out-of-range values)
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
