package budget

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("budget: not found")
	// ErrConflict indicates an id collision on create.
	ErrConflict = errors.New("budget: conflict")
	// ErrInvalidInput indicates a request the caller must correct.
	ErrInvalidInput = errors.New("budget: invalid input")
	// ErrCrossFiscalYear indicates a reference that escapes the owning
	// fiscal year. Normal operation never produces one.
	ErrCrossFiscalYear = errors.New("budget: reference crosses fiscal years")
)
