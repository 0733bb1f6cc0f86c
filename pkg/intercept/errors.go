package intercept

import "errors"

// Sentinel errors for the intercept package.
var (
	// ErrInvalidPattern indicates a filter glob that does not parse.
	ErrInvalidPattern = errors.New("invalid filter pattern")
	// ErrInvalidExpr indicates a filter expression that does not compile to
	// a boolean.
	ErrInvalidExpr = errors.New("invalid filter expression")
)
