package executor

import "errors"

// Sentinel errors for the executor package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrUnresolvedPlaceholder is returned when a directive or argument
	// references a placeholder with no matching context key. The step is
	// never dispatched.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
)
