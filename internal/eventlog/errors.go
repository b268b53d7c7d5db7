package eventlog

import "errors"

// Sentinel errors for the eventlog package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrChainBroken is returned when an operation requires an intact hash
	// chain and verification found a break.
	ErrChainBroken = errors.New("event chain is broken")
)
