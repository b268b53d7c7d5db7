package runstate

import "errors"

// Sentinel errors for the runstate package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrRunNotFound is returned when no state file exists for a run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when creating a run whose id is taken.
	ErrRunExists = errors.New("run already exists")

	// ErrLockTimeout is returned when the exclusive state lock could not be
	// acquired within the bounded timeout. The caller should retry; the
	// store never blocks indefinitely.
	ErrLockTimeout = errors.New("state lock timeout")

	// ErrVersionConflict is returned when a concurrent writer updated the
	// state between this updater's read and its write. The mutation was not
	// applied; re-read and retry.
	ErrVersionConflict = errors.New("state version conflict")

	// ErrCorruptState is returned when the state file cannot be decoded.
	// The wrapping error names the backup file to recover from.
	ErrCorruptState = errors.New("corrupt run state")
)
