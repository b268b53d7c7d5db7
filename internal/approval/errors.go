package approval

import "errors"

var (
	// ErrApprovalRequired reports a gated phase with no approval on record.
	ErrApprovalRequired = errors.New("approval required")

	// ErrStaleApproval reports an approval that predates the most recent
	// decision point for the same phase.
	ErrStaleApproval = errors.New("approval is stale")
)
