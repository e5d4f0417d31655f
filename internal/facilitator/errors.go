package facilitator

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when facilitator state is used before it has
// been constructed. This is a programming error, not a runtime condition.
var ErrNotInitialized = errors.New("facilitator state not initialized")

// ProvisioningError wraps any failure along the sandbox list/create/cache
// path. It is fatal for the triggering request but leaves the endpoint cache
// untouched, so a later request may retry.
type ProvisioningError struct {
	Op  string // "list", "create", or "select"
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("sandbox provisioning (%s): %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
