package telemetry

import "fmt"

// ValidationError reports malformed parameters. The triggering operation is
// rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a duplicate registration or duplicate active fault.
type ConflictError struct {
	Resource string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists", e.Resource)
}

// NotFoundError reports an unknown UAV or subsystem reference.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// CapacityError reports that the fault concurrency cap would be exceeded.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("concurrent fault limit %d reached", e.Limit)
}
