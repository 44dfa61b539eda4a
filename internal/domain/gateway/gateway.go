package gateway

import (
	"context"
	"time"

	"activity_reminder_engine/internal/domain/reminder"
)

// PermissionStatus mirrors the platform's notification authorization state.
type PermissionStatus string

const (
	PermissionNotRequested PermissionStatus = "NOT_REQUESTED"
	PermissionAuthorized   PermissionStatus = "AUTHORIZED"
	PermissionDenied       PermissionStatus = "DENIED"
	PermissionRestricted   PermissionStatus = "RESTRICTED"
)

// Payload is the platform-agnostic content of one notification.
type Payload struct {
	Key      string
	Category reminder.Category
	Title    string
	Body     string
}

// Gateway is the one seam between the engine and the platform notification
// subsystem. All calls are asynchronous I/O and may fail; callers convert
// failures into ledger-state annotations rather than propagating them.
// Handles are opaque strings; the engine never inspects them.
type Gateway interface {
	// ScheduleAt arms a one-shot notification and returns its handle.
	ScheduleAt(ctx context.Context, fireAt time.Time, payload Payload) (string, error)
	// Cancel removes a pending notification. Cancelling an unknown or
	// already-fired handle is not an error.
	Cancel(ctx context.Context, handle string) error
	// ListPending returns the set of handles the platform still holds.
	ListPending(ctx context.Context) (map[string]struct{}, error)
	// Permission returns the current authorization status.
	Permission(ctx context.Context) (PermissionStatus, error)
	// RequestPermission asks the platform for authorization and returns the
	// resulting status.
	RequestPermission(ctx context.Context) (PermissionStatus, error)
}
