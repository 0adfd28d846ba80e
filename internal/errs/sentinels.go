// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/coordinator/transport layers.
var (
	// ErrNotFound indicates the requested entity (item or draft bucket) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument indicates a malformed request (no key and no parent, nil id, ...).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotReady indicates the content store did not become ready within the bounded wait.
	ErrNotReady = errors.New("store not ready")

	// ErrCreationFailed indicates the store rejected a create call; no draft was installed.
	ErrCreationFailed = errors.New("draft creation failed")

	// ErrNoReplyTarget indicates a publish was requested for a draft without a parent.
	ErrNoReplyTarget = errors.New("draft has no reply target")

	// ErrPublishSync indicates attaching a rotated-out draft to its parent failed.
	// It is reported to observers only; publish itself does not return it.
	ErrPublishSync = errors.New("publish sync failed")

	// ErrCleanup indicates a best-effort removal failed after publish or abandon.
	ErrCleanup = errors.New("cleanup failed")

	// ErrUnauthorized indicates failed authentication of a view-layer session.
	ErrUnauthorized = errors.New("unauthorized")
)
