package vcs

import "errors"

// Common errors returned by VCS operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // Handle case where the path is outside any repository
//	}
var (
	// ErrTransportUnavailable is returned when no backend can be reached
	// at all: no driver is registered or the VCS binary is missing.
	// Callers must not retry it.
	ErrTransportUnavailable = errors.New("backend transport unavailable")

	// ErrNotInVCS is returned when the operation requires being inside
	// a VCS repository but none was found.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the required VCS binary
	// is not installed or not in PATH.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrUnsupportedVersion is returned when the VCS binary is older than
	// the minimum supported version.
	ErrUnsupportedVersion = errors.New("unsupported VCS version")

	// ErrRefExists is returned when attempting to create a branch or tag
	// that already exists.
	ErrRefExists = errors.New("reference already exists")

	// ErrRefNotFound is returned when a reference does not resolve. An
	// unborn HEAD in an empty repository also reports it.
	ErrRefNotFound = errors.New("reference not found")

	// ErrNoRemote is returned when an operation requires a remote
	// but none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrConflicts is returned when an operation cannot complete
	// due to unresolved conflicts.
	ErrConflicts = errors.New("unresolved conflicts")

	// ErrDirtyWorkspace is returned when an operation requires
	// a clean working tree but there are uncommitted changes.
	ErrDirtyWorkspace = errors.New("workspace has uncommitted changes")

	// ErrNotSupported is returned when an operation is not supported
	// by the current VCS backend.
	ErrNotSupported = errors.New("operation not supported by this VCS")

	// ErrDetached is returned when an operation requires being on
	// a branch but HEAD is detached.
	ErrDetached = errors.New("not on a branch")

	// ErrNothingToCommit is returned by Commit when the index is empty.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrAuthFailed is returned when the remote rejects the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrMergeRequired is returned when a pull results in divergent
	// histories that require a merge.
	ErrMergeRequired = errors.New("merge required")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// This is useful for transient network errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Timeouts are often transient
	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Push rejections might succeed after a pull
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	return errors.Is(err, ErrMergeRequired)
}

// IsFatal returns true if the error indicates that no backend can serve
// the request until the environment changes.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Binary not available means we can't execute commands
	if errors.Is(err, ErrVCSNotAvailable) || errors.Is(err, ErrUnsupportedVersion) {
		return true
	}

	return errors.Is(err, ErrTransportUnavailable)
}
