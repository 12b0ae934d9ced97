package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gitdeck/gitdeck/internal/gateway"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

var (
	// ErrNoActiveRepository is returned by operations that need a loaded repository
	ErrNoActiveRepository = errors.New("no active repository")

	// ErrRepositoryNotFound is returned for an unknown repository ID
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrDuplicateRepository is returned when adding a path that is already managed
	ErrDuplicateRepository = errors.New("repository already added")
)

// BackendError is a failure reported by the backend for one operation
type BackendError struct {
	Op        string
	Message   string
	Retryable bool
}

func (e *BackendError) Error() string {
	return e.Op + ": " + e.Message
}

// unwrap converts a gateway outcome into a value or an error. Transport
// errors pass through unchanged.
func unwrap[T any](op string, res gateway.Result[T], err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if !res.Success {
		return zero, &BackendError{Op: op, Message: res.Error, Retryable: res.Retryable}
	}
	return res.Data, nil
}

// emptyRepoMarkers identify backend messages produced by a repository
// without any commit
var emptyRepoMarkers = []string{"reference", "not found"}

// IsEmptyRepository reports whether err is the backend failure a repository
// with no commits produces when its history or HEAD is read.
func IsEmptyRepository(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	msg := strings.ToLower(be.Message)
	for _, m := range emptyRepoMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Code classifies an error for user notifications
type Code string

const (
	CodeRepoNotFound      Code = "REPO_NOT_FOUND"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeAuthFailed        Code = "AUTH_FAILED"
	CodeConflictDetected  Code = "CONFLICT_DETECTED"
	CodeTransport         Code = "TRANSPORT_UNAVAILABLE"
	CodeGitOperationError Code = "GIT_OPERATION_FAILED"
)

// Classify maps err to a notification code
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	if errors.Is(err, vcs.ErrTransportUnavailable) {
		return CodeTransport
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, ErrRepositoryNotFound),
		strings.Contains(msg, "not a git repository"),
		strings.Contains(msg, "not in a vcs repository"),
		strings.Contains(msg, "repository not found"):
		return CodeRepoNotFound
	case strings.Contains(msg, "authentication"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return CodeAuthFailed
	case strings.Contains(msg, "conflict"):
		return CodeConflictDetected
	case strings.Contains(msg, "network"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "could not resolve host"),
		strings.Contains(msg, "connection"):
		return CodeNetworkError
	}
	return CodeGitOperationError
}

// Describe returns a short user-facing message for err
func Describe(err error) string {
	switch Classify(err) {
	case CodeRepoNotFound:
		return "Repository not found or not a git repository"
	case CodeNetworkError:
		return "Network error, check your connection or proxy settings"
	case CodeAuthFailed:
		return "Authentication failed, check your credentials"
	case CodeConflictDetected:
		return "Merge conflicts detected, resolve them before continuing"
	case CodeTransport:
		return "Git backend unavailable, check that git is installed"
	case "":
		return ""
	}
	return fmt.Sprintf("Git operation failed: %v", err)
}
