package torrent

import (
	"errors"
	"fmt"
)

// MalformedMetadataError means the raw job metadata could not be parsed or lacks
// required structure. The source should be treated as bad.
type MalformedMetadataError struct {
	Source string // Locator or file the metadata came from
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *MalformedMetadataError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("malformed metadata: %s", e.Reason)
	}

	return fmt.Sprintf("malformed metadata from %s: %s", e.Source, e.Reason)
}

func (e *MalformedMetadataError) Unwrap() error {
	return e.Err
}

// SourceUnreachableError represents a failure fetching metadata from a remote locator.
type SourceUnreachableError struct {
	Source     string
	StatusCode int // HTTP status code, 0 for transport errors
	Err        error
}

func (e *SourceUnreachableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("source %s unreachable (HTTP %d)", e.Source, e.StatusCode)
	}

	if e.Err != nil {
		return fmt.Sprintf("source %s unreachable: %v", e.Source, e.Err)
	}

	return fmt.Sprintf("source %s unreachable", e.Source)
}

func (e *SourceUnreachableError) Unwrap() error {
	return e.Err
}

// BackendRejectedError is a semantic refusal by the backend, such as a duplicate job.
type BackendRejectedError struct {
	Backend string
	Title   string
	Reason  string
	Err     error
}

func (e *BackendRejectedError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("%s rejected request: %s", e.Backend, e.Reason)
	}

	return fmt.Sprintf("%s rejected %q: %s", e.Backend, e.Title, e.Reason)
}

func (e *BackendRejectedError) Unwrap() error {
	return e.Err
}

// BackendUnavailableError is a transport failure talking to the backend itself.
type BackendUnavailableError struct {
	Backend   string
	Operation string
	Err       error
}

func (e *BackendUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable during %s: %v", e.Backend, e.Operation, e.Err)
	}

	return fmt.Sprintf("%s unavailable during %s", e.Backend, e.Operation)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// JobNotFoundError means the backend holds no job for the fingerprint.
type JobNotFoundError struct {
	Backend string
	Hash    string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("%s has no job %s", e.Backend, e.Hash)
}

// NoClientConfiguredError is returned when no client serves the requested protocol.
type NoClientConfiguredError struct {
	Protocol Protocol
}

func (e *NoClientConfiguredError) Error() string {
	return fmt.Sprintf("no download client configured for protocol %q", e.Protocol)
}

// IsRetriable reports whether err is a transient failure the caller may retry.
func IsRetriable(err error) bool {
	var unreachable *SourceUnreachableError
	if errors.As(err, &unreachable) {
		return true
	}

	var unavailable *BackendUnavailableError

	return errors.As(err, &unavailable)
}
