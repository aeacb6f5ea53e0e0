// Package dc defines the download client abstraction shared by every backend and
// the registry that routes jobs to them.
package dc

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/italolelis/mediamanager/internal/torrent"
)

// DownloadClient drives one download backend.
//
// Implementations own their backend session and serialize access to it. Status never
// fails: a job unknown to the backend is StatusUnknown and a transport failure is
// StatusError.
type DownloadClient interface {
	// Name identifies the backend, e.g. "transmission".
	Name() string
	// Protocol is the job family this backend serves.
	Protocol() torrent.Protocol

	Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error)
	Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error
	Status(ctx context.Context, t *torrent.Torrent) torrent.Status
	Pause(ctx context.Context, t *torrent.Torrent) error
	Resume(ctx context.Context, t *torrent.Torrent) error
}

// DownloadDir returns where a job's payload is placed under root.
func DownloadDir(root, title string) string {
	title = strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(title))
	if title == "" || title == "." || title == ".." {
		title = "untitled"
	}

	return filepath.Join(root, title)
}

// IsTransportError reports whether err was raised by the network layer rather than
// by a backend answer.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Unavailable wraps err as a transport failure of operation.
func Unavailable(backend, operation string, err error) error {
	return &torrent.BackendUnavailableError{Backend: backend, Operation: operation, Err: err}
}

// SubmitError classifies a failed add call: transport failures are
// BackendUnavailableError, everything else is a refusal by the backend.
func SubmitError(backend, title string, err error) error {
	if IsTransportError(err) {
		return Unavailable(backend, "submit", err)
	}

	return &torrent.BackendRejectedError{Backend: backend, Title: title, Reason: err.Error(), Err: err}
}
