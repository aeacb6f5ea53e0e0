package torrent

import (
	"errors"
	"fmt"
	"testing"
)

func TestMalformedMetadataError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *MalformedMetadataError
		want string
	}{
		{
			name: "with source",
			err:  &MalformedMetadataError{Source: "http://indexer/1.torrent", Reason: "missing info dictionary"},
			want: "malformed metadata from http://indexer/1.torrent: missing info dictionary",
		},
		{
			name: "without source",
			err:  &MalformedMetadataError{Reason: "empty"},
			want: "malformed metadata: empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSourceUnreachableError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SourceUnreachableError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &SourceUnreachableError{Source: "http://x", StatusCode: 503},
			want: "source http://x unreachable (HTTP 503)",
		},
		{
			name: "with transport error",
			err:  &SourceUnreachableError{Source: "http://x", Err: errors.New("connection refused")},
			want: "source http://x unreachable: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBackendErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "rejected with title",
			err:  &BackendRejectedError{Backend: "transmission", Title: "Show S01", Reason: "duplicate torrent"},
			want: `transmission rejected "Show S01": duplicate torrent`,
		},
		{
			name: "rejected without title",
			err:  &BackendRejectedError{Backend: "putio", Reason: "operation not supported"},
			want: "putio rejected request: operation not supported",
		},
		{
			name: "unavailable",
			err:  &BackendUnavailableError{Backend: "deluge", Operation: "pause", Err: errors.New("eof")},
			want: "deluge unavailable during pause: eof",
		},
		{
			name: "not found",
			err:  &JobNotFoundError{Backend: "qbittorrent", Hash: "abc"},
			want: "qbittorrent has no job abc",
		},
		{
			name: "no client",
			err:  &NoClientConfiguredError{Protocol: ProtocolUsenet},
			want: `no download client configured for protocol "usenet"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrors_Unwrap(t *testing.T) {
	base := errors.New("underlying")

	tests := []struct {
		name string
		err  error
	}{
		{"malformed", &MalformedMetadataError{Reason: "x", Err: base}},
		{"unreachable", &SourceUnreachableError{Source: "x", Err: base}},
		{"rejected", &BackendRejectedError{Backend: "x", Reason: "x", Err: base}},
		{"unavailable", &BackendUnavailableError{Backend: "x", Operation: "x", Err: base}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("submit: %w", tt.err)
			if !errors.Is(wrapped, base) {
				t.Errorf("errors.Is did not find underlying error through %T", tt.err)
			}
		})
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"source unreachable", &SourceUnreachableError{Source: "x"}, true},
		{"backend unavailable", fmt.Errorf("wrapped: %w", &BackendUnavailableError{Backend: "x"}), true},
		{"malformed", &MalformedMetadataError{Reason: "x"}, false},
		{"rejected", &BackendRejectedError{Backend: "x"}, false},
		{"not found", &JobNotFoundError{Backend: "x"}, false},
		{"no client", &NoClientConfiguredError{}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.want {
				t.Errorf("IsRetriable() = %v, want %v", got, tt.want)
			}
		})
	}
}
