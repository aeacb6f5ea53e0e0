// Package dctest provides an in-memory download client for tests.
package dctest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"

	"github.com/italolelis/mediamanager/internal/torrent"
)

// Client is an in-memory DownloadClient. Fingerprints are SHA-1 over the job's
// download URL so tests can predict them with Hash.
type Client struct {
	ClientName string
	Proto      torrent.Protocol

	// SubmitErr, when set, is returned by Submit.
	SubmitErr error
	// Unavailable makes Status report StatusError and mutating calls fail.
	Unavailable bool

	mu       sync.Mutex
	states   map[string]torrent.Status
	paused   map[string]bool
	removed  []string
	statuses []string
}

// NewClient returns a fake serving protocol p.
func NewClient(name string, p torrent.Protocol) *Client {
	return &Client{
		ClientName: name,
		Proto:      p,
		states:     make(map[string]torrent.Status),
		paused:     make(map[string]bool),
	}
}

// Hash returns the fingerprint the fake derives for locator.
func Hash(locator string) string {
	sum := sha1.Sum([]byte(locator))

	return hex.EncodeToString(sum[:])
}

func (c *Client) Name() string { return c.ClientName }
func (c *Client) Protocol() torrent.Protocol { return c.Proto }

func (c *Client) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitErr != nil {
		return nil, c.SubmitErr
	}

	t := torrent.New(job, Hash(job.DownloadURL))
	c.states[t.Hash] = torrent.StatusDownloading
	t.Status = c.states[t.Hash]

	return t, nil
}

func (c *Client) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Unavailable {
		return &torrent.BackendUnavailableError{Backend: c.ClientName, Operation: "remove"}
	}

	delete(c.states, t.Hash)
	c.removed = append(c.removed, t.Hash)

	return nil
}

func (c *Client) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses = append(c.statuses, t.Hash)

	if c.Unavailable {
		return torrent.StatusError
	}

	s, ok := c.states[t.Hash]
	if !ok {
		return torrent.StatusUnknown
	}

	return s
}

func (c *Client) Pause(ctx context.Context, t *torrent.Torrent) error {
	return c.setPaused(t, true)
}

func (c *Client) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.setPaused(t, false)
}

func (c *Client) setPaused(t *torrent.Torrent, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Unavailable {
		return &torrent.BackendUnavailableError{Backend: c.ClientName, Operation: "pause"}
	}

	if _, ok := c.states[t.Hash]; !ok {
		return &torrent.JobNotFoundError{Backend: c.ClientName, Hash: t.Hash}
	}

	c.paused[t.Hash] = paused

	return nil
}

// SetState forces the backend state of hash.
func (c *Client) SetState(hash string, s torrent.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[hash] = s
}

// Paused reports whether hash is paused.
func (c *Client) Paused(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paused[hash]
}

// Removed returns the fingerprints passed to Remove, in order.
func (c *Client) Removed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.removed...)
}

// StatusCalls returns the fingerprints passed to Status, in order.
func (c *Client) StatusCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.statuses...)
}
