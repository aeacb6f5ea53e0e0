package dc

import (
	"context"
	"fmt"
	"sort"

	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/torrent"
)

// Registry routes jobs to the client configured for their protocol. It is built once
// at start-up and never modified afterwards, so it is safe for concurrent use.
type Registry struct {
	clients map[torrent.Protocol]DownloadClient
}

// NewRegistry indexes clients by protocol. Two clients for the same protocol is a
// configuration error.
func NewRegistry(clients ...DownloadClient) (*Registry, error) {
	r := &Registry{clients: make(map[torrent.Protocol]DownloadClient, len(clients))}

	for _, c := range clients {
		if c == nil {
			continue
		}

		if existing, ok := r.clients[c.Protocol()]; ok {
			return nil, fmt.Errorf("protocol %q served by both %s and %s", c.Protocol(), existing.Name(), c.Name())
		}

		r.clients[c.Protocol()] = c
	}

	return r, nil
}

// Dispatch returns the client serving job's protocol.
func (r *Registry) Dispatch(job torrent.Job) (DownloadClient, error) {
	return r.client(job.Protocol)
}

// ForTorrent returns the client owning an already submitted torrent.
func (r *Registry) ForTorrent(t *torrent.Torrent) (DownloadClient, error) {
	return r.client(t.Protocol())
}

// Clients returns the configured clients ordered by protocol.
func (r *Registry) Clients() []DownloadClient {
	protocols := make([]string, 0, len(r.clients))
	for p := range r.clients {
		protocols = append(protocols, string(p))
	}

	sort.Strings(protocols)

	out := make([]DownloadClient, 0, len(protocols))
	for _, p := range protocols {
		out = append(out, r.clients[torrent.Protocol(p)])
	}

	return out
}

// Submit dispatches job and submits it.
func (r *Registry) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	c, err := r.Dispatch(job)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "no client for job", "title", job.Title, "protocol", job.Protocol)

		return nil, err
	}

	return c.Submit(ctx, job)
}

// Status polls the client owning t. A torrent whose protocol has no client is
// reported as unknown.
func (r *Registry) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c, err := r.ForTorrent(t)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "no client for torrent", "hash", t.Hash, "err", err)

		return torrent.StatusUnknown
	}

	return c.Status(ctx, t)
}

// Remove removes t from its backend.
func (r *Registry) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	c, err := r.ForTorrent(t)
	if err != nil {
		return err
	}

	return c.Remove(ctx, t, deleteData)
}

// Pause stops t on its backend.
func (r *Registry) Pause(ctx context.Context, t *torrent.Torrent) error {
	c, err := r.ForTorrent(t)
	if err != nil {
		return err
	}

	return c.Pause(ctx, t)
}

// Resume restarts t on its backend.
func (r *Registry) Resume(ctx context.Context, t *torrent.Torrent) error {
	c, err := r.ForTorrent(t)
	if err != nil {
		return err
	}

	return c.Resume(ctx, t)
}

func (r *Registry) client(p torrent.Protocol) (DownloadClient, error) {
	if c, ok := r.clients[p]; ok {
		return c, nil
	}

	return nil, &torrent.NoClientConfiguredError{Protocol: p}
}
