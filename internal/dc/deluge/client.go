// Package deluge drives a Deluge daemon over its native RPC protocol.
package deluge

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/autobrr/go-deluge"
	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
)

const name = "deluge"

// StatusTable maps Deluge torrent states to the shared lifecycle.
var StatusTable = torrent.NewStatusTable(map[string]torrent.Status{
	"Allocating":  torrent.StatusDownloading,
	"Checking":    torrent.StatusDownloading,
	"Downloading": torrent.StatusDownloading,
	"Moving":      torrent.StatusDownloading,
	"Queued":      torrent.StatusDownloading,
	"Paused":      torrent.StatusUnknown,
	"Seeding":     torrent.StatusFinished,
})

// api is the part of the daemon client this package relies on.
type api interface {
	Connect(ctx context.Context) error
	Close() error
	DaemonVersion(ctx context.Context) (string, error)
	AddTorrentFile(ctx context.Context, fileName, fileContentBase64 string, options *deluge.Options) (string, error)
	AddTorrentMagnet(ctx context.Context, magnetURI string, options *deluge.Options) (string, error)
	RemoveTorrent(ctx context.Context, id string, rmFiles bool) (bool, error)
	PauseTorrents(ctx context.Context, ids ...string) error
	ResumeTorrents(ctx context.Context, ids ...string) error
	TorrentsStatus(ctx context.Context, state deluge.TorrentState, ids []string) (map[string]*deluge.TorrentStatus, error)
}

// Config holds the daemon connection settings.
type Config struct {
	Host     string
	Port     uint
	Username string
	Password string

	TorrentDirectory string
}

// Client is a dc.DownloadClient backed by Deluge.
type Client struct {
	api      api
	resolver *metainfo.Resolver
	cfg      Config

	mu sync.Mutex
}

var _ dc.DownloadClient = (*Client)(nil)

// New connects to the daemon. The session stays open until Close.
func New(ctx context.Context, cfg Config, resolver *metainfo.Resolver) (*Client, error) {
	return newClient(ctx, cfg, resolver, deluge.NewV2(deluge.Settings{
		Hostname: cfg.Host,
		Port:     cfg.Port,
		Login:    cfg.Username,
		Password: cfg.Password,
	}))
}

func newClient(ctx context.Context, cfg Config, resolver *metainfo.Resolver, a api) (*Client, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	version, err := a.DaemonVersion(ctx)
	if err != nil {
		_ = a.Close()

		return nil, dc.Unavailable(name, "connect", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "connected to deluge", "host", cfg.Host, "version", version)

	return &Client{api: a, resolver: resolver, cfg: cfg}, nil
}

// Close ends the daemon session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.api.Close()
}

func (c *Client) Name() string {
	return name
}

func (c *Client) Protocol() torrent.Protocol {
	return torrent.ProtocolTorrent
}

func (c *Client) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	src, err := c.resolver.Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	t := torrent.New(job, src.Hash)

	dir := dc.DownloadDir(c.cfg.TorrentDirectory, job.Title)
	opts := &deluge.Options{DownloadLocation: &dir}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.get(ctx, t.Hash)
	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	if existing != nil {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: "torrent already added"}
	}

	if src.IsMagnet() {
		_, err = c.api.AddTorrentMagnet(ctx, src.Magnet, opts)
	} else {
		_, err = c.api.AddTorrentFile(ctx, t.Hash+".torrent", base64.StdEncoding.EncodeToString(src.Raw), opts)
	}

	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	t.Status = c.status(ctx, t.Hash)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "torrent submitted",
		"title", job.Title, "hash", t.Hash, "status", t.Status)

	return t, nil
}

func (c *Client) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.get(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, "remove", err)
	}

	if existing == nil {
		return nil
	}

	if _, err := c.api.RemoveTorrent(ctx, t.Hash, deleteData); err != nil {
		return dc.Unavailable(name, "remove", err)
	}

	return nil
}

func (c *Client) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status(ctx, t.Hash)
}

func (c *Client) Pause(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "pause", t, c.api.PauseTorrents)
}

func (c *Client) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "resume", t, c.api.ResumeTorrents)
}

func (c *Client) toggle(ctx context.Context, op string, t *torrent.Torrent, fn func(context.Context, ...string) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.get(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, op, err)
	}

	if existing == nil {
		return &torrent.JobNotFoundError{Backend: name, Hash: t.Hash}
	}

	if err := fn(ctx, t.Hash); err != nil {
		return dc.Unavailable(name, op, err)
	}

	return nil
}

func (c *Client) status(ctx context.Context, hash string) torrent.Status {
	found, err := c.get(ctx, hash)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to query torrent", "hash", hash, "err", err)

		return torrent.StatusError
	}

	if found == nil {
		return torrent.StatusUnknown
	}

	return StatusTable.Normalize(found.State, found.State == "Error")
}

func (c *Client) get(ctx context.Context, hash string) (*deluge.TorrentStatus, error) {
	statuses, err := c.api.TorrentsStatus(ctx, deluge.StateUnspecified, []string{hash})
	if err != nil {
		return nil, err
	}

	return statuses[hash], nil
}
