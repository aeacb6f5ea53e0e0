// Package rtorrent drives rTorrent over XML-RPC.
package rtorrent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/autobrr/go-rtorrent"
	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
)

const name = "rtorrent"

// StatusTable maps rTorrent completion to the shared lifecycle. The daemon has no
// finer state than complete or not.
var StatusTable = torrent.NewStatusTable(map[string]torrent.Status{
	"leeching": torrent.StatusDownloading,
	"complete": torrent.StatusFinished,
})

// api is the part of the XML-RPC client this package relies on.
type api interface {
	Name(ctx context.Context) (string, error)
	Add(ctx context.Context, url string, extraArgs ...*rtorrent.FieldValue) error
	AddTorrent(ctx context.Context, data []byte, extraArgs ...*rtorrent.FieldValue) error
	GetTorrent(ctx context.Context, hash string) (rtorrent.Torrent, error)
	GetStatus(ctx context.Context, t rtorrent.Torrent) (rtorrent.Status, error)
	Delete(ctx context.Context, t rtorrent.Torrent) error
	StartTorrent(ctx context.Context, t rtorrent.Torrent) error
	StopTorrent(ctx context.Context, t rtorrent.Torrent) error
}

// directory sets d.directory on load.
const directory = rtorrent.Field("d.directory")

// Config holds the XML-RPC connection settings.
type Config struct {
	Addr      string
	BasicUser string
	BasicPass string
	Label     string

	TorrentDirectory string
}

// Client is a dc.DownloadClient backed by rTorrent.
type Client struct {
	api      api
	resolver *metainfo.Resolver
	cfg      Config

	mu sync.Mutex
}

var _ dc.DownloadClient = (*Client)(nil)

// New checks the XML-RPC endpoint answers before returning the client.
func New(ctx context.Context, cfg Config, resolver *metainfo.Resolver) (*Client, error) {
	return newClient(ctx, cfg, resolver, rtorrent.NewClient(rtorrent.Config{
		Addr:      cfg.Addr,
		BasicUser: cfg.BasicUser,
		BasicPass: cfg.BasicPass,
	}))
}

func newClient(ctx context.Context, cfg Config, resolver *metainfo.Resolver, a api) (*Client, error) {
	session, err := a.Name(ctx)
	if err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "connected to rtorrent", "addr", cfg.Addr, "session", session)

	return &Client{api: a, resolver: resolver, cfg: cfg}, nil
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

	args := []*rtorrent.FieldValue{directory.SetValue(dc.DownloadDir(c.cfg.TorrentDirectory, job.Title))}
	if c.cfg.Label != "" {
		args = append(args, rtorrent.DLabel.SetValue(c.cfg.Label))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, found, err := c.get(ctx, t.Hash)
	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	if found {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: "torrent already added"}
	}

	if src.IsMagnet() {
		err = c.api.Add(ctx, src.Magnet, args...)
	} else {
		err = c.api.AddTorrent(ctx, src.Raw, args...)
	}

	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	t.Status = c.status(ctx, t.Hash)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "torrent submitted",
		"title", job.Title, "hash", t.Hash, "status", t.Status)

	return t, nil
}

// Remove erases the torrent. rTorrent never deletes payload itself, so data is
// removed from the job directory here.
func (c *Client) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rt, found, err := c.get(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, "remove", err)
	}

	if found {
		if err := c.api.Delete(ctx, rt); err != nil {
			return dc.Unavailable(name, "remove", err)
		}
	}

	if !deleteData {
		return nil
	}

	dir := dc.DownloadDir(c.cfg.TorrentDirectory, t.Title)
	if err := os.RemoveAll(dir); err != nil {
		return dc.Unavailable(name, "delete data", fmt.Errorf("failed to delete %s: %w", dir, err))
	}

	return nil
}

func (c *Client) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status(ctx, t.Hash)
}

func (c *Client) Pause(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "pause", t, c.api.StopTorrent)
}

func (c *Client) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "resume", t, c.api.StartTorrent)
}

func (c *Client) toggle(ctx context.Context, op string, t *torrent.Torrent, fn func(context.Context, rtorrent.Torrent) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rt, found, err := c.get(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, op, err)
	}

	if !found {
		return &torrent.JobNotFoundError{Backend: name, Hash: t.Hash}
	}

	if err := fn(ctx, rt); err != nil {
		return dc.Unavailable(name, op, err)
	}

	return nil
}

func (c *Client) status(ctx context.Context, hash string) torrent.Status {
	logger := logctx.LoggerFromContext(ctx)

	rt, found, err := c.get(ctx, hash)
	if err != nil {
		logger.WarnContext(ctx, "failed to query torrent", "hash", hash, "err", err)

		return torrent.StatusError
	}

	if !found {
		return torrent.StatusUnknown
	}

	st, err := c.api.GetStatus(ctx, rt)
	if err != nil {
		logger.WarnContext(ctx, "failed to query torrent status", "hash", hash, "err", err)

		return torrent.StatusError
	}

	token := "leeching"
	if st.Completed {
		token = "complete"
	}

	return StatusTable.Normalize(token, false)
}

// get looks the torrent up by hash. rTorrent keys torrents by uppercase hash and
// answers an unknown one with a fault.
func (c *Client) get(ctx context.Context, hash string) (rtorrent.Torrent, bool, error) {
	rt, err := c.api.GetTorrent(ctx, strings.ToUpper(hash))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "could not find info-hash") {
			return rtorrent.Torrent{}, false, nil
		}

		return rtorrent.Torrent{}, false, err
	}

	return rt, true, nil
}
