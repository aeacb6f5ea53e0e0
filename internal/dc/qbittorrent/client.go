// Package qbittorrent drives qBittorrent through its WebUI API.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
)

const name = "qbittorrent"

// minVersion is the first release exposing the v2 WebUI API.
var minVersion = semver.MustParse("4.1.0")

// StatusTable maps qBittorrent torrent states to the shared lifecycle.
var StatusTable = torrent.NewStatusTable(map[string]torrent.Status{
	"allocating":         torrent.StatusDownloading,
	"checkingDL":         torrent.StatusDownloading,
	"checkingResumeData": torrent.StatusDownloading,
	"downloading":        torrent.StatusDownloading,
	"forcedDL":           torrent.StatusDownloading,
	"forcedMetaDL":       torrent.StatusDownloading,
	"metaDL":             torrent.StatusDownloading,
	"moving":             torrent.StatusDownloading,
	"queuedDL":           torrent.StatusDownloading,
	"stalledDL":          torrent.StatusDownloading,
	"pausedDL":           torrent.StatusUnknown,
	"stoppedDL":          torrent.StatusUnknown,
	"checkingUP":         torrent.StatusFinished,
	"forcedUP":           torrent.StatusFinished,
	"pausedUP":           torrent.StatusFinished,
	"queuedUP":           torrent.StatusFinished,
	"stalledUP":          torrent.StatusFinished,
	"stoppedUP":          torrent.StatusFinished,
	"uploading":          torrent.StatusFinished,
})

// api is the part of the WebUI client this package relies on.
type api interface {
	LoginCtx(ctx context.Context) error
	GetAppVersionCtx(ctx context.Context) (string, error)
	AddTorrentFromMemoryCtx(ctx context.Context, buf []byte, options map[string]string) error
	AddTorrentFromUrlCtx(ctx context.Context, url string, options map[string]string) error
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	PauseCtx(ctx context.Context, hashes []string) error
	ResumeCtx(ctx context.Context, hashes []string) error
}

// Config holds the WebUI connection settings.
type Config struct {
	Host      string
	Username  string
	Password  string
	BasicUser string
	BasicPass string
	Category  string

	TorrentDirectory string
}

// Client is a dc.DownloadClient backed by qBittorrent.
type Client struct {
	api      api
	resolver *metainfo.Resolver
	cfg      Config

	mu sync.Mutex
}

var _ dc.DownloadClient = (*Client)(nil)

// New logs into the WebUI and checks the daemon is recent enough.
func New(ctx context.Context, cfg Config, resolver *metainfo.Resolver) (*Client, error) {
	return newClient(ctx, cfg, resolver, qbt.NewClient(qbt.Config{
		Host:      cfg.Host,
		Username:  cfg.Username,
		Password:  cfg.Password,
		BasicUser: cfg.BasicUser,
		BasicPass: cfg.BasicPass,
	}))
}

func newClient(ctx context.Context, cfg Config, resolver *metainfo.Resolver, a api) (*Client, error) {
	if err := a.LoginCtx(ctx); err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	raw, err := a.GetAppVersionCtx(ctx)
	if err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, dc.Unavailable(name, "connect", fmt.Errorf("unparsable version %q: %w", raw, err))
	}

	if v.LessThan(minVersion) {
		return nil, dc.Unavailable(name, "connect", fmt.Errorf("version %s is older than %s", v, minVersion))
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "connected to qbittorrent", "host", cfg.Host, "version", v.String())

	return &Client{api: a, resolver: resolver, cfg: cfg}, nil
}

func (c *Client) Name() string {
	return name
}

func (c *Client) Protocol() torrent.Protocol {
	return torrent.ProtocolTorrent
}

// Submit adds the job under its own save path. A torrent the daemon already holds
// is refused instead of being silently merged.
func (c *Client) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	src, err := c.resolver.Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	t := torrent.New(job, src.Hash)

	opts := map[string]string{
		"savepath": dc.DownloadDir(c.cfg.TorrentDirectory, job.Title),
		"autoTMM":  "false",
	}
	if c.cfg.Category != "" {
		opts["category"] = c.cfg.Category
	}

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
		err = c.api.AddTorrentFromUrlCtx(ctx, src.Magnet, opts)
	} else {
		err = c.api.AddTorrentFromMemoryCtx(ctx, src.Raw, opts)
	}

	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	t.Status = c.status(ctx, t.Hash)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "torrent submitted",
		"title", job.Title, "hash", t.Hash, "status", t.Status)

	return t, nil
}

// Remove deletes the torrent if the daemon still knows it.
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

	if err := c.api.DeleteTorrentsCtx(ctx, []string{t.Hash}, deleteData); err != nil {
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
	return c.toggle(ctx, "pause", t, c.api.PauseCtx)
}

func (c *Client) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "resume", t, c.api.ResumeCtx)
}

func (c *Client) toggle(ctx context.Context, op string, t *torrent.Torrent, fn func(context.Context, []string) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.get(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, op, err)
	}

	if existing == nil {
		return &torrent.JobNotFoundError{Backend: name, Hash: t.Hash}
	}

	if err := fn(ctx, []string{t.Hash}); err != nil {
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

	state := string(found.State)

	return StatusTable.Normalize(state, state == "error" || state == "missingFiles")
}

func (c *Client) get(ctx context.Context, hash string) (*qbt.Torrent, error) {
	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
	if err != nil {
		return nil, err
	}

	for i := range torrents {
		if strings.EqualFold(torrents[i].Hash, hash) {
			return &torrents[i], nil
		}
	}

	return nil, nil
}
