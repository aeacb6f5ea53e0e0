// Package sabnzbd drives a SABnzbd instance through its HTTP API.
package sabnzbd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	name = "sabnzbd"

	// DefaultPath is the URL base of a stock install.
	DefaultPath = "/sabnzbd"
)

// StatusTable maps queue and history states to the shared lifecycle.
var StatusTable = torrent.NewStatusTable(map[string]torrent.Status{
	"Queued":      torrent.StatusDownloading,
	"Downloading": torrent.StatusDownloading,
	"Fetching":    torrent.StatusDownloading,
	"Grabbing":    torrent.StatusDownloading,
	"Propagating": torrent.StatusDownloading,
	"Checking":    torrent.StatusDownloading,
	"QuickCheck":  torrent.StatusDownloading,
	"Verifying":   torrent.StatusDownloading,
	"Repairing":   torrent.StatusDownloading,
	"Extracting":  torrent.StatusDownloading,
	"Moving":      torrent.StatusDownloading,
	"Running":     torrent.StatusDownloading,
	"Paused":      torrent.StatusUnknown,
	"Completed":   torrent.StatusFinished,
})

// Config holds the API connection settings.
type Config struct {
	Host     string
	Port     int
	APIKey   string
	UseSSL   bool
	Path     string
	Category string

	HTTPClient *http.Client
}

func (c Config) endpoint() string {
	scheme := "http"
	if c.UseSSL {
		scheme = "https"
	}

	path := strings.TrimSuffix(c.Path, "/")
	if path == "" {
		path = DefaultPath
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("%s://%s:%d%s/api", scheme, c.Host, c.Port, path)
}

// Client is a dc.DownloadClient backed by SABnzbd. Jobs are submitted under their
// fingerprint as nzbname, which is how they are found again in queue and history.
type Client struct {
	cfg        Config
	resolver   *metainfo.Resolver
	httpClient *http.Client
	endpoint   string

	mu sync.Mutex
}

var _ dc.DownloadClient = (*Client)(nil)

// New checks the API answers and accepts the key.
func New(ctx context.Context, cfg Config, resolver *metainfo.Resolver) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c := &Client{
		cfg:        cfg,
		resolver:   resolver,
		httpClient: httpClient,
		endpoint:   cfg.endpoint(),
	}

	var version versionResponse
	if err := c.get(ctx, "version", nil, &version); err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	var queue queueResponse
	if err := c.get(ctx, "queue", url.Values{"limit": {"1"}}, &queue); err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	if err := queue.err("queue"); err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "connected to sabnzbd", "endpoint", c.endpoint, "version", version.Version)

	return c, nil
}

func (c *Client) Name() string {
	return name
}

func (c *Client) Protocol() torrent.Protocol {
	return torrent.ProtocolUsenet
}

// Submit uploads the NZB document.
func (c *Client) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	src, err := c.resolver.Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	if src.IsMagnet() {
		return nil, &torrent.MalformedMetadataError{Source: job.DownloadURL, Reason: "magnet reference given for usenet job"}
	}

	t := torrent.New(job, src.Hash)
	t.Usenet = true

	params := url.Values{"nzbname": {t.Hash}}
	if c.cfg.Category != "" {
		params.Set("cat", c.cfg.Category)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q, h, err := c.find(ctx, t.Hash)
	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	if q != nil || h != nil {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: "job already queued"}
	}

	var added addResponse
	if err := c.upload(ctx, t.Hash+".nzb", src.Raw, params, &added); err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	if err := added.err("addfile"); err != nil {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: err.Error(), Err: err}
	}

	if len(added.NzoIDs) == 0 {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: "no job created"}
	}

	t.Status = c.status(ctx, t.Hash)

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "nzb submitted",
		"title", job.Title, "hash", t.Hash, "nzo_id", added.NzoIDs[0], "status", t.Status)

	return t, nil
}

// Remove deletes the job from the queue or history, whichever holds it.
func (c *Client) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, h, err := c.find(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, "remove", err)
	}

	delFiles := "0"
	if deleteData {
		delFiles = "1"
	}

	if q != nil {
		if err := c.command(ctx, "queue", "delete", q.NzoID, url.Values{"del_files": {delFiles}}); err != nil {
			return c.opError("remove", t, err)
		}
	}

	if h != nil {
		if err := c.command(ctx, "history", "delete", h.NzoID, url.Values{"del_files": {delFiles}}); err != nil {
			return c.opError("remove", t, err)
		}
	}

	return nil
}

func (c *Client) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status(ctx, t.Hash)
}

// Pause holds a queued job. Jobs already in history cannot be paused.
func (c *Client) Pause(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "pause", t)
}

func (c *Client) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "resume", t)
}

func (c *Client) toggle(ctx context.Context, op string, t *torrent.Torrent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, _, err := c.find(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, op, err)
	}

	if q == nil {
		return &torrent.JobNotFoundError{Backend: name, Hash: t.Hash}
	}

	if err := c.command(ctx, "queue", op, q.NzoID, nil); err != nil {
		return c.opError(op, t, err)
	}

	return nil
}

func (c *Client) status(ctx context.Context, hash string) torrent.Status {
	q, h, err := c.find(ctx, hash)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to query job", "hash", hash, "err", err)

		return torrent.StatusError
	}

	switch {
	case q != nil:
		return StatusTable.Normalize(q.Status, false)
	case h != nil:
		return StatusTable.Normalize(h.Status, h.Status == "Failed" || h.FailMessage != "")
	}

	return torrent.StatusUnknown
}

// find looks the job up in the queue first, then in history.
func (c *Client) find(ctx context.Context, hash string) (*queueSlot, *historySlot, error) {
	search := url.Values{"search": {hash}}

	var queue queueResponse
	if err := c.get(ctx, "queue", search, &queue); err != nil {
		return nil, nil, err
	}

	if err := queue.err("queue"); err != nil {
		return nil, nil, err
	}

	for i := range queue.Queue.Slots {
		if queue.Queue.Slots[i].Filename == hash {
			return &queue.Queue.Slots[i], nil, nil
		}
	}

	var history historyResponse
	if err := c.get(ctx, "history", search, &history); err != nil {
		return nil, nil, err
	}

	if err := history.err("history"); err != nil {
		return nil, nil, err
	}

	for i := range history.History.Slots {
		if history.History.Slots[i].Name == hash {
			return nil, &history.History.Slots[i], nil
		}
	}

	return nil, nil, nil
}

func (c *Client) command(ctx context.Context, mode, action, nzoID string, extra url.Values) error {
	params := url.Values{"name": {action}, "value": {nzoID}}
	for k, v := range extra {
		params[k] = v
	}

	var resp statusResponse
	if err := c.get(ctx, mode, params, &resp); err != nil {
		return err
	}

	return resp.err(mode)
}

func (c *Client) opError(op string, t *torrent.Torrent, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return &torrent.BackendRejectedError{Backend: name, Title: t.Title, Reason: apiErr.Message, Err: err}
	}

	return dc.Unavailable(name, op, err)
}
