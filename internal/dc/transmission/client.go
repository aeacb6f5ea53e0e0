// Package transmission drives a Transmission daemon over its JSON-RPC interface.
package transmission

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
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
	name = "transmission"

	// DefaultPath is the RPC endpoint of a stock daemon.
	DefaultPath = "/transmission/rpc"
)

// Daemon status codes, in the order the RPC reports them.
var statusTokens = []string{
	"stopped",
	"check pending",
	"checking",
	"download pending",
	"downloading",
	"seed pending",
	"seeding",
}

// StatusTable maps Transmission states to the shared lifecycle. A stopped torrent
// has not failed and is not finished, so it is reported as unknown.
var StatusTable = torrent.NewStatusTable(map[string]torrent.Status{
	"stopped":          torrent.StatusUnknown,
	"check pending":    torrent.StatusDownloading,
	"checking":         torrent.StatusDownloading,
	"download pending": torrent.StatusDownloading,
	"downloading":      torrent.StatusDownloading,
	"seed pending":     torrent.StatusFinished,
	"seeding":          torrent.StatusFinished,
})

// Config holds the daemon connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	HTTPS    bool
	Path     string

	// TorrentDirectory is the root under which every job gets its own directory.
	TorrentDirectory string

	HTTPClient *http.Client
}

func (c Config) endpoint() string {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}

	path := c.Path
	if path == "" {
		path = DefaultPath
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("%s://%s:%d%s", scheme, c.Host, c.Port, path)
}

// Client is a dc.DownloadClient backed by Transmission.
type Client struct {
	cfg        Config
	resolver   *metainfo.Resolver
	httpClient *http.Client
	endpoint   string

	// mu serializes RPC calls and guards sessionID.
	mu        sync.Mutex
	sessionID string
}

var _ dc.DownloadClient = (*Client)(nil)

// New connects to the daemon and fails with BackendUnavailableError when it cannot
// be reached or refuses the credentials.
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

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.call(ctx, "session-stats", nil, nil); err != nil {
		return nil, dc.Unavailable(name, "connect", err)
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "connected to transmission", "endpoint", c.endpoint)

	return c, nil
}

func (c *Client) Name() string {
	return name
}

func (c *Client) Protocol() torrent.Protocol {
	return torrent.ProtocolTorrent
}

// Submit resolves the job metadata and hands it to the daemon. Magnet sources are
// passed by URI, everything else as base64 metainfo.
func (c *Client) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	logger := logctx.LoggerFromContext(ctx).With("title", job.Title)

	src, err := c.resolver.Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	t := torrent.New(job, src.Hash)

	args := addArgs{DownloadDir: dc.DownloadDir(c.cfg.TorrentDirectory, job.Title)}
	if src.IsMagnet() {
		args.Filename = src.Magnet
	} else {
		args.MetaInfo = base64.StdEncoding.EncodeToString(src.Raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var added addResult
	if err := c.call(ctx, "torrent-add", args, &added); err != nil {
		var rpcErr *rpcError
		if errors.As(err, &rpcErr) {
			return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: rpcErr.Result, Err: err}
		}

		return nil, dc.SubmitError(name, job.Title, err)
	}

	if added.Duplicate != nil {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: "torrent already added"}
	}

	if added.Added != nil && added.Added.HashString != "" && !strings.EqualFold(added.Added.HashString, t.Hash) {
		logger.WarnContext(ctx, "daemon reported a different hash", "hash", t.Hash, "daemon_hash", added.Added.HashString)
	}

	t.Status = c.status(ctx, t.Hash)

	logger.InfoContext(ctx, "torrent submitted", "hash", t.Hash, "status", t.Status, "magnet", src.IsMagnet())

	return t, nil
}

// Remove deletes the torrent. The daemon ignores ids it does not know, which makes
// a repeated removal a no-op.
func (c *Client) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	args := removeArgs{IDs: []string{t.Hash}, DeleteLocalData: deleteData}
	if err := c.call(ctx, "torrent-remove", args, nil); err != nil {
		return c.opError("remove", t, err)
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "torrent removed", "hash", t.Hash, "delete_data", deleteData)

	return nil
}

// Status reports the normalized state of t.
func (c *Client) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status(ctx, t.Hash)
}

// Pause stops the torrent.
func (c *Client) Pause(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "torrent-stop", "pause", t)
}

// Resume starts the torrent again.
func (c *Client) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.toggle(ctx, "torrent-start", "resume", t)
}

func (c *Client) toggle(ctx context.Context, method, op string, t *torrent.Torrent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	found, err := c.get(ctx, t.Hash)
	if err != nil {
		return c.opError(op, t, err)
	}

	if found == nil {
		return &torrent.JobNotFoundError{Backend: name, Hash: t.Hash}
	}

	if err := c.call(ctx, method, idsArgs{IDs: []string{t.Hash}}, nil); err != nil {
		return c.opError(op, t, err)
	}

	return nil
}

// status must be called with c.mu held.
func (c *Client) status(ctx context.Context, hash string) torrent.Status {
	found, err := c.get(ctx, hash)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to query torrent", "hash", hash, "err", err)

		return torrent.StatusError
	}

	if found == nil {
		return torrent.StatusUnknown
	}

	if found.Error != 0 {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "torrent reports an error",
			"hash", hash, "code", found.Error, "reason", found.ErrorString)
	}

	return StatusTable.Normalize(statusToken(found.Status), found.Error != 0)
}

func (c *Client) get(ctx context.Context, hash string) (*rpcTorrent, error) {
	var res getResult
	if err := c.call(ctx, "torrent-get", getArgs{IDs: []string{hash}, Fields: torrentFields}, &res); err != nil {
		return nil, err
	}

	for i := range res.Torrents {
		if strings.EqualFold(res.Torrents[i].HashString, hash) {
			return &res.Torrents[i], nil
		}
	}

	return nil, nil
}

func (c *Client) opError(op string, t *torrent.Torrent, err error) error {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		return &torrent.BackendRejectedError{Backend: name, Title: t.Title, Reason: rpcErr.Result, Err: err}
	}

	return dc.Unavailable(name, op, err)
}

func statusToken(code int) string {
	if code < 0 || code >= len(statusTokens) {
		return fmt.Sprintf("status %d", code)
	}

	return statusTokens[code]
}
