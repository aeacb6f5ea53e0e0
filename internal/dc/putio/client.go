// Package putio drives Put.io transfers. Put.io is a remote seedbox: payload lands
// in the account's file tree, not on the local disk.
package putio

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

const name = "putio"

// StatusTable maps transfer states to the shared lifecycle.
var StatusTable = torrent.NewStatusTable(map[string]torrent.Status{
	"IN_QUEUE":            torrent.StatusDownloading,
	"WAITING":             torrent.StatusDownloading,
	"PREPARING_DOWNLOAD":  torrent.StatusDownloading,
	"DOWNLOADING":         torrent.StatusDownloading,
	"COMPLETING":          torrent.StatusDownloading,
	"SEEDING":             torrent.StatusFinished,
	"COMPLETED":           torrent.StatusFinished,
	"ERROR":               torrent.StatusError,
	"WAITING_FOR_CAPTCHA": torrent.StatusUnknown,
})

// Config holds the account settings.
type Config struct {
	Token string
	// Folder names the account directory new transfers are saved to. Empty means
	// the account root.
	Folder string

	// HTTPClient replaces the OAuth client; tests point it at a fake API.
	HTTPClient *http.Client
}

// Client is a dc.DownloadClient backed by a Put.io account.
type Client struct {
	putioClient *putio.Client
	resolver    *metainfo.Resolver
	cfg         Config

	mu sync.Mutex
}

var _ dc.DownloadClient = (*Client)(nil)

// New authenticates against the account.
func New(ctx context.Context, cfg Config, resolver *metainfo.Resolver) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, tokenSource)
	}

	return newClient(ctx, cfg, resolver, putio.NewClient(httpClient))
}

func newClient(ctx context.Context, cfg Config, resolver *metainfo.Resolver, pc *putio.Client) (*Client, error) {
	logger := logctx.LoggerFromContext(ctx)

	user, err := pc.Account.Info(ctx)
	if err != nil {
		return nil, dc.Unavailable(name, "connect", fmt.Errorf("failed to get account info: %w", err))
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return &Client{putioClient: pc, resolver: resolver, cfg: cfg}, nil
}

func (c *Client) Name() string {
	return name
}

func (c *Client) Protocol() torrent.Protocol {
	return torrent.ProtocolTorrent
}

// Submit starts a transfer. Magnets are added by URI; metadata bytes are uploaded
// as a .torrent file, which Put.io turns into a transfer.
func (c *Client) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	logger := logctx.LoggerFromContext(ctx).With("title", job.Title, "folder", c.cfg.Folder)

	src, err := c.resolver.Resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	t := torrent.New(job, src.Hash)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.find(ctx, t.Hash)
	if err != nil {
		return nil, dc.SubmitError(name, job.Title, err)
	}

	if existing != nil {
		return nil, &torrent.BackendRejectedError{Backend: name, Title: job.Title, Reason: "transfer already exists"}
	}

	var dirID int64

	if c.cfg.Folder != "" {
		if dirID, err = c.findDirectoryID(ctx, c.cfg.Folder); err != nil {
			return nil, dc.SubmitError(name, job.Title, err)
		}
	}

	if src.IsMagnet() {
		tr, err := c.putioClient.Transfers.Add(ctx, src.Magnet, dirID, "")
		if err != nil {
			return nil, dc.SubmitError(name, job.Title, err)
		}

		logger.InfoContext(ctx, "transfer added to Put.io", "transfer_id", tr.ID, "hash", t.Hash)
	} else {
		filename := t.Hash + ".torrent"

		upload, err := c.putioClient.Files.Upload(ctx, bytes.NewReader(src.Raw), filename, dirID)
		if err != nil {
			return nil, dc.SubmitError(name, job.Title, err)
		}

		if upload.Transfer == nil {
			return nil, &torrent.BackendRejectedError{
				Backend: name,
				Title:   job.Title,
				Reason:  "Put.io did not create a transfer from the uploaded file",
			}
		}

		logger.InfoContext(ctx, "transfer created from torrent upload", "transfer_id", upload.Transfer.ID, "hash", t.Hash)
	}

	t.Status = c.status(ctx, t.Hash)

	return t, nil
}

// Remove cancels the transfer and, when asked, deletes the files it produced.
func (c *Client) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	logger := logctx.LoggerFromContext(ctx).With("hash", t.Hash)

	c.mu.Lock()
	defer c.mu.Unlock()

	tr, err := c.find(ctx, t.Hash)
	if err != nil {
		return dc.Unavailable(name, "remove", err)
	}

	if tr == nil {
		logger.DebugContext(ctx, "transfer already gone")

		return nil
	}

	if err := c.putioClient.Transfers.Cancel(ctx, tr.ID); err != nil {
		return dc.Unavailable(name, "remove", fmt.Errorf("failed to remove transfer: %w", err))
	}

	if deleteData && tr.FileID != 0 {
		if err := c.putioClient.Files.Delete(ctx, tr.FileID); err != nil {
			return dc.Unavailable(name, "remove", fmt.Errorf("failed to delete transfer files: %w", err))
		}

		logger.InfoContext(ctx, "transfer files deleted", "file_id", tr.FileID)
	}

	return nil
}

func (c *Client) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status(ctx, t.Hash)
}

// Pause is not offered by Put.io.
func (c *Client) Pause(_ context.Context, t *torrent.Torrent) error {
	return &torrent.BackendRejectedError{Backend: name, Title: t.Title, Reason: "operation not supported"}
}

// Resume is not offered by Put.io.
func (c *Client) Resume(_ context.Context, t *torrent.Torrent) error {
	return &torrent.BackendRejectedError{Backend: name, Title: t.Title, Reason: "operation not supported"}
}

func (c *Client) status(ctx context.Context, hash string) torrent.Status {
	tr, err := c.find(ctx, hash)
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to list transfers", "hash", hash, "err", err)

		return torrent.StatusError
	}

	if tr == nil {
		return torrent.StatusUnknown
	}

	return StatusTable.Normalize(tr.Status, tr.ErrorMessage != "")
}

// find matches transfers on their source, which embeds the info-hash for magnets
// and the uploaded file name for metadata uploads.
func (c *Client) find(ctx context.Context, hash string) (*putio.Transfer, error) {
	transfers, err := c.putioClient.Transfers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfers: %w", err)
	}

	for i := range transfers {
		if strings.Contains(strings.ToLower(transfers[i].Source), hash) {
			return &transfers[i], nil
		}
	}

	return nil, nil
}

func (c *Client) findDirectoryID(ctx context.Context, folder string) (int64, error) {
	search, err := c.putioClient.Files.Search(ctx, folder, 1)
	if err != nil {
		return 0, fmt.Errorf("error searching for directory: %w", err)
	}

	if len(search.Files) == 0 {
		return 0, fmt.Errorf("directory not found: %s", folder)
	}

	if !search.Files[0].IsDir() {
		return 0, fmt.Errorf("search result is not a directory: %s", folder)
	}

	return search.Files[0].ID, nil
}
