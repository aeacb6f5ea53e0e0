package storage

import (
	"context"
	"errors"

	"github.com/italolelis/mediamanager/internal/torrent"
)

// ErrNotFound is returned when no record exists for a hash.
var ErrNotFound = errors.New("torrent not found")

// TorrentReadRepository loads persisted torrents.
type TorrentReadRepository interface {
	Get(ctx context.Context, hash string) (*torrent.Torrent, error)
	List(ctx context.Context) ([]*torrent.Torrent, error)
}

// TorrentWriteRepository persists torrents. Save inserts or replaces by hash and
// Delete of an absent hash is not an error. UpdateStatus touches the status column
// only, so it never overwrites fields owned by other writers such as Imported.
type TorrentWriteRepository interface {
	Save(ctx context.Context, t *torrent.Torrent) error
	UpdateStatus(ctx context.Context, hash string, status torrent.Status) error
	Delete(ctx context.Context, hash string) error
}

type TorrentRepository interface {
	TorrentReadRepository
	TorrentWriteRepository
}
