package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/telemetry"
	"github.com/italolelis/mediamanager/internal/torrent"
)

// InstrumentedTorrentRepository wraps TorrentRepository with telemetry.
type InstrumentedTorrentRepository struct {
	repo      *TorrentRepository
	telemetry *telemetry.Telemetry
}

var _ storage.TorrentRepository = (*InstrumentedTorrentRepository)(nil)

// NewInstrumentedTorrentRepository creates a new instrumented torrent repository.
func NewInstrumentedTorrentRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTorrentRepository {
	return &InstrumentedTorrentRepository{
		repo:      NewTorrentRepository(dbConn),
		telemetry: tel,
	}
}

// Get retrieves a torrent with telemetry.
func (r *InstrumentedTorrentRepository) Get(ctx context.Context, hash string) (*torrent.Torrent, error) {
	var result *torrent.Torrent

	err := r.telemetry.InstrumentDBOperation(ctx, "get_torrent", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Get(ctx, hash)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// List retrieves all torrents with telemetry.
func (r *InstrumentedTorrentRepository) List(ctx context.Context) ([]*torrent.Torrent, error) {
	var result []*torrent.Torrent

	err := r.telemetry.InstrumentDBOperation(ctx, "list_torrents", func(ctx context.Context) error {
		var err error
		result, err = r.repo.List(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Save stores a torrent with telemetry.
func (r *InstrumentedTorrentRepository) Save(ctx context.Context, t *torrent.Torrent) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_torrent", func(ctx context.Context) error {
		return r.repo.Save(ctx, t)
	})
}

// UpdateStatus records a new status with telemetry.
func (r *InstrumentedTorrentRepository) UpdateStatus(ctx context.Context, hash string, status torrent.Status) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_torrent_status", func(ctx context.Context) error {
		return r.repo.UpdateStatus(ctx, hash, status)
	})
}

// Delete removes a torrent with telemetry.
func (r *InstrumentedTorrentRepository) Delete(ctx context.Context, hash string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_torrent", func(ctx context.Context) error {
		return r.repo.Delete(ctx, hash)
	})
}
