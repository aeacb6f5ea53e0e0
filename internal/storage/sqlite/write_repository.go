package sqlite

import (
	"context"
	"time"

	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/torrent"
)

// Save inserts t or replaces the stored record with the same hash.
func (r *TorrentRepository) Save(ctx context.Context, t *torrent.Torrent) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO torrents (hash, title, quality, status, imported, usenet, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			title = excluded.title,
			quality = excluded.quality,
			status = excluded.status,
			imported = excluded.imported,
			usenet = excluded.usenet,
			updated_at = excluded.updated_at
	`, t.Hash, t.Title, string(t.Quality), string(t.Status), t.Imported, t.Usenet, now, now)

	return err
}

// UpdateStatus sets the status of an existing record. It returns storage.ErrNotFound
// when no record has hash.
func (r *TorrentRepository) UpdateStatus(ctx context.Context, hash string, status torrent.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE torrents SET status = ?, updated_at = ? WHERE hash = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), hash)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// Delete removes the record for hash.
func (r *TorrentRepository) Delete(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM torrents WHERE hash = ?`, hash)

	return err
}
