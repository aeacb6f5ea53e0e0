package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/torrent"
)

// Get returns the torrent stored under hash, or storage.ErrNotFound.
func (r *TorrentRepository) Get(ctx context.Context, hash string) (*torrent.Torrent, error) {
	row := r.db.QueryRowContext(ctx, selectTorrents+` WHERE hash = ?`, hash)

	t, err := scanTorrent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	return t, err
}

// List returns every stored torrent, oldest first.
func (r *TorrentRepository) List(ctx context.Context) ([]*torrent.Torrent, error) {
	rows, err := r.db.QueryContext(ctx, selectTorrents+` ORDER BY created_at, hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var torrents []*torrent.Torrent

	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}

		torrents = append(torrents, t)
	}

	return torrents, rows.Err()
}

func scanTorrent(s scanner) (*torrent.Torrent, error) {
	var (
		t       torrent.Torrent
		quality string
		status  string
	)

	if err := s.Scan(&t.Hash, &t.Title, &quality, &status, &t.Imported, &t.Usenet); err != nil {
		return nil, err
	}

	t.Quality = torrent.ParseQuality(quality)

	t.Status = torrent.Status(status)
	if !t.Status.Valid() {
		t.Status = torrent.StatusUnknown
	}

	return &t, nil
}
