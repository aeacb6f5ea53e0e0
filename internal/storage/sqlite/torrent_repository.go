package sqlite

import (
	"database/sql"

	"github.com/italolelis/mediamanager/internal/storage"
)

// TorrentRepository stores torrents in SQLite, keyed by hash.
type TorrentRepository struct {
	db *sql.DB
}

var _ storage.TorrentRepository = (*TorrentRepository)(nil)

func NewTorrentRepository(dbConn *sql.DB) *TorrentRepository {
	return &TorrentRepository{db: dbConn}
}

const selectTorrents = `SELECT hash, title, quality, status, imported, usenet FROM torrents`

type scanner interface {
	Scan(dest ...interface{}) error
}
