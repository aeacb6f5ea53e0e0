package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/telemetry"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) storage.TorrentRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	tel, err := telemetry.New(context.Background(), telemetry.Config{})
	require.NoError(t, err)

	return NewInstrumentedTorrentRepository(db, tel)
}

func TestTorrentRepository_SaveGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	tr := &torrent.Torrent{
		Hash:    "a8100f6a4785d8d1f8f9e703fec7c207b396d471",
		Title:   "Show S01E01",
		Quality: torrent.QualityFullHD,
		Status:  torrent.StatusDownloading,
	}
	require.NoError(t, repo.Save(ctx, tr))

	got, err := repo.Get(ctx, tr.Hash)
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	tr.Status = torrent.StatusFinished
	tr.Imported = true
	require.NoError(t, repo.Save(ctx, tr))

	got, err = repo.Get(ctx, tr.Hash)
	require.NoError(t, err)
	assert.Equal(t, torrent.StatusFinished, got.Status)
	assert.True(t, got.Imported)
}

func TestTorrentRepository_UpdateStatus(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	tr := &torrent.Torrent{Hash: "aa", Title: "A", Quality: torrent.QualityHD, Status: torrent.StatusDownloading, Imported: true}
	require.NoError(t, repo.Save(ctx, tr))

	require.NoError(t, repo.UpdateStatus(ctx, "aa", torrent.StatusFinished))

	got, err := repo.Get(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, torrent.StatusFinished, got.Status)
	assert.True(t, got.Imported)
	assert.Equal(t, torrent.QualityHD, got.Quality)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", torrent.StatusError), storage.ErrNotFound)
}

func TestTorrentRepository_GetMissing(t *testing.T) {
	repo := newRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTorrentRepository_ListDelete(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	p2p := &torrent.Torrent{Hash: "aa", Title: "A", Quality: torrent.QualityHD, Status: torrent.StatusUnknown}
	nzb := &torrent.Torrent{Hash: "bb", Title: "B", Quality: torrent.QualityUnknown, Status: torrent.StatusError, Usenet: true}

	require.NoError(t, repo.Save(ctx, p2p))
	require.NoError(t, repo.Save(ctx, nzb))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.ElementsMatch(t, []*torrent.Torrent{p2p, nzb}, all)

	require.NoError(t, repo.Delete(ctx, "aa"))
	require.NoError(t, repo.Delete(ctx, "aa"))

	all, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*torrent.Torrent{nzb}, all)
}
