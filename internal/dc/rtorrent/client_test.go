package rtorrent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/autobrr/go-rtorrent"
	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const magnetHash = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

type fakeRPC struct {
	mu      sync.Mutex
	nameErr error

	torrents  map[string]bool // hash -> completed
	stopped   map[string]bool
	extraArgs []*rtorrent.FieldValue
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{torrents: make(map[string]bool), stopped: make(map[string]bool)}
}

func (f *fakeRPC) Name(context.Context) (string, error) {
	return "seedbox:1234", f.nameErr
}

func (f *fakeRPC) Add(_ context.Context, url string, extraArgs ...*rtorrent.FieldValue) error {
	m, err := metainfo.ParseMagnet(url)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.torrents[strings.ToUpper(m.InfoHash)] = false
	f.extraArgs = extraArgs

	return nil
}

func (f *fakeRPC) AddTorrent(context.Context, []byte, ...*rtorrent.FieldValue) error {
	return errors.New("unexpected file add")
}

func (f *fakeRPC) GetTorrent(_ context.Context, hash string) (rtorrent.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.torrents[hash]; !ok {
		return rtorrent.Torrent{}, errors.New("XML-RPC fault: Could not find info-hash.")
	}

	return rtorrent.Torrent{Hash: hash}, nil
}

func (f *fakeRPC) GetStatus(_ context.Context, t rtorrent.Torrent) (rtorrent.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return rtorrent.Status{Completed: f.torrents[t.Hash]}, nil
}

func (f *fakeRPC) Delete(_ context.Context, t rtorrent.Torrent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.torrents, t.Hash)

	return nil
}

func (f *fakeRPC) StartTorrent(_ context.Context, t rtorrent.Torrent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped[t.Hash] = false

	return nil
}

func (f *fakeRPC) StopTorrent(_ context.Context, t rtorrent.Torrent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped[t.Hash] = true

	return nil
}

func setup(t *testing.T, root string) (*Client, *fakeRPC) {
	t.Helper()

	rpc := newFakeRPC()

	c, err := newClient(context.Background(), Config{TorrentDirectory: root, Label: "tv"}, metainfo.NewResolver(), rpc)
	require.NoError(t, err)

	return c, rpc
}

func magnetJob() torrent.Job {
	return torrent.Job{Title: "Show", DownloadURL: "magnet:?xt=urn:btih:" + magnetHash, Protocol: torrent.ProtocolTorrent}
}

func TestNew_Unreachable(t *testing.T) {
	rpc := newFakeRPC()
	rpc.nameErr = errors.New("connection refused")

	_, err := newClient(context.Background(), Config{}, metainfo.NewResolver(), rpc)

	var unavailable *torrent.BackendUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestSubmit(t *testing.T) {
	c, rpc := setup(t, "/data")
	ctx := context.Background()

	tr, err := c.Submit(ctx, magnetJob())
	require.NoError(t, err)

	assert.Equal(t, magnetHash, tr.Hash)
	assert.Equal(t, torrent.StatusDownloading, tr.Status)

	require.Len(t, rpc.extraArgs, 2)
	assert.Equal(t, dc.DownloadDir("/data", "Show"), rpc.extraArgs[0].Value)
	assert.Equal(t, "tv", rpc.extraArgs[1].Value)

	rpc.torrents[strings.ToUpper(magnetHash)] = true
	assert.Equal(t, torrent.StatusFinished, c.Status(ctx, tr))

	_, err = c.Submit(ctx, magnetJob())

	var rejected *torrent.BackendRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestStatus_Unknown(t *testing.T) {
	c, _ := setup(t, "/data")

	assert.Equal(t, torrent.StatusUnknown, c.Status(context.Background(), &torrent.Torrent{Hash: magnetHash}))
}

func TestRemove_DeletesData(t *testing.T) {
	root := t.TempDir()
	c, rpc := setup(t, root)
	ctx := context.Background()

	tr, err := c.Submit(ctx, magnetJob())
	require.NoError(t, err)

	dir := dc.DownloadDir(root, tr.Title)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "episode.mkv"), []byte("x"), 0o600))

	require.NoError(t, c.Remove(ctx, tr, true))
	assert.Empty(t, rpc.torrents)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, c.Remove(ctx, tr, true))
}

func TestRemove_DeleteDataFailure(t *testing.T) {
	// A regular file where the download root should be makes the job directory
	// impossible to delete, regardless of the user running the test.
	root := filepath.Join(t.TempDir(), "not-a-directory")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o600))

	c, _ := setup(t, root)
	ctx := context.Background()

	tr, err := c.Submit(ctx, magnetJob())
	require.NoError(t, err)

	err = c.Remove(ctx, tr, true)

	var unavailable *torrent.BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "rtorrent", unavailable.Backend)
	assert.Equal(t, "delete data", unavailable.Operation)
}

func TestPauseResume(t *testing.T) {
	c, rpc := setup(t, "/data")
	ctx := context.Background()

	tr, err := c.Submit(ctx, magnetJob())
	require.NoError(t, err)

	require.NoError(t, c.Pause(ctx, tr))
	assert.True(t, rpc.stopped[strings.ToUpper(magnetHash)])

	require.NoError(t, c.Resume(ctx, tr))
	assert.False(t, rpc.stopped[strings.ToUpper(magnetHash)])

	var notFound *torrent.JobNotFoundError
	assert.ErrorAs(t, c.Pause(ctx, &torrent.Torrent{Hash: strings.Repeat("ab", 20)}), &notFound)
}
