package sabnzbd_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/italolelis/mediamanager/internal/dc/sabnzbd"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	apiKey = "0123456789abcdef"

	sampleNZB = `<?xml version="1.0"?><nzb xmlns="http://www.newzbin.com/DTD/2003/nzb">` +
		`<file poster="a" date="1" subject="s"><groups><group>alt.binaries.test</group></groups>` +
		`<segments><segment bytes="100" number="1">abc@test</segment></segments></file></nzb>`
)

type slot struct {
	NzoID       string `json:"nzo_id"`
	Filename    string `json:"filename,omitempty"`
	Name        string `json:"name,omitempty"`
	Status      string `json:"status"`
	FailMessage string `json:"fail_message,omitempty"`
}

type fakeSAB struct {
	mu       sync.Mutex
	next     int
	queue    []slot
	history  []slot
	category string
	deleted  []string
	uploaded []byte
}

func (f *fakeSAB) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	q := r.URL.Query()

	if q.Get("mode") != "version" && q.Get("apikey") != apiKey {
		fmt.Fprint(w, `{"status":false,"error":"API Key Incorrect"}`)

		return
	}

	switch q.Get("mode") {
	case "version":
		fmt.Fprint(w, `{"version":"4.2.1"}`)
	case "addfile":
		file, _, err := r.FormFile("name")
		if err != nil {
			fmt.Fprint(w, `{"status":false,"error":"no file"}`)

			return
		}

		f.uploaded, _ = io.ReadAll(file)
		f.category = q.Get("cat")
		f.next++

		id := "SABnzbd_nzo_" + strconv.Itoa(f.next)
		f.queue = append(f.queue, slot{NzoID: id, Filename: q.Get("nzbname"), Status: "Queued"})

		json.NewEncoder(w).Encode(map[string]interface{}{"status": true, "nzo_ids": []string{id}})
	case "queue":
		switch q.Get("name") {
		case "delete":
			f.queue = f.drop(f.queue, q.Get("value"))
		case "pause", "resume":
			state := map[string]string{"pause": "Paused", "resume": "Downloading"}[q.Get("name")]

			for i := range f.queue {
				if f.queue[i].NzoID == q.Get("value") {
					f.queue[i].Status = state
				}
			}
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{"queue": map[string]interface{}{"slots": f.queue}})

			return
		}

		fmt.Fprint(w, `{"status":true}`)
	case "history":
		if q.Get("name") == "delete" {
			f.history = f.drop(f.history, q.Get("value"))
			fmt.Fprint(w, `{"status":true}`)

			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{"history": map[string]interface{}{"slots": f.history}})
	default:
		fmt.Fprint(w, `{"status":false,"error":"not implemented"}`)
	}
}

func (f *fakeSAB) drop(slots []slot, id string) []slot {
	f.deleted = append(f.deleted, id)

	kept := []slot{}
	for _, s := range slots {
		if s.NzoID != id {
			kept = append(kept, s)
		}
	}

	return kept
}

// complete moves every queued job to history with status.
func (f *fakeSAB) complete(status, failMessage string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.queue {
		f.history = append(f.history, slot{NzoID: s.NzoID, Name: s.Filename, Status: status, FailMessage: failMessage})
	}

	f.queue = nil
}

func config(t *testing.T, srv *httptest.Server, key string) sabnzbd.Config {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return sabnzbd.Config{Host: u.Hostname(), Port: port, APIKey: key, Category: "tv"}
}

func setup(t *testing.T) (*sabnzbd.Client, *fakeSAB) {
	t.Helper()

	fake := &fakeSAB{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := sabnzbd.New(context.Background(), config(t, srv, apiKey), metainfo.NewResolver())
	require.NoError(t, err)

	return c, fake
}

func nzbJob(t *testing.T) (torrent.Job, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "show.nzb")
	require.NoError(t, os.WriteFile(path, []byte(sampleNZB), 0o600))

	sum := sha1.Sum([]byte(sampleNZB))

	return torrent.Job{Title: "Show", DownloadURL: path, Protocol: torrent.ProtocolUsenet}, hex.EncodeToString(sum[:])
}

func TestNew_BadAPIKey(t *testing.T) {
	srv := httptest.NewServer(&fakeSAB{})
	defer srv.Close()

	_, err := sabnzbd.New(context.Background(), config(t, srv, "wrong"), metainfo.NewResolver())

	var unavailable *torrent.BackendUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Contains(t, err.Error(), "API Key Incorrect")
}

func TestSubmit(t *testing.T) {
	c, fake := setup(t)
	ctx := context.Background()
	job, hash := nzbJob(t)

	tr, err := c.Submit(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, hash, tr.Hash)
	assert.True(t, tr.Usenet)
	assert.Equal(t, torrent.ProtocolUsenet, tr.Protocol())
	assert.Equal(t, torrent.StatusDownloading, tr.Status)
	assert.Equal(t, "tv", fake.category)
	assert.Equal(t, sampleNZB, string(fake.uploaded))

	_, err = c.Submit(ctx, job)

	var rejected *torrent.BackendRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestSubmit_Magnet(t *testing.T) {
	c, _ := setup(t)

	_, err := c.Submit(context.Background(), torrent.Job{
		Title:       "Show",
		DownloadURL: "magnet:?xt=urn:btih:da39a3ee5e6b4b0d3255bfef95601890afd80709",
		Protocol:    torrent.ProtocolUsenet,
	})

	var malformed *torrent.MalformedMetadataError
	assert.ErrorAs(t, err, &malformed)
}

func TestStatus_History(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		failMessage string
		want        torrent.Status
	}{
		{"completed", "Completed", "", torrent.StatusFinished},
		{"failed", "Failed", "Out of retention", torrent.StatusError},
		{"repairing", "Repairing", "", torrent.StatusDownloading},
		{"fail message only", "Completed", "Unpacking failed", torrent.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fake := setup(t)
			ctx := context.Background()
			job, _ := nzbJob(t)

			tr, err := c.Submit(ctx, job)
			require.NoError(t, err)

			fake.complete(tt.status, tt.failMessage)
			assert.Equal(t, tt.want, c.Status(ctx, tr))
		})
	}
}

func TestLifecycle(t *testing.T) {
	c, fake := setup(t)
	ctx := context.Background()
	job, _ := nzbJob(t)

	tr, err := c.Submit(ctx, job)
	require.NoError(t, err)

	require.NoError(t, c.Pause(ctx, tr))
	assert.Equal(t, torrent.StatusUnknown, c.Status(ctx, tr))

	require.NoError(t, c.Resume(ctx, tr))
	assert.Equal(t, torrent.StatusDownloading, c.Status(ctx, tr))

	fake.complete("Completed", "")

	var notFound *torrent.JobNotFoundError
	assert.ErrorAs(t, c.Pause(ctx, tr), &notFound)

	require.NoError(t, c.Remove(ctx, tr, true))
	require.NoError(t, c.Remove(ctx, tr, true))
	assert.Equal(t, []string{"SABnzbd_nzo_1"}, fake.deleted)
	assert.Equal(t, torrent.StatusUnknown, c.Status(ctx, tr))
}

func TestStatus_Unreachable(t *testing.T) {
	fake := &fakeSAB{}
	srv := httptest.NewServer(fake)

	c, err := sabnzbd.New(context.Background(), config(t, srv, apiKey), metainfo.NewResolver())
	require.NoError(t, err)

	srv.Close()

	assert.Equal(t, torrent.StatusError, c.Status(context.Background(), &torrent.Torrent{Hash: "abc", Usenet: true}))
}
