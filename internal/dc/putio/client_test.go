package putio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/torrent"
	putio "github.com/putdotio/go-putio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const magnetHash = "da39a3ee5e6b4b0d3255bfef95601890afd80709"

type fakeTransfer struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
	Status string `json:"status"`
	FileID int64  `json:"file_id"`

	SaveParentID int64 `json:"save_parent_id"`
}

type fakeAPI struct {
	mu        sync.Mutex
	nextID    int64
	transfers []fakeTransfer
	cancelled []string
	deleted   []string
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/account/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"OK","info":{"username":"mediamanager"}}`)
	})

	mux.HandleFunc("/v2/transfers/list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "OK", "transfers": f.transfers})
	})

	mux.HandleFunc("/v2/transfers/add", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		_ = r.ParseForm()

		parent, _ := strconv.ParseInt(r.PostForm.Get("save_parent_id"), 10, 64)

		f.nextID++
		tr := fakeTransfer{
			ID:           f.nextID,
			Name:         "Show",
			Source:       r.PostForm.Get("url"),
			Status:       "IN_QUEUE",
			SaveParentID: parent,
		}
		f.transfers = append(f.transfers, tr)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "OK", "transfer": tr})
	})

	mux.HandleFunc("/v2/transfers/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		_ = r.ParseForm()
		ids := r.PostForm.Get("transfer_ids")
		f.cancelled = append(f.cancelled, ids)

		kept := f.transfers[:0]
		for _, tr := range f.transfers {
			if strconv.FormatInt(tr.ID, 10) != ids {
				kept = append(kept, tr)
			}
		}

		f.transfers = kept

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"OK"}`)
	})

	mux.HandleFunc("/v2/files/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		_ = r.ParseForm()
		f.deleted = append(f.deleted, r.PostForm.Get("file_ids"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"OK"}`)
	})

	return mux
}

func (f *fakeAPI) setStatus(status string, fileID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.transfers {
		f.transfers[i].Status = status
		f.transfers[i].FileID = fileID
	}
}

func newTestClient(t *testing.T) (*Client, *fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{}
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	goputioClient := putio.NewClient(nil)
	u, _ := url.Parse(server.URL)
	goputioClient.BaseURL = u

	c, err := newClient(context.Background(), Config{}, metainfo.NewResolver(), goputioClient)
	require.NoError(t, err)

	return c, api, server
}

func magnetJob() torrent.Job {
	return torrent.Job{
		Title:       "Show",
		DownloadURL: "magnet:?xt=urn:btih:" + strings.ToUpper(magnetHash) + "&dn=Show",
		Protocol:    torrent.ProtocolTorrent,
	}
}

func TestNew_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error_type":"invalid_grant","error_message":"invalid token","status_code":401}`)
	}))
	defer server.Close()

	goputioClient := putio.NewClient(nil)
	u, _ := url.Parse(server.URL)
	goputioClient.BaseURL = u

	_, err := newClient(context.Background(), Config{}, metainfo.NewResolver(), goputioClient)

	var unavailable *torrent.BackendUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestSubmit_Magnet(t *testing.T) {
	c, api, _ := newTestClient(t)
	ctx := context.Background()

	tr, err := c.Submit(ctx, magnetJob())
	require.NoError(t, err)

	assert.Equal(t, magnetHash, tr.Hash)
	assert.Equal(t, torrent.StatusDownloading, tr.Status)
	require.Len(t, api.transfers, 1)

	_, err = c.Submit(ctx, magnetJob())

	var rejected *torrent.BackendRejectedError
	assert.ErrorAs(t, err, &rejected)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status string
		want   torrent.Status
	}{
		{"DOWNLOADING", torrent.StatusDownloading},
		{"COMPLETING", torrent.StatusDownloading},
		{"SEEDING", torrent.StatusFinished},
		{"COMPLETED", torrent.StatusFinished},
		{"ERROR", torrent.StatusError},
		{"SOMETHING_NEW", torrent.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c, api, _ := newTestClient(t)
			ctx := context.Background()

			tr, err := c.Submit(ctx, magnetJob())
			require.NoError(t, err)

			api.setStatus(tt.status, 0)
			assert.Equal(t, tt.want, c.Status(ctx, tr))
		})
	}
}

func TestStatus_Unreachable(t *testing.T) {
	c, _, server := newTestClient(t)
	server.Close()

	assert.Equal(t, torrent.StatusError, c.Status(context.Background(), &torrent.Torrent{Hash: magnetHash}))
}

func TestRemove(t *testing.T) {
	c, api, _ := newTestClient(t)
	ctx := context.Background()

	tr, err := c.Submit(ctx, magnetJob())
	require.NoError(t, err)

	api.setStatus("COMPLETED", 42)

	require.NoError(t, c.Remove(ctx, tr, true))
	assert.Equal(t, []string{"1"}, api.cancelled)
	assert.Equal(t, []string{"42"}, api.deleted)
	assert.Equal(t, torrent.StatusUnknown, c.Status(ctx, tr))

	require.NoError(t, c.Remove(ctx, tr, true))
	assert.Len(t, api.cancelled, 1)
}

func TestPauseResume_NotSupported(t *testing.T) {
	c, _, _ := newTestClient(t)
	ctx := context.Background()
	tr := &torrent.Torrent{Hash: magnetHash, Title: "Show"}

	var rejected *torrent.BackendRejectedError
	assert.ErrorAs(t, c.Pause(ctx, tr), &rejected)
	assert.ErrorAs(t, c.Resume(ctx, tr), &rejected)
}
