package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	called := false
	err = tel.InstrumentClientOperation(context.Background(), "transmission", "status", func(ctx context.Context) error {
		called = true

		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry

	boom := errors.New("boom")
	err := tel.InstrumentDBOperation(context.Background(), "save", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.NotPanics(t, func() {
		tel.RecordTorrentStatus(context.Background(), "deluge", "finished")
		tel.RecordMetadataFetch(context.Background(), "success")
		tel.RecordSystemError(context.Background(), "poller", "status")
		tel.RecordClientOperation(context.Background(), "deluge", "submit", "error", time.Second)
	})
}

func TestEnabledTelemetry_ExposesMetrics(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "mediamanager-test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	err = tel.InstrumentClientOperation(context.Background(), "transmission", "submit", func(ctx context.Context) error {
		return errors.New("rejected")
	})
	require.Error(t, err)

	tel.RecordTorrentStatus(context.Background(), "transmission", "finished")
	tel.RecordMetadataFetch(context.Background(), "success")
	require.NoError(t, tel.InstrumentDBOperation(context.Background(), "save_torrent", func(ctx context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"client_operations_total",
		"client_errors_total",
		"torrent_status_total",
		"metadata_fetch_total",
		"db_operations_total",
	} {
		assert.Contains(t, body, name+"{")
	}

	assert.NotContains(t, body, "_ratio")
}
