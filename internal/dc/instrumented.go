package dc

import (
	"context"
	"errors"

	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/telemetry"
	"github.com/italolelis/mediamanager/internal/torrent"
)

// InstrumentedClient wraps a DownloadClient with telemetry and tags the context with
// the client name for logging.
type InstrumentedClient struct {
	client    DownloadClient
	telemetry *telemetry.Telemetry
}

var _ DownloadClient = (*InstrumentedClient)(nil)

// errStatusError marks a status poll that resolved to StatusError so it is counted
// as a failed operation.
var errStatusError = errors.New("backend reported error status")

// NewInstrumentedClient creates a new instrumented download client.
func NewInstrumentedClient(client DownloadClient, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{client: client, telemetry: tel}
}

func (c *InstrumentedClient) Name() string {
	return c.client.Name()
}

func (c *InstrumentedClient) Protocol() torrent.Protocol {
	return c.client.Protocol()
}

// Submit submits a job with telemetry.
func (c *InstrumentedClient) Submit(ctx context.Context, job torrent.Job) (*torrent.Torrent, error) {
	var result *torrent.Torrent

	err := c.telemetry.InstrumentClientOperation(c.tag(ctx), c.Name(), "submit", func(ctx context.Context) error {
		var err error
		result, err = c.client.Submit(ctx, job)

		return err
	})
	if err != nil {
		return nil, err
	}

	c.telemetry.RecordTorrentStatus(ctx, c.Name(), string(result.Status))

	return result, nil
}

// Remove removes a torrent with telemetry.
func (c *InstrumentedClient) Remove(ctx context.Context, t *torrent.Torrent, deleteData bool) error {
	return c.telemetry.InstrumentClientOperation(c.tag(ctx), c.Name(), "remove", func(ctx context.Context) error {
		return c.client.Remove(ctx, t, deleteData)
	})
}

// Status polls a torrent with telemetry. Status itself never fails; an error state
// is counted as a failed operation and the observed state is recorded either way.
func (c *InstrumentedClient) Status(ctx context.Context, t *torrent.Torrent) torrent.Status {
	var status torrent.Status

	_ = c.telemetry.InstrumentClientOperation(c.tag(ctx), c.Name(), "status", func(ctx context.Context) error {
		status = c.client.Status(ctx, t)
		if status == torrent.StatusError {
			return errStatusError
		}

		return nil
	})

	c.telemetry.RecordTorrentStatus(ctx, c.Name(), string(status))

	return status
}

// Pause pauses a torrent with telemetry.
func (c *InstrumentedClient) Pause(ctx context.Context, t *torrent.Torrent) error {
	return c.telemetry.InstrumentClientOperation(c.tag(ctx), c.Name(), "pause", func(ctx context.Context) error {
		return c.client.Pause(ctx, t)
	})
}

// Resume resumes a torrent with telemetry.
func (c *InstrumentedClient) Resume(ctx context.Context, t *torrent.Torrent) error {
	return c.telemetry.InstrumentClientOperation(c.tag(ctx), c.Name(), "resume", func(ctx context.Context) error {
		return c.client.Resume(ctx, t)
	})
}

func (c *InstrumentedClient) tag(ctx context.Context) context.Context {
	return logctx.WithClient(ctx, c.Name())
}
