package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/italolelis/mediamanager/internal/config"
	"github.com/italolelis/mediamanager/internal/dc"
	"github.com/italolelis/mediamanager/internal/dc/deluge"
	"github.com/italolelis/mediamanager/internal/dc/putio"
	"github.com/italolelis/mediamanager/internal/dc/qbittorrent"
	"github.com/italolelis/mediamanager/internal/dc/rtorrent"
	"github.com/italolelis/mediamanager/internal/dc/sabnzbd"
	"github.com/italolelis/mediamanager/internal/dc/transmission"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/storage/sqlite"
	"github.com/italolelis/mediamanager/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

// app holds everything a command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tel      *telemetry.Telemetry
	db       *sql.DB
	repo     storage.TorrentRepository
	registry *dc.Registry

	closers []io.Closer
}

// newApp loads configuration and wires storage and the download clients. The
// returned context carries the logger.
func newApp(ctx context.Context) (context.Context, *app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return ctx, nil, err
	}

	a := &app{cfg: cfg}

	logger, rotator := newLogger(cfg, os.Stdout)
	if rotator != nil {
		a.closers = append(a.closers, rotator)
	}

	a.logger = logger
	ctx = logctx.WithLogger(ctx, logger)

	a.tel, err = telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		a.Close(ctx)

		return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.db, err = sqlite.InitDB(cfg.DBPath)
	if err != nil {
		a.Close(ctx)

		return ctx, nil, fmt.Errorf("failed to open database: %w", err)
	}

	a.repo = sqlite.NewInstrumentedTorrentRepository(a.db, a.tel)

	resolver, err := newResolver(cfg, a.tel)
	if err != nil {
		a.Close(ctx)

		return ctx, nil, err
	}

	clients, err := buildDownloadClients(ctx, cfg, resolver)
	if err != nil {
		a.Close(ctx)

		return ctx, nil, fmt.Errorf("failed to build download clients: %w", err)
	}

	instrumented := make([]dc.DownloadClient, 0, len(clients))

	for _, c := range clients {
		if closer, ok := c.(io.Closer); ok {
			a.closers = append(a.closers, closer)
		}

		instrumented = append(instrumented, dc.NewInstrumentedClient(c, a.tel))
	}

	a.registry, err = dc.NewRegistry(instrumented...)
	if err != nil {
		a.Close(ctx)

		return ctx, nil, err
	}

	return ctx, a, nil
}

// Close releases the backend sessions, the database and the log file in reverse
// order of acquisition.
func (a *app) Close(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			logger.WarnContext(ctx, "failed to shut down telemetry", "err", err)
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.WarnContext(ctx, "failed to close database", "err", err)
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logger.WarnContext(ctx, "failed to close resource", "err", err)
		}
	}
}

// newLogger builds the JSON logger. When LogFile is set, records are also written
// to a rotating file whose closer is returned.
func newLogger(cfg *config.Config, stdout io.Writer) (*slog.Logger, io.Closer) {
	out := stdout

	var rotator *lumberjack.Logger

	if cfg.LogFile != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		}
		out = io.MultiWriter(stdout, rotator)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewContextHandler(handler))
	slog.SetDefault(logger)

	if rotator == nil {
		return logger, nil
	}

	return logger, rotator
}

func newResolver(cfg *config.Config, tel *telemetry.Telemetry) (*metainfo.Resolver, error) {
	maxSize, err := cfg.MaxMetadataBytes()
	if err != nil {
		return nil, err
	}

	return metainfo.NewResolver(
		metainfo.WithMaxSize(maxSize),
		metainfo.WithRecorder(tel),
		metainfo.WithHTTPClient(&http.Client{
			Timeout:   cfg.FetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	), nil
}

// buildDownloadClients is the factory for the configured backends: at most one torrent
// client and one usenet client. Each constructor probes its backend.
func buildDownloadClients(ctx context.Context, cfg *config.Config, resolver *metainfo.Resolver) ([]dc.DownloadClient, error) {
	var clients []dc.DownloadClient

	torrentClient, err := buildTorrentClient(ctx, cfg, resolver)
	if err != nil {
		return nil, err
	}

	if torrentClient != nil {
		clients = append(clients, torrentClient)
	}

	switch cfg.UsenetClient {
	case "":
	case "sabnzbd":
		c, err := sabnzbd.New(ctx, sabnzbd.Config{
			Host:     cfg.Sabnzbd.Host,
			Port:     cfg.Sabnzbd.Port,
			APIKey:   cfg.Sabnzbd.APIKey,
			UseSSL:   cfg.Sabnzbd.HTTPS,
			Path:     cfg.Sabnzbd.Path,
			Category: cfg.Sabnzbd.Category,
		}, resolver)
		if err != nil {
			return nil, errors.Join(err, closeAll(clients))
		}

		clients = append(clients, c)
	default:
		return nil, errors.Join(fmt.Errorf("invalid usenet client: %s", cfg.UsenetClient), closeAll(clients))
	}

	return clients, nil
}

func buildTorrentClient(ctx context.Context, cfg *config.Config, resolver *metainfo.Resolver) (dc.DownloadClient, error) {
	switch cfg.TorrentClient {
	case "":
		return nil, nil
	case "transmission":
		return transmission.New(ctx, transmission.Config{
			Host:             cfg.Transmission.Host,
			Port:             cfg.Transmission.Port,
			Username:         cfg.Transmission.Username,
			Password:         cfg.Transmission.Password,
			HTTPS:            cfg.Transmission.HTTPS,
			Path:             cfg.Transmission.Path,
			TorrentDirectory: cfg.TorrentDirectory,
		}, resolver)
	case "qbittorrent":
		return qbittorrent.New(ctx, qbittorrent.Config{
			Host:             cfg.Qbittorrent.Host,
			Username:         cfg.Qbittorrent.Username,
			Password:         cfg.Qbittorrent.Password,
			BasicUser:        cfg.Qbittorrent.BasicUser,
			BasicPass:        cfg.Qbittorrent.BasicPass,
			Category:         cfg.Qbittorrent.Category,
			TorrentDirectory: cfg.TorrentDirectory,
		}, resolver)
	case "deluge":
		return deluge.New(ctx, deluge.Config{
			Host:             cfg.Deluge.Host,
			Port:             cfg.Deluge.Port,
			Username:         cfg.Deluge.Username,
			Password:         cfg.Deluge.Password,
			TorrentDirectory: cfg.TorrentDirectory,
		}, resolver)
	case "rtorrent":
		return rtorrent.New(ctx, rtorrent.Config{
			Addr:             cfg.Rtorrent.Addr,
			BasicUser:        cfg.Rtorrent.BasicUser,
			BasicPass:        cfg.Rtorrent.BasicPass,
			Label:            cfg.Rtorrent.Label,
			TorrentDirectory: cfg.TorrentDirectory,
		}, resolver)
	case "putio":
		return putio.New(ctx, putio.Config{
			Token:  cfg.Putio.Token,
			Folder: cfg.Putio.Folder,
		}, resolver)
	}

	return nil, fmt.Errorf("invalid torrent client: %s", cfg.TorrentClient)
}

func closeAll(clients []dc.DownloadClient) error {
	var errs []error

	for _, c := range clients {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}

	return errors.Join(errs...)
}
