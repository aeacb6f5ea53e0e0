package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-co-op/gocron/v2"
	"github.com/italolelis/mediamanager/internal/config"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/notifier"
	"github.com/italolelis/mediamanager/internal/telemetry"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/italolelis/mediamanager/internal/tracker"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	logger := logctx.LoggerFromContext(ctx)

	for _, c := range a.registry.Clients() {
		logger.InfoContext(ctx, "download client ready", "client", c.Name(), "protocol", c.Protocol())
	}

	// =========================================================================
	// Start Tracker
	trk := tracker.New(a.repo, a.registry, a.cfg.MaxParallel)

	var notif notifier.Notifier
	if a.cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(a.cfg.DiscordWebhookURL)
	}

	notified := make(chan struct{})

	go func() {
		defer close(notified)
		notifyTransitions(ctx, trk.OnTransition, notif, a.tel)
	}()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(a.cfg.UpdateInterval),
		gocron.NewTask(trk.Run, ctx),
		gocron.WithName("poll-torrent-status"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule status polling: %w", err)
	}

	scheduler.Start()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, a.tel, a.cfg)

	go func() {
		logger.InfoContext(ctx, "Initializing metrics endpoint", "host", a.cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.InfoContext(ctx, "tracking downloads...",
		"torrent_directory", a.cfg.TorrentDirectory,
		"update_interval", a.cfg.UpdateInterval.String(),
		"max_parallel", a.cfg.MaxParallel,
	)

	var runErr error

	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.InfoContext(ctx, "start shutdown")
	}

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Web.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(ctx, "failed to gracefully shutdown the server", "err", err)

		if err = server.Close(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("could not stop server gracefully: %w", err))
		}
	}

	stop()

	if err := scheduler.Shutdown(); err != nil {
		logger.ErrorContext(ctx, "failed to stop scheduler", "err", err)
	}

	trk.Close()
	<-notified

	return runErr
}

// notifyTransitions reports jobs that finished or failed until transitions is closed.
func notifyTransitions(ctx context.Context, transitions <-chan tracker.Transition, notif notifier.Notifier, tel *telemetry.Telemetry) {
	logger := logctx.LoggerFromContext(ctx)

	for change := range transitions {
		logger.InfoContext(ctx, "torrent status changed",
			"hash", change.Torrent.Hash,
			"title", change.Torrent.Title,
			"from", change.From,
			"to", change.To)

		msg := transitionMessage(change)
		if msg == "" || notif == nil {
			continue
		}

		if err := notif.Notify(context.WithoutCancel(ctx), msg); err != nil {
			logger.ErrorContext(ctx, "failed to send notification", "hash", change.Torrent.Hash, "err", err)
			tel.RecordSystemError(ctx, "notifier", "webhook")
		}
	}
}

func transitionMessage(change tracker.Transition) string {
	switch change.To {
	case torrent.StatusFinished:
		return "✅ Download finished: " + change.Torrent.Title + " (" + change.Torrent.Hash + ")"
	case torrent.StatusError:
		return "❌ Download failed: " + change.Torrent.Title + " (" + change.Torrent.Hash + ")"
	}

	return ""
}

// setupServer prepares the metrics and health endpoints.
func setupServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
