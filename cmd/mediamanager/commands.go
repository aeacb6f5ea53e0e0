package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-units"
	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/metainfo"
	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/torrent"
	"github.com/spf13/cobra"
)

// withApp runs fn with a fully wired app and releases it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	return fn(ctx, a)
}

func runAdd(cmd *cobra.Command, args []string) error {
	job := torrent.Job{
		Title:       strings.TrimSpace(addTitle),
		DownloadURL: args[0],
		Quality:     torrent.ParseQuality(addQuality),
		Protocol:    torrent.ProtocolTorrent,
	}
	if addUsenet {
		job.Protocol = torrent.ProtocolUsenet
	}

	if job.Title == "" {
		return errors.New("--title must not be empty")
	}

	return withApp(cmd, func(ctx context.Context, a *app) error {
		t, err := a.registry.Submit(ctx, job)
		if err != nil {
			return fmt.Errorf("failed to submit %q: %w", job.Title, err)
		}

		if err := a.repo.Save(ctx, t); err != nil {
			return fmt.Errorf("job submitted but not recorded: %w", err)
		}

		printTorrents(cmd.OutOrStdout(), t)

		return nil
	})
}

func runList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		all, err := a.repo.List(ctx)
		if err != nil {
			return err
		}

		printTorrents(cmd.OutOrStdout(), all...)

		return nil
	})
}

// runStatus polls the backends and records any change, the same way a single
// scheduled poll does, but only for the requested jobs.
func runStatus(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		targets, err := lookup(ctx, a.repo, args)
		if err != nil {
			return err
		}

		for _, t := range targets {
			status := a.registry.Status(ctx, t)
			if status != t.Status {
				logctx.LoggerFromContext(ctx).InfoContext(ctx, "torrent status changed",
					"hash", t.Hash, "from", t.Status, "to", status)

				t.Status = status
				if err := a.repo.UpdateStatus(ctx, t.Hash, status); err != nil {
					return err
				}
			}
		}

		printTorrents(cmd.OutOrStdout(), targets...)

		return nil
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		t, err := lookupOne(ctx, a.repo, args[0])
		if err != nil {
			return err
		}

		if err := a.registry.Remove(ctx, t, removeData); err != nil {
			return fmt.Errorf("failed to remove %q: %w", t.Title, err)
		}

		return a.repo.Delete(ctx, t.Hash)
	})
}

func runPause(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		t, err := lookupOne(ctx, a.repo, args[0])
		if err != nil {
			return err
		}

		return a.registry.Pause(ctx, t)
	})
}

func runResume(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		t, err := lookupOne(ctx, a.repo, args[0])
		if err != nil {
			return err
		}

		return a.registry.Resume(ctx, t)
	})
}

// runHash needs neither configuration nor a backend.
func runHash(cmd *cobra.Command, args []string) error {
	job := torrent.Job{Title: args[0], DownloadURL: args[0], Protocol: torrent.ProtocolTorrent}
	if hashUsenet {
		job.Protocol = torrent.ProtocolUsenet
	}

	src, err := metainfo.NewResolver().Resolve(cmd.Context(), job)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, src.Hash)

	if src.Name != "" {
		fmt.Fprintf(out, "name: %s\n", src.Name)
	}

	if src.Size > 0 {
		fmt.Fprintf(out, "size: %s\n", units.HumanSize(float64(src.Size)))
	}

	return nil
}

func lookup(ctx context.Context, repo storage.TorrentReadRepository, hashes []string) ([]*torrent.Torrent, error) {
	if len(hashes) == 0 {
		return repo.List(ctx)
	}

	out := make([]*torrent.Torrent, 0, len(hashes))

	for _, h := range hashes {
		t, err := repo.Get(ctx, strings.ToLower(strings.TrimSpace(h)))
		if err != nil {
			return nil, fmt.Errorf("failed to find %s: %w", h, err)
		}

		out = append(out, t)
	}

	return out, nil
}

func lookupOne(ctx context.Context, repo storage.TorrentReadRepository, hash string) (*torrent.Torrent, error) {
	found, err := lookup(ctx, repo, []string{hash})
	if err != nil {
		return nil, err
	}

	return found[0], nil
}

func printTorrents(w io.Writer, ts ...*torrent.Torrent) {
	for _, t := range ts {
		fmt.Fprintf(w, "%s  %-11s  %-7s  %-6s  %s\n", t.Hash, t.Status, t.Quality, t.Protocol(), t.Title)
	}
}
