// Package tracker keeps persisted torrents in sync with their backends.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/italolelis/mediamanager/internal/logctx"
	"github.com/italolelis/mediamanager/internal/storage"
	"github.com/italolelis/mediamanager/internal/torrent"
	"golang.org/x/sync/errgroup"
)

// StatusPoller reports the current state of a torrent. dc.Registry satisfies it.
type StatusPoller interface {
	Status(ctx context.Context, t *torrent.Torrent) torrent.Status
}

// Transition records a torrent whose status changed between two polls.
type Transition struct {
	Torrent *torrent.Torrent
	From    torrent.Status
	To      torrent.Status
}

type Tracker struct {
	repo        storage.TorrentRepository
	poller      StatusPoller
	maxParallel int

	OnTransition chan Transition
}

func New(repo storage.TorrentRepository, poller StatusPoller, maxParallel int) *Tracker {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Tracker{
		repo:        repo,
		poller:      poller,
		maxParallel: maxParallel,

		OnTransition: make(chan Transition),
	}
}

func (t *Tracker) Close() {
	close(t.OnTransition)
}

// Run polls once and publishes every transition on OnTransition. It is meant to be
// called by a scheduler; a panic is logged instead of taking the process down.
func (t *Tracker) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "tracker panic",
				"operation", "run",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	transitions, err := t.Poll(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to poll torrents", "err", err)
	}

	for _, tr := range transitions {
		select {
		case t.OnTransition <- tr:
		case <-ctx.Done():
			return
		}
	}
}

// Poll refreshes the status of every torrent not yet imported, persisting the
// ones that changed. Transitions are returned even when some saves failed.
func (t *Tracker) Poll(ctx context.Context) ([]Transition, error) {
	logger := logctx.LoggerFromContext(ctx)

	torrents, err := t.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list torrents: %w", err)
	}

	logger.DebugContext(ctx, "polling torrents", "torrent_count", len(torrents))

	var (
		mu          sync.Mutex
		transitions []Transition
		errs        []error
	)

	var g errgroup.Group
	g.SetLimit(t.maxParallel)

	for _, tr := range torrents {
		if tr.Imported {
			continue
		}

		tr := tr

		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("panic polling %s: %v", tr.Hash, r))
					mu.Unlock()
				}
			}()

			change, err := t.refresh(ctx, tr)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, err)
			}

			if change != nil {
				transitions = append(transitions, *change)
			}

			return nil
		})
	}

	_ = g.Wait()

	return transitions, errors.Join(errs...)
}

func (t *Tracker) refresh(ctx context.Context, tr *torrent.Torrent) (*Transition, error) {
	status := t.poller.Status(ctx, tr)
	if status == tr.Status {
		return nil, nil
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "torrent status changed",
		"hash", tr.Hash, "title", tr.Title, "from", tr.Status, "to", status)

	change := &Transition{Torrent: tr, From: tr.Status, To: status}
	tr.Status = status

	// Only the status is written back; Imported may have changed since List.
	if err := t.repo.UpdateStatus(ctx, tr.Hash, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}

		return change, fmt.Errorf("failed to save %s: %w", tr.Hash, err)
	}

	return change, nil
}
