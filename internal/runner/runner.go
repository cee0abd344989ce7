// Package runner wires startup, the shrink loop and shutdown together: it
// seeds the engine, pumps operator-dropped candidates into it, and maps the
// loop's outcome to the process exit code.
package runner

import (
	"context"
	"errors"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"shrinkfuzz/config"
	"shrinkfuzz/internal/corpus"
	"shrinkfuzz/internal/harness"
	"shrinkfuzz/internal/shrink"
)

type Runner struct {
	cfg        *config.AppConfig
	store      *corpus.Store
	watcher    *corpus.Watcher
	shrinker   *shrink.Shrinker
	shutdowner fx.Shutdowner
	logger     *zap.Logger

	done chan struct{}
}

type Params struct {
	fx.In

	Lc         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Config     *config.AppConfig
	Store      *corpus.Store
	Watcher    *corpus.Watcher
	Shrinker   *shrink.Shrinker
	Logger     *zap.Logger
}

func New(p Params) *Runner {
	r := &Runner{
		cfg:        p.Config,
		store:      p.Store,
		watcher:    p.Watcher,
		shrinker:   p.Shrinker,
		shutdowner: p.Shutdowner,
		logger:     p.Logger.Named("runner"),
		done:       make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.Background())

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-r.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
	return r
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)
	r.shutdowner.Shutdown(fx.ExitCode(r.execute(ctx)))
}

// execute seeds the engine, drives the shrink loop and reduces its outcome
// to the process exit code.
func (r *Runner) execute(ctx context.Context) int {
	initial, err := os.ReadFile(r.cfg.InputPath)
	if err != nil {
		return r.fail("failed to read initial input", err)
	}
	if err := r.store.SaveInitial(initial); err != nil {
		r.logger.Error("failed to save initial input copy", zap.Error(err))
	}

	// The empty input is classified up front: it anchors the search and is
	// frequently the final exemplar for a graceful-exit behavior.
	if !r.shrinker.Seen(ctx, nil) {
		if _, err := r.shrinker.Classify(ctx, []byte{}); err != nil {
			return r.fail("failed to classify empty input", err)
		}
	}
	if _, err := r.shrinker.Classify(ctx, initial); err != nil {
		return r.fail("failed to classify initial input", err)
	}
	if err := r.reloadSeeds(ctx); err != nil {
		return r.fail("failed to reload persisted seeds", err)
	}
	r.watchIncoming(ctx)

	switch err := r.shrinker.Run(ctx); {
	case errors.Is(err, harness.ErrTooManyTimeouts):
		return r.fail("aborting run", err)
	case errors.Is(err, context.Canceled):
		r.logger.Info("shrink loop interrupted, corpus left resumable")
		return 0
	case err != nil:
		return r.fail("shrink loop failed", err)
	default:
		return 0
	}
}

// reloadSeeds re-classifies seed files left behind by an earlier run. Each
// unseen file is unlinked first; classification re-adds it only if it is
// still the best reproducer for something.
func (r *Runner) reloadSeeds(ctx context.Context) error {
	paths, err := r.store.ListSeeds()
	if err != nil {
		return err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if r.shrinker.Seen(ctx, data) {
			continue
		}
		os.Remove(path)
		sig, err := r.shrinker.Classify(ctx, data)
		if err != nil {
			return err
		}
		r.logger.Debug("reloaded seed",
			zap.String("file", path),
			zap.String("signature", sig.Key()))
	}
	return nil
}

// watchIncoming feeds files dropped into the incoming directory to the
// engine. Dropped files are consumed: read, deleted, classified.
func (r *Runner) watchIncoming(ctx context.Context) {
	paths, err := r.watcher.Watch(ctx, r.store.IncomingDir())
	if err != nil {
		r.logger.Error("incoming directory watch unavailable", zap.Error(err))
		return
	}
	go func() {
		for path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			os.Remove(path)
			select {
			case r.shrinker.Feed() <- data:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Runner) fail(msg string, err error) int {
	r.logger.Error(msg, zap.Error(err))
	return 1
}
