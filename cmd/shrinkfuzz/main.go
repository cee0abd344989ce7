package main

import (
	"shrinkfuzz/config"
	"shrinkfuzz/internal/corpus"
	"shrinkfuzz/internal/fingerprint"
	"shrinkfuzz/internal/harness"
	"shrinkfuzz/internal/runner"
	"shrinkfuzz/internal/shrink"
	"shrinkfuzz/pkg/database"
	"shrinkfuzz/pkg/logger"
	"shrinkfuzz/pkg/mq"
	"shrinkfuzz/pkg/telemetry"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newCache(client *redis.Client, cfg *config.AppConfig, lg *zap.Logger) *fingerprint.Cache {
	return fingerprint.NewCache(client, cfg.Command, lg)
}

func newHarness(cfg *config.AppConfig, store *corpus.Store, rec *database.Recorder, lg *zap.Logger) *harness.Harness {
	return harness.New(cfg, harness.MultiRecorder(store, rec), lg)
}

func newSink(store *corpus.Store, rec *database.Recorder, pub *mq.Publisher) corpus.Sink {
	return corpus.FanOut(store, rec, pub)
}

func newShrinker(h *harness.Harness, sink corpus.Sink, cache *fingerprint.Cache, telem telemetry.Telemetry, lg *zap.Logger) *shrink.Shrinker {
	return shrink.New(h, sink, cache, telem, lg)
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,        // inject config
			logger.NewLogger,         // inject logger
			telemetry.NewTelemetry,   // inject telemetry
			database.NewRedisClient,  // inject shared seen-set client
			database.NewRecorder,     // inject run recorder
			mq.NewPublisher,          // inject corpus event publisher
			corpus.NewStore,          // inject corpus store
			corpus.NewWatcher,        // inject incoming watcher
			newCache,
			newHarness,
			newSink,
			newShrinker,
		),
		fx.Invoke(runner.New),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
