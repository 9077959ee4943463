package main

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lox/weatherlanding/internal/config"
	"github.com/lox/weatherlanding/internal/geocode"
	"github.com/lox/weatherlanding/internal/httputil"
	"github.com/lox/weatherlanding/internal/ingest"
	"github.com/lox/weatherlanding/internal/logging"
	"github.com/lox/weatherlanding/internal/notify"
	"github.com/lox/weatherlanding/internal/pipeline"
	"github.com/lox/weatherlanding/internal/scheduler"
	"github.com/lox/weatherlanding/internal/sink"
	"github.com/lox/weatherlanding/internal/store"
)

// app is the wired object graph shared by the run and serve commands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	loc       *time.Location
	store     *store.Store
	objects   sink.ObjectStore
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
}

func (c *CLI) loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build logger")
	}
	return cfg, log, nil
}

// newApp wires every component from cfg. sinkBackend, when set, replaces
// cfg.Sink.Backend.
func (c *CLI) newApp(ctx context.Context, sinkBackend string) (_ *app, err error) {
	cfg, log, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	if sinkBackend != "" {
		cfg.Sink.Backend = sinkBackend
	}

	creds, err := config.LoadCredentials(config.EnvSecrets{})
	if err != nil {
		return nil, err
	}

	loc, err := cfg.TimeLocation()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, loc: loc}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
		}
	}()

	a.store, err = store.Open(cfg.Store.Path, log)
	if err != nil {
		return nil, errors.Wrapf(err, "open store %s", cfg.Store.Path)
	}

	a.objects, err = sink.Open(ctx, cfg.SinkOptions())
	if err != nil {
		return nil, errors.Wrapf(err, "open %s sink", cfg.Sink.Backend)
	}

	notifier, err := notify.Open(ctx, cfg.NotifyOptions(), log)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s notifier", cfg.Notify.Backend)
	}

	hc := httputil.New(cfg.HTTP.Timeout, cfg.BreakerSettings())
	a.pipeline = pipeline.New(
		geocode.NewClient(hc, cfg.Geocode.BaseURL, creds.CoordinatesKey, log),
		ingest.NewClient(hc, log),
		ingest.NewTransformer(cfg.AirQuality.UTCOffsetSeconds),
		sink.NewLoader(a.objects, log),
		log,
		pipeline.Options{
			Address: cfg.Location,
			Branches: []pipeline.Branch{
				{Source: ingest.WeatherSource(cfg.Weather.BaseURL, creds.WeatherKey), Container: cfg.Containers.Weather},
				{Source: ingest.AirQualitySource(cfg.AirQuality.BaseURL, creds.WeatherKey), Container: cfg.Containers.AirQuality},
			},
			Recorder: a.store,
			Now:      func() time.Time { return time.Now().In(loc) },
		},
	)

	sc := cfg.SchedulerConfig(loc)
	sc.Housekeeping = func(ctx context.Context) error {
		_, err := a.store.CleanupOldRawPayloads(ctx, cfg.Store.RawRetentionDays)
		return err
	}
	a.scheduler, err = scheduler.New(a.pipeline, notifier, sc, log)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) Close() error {
	var err error
	if closer, ok := a.objects.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	if syncErr := a.log.Sync(); syncErr != nil {
		a.log.Debug("sync logger", zap.Error(syncErr))
	}
	return err
}
