package main

import (
	"context"
	"errors"
	"time"

	"github.com/dailyyoga/pricekit/cache"
	"github.com/dailyyoga/pricekit/ch"
	"github.com/dailyyoga/pricekit/cron"
	"github.com/dailyyoga/pricekit/kafka"
	"github.com/dailyyoga/pricekit/logger"
	"github.com/dailyyoga/pricekit/pricing"
	"github.com/dailyyoga/pricekit/remote"
	"github.com/dailyyoga/pricekit/server"
	"github.com/dailyyoga/pricekit/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// closers runs shutdown funcs in reverse registration order
type closers []func(ctx context.Context) error

func (c *closers) add(fn func(ctx context.Context) error) {
	*c = append(*c, fn)
}

func (c closers) close(log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](ctx); err != nil {
			log.Error("shutdown step failed", zap.Error(err))
		}
	}
}

func run(ctx context.Context, log logger.Logger, cfg *AppConfig) error {
	var cleanup closers
	defer func() { cleanup.close(log) }()

	source, err := newSource(log, cfg, &cleanup)
	if err != nil {
		return err
	}

	transport := source
	var cached *cache.Transport
	if cfg.Redis != nil {
		rdb, err := cache.NewRedis(log, cfg.Redis)
		if err != nil {
			return err
		}
		cleanup.add(func(context.Context) error { return rdb.Close() })

		cached, err = cache.NewTransport(log, rdb, source, cfg.Cache)
		if err != nil {
			return err
		}
		transport = cached
	}

	var opts []pricing.Option
	if cfg.ClickHouse != nil {
		client, err := ch.NewClient(cfg.ClickHouse, log)
		if err != nil {
			return err
		}
		cleanup.add(func(context.Context) error { return client.Close() })

		w, err := client.Writer()
		switch {
		case errors.Is(err, ch.ErrWriterDisabled):
			log.Warn("clickhouse writer not configured, batch telemetry disabled")
		case err != nil:
			return err
		default:
			if err := w.Start(); err != nil {
				return err
			}
			opts = append(opts, pricing.WithObserver(ch.NewBatchObserver(w, log)))
		}
	}

	engine, err := pricing.New(log, cfg.Pricing, transport, opts...)
	if err != nil {
		return err
	}
	// closes before the telemetry sink so the final batches are recorded
	cleanup.add(engine.Close)

	if len(cfg.Warmup) > 0 {
		scheduler := cron.NewCron(log)
		for _, w := range cfg.Warmup {
			if err := scheduler.AddChain(warmupChain(engine, log, w)); err != nil {
				return err
			}
		}
		scheduler.Start()
		cleanup.add(scheduler.Close)
	}

	srv, err := server.New(log, cfg.Server, engine)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if cfg.Kafka != nil {
		consumer, err := kafka.NewConsumer(log, cfg.Kafka)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := consumer.Start(gctx, kafka.NewPriceChangeHandler(log, cached)); err != nil {
				consumer.Close()
				return err
			}
			<-gctx.Done()
			return consumer.Close()
		})
	}

	log.Info("pricesvc started",
		zap.String("source", cfg.Source),
		zap.Bool("cache", cached != nil),
		zap.Bool("telemetry", len(opts) > 0),
		zap.Int("warmup_chains", len(cfg.Warmup)),
	)
	return g.Wait()
}

func newSource(log logger.Logger, cfg *AppConfig, cleanup *closers) (pricing.Transport, error) {
	switch cfg.Source {
	case sourceMySQL:
		db, err := store.NewMySQL(log, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		cleanup.add(func(context.Context) error { return db.Close() })
		repo, err := store.NewPriceRepository(log, db)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		client, err := remote.NewClient(log, cfg.Remote, nil)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// warmupChain builds one task per currency; no currencies means the
// engine's default partition
func warmupChain(engine *pricing.Engine, log logger.Logger, w WarmupConfig) cron.Chain {
	currencies := w.Currencies
	if len(currencies) == 0 {
		currencies = []string{""}
	}
	tasks := make([]cron.Task, 0, len(currencies))
	for _, currency := range currencies {
		tasks = append(tasks, pricing.NewWarmupTask(engine, log, currency, w.Keys))
	}
	return cron.Chain{
		Name:    w.Name,
		Spec:    w.Spec,
		Tasks:   tasks,
		Timeout: w.Timeout,
	}
}
