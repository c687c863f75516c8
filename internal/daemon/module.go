// Package daemon composes the ETL daemon: configuration, stores, sinks,
// scheduler and the HTTP status surface, wired through fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/bus"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/classify"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/config"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/dedup"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/docstore"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/etl"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/httpapi"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/lock"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/logging"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/scheduler"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/sheets"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/source"
	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/status"
)

// Params holds the command-line settings passed to the fx module.
type Params struct {
	ConfigPath      string
	RunOnce         bool
	IntervalSeconds int // 0 = use config value
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks. A configuration error surfaces as a provider failure and
// stops the app before the cycle loop ever starts.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideDedupStore,
			provideDocStore,
			provideSheetsClient,
			provideSource,
			provideRules,
			provideSalesSync,
			provideStudentSync,
			provideScheduler,
			provideHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if p.IntervalSeconds > 0 {
		cfg.IntervalSeconds = p.IntervalSeconds
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data-dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data-dir lock acquired")
	return l, nil
}

func provideDedupStore(cfg *config.Config, logger *zap.Logger) (*dedup.Store, error) {
	s, err := dedup.Open(cfg.DedupDBPath())
	if err != nil {
		return nil, err
	}
	logger.Info("dedup store opened", zap.String("path", cfg.DedupDBPath()))
	return s, nil
}

func provideDocStore(cfg *config.Config, logger *zap.Logger) (*docstore.Store, error) {
	s, err := docstore.Open(cfg.DocStorePath())
	if err != nil {
		return nil, err
	}
	logger.Info("document store opened", zap.String("path", cfg.DocStorePath()))
	return s, nil
}

func provideSheetsClient(cfg *config.Config) (sheets.Client, error) {
	return sheets.NewService(context.Background(), cfg.CredentialsFile)
}

func provideSource(cfg *config.Config) source.Source {
	return source.NewScraper(cfg.ScraperURL, cfg.RequestTimeout())
}

func provideRules(cfg *config.Config) classify.Rules {
	return classify.NewRules(classify.Options{
		PracticeWords: cfg.PracticeWords,
		MessageWords:  cfg.MessageWords,
	})
}

func provideSalesSync(cfg *config.Config, client sheets.Client, store *dedup.Store, logger *zap.Logger) *etl.SalesSync {
	if cfg.SalesGroup == "" {
		return nil
	}
	return etl.NewSalesSync(client, store, cfg.SalesSheetID, logger)
}

func provideStudentSync(cfg *config.Config, client sheets.Client, docs *docstore.Store, store *dedup.Store, logger *zap.Logger) *etl.StudentSync {
	if cfg.StudentsGroup == "" {
		return nil
	}
	return etl.NewStudentSync(client, docs, store, cfg.StudentsSheetID, logger)
}

func provideScheduler(cfg *config.Config, src source.Source, rules classify.Rules, sales *etl.SalesSync, students *etl.StudentSync, store *dedup.Store, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Source:        src,
		Rules:         rules,
		Sales:         sales,
		Students:      students,
		Dedup:         store,
		Machine:       machine,
		Bus:           b,
		Logger:        logger,
		Interval:      cfg.Interval(),
		Timeout:       cfg.RequestTimeout(),
		Retention:     cfg.Retention(),
		MaxCount:      cfg.MessageCount,
		SalesGroup:    cfg.SalesGroup,
		StudentsGroup: cfg.StudentsGroup,
	})
}

func provideHTTPServer(cfg *config.Config, sched *scheduler.Scheduler, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *httpapi.Server {
	return httpapi.New(cfg.HTTPAddr, sched, machine, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, shutdowner fx.Shutdowner, p Params, sched *scheduler.Scheduler, srv *httpapi.Server, lk *lock.Lock, store *dedup.Store, docs *docstore.Store, logger *zap.Logger) {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			go func() {
				defer close(done)
				if p.RunOnce {
					sched.RunOnce(loopCtx)
					_ = shutdowner.Shutdown()
					return
				}
				_ = sched.Run(loopCtx)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
				logger.Warn("shutdown deadline hit before cycle finished")
			}

			srv.Stop(ctx)
			if err := store.Close(); err != nil {
				logger.Warn("error closing dedup store", zap.Error(err))
			}
			if err := docs.Close(); err != nil {
				logger.Warn("error closing document store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
