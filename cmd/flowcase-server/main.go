// flowcase-server — HTTP API, движок case и очередь воркеров.
//
// Сервер:
//   - Загружает определения flow из FLOWS_DIR и следит за изменениями
//   - Создаёт cases (HTTP, AMQP cases.create, cron) и ведёт их по шагам
//   - Раздаёт события pull-воркерам через /.queue/worker
//   - Архивирует завершённые cases и отправляет callback
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/flowcase/internal/api"
	"github.com/shaiso/flowcase/internal/archive"
	"github.com/shaiso/flowcase/internal/callback"
	"github.com/shaiso/flowcase/internal/config"
	"github.com/shaiso/flowcase/internal/definition"
	"github.com/shaiso/flowcase/internal/dispatch"
	"github.com/shaiso/flowcase/internal/mq"
	"github.com/shaiso/flowcase/internal/orchestrator"
	"github.com/shaiso/flowcase/internal/queue"
	"github.com/shaiso/flowcase/internal/repo"
	"github.com/shaiso/flowcase/internal/scheduler"
	"github.com/shaiso/flowcase/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting flowcase-server")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("flowcase-server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	started := time.Now()

	cases, tasks, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	arch, err := archive.Open(ctx, archive.Config{URL: cfg.ArchiveURL, PublicURL: cfg.AppHost, Logger: logger})
	if err != nil {
		return err
	}
	defer arch.Close()

	defs := definition.NewStore(definition.Config{Dir: cfg.FlowsDir, Logger: logger})
	if err := defs.Load(); err != nil {
		return err
	}

	runner := callback.NewRunner(callback.Config{Logger: logger})
	defer runner.Wait()

	broker := queue.New(queue.Config{Callbacks: runner, Logger: logger})
	prometheus.MustRegister(queue.NewCollector(broker))
	broker.Start(ctx)
	defer broker.Stop()

	signer := callback.NewSigner(cfg.TaskAPIKeySecret)
	dispatcher, err := dispatch.New(dispatch.Config{
		AppHost: cfg.AppHost,
		Queue:   broker,
		Signer:  signer,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	// RabbitMQ (опционально)
	var publisher orchestrator.Publisher
	var mqConn *mq.Connection
	if cfg.RabbitMQURL != "" {
		mqConn, err = mq.NewConnection(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, AMQP events disabled", "error", err)
		} else {
			defer mqConn.Close()
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			publisher = mq.NewPublisher(mqConn, logger)
			logger.Info("RabbitMQ connected")
		}
	}

	manager := orchestrator.New(orchestrator.Config{
		Cases:          cases,
		Tasks:          tasks,
		Archive:        arch,
		Definitions:    defs,
		Dispatcher:     dispatcher,
		Callbacks:      runner,
		Publisher:      publisher,
		DefaultTimeout: cfg.DefaultTaskTimeout,
		Workers:        cfg.TickWorkers,
		Logger:         logger,
	})
	defer manager.Close()

	// Watchdog подхватывает незавершённые cases после рестарта
	watchdog := orchestrator.NewWatchdog(orchestrator.WatchdogConfig{
		Manager:  manager,
		Interval: cfg.WatchdogInterval,
		Logger:   logger,
	})
	if err := watchdog.Start(ctx); err != nil {
		return err
	}
	defer watchdog.Stop()

	var cron *scheduler.Scheduler
	if cfg.CronEnabled {
		cron = scheduler.New(scheduler.Config{
			Creator: scheduler.CaseCreatorFunc(func(ctx context.Context, caseType string, params json.RawMessage) error {
				_, err := manager.CreateCase(ctx, orchestrator.CreateRequest{CaseType: caseType, Params: params})
				return err
			}),
			Logger: logger,
		})
		cron.Reload(defs.List())
		defs.Subscribe(cron.Reload)
		cron.Start()
		defer cron.Stop()
	}

	handler := api.NewHandler(api.Config{
		Manager:      manager,
		Definitions:  defs,
		Archive:      arch,
		Broker:       broker,
		Cron:         cron,
		Signer:       signer,
		WorkerAPIKey: cfg.WorkerAPIKey,
		Logger:       logger,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	api.RegisterHealth(mux, started)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.FlowsWatch {
		g.Go(func() error {
			return defs.Watch(gctx)
		})
	}
	if mqConn != nil && publisher != nil {
		consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueCasesCreate),
			Handler:  manager.HandleCaseCreate,
			Types:    []mq.MessageType{mq.MessageTypeCaseCreate},
			Prefetch: cfg.TickWorkers,
		})
		g.Go(func() error {
			if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// openStore открывает хранилище cases и tasks по cfg.Store.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (orchestrator.CaseStore, orchestrator.TaskStore, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store, cases are lost on restart")
		return repo.NewMemCaseRepo(), repo.NewMemTaskRepo(), func() {}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := repo.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	logger.Info("database connected")
	return repo.NewCaseRepo(pool), repo.NewTaskRepo(pool), pool.Close, nil
}
