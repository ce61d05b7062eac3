// flowcase-scheduler — отдельный процесс cron для нескольких серверов.
//
// Лидер выбирается через pg_advisory_lock: только он запускает cron
// и публикует cases.create в RabbitMQ. Серверы создают cases
// из очереди, поэтому на них CRON_ENABLED выключается.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowcase/internal/config"
	"github.com/shaiso/flowcase/internal/definition"
	"github.com/shaiso/flowcase/internal/mq"
	"github.com/shaiso/flowcase/internal/repo"
	"github.com/shaiso/flowcase/internal/scheduler"
	"github.com/shaiso/flowcase/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting flowcase-scheduler")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.RabbitMQURL == "" {
		logger.Error("RABBITMQ_URL is required")
		os.Exit(1)
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool — только для блокировки лидера
	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}
	publisher := mq.NewPublisher(mqConn, logger)

	defs := definition.NewStore(definition.Config{Dir: cfg.FlowsDir, Logger: logger})
	if err := defs.Load(); err != nil {
		logger.Error("failed to load flows", "error", err)
		os.Exit(1)
	}

	cron := scheduler.New(scheduler.Config{
		Creator: scheduler.CaseCreatorFunc(func(ctx context.Context, caseType string, params json.RawMessage) error {
			return publisher.PublishCaseCreate(ctx, mq.CaseCreatePayload{CaseType: caseType, Params: params})
		}),
		Logger: logger,
	})
	cron.Reload(defs.List())
	defs.Subscribe(cron.Reload)

	if cfg.FlowsWatch {
		go func() {
			if err := defs.Watch(ctx); err != nil {
				logger.Error("flows watch stopped", "error", err)
			}
		}()
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// election loop
	electionDone := make(chan struct{})
	go func() {
		defer close(electionDone)
		tk := time.NewTicker(5 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				cron.Stop()
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
			}
		}()

		for {
			select {
			case <-tk.C:
				if hasLock {
					continue
				}
				// пытаемся стать лидером
				var ok bool
				if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
					logger.Warn("lock error", "error", err)
					continue
				}
				if ok {
					hasLock = true
					cron.Start()
					logger.Info("became leader", "jobs", len(cron.Jobs()))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	port := ":" + config.Env("SCHED_PORT", "8081")
	server := &http.Server{Addr: port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server error", "error", err)
		cancel()
	}

	// дожидаемся снятия блокировки лидера
	<-electionDone
	logger.Info("flowcase-scheduler stopped")
}
