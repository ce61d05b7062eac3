// flowcase-worker — pull-воркер очереди flowcase.
//
// Worker:
//   - Опрашивает /.queue/worker по префиксу WORKER_PREFIX
//   - Пересылает событие в WORKER_TARGET или отвечает эхом
//   - Отправляет результат обратно в /.queue/response
//
// Workers масштабируются горизонтально: экземпляры с одним префиксом
// образуют группу.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/flowcase/internal/config"
	"github.com/shaiso/flowcase/internal/telemetry"
	"github.com/shaiso/flowcase/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting flowcase-worker")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hostname, _ := os.Hostname()
	prefix := config.Env("WORKER_PREFIX", "/")
	target := config.Env("WORKER_TARGET", "")

	var executor worker.Executor = worker.EchoExecutor{}
	if target != "" {
		executor = &worker.HTTPExecutor{Target: target}
		logger.Info("forwarding events", "target", target)
	}

	w := worker.New(worker.Config{
		BaseURL:     config.Env("FLOWCASE_URL", "http://localhost:8080"),
		Prefix:      prefix,
		WorkerID:    config.Env("WORKER_ID", hostname),
		APIKey:      config.Env("WORKER_API_KEY", ""),
		Slow:        time.Duration(config.EnvInt("WORKER_SLOW", 0)) * time.Second,
		Concurrency: config.EnvInt("WORKER_CONCURRENCY", 1),
		Registry:    worker.NewRegistry(executor),
		Logger:      logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":" + config.Env("WORKER_PORT", "8082")
	server := &http.Server{Addr: port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("listening", "addr", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	// Останавливаем worker: дожидаемся обработки текущих событий
	w.Stop()
	logger.Info("flowcase-worker stopped")
}
