package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultWatchdogInterval = 60 * time.Second

// Watchdog восстанавливает case после рестарта и завершает tasks,
// у которых истёк таймаут, но таймер процесса не сработал.
type Watchdog struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// WatchdogConfig — конфигурация Watchdog.
type WatchdogConfig struct {
	Manager  *Manager
	Interval time.Duration // период проверки (default: 60s)
	Logger   *slog.Logger
}

// NewWatchdog создаёт Watchdog.
func NewWatchdog(cfg WatchdogConfig) *Watchdog {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultWatchdogInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		manager:  cfg.Manager,
		interval: interval,
		logger:   logger,
	}
}

// Start выполняет восстановление и запускает периодическую проверку.
func (w *Watchdog) Start(ctx context.Context) error {
	if err := w.manager.Recover(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	w.logger.Info("watchdog started", "interval", w.interval)
	return nil
}

// Stop останавливает проверку и ждёт её завершения.
func (w *Watchdog) Stop() {
	if w.cancelFunc != nil {
		w.cancelFunc()
	}
	w.wg.Wait()
	w.logger.Info("watchdog stopped")
}

func (w *Watchdog) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep завершает просроченные tasks с кодом 408.
// Возвращает количество завершённых tasks.
func (w *Watchdog) Sweep(ctx context.Context) int {
	ids, err := w.manager.tasks.ListExpiredIDs(ctx)
	if err != nil {
		w.logger.Error("list expired tasks", "error", err)
		return 0
	}

	finished := 0
	for _, id := range ids {
		err := w.manager.FinishTask(ctx, id, http.StatusRequestTimeout, []byte("timeout-watchdog"))
		switch {
		case err == nil:
			finished++
		case errors.Is(err, ErrTaskFinished), errors.Is(err, ErrTaskNotFound):
		default:
			w.logger.Error("expired task not finished", "task_id", id, "error", err)
		}
	}
	if finished > 0 {
		w.logger.Info("expired tasks finished", "count", finished)
	}
	return finished
}
