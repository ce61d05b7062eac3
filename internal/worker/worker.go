package worker

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Значения по умолчанию.
const (
	defaultConcurrency = 1
	defaultPollTimeout = 30 * time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Worker забирает события из очереди сервера и выполняет их.
//
// Worker — stateless компонент:
//   - long-poll GET /.queue/worker по своему префиксу
//   - выполнение события executor'ом из Registry
//   - ответ POST /.queue/response/{id} с fw-status
//
// Несколько экземпляров с одним префиксом образуют группу воркеров.
type Worker struct {
	baseURL     string
	prefix      string
	workerID    string
	apiKey      string
	slow        time.Duration
	concurrency int
	pollTimeout time.Duration
	maxBackoff  time.Duration

	client   *http.Client
	registry *Registry

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// BaseURL — адрес сервера flowcase.
	BaseURL string

	// Prefix — префикс пути группы, например "/orders/".
	Prefix string

	WorkerID string

	// APIKey — общий ключ воркеров (X-Api-Key).
	APIKey string

	// Slow > 0 делает воркера медленным: он получает событие,
	// только если быстрые воркеры группы не опрашивали очередь дольше Slow.
	Slow time.Duration

	Concurrency int           // параллельные poller'ы (default: 1)
	PollTimeout time.Duration // таймаут long-poll (default: 30s)
	MaxBackoff  time.Duration // максимальная пауза после ошибок (default: 30s)

	// Client для запросов к серверу. Таймаут клиента должен быть
	// больше PollTimeout.
	Client *http.Client

	Registry *Registry
	Logger   *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: pollTimeout + 10*time.Second}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry(EchoExecutor{})
	}

	prefix := cfg.Prefix
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	return &Worker{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		prefix:      prefix,
		workerID:    cfg.WorkerID,
		apiKey:      cfg.APIKey,
		slow:        cfg.Slow,
		concurrency: concurrency,
		pollTimeout: pollTimeout,
		maxBackoff:  maxBackoff,
		client:      client,
		registry:    registry,
		logger:      logger.With("prefix", prefix),
	}
}

// Start запускает poller'ы Worker.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"server", w.baseURL,
		"worker_id", w.workerID,
		"concurrency", w.concurrency,
		"slow", w.slow,
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.pollLoop(ctx)
		}()
	}

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт текущие события.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл одного poller'а.
func (w *Worker) pollLoop(ctx context.Context) {
	failures := 0
	for ctx.Err() == nil {
		e, err := w.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := calculateBackoff(failures, w.maxBackoff)
			w.logger.Warn("poll failed", "error", err, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0
		if e == nil {
			continue
		}
		w.process(ctx, e)
	}
}

// calculateBackoff вычисляет паузу после attempt ошибок подряд:
// 1s, 2s, 4s ... но не больше maxDelay.
func calculateBackoff(attempt int, maxDelay time.Duration) time.Duration {
	delay := time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
