package api

import (
	"log/slog"

	"github.com/shaiso/flowcase/internal/archive"
	"github.com/shaiso/flowcase/internal/callback"
	"github.com/shaiso/flowcase/internal/definition"
	"github.com/shaiso/flowcase/internal/orchestrator"
	"github.com/shaiso/flowcase/internal/queue"
	"github.com/shaiso/flowcase/internal/scheduler"
)

// maxBodySize ограничивает тела запросов API и assets.
const maxBodySize = 32 << 20

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	manager   *orchestrator.Manager
	defs      *definition.Store
	archive   *archive.Archive
	broker    *queue.Broker
	cron      *scheduler.Scheduler
	signer    *callback.Signer
	workerKey string
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Manager     *orchestrator.Manager
	Definitions *definition.Store
	Archive     *archive.Archive
	Broker      *queue.Broker

	// Cron — планировщик cron jobs (опционально).
	Cron *scheduler.Scheduler

	// Signer проверяет X-Api-Key task callback.
	Signer *callback.Signer

	// WorkerAPIKey — общий ключ эндпоинтов воркеров, пустой — без проверки.
	WorkerAPIKey string

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager:   cfg.Manager,
		defs:      cfg.Definitions,
		archive:   cfg.Archive,
		broker:    cfg.Broker,
		cron:      cfg.Cron,
		signer:    cfg.Signer,
		workerKey: cfg.WorkerAPIKey,
		logger:    logger,
	}
}
