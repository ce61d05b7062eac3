package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/archive"
	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/engine"
	"github.com/shaiso/flowcase/internal/repo"
	"github.com/shaiso/flowcase/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultTaskTimeout = 30 * time.Second

	// MaxExternalIDLen — максимальная длина externalId.
	MaxExternalIDLen = 128

	// MaxWait — максимальное ожидание завершения case в WaitCase.
	MaxWait = 55 * time.Second
)

// Manager ведёт case по шагам flow.
//
// Manager:
//   - создаёт case и планирует тики
//   - на тике открывает шаги и создаёт tasks
//   - вычисляет запросы tasks и передаёт их Dispatcher
//   - принимает результаты tasks
//   - завершает и архивирует case
//
// Все изменения case выполняются в тиках Pool, по одному тику на case.
type Manager struct {
	cases      CaseStore
	tasks      TaskStore
	archive    Archive
	defs       Definitions
	dispatcher Dispatcher
	callbacks  Callbacks
	publisher  Publisher

	defaultTimeout int

	pool    *Pool
	waiting *waitingCases
	timers  *taskTimers
	logger  *slog.Logger
}

// Config — конфигурация Manager.
type Config struct {
	Cases       CaseStore
	Tasks       TaskStore
	Archive     Archive
	Definitions Definitions
	Dispatcher  Dispatcher

	// Callbacks — вызов внешнего callback (опционально).
	Callbacks Callbacks

	// Publisher — публикация case.finished (опционально).
	Publisher Publisher

	DefaultTimeout time.Duration // таймаут task без своего timeout (default: 30s)
	Workers        int           // одновременных тиков (default: 4)

	Logger *slog.Logger
}

// CreateRequest — запрос на создание case.
type CreateRequest struct {
	CaseType   string           `json:"caseType"`
	ExternalID string           `json:"externalId,omitempty"`
	Params     json.RawMessage  `json:"params,omitempty"`
	Assets     []string         `json:"assets,omitempty"`
	Callback   *domain.Callback `json:"callback,omitempty"`
}

// New создаёт Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	m := &Manager{
		cases:          cfg.Cases,
		tasks:          cfg.Tasks,
		archive:        cfg.Archive,
		defs:           cfg.Definitions,
		dispatcher:     cfg.Dispatcher,
		callbacks:      cfg.Callbacks,
		publisher:      cfg.Publisher,
		defaultTimeout: int(timeout / time.Second),
		waiting:        newWaitingCases(),
		timers:         newTaskTimers(),
		logger:         logger,
	}
	m.pool = NewPool(cfg.Workers, m.tick, logger)
	return m
}

// Close останавливает тики и таймеры tasks.
func (m *Manager) Close() {
	m.pool.Close()
	m.timers.stopAll()
	m.logger.Info("case manager stopped")
}

// Schedule планирует тик case.
func (m *Manager) Schedule(caseID uuid.UUID) {
	m.pool.Schedule(caseID)
}

// CreateCase создаёт case и планирует первый тик.
func (m *Manager) CreateCase(ctx context.Context, req CreateRequest) (*domain.Case, error) {
	def, err := m.resolve(req.CaseType)
	if err != nil {
		return nil, err
	}
	if len(req.ExternalID) > MaxExternalIDLen {
		return nil, fmt.Errorf("%w: externalId longer than %d", ErrInvalidRequest, MaxExternalIDLen)
	}
	if len(req.Params) > 0 && !json.Valid(req.Params) {
		return nil, fmt.Errorf("%w: params is not valid JSON", ErrInvalidRequest)
	}

	assets := make([]domain.Asset, 0, len(req.Assets))
	for _, id := range req.Assets {
		info, err := m.archive.LoadAssetInfo(ctx, def.Code, id)
		if err != nil {
			if errors.Is(err, archive.ErrNotFound) || errors.Is(err, archive.ErrInvalidKey) {
				return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, id)
			}
			return nil, fmt.Errorf("load asset %s: %w", id, err)
		}
		assets = append(assets, info.Asset())
	}

	c := &domain.Case{
		ID:         uuid.New(),
		CaseType:   def.Code,
		ExternalID: req.ExternalID,
		Params:     req.Params,
		Assets:     assets,
		Callback:   req.Callback,
		Created:    time.Now().UTC(),
		State:      domain.CaseStateCreated,
	}
	if err := m.cases.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("insert case: %w", err)
	}

	m.logger.Info("case created", "case_id", c.ID, "case_type", c.CaseType, "external_id", c.ExternalID)
	telemetry.CasesCreated.WithLabelValues(c.CaseType).Inc()
	m.pool.Schedule(c.ID)
	return c, nil
}

// StartCase создаёт case из произвольных params. ExternalID и assets
// вычисляются выражениями externalIdExpr и assetsExpr над "params".
func (m *Manager) StartCase(ctx context.Context, caseType string, params json.RawMessage, cb *domain.Callback) (*domain.Case, error) {
	def, err := m.resolve(caseType)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 && !json.Valid(params) {
		return nil, fmt.Errorf("%w: params is not valid JSON", ErrInvalidRequest)
	}

	script := engine.NewScript(map[string]any{
		"params": engine.CaseValue(&domain.Case{Params: params})["params"],
	})
	req := CreateRequest{CaseType: def.Code, Params: params, Callback: cb}

	if def.ExternalIDExpr != "" {
		r, err := script.Expr(def.ExternalIDExpr)
		if err != nil || !r.IsReady() {
			return nil, fmt.Errorf("%w: read externalId from params", ErrInvalidRequest)
		}
		req.ExternalID = engine.Stringify(r.Value)
	}
	if def.AssetsExpr != "" {
		r, err := script.Expr(def.AssetsExpr)
		if err != nil || !r.IsReady() {
			return nil, fmt.Errorf("%w: read assets from params", ErrInvalidRequest)
		}
		switch v := r.Value.(type) {
		case string:
			req.Assets = []string{v}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					req.Assets = append(req.Assets, s)
				}
			}
		}
	}
	return m.CreateCase(ctx, req)
}

// LoadCase возвращает case. full для завершённого case загружает
// финальную версию с tasks из архива.
func (m *Manager) LoadCase(ctx context.Context, id uuid.UUID, full bool) (*domain.Case, error) {
	c, err := m.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
		}
		return nil, fmt.Errorf("get case: %w", err)
	}
	if full && c.IsFinished() {
		c = m.loadFinal(ctx, c)
	}
	m.assetURLs(ctx, c)
	return c, nil
}

// WaitCase возвращает case, дождавшись его завершения не дольше wait
// (ограничено MaxWait).
func (m *Manager) WaitCase(ctx context.Context, id uuid.UUID, wait time.Duration, full bool) (*domain.Case, error) {
	c, err := m.LoadCase(ctx, id, full)
	if err != nil || c.IsFinished() || wait <= 0 {
		return c, err
	}
	wait = min(wait, MaxWait)

	ch := m.waiting.add(id)
	defer m.waiting.remove(id, ch)

	// case мог завершиться между загрузкой и регистрацией
	if c, err = m.LoadCase(ctx, id, full); err != nil || c.IsFinished() {
		return c, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.LoadCase(ctx, id, full)
}

// ListTasks возвращает сохранённые tasks case.
func (m *Manager) ListTasks(ctx context.Context, caseID uuid.UUID) ([]domain.Task, error) {
	if _, err := m.LoadCase(ctx, caseID, false); err != nil {
		return nil, err
	}
	tasks, err := m.tasks.ListByCaseID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Recover подготавливает хранилище после рестарта: удаляет незавершённые
// tasks (они будут созданы заново) и планирует тик каждого
// незавершённого case.
func (m *Manager) Recover(ctx context.Context) error {
	deleted, err := m.tasks.DeleteUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("delete unfinished tasks: %w", err)
	}
	ids, err := m.cases.ListUnfinishedIDs(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished cases: %w", err)
	}
	for _, id := range ids {
		m.pool.Schedule(id)
	}
	m.logger.Info("cases recovered", "cases", len(ids), "deleted_tasks", deleted)
	return nil
}

func (m *Manager) resolve(caseType string) (*domain.FlowDef, error) {
	def, err := m.defs.Resolve(caseType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCaseType, caseType)
	}
	return def, nil
}

func (m *Manager) loadFinal(ctx context.Context, c *domain.Case) *domain.Case {
	final, err := m.archive.LoadFinalCase(ctx, c.CaseType, c.ID)
	if err != nil {
		m.logger.Debug("final case not loaded", "case_id", c.ID, "error", err)
		return c
	}
	final.Callback = c.Callback
	return final
}

func (m *Manager) assetURLs(ctx context.Context, c *domain.Case) {
	for i := range c.Assets {
		url, err := m.archive.AssetURL(ctx, c.CaseType, c.Assets[i])
		if err != nil {
			m.logger.Debug("asset url not created", "case_id", c.ID, "asset_id", c.Assets[i].ID, "error", err)
			continue
		}
		c.Assets[i].URL = url
	}
}
