package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/archive"
	"github.com/shaiso/flowcase/internal/dispatch"
	"github.com/shaiso/flowcase/internal/domain"
)

// CaseStore — хранилище case. Реализации: repo.CaseRepo, repo.MemCaseRepo.
type CaseStore interface {
	Insert(ctx context.Context, c *domain.Case) error
	UpdateState(ctx context.Context, id uuid.UUID, state domain.CaseState) error
	Finish(ctx context.Context, id uuid.UUID, state domain.CaseState, response json.RawMessage) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error)
	ListUnfinishedIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TaskStore — хранилище tasks. Реализации: repo.TaskRepo, repo.MemTaskRepo.
type TaskStore interface {
	Insert(ctx context.Context, task *domain.Task) error
	FinishOk(ctx context.Context, id uuid.UUID, code int, response json.RawMessage) error
	FinishError(ctx context.Context, id uuid.UUID, code int, msg string) error
	MarkQueueSent(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]domain.Task, error)
	ListExpiredIDs(ctx context.Context) ([]uuid.UUID, error)
	DeleteByCaseID(ctx context.Context, caseID uuid.UUID) error
	DeleteUnfinished(ctx context.Context) (int64, error)
}

// Archive — хранилище завершённых case и assets.
type Archive interface {
	SaveFinalCase(ctx context.Context, c *domain.Case) error
	LoadFinalCase(ctx context.Context, caseType string, id uuid.UUID) (*domain.Case, error)
	LoadAssetInfo(ctx context.Context, caseType, id string) (*archive.AssetInfo, error)
	AssetURL(ctx context.Context, caseType string, asset domain.Asset) (string, error)
}

// Definitions — источник определений flow.
type Definitions interface {
	Resolve(code string) (*domain.FlowDef, error)
}

// Dispatcher отправляет запросы tasks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request, tr dispatch.Tracker) error
}

// Callbacks вызывает внешний callback завершённого case.
type Callbacks interface {
	CallAsync(id string, cb *domain.Callback, headers map[string]string, body []byte)
}

// Publisher публикует событие о завершении case.
type Publisher interface {
	PublishCaseFinished(ctx context.Context, c *domain.Case) error
}
