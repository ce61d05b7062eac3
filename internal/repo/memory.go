package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
)

// MemCaseRepo — CaseRepo в памяти (STORE=memory и тесты).
type MemCaseRepo struct {
	mu    sync.RWMutex
	cases map[uuid.UUID]*domain.Case
}

// NewMemCaseRepo создаёт пустой MemCaseRepo.
func NewMemCaseRepo() *MemCaseRepo {
	return &MemCaseRepo{cases: make(map[uuid.UUID]*domain.Case)}
}

// Insert создаёт case.
func (r *MemCaseRepo) Insert(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; ok {
		return ErrAlreadyExists
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

// UpdateState переводит незавершённый case в состояние state.
func (r *MemCaseRepo) UpdateState(_ context.Context, id uuid.UUID, state domain.CaseState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return ErrNotFound
	}
	if c.Finished != nil {
		return ErrInvalidState
	}
	c.State = state
	return nil
}

// Finish завершает case.
func (r *MemCaseRepo) Finish(_ context.Context, id uuid.UUID, state domain.CaseState, response json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return ErrNotFound
	}
	if c.Finished != nil {
		return ErrInvalidState
	}
	now := time.Now()
	c.Finished = &now
	c.State = state
	c.Response = bytes.Clone(response)
	return nil
}

// GetByID возвращает копию case.
func (r *MemCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// ListUnfinishedIDs возвращает ID незавершённых case в порядке создания.
func (r *MemCaseRepo) ListUnfinishedIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []*domain.Case
	for _, c := range r.cases {
		if c.Finished == nil {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Created.Before(list[j].Created) })
	ids := make([]uuid.UUID, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids, nil
}

// MemTaskRepo — TaskRepo в памяти.
type MemTaskRepo struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*domain.Task
	seq   map[uuid.UUID]int
	next  int
}

// NewMemTaskRepo создаёт пустой MemTaskRepo.
func NewMemTaskRepo() *MemTaskRepo {
	return &MemTaskRepo{
		tasks: make(map[uuid.UUID]*domain.Task),
		seq:   make(map[uuid.UUID]int),
	}
}

// Insert сохраняет копию task.
func (r *MemTaskRepo) Insert(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; ok {
		return ErrAlreadyExists
	}
	for _, t := range r.tasks {
		if t.CaseID == task.CaseID && t.Step == task.Step && t.Worker == task.Worker && t.StepIndex == task.StepIndex {
			return ErrAlreadyExists
		}
	}
	cp := *task
	r.tasks[task.ID] = &cp
	r.next++
	r.seq[task.ID] = r.next
	return nil
}

// FinishOk завершает task успешно.
func (r *MemTaskRepo) FinishOk(_ context.Context, id uuid.UUID, code int, response json.RawMessage) error {
	return r.finish(id, func(t *domain.Task) {
		t.ResponseCode = code
		t.Response = bytes.Clone(response)
		t.Error = ""
	})
}

// FinishError завершает task с ошибкой.
func (r *MemTaskRepo) FinishError(_ context.Context, id uuid.UUID, code int, msg string) error {
	return r.finish(id, func(t *domain.Task) {
		t.ResponseCode = code
		t.Response = nil
		t.Error = msg
	})
}

func (r *MemTaskRepo) finish(id uuid.UUID, apply func(*domain.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Finished != nil {
		return ErrInvalidState
	}
	now := time.Now()
	t.Finished = &now
	apply(t)
	return nil
}

// MarkQueueSent отмечает выдачу task pull-воркеру.
func (r *MemTaskRepo) MarkQueueSent(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	t.QueueSent = &now
	return nil
}

// GetByID возвращает копию task.
func (r *MemTaskRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListByCaseID возвращает tasks case в порядке сохранения.
func (r *MemTaskRepo) ListByCaseID(_ context.Context, caseID uuid.UUID) ([]domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tasks []domain.Task
	for _, t := range r.tasks {
		if t.CaseID == caseID {
			tasks = append(tasks, *t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return r.seq[tasks[i].ID] < r.seq[tasks[j].ID] })
	return tasks, nil
}

// ListExpiredIDs возвращает незавершённые tasks с истёкшим таймаутом.
func (r *MemTaskRepo) ListExpiredIDs(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var ids []uuid.UUID
	for _, t := range r.tasks {
		if t.Expired(now) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

// DeleteByCaseID удаляет tasks case.
func (r *MemTaskRepo) DeleteByCaseID(_ context.Context, caseID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tasks {
		if t.CaseID == caseID {
			delete(r.tasks, id)
			delete(r.seq, id)
		}
	}
	return nil
}

// DeleteUnfinished удаляет незавершённые tasks.
func (r *MemTaskRepo) DeleteUnfinished(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tasks {
		if t.Finished == nil {
			delete(r.tasks, id)
			delete(r.seq, id)
			n++
		}
	}
	return n, nil
}
