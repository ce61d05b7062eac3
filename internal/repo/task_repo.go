package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowcase/internal/domain"
)

// TaskRepo — репозиторий tasks (таблица flow_task).
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, case_id, step, worker, step_index, created, queue_sent, finished,
		       timeout, response_code, response, error`

// Insert сохраняет task. Повтор (case, step, worker, step_index) даёт ErrAlreadyExists.
func (r *TaskRepo) Insert(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO flow_task (id, case_id, step, worker, step_index, created, queue_sent,
		                       finished, timeout, response_code, response, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var code *int
	if task.ResponseCode != 0 {
		code = &task.ResponseCode
	}
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.CaseID,
		task.Step,
		task.Worker,
		task.StepIndex,
		task.Created,
		task.QueueSent,
		task.Finished,
		task.Timeout,
		code,
		nullJSON(task.Response),
		nullString(task.Error),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// FinishOk завершает task успешно. Завершённый task не изменяется
// (ErrInvalidState).
func (r *TaskRepo) FinishOk(ctx context.Context, id uuid.UUID, code int, response json.RawMessage) error {
	return r.finish(ctx, `
		UPDATE flow_task SET finished = now(), response_code = $2, response = $3, error = NULL
		WHERE id = $1 AND finished IS NULL
	`, id, code, nullJSON(response))
}

// FinishError завершает task с ошибкой.
func (r *TaskRepo) FinishError(ctx context.Context, id uuid.UUID, code int, msg string) error {
	return r.finish(ctx, `
		UPDATE flow_task SET finished = now(), response_code = $2, response = NULL, error = $3
		WHERE id = $1 AND finished IS NULL
	`, id, code, msg)
}

func (r *TaskRepo) finish(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	result, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM flow_task WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// MarkQueueSent отмечает выдачу task pull-воркеру.
func (r *TaskRepo) MarkQueueSent(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `UPDATE flow_task SET queue_sent = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark queue sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+taskColumns+` FROM flow_task WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	task, err := pgx.CollectExactlyOneRow(rows, scanTask)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &task, nil
}

// ListByCaseID возвращает tasks case в порядке сохранения.
func (r *TaskRepo) ListByCaseID(ctx context.Context, caseID uuid.UUID) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM flow_task
		WHERE case_id = $1
		ORDER BY created ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by case_id: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, scanTask)
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return tasks, nil
}

// ListExpiredIDs возвращает незавершённые tasks с истёкшим таймаутом.
func (r *TaskRepo) ListExpiredIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM flow_task
		WHERE timeout IS NOT NULL AND timeout > 0
		  AND finished IS NULL
		  AND created + make_interval(secs => timeout) < now()
	`)
	if err != nil {
		return nil, fmt.Errorf("list expired tasks: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// DeleteByCaseID удаляет все tasks case.
func (r *TaskRepo) DeleteByCaseID(ctx context.Context, caseID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM flow_task WHERE case_id = $1`, caseID); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}

// DeleteUnfinished удаляет все незавершённые tasks. Возвращает их количество.
func (r *TaskRepo) DeleteUnfinished(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM flow_task WHERE finished IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("delete unfinished tasks: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanTask(row pgx.CollectableRow) (domain.Task, error) {
	var (
		task     domain.Task
		timeout  *int
		code     *int
		response []byte
		msg      *string
	)
	err := row.Scan(
		&task.ID,
		&task.CaseID,
		&task.Step,
		&task.Worker,
		&task.StepIndex,
		&task.Created,
		&task.QueueSent,
		&task.Finished,
		&timeout,
		&code,
		&response,
		&msg,
	)
	if err != nil {
		return task, err
	}
	if timeout != nil {
		task.Timeout = *timeout
	}
	if code != nil {
		task.ResponseCode = *code
	}
	task.Response = response
	if msg != nil {
		task.Error = *msg
	}
	return task, nil
}
