package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/mq"
	"github.com/shaiso/flowcase/internal/repo"
	"github.com/shaiso/flowcase/internal/telemetry"
)

// storeTimeout ограничивает сохранение результата, пришедшего вне запроса.
const storeTimeout = 10 * time.Second

// FinishTask сохраняет результат task и планирует тик его case.
//
// При коде 200..202 body должен быть JSON; иначе body сохраняется
// как JSON-строка. Для остальных кодов body — текст ошибки.
func (m *Manager) FinishTask(ctx context.Context, taskID uuid.UUID, status int, body []byte) error {
	t, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrTaskNotFound
		}
		return err
	}
	if t.IsFinished() {
		return ErrTaskFinished
	}
	return m.storeResult(ctx, t, status, body)
}

// FinishTaskResponse сохраняет результат, присланный воркером в callback.
// Успешный ответ с невалидным JSON завершает task с кодом 400.
func (m *Manager) FinishTaskResponse(ctx context.Context, taskID uuid.UUID, status int, body []byte) error {
	if domain.IsSuccessCode(status) && len(body) > 0 && !json.Valid(body) {
		return m.FinishTask(ctx, taskID, http.StatusBadRequest, []byte("parse json body error invalid json"))
	}
	if domain.IsSuccessCode(status) && len(body) == 0 {
		body = []byte("null")
	}
	return m.FinishTask(ctx, taskID, status, body)
}

// HandleCaseCreate создаёт case по сообщению case.create.
func (m *Manager) HandleCaseCreate(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.CaseCreatePayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("%w: %v", mq.ErrReject, err)
	}

	c, err := m.CreateCase(ctx, CreateRequest{
		CaseType:   payload.CaseType,
		ExternalID: payload.ExternalID,
		Params:     payload.Params,
		Assets:     payload.Assets,
		Callback:   payload.Callback,
	})
	switch {
	case errors.Is(err, ErrUnknownCaseType), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidAsset):
		m.logger.Warn("case.create rejected", "case_type", payload.CaseType, "error", err)
		return fmt.Errorf("%w: %v", mq.ErrReject, err)
	case err != nil:
		return err
	}
	m.logger.Debug("case created from queue", "case_id", c.ID, "message_id", delivery.Message.ID)
	return nil
}

// completeTask завершает task тика без обращения к воркеру.
func (m *Manager) completeTask(ctx context.Context, t *domain.Task, status int, body []byte) {
	if !t.IsSent() {
		if err := m.insertTask(ctx, t); err != nil {
			m.logger.Error("task not saved", "case_id", t.CaseID, "task_id", t.ID, "error", err)
			return
		}
	}
	if err := m.storeResult(ctx, t, status, body); err != nil && !errors.Is(err, ErrTaskFinished) {
		m.logger.Error("task result not saved", "case_id", t.CaseID, "task_id", t.ID, "error", err)
	}
}

func (m *Manager) insertTask(ctx context.Context, t *domain.Task) error {
	now := time.Now().UTC()
	t.Created = &now
	if err := m.tasks.Insert(ctx, t); err != nil {
		t.Created = nil
		return err
	}
	return nil
}

// storeResult сохраняет результат и планирует тик case.
func (m *Manager) storeResult(ctx context.Context, t *domain.Task, status int, body []byte) error {
	var err error
	if domain.IsSuccessCode(status) {
		response := json.RawMessage(body)
		if len(body) == 0 {
			response = json.RawMessage("null")
		} else if !json.Valid(body) {
			response, _ = json.Marshal(string(body))
		}
		err = m.tasks.FinishOk(ctx, t.ID, status, response)
	} else {
		err = m.tasks.FinishError(ctx, t.ID, status, string(body))
	}
	switch {
	case errors.Is(err, repo.ErrInvalidState):
		return ErrTaskFinished
	case errors.Is(err, repo.ErrNotFound):
		return ErrTaskNotFound
	case err != nil:
		return err
	}

	m.timers.stop(t.ID)
	m.logger.Info("task finished",
		"case_id", t.CaseID, "task_id", t.ID, "step", t.Step, "worker", t.Worker,
		"index", t.StepIndex, "status", status)
	telemetry.TasksFinished.WithLabelValues(telemetry.StatusClass(status)).Inc()
	m.pool.Schedule(t.CaseID)
	return nil
}

// onTimeout завершает task по истечении таймаута.
func (m *Manager) onTimeout(taskID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := m.FinishTask(ctx, taskID, http.StatusRequestTimeout, []byte("timeout"))
	if err != nil && !errors.Is(err, ErrTaskFinished) && !errors.Is(err, ErrTaskNotFound) {
		m.logger.Error("task timeout not saved", "task_id", taskID, "error", err)
	}
}

// taskTracker связывает отправку task с его записью в хранилище.
type taskTracker struct {
	m    *Manager
	task *domain.Task
}

func (tr *taskTracker) Sent(ctx context.Context) error {
	t := tr.task
	if err := tr.m.insertTask(ctx, t); err != nil {
		return err
	}
	if t.Timeout > 0 {
		tr.m.timers.start(t.ID, time.Duration(t.Timeout)*time.Second, tr.m.onTimeout)
	}
	return nil
}

func (tr *taskTracker) QueueSent() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := tr.m.tasks.MarkQueueSent(ctx, tr.task.ID); err != nil {
		tr.m.logger.Warn("queue sent not saved", "task_id", tr.task.ID, "error", err)
	}
}

func (tr *taskTracker) Finish(status int, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	tr.m.completeTask(ctx, tr.task, status, body)
}
