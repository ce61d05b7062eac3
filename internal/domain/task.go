package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Task — одна попытка выполнить воркер шага для конкретного case и индекса.
//
// Task живёт только в памяти, пока не отправлен воркеру или не завершён
// без отправки. В этот момент заполняется Created и task сохраняется в БД.
// После архивации case все его tasks удаляются.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// CaseID — ссылка на case.
	CaseID uuid.UUID `json:"case_id"`

	// Step — код шага.
	Step string `json:"step"`

	// Worker — код воркера внутри шага.
	Worker string `json:"worker"`

	// StepIndex — индекс элемента для шагов с itemsExpr, иначе 0.
	// Task итератора всегда имеет индекс 0.
	StepIndex int `json:"step_index"`

	// Created — время сохранения task (отправка или немедленное завершение).
	Created *time.Time `json:"created,omitempty"`

	// QueueSent — время выдачи события pull-воркеру через очередь.
	QueueSent *time.Time `json:"queue_sent,omitempty"`

	// Finished — время завершения.
	Finished *time.Time `json:"finished,omitempty"`

	// Timeout — таймаут в секундах.
	Timeout int `json:"timeout"`

	// ResponseCode — HTTP-код результата.
	ResponseCode int `json:"response_code,omitempty"`

	// Response — JSON результата при успехе.
	Response json.RawMessage `json:"response,omitempty"`

	// Error — текст ошибки при неуспехе.
	Error string `json:"error,omitempty"`
}

// NewTask создаёт новый (ещё не сохранённый) task.
func NewTask(caseID uuid.UUID, step, worker string, stepIndex, timeout int) *Task {
	return &Task{
		ID:        uuid.New(),
		CaseID:    caseID,
		Step:      step,
		Worker:    worker,
		StepIndex: stepIndex,
		Timeout:   timeout,
	}
}

// IsSent возвращает true, если task уже сохранён (отправлен или завершён).
func (t *Task) IsSent() bool {
	return t.Created != nil
}

// IsFinished возвращает true, если task завершён.
func (t *Task) IsFinished() bool {
	return t.Finished != nil
}

// Failed возвращает true, если task завершён с кодом вне 200..202.
func (t *Task) Failed() bool {
	return t.IsFinished() && !IsSuccessCode(t.ResponseCode)
}

// Expired проверяет, истёк ли таймаут незавершённого task.
func (t *Task) Expired(now time.Time) bool {
	if t.Created == nil || t.Finished != nil || t.Timeout <= 0 {
		return false
	}
	return t.Created.Add(time.Duration(t.Timeout) * time.Second).Before(now)
}

// Key возвращает ключ уникальности task внутри шага: worker:index.
func (t *Task) Key() string {
	return TaskKey(t.Worker, t.StepIndex)
}

// TaskKey возвращает ключ worker:index.
func TaskKey(worker string, stepIndex int) string {
	return worker + ":" + strconv.Itoa(stepIndex)
}
