package domain

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Case — один запуск flow.
//
// Case создаётся через API, cron или сообщение из RabbitMQ.
// Меняется только через атомарные операции хранилища
// (insert, update state, finish).
type Case struct {
	// ID — уникальный идентификатор case.
	ID uuid.UUID `json:"id"`

	// CaseType — код flow.
	CaseType string `json:"case_type"`

	// ExternalID — внешний идентификатор (необязательный).
	ExternalID string `json:"external_id,omitempty"`

	// Params — входные параметры.
	Params json.RawMessage `json:"params,omitempty"`

	// Assets — прикреплённые файлы из архива.
	Assets []Asset `json:"assets,omitempty"`

	// Callback — куда отправить результат после завершения.
	Callback *Callback `json:"callback,omitempty"`

	// Created — время создания.
	Created time.Time `json:"created"`

	// Finished — время завершения.
	Finished *time.Time `json:"finished,omitempty"`

	// State — текущее состояние.
	State CaseState `json:"state"`

	// Response — результат, заполняется после завершения.
	Response json.RawMessage `json:"response,omitempty"`

	// Tasks — tasks завершённого case (только в архиве).
	Tasks []Task `json:"tasks,omitempty"`
}

// IsFinished возвращает true, если case завершён.
func (c *Case) IsFinished() bool {
	return c.Finished != nil
}

// Clone возвращает глубокую копию case без Tasks.
func (c *Case) Clone() *Case {
	cp := *c
	cp.Params = bytes.Clone(c.Params)
	cp.Response = bytes.Clone(c.Response)
	cp.Assets = slices.Clone(c.Assets)
	cp.Tasks = nil
	if c.Finished != nil {
		finished := *c.Finished
		cp.Finished = &finished
	}
	if c.Callback != nil {
		cb := *c.Callback
		cb.Headers = maps.Clone(c.Callback.Headers)
		cp.Callback = &cb
	}
	return &cp
}

// Asset — файл, загруженный в архив и прикреплённый к case.
type Asset struct {
	ID      string `json:"id"`
	ExtName string `json:"ext_name,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Callback — внешний callback, вызываемый после завершения case.
type Callback struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}
