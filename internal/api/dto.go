package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/scheduler"
)

// IDResponse — ответ с id созданного объекта.
type IDResponse struct {
	ID uuid.UUID `json:"id"`
}

// FlowResponse — краткое описание flow.
type FlowResponse struct {
	Code     string            `json:"code"`
	Labels   map[string]string `json:"labels,omitempty"`
	Steps    []string          `json:"steps"`
	CronJobs int               `json:"cron_jobs"`
	Source   string            `json:"source,omitempty"`
}

// FlowFromDomain конвертирует domain.FlowDef в FlowResponse.
func FlowFromDomain(f *domain.FlowDef) FlowResponse {
	steps := make([]string, len(f.Steps))
	for i, s := range f.Steps {
		steps[i] = s.Code
	}
	return FlowResponse{
		Code:     f.Code,
		Labels:   f.Labels,
		Steps:    steps,
		CronJobs: len(f.CronJobs),
		Source:   f.Source,
	}
}

// CronJobResponse — cron job со временем запусков.
type CronJobResponse struct {
	CaseType   string          `json:"case_type"`
	Expression string          `json:"expression"`
	Params     json.RawMessage `json:"params,omitempty"`
	Next       time.Time       `json:"next"`
	Prev       *time.Time      `json:"prev,omitempty"`
}

// CronJobFromScheduler конвертирует scheduler.Job в CronJobResponse.
func CronJobFromScheduler(j scheduler.Job) CronJobResponse {
	resp := CronJobResponse{
		CaseType:   j.CaseType,
		Expression: j.Expression,
		Params:     j.Params,
		Next:       j.Next,
	}
	if !j.Prev.IsZero() {
		prev := j.Prev
		resp.Prev = &prev
	}
	return resp
}

// TaskResponse — task case.
type TaskResponse struct {
	ID           uuid.UUID       `json:"id"`
	Step         string          `json:"step"`
	Worker       string          `json:"worker"`
	StepIndex    int             `json:"step_index"`
	Created      *time.Time      `json:"created,omitempty"`
	QueueSent    *time.Time      `json:"queue_sent,omitempty"`
	Finished     *time.Time      `json:"finished,omitempty"`
	ResponseCode int             `json:"response_code,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Step:         t.Step,
		Worker:       t.Worker,
		StepIndex:    t.StepIndex,
		Created:      t.Created,
		QueueSent:    t.QueueSent,
		Finished:     t.Finished,
		ResponseCode: t.ResponseCode,
		Response:     t.Response,
		Error:        t.Error,
	}
}
