package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/shaiso/flowcase/internal/dispatch"
	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/engine"
	"github.com/shaiso/flowcase/internal/repo"
	"github.com/shaiso/flowcase/internal/telemetry"
)

// caseState — снимок case на один тик.
//
// tasks содержит сохранённые tasks и новые tasks тика (ещё без Created).
// Все изменения уходят в хранилище; снимок отбрасывается после тика.
type caseState struct {
	def   *domain.FlowDef
	c     *domain.Case
	tasks []*domain.Task
}

// tick продвигает case: открывает шаги, создаёт и отправляет tasks,
// завершает case после последнего шага.
func (m *Manager) tick(ctx context.Context, caseID uuid.UUID) {
	start := time.Now()
	defer func() { telemetry.TickDuration.Observe(time.Since(start).Seconds()) }()

	st, err := m.loadState(ctx, caseID)
	if err != nil {
		m.logger.Error("tick: load case", "case_id", caseID, "error", err)
		return
	}
	if st == nil {
		return
	}
	m.logger.Debug("tick", "case_id", caseID, "case_type", st.c.CaseType, "state", st.c.State)

	step, err := m.openTasks(ctx, st)
	if err != nil {
		m.logger.Error("tick failed", "case_id", caseID, "state", st.c.State, "error", err)
		return
	}
	if step != nil {
		m.execStep(ctx, st, step)
	}
}

func (m *Manager) loadState(ctx context.Context, caseID uuid.UUID) (*caseState, error) {
	c, err := m.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.IsFinished() {
		return nil, nil
	}
	def, err := m.resolve(c.CaseType)
	if err != nil {
		return nil, err
	}
	stored, err := m.tasks.ListByCaseID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	tasks := make([]*domain.Task, len(stored))
	for i := range stored {
		tasks[i] = &stored[i]
	}
	return &caseState{def: def, c: c, tasks: tasks}, nil
}

// openTasks решает, что делать с case на этом тике.
//
// Возвращает шаг, новые tasks которого нужно отправить, или nil, если
// тик ждёт завершения tasks либо case завершён. Шаги без новых и
// незавершённых tasks пропускаются: case переходит к следующему шагу.
func (m *Manager) openTasks(ctx context.Context, st *caseState) (*domain.StepDef, error) {
	for {
		if code, ok := st.c.State.Step(); ok {
			if step := st.def.Step(code); step != nil {
				switch m.planStep(st, step) {
				case stepOpen:
					return step, nil
				case stepWaiting:
					return nil, nil
				}
			}
		}

		next := st.def.NextStep(st.c.State)
		if next == nil {
			return nil, m.finishCase(ctx, st)
		}
		st.c.State = domain.StepState(next.Code)
		if err := m.cases.UpdateState(ctx, st.c.ID, st.c.State); err != nil {
			return nil, err
		}
		m.logger.Info("next step", "case_id", st.c.ID, "step", next.Code)
	}
}

type stepVerdict int

const (
	stepOpen    stepVerdict = iota // есть новые tasks
	stepWaiting                    // ждём завершения tasks
	stepDone                       // шаг завершён
)

// planStep создаёт в снимке недостающие tasks шага.
//
// Шаг с itemsExpr сначала получает task итератора; tasks воркеров
// создаются только после его успешного завершения, по одному на
// каждый элемент списка. Итератор с ошибкой или пустым списком
// завершает шаг.
func (m *Manager) planStep(st *caseState, step *domain.StepDef) stepVerdict {
	exist := make(map[string]bool)
	var iterator *domain.Task
	unfinished := false
	for _, t := range st.tasks {
		if t.Step != step.Code {
			continue
		}
		exist[t.Key()] = true
		if !t.IsFinished() {
			unfinished = true
		}
		if t.Worker == domain.WorkerIterator {
			iterator = t
		}
	}

	items := 1
	if step.IsIterator() {
		if iterator == nil {
			st.tasks = append(st.tasks, m.newTask(st.c, step, step.Worker(domain.WorkerIterator), 0))
			return stepOpen
		}
		if !iterator.IsFinished() {
			return stepWaiting
		}
		items = iteratorItems(iterator)
		if items == 0 {
			unfinished = false
		}
	}

	created := false
	for i := 0; i < items; i++ {
		for _, w := range step.Workers {
			if w.Code == domain.WorkerIterator || exist[domain.TaskKey(w.Code, i)] {
				continue
			}
			st.tasks = append(st.tasks, m.newTask(st.c, step, w, i))
			created = true
		}
	}
	switch {
	case created:
		return stepOpen
	case unfinished:
		return stepWaiting
	default:
		return stepDone
	}
}

// iteratorItems возвращает длину списка итератора, 0 — ошибка или не список.
func iteratorItems(t *domain.Task) int {
	if t.Failed() || len(t.Response) == 0 {
		return 0
	}
	r := gjson.ParseBytes(t.Response)
	if !r.IsArray() {
		return 0
	}
	return len(r.Array())
}

func (m *Manager) newTask(c *domain.Case, step *domain.StepDef, w *domain.WorkerDef, index int) *domain.Task {
	timeout := m.defaultTimeout
	if w.Timeout > 0 {
		timeout = w.Timeout
	}
	return domain.NewTask(c.ID, step.Code, w.Code, index, timeout)
}

// execStep вычисляет и отправляет новые tasks шага.
func (m *Manager) execStep(ctx context.Context, st *caseState, step *domain.StepDef) {
	tree := engine.StepTree(st.def, st.tasks)
	for _, t := range st.tasks {
		if t.Step != step.Code || t.IsSent() {
			continue
		}
		w := step.Worker(t.Worker)
		if w == nil {
			continue
		}
		script := engine.NewScript(engine.Scope(st.c, tree, step.Code, t.StepIndex))
		req, status, reason := m.buildRequest(script, st, w, t)
		switch {
		case status != 0:
			m.completeTask(ctx, t, status, []byte(reason))
		case req == nil:
			m.logger.Debug("task waiting", "case_id", st.c.ID, "step", t.Step, "worker", t.Worker, "index", t.StepIndex)
		default:
			tr := &taskTracker{m: m, task: t}
			if err := m.dispatcher.Dispatch(ctx, req, tr); err != nil {
				m.logger.Warn("task dispatch failed", "case_id", st.c.ID, "task_id", t.ID, "error", err)
				m.completeTask(ctx, t, http.StatusInternalServerError, []byte(err.Error()))
			}
		}
	}
}

// buildRequest вычисляет запрос task по объявлению воркера.
//
// Возвращает запрос; либо nil без кода, если task ждёт незавершённые
// tasks; либо код и причину немедленного завершения task.
func (m *Manager) buildRequest(script *engine.Script, st *caseState, w *domain.WorkerDef, t *domain.Task) (*dispatch.Request, int, string) {
	r, err := script.Where(w.Where)
	if err != nil {
		return nil, http.StatusBadRequest, "execute where error " + err.Error()
	}
	if status, reason, stop := signal(r); stop {
		return nil, status, reason
	}
	if r.Value != true {
		return nil, http.StatusNotAcceptable, "where=false"
	}

	path := w.Path
	if w.PathExpr != "" {
		r, err := script.Expr(w.PathExpr)
		if err != nil {
			return nil, http.StatusBadRequest, "parse path error " + err.Error()
		}
		if status, reason, stop := signal(r); stop {
			return nil, status, reason
		}
		path = engine.Stringify(r.Value)
		if path == "" {
			return nil, http.StatusBadRequest, "parse path error empty path"
		}
	}

	r, err = script.StringMap(w.Headers)
	if err != nil {
		return nil, http.StatusBadRequest, "parse headers error " + err.Error()
	}
	if status, reason, stop := signal(r); stop {
		return nil, status, reason
	}
	headers, _ := r.Value.(map[string]string)

	r, err = script.Template(w.Params)
	if err != nil {
		return nil, http.StatusBadRequest, "parse params error " + err.Error()
	}
	if status, reason, stop := signal(r); stop {
		return nil, status, reason
	}
	var body []byte
	if r.Value != nil || path == domain.PathEcho {
		if body, err = json.Marshal(r.Value); err != nil {
			return nil, http.StatusBadRequest, "parse params error " + err.Error()
		}
	}

	return &dispatch.Request{
		TaskID:   t.ID,
		CaseID:   t.CaseID,
		Worker:   t.Worker,
		Method:   w.Method,
		Path:     path,
		Headers:  headers,
		Body:     body,
		Blocking: w.Blocking,
		Timeout:  time.Duration(t.Timeout) * time.Second,
		Debug:    st.def.IsDebug(),
	}, 0, ""
}

// signal переводит Waiting и Failed в решение по task.
// stop=true с нулевым кодом означает ожидание.
func signal(r engine.Result) (int, string, bool) {
	switch r.Kind {
	case engine.Waiting:
		return 0, "", true
	case engine.Failed:
		status, reason := failStatus(r.Reason)
		return status, reason, true
	}
	return 0, "", false
}

// failStatus разбирает причину вида "NNN:текст".
func failStatus(reason string) (int, string) {
	code, msg, ok := strings.Cut(reason, ":")
	if !ok || code == "" {
		return http.StatusBadRequest, reason
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 || status > 999 {
		return http.StatusBadRequest, reason
	}
	return status, msg
}

// finishCase завершает case после последнего шага.
func (m *Manager) finishCase(ctx context.Context, st *caseState) error {
	state := domain.CaseStateFinished
	var response json.RawMessage
	for _, t := range st.tasks {
		if t.Step != domain.StepResponse || t.Worker != domain.WorkerResponse {
			continue
		}
		if t.Failed() {
			state = domain.CaseStateError
		} else {
			response = t.Response
		}
	}

	if err := m.cases.Finish(ctx, st.c.ID, state, response); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			return nil
		}
		return err
	}
	m.logger.Info("case finished", "case_id", st.c.ID, "case_type", st.c.CaseType, "state", state)
	telemetry.CasesFinished.WithLabelValues(st.c.CaseType, string(state)).Inc()

	final, err := m.cases.GetByID(ctx, st.c.ID)
	if err != nil {
		return err
	}
	if final.Tasks, err = m.tasks.ListByCaseID(ctx, final.ID); err != nil {
		return err
	}
	cb := final.Callback
	final.Callback = nil

	if err := m.archive.SaveFinalCase(ctx, final); err != nil {
		m.logger.Warn("final case not archived", "case_id", final.ID, "error", err)
	} else if err := m.tasks.DeleteByCaseID(ctx, final.ID); err != nil {
		m.logger.Warn("archived tasks not deleted", "case_id", final.ID, "error", err)
	}

	m.waiting.release(final)

	if cb != nil && m.callbacks != nil {
		body, err := json.Marshal(final)
		if err == nil {
			m.callbacks.CallAsync(final.ID.String(), cb, map[string]string{"content-type": "application/json"}, body)
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishCaseFinished(ctx, final); err != nil {
			m.logger.Warn("case.finished not published", "case_id", final.ID, "error", err)
		}
	}
	return nil
}
