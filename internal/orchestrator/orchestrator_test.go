package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/archive"
	"github.com/shaiso/flowcase/internal/definition"
	"github.com/shaiso/flowcase/internal/dispatch"
	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/mq"
	"github.com/shaiso/flowcase/internal/repo"
)

const greetFlow = `
code: greet
externalIdExpr: params.order.id
assetsExpr: params.files
steps:
  - code: hello
    workers:
      - code: say
        params:
          $name: case.params.name
response:
  $greeting: step.hello.say.name
`

const batchFlow = `
code: batch
steps:
  - code: each
    itemsExpr: case.params.items
    workers:
      - code: double
        params:
          $v: _iterator
response:
  $.: step.each.double
`

const guardFlow = `
code: guard
steps:
  - code: s
    workers:
      - code: a
        params:
          $v: case.params.v
      - code: b
        where: a.v > 1
        params:
          $w: a.v
response:
  $.: step.s.b
`

type testEnv struct {
	m     *Manager
	cases *repo.MemCaseRepo
	tasks *repo.MemTaskRepo
	arch  *archive.Archive
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, appHost string, flows ...string) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	defs := definition.NewStore(definition.Config{Logger: logger})
	var list []*domain.FlowDef
	for i, src := range flows {
		def, err := definition.Parse([]byte(src), fmt.Sprintf("flow%d.flow.yaml", i))
		if err != nil {
			t.Fatalf("parse flow: %v", err)
		}
		list = append(list, def)
	}
	defs.Replace(list)

	arch, err := archive.Open(ctx, archive.Config{URL: "mem://", PublicURL: "http://flowcase.test", Logger: logger})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { _ = arch.Close() })

	if appHost == "" {
		appHost = "http://127.0.0.1:1"
	}
	d, err := dispatch.New(dispatch.Config{AppHost: appHost, Logger: logger})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	t.Cleanup(d.Close)

	env := &testEnv{
		cases: repo.NewMemCaseRepo(),
		tasks: repo.NewMemTaskRepo(),
		arch:  arch,
	}
	env.m = New(Config{
		Cases:          env.cases,
		Tasks:          env.tasks,
		Archive:        arch,
		Definitions:    defs,
		Dispatcher:     d,
		DefaultTimeout: 30 * time.Second,
		Workers:        4,
		Logger:         logger,
	})
	t.Cleanup(env.m.Close)
	return env
}

// wait дожидается завершения case и возвращает его финальную версию.
func (e *testEnv) wait(t *testing.T, id uuid.UUID) *domain.Case {
	t.Helper()
	c, err := e.m.WaitCase(context.Background(), id, 5*time.Second, true)
	if err != nil {
		t.Fatalf("WaitCase: %v", err)
	}
	if !c.IsFinished() {
		t.Fatalf("case %s not finished, state %s", id, c.State)
	}
	return c
}

func (e *testEnv) create(t *testing.T, caseType, params string) *domain.Case {
	t.Helper()
	c, err := e.m.CreateCase(context.Background(), CreateRequest{CaseType: caseType, Params: json.RawMessage(params)})
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	return c
}

func assertJSON(t *testing.T, want string, got []byte) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("bad expected JSON: %v", err)
	}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("invalid JSON %q: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func findTask(tasks []domain.Task, step, worker string, index int) *domain.Task {
	for i := range tasks {
		t := &tasks[i]
		if t.Step == step && t.Worker == worker && t.StepIndex == index {
			return t
		}
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --- Manager Tests ---

func TestManager_SingleStepCase(t *testing.T) {
	env := newTestEnv(t, "", greetFlow)
	c := env.create(t, "greet", `{"name":"alice"}`)

	if c.State != domain.CaseStateCreated {
		t.Errorf("expected state CREATED, got %s", c.State)
	}

	final := env.wait(t, c.ID)
	if final.State != domain.CaseStateFinished {
		t.Fatalf("expected state FINISHED, got %s", final.State)
	}
	assertJSON(t, `{"greeting":"alice"}`, final.Response)

	if len(final.Tasks) != 2 {
		t.Fatalf("expected 2 archived tasks, got %d", len(final.Tasks))
	}
	say := findTask(final.Tasks, "hello", "say", 0)
	if say == nil {
		t.Fatal("task say not archived")
	}
	if say.ResponseCode != http.StatusOK {
		t.Errorf("expected code 200, got %d", say.ResponseCode)
	}
	assertJSON(t, `{"name":"alice"}`, say.Response)

	live, err := env.tasks.ListByCaseID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("expected archived tasks to be deleted, got %d", len(live))
	}
}

func TestManager_Iterator(t *testing.T) {
	env := newTestEnv(t, "", batchFlow)
	c := env.create(t, "batch", `{"items":[1,2,3]}`)

	final := env.wait(t, c.ID)
	if final.State != domain.CaseStateFinished {
		t.Fatalf("expected state FINISHED, got %s", final.State)
	}
	assertJSON(t, `[{"v":1},{"v":2},{"v":3}]`, final.Response)

	// итератор + 3 элемента + response
	if len(final.Tasks) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(final.Tasks))
	}
	if findTask(final.Tasks, "each", domain.WorkerIterator, 0) == nil {
		t.Error("iterator task missing")
	}
	for i := 0; i < 3; i++ {
		if findTask(final.Tasks, "each", "double", i) == nil {
			t.Errorf("task double:%d missing", i)
		}
	}
}

func TestManager_IteratorEmptyList(t *testing.T) {
	env := newTestEnv(t, "", batchFlow)
	c := env.create(t, "batch", `{"items":[]}`)

	final := env.wait(t, c.ID)
	if final.State != domain.CaseStateFinished {
		t.Fatalf("expected state FINISHED, got %s", final.State)
	}
	for _, task := range final.Tasks {
		if task.Worker == "double" {
			t.Errorf("unexpected task double:%d", task.StepIndex)
		}
	}
}

func TestManager_GuardOnSibling(t *testing.T) {
	env := newTestEnv(t, "", guardFlow)

	t.Run("where true", func(t *testing.T) {
		final := env.wait(t, env.create(t, "guard", `{"v":5}`).ID)
		if final.State != domain.CaseStateFinished {
			t.Fatalf("expected state FINISHED, got %s", final.State)
		}
		assertJSON(t, `{"w":5}`, final.Response)

		a := findTask(final.Tasks, "s", "a", 0)
		b := findTask(final.Tasks, "s", "b", 0)
		if a == nil || b == nil {
			t.Fatal("tasks a and b expected")
		}
		if b.Created.Before(*a.Finished) {
			t.Error("task b must be created after a finished")
		}
	})

	t.Run("where false", func(t *testing.T) {
		final := env.wait(t, env.create(t, "guard", `{"v":0}`).ID)
		if final.State != domain.CaseStateError {
			t.Fatalf("expected state ERROR, got %s", final.State)
		}
		b := findTask(final.Tasks, "s", "b", 0)
		if b == nil {
			t.Fatal("task b expected")
		}
		if b.ResponseCode != http.StatusNotAcceptable || b.Error != "where=false" {
			t.Errorf("expected 406 where=false, got %d %q", b.ResponseCode, b.Error)
		}
		resp := findTask(final.Tasks, domain.StepResponse, domain.WorkerResponse, 0)
		if resp == nil || resp.ResponseCode != http.StatusBadRequest {
			t.Errorf("expected response task with 400, got %+v", resp)
		}
	})
}

func workerServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"ok":true}`)
		case "/bad":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, "boom")
		case "/accept":
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_WorkerErrorDoesNotBlock(t *testing.T) {
	srv := workerServer(t)
	env := newTestEnv(t, srv.URL, `
code: mixed
steps:
  - code: s
    workers:
      - code: good
        path: /ok
        blocking: true
      - code: bad
        path: /bad
        blocking: true
  - code: after
    workers:
      - code: note
        params:
          $ok: step.s.good.ok
response:
  $.: step.after.note
`)

	final := env.wait(t, env.create(t, "mixed", `{}`).ID)
	if final.State != domain.CaseStateFinished {
		t.Fatalf("expected state FINISHED, got %s", final.State)
	}
	assertJSON(t, `{"ok":true}`, final.Response)

	bad := findTask(final.Tasks, "s", "bad", 0)
	if bad == nil {
		t.Fatal("task bad expected")
	}
	if bad.ResponseCode != http.StatusInternalServerError || bad.Error != "boom" {
		t.Errorf("expected 500 boom, got %d %q", bad.ResponseCode, bad.Error)
	}
}

func TestManager_FinishTask(t *testing.T) {
	srv := workerServer(t)
	env := newTestEnv(t, srv.URL, `
code: slow
steps:
  - code: s
    workers:
      - code: w
        path: /accept
response:
  $.: step.s.w
`)
	ctx := context.Background()
	c := env.create(t, "slow", `{}`)

	var taskID uuid.UUID
	waitFor(t, "task sent", func() bool {
		tasks, err := env.m.ListTasks(ctx, c.ID)
		if err != nil || len(tasks) == 0 {
			return false
		}
		taskID = tasks[0].ID
		return true
	})

	if err := env.m.FinishTaskResponse(ctx, taskID, http.StatusOK, []byte(`{"x":1}`)); err != nil {
		t.Fatalf("FinishTaskResponse: %v", err)
	}
	if err := env.m.FinishTaskResponse(ctx, taskID, http.StatusOK, []byte(`{"x":2}`)); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("expected ErrTaskFinished, got %v", err)
	}
	if err := env.m.FinishTask(ctx, uuid.New(), http.StatusOK, nil); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}

	final := env.wait(t, c.ID)
	if final.State != domain.CaseStateFinished {
		t.Fatalf("expected state FINISHED, got %s", final.State)
	}
	assertJSON(t, `{"x":1}`, final.Response)
}

func TestManager_FinishTaskResponse_InvalidJSON(t *testing.T) {
	srv := workerServer(t)
	env := newTestEnv(t, srv.URL, `
code: slow
steps:
  - code: s
    workers:
      - code: w
        path: /accept
`)
	ctx := context.Background()
	c := env.create(t, "slow", `{}`)

	var taskID uuid.UUID
	waitFor(t, "task sent", func() bool {
		tasks, _ := env.m.ListTasks(ctx, c.ID)
		if len(tasks) == 0 {
			return false
		}
		taskID = tasks[0].ID
		return true
	})

	if err := env.m.FinishTaskResponse(ctx, taskID, http.StatusOK, []byte("not json")); err != nil {
		t.Fatalf("FinishTaskResponse: %v", err)
	}
	final := env.wait(t, c.ID)
	w := findTask(final.Tasks, "s", "w", 0)
	if w == nil {
		t.Fatal("task w expected")
	}
	if w.ResponseCode != http.StatusBadRequest || !strings.HasPrefix(w.Error, "parse json body error") {
		t.Errorf("expected 400 parse error, got %d %q", w.ResponseCode, w.Error)
	}
}

func TestManager_TaskTimeout(t *testing.T) {
	srv := workerServer(t)
	env := newTestEnv(t, srv.URL, `
code: late
steps:
  - code: s
    workers:
      - code: w
        path: /accept
        timeout: 1
response:
  $.: step.s.w
`)

	final := env.wait(t, env.create(t, "late", `{}`).ID)
	if final.State != domain.CaseStateError {
		t.Fatalf("expected state ERROR, got %s", final.State)
	}
	w := findTask(final.Tasks, "s", "w", 0)
	if w == nil {
		t.Fatal("task w expected")
	}
	if w.ResponseCode != http.StatusRequestTimeout || w.Error != "timeout" {
		t.Errorf("expected 408 timeout, got %d %q", w.ResponseCode, w.Error)
	}
}

func TestManager_FailReason(t *testing.T) {
	env := newTestEnv(t, "", `
code: reject
steps:
  - code: s
    workers:
      - code: check
        params:
          $x: "case.params.ok || fail('409:duplicate')"
response:
  $.: step.s.check
`)

	final := env.wait(t, env.create(t, "reject", `{"ok":false}`).ID)
	check := findTask(final.Tasks, "s", "check", 0)
	if check == nil {
		t.Fatal("task check expected")
	}
	if check.ResponseCode != http.StatusConflict || check.Error != "duplicate" {
		t.Errorf("expected 409 duplicate, got %d %q", check.ResponseCode, check.Error)
	}
	if final.State != domain.CaseStateError {
		t.Errorf("expected state ERROR, got %s", final.State)
	}
}

func TestManager_CreateCase_Errors(t *testing.T) {
	env := newTestEnv(t, "", greetFlow)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"unknown type", CreateRequest{CaseType: "missing"}, ErrUnknownCaseType},
		{"long externalId", CreateRequest{CaseType: "greet", ExternalID: strings.Repeat("x", MaxExternalIDLen+1)}, ErrInvalidRequest},
		{"invalid params", CreateRequest{CaseType: "greet", Params: json.RawMessage(`{`)}, ErrInvalidRequest},
		{"missing asset", CreateRequest{CaseType: "greet", Assets: []string{uuid.NewString()}}, ErrInvalidAsset},
		{"invalid asset id", CreateRequest{CaseType: "greet", Assets: []string{"../x"}}, ErrInvalidAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.m.CreateCase(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestManager_StartCase(t *testing.T) {
	env := newTestEnv(t, "", greetFlow)
	ctx := context.Background()

	info, err := env.arch.SaveAsset(ctx, "greet", "pdf", "application/pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("SaveAsset: %v", err)
	}

	params := fmt.Sprintf(`{"name":"bob","order":{"id":"ord-7"},"files":[%q]}`, info.ID)
	c, err := env.m.StartCase(ctx, "greet", json.RawMessage(params), nil)
	if err != nil {
		t.Fatalf("StartCase: %v", err)
	}
	if c.ExternalID != "ord-7" {
		t.Errorf("expected externalId ord-7, got %q", c.ExternalID)
	}
	if len(c.Assets) != 1 || c.Assets[0].ID != info.ID || c.Assets[0].ExtName != "pdf" {
		t.Errorf("unexpected assets %+v", c.Assets)
	}

	final := env.wait(t, c.ID)
	if len(final.Assets) != 1 || final.Assets[0].URL == "" {
		t.Errorf("expected asset url, got %+v", final.Assets)
	}
}

// Параллельные case и чтения во время тиков; имеет смысл под -race.
func TestManager_ConcurrentCases(t *testing.T) {
	env := newTestEnv(t, "", batchFlow, greetFlow)
	ctx := context.Background()

	info, err := env.arch.SaveAsset(ctx, "greet", "pdf", "application/pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("SaveAsset: %v", err)
	}

	const n = 16
	errs := make(chan error, 2*n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c, err := env.m.CreateCase(ctx, CreateRequest{CaseType: "batch", Params: json.RawMessage(fmt.Sprintf(`{"items":[%d,%d]}`, i, i+1))})
			if err != nil {
				errs <- err
				return
			}
			final, err := env.m.WaitCase(ctx, c.ID, 5*time.Second, true)
			if err != nil {
				errs <- err
				return
			}
			var got []map[string]int
			if err := json.Unmarshal(final.Response, &got); err != nil {
				errs <- fmt.Errorf("case %d: response %s: %w", i, final.Response, err)
				return
			}
			if len(got) != 2 || got[0]["v"] != i || got[1]["v"] != i+1 {
				errs <- fmt.Errorf("case %d: unexpected response %s", i, final.Response)
			}
		}(i)
		go func() {
			defer wg.Done()
			params := fmt.Sprintf(`{"name":"bob","files":[%q]}`, info.ID)
			c, err := env.m.StartCase(ctx, "greet", json.RawMessage(params), nil)
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < 5; j++ {
				if _, err := env.m.LoadCase(ctx, c.ID, false); err != nil {
					errs <- err
					return
				}
			}
			if _, err := env.m.WaitCase(ctx, c.ID, 5*time.Second, true); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestManager_WaitCase_Timeout(t *testing.T) {
	srv := workerServer(t)
	env := newTestEnv(t, srv.URL, `
code: slow
steps:
  - code: s
    workers:
      - code: w
        path: /accept
`)
	c := env.create(t, "slow", `{}`)

	start := time.Now()
	got, err := env.m.WaitCase(context.Background(), c.ID, 100*time.Millisecond, false)
	if err != nil {
		t.Fatalf("WaitCase: %v", err)
	}
	if got.IsFinished() {
		t.Error("case should not be finished")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("WaitCase returned before wait elapsed")
	}
	if env.m.waiting.count() != 0 {
		t.Errorf("expected no waiters, got %d", env.m.waiting.count())
	}

	if _, err := env.m.WaitCase(context.Background(), uuid.New(), time.Second, false); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestManager_HandleCaseCreate(t *testing.T) {
	srv := workerServer(t)
	env := newTestEnv(t, srv.URL, `
code: slow
steps:
  - code: s
    workers:
      - code: w
        path: /accept
`)
	ctx := context.Background()

	msg := mq.NewMessage(mq.MessageTypeCaseCreate, mq.CaseCreatePayload{
		CaseType:   "slow",
		ExternalID: "from-mq",
		Params:     json.RawMessage(`{"name":"carol"}`),
	})
	if err := env.m.HandleCaseCreate(ctx, &mq.Delivery{Message: *msg}); err != nil {
		t.Fatalf("HandleCaseCreate: %v", err)
	}
	ids, err := env.cases.ListUnfinishedIDs(ctx)
	if err != nil {
		t.Fatalf("ListUnfinishedIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 case, got %d", len(ids))
	}
	c, err := env.m.LoadCase(ctx, ids[0], false)
	if err != nil {
		t.Fatalf("LoadCase: %v", err)
	}
	if c.CaseType != "slow" || c.ExternalID != "from-mq" {
		t.Errorf("unexpected case %s %q", c.CaseType, c.ExternalID)
	}

	msg = mq.NewMessage(mq.MessageTypeCaseCreate, mq.CaseCreatePayload{CaseType: "missing"})
	err = env.m.HandleCaseCreate(ctx, &mq.Delivery{Message: *msg})
	if !errors.Is(err, mq.ErrReject) {
		t.Errorf("expected ErrReject, got %v", err)
	}
}

// --- Helpers Tests ---

func TestFailStatus(t *testing.T) {
	tests := []struct {
		reason     string
		wantStatus int
		wantReason string
	}{
		{"409:duplicate", 409, "duplicate"},
		{"404:", 404, ""},
		{"error load 500", 400, "error load 500"},
		{"abc:def", 400, "abc:def"},
		{"42:too small", 400, "42:too small"},
	}
	for _, tt := range tests {
		status, reason := failStatus(tt.reason)
		if status != tt.wantStatus || reason != tt.wantReason {
			t.Errorf("failStatus(%q) = %d %q, want %d %q", tt.reason, status, reason, tt.wantStatus, tt.wantReason)
		}
	}
}

func TestIteratorItems(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		task domain.Task
		want int
	}{
		{"list", domain.Task{Finished: &now, ResponseCode: 200, Response: json.RawMessage(`[1,2,3]`)}, 3},
		{"empty list", domain.Task{Finished: &now, ResponseCode: 200, Response: json.RawMessage(`[]`)}, 0},
		{"object", domain.Task{Finished: &now, ResponseCode: 200, Response: json.RawMessage(`{"a":1}`)}, 0},
		{"null", domain.Task{Finished: &now, ResponseCode: 200, Response: json.RawMessage(`null`)}, 0},
		{"failed", domain.Task{Finished: &now, ResponseCode: 500, Error: "boom"}, 0},
	}
	for _, tt := range tests {
		if got := iteratorItems(&tt.task); got != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.want, got)
		}
	}
}
