package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
)

func TestParseCodeRanges(t *testing.T) {
	ranges, err := parseCodeRanges([]string{"500", "400-499", "-299", "500-"})
	if err != nil {
		t.Fatalf("parseCodeRanges: %v", err)
	}
	want := []codeRange{{500, 500}, {400, 499}, {0, 299}, {500, 1000}}
	if !reflect.DeepEqual(ranges, want) {
		t.Errorf("expected %v, got %v", want, ranges)
	}

	for _, bad := range []string{"abc", "1-2-3", "-", "5xx"} {
		if _, err := parseCodeRanges([]string{bad}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%q: expected ErrInvalidRequest, got %v", bad, err)
		}
	}
}

func TestClearFilter_Clears(t *testing.T) {
	id := uuid.New()
	task := &domain.Task{ID: id, Step: "load", Worker: "fetch", ResponseCode: 503}

	tests := []struct {
		name   string
		filter ClearFilter
		codes  []string
		want   bool
	}{
		{"empty", ClearFilter{}, nil, false},
		{"step", ClearFilter{Steps: []string{"load"}}, nil, true},
		{"worker", ClearFilter{Workers: []string{"fetch"}}, nil, true},
		{"step.worker", ClearFilter{Workers: []string{"load.fetch"}}, nil, true},
		{"other step.worker", ClearFilter{Workers: []string{"other.fetch"}}, nil, false},
		{"task id", ClearFilter{Tasks: []string{id.String()}}, nil, true},
		{"code range", ClearFilter{}, []string{"500-"}, true},
		{"code miss", ClearFilter{}, []string{"-499"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranges, err := parseCodeRanges(tt.codes)
			if err != nil {
				t.Fatalf("parseCodeRanges: %v", err)
			}
			if got := tt.filter.clears(task, ranges); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	response := &domain.Task{Step: domain.StepResponse, Worker: domain.WorkerResponse, ResponseCode: 200}
	if !(&ClearFilter{}).clears(response, nil) {
		t.Error("response task must always be cleared")
	}
}

func TestManager_Reprocess(t *testing.T) {
	env := newTestEnv(t, "", guardFlow)
	ctx := context.Background()

	src := env.wait(t, env.create(t, "guard", `{"v":5}`).ID)
	srcA := findTask(src.Tasks, "s", "a", 0)
	if srcA == nil {
		t.Fatal("source task a expected")
	}

	newID, err := env.m.Reprocess(ctx, src.ID, ClearFilter{Workers: []string{"b"}})
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if newID == src.ID {
		t.Fatal("reprocess must create a new case")
	}

	final := env.wait(t, newID)
	if final.State != domain.CaseStateFinished {
		t.Fatalf("expected state FINISHED, got %s", final.State)
	}
	if string(final.Params) != string(src.Params) {
		t.Errorf("expected params %s, got %s", src.Params, final.Params)
	}
	assertJSON(t, `{"w":5}`, final.Response)

	a := findTask(final.Tasks, "s", "a", 0)
	b := findTask(final.Tasks, "s", "b", 0)
	if a == nil || b == nil {
		t.Fatal("tasks a and b expected")
	}
	if a.ID == srcA.ID {
		t.Error("copied task must get a new id")
	}
	if !a.Created.Equal(*a.Finished) {
		t.Error("copied task must be created finished")
	}
	var srcResp, resp any
	_ = json.Unmarshal(srcA.Response, &srcResp)
	_ = json.Unmarshal(a.Response, &resp)
	if !reflect.DeepEqual(srcResp, resp) {
		t.Errorf("copied response differs: %s vs %s", a.Response, srcA.Response)
	}
	if len(final.Tasks) != 3 {
		t.Errorf("expected 3 tasks, got %d", len(final.Tasks))
	}
}

func TestManager_Reprocess_Errors(t *testing.T) {
	env := newTestEnv(t, "", guardFlow)
	ctx := context.Background()

	if _, err := env.m.Reprocess(ctx, uuid.New(), ClearFilter{}); !errors.Is(err, ErrCaseNotFound) {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}

	live := &domain.Case{ID: uuid.New(), CaseType: "guard", Created: time.Now(), State: domain.StepState("s")}
	if err := env.cases.Insert(ctx, live); err != nil {
		t.Fatalf("insert case: %v", err)
	}
	if _, err := env.m.Reprocess(ctx, live.ID, ClearFilter{}); !errors.Is(err, ErrCaseNotFinished) {
		t.Errorf("expected ErrCaseNotFinished, got %v", err)
	}

	if _, err := env.m.Reprocess(ctx, live.ID, ClearFilter{ResponseCodes: []string{"x"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}
