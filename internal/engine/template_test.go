package engine

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowcase/internal/domain"
)

func finishedTask(worker string, code int, response string) *domain.Task {
	now := time.Now()
	t := &domain.Task{ID: uuid.New(), Worker: worker, Created: &now, Finished: &now, ResponseCode: code}
	if domain.IsSuccessCode(code) {
		t.Response = json.RawMessage(response)
	} else {
		t.Error = response
	}
	return t
}

func testScript(t *testing.T) *Script {
	t.Helper()
	root := map[string]any{
		"case": CaseValue(&domain.Case{
			ID:       uuid.New(),
			CaseType: "order",
			Params:   json.RawMessage(`{"name":"alice","count":3,"enabled":true,"items":[{"id":1},{"id":2}],"empty":"","tags":[]}`),
		}),
		"done":    NewEntry(finishedTask("done", 200, `{"total":42,"list":[1,2,3]}`)),
		"pending": NewEntry(&domain.Task{Worker: "pending"}),
		"broken":  NewEntry(finishedTask("broken", 500, "boom")),
	}
	return NewScript(root)
}

func TestScript_Expr_Paths(t *testing.T) {
	s := testScript(t)

	tests := []struct {
		expr string
		want any
	}{
		{"case.params.name", "alice"},
		{"case.params.count", float64(3)},
		{"case.params.items[1].id", float64(2)},
		{`case.params["name"]`, "alice"},
		{"case.params.items.0.id", float64(1)},
		{"case.params.missing", nil},
		{"case.params.missing.deeper", nil},
		{"case.params.items[10]", nil},
		{"done.total", float64(42)},
		{"done.list", []any{float64(1), float64(2), float64(3)}},
		{"len(done.list)", float64(3)},
		{"len(case.params.name)", float64(5)},
		{"case.caseType", "order"},
		{"unknown", nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			r, err := s.Expr(tt.expr)
			require.NoError(t, err)
			require.Equal(t, Ready, r.Kind, r.Reason)
			assert.Equal(t, tt.want, r.Value)
		})
	}
}

func TestScript_Expr_Signals(t *testing.T) {
	s := testScript(t)

	r, err := s.Expr("pending.value")
	require.NoError(t, err)
	assert.Equal(t, Waiting, r.Kind)

	r, err = s.Expr("broken.value")
	require.NoError(t, err)
	assert.Equal(t, Failed, r.Kind)
	assert.Equal(t, "error broken 500", r.Reason)

	// короткое замыкание: правая часть не вычисляется
	r, err = s.Expr("false && pending.value")
	require.NoError(t, err)
	assert.Equal(t, Ready, r.Kind)
	assert.Equal(t, false, r.Value)

	r, err = s.Expr("fail('409:duplicate')")
	require.NoError(t, err)
	assert.Equal(t, Failed, r.Kind)
	assert.Equal(t, "409:duplicate", r.Reason)
}

func TestScript_Expr_Errors(t *testing.T) {
	s := testScript(t)

	for _, expr := range []string{
		"case.params.name.first",
		"case.params.name < 1",
		"case.params.items + 1",
		"-case.params.name",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := s.Expr(expr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEval), "expected ErrEval, got %v", err)
		})
	}
}

func TestScript_Where_Truthiness(t *testing.T) {
	s := testScript(t)

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"case.params.enabled", true},
		{"case.params.count", true},
		{"case.params.count - 3", false},
		{"case.params.name", true},
		{"case.params.empty", false},
		{"case.params.items", true},
		{"case.params.tags", false},
		{"case.params.missing", false},
		{"done", true},
		{"case.params.count >= 3 and case.params.name == 'alice'", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			r, err := s.Where(tt.expr)
			require.NoError(t, err)
			require.True(t, r.IsReady())
			assert.Equal(t, tt.want, r.Value)
		})
	}
}

func TestScript_StringMap(t *testing.T) {
	s := testScript(t)

	r, err := s.StringMap(map[string]string{
		"x-plain":  "1",
		"$x-name":  "case.params.name",
		"$x-count": "case.params.count",
		"$x-none":  "case.params.missing",
		"$x-items": "case.params.items",
	})
	require.NoError(t, err)
	require.True(t, r.IsReady())
	assert.Equal(t, map[string]string{
		"x-plain": "1",
		"x-name":  "alice",
		"x-count": "3",
		"x-items": `[{"id":1},{"id":2}]`,
	}, r.Value)

	r, err = s.StringMap(map[string]string{
		"$$raw":   "literal value",
		"$x-name": "case.params.name",
		"x-plain": "2",
	})
	require.NoError(t, err)
	require.True(t, r.IsReady())
	assert.Equal(t, map[string]string{
		"$raw":    "literal value",
		"x-name":  "alice",
		"x-plain": "2",
	}, r.Value)

	r, err = s.StringMap(map[string]string{"$x": "pending.id"})
	require.NoError(t, err)
	assert.Equal(t, Waiting, r.Kind)
}

func TestScript_Template(t *testing.T) {
	s := testScript(t)

	r, err := s.Template(map[string]any{
		"literal": "case.params.name",
		"$name":   "case.params.name",
		"$$raw":   "case.params.name",
		"nested": map[string]any{
			"$total": "done.total",
			"skip":   nil,
		},
		"list":  []any{map[string]any{"$n": "case.params.count"}, 7},
		"$none": "case.params.missing",
	})
	require.NoError(t, err)
	require.True(t, r.IsReady(), r.Reason)
	assert.Equal(t, map[string]any{
		"literal": "case.params.name",
		"name":    "alice",
		"$raw":    "case.params.name",
		"nested":  map[string]any{"total": float64(42)},
		"list":    []any{map[string]any{"n": float64(3)}, 7},
		"none":    nil,
	}, r.Value)
}

func TestScript_Template_DotCollapse(t *testing.T) {
	s := testScript(t)

	r, err := s.Template(map[string]any{"$.": "case.params.items"})
	require.NoError(t, err)
	require.True(t, r.IsReady())
	assert.Equal(t, []any{
		map[string]any{"id": float64(1)},
		map[string]any{"id": float64(2)},
	}, r.Value)

	r, err = s.Template(nil)
	require.NoError(t, err)
	assert.Nil(t, r.Value)
}

func TestScript_Template_NestedSignal(t *testing.T) {
	s := NewScript(map[string]any{
		"step": map[string]any{
			"load": map[string]any{
				"a": NewEntry(finishedTask("a", 200, `1`)),
				"b": NewEntry(&domain.Task{Worker: "b"}),
			},
		},
	})

	// весь шаг целиком: b ещё не завершён
	r, err := s.Template(map[string]any{"$.": "step.load"})
	require.NoError(t, err)
	assert.Equal(t, Waiting, r.Kind)

	r, err = s.Template(map[string]any{"$a": "step.load.a"})
	require.NoError(t, err)
	require.True(t, r.IsReady())
	assert.Equal(t, map[string]any{"a": float64(1)}, r.Value)
}

func TestScript_Template_FailedWins(t *testing.T) {
	s := NewScript(map[string]any{
		"all": map[string]any{
			"p": NewEntry(&domain.Task{Worker: "p"}),
			"f": NewEntry(finishedTask("f", 404, "missing")),
		},
	})

	r, err := s.Template(map[string]any{"$x": "all"})
	require.NoError(t, err)
	assert.Equal(t, Failed, r.Kind)
	assert.Equal(t, "error f 404", r.Reason)
}
