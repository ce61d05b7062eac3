package definition

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowcase/internal/domain"
)

const orderFlow = `
code: order
labels: {debug: "1"}
externalIdExpr: case.params.orderId
steps:
  - code: load
    workers:
      - code: fetch
        path: /queue/orders/
        params:
          id: 1
          $name: case.params.name
      - code: local
  - code: each
    itemsExpr: step.load.fetch.items
    workers:
      - code: check
        pathExpr: "'/queue/check/' + _iterator.kind"
        where: _iterator.enabled
response:
  $.: step.each.check
cronJobs:
  - expression: "*/5 * * * *"
    params: {source: cron}
`

func TestParse_Normalize(t *testing.T) {
	def, err := Parse([]byte(orderFlow), "order.flow.yaml")
	require.NoError(t, err)

	assert.Equal(t, "order", def.Code)
	assert.Equal(t, "order.flow.yaml", def.Source)
	assert.True(t, def.IsDebug())
	assert.Nil(t, def.Response)
	require.Len(t, def.Steps, 3)

	fetch := def.Worker("load", "fetch")
	require.NotNil(t, fetch)
	assert.Equal(t, "POST", fetch.Method)

	local := def.Worker("load", "local")
	require.NotNil(t, local)
	assert.Equal(t, "GET", local.Method)
	assert.Equal(t, domain.PathEcho, local.Path)

	each := def.Step("each")
	require.Len(t, each.Workers, 2)
	assert.Equal(t, domain.WorkerIterator, each.Workers[0].Code)
	assert.Equal(t, domain.PathEcho, each.Workers[0].Path)
	assert.Equal(t, map[string]any{"$.": "step.load.fetch.items"}, each.Workers[0].Params)
	assert.Empty(t, each.Workers[1].Path)

	resp := def.Steps[2]
	assert.Equal(t, domain.StepResponse, resp.Code)
	require.Len(t, resp.Workers, 1)
	assert.Equal(t, domain.WorkerResponse, resp.Workers[0].Code)
	assert.Equal(t, map[string]any{"$.": "step.each.check"}, resp.Workers[0].Params)

	require.Len(t, def.CronJobs, 1)
	assert.Equal(t, "cron", def.CronJobs[0].Params["source"])
}

func TestNormalize_ExplicitIteratorMovedFirst(t *testing.T) {
	def := &domain.FlowDef{
		Code: "x",
		Steps: []*domain.StepDef{{
			Code: "s",
			Workers: []*domain.WorkerDef{
				{Code: "a"},
				{Code: domain.WorkerIterator, Params: map[string]any{"$.": "case.params.list"}},
			},
		}},
	}
	require.NoError(t, Normalize(def))

	s := def.Steps[0]
	assert.True(t, s.IsIterator())
	assert.Equal(t, domain.WorkerIterator, s.Workers[0].Code)
	assert.Equal(t, "a", s.Workers[1].Code)
	assert.Equal(t, "POST", s.Workers[0].Method)
}

func TestNormalize_LiteralHeaderKey(t *testing.T) {
	def := &domain.FlowDef{
		Code: "f",
		Steps: []*domain.StepDef{{
			Code: "s",
			Workers: []*domain.WorkerDef{{
				Code: "w",
				Headers: map[string]string{
					"$$raw":  "literal value",
					"$x-id":  "case.params.id",
					"x-kind": "plain",
				},
			}},
		}},
	}
	require.NoError(t, Normalize(def))

	bad := &domain.FlowDef{
		Code: "f",
		Steps: []*domain.StepDef{{
			Code:    "s",
			Workers: []*domain.WorkerDef{{Code: "w", Headers: map[string]string{"$x": "literal value"}}},
		}},
	}
	assert.Error(t, Normalize(bad))
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		def  *domain.FlowDef
	}{
		{"bad flow code", &domain.FlowDef{Code: "a b", Steps: []*domain.StepDef{{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}}}}}},
		{"no steps", &domain.FlowDef{Code: "f"}},
		{"no workers", &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{{Code: "s"}}}},
		{"bad step code", &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{{Code: "s-1", Workers: []*domain.WorkerDef{{Code: "w"}}}}}},
		{"duplicate step", &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{
			{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}}},
			{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}}},
		}}},
		{"duplicate worker", &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{
			{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}, {Code: "w"}}},
		}}},
		{"bad where", &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{
			{Code: "s", Workers: []*domain.WorkerDef{{Code: "w", Where: "a &&"}}},
		}}},
		{"bad param expr", &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{
			{Code: "s", Workers: []*domain.WorkerDef{{Code: "w", Params: map[string]any{"n": map[string]any{"$x": "(a"}}}}},
		}}},
		{"bad cron", &domain.FlowDef{Code: "f", CronJobs: []domain.CronJob{{Expression: "nope"}}, Steps: []*domain.StepDef{
			{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Normalize(tt.def)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDefinition), "got %v", err)
		})
	}
}

func TestNormalize_LiteralKeysNotValidated(t *testing.T) {
	def := &domain.FlowDef{Code: "f", Steps: []*domain.StepDef{
		{Code: "s", Workers: []*domain.WorkerDef{{Code: "w", Params: map[string]any{"$$raw": "not ( an expr"}}}},
	}}
	assert.NoError(t, Normalize(def))
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"order.flow.yaml":        {Data: []byte(orderFlow)},
		"nested/simple.flow.yml": {Data: []byte("code: simple\nsteps:\n  - code: one\n    workers:\n      - code: w\n")},
		"nested/dup.flow.yaml":   {Data: []byte("code: order\nsteps:\n  - code: one\n    workers:\n      - code: w\n")},
		"broken.flow.yaml":       {Data: []byte("code: [")},
		"invalid.flow.yaml":      {Data: []byte("code: bad\nsteps: []\n")},
		"README.md":              {Data: []byte("# flows")},
		"other/not-a-flow.yaml":  {Data: []byte("code: ignored")},
	}

	defs, skipped, err := LoadFS(fsys)
	require.NoError(t, err)

	require.Len(t, defs, 2)
	assert.Equal(t, "order", defs[0].Code)
	assert.Equal(t, "simple", defs[1].Code)
	assert.Len(t, skipped, 3)
}

func TestStore(t *testing.T) {
	s := NewStore(Config{})

	var notified int
	s.Subscribe(func(defs []*domain.FlowDef) { notified = len(defs) })

	require.NoError(t, s.Put(&domain.FlowDef{Code: "b", Steps: []*domain.StepDef{{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}}}}}))
	require.NoError(t, s.Put(&domain.FlowDef{Code: "a", Steps: []*domain.StepDef{{Code: "s", Workers: []*domain.WorkerDef{{Code: "w"}}}}}))
	assert.Equal(t, 2, notified)

	def, err := s.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "a", def.Code)

	_, err = s.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownCaseType)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Code)

	s.Replace(nil)
	assert.Empty(t, s.List())
	assert.Equal(t, 0, notified)
}

func TestStore_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "order.flow.yaml", orderFlow)

	s := NewStore(Config{Dir: dir})
	require.NoError(t, s.Load())

	_, err := s.Resolve("order")
	assert.NoError(t, err)
}
