package engine

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/shaiso/flowcase/internal/domain"
)

// StepTree строит дерево результатов: код шага → код воркера → запись.
//
// Для шагов с itemsExpr значение воркера — список записей по stepIndex,
// итератор хранится одной записью.
func StepTree(def *domain.FlowDef, tasks []*domain.Task) map[string]any {
	steps := make(map[string]any)
	for _, t := range tasks {
		stepMap, _ := steps[t.Step].(map[string]any)
		if stepMap == nil {
			stepMap = make(map[string]any)
			steps[t.Step] = stepMap
		}
		entry := NewEntry(t)

		stepDef := def.Step(t.Step)
		if t.Worker == domain.WorkerIterator || stepDef == nil || !stepDef.IsIterator() {
			stepMap[t.Worker] = entry
			continue
		}
		list, _ := stepMap[t.Worker].([]any)
		for len(list) < t.StepIndex+1 {
			list = append(list, nil)
		}
		list[t.StepIndex] = entry
		stepMap[t.Worker] = list
	}
	return steps
}

// Scope собирает корень контекста для шага step и индекса stepIndex.
//
// Корень содержит "case", "step" и записи воркеров текущего шага
// на индексе stepIndex. Для итератора в корне лежит текущий элемент
// его списка.
func Scope(c *domain.Case, steps map[string]any, step string, stepIndex int) map[string]any {
	root := map[string]any{
		"case": CaseValue(c),
		"step": steps,
	}
	stepMap, _ := steps[step].(map[string]any)
	for worker, v := range stepMap {
		switch x := v.(type) {
		case *Entry:
			if worker == domain.WorkerIterator {
				if item, ok := x.item(stepIndex); ok {
					root[worker] = item
					continue
				}
			}
			root[worker] = x
		case []any:
			if stepIndex >= 0 && stepIndex < len(x) {
				root[worker] = x[stepIndex]
			}
		}
	}
	return root
}

// CaseValue представляет case в дереве контекста.
func CaseValue(c *domain.Case) map[string]any {
	assets := make([]any, len(c.Assets))
	for i, a := range c.Assets {
		assets[i] = map[string]any{"id": a.ID, "extName": a.ExtName}
	}
	var params any
	if len(c.Params) > 0 {
		params = normalize(gjson.ParseBytes(c.Params))
	}
	return map[string]any{
		"id":         c.ID.String(),
		"caseType":   c.CaseType,
		"externalId": c.ExternalID,
		"params":     params,
		"assets":     assets,
		"created":    c.Created.UTC().Format(time.RFC3339),
	}
}
