package engine

import (
	"sort"
	"strings"
)

// Script вычисляет выражения воркеров над корнем контекста одного тика.
//
// Корень собирается через Scope. Все методы возвращают Result:
// Waiting и Failed — сигналы для вызывающего, error — ошибка выражения.
type Script struct {
	ev *evaluator
}

// NewScript создаёт Script над корнем root.
func NewScript(root map[string]any) *Script {
	if root == nil {
		root = map[string]any{}
	}
	return &Script{ev: &evaluator{root: root}}
}

// Expr вычисляет выражение и материализует результат.
// Пустое выражение даёт nil.
func (s *Script) Expr(expr string) (Result, error) {
	if expr == "" {
		return ReadyResult(nil), nil
	}
	n, err := compile(expr)
	if err != nil {
		return Result{}, err
	}
	return s.ev.value(n)
}

// Where вычисляет условие воркера. Результат приводится к bool
// по правилу Truthy. Пустое условие истинно.
func (s *Script) Where(expr string) (Result, error) {
	if expr == "" {
		return ReadyResult(true), nil
	}
	r, err := s.Expr(expr)
	if err != nil || !r.IsReady() {
		return r, err
	}
	return ReadyResult(Truthy(r.Value)), nil
}

// StringMap вычисляет карту заголовков.
//
// Ключ "$name" означает, что значение — выражение, результат
// приводится к строке и кладётся под ключом "name"; nil пропускается.
// Ключ "$$name" даёт литеральный ключ "$name" без вычисления.
// Остальные пары копируются как есть.
func (s *Script) StringMap(m map[string]string) (Result, error) {
	if len(m) == 0 {
		return ReadyResult(map[string]string(nil)), nil
	}
	out := make(map[string]string, len(m))
	for _, k := range sortedKeys(m) {
		v := m[k]
		if strings.HasPrefix(k, "$$") {
			out[k[1:]] = v
			continue
		}
		if !strings.HasPrefix(k, "$") {
			out[k] = v
			continue
		}
		r, err := s.Expr(v)
		if err != nil || !r.IsReady() {
			return r, err
		}
		if r.Value != nil {
			out[k[1:]] = Stringify(r.Value)
		}
	}
	return ReadyResult(out), nil
}

// Template вычисляет шаблон параметров.
//
// Правила ключей:
//   - "$$name" — литеральный ключ "$name", значение не вычисляется;
//   - "$name" со строковым значением — значение вычисляется и кладётся под "name";
//   - вложенные объекты и списки обрабатываются рекурсивно;
//   - литеральные nil пропускаются.
//
// Объект верхнего уровня с единственным ключом "." заменяется своим значением.
func (s *Script) Template(tpl map[string]any) (Result, error) {
	if len(tpl) == 0 {
		return ReadyResult(nil), nil
	}
	r, err := s.templateMap(tpl)
	if err != nil || !r.IsReady() {
		return r, err
	}
	out := Materialize(r.Value)
	if !out.IsReady() {
		return out, nil
	}
	if m, ok := out.Value.(map[string]any); ok && len(m) == 1 {
		if v, ok := m["."]; ok {
			return ReadyResult(v), nil
		}
	}
	return out, nil
}

func (s *Script) templateMap(tpl map[string]any) (Result, error) {
	out := make(map[string]any, len(tpl))
	for _, k := range sortedKeys(tpl) {
		v := tpl[k]
		if strings.HasPrefix(k, "$$") {
			out[k[1:]] = v
			continue
		}
		if expr, ok := v.(string); ok && strings.HasPrefix(k, "$") {
			n, err := compile(expr)
			if err != nil {
				return Result{}, err
			}
			r, err := n.eval(s.ev)
			if err != nil || !r.IsReady() {
				return r, err
			}
			out[k[1:]] = r.Value
			continue
		}
		if v == nil {
			continue
		}
		r, err := s.templateValue(v)
		if err != nil || !r.IsReady() {
			return r, err
		}
		out[k] = r.Value
	}
	return ReadyResult(out), nil
}

func (s *Script) templateValue(v any) (Result, error) {
	switch x := v.(type) {
	case map[string]any:
		return s.templateMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			r, err := s.templateValue(item)
			if err != nil || !r.IsReady() {
				return r, err
			}
			out[i] = r.Value
		}
		return ReadyResult(out), nil
	}
	return ReadyResult(v), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
