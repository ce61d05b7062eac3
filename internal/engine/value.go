package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/shaiso/flowcase/internal/domain"
)

// entryState — состояние task в дереве контекста.
type entryState int

const (
	entryPending entryState = iota
	entryFailed
	entryDone
)

// Entry — результат task в дереве контекста.
//
// Незавершённый task при обращении даёт Waiting, завершённый
// с ошибкой даёт Failed. Ответ хранится как сырой JSON и
// разбирается gjson только по мере обращения к полям.
type Entry struct {
	Worker string
	Code   int
	state  entryState
	raw    json.RawMessage
}

// NewEntry создаёт запись дерева для task.
func NewEntry(t *domain.Task) *Entry {
	e := &Entry{Worker: t.Worker, Code: t.ResponseCode}
	switch {
	case !t.IsFinished():
		e.state = entryPending
	case t.Failed():
		e.state = entryFailed
	default:
		e.state = entryDone
		e.raw = t.Response
	}
	return e
}

// resolve превращает запись в значение или сигнал.
func (e *Entry) resolve() Result {
	switch e.state {
	case entryPending:
		return WaitingResult(e.Worker)
	case entryFailed:
		return FailedResult(fmt.Sprintf("error %s %d", e.Worker, e.Code))
	}
	if len(e.raw) == 0 {
		return ReadyResult(nil)
	}
	return ReadyResult(normalize(gjson.ParseBytes(e.raw)))
}

// item возвращает элемент index ответа-списка, если ответ — непустой список.
func (e *Entry) item(index int) (any, bool) {
	if e.state != entryDone || len(e.raw) == 0 {
		return nil, false
	}
	r := gjson.ParseBytes(e.raw)
	if !r.IsArray() {
		return nil, false
	}
	items := r.Array()
	if index < 0 || index >= len(items) {
		return nil, false
	}
	return normalize(items[index]), true
}

// String для логов.
func (e *Entry) String() string {
	switch e.state {
	case entryPending:
		return "pending(" + e.Worker + ")"
	case entryFailed:
		return fmt.Sprintf("failed(%s %d)", e.Worker, e.Code)
	}
	return string(e.raw)
}

// normalize приводит скаляры gjson к значениям Go.
// Объекты и массивы остаются gjson.Result и разбираются лениво.
func normalize(v any) any {
	r, ok := v.(gjson.Result)
	if !ok {
		return v
	}
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num
	case gjson.String:
		return r.Str
	}
	if !r.Exists() {
		return nil
	}
	return r
}

// resolveValue раскрывает Entry и нормализует значение.
func resolveValue(v any) Result {
	if e, ok := v.(*Entry); ok {
		return e.resolve()
	}
	return ReadyResult(normalize(v))
}

// child возвращает поле или элемент значения v.
// Обращение к полю null даёт null, отсутствующий ключ — null.
func child(v any, key any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil

	case map[string]any:
		return x[keyString(key)], nil

	case map[string]string:
		s, ok := x[keyString(key)]
		if !ok {
			return nil, nil
		}
		return s, nil

	case []any:
		idx, ok := keyIndex(key)
		if !ok {
			return nil, evalErrorf("list index %v is not a number", key)
		}
		if idx < 0 || idx >= len(x) {
			return nil, nil
		}
		return x[idx], nil

	case gjson.Result:
		if x.IsArray() {
			idx, ok := keyIndex(key)
			if !ok {
				return nil, evalErrorf("list index %v is not a number", key)
			}
			items := x.Array()
			if idx < 0 || idx >= len(items) {
				return nil, nil
			}
			return items[idx], nil
		}
		name := keyString(key)
		var found any
		x.ForEach(func(k, val gjson.Result) bool {
			if k.Str == name {
				found = val
				return false
			}
			return true
		})
		return found, nil
	}
	return nil, evalErrorf("cannot access %v of %T", key, v)
}

func keyString(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	}
	return fmt.Sprint(key)
}

func keyIndex(key any) (int, bool) {
	switch k := key.(type) {
	case float64:
		return int(k), true
	case string:
		i, err := strconv.Atoi(k)
		return i, err == nil
	}
	if f, ok := toFloat(key); ok {
		return int(f), true
	}
	return 0, false
}

// Materialize превращает значение дерева в обычные значения Go
// (nil, bool, float64, string, []any, map[string]any).
//
// Если внутри значения остались записи незавершённых или
// ошибочных tasks, возвращается Waiting или Failed.
// Failed имеет приоритет: task всё равно не сможет выполниться.
func Materialize(v any) Result {
	var waiting, failed *Result
	out := materialize(v, &waiting, &failed)
	if failed != nil {
		return *failed
	}
	if waiting != nil {
		return *waiting
	}
	return ReadyResult(out)
}

func materialize(v any, waiting, failed **Result) any {
	switch x := v.(type) {
	case *Entry:
		r := x.resolve()
		switch r.Kind {
		case Waiting:
			if *waiting == nil {
				*waiting = &r
			}
			return nil
		case Failed:
			if *failed == nil {
				*failed = &r
			}
			return nil
		}
		return materialize(r.Value, waiting, failed)

	case gjson.Result:
		if !x.Exists() {
			return nil
		}
		return x.Value()

	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(x))
		for _, k := range keys {
			out[k] = materialize(x[k], waiting, failed)
		}
		return out

	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = materialize(item, waiting, failed)
		}
		return out
	}
	return v
}

// Truthy — правило истинности: bool как есть, число != 0,
// непустые строка, список и объект, иначе не nil.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	case map[string]string:
		return len(x) > 0
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// equal сравнивает материализованные значения.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	if okA != okB {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// Stringify превращает значение в строку: строки как есть,
// числа без лишних нулей, списки и объекты — JSON, nil — "".
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
