package engine

import "fmt"

// Kind — вид результата вычисления.
type Kind int

const (
	// Ready — значение вычислено.
	Ready Kind = iota

	// Waiting — выражение ссылается на незавершённый task.
	Waiting

	// Failed — выражение ссылается на task, завершившийся ошибкой.
	Failed
)

// String возвращает имя вида результата.
func (k Kind) String() string {
	switch k {
	case Ready:
		return "ready"
	case Waiting:
		return "waiting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result — результат вычисления выражения.
//
// Waiting и Failed — не ошибки, а ожидаемые сигналы управления:
// вызывающий откладывает task (Waiting) или завершает его с
// ошибкой Reason (Failed). Структурные ошибки выражения
// возвращаются отдельно как error.
type Result struct {
	Kind   Kind
	Value  any
	Reason string
}

// ReadyResult создаёт готовый результат.
func ReadyResult(v any) Result {
	return Result{Kind: Ready, Value: v}
}

// WaitingResult создаёт сигнал ожидания task воркера worker.
func WaitingResult(worker string) Result {
	return Result{Kind: Waiting, Reason: "waiting " + worker}
}

// FailedResult создаёт сигнал ошибки с причиной reason.
func FailedResult(reason string) Result {
	return Result{Kind: Failed, Reason: reason}
}

// IsReady возвращает true, если значение вычислено.
func (r Result) IsReady() bool {
	return r.Kind == Ready
}

// String для логов.
func (r Result) String() string {
	if r.Kind == Ready {
		return fmt.Sprintf("ready(%v)", r.Value)
	}
	return r.Kind.String() + "(" + r.Reason + ")"
}
