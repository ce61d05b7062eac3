package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// evaluator вычисляет разобранные выражения над корнем контекста.
type evaluator struct {
	root map[string]any
}

// builtin — встроенная функция выражений.
type builtin func(ev *evaluator, args []node) (Result, error)

// builtins — встроенные функции: len(x), str(x), fail(msg).
var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"len":  builtinLen,
		"str":  builtinStr,
		"fail": builtinFail,
	}
}

func (n *literalNode) eval(_ *evaluator) (Result, error) {
	return ReadyResult(n.value), nil
}

func (n *identNode) eval(ev *evaluator) (Result, error) {
	return resolveValue(ev.root[n.name]), nil
}

func (n *fieldNode) eval(ev *evaluator) (Result, error) {
	r, err := n.x.eval(ev)
	if err != nil || !r.IsReady() {
		return r, err
	}
	v, err := child(r.Value, n.name)
	if err != nil {
		return Result{}, err
	}
	return resolveValue(v), nil
}

func (n *indexNode) eval(ev *evaluator) (Result, error) {
	r, err := n.x.eval(ev)
	if err != nil || !r.IsReady() {
		return r, err
	}
	idx, err := ev.value(n.index)
	if err != nil || !idx.IsReady() {
		return idx, err
	}
	v, err := child(r.Value, idx.Value)
	if err != nil {
		return Result{}, err
	}
	return resolveValue(v), nil
}

func (n *unaryNode) eval(ev *evaluator) (Result, error) {
	r, err := ev.value(n.x)
	if err != nil || !r.IsReady() {
		return r, err
	}
	switch n.op {
	case "!":
		return ReadyResult(!Truthy(r.Value)), nil
	case "-":
		f, ok := toFloat(r.Value)
		if !ok {
			return Result{}, evalErrorf("cannot negate %T", r.Value)
		}
		return ReadyResult(-f), nil
	}
	return Result{}, evalErrorf("unknown operator %s", n.op)
}

func (n *binaryNode) eval(ev *evaluator) (Result, error) {
	l, err := ev.value(n.l)
	if err != nil || !l.IsReady() {
		return l, err
	}

	switch n.op {
	case "&&":
		if !Truthy(l.Value) {
			return ReadyResult(false), nil
		}
		r, err := ev.value(n.r)
		if err != nil || !r.IsReady() {
			return r, err
		}
		return ReadyResult(Truthy(r.Value)), nil
	case "||":
		if Truthy(l.Value) {
			return ReadyResult(true), nil
		}
		r, err := ev.value(n.r)
		if err != nil || !r.IsReady() {
			return r, err
		}
		return ReadyResult(Truthy(r.Value)), nil
	}

	r, err := ev.value(n.r)
	if err != nil || !r.IsReady() {
		return r, err
	}
	a, b := l.Value, r.Value

	switch n.op {
	case "==":
		return ReadyResult(equal(a, b)), nil
	case "!=":
		return ReadyResult(!equal(a, b)), nil
	case "+":
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if okA && okB {
			return ReadyResult(fa + fb), nil
		}
		_, strA := a.(string)
		_, strB := b.(string)
		if strA || strB {
			return ReadyResult(Stringify(a) + Stringify(b)), nil
		}
		return Result{}, evalErrorf("cannot add %T and %T", a, b)
	case "-":
		fa, okA := toFloat(a)
		fb, okB := toFloat(b)
		if !okA || !okB {
			return Result{}, evalErrorf("cannot subtract %T and %T", a, b)
		}
		return ReadyResult(fa - fb), nil
	case "<", "<=", ">", ">=":
		c, err := compare(a, b)
		if err != nil {
			return Result{}, err
		}
		switch n.op {
		case "<":
			return ReadyResult(c < 0), nil
		case "<=":
			return ReadyResult(c <= 0), nil
		case ">":
			return ReadyResult(c > 0), nil
		default:
			return ReadyResult(c >= 0), nil
		}
	}
	return Result{}, evalErrorf("unknown operator %s", n.op)
}

func (n *callNode) eval(ev *evaluator) (Result, error) {
	return builtins[n.name](ev, n.args)
}

// value вычисляет узел и материализует результат.
func (ev *evaluator) value(n node) (Result, error) {
	r, err := n.eval(ev)
	if err != nil || !r.IsReady() {
		return r, err
	}
	return Materialize(r.Value), nil
}

func compare(a, b any) (int, error) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		}
		return 0, nil
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), nil
	}
	return 0, evalErrorf("cannot compare %T and %T", a, b)
}

func builtinLen(ev *evaluator, args []node) (Result, error) {
	if len(args) != 1 {
		return Result{}, evalErrorf("len expects 1 argument, got %d", len(args))
	}
	r, err := args[0].eval(ev)
	if err != nil || !r.IsReady() {
		return r, err
	}
	switch x := r.Value.(type) {
	case nil:
		return ReadyResult(float64(0)), nil
	case string:
		return ReadyResult(float64(utf8.RuneCountInString(x))), nil
	case []any:
		return ReadyResult(float64(len(x))), nil
	case map[string]any:
		return ReadyResult(float64(len(x))), nil
	case gjson.Result:
		if x.IsArray() {
			return ReadyResult(float64(len(x.Array()))), nil
		}
		return ReadyResult(float64(len(x.Map()))), nil
	}
	return Result{}, evalErrorf("len of %T", r.Value)
}

func builtinStr(ev *evaluator, args []node) (Result, error) {
	if len(args) != 1 {
		return Result{}, evalErrorf("str expects 1 argument, got %d", len(args))
	}
	r, err := ev.value(args[0])
	if err != nil || !r.IsReady() {
		return r, err
	}
	return ReadyResult(Stringify(r.Value)), nil
}

// builtinFail завершает task с причиной msg. Причина вида "NNN:text"
// задаёт HTTP-код завершения.
func builtinFail(ev *evaluator, args []node) (Result, error) {
	if len(args) != 1 {
		return Result{}, evalErrorf("fail expects 1 argument, got %d", len(args))
	}
	r, err := ev.value(args[0])
	if err != nil || !r.IsReady() {
		return r, err
	}
	return FailedResult(Stringify(r.Value)), nil
}
